package cdp_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/domain"
)

func boundSegment(id, audienceID string) *domain.Segment {
	seg := newSegment(id, "Segment "+id, domain.MatchAll, cond("email", domain.OpNotEmpty, ""))
	seg.ResendSync = domain.ResendSync{Enabled: true, AudienceID: audienceID}
	return seg
}

func member(id, email, segmentID string) *domain.DraftApplicant {
	return newApplicant(id, email, func(a *domain.DraftApplicant) {
		a.Segments = []domain.Reference{domain.NewReference(segmentID)}
	})
}

func TestSyncSegment_Reconciles(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t,
		boundSegment("seg-1", "aud-1"),
		member("a", "a@example.com", "seg-1"),
		member("b", "B@Example.com", "seg-1"),
	)
	_, _, err := env.audience.CreateContact(ctx, domain.NewAudienceContact{AudienceID: "aud-1", Email: "b@example.com"})
	require.NoError(t, err)
	_, _, err = env.audience.CreateContact(ctx, domain.NewAudienceContact{AudienceID: "aud-1", Email: "c@example.com"})
	require.NoError(t, err)

	res, err := env.svc.Audience.SyncSegment(ctx, "seg-1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"a@example.com"}, res.Added)
	assert.Equal(t, []string{"c@example.com"}, res.Removed)
	assert.Empty(t, res.Updated)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, env.audience.emails("aud-1"))

	assert.NotEmpty(t, env.applicant(t, "a").ResendContactID)
	seg := env.segment(t, "seg-1")
	require.NotNil(t, seg.ResendSync.LastSyncedAt)
	assert.True(t, seg.ResendSync.LastSyncedAt.Equal(baseTime))
}

func TestSyncSegment_UpdatesOptOutDrift(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t,
		boundSegment("seg-1", "aud-1"),
		newApplicant("a", "a@example.com", func(a *domain.DraftApplicant) {
			a.Segments = []domain.Reference{domain.NewReference("seg-1")}
			a.EmailEngagement.Unsubscribed = true
		}),
	)
	_, _, err := env.audience.CreateContact(ctx, domain.NewAudienceContact{AudienceID: "aud-1", Email: "a@example.com"})
	require.NoError(t, err)

	res, err := env.svc.Audience.SyncSegment(ctx, "seg-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, res.Updated)

	contacts, err := env.audience.ListContacts(ctx, "aud-1")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.True(t, contacts[0].Unsubscribed)
}

func TestSyncSegment_PartialFailure(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t,
		boundSegment("seg-1", "aud-1"),
		member("a", "a@example.com", "seg-1"),
		member("b", "b@example.com", "seg-1"),
	)
	env.audience.failAdd["a@example.com"] = true

	res, err := env.svc.Audience.SyncSegment(ctx, "seg-1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, []string{"b@example.com"}, res.Added)
	assert.NotNil(t, env.segment(t, "seg-1").ResendSync.LastSyncedAt, "partial success still stamps the sync time")
}

func TestSyncSegment_Errors(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t, newSegment("seg-unbound", "Unbound", domain.MatchAll), boundSegment("seg-1", "aud-1"))

	_, err := env.svc.Audience.SyncSegment(ctx, "seg-unbound")
	assert.True(t, errors.Is(err, cdp.ErrNoAudience))

	_, err = env.svc.Audience.SyncSegment(ctx, "missing")
	assert.True(t, errors.Is(err, cdp.ErrSegmentNotFound))

	env.audience.failList = true
	_, err = env.svc.Audience.SyncSegment(ctx, "seg-1")
	assert.Error(t, err)
	assert.Nil(t, env.segment(t, "seg-1").ResendSync.LastSyncedAt)
}

func TestSyncAll(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	disabled := boundSegment("seg-off", "aud-off")
	disabled.ResendSync.Enabled = false
	env.seed(t,
		boundSegment("seg-1", "aud-1"),
		boundSegment("seg-2", "aud-2"),
		disabled,
		member("a", "a@example.com", "seg-1"),
		member("b", "b@example.com", "seg-2"),
	)
	env.audience.failAdd["b@example.com"] = true

	summary, err := env.svc.Audience.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Synced)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, summary.Results, 2)
	assert.Empty(t, env.audience.emails("aud-off"))
}

func TestProvisionAudience(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t,
		newSegment("seg-1", "Goalkeepers", domain.MatchAll),
		newSegment("seg-2", "Strikers", domain.MatchAll),
	)
	existing, err := env.audience.CreateAudience(ctx, "strikers")
	require.NoError(t, err)

	id, err := env.svc.Audience.ProvisionAudience(ctx, "seg-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	seg := env.segment(t, "seg-1")
	assert.Equal(t, id, seg.ResendSync.AudienceID)
	assert.True(t, seg.ResendSync.Enabled)

	again, err := env.svc.Audience.ProvisionAudience(ctx, "seg-1")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	reused, err := env.svc.Audience.ProvisionAudience(ctx, "seg-2")
	require.NoError(t, err)
	assert.Equal(t, existing, reused)
}

func TestHandleUnsubscribe(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t,
		newApplicant("a", "pia@example.com"),
		&domain.NewsletterSubscriber{ID: "s", Type: domain.DocTypeSubscriber, Email: "Pia@Example.com"},
	)

	n, err := env.svc.Audience.HandleUnsubscribe(ctx, " PIA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, env.applicant(t, "a").Unsubscribed())

	_, err = env.svc.Audience.HandleUnsubscribe(ctx, "nobody@example.com")
	assert.True(t, errors.Is(err, cdp.ErrContactNotFound))

	_, err = env.svc.Audience.HandleUnsubscribe(ctx, "")
	assert.True(t, errors.Is(err, cdp.ErrMissingEmail))
}
