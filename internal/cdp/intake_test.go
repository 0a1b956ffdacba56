package cdp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/domain"
)

func TestSyncSubmission_NewApplicantEndToEnd(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	entry := newFlow("f-gk", domain.TriggerSegmentEntry, emailStep("t-gk", nil))
	entry.Trigger.Segment = &domain.Reference{Ref: "seg-gk"}
	env.seed(t,
		newFlow("f-welcome", domain.TriggerNewSubmission,
			emailStep("t-welcome", nil),
			emailStep("t-followup", &domain.Delay{Value: 3, Unit: domain.UnitDays})),
		entry,
		newSegment("seg-gk", "Goalkeepers", domain.MatchAll, cond("preferredPositions", domain.OpContains, "GK")),
		newTemplate("t-welcome"),
		newTemplate("t-followup"),
		newTemplate("t-gk"),
	)

	res, err := env.svc.Intake.SyncSubmission(ctx, domain.Submission{
		Email:              "  Pia.Keeper@Example.com ",
		FirstName:          "Pia",
		PreferredPositions: []string{"GK"},
		Source:             domain.SourceTypeform,
		SourceID:           "tf-123",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "pia.keeper@example.com", res.Email)
	assert.Equal(t, []string{"seg-gk"}, res.SegmentsAdded)
	assert.Len(t, res.Flows, 2)

	a := env.applicant(t, res.ApplicantID)
	assert.Equal(t, domain.ApplicantNew, a.Status)
	require.NotNil(t, a.SubmittedAt)
	assert.True(t, a.SubmittedAt.Equal(baseTime))
	assert.True(t, a.InSegment("seg-gk"))

	welcome := a.Enrollment("f-welcome")
	require.NotNil(t, welcome)
	assert.Equal(t, domain.EnrollmentActive, welcome.Status)
	assert.Equal(t, 1, welcome.CurrentStep)
	require.NotNil(t, welcome.NextStepAt)
	assert.True(t, welcome.NextStepAt.Equal(baseTime.Add(72*time.Hour)))

	assert.Equal(t, domain.EnrollmentCompleted, a.Enrollment("f-gk").Status)
	assert.Equal(t, 2, env.mailer.count())
	assert.Equal(t, 2, a.EmailEngagement.EmailsSent)

	// Three days later the scanner sends the follow-up.
	env.advance(72*time.Hour + time.Minute)
	report, err := env.svc.Pending.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EmailsSent)
	assert.Equal(t, domain.EnrollmentCompleted, env.applicant(t, res.ApplicantID).Enrollment("f-welcome").Status)
}

func TestSyncSubmission_UpdatesExisting(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t,
		newFlow("f-welcome", domain.TriggerNewSubmission, emailStep("t1", nil)),
		newTemplate("t1"),
		newApplicant("a1", "pia@example.com", func(a *domain.DraftApplicant) {
			a.City = "Denver"
			a.SourceID = "sp-9"
		}),
	)

	res, err := env.svc.Intake.SyncSubmission(ctx, domain.Submission{Email: "PIA@example.com", Position: "GK"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "a1", res.ApplicantID)
	assert.Zero(t, env.mailer.count(), "existing applicants do not re-enter new-submission flows")

	a := env.applicant(t, "a1")
	assert.Equal(t, "GK", a.Position)
	assert.Equal(t, "Denver", a.City, "blank fields never overwrite stored ones")

	// Matched by source id when the email changed.
	res, err = env.svc.Intake.SyncSubmission(ctx, domain.Submission{Email: "pia.new@example.com", SourceID: "sp-9"})
	require.NoError(t, err)
	assert.Equal(t, "a1", res.ApplicantID)
}

func TestSyncSubmission_SourceMatchAdoptsNewEmail(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t, newApplicant("a1", "old@example.com", func(a *domain.DraftApplicant) {
		a.SourceID = "tf-1"
	}))

	res, err := env.svc.Intake.SyncSubmission(ctx, domain.Submission{Email: " New@Example.com", SourceID: "tf-1"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "a1", res.ApplicantID)
	assert.Equal(t, "new@example.com", res.Email)
	assert.Equal(t, "new@example.com", env.applicant(t, "a1").Email)

	found, err := env.repo.FindApplicantByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "a1", found.ID)
}

func TestSyncSubmission_RequiresEmail(t *testing.T) {
	env := setupEnv(t)
	_, err := env.svc.Intake.SyncSubmission(context.Background(), domain.Submission{Email: "   "})
	assert.True(t, errors.Is(err, cdp.ErrMissingEmail))
}

func TestSyncBatch_PartialFailure(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t, newApplicant("a1", "known@example.com"))

	out, err := env.svc.Intake.SyncBatch(ctx, []domain.Submission{
		{Email: "fresh@example.com"},
		{Email: ""},
		{Email: "known@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], cdp.ErrMissingEmail.Error())
}

type sourceFunc func(ctx context.Context) ([]domain.Submission, error)

func (f sourceFunc) Submissions(ctx context.Context) ([]domain.Submission, error) { return f(ctx) }

func TestSyncSource(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	out, err := env.svc.Intake.SyncSource(ctx, sourceFunc(func(context.Context) ([]domain.Submission, error) {
		return []domain.Submission{
			{Email: "one@example.com", Source: domain.SourceSharePoint, SourceID: "1"},
			{Email: "two@example.com", Source: domain.SourceSharePoint, SourceID: "2"},
		}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Created)

	_, err = env.svc.Intake.SyncSource(ctx, sourceFunc(func(context.Context) ([]domain.Submission, error) {
		return nil, errors.New("graph unavailable")
	}))
	assert.ErrorContains(t, err, "graph unavailable")
}

func TestUpdateApplicantStatus(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	env.seed(t,
		statusFlow("f-invited", "new", "invited", emailStep("t1", nil)),
		newTemplate("t1"),
		newApplicant("a1", "a1@example.com"),
	)

	results, err := env.svc.Intake.UpdateApplicantStatus(ctx, "a1", domain.ApplicantInvited)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Enrolled)
	assert.Equal(t, domain.ApplicantInvited, env.applicant(t, "a1").Status)

	results, err = env.svc.Intake.UpdateApplicantStatus(ctx, "a1", domain.ApplicantInvited)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, env.mailer.count())

	_, err = env.svc.Intake.UpdateApplicantStatus(ctx, "ghost", domain.ApplicantInvited)
	assert.True(t, errors.Is(err, cdp.ErrContactNotFound))
}

func TestUpdateApplicantStatus_FiresSegmentEntryAndExit(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	entry := newFlow("f-invited-entry", domain.TriggerSegmentEntry, emailStep("t-entry", nil))
	entry.Trigger.Segment = &domain.Reference{Ref: "seg-inv"}
	exit := newFlow("f-new-exit", domain.TriggerSegmentExit, emailStep("t-exit", nil))
	exit.Trigger.Segment = &domain.Reference{Ref: "seg-new"}
	env.seed(t,
		newSegment("seg-inv", "Invited", domain.MatchAll, cond("status", domain.OpEquals, "invited")),
		newSegment("seg-new", "New", domain.MatchAll, cond("status", domain.OpEquals, "new")),
		entry, exit,
		newTemplate("t-entry"),
		newTemplate("t-exit"),
		newApplicant("a1", "a1@example.com", func(a *domain.DraftApplicant) {
			a.Segments = []domain.Reference{domain.NewReference("seg-new")}
		}),
	)

	results, err := env.svc.Intake.UpdateApplicantStatus(ctx, "a1", domain.ApplicantInvited)
	require.NoError(t, err)

	var flowIDs []string
	for _, r := range results {
		flowIDs = append(flowIDs, r.FlowID)
	}
	assert.ElementsMatch(t, []string{"f-invited-entry", "f-new-exit"}, flowIDs)

	a := env.applicant(t, "a1")
	assert.True(t, a.InSegment("seg-inv"))
	assert.False(t, a.InSegment("seg-new"))
	require.NotNil(t, a.Enrollment("f-invited-entry"))
	require.NotNil(t, a.Enrollment("f-new-exit"))
	assert.Equal(t, 2, env.mailer.count())
}
