package cdp_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/repository/documents"
	"github.com/ignite/recruit-cdp/internal/repository/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var baseTime = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	mem      *memory.Store
	repo     *documents.Repository
	mailer   *fakeMailer
	audience *fakeAudience
	svc      *cdp.Service
	now      time.Time
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		mem:      memory.New(),
		mailer:   &fakeMailer{},
		audience: newFakeAudience(),
		now:      baseTime,
	}
	env.repo = documents.NewRepository(env.mem)
	env.svc = cdp.New(cdp.Deps{
		Store:    env.repo,
		Audience: env.audience,
		Mailer:   env.mailer,
		Renderer: fakeRenderer{},
		Executor: cdp.ExecutorConfig{FromAddress: "tryouts@league.test", FromName: "League Recruiting"},
		Now:      func() time.Time { return env.now },
	})
	return env
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

func (env *testEnv) seed(t *testing.T, docs ...any) {
	t.Helper()
	for _, d := range docs {
		require.NoError(t, env.mem.Create(context.Background(), d))
	}
}

func (env *testEnv) applicant(t *testing.T, id string) *domain.DraftApplicant {
	t.Helper()
	a, err := env.repo.GetApplicant(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (env *testEnv) flow(t *testing.T, id string) *domain.EmailFlow {
	t.Helper()
	f, err := env.repo.GetFlow(context.Background(), id)
	require.NoError(t, err)
	return f
}

func (env *testEnv) segment(t *testing.T, id string) *domain.Segment {
	t.Helper()
	s, err := env.repo.GetSegment(context.Background(), id)
	require.NoError(t, err)
	return s
}

func newApplicant(id, email string, mutate ...func(*domain.DraftApplicant)) *domain.DraftApplicant {
	submitted := baseTime.Add(-48 * time.Hour)
	a := &domain.DraftApplicant{
		ID:          id,
		Type:        domain.DocTypeApplicant,
		Email:       email,
		FirstName:   id,
		Status:      domain.ApplicantNew,
		SubmittedAt: &submitted,
	}
	for _, m := range mutate {
		m(a)
	}
	return a
}

func newSegment(id, name string, match domain.MatchType, conds ...domain.Condition) *domain.Segment {
	return &domain.Segment{
		ID:          id,
		Type:        domain.DocTypeSegment,
		Name:        name,
		SegmentType: domain.SegmentRule,
		MatchType:   match,
		Conditions:  conds,
		TargetType:  domain.DocTypeApplicant,
		IsActive:    true,
	}
}

func cond(field string, op domain.Operator, value string) domain.Condition {
	return domain.Condition{Field: field, Operator: op, Value: value}
}

func newFlow(id string, trigger domain.TriggerType, steps ...domain.Step) *domain.EmailFlow {
	return &domain.EmailFlow{
		ID:       id,
		Type:     domain.DocTypeFlow,
		Name:     "Flow " + id,
		IsActive: true,
		Trigger:  domain.FlowTrigger{Type: trigger},
		Steps:    steps,
	}
}

func newTemplate(id string) *domain.EmailTemplate {
	return &domain.EmailTemplate{
		ID:      id,
		Type:    domain.DocTypeTemplate,
		Name:    "Template " + id,
		Subject: "Subject " + id,
		Body:    "<p>Hi {{ firstName }}</p>",
	}
}

func emailStep(templateID string, delay *domain.Delay) domain.Step {
	return domain.Step{
		Type:     domain.StepEmail,
		Template: &domain.Reference{Type: "reference", Ref: templateID},
		Delay:    delay,
	}
}

func intPtr(v int) *int { return &v }

// =============================================================================
// FAKES
// =============================================================================

type fakeMailer struct {
	mu   sync.Mutex
	sent []domain.OutboundEmail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg domain.OutboundEmail) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return fmt.Sprintf("msg-%d", len(m.sent)), nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeRenderer struct{}

func (fakeRenderer) Render(tpl *domain.EmailTemplate, vars map[string]any) (*domain.RenderedEmail, error) {
	if tpl.Body == "" {
		return nil, errors.New("empty body")
	}
	return &domain.RenderedEmail{
		Subject: tpl.Subject,
		HTML:    strings.ReplaceAll(tpl.Body, "{{ firstName }}", fmt.Sprint(vars["firstName"])),
	}, nil
}

type fakeAudience struct {
	mu        sync.Mutex
	audiences []domain.Audience
	contacts  map[string]map[string]domain.AudienceContact
	failAdd   map[string]bool
	failList  bool
	nextID    int
}

func newFakeAudience() *fakeAudience {
	return &fakeAudience{contacts: map[string]map[string]domain.AudienceContact{}, failAdd: map[string]bool{}}
}

func (f *fakeAudience) CreateAudience(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("aud-%d", f.nextID)
	f.audiences = append(f.audiences, domain.Audience{ID: id, Name: name})
	return id, nil
}

func (f *fakeAudience) ListAudiences(context.Context) ([]domain.Audience, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Audience{}, f.audiences...), nil
}

func (f *fakeAudience) CreateContact(_ context.Context, c domain.NewAudienceContact) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd[c.Email] {
		return "", false, errors.New("provider rejected contact")
	}
	list := f.list(c.AudienceID)
	if _, ok := list[c.Email]; ok {
		return "", true, nil
	}
	f.nextID++
	id := fmt.Sprintf("rc-%d", f.nextID)
	list[c.Email] = domain.AudienceContact{ID: id, Email: c.Email, FirstName: c.FirstName, LastName: c.LastName, Unsubscribed: c.Unsubscribed}
	return id, false, nil
}

func (f *fakeAudience) UpdateContact(_ context.Context, audienceID, email string, unsubscribed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.list(audienceID)
	c := list[email]
	c.Unsubscribed = unsubscribed
	list[email] = c
	return nil
}

func (f *fakeAudience) RemoveContact(_ context.Context, audienceID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.list(audienceID), email)
	return nil
}

func (f *fakeAudience) ListContacts(_ context.Context, audienceID string) ([]domain.AudienceContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, errors.New("provider unavailable")
	}
	var out []domain.AudienceContact
	for _, c := range f.list(audienceID) {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (f *fakeAudience) emails(audienceID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for e := range f.list(audienceID) {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (f *fakeAudience) list(audienceID string) map[string]domain.AudienceContact {
	l, ok := f.contacts[audienceID]
	if !ok {
		l = map[string]domain.AudienceContact{}
		f.contacts[audienceID] = l
	}
	return l
}
