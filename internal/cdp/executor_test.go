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

// enrolled seeds an applicant with an active enrollment at step in flow.
func enrolled(id, flowID string, step int, mutate ...func(*domain.DraftApplicant)) *domain.DraftApplicant {
	a := newApplicant(id, id+"@example.com", mutate...)
	a.FlowEnrollments = append(a.FlowEnrollments, domain.FlowEnrollment{
		Key:         flowID,
		Flow:        domain.Reference{Type: "reference", Ref: flowID},
		EnrolledAt:  baseTime,
		CurrentStep: step,
		Status:      domain.EnrollmentActive,
	})
	return a
}

func TestExecuteStep_CompletesAfterLastStep(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual,
		emailStep("t1", nil),
		emailStep("t2", nil),
	)
	env.seed(t, flow, newTemplate("t1"), newTemplate("t2"), enrolled("a1", "f1", 0))

	a := env.applicant(t, "a1")
	res, err := env.svc.Flows.ExecuteStep(ctx, a, flow, 0)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionCompleted, res.Action)
	assert.Equal(t, 2, res.EmailsSent)
	assert.Equal(t, 2, env.mailer.count())

	stored := env.applicant(t, "a1")
	enr := stored.Enrollment("f1")
	require.NotNil(t, enr)
	assert.Equal(t, domain.EnrollmentCompleted, enr.Status)
	assert.Equal(t, 2, enr.CurrentStep)
	assert.NotNil(t, enr.CompletedAt)
	assert.Equal(t, 2, stored.EmailEngagement.EmailsSent)

	f := env.flow(t, "f1")
	assert.Equal(t, 2, f.Stats.EmailsSent)
	assert.Equal(t, 1, f.Stats.Completed)
	assert.Equal(t, -1, f.Stats.CurrentlyActive, "seeded enrollment was never counted as active")

	events, err := env.repo.ListEvents(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventSent, events[0].EventType)
	require.NotNil(t, events[1].FlowStep)
	assert.Equal(t, 1, *events[1].FlowStep)
}

func TestExecuteStep_SendsPersonalizedEmail(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	tpl := newTemplate("t1")
	tpl.ReplyTo = "coach@league.test"
	flow := newFlow("f1", domain.TriggerManual, emailStep("t1", nil))
	env.seed(t, flow, tpl, enrolled("pia", "f1", 0))

	_, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "pia"), flow, 0)
	require.NoError(t, err)

	require.Len(t, env.mailer.sent, 1)
	msg := env.mailer.sent[0]
	assert.Equal(t, "pia@example.com", msg.To)
	assert.Equal(t, "League Recruiting <tryouts@league.test>", msg.From)
	assert.Equal(t, "coach@league.test", msg.ReplyTo)
	assert.Equal(t, "<p>Hi pia</p>", msg.HTML)
	assert.Contains(t, msg.Tags, domain.EmailTag{Name: "flow_id", Value: "f1"})
}

func TestExecuteStep_DelaySuspendsThenResumes(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual,
		emailStep("t1", &domain.Delay{Value: 2, Unit: domain.UnitDays}),
	)
	env.seed(t, flow, newTemplate("t1"), enrolled("a1", "f1", 0))

	res, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionWaited, res.Action)
	require.NotNil(t, res.NextStepAt)
	assert.True(t, res.NextStepAt.Equal(baseTime.Add(48*time.Hour)))
	assert.Zero(t, env.mailer.count())

	enr := env.applicant(t, "a1").Enrollment("f1")
	assert.Equal(t, 0, enr.CurrentStep)
	require.NotNil(t, enr.NextStepAt)

	// Running again before the resume time keeps waiting without moving it.
	env.advance(24 * time.Hour)
	res, err = env.svc.Flows.Resume(ctx, env.applicant(t, "a1"), flow)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionWaited, res.Action)
	assert.True(t, res.NextStepAt.Equal(baseTime.Add(48*time.Hour)))

	env.advance(25 * time.Hour)
	res, err = env.svc.Flows.Resume(ctx, env.applicant(t, "a1"), flow)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionCompleted, res.Action)
	assert.Equal(t, 1, env.mailer.count())
}

func TestExecuteStep_WaitStep(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual,
		domain.Step{Type: domain.StepWait, WaitType: domain.WaitDuration, Duration: &domain.Delay{Value: 3, Unit: domain.UnitHours}},
		emailStep("t1", nil),
	)
	env.seed(t, flow, newTemplate("t1"), enrolled("a1", "f1", 0))

	res, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionWaited, res.Action)
	assert.True(t, res.NextStepAt.Equal(baseTime.Add(3*time.Hour)))

	env.advance(3*time.Hour + time.Second)
	res, err = env.svc.Flows.Resume(ctx, env.applicant(t, "a1"), flow)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionCompleted, res.Action)
	assert.Equal(t, 1, res.EmailsSent)
}

func TestExecuteStep_EventWaitUsesMaxWait(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual,
		domain.Step{Type: domain.StepWait, WaitType: domain.WaitEvent, WaitForEvent: "opened", MaxWait: 5},
	)
	env.seed(t, flow, enrolled("a1", "f1", 0))

	res, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.NoError(t, err)
	assert.True(t, res.NextStepAt.Equal(baseTime.Add(5*24*time.Hour)))
}

func TestExecuteStep_BranchExit(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual,
		domain.Step{
			Type:          domain.StepBranch,
			Condition:     &domain.BranchCondition{Field: domain.BranchFieldStatus, Operator: domain.OpEquals, Value: "withdrawn"},
			IfTrueAction:  domain.BranchExit,
			IfFalseAction: domain.BranchContinue,
		},
		emailStep("t1", nil),
	)
	env.seed(t, flow, newTemplate("t1"),
		enrolled("a1", "f1", 0, func(a *domain.DraftApplicant) { a.Status = domain.ApplicantWithdrawn }))

	res, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionExited, res.Action)
	assert.Zero(t, env.mailer.count())

	a := env.applicant(t, "a1")
	enr := a.Enrollment("f1")
	assert.Equal(t, domain.EnrollmentExited, enr.Status)
	assert.NotNil(t, enr.ExitedAt)
	assert.Equal(t, 1, env.flow(t, "f1").Stats.Exited)

	// Exited enrollments are inert.
	res, err = env.svc.Flows.ExecuteStep(ctx, a, flow, 1)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionNoop, res.Action)
	assert.Zero(t, env.mailer.count())
}

func TestExecuteStep_BranchSkip(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual,
		domain.Step{
			Type:          domain.StepBranch,
			Condition:     &domain.BranchCondition{Field: domain.BranchFieldOpenedEmail, Operator: domain.OpIsTrue},
			IfTrueAction:  domain.BranchContinue,
			IfFalseAction: domain.BranchSkip,
			IfFalseSkipTo: intPtr(2),
		},
		emailStep("t-opened", nil),
		emailStep("t-reminder", nil),
	)
	env.seed(t, flow, newTemplate("t-opened"), newTemplate("t-reminder"), enrolled("a1", "f1", 0))

	res, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionCompleted, res.Action)
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "Subject t-reminder", env.mailer.sent[0].Subject)
}

func TestExecuteStep_TagAndStatusSteps(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual,
		domain.Step{Type: domain.StepTag, TagAction: domain.TagAdd, Tag: "invited-2026"},
		domain.Step{Type: domain.StepTag, TagAction: domain.TagAdd, Tag: "invited-2026"},
		domain.Step{Type: domain.StepTag, TagAction: domain.TagRemove, Tag: "cold"},
		domain.Step{Type: domain.StepUpdateStatus, NewStatus: string(domain.ApplicantInvited)},
	)
	env.seed(t, flow, enrolled("a1", "f1", 0, func(a *domain.DraftApplicant) { a.Tags = []string{"cold", "u17"} }))

	res, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionCompleted, res.Action)

	a := env.applicant(t, "a1")
	assert.Equal(t, []string{"u17", "invited-2026"}, a.Tags)
	assert.Equal(t, domain.ApplicantInvited, a.Status)
}

func TestExecuteStep_SendConditions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	gated := emailStep("t1", nil)
	gated.SendCondition = &domain.SendCondition{Type: domain.SendIfStatus, Value: "invited"}
	segGated := emailStep("t2", nil)
	segGated.SendCondition = &domain.SendCondition{Type: domain.SendIfInSegment, Segment: &domain.Reference{Ref: "seg-1"}}
	flow := newFlow("f1", domain.TriggerManual, gated, segGated)
	env.seed(t, flow, newTemplate("t1"), newTemplate("t2"),
		enrolled("a1", "f1", 0, func(a *domain.DraftApplicant) {
			a.Segments = []domain.Reference{domain.NewReference("seg-1")}
		}))

	res, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionCompleted, res.Action)
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "Subject t2", env.mailer.sent[0].Subject)
}

func TestExecuteStep_SendFailureIsRetried(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual, emailStep("t1", nil))
	env.seed(t, flow, newTemplate("t1"), enrolled("a1", "f1", 0))
	env.mailer.err = errors.New("provider down")

	_, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.Error(t, err)

	enr := env.applicant(t, "a1").Enrollment("f1")
	assert.Equal(t, domain.EnrollmentActive, enr.Status)
	assert.Equal(t, 0, enr.CurrentStep)
	require.NotNil(t, enr.NextStepAt, "failed sends stay due for the next sweep")

	env.mailer.err = nil
	env.advance(time.Minute)
	report, err := env.svc.Pending.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EmailsSent)
	assert.Equal(t, domain.EnrollmentCompleted, env.applicant(t, "a1").Enrollment("f1").Status)
}

func TestExecuteStep_MissingTemplate(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual, emailStep("nope", nil))
	env.seed(t, flow, enrolled("a1", "f1", 0))

	_, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	assert.True(t, errors.Is(err, cdp.ErrTemplateNotFound))
	assert.Zero(t, env.mailer.count())
}

func TestExecuteStep_ExitsOnUnsubscribe(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual, emailStep("t1", nil))
	flow.Settings.ExitOnUnsubscribe = true
	env.seed(t, flow, newTemplate("t1"),
		enrolled("a1", "f1", 0, func(a *domain.DraftApplicant) { a.EmailEngagement.Unsubscribed = true }))

	res, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	require.NoError(t, err)
	assert.Equal(t, cdp.ActionExited, res.Action)
	assert.Zero(t, env.mailer.count())
}

func TestExecuteStep_StepLimit(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	flow := newFlow("f1", domain.TriggerManual,
		domain.Step{
			Type:          domain.StepBranch,
			IfFalseAction: domain.BranchSkip,
			IfFalseSkipTo: intPtr(0),
		},
	)
	env.seed(t, flow, enrolled("a1", "f1", 0))

	_, err := env.svc.Flows.ExecuteStep(ctx, env.applicant(t, "a1"), flow, 0)
	assert.True(t, errors.Is(err, cdp.ErrStepLimit))
}

func TestExecuteStep_NotEnrolled(t *testing.T) {
	env := setupEnv(t)
	flow := newFlow("f1", domain.TriggerManual, emailStep("t1", nil))
	env.seed(t, flow, newApplicant("a1", "a1@example.com"))

	_, err := env.svc.Flows.ExecuteStep(context.Background(), env.applicant(t, "a1"), flow, 0)
	assert.True(t, errors.Is(err, cdp.ErrNotEnrolled))
}
