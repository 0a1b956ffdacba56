package cdp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// Execution actions reported by the flow executor.
const (
	ActionSentEmail = "sent_email"
	ActionWaited    = "waited"
	ActionCompleted = "completed"
	ActionExited    = "exited"
	ActionNoop      = "noop"
)

const (
	defaultMaxSteps      = 500
	defaultEventWaitDays = 3
)

// ExecutionResult describes where one executor call stopped.
type ExecutionResult struct {
	FlowID     string     `json:"flowId"`
	Action     string     `json:"action"`
	StepIndex  int        `json:"stepIndex"`
	EmailsSent int        `json:"emailsSent"`
	NextStepAt *time.Time `json:"nextStepAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type stepOutcome int

const (
	stepContinue stepOutcome = iota
	stepSuspend
	stepTerminate
)

// ExecutorConfig holds sender settings for flow emails.
type ExecutorConfig struct {
	FromAddress string
	FromName    string
	// MaxSteps bounds the steps interpreted in one call, guarding against
	// branch loops. Zero uses the default.
	MaxSteps int
}

// FlowExecutor advances enrollments through their flow's steps.
type FlowExecutor struct {
	store    Store
	mailer   Mailer
	renderer Renderer
	cfg      ExecutorConfig
	now      func() time.Time
}

// NewFlowExecutor creates a flow executor.
func NewFlowExecutor(store Store, mailer Mailer, renderer Renderer, cfg ExecutorConfig, now func() time.Time) *FlowExecutor {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if now == nil {
		now = time.Now
	}
	return &FlowExecutor{store: store, mailer: mailer, renderer: renderer, cfg: cfg, now: now}
}

// Resume continues an enrollment from its stored cursor.
func (e *FlowExecutor) Resume(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow) (*ExecutionResult, error) {
	enr := a.Enrollment(flow.ID)
	if enr == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotEnrolled, flow.ID)
	}
	return e.ExecuteStep(ctx, a, flow, enr.CurrentStep)
}

// ExecuteStep interprets flow steps for one applicant starting at
// stepIndex and keeps going until a delay, a wait, an exit, a send failure
// or the end of the flow. Non-active enrollments are left untouched.
// The applicant is updated in place as steps mutate it.
func (e *FlowExecutor) ExecuteStep(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow, stepIndex int) (*ExecutionResult, error) {
	enr := a.Enrollment(flow.ID)
	if enr == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotEnrolled, flow.ID)
	}
	res := &ExecutionResult{FlowID: flow.ID, StepIndex: stepIndex}
	if enr.Status != domain.EnrollmentActive {
		res.Action = ActionNoop
		return res, nil
	}

	idx := stepIndex
	for n := 0; ; n++ {
		if n >= e.cfg.MaxSteps {
			return res, fmt.Errorf("%w: flow %s after %d steps", ErrStepLimit, flow.ID, n)
		}
		if idx < 0 {
			idx = 0
		}
		res.StepIndex = idx

		if flow.Settings.ExitOnUnsubscribe && a.Unsubscribed() {
			res.Action = ActionExited
			return res, e.exit(ctx, a, flow, enr)
		}
		if idx >= len(flow.Steps) {
			res.Action = ActionCompleted
			return res, e.complete(ctx, a, flow, enr)
		}

		outcome, next, err := e.runStep(ctx, a, flow, enr, idx, res)
		if err != nil {
			if res.Error == "" {
				res.Error = err.Error()
			}
			return res, err
		}
		if outcome != stepContinue {
			return res, nil
		}
		idx = next
	}
}

func (e *FlowExecutor) runStep(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow, enr *domain.FlowEnrollment, idx int, res *ExecutionResult) (stepOutcome, int, error) {
	step := &flow.Steps[idx]
	switch step.Type {
	case domain.StepEmail:
		return e.runEmailStep(ctx, a, flow, enr, idx, step, res)
	case domain.StepWait:
		return e.runWaitStep(ctx, a, enr, idx, step, res)
	case domain.StepBranch:
		return e.runBranchStep(ctx, a, flow, enr, idx, step, res)
	case domain.StepTag:
		return e.runTagStep(ctx, a, enr, idx, step)
	case domain.StepUpdateStatus:
		return e.runUpdateStatusStep(ctx, a, enr, idx, step)
	default:
		logger.Warn("unknown flow step type, skipping", "flow_id", flow.ID, "step", idx, "type", step.Type)
		return e.advance(ctx, a, enr, idx+1)
	}
}

// =============================================================================
// STEP HANDLERS
// =============================================================================

func (e *FlowExecutor) runEmailStep(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow, enr *domain.FlowEnrollment, idx int, step *domain.Step, res *ExecutionResult) (stepOutcome, int, error) {
	now := e.now()
	if at, waiting := schedule(enr, idx, step.Delay.Duration(), now); waiting {
		return e.suspend(ctx, a, enr, idx, at, res)
	}

	if !sendConditionMet(a, step.SendCondition) {
		logger.Debug("send condition not met, skipping email", "flow_id", flow.ID, "step", idx, "applicant_id", a.ID)
		return e.advance(ctx, a, enr, idx+1)
	}

	res.Action = ActionSentEmail
	if e.cfg.FromAddress == "" {
		e.markRetry(ctx, a, enr, idx, now)
		return stepTerminate, idx, ErrNoSender
	}
	if step.Template == nil || step.Template.Ref == "" {
		e.markRetry(ctx, a, enr, idx, now)
		return stepTerminate, idx, fmt.Errorf("step %d: %w", idx, ErrTemplateNotFound)
	}
	tpl, err := e.store.GetTemplate(ctx, step.Template.Ref)
	if err != nil {
		e.markRetry(ctx, a, enr, idx, now)
		return stepTerminate, idx, fmt.Errorf("step %d: %w", idx, err)
	}
	rendered, err := e.renderer.Render(tpl, Personalization(a))
	if err != nil {
		e.markRetry(ctx, a, enr, idx, now)
		return stepTerminate, idx, fmt.Errorf("render template %s: %w", tpl.ID, err)
	}

	msgID, err := e.mailer.Send(ctx, domain.OutboundEmail{
		From:    e.fromAddress(tpl),
		To:      a.Email,
		ReplyTo: tpl.ReplyTo,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Tags: []domain.EmailTag{
			{Name: "flow_id", Value: flow.ID},
			{Name: "flow_step", Value: strconv.Itoa(idx)},
		},
	})
	if err != nil {
		logger.Error("flow email send failed", "flow_id", flow.ID, "step", idx, "email", a.Email, "error", err)
		e.markRetry(ctx, a, enr, idx, now)
		return stepTerminate, idx, fmt.Errorf("send step %d: %w", idx, err)
	}

	// The email is out. Bookkeeping failures are logged rather than
	// returned so a retry can never send it twice.
	stepIdx := idx
	event := &domain.EmailEvent{
		Applicant:  domain.Reference{Type: "reference", Ref: a.ID},
		EventType:  domain.EventSent,
		Template:   &domain.Reference{Type: "reference", Ref: tpl.ID},
		Flow:       &domain.Reference{Type: "reference", Ref: flow.ID},
		FlowStep:   &stepIdx,
		ResendID:   msgID,
		Subject:    rendered.Subject,
		OccurredAt: now,
	}
	if err := e.store.CreateEvent(ctx, event); err != nil {
		logger.Error("failed to record sent event", "flow_id", flow.ID, "applicant_id", a.ID, "error", err)
	}
	if err := e.store.RecordEmailSent(ctx, a.ID, now); err != nil {
		logger.Error("failed to increment applicant emailsSent", "applicant_id", a.ID, "error", err)
	}
	if err := e.store.IncrementStats(ctx, flow.ID, map[string]int{domain.StatEmailsSent: 1}); err != nil {
		logger.Error("failed to increment flow emailsSent", "flow_id", flow.ID, "error", err)
	}
	a.EmailEngagement.EmailsSent++
	sentAt := now
	a.EmailEngagement.LastEmailSentAt = &sentAt
	res.EmailsSent++

	logger.Info("flow email sent", "flow_id", flow.ID, "step", idx, "email", a.Email, "message_id", msgID)
	return e.advance(ctx, a, enr, idx+1)
}

func (e *FlowExecutor) runWaitStep(ctx context.Context, a *domain.DraftApplicant, enr *domain.FlowEnrollment, idx int, step *domain.Step, res *ExecutionResult) (stepOutcome, int, error) {
	var d time.Duration
	if step.WaitType == domain.WaitEvent {
		// Event waits are not observed; they always run to maxWait.
		days := step.MaxWait
		if days <= 0 {
			days = defaultEventWaitDays
		}
		d = time.Duration(days) * 24 * time.Hour
	} else {
		d = step.Duration.Duration()
	}

	if at, waiting := schedule(enr, idx, d, e.now()); waiting {
		return e.suspend(ctx, a, enr, idx, at, res)
	}
	return e.advance(ctx, a, enr, idx+1)
}

func (e *FlowExecutor) runBranchStep(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow, enr *domain.FlowEnrollment, idx int, step *domain.Step, res *ExecutionResult) (stepOutcome, int, error) {
	action, target := step.IfFalseAction, step.IfFalseSkipTo
	if evaluateBranch(a, step.Condition) {
		action, target = step.IfTrueAction, step.IfTrueSkipTo
	}

	switch action {
	case domain.BranchExit:
		res.Action = ActionExited
		return stepTerminate, idx, e.exit(ctx, a, flow, enr)
	case domain.BranchSkip:
		next := idx + 1
		if target != nil {
			next = *target
		}
		return e.advance(ctx, a, enr, next)
	default:
		return e.advance(ctx, a, enr, idx+1)
	}
}

func (e *FlowExecutor) runTagStep(ctx context.Context, a *domain.DraftApplicant, enr *domain.FlowEnrollment, idx int, step *domain.Step) (stepOutcome, int, error) {
	if step.Tag != "" {
		var tags []string
		if step.TagAction == domain.TagRemove {
			for _, t := range a.Tags {
				if t != step.Tag {
					tags = append(tags, t)
				}
			}
		} else {
			tags = append(tags, a.Tags...)
			if !containsString(tags, step.Tag) {
				tags = append(tags, step.Tag)
			}
		}
		if err := e.store.SetTags(ctx, a.ID, tags); err != nil {
			return stepTerminate, idx, err
		}
		a.Tags = tags
	}
	return e.advance(ctx, a, enr, idx+1)
}

func (e *FlowExecutor) runUpdateStatusStep(ctx context.Context, a *domain.DraftApplicant, enr *domain.FlowEnrollment, idx int, step *domain.Step) (stepOutcome, int, error) {
	if step.NewStatus != "" {
		status := domain.ApplicantStatus(step.NewStatus)
		if err := e.store.SetStatus(ctx, a.ID, status); err != nil {
			return stepTerminate, idx, err
		}
		a.Status = status
	}
	return e.advance(ctx, a, enr, idx+1)
}

// =============================================================================
// ENROLLMENT STATE
// =============================================================================

// schedule decides whether a delayed step at idx must wait. A step whose
// resume time was already stored is due once that time has passed;
// otherwise the delay is measured from now.
func schedule(enr *domain.FlowEnrollment, idx int, delay time.Duration, now time.Time) (time.Time, bool) {
	if enr.CurrentStep == idx && enr.NextStepAt != nil {
		if now.Before(*enr.NextStepAt) {
			return *enr.NextStepAt, true
		}
		return time.Time{}, false
	}
	if delay <= 0 {
		return time.Time{}, false
	}
	return now.Add(delay), true
}

func (e *FlowExecutor) suspend(ctx context.Context, a *domain.DraftApplicant, enr *domain.FlowEnrollment, idx int, at time.Time, res *ExecutionResult) (stepOutcome, int, error) {
	enr.CurrentStep = idx
	enr.NextStepAt = &at
	if err := e.store.SetEnrollments(ctx, a.ID, a.FlowEnrollments); err != nil {
		return stepTerminate, idx, err
	}
	res.Action = ActionWaited
	res.NextStepAt = &at
	return stepSuspend, idx, nil
}

func (e *FlowExecutor) advance(ctx context.Context, a *domain.DraftApplicant, enr *domain.FlowEnrollment, next int) (stepOutcome, int, error) {
	enr.CurrentStep = next
	enr.NextStepAt = nil
	if err := e.store.SetEnrollments(ctx, a.ID, a.FlowEnrollments); err != nil {
		return stepTerminate, next, err
	}
	return stepContinue, next, nil
}

// markRetry leaves the cursor on a failed email step with an elapsed
// resume time, so the next pending sweep picks it up again.
func (e *FlowExecutor) markRetry(ctx context.Context, a *domain.DraftApplicant, enr *domain.FlowEnrollment, idx int, now time.Time) {
	if enr.NextStepAt != nil && enr.CurrentStep == idx {
		return
	}
	enr.CurrentStep = idx
	t := now
	enr.NextStepAt = &t
	if err := e.store.SetEnrollments(ctx, a.ID, a.FlowEnrollments); err != nil {
		logger.Error("failed to schedule email retry", "applicant_id", a.ID, "error", err)
	}
}

func (e *FlowExecutor) complete(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow, enr *domain.FlowEnrollment) error {
	now := e.now()
	enr.Status = domain.EnrollmentCompleted
	enr.CurrentStep = len(flow.Steps)
	enr.NextStepAt = nil
	enr.CompletedAt = &now
	if err := e.store.SetEnrollments(ctx, a.ID, a.FlowEnrollments); err != nil {
		return err
	}
	logger.Info("flow completed", "flow_id", flow.ID, "applicant_id", a.ID)
	return e.store.IncrementStats(ctx, flow.ID, map[string]int{
		domain.StatCurrentlyActive: -1,
		domain.StatCompleted:       1,
	})
}

func (e *FlowExecutor) exit(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow, enr *domain.FlowEnrollment) error {
	now := e.now()
	enr.Status = domain.EnrollmentExited
	enr.NextStepAt = nil
	enr.ExitedAt = &now
	if err := e.store.SetEnrollments(ctx, a.ID, a.FlowEnrollments); err != nil {
		return err
	}
	logger.Info("flow exited", "flow_id", flow.ID, "applicant_id", a.ID, "step", enr.CurrentStep)
	return e.store.IncrementStats(ctx, flow.ID, map[string]int{
		domain.StatCurrentlyActive: -1,
		domain.StatExited:          1,
	})
}

// =============================================================================
// CONDITIONS
// =============================================================================

func sendConditionMet(a *domain.DraftApplicant, c *domain.SendCondition) bool {
	if c == nil {
		return true
	}
	switch c.Type {
	case domain.SendIfStatus:
		return string(a.Status) == c.Value
	case domain.SendIfOpenedBefore:
		return a.EmailEngagement.EmailsOpened > 0
	case domain.SendIfClickedBefore:
		return a.EmailEngagement.EmailsClicked > 0
	case domain.SendIfInSegment:
		id := c.Value
		if c.Segment != nil {
			id = c.Segment.Ref
		}
		return a.InSegment(id)
	}
	return true
}

func evaluateBranch(a *domain.DraftApplicant, c *domain.BranchCondition) bool {
	if c == nil {
		return false
	}
	var value any
	switch c.Field {
	case domain.BranchFieldStatus:
		value = string(a.Status)
	case domain.BranchFieldOpenedEmail:
		value = a.EmailEngagement.EmailsOpened > 0
	case domain.BranchFieldClickedEmail:
		value = a.EmailEngagement.EmailsClicked > 0
	case domain.BranchFieldInSegment:
		if c.Segment != nil {
			value = a.InSegment(c.Segment.Ref)
		} else {
			// Compare the value against the list of segment ids.
			value = domain.RefIDs(a.Segments)
		}
	case domain.BranchFieldPreferredPositions:
		value = a.Field(domain.BranchFieldPreferredPositions)
	default:
		value = a.Field(c.Field)
	}
	return applyOperator(value, c.Operator, c.Value)
}

// Personalization builds the template variables for an applicant.
func Personalization(a *domain.DraftApplicant) map[string]any {
	submitted := ""
	if a.SubmittedAt != nil {
		submitted = a.SubmittedAt.Format("January 2, 2006")
	}
	return map[string]any{
		"email":       a.Email,
		"firstName":   a.FirstName,
		"lastName":    a.LastName,
		"position":    a.Position,
		"city":        a.City,
		"status":      string(a.Status),
		"submittedAt": submitted,
	}
}

func (e *FlowExecutor) fromAddress(tpl *domain.EmailTemplate) string {
	name := e.cfg.FromName
	if tpl.FromName != "" {
		name = tpl.FromName
	}
	if name == "" {
		return e.cfg.FromAddress
	}
	return fmt.Sprintf("%s <%s>", name, e.cfg.FromAddress)
}
