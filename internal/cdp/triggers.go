package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// TriggerResult reports what a trigger did for one matching flow.
type TriggerResult struct {
	FlowID   string           `json:"flowId"`
	FlowName string           `json:"flowName"`
	Enrolled bool             `json:"enrolled"`
	Skipped  string           `json:"skipped,omitempty"`
	Result   *ExecutionResult `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// TriggerNewSubmission enrolls a freshly created applicant into every
// active new-submission flow and runs each from its first step.
func (e *FlowExecutor) TriggerNewSubmission(ctx context.Context, a *domain.DraftApplicant) ([]TriggerResult, error) {
	flows, err := e.store.ListActiveFlows(ctx, domain.TriggerNewSubmission)
	if err != nil {
		return nil, fmt.Errorf("list new-submission flows: %w", err)
	}
	out := make([]TriggerResult, 0, len(flows))
	for i := range flows {
		out = append(out, e.enrollAndRun(ctx, a, &flows[i]))
	}
	return out, nil
}

// TriggerStatusChange reacts to an applicant moving from oldStatus to
// newStatus. Active enrollments in flows that exit on newStatus are ended
// first, then matching status-change flows are entered subject to their
// re-enrollment settings.
func (e *FlowExecutor) TriggerStatusChange(ctx context.Context, a *domain.DraftApplicant, oldStatus, newStatus domain.ApplicantStatus) ([]TriggerResult, error) {
	var out []TriggerResult

	active := make([]string, 0, len(a.FlowEnrollments))
	for _, enr := range a.FlowEnrollments {
		if enr.Status == domain.EnrollmentActive {
			active = append(active, enr.Flow.Ref)
		}
	}
	for _, flowID := range active {
		flow, err := e.store.GetFlow(ctx, flowID)
		if err != nil {
			logger.Warn("status change: flow lookup failed", "flow_id", flowID, "error", err)
			continue
		}
		if !flow.ExitsOnStatus(string(newStatus)) {
			continue
		}
		tr := TriggerResult{FlowID: flow.ID, FlowName: flow.Name, Skipped: "exited on status change"}
		if err := e.exit(ctx, a, flow, a.Enrollment(flow.ID)); err != nil {
			tr.Error = err.Error()
		}
		out = append(out, tr)
	}

	flows, err := e.store.ListActiveFlows(ctx, domain.TriggerStatusChange)
	if err != nil {
		return out, fmt.Errorf("list status-change flows: %w", err)
	}
	for i := range flows {
		flow := &flows[i]
		t := flow.Trigger
		if t.FromStatus != "" && t.FromStatus != string(oldStatus) {
			continue
		}
		if t.ToStatus != "" && t.ToStatus != string(newStatus) {
			continue
		}
		if flow.ExitsOnStatus(string(newStatus)) {
			continue
		}
		if reason := e.reenrollmentBlocked(a, flow); reason != "" {
			out = append(out, TriggerResult{FlowID: flow.ID, FlowName: flow.Name, Skipped: reason})
			continue
		}
		out = append(out, e.enrollAndRun(ctx, a, flow))
	}
	return out, nil
}

// TriggerSegmentEntry enrolls the applicant into active flows triggered by
// entering segmentID.
func (e *FlowExecutor) TriggerSegmentEntry(ctx context.Context, a *domain.DraftApplicant, segmentID string) ([]TriggerResult, error) {
	return e.triggerSegment(ctx, a, domain.TriggerSegmentEntry, segmentID)
}

// TriggerSegmentExit enrolls the applicant into active flows triggered by
// leaving segmentID.
func (e *FlowExecutor) TriggerSegmentExit(ctx context.Context, a *domain.DraftApplicant, segmentID string) ([]TriggerResult, error) {
	return e.triggerSegment(ctx, a, domain.TriggerSegmentExit, segmentID)
}

func (e *FlowExecutor) triggerSegment(ctx context.Context, a *domain.DraftApplicant, trigger domain.TriggerType, segmentID string) ([]TriggerResult, error) {
	flows, err := e.store.ListActiveFlows(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("list %s flows: %w", trigger, err)
	}
	var out []TriggerResult
	for i := range flows {
		flow := &flows[i]
		if flow.Trigger.Segment == nil || flow.Trigger.Segment.Ref != segmentID {
			continue
		}
		out = append(out, e.enrollAndRun(ctx, a, flow))
	}
	return out, nil
}

// EnrollManually enrolls one applicant into one flow on request.
func (e *FlowExecutor) EnrollManually(ctx context.Context, applicantID, flowID string) (*TriggerResult, error) {
	a, err := e.store.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	flow, err := e.store.GetFlow(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if !flow.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrFlowInactive, flow.Name)
	}
	if reason := e.reenrollmentBlocked(a, flow); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEnrolled, reason)
	}
	tr := e.enrollAndRun(ctx, a, flow)
	return &tr, nil
}

// reenrollmentBlocked returns a reason when an earlier enrollment in flow
// prevents enrolling again, or "" when enrollment may proceed.
func (e *FlowExecutor) reenrollmentBlocked(a *domain.DraftApplicant, flow *domain.EmailFlow) string {
	enr := a.Enrollment(flow.ID)
	if enr == nil {
		return ""
	}
	if !flow.Settings.AllowReenrollment {
		return "already enrolled"
	}
	if days := flow.Settings.ReenrollmentDelay; days > 0 {
		if e.now().Before(enr.EnrolledAt.Add(time.Duration(days) * 24 * time.Hour)) {
			return "re-enrollment delay not elapsed"
		}
	}
	return ""
}

func (e *FlowExecutor) enrollAndRun(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow) TriggerResult {
	tr := TriggerResult{FlowID: flow.ID, FlowName: flow.Name}
	if err := e.enroll(ctx, a, flow); err != nil {
		logger.Error("flow enrollment failed", "flow_id", flow.ID, "applicant_id", a.ID, "error", err)
		tr.Error = err.Error()
		return tr
	}
	tr.Enrolled = true

	res, err := e.ExecuteStep(ctx, a, flow, 0)
	tr.Result = res
	if err != nil {
		logger.Error("flow execution failed", "flow_id", flow.ID, "applicant_id", a.ID, "error", err)
		tr.Error = err.Error()
	}
	return tr
}

// enroll places the applicant at step 0 of flow. An existing slot for the
// same flow is reset rather than duplicated.
func (e *FlowExecutor) enroll(ctx context.Context, a *domain.DraftApplicant, flow *domain.EmailFlow) error {
	wasActive := false
	enr := a.Enrollment(flow.ID)
	if enr == nil {
		a.FlowEnrollments = append(a.FlowEnrollments, domain.FlowEnrollment{
			Key:  flow.ID,
			Flow: domain.Reference{Type: "reference", Ref: flow.ID},
		})
		enr = &a.FlowEnrollments[len(a.FlowEnrollments)-1]
	} else {
		wasActive = enr.Status == domain.EnrollmentActive
	}

	enr.EnrolledAt = e.now()
	enr.CurrentStep = 0
	enr.Status = domain.EnrollmentActive
	enr.NextStepAt = nil
	enr.CompletedAt = nil
	enr.ExitedAt = nil
	if err := e.store.SetEnrollments(ctx, a.ID, a.FlowEnrollments); err != nil {
		return fmt.Errorf("store enrollment: %w", err)
	}

	deltas := map[string]int{domain.StatTotalEnrolled: 1}
	if !wasActive {
		deltas[domain.StatCurrentlyActive] = 1
	}
	if err := e.store.IncrementStats(ctx, flow.ID, deltas); err != nil {
		return fmt.Errorf("update flow stats: %w", err)
	}
	logger.Info("applicant enrolled", "flow_id", flow.ID, "applicant_id", a.ID)
	return nil
}
