package cdp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// IntakeResult reports what happened to one submission.
type IntakeResult struct {
	ApplicantID     string          `json:"applicantId"`
	Email           string          `json:"email"`
	Created         bool            `json:"created"`
	SegmentsAdded   []string        `json:"segmentsAdded,omitempty"`
	SegmentsRemoved []string        `json:"segmentsRemoved,omitempty"`
	Flows           []TriggerResult `json:"flows,omitempty"`
}

// BatchResult summarizes a batch intake.
type BatchResult struct {
	Total   int      `json:"total"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// Intake turns external form submissions into applicants and fires the
// flows that react to them.
type Intake struct {
	store    Store
	segments *SegmentEngine
	executor *FlowExecutor
	now      func() time.Time
}

// NewIntake creates the submission intake.
func NewIntake(store Store, segments *SegmentEngine, executor *FlowExecutor, now func() time.Time) *Intake {
	if now == nil {
		now = time.Now
	}
	return &Intake{store: store, segments: segments, executor: executor, now: now}
}

// SyncSubmission upserts the applicant for sub, matched by email first and
// then by source id. New applicants start in status new and enter
// new-submission flows. Segment changes caused by the submission fire
// segment entry and exit flows. Segment and flow failures are logged and
// do not fail the intake.
func (in *Intake) SyncSubmission(ctx context.Context, sub domain.Submission) (*IntakeResult, error) {
	sub.Email = domain.NormalizeEmail(sub.Email)
	if sub.Email == "" {
		return nil, ErrMissingEmail
	}

	a, err := in.store.FindApplicantByEmail(ctx, sub.Email)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", sub.Email, err)
	}
	if a == nil && sub.SourceID != "" {
		a, err = in.store.FindApplicantBySourceID(ctx, sub.SourceID)
		if err != nil {
			return nil, fmt.Errorf("lookup source %s: %w", sub.SourceID, err)
		}
	}

	created := a == nil
	if created {
		a = &domain.DraftApplicant{Email: sub.Email, Status: domain.ApplicantNew}
		sub.ApplyTo(a)
		if a.SubmittedAt == nil {
			now := in.now()
			a.SubmittedAt = &now
		}
		if err := in.store.CreateApplicant(ctx, a); err != nil {
			return nil, fmt.Errorf("create applicant: %w", err)
		}
		logger.Info("applicant created", "applicant_id", a.ID, "email", a.Email, "source", a.Source)
	} else {
		sub.ApplyTo(a)
		if domain.NormalizeEmail(a.Email) != sub.Email {
			// Matched by source id: the source now holds a new address.
			logger.Info("applicant email changed", "applicant_id", a.ID, "old_email", a.Email, "email", sub.Email)
			a.Email = sub.Email
		}
		if err := in.store.UpdateApplicantProfile(ctx, a); err != nil {
			return nil, fmt.Errorf("update applicant %s: %w", a.ID, err)
		}
		logger.Info("applicant updated", "applicant_id", a.ID, "email", a.Email)
	}

	res := &IntakeResult{ApplicantID: a.ID, Email: a.Email, Created: created}

	added, removed, err := in.segments.EvaluateForApplicant(ctx, a)
	if err != nil {
		logger.Error("applicant segment evaluation failed", "applicant_id", a.ID, "error", err)
	}
	res.SegmentsAdded = added
	res.SegmentsRemoved = removed

	if created {
		in.collect(res, "new submission", a)(in.executor.TriggerNewSubmission(ctx, a))
	}
	for _, id := range added {
		in.collect(res, "segment entry", a)(in.executor.TriggerSegmentEntry(ctx, a, id))
	}
	for _, id := range removed {
		in.collect(res, "segment exit", a)(in.executor.TriggerSegmentExit(ctx, a, id))
	}
	return res, nil
}

func (in *Intake) collect(res *IntakeResult, trigger string, a *domain.DraftApplicant) func([]TriggerResult, error) {
	return func(trs []TriggerResult, err error) {
		if err != nil {
			logger.Error("flow trigger failed", "trigger", trigger, "applicant_id", a.ID, "error", err)
		}
		res.Flows = append(res.Flows, trs...)
	}
}

// SubmissionSource lists submissions held by an external system.
type SubmissionSource interface {
	Submissions(ctx context.Context) ([]domain.Submission, error)
}

// SyncSource pulls every submission from src and syncs them as a batch.
func (in *Intake) SyncSource(ctx context.Context, src SubmissionSource) (*BatchResult, error) {
	subs, err := src.Submissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch submissions: %w", err)
	}
	return in.SyncBatch(ctx, subs)
}

// SyncBatch runs SyncSubmission for every record. A failing record is
// counted and reported without stopping the batch.
func (in *Intake) SyncBatch(ctx context.Context, subs []domain.Submission) (*BatchResult, error) {
	out := &BatchResult{Total: len(subs), Errors: []string{}}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := in.SyncSubmission(ctx, sub)
		if err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", sub.Email, err))
			continue
		}
		if res.Created {
			out.Created++
		} else {
			out.Updated++
		}
	}
	logger.Info("submission batch synced",
		"total", out.Total,
		"created", out.Created,
		"updated", out.Updated,
		"failed", out.Failed)
	return out, nil
}

// UpdateApplicantStatus moves an applicant to status and fires the
// status-change flows, then the entry and exit flows of segments the new
// status moved it into or out of. Setting the current status again is a
// no-op.
func (in *Intake) UpdateApplicantStatus(ctx context.Context, applicantID string, status domain.ApplicantStatus) ([]TriggerResult, error) {
	if status == "" {
		return nil, errors.New("status is required")
	}
	a, err := in.store.GetApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	old := a.Status
	if old == status {
		return nil, nil
	}
	if err := in.store.SetStatus(ctx, a.ID, status); err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	a.Status = status
	logger.Info("applicant status changed", "applicant_id", a.ID, "from", old, "to", status)

	added, removed, err := in.segments.EvaluateForApplicant(ctx, a)
	if err != nil {
		logger.Error("applicant segment evaluation failed", "applicant_id", a.ID, "error", err)
	}

	results, statusErr := in.executor.TriggerStatusChange(ctx, a, old, status)

	// The new segment list is already stored, so entry and exit flows fire
	// here or never.
	res := &IntakeResult{Flows: results}
	for _, id := range added {
		in.collect(res, "segment entry", a)(in.executor.TriggerSegmentEntry(ctx, a, id))
	}
	for _, id := range removed {
		in.collect(res, "segment exit", a)(in.executor.TriggerSegmentExit(ctx, a, id))
	}
	return res.Flows, statusErr
}
