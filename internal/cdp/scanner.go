package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// PendingReport summarizes one pending-step sweep.
type PendingReport struct {
	Processed  int      `json:"processed"`
	EmailsSent int      `json:"emailsSent"`
	Errors     []string `json:"errors"`
}

// PendingScanner resumes enrollments whose scheduled step has come due.
type PendingScanner struct {
	store    Store
	executor *FlowExecutor
	now      func() time.Time
}

// NewPendingScanner creates a pending-step scanner.
func NewPendingScanner(store Store, executor *FlowExecutor, now func() time.Time) *PendingScanner {
	if now == nil {
		now = time.Now
	}
	return &PendingScanner{store: store, executor: executor, now: now}
}

// ProcessPending resumes every active enrollment whose nextStepAt is
// before now. Enrollments in inactive or missing flows are skipped.
// Per-enrollment failures are collected and the sweep continues.
func (s *PendingScanner) ProcessPending(ctx context.Context) (*PendingReport, error) {
	now := s.now()
	applicants, err := s.store.ListPendingApplicants(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list pending applicants: %w", err)
	}

	report := &PendingReport{Errors: []string{}}
	for i := range applicants {
		a := &applicants[i]

		var due []string
		for _, enr := range a.FlowEnrollments {
			if enr.Due(now) {
				due = append(due, enr.Flow.Ref)
			}
		}

		for _, flowID := range due {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			flow, err := s.store.GetFlow(ctx, flowID)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %v", a.ID, flowID, err))
				continue
			}
			if !flow.IsActive {
				continue
			}

			report.Processed++
			res, err := s.executor.Resume(ctx, a, flow)
			if res != nil {
				report.EmailsSent += res.EmailsSent
			}
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %v", a.ID, flowID, err))
			}
		}
	}

	logger.Info("pending flow steps processed",
		"applicants", len(applicants),
		"processed", report.Processed,
		"emails_sent", report.EmailsSent,
		"errors", len(report.Errors))
	return report, nil
}
