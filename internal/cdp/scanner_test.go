package cdp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/recruit-cdp/internal/domain"
)

func TestProcessPending(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	due := baseTime.Add(-time.Hour)
	later := baseTime.Add(time.Hour)
	paused := newFlow("f-paused", domain.TriggerManual, emailStep("t1", nil))
	paused.IsActive = false

	env.seed(t,
		newFlow("f1", domain.TriggerManual, emailStep("t1", &domain.Delay{Value: 1, Unit: domain.UnitHours})),
		paused,
		newTemplate("t1"),
		enrolled("due", "f1", 0),
		enrolled("early", "f1", 0),
		enrolled("inactive", "f-paused", 0),
		enrolled("missing", "f-ghost", 0),
	)
	setNext := func(id string, at time.Time) {
		a := env.applicant(t, id)
		a.FlowEnrollments[0].NextStepAt = &at
		require.NoError(t, env.repo.SetEnrollments(ctx, id, a.FlowEnrollments))
	}
	setNext("due", due)
	setNext("early", later)
	setNext("inactive", due)
	setNext("missing", due)

	report, err := env.svc.Pending.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.EmailsSent)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "missing/f-ghost")

	assert.Equal(t, domain.EnrollmentCompleted, env.applicant(t, "due").Enrollment("f1").Status)
	assert.Equal(t, domain.EnrollmentActive, env.applicant(t, "early").Enrollment("f1").Status)
	assert.Equal(t, domain.EnrollmentActive, env.applicant(t, "inactive").Enrollment("f-paused").Status)

	// A second sweep finds nothing new to send.
	report, err = env.svc.Pending.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.EmailsSent)
	assert.Equal(t, 1, env.mailer.count())
}
