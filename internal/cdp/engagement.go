package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// EmailActivity is a delivery or engagement notification reported by the
// email provider after a send.
type EmailActivity struct {
	Type       domain.EmailEventType
	Email      string
	MessageID  string
	Subject    string
	FlowID     string
	FlowStep   *int
	OccurredAt time.Time
}

// EngagementRecorder folds provider activity back into contact counters,
// flow stats and the email event log.
type EngagementRecorder struct {
	store    Store
	audience *AudienceSync
	now      func() time.Time
}

// NewEngagementRecorder creates a recorder. audience may be nil, in which
// case unsubscribes are written straight to the store.
func NewEngagementRecorder(store Store, audience *AudienceSync, now func() time.Time) *EngagementRecorder {
	if now == nil {
		now = time.Now
	}
	return &EngagementRecorder{store: store, audience: audience, now: now}
}

// Record applies one activity. Activity for an address that matches no
// applicant is ignored unless it is an opt-out, which still flags any
// subscriber with that email.
func (r *EngagementRecorder) Record(ctx context.Context, act EmailActivity) error {
	email := domain.NormalizeEmail(act.Email)
	if email == "" {
		return ErrMissingEmail
	}
	at := act.OccurredAt
	if at.IsZero() {
		at = r.now()
	}

	if act.Type == domain.EventUnsubscribed || act.Type == domain.EventComplained {
		if err := r.unsubscribe(ctx, email, at); err != nil && err != ErrContactNotFound {
			return err
		}
	}

	a, err := r.store.FindApplicantByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find applicant: %w", err)
	}
	if a == nil {
		logger.Debug("email activity for unknown applicant", "email", email, "type", string(act.Type))
		return nil
	}

	switch act.Type {
	case domain.EventOpened, domain.EventClicked:
		if err := r.store.RecordEngagement(ctx, a.ID, act.Type, at); err != nil {
			return fmt.Errorf("record engagement: %w", err)
		}
		if act.FlowID != "" {
			stat := domain.StatEmailsOpened
			if act.Type == domain.EventClicked {
				stat = domain.StatEmailsClicked
			}
			if err := r.store.IncrementStats(ctx, act.FlowID, map[string]int{stat: 1}); err != nil {
				logger.Warn("failed to increment flow engagement", "flow_id", act.FlowID, "error", err)
			}
		}
	}

	event := &domain.EmailEvent{
		Applicant:  domain.Reference{Type: "reference", Ref: a.ID},
		EventType:  act.Type,
		FlowStep:   act.FlowStep,
		ResendID:   act.MessageID,
		Subject:    act.Subject,
		OccurredAt: at,
	}
	if act.FlowID != "" {
		event.Flow = &domain.Reference{Type: "reference", Ref: act.FlowID}
	}
	if err := r.store.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("record %s event: %w", act.Type, err)
	}
	return nil
}

func (r *EngagementRecorder) unsubscribe(ctx context.Context, email string, at time.Time) error {
	if r.audience != nil {
		_, err := r.audience.HandleUnsubscribe(ctx, email)
		return err
	}
	n, err := r.store.MarkUnsubscribed(ctx, email, at)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrContactNotFound
	}
	return nil
}
