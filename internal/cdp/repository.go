package cdp

import (
	"context"
	"time"

	"github.com/ignite/recruit-cdp/internal/domain"
)

// ContactRepository is the data access contract for applicants and
// subscribers. Implementations must be safe for concurrent use.
type ContactRepository interface {
	// ListContacts returns every contact of one document type.
	ListContacts(ctx context.Context, docType string) ([]domain.Contact, error)

	// SegmentMembers returns the contacts of any type whose segment list
	// currently references segmentID.
	SegmentMembers(ctx context.Context, segmentID string) ([]domain.Contact, error)

	// GetApplicant returns ErrContactNotFound if the applicant doesn't exist.
	GetApplicant(ctx context.Context, id string) (*domain.DraftApplicant, error)

	// FindApplicantByEmail matches case-insensitively. Returns nil, nil when absent.
	FindApplicantByEmail(ctx context.Context, email string) (*domain.DraftApplicant, error)

	// FindApplicantBySourceID returns nil, nil when absent.
	FindApplicantBySourceID(ctx context.Context, sourceID string) (*domain.DraftApplicant, error)

	// CreateApplicant inserts a new applicant, assigning an id if empty.
	CreateApplicant(ctx context.Context, a *domain.DraftApplicant) error

	// UpdateApplicantProfile overwrites the profile fields sourced from intake.
	UpdateApplicantProfile(ctx context.Context, a *domain.DraftApplicant) error

	// ListPendingApplicants returns applicants holding at least one active
	// enrollment whose nextStepAt is before now.
	ListPendingApplicants(ctx context.Context, now time.Time) ([]domain.DraftApplicant, error)

	SetSegments(ctx context.Context, contactID string, refs []domain.Reference) error
	SetResendContactID(ctx context.Context, contactID, resendID string) error
	SetEnrollments(ctx context.Context, applicantID string, enrollments []domain.FlowEnrollment) error
	SetStatus(ctx context.Context, applicantID string, status domain.ApplicantStatus) error
	SetTags(ctx context.Context, applicantID string, tags []string) error

	// RecordEmailSent atomically increments the applicant's sent counter.
	RecordEmailSent(ctx context.Context, applicantID string, at time.Time) error

	// RecordEngagement increments the opened or clicked counter of an
	// applicant and stamps the matching last-activity time.
	RecordEngagement(ctx context.Context, applicantID string, kind domain.EmailEventType, at time.Time) error

	// MarkUnsubscribed flips the engagement flag on every contact with the
	// given email and returns how many were updated.
	MarkUnsubscribed(ctx context.Context, email string, at time.Time) (int, error)
}

// SegmentRepository is the data access contract for segments.
type SegmentRepository interface {
	// GetSegment returns ErrSegmentNotFound if the segment doesn't exist.
	GetSegment(ctx context.Context, id string) (*domain.Segment, error)

	// ListActiveSegments returns every active segment of any type.
	ListActiveSegments(ctx context.Context) ([]domain.Segment, error)

	SetComputed(ctx context.Context, id string, memberCount int, at time.Time) error
	SetMemberCount(ctx context.Context, id string, memberCount int) error
	SetLastSynced(ctx context.Context, id string, at time.Time) error
	SetAudience(ctx context.Context, id, audienceID string) error
}

// FlowRepository is the data access contract for email flows.
type FlowRepository interface {
	// GetFlow returns ErrFlowNotFound if the flow doesn't exist.
	GetFlow(ctx context.Context, id string) (*domain.EmailFlow, error)

	// ListActiveFlows returns active flows with the given trigger type.
	ListActiveFlows(ctx context.Context, trigger domain.TriggerType) ([]domain.EmailFlow, error)

	// IncrementStats applies atomic deltas keyed by stat path.
	IncrementStats(ctx context.Context, flowID string, deltas map[string]int) error
}

// TemplateRepository loads email templates.
type TemplateRepository interface {
	// GetTemplate returns ErrTemplateNotFound if the template doesn't exist.
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
}

// EventRepository appends email events.
type EventRepository interface {
	CreateEvent(ctx context.Context, e *domain.EmailEvent) error
}

// Store bundles every repository the core needs. The documents package
// implements all of them over a single document store.
type Store interface {
	ContactRepository
	SegmentRepository
	FlowRepository
	TemplateRepository
	EventRepository
}

// AudienceProvider is the external audience adapter.
type AudienceProvider interface {
	CreateAudience(ctx context.Context, name string) (string, error)
	ListAudiences(ctx context.Context) ([]domain.Audience, error)
	// CreateContact returns existing=true when the provider already holds
	// the address; that outcome is not an error.
	CreateContact(ctx context.Context, c domain.NewAudienceContact) (id string, existing bool, err error)
	UpdateContact(ctx context.Context, audienceID, email string, unsubscribed bool) error
	RemoveContact(ctx context.Context, audienceID, email string) error
	ListContacts(ctx context.Context, audienceID string) ([]domain.AudienceContact, error)
}

// Mailer sends one email and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, msg domain.OutboundEmail) (string, error)
}

// Renderer renders a template against personalization variables.
type Renderer interface {
	Render(tpl *domain.EmailTemplate, vars map[string]any) (*domain.RenderedEmail, error)
}
