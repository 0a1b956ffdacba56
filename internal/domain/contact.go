package domain

import (
	"strings"
	"time"
)

// Document types stored in the CDP dataset.
const (
	DocTypeApplicant  = "draftApplicant"
	DocTypeSubscriber = "newsletterSubscriber"
	DocTypeSegment    = "segment"
	DocTypeFlow       = "emailFlow"
	DocTypeTemplate   = "emailTemplate"
	DocTypeEvent      = "emailEvent"
)

// ApplicantStatus is the recruitment pipeline stage of a draft applicant.
type ApplicantStatus string

const (
	ApplicantNew         ApplicantStatus = "new"
	ApplicantContacted   ApplicantStatus = "contacted"
	ApplicantInvited     ApplicantStatus = "invited"
	ApplicantAttended    ApplicantStatus = "attended"
	ApplicantDrafted     ApplicantStatus = "drafted"
	ApplicantNotSelected ApplicantStatus = "not_selected"
	ApplicantWithdrawn   ApplicantStatus = "withdrawn"
)

// Valid reports whether s is a known pipeline stage.
func (s ApplicantStatus) Valid() bool {
	switch s {
	case ApplicantNew, ApplicantContacted, ApplicantInvited, ApplicantAttended,
		ApplicantDrafted, ApplicantNotSelected, ApplicantWithdrawn:
		return true
	}
	return false
}

// SubscriberStatus enumerates newsletter subscription states.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "subscribed"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
)

// Reference is a pointer from one document to another.
type Reference struct {
	Key  string `json:"_key,omitempty"`
	Type string `json:"_type,omitempty"`
	Ref  string `json:"_ref"`
}

// NewReference builds a keyed reference suitable for array membership.
func NewReference(id string) Reference {
	return Reference{Key: id, Type: "reference", Ref: id}
}

// EmailEngagement holds per-contact email counters.
type EmailEngagement struct {
	EmailsSent         int        `json:"emailsSent"`
	EmailsOpened       int        `json:"emailsOpened"`
	EmailsClicked      int        `json:"emailsClicked"`
	LastEmailSentAt    *time.Time `json:"lastEmailSentAt,omitempty"`
	LastEmailOpenedAt  *time.Time `json:"lastEmailOpenedAt,omitempty"`
	LastEmailClickedAt *time.Time `json:"lastEmailClickedAt,omitempty"`
	Unsubscribed       bool       `json:"unsubscribed"`
	UnsubscribedAt     *time.Time `json:"unsubscribedAt,omitempty"`
}

// Contact is the attribute surface shared by every evaluable contact
// variant. The segment evaluator only ever sees this interface.
type Contact interface {
	ContactID() string
	ContactEmail() string
	ContactType() string
	Engagement() EmailEngagement
	SubmissionDate() *time.Time
	SegmentRefs() []Reference
	// Field returns a plain attribute by name: nil, string, bool,
	// float64 or []string.
	Field(name string) any
}

// DraftApplicant is a player who submitted the draft application form.
type DraftApplicant struct {
	ID                 string           `json:"_id"`
	Type               string           `json:"_type"`
	Email              string           `json:"email"`
	FirstName          string           `json:"firstName,omitempty"`
	LastName           string           `json:"lastName,omitempty"`
	Phone              string           `json:"phone,omitempty"`
	City               string           `json:"city,omitempty"`
	State              string           `json:"state,omitempty"`
	AgeGroup           string           `json:"ageGroup,omitempty"`
	Position           string           `json:"position,omitempty"`
	PreferredPositions []string         `json:"preferredPositions,omitempty"`
	Experience         string           `json:"experience,omitempty"`
	Status             ApplicantStatus  `json:"status"`
	Source             string           `json:"source,omitempty"`
	SourceID           string           `json:"sourceId,omitempty"`
	SubmittedAt        *time.Time       `json:"submittedAt,omitempty"`
	Tags               []string         `json:"tags,omitempty"`
	Segments           []Reference      `json:"segments,omitempty"`
	FlowEnrollments    []FlowEnrollment `json:"flowEnrollments,omitempty"`
	EmailEngagement    EmailEngagement  `json:"emailEngagement"`
	ResendContactID    string           `json:"resendContactId,omitempty"`
}

func (a *DraftApplicant) ContactID() string           { return a.ID }
func (a *DraftApplicant) ContactEmail() string        { return a.Email }
func (a *DraftApplicant) ContactType() string         { return DocTypeApplicant }
func (a *DraftApplicant) Engagement() EmailEngagement { return a.EmailEngagement }
func (a *DraftApplicant) SubmissionDate() *time.Time  { return a.SubmittedAt }
func (a *DraftApplicant) SegmentRefs() []Reference    { return a.Segments }

// Field implements Contact.
func (a *DraftApplicant) Field(name string) any {
	switch name {
	case "email":
		return a.Email
	case "firstName":
		return a.FirstName
	case "lastName":
		return a.LastName
	case "phone":
		return a.Phone
	case "city":
		return a.City
	case "state":
		return a.State
	case "ageGroup":
		return a.AgeGroup
	case "position":
		return a.Position
	case "preferredPositions":
		return stringsOrEmpty(a.PreferredPositions)
	case "experience":
		return a.Experience
	case "status":
		return string(a.Status)
	case "source":
		return a.Source
	case "sourceId":
		return a.SourceID
	case "submittedAt":
		return timeField(a.SubmittedAt)
	case "tags":
		return stringsOrEmpty(a.Tags)
	case "emailsSent":
		return float64(a.EmailEngagement.EmailsSent)
	case "emailsClicked":
		return float64(a.EmailEngagement.EmailsClicked)
	case "resendContactId":
		return a.ResendContactID
	}
	return nil
}

// Enrollment returns the enrollment slot for flowID, or nil.
func (a *DraftApplicant) Enrollment(flowID string) *FlowEnrollment {
	for i := range a.FlowEnrollments {
		if a.FlowEnrollments[i].Flow.Ref == flowID {
			return &a.FlowEnrollments[i]
		}
	}
	return nil
}

// InSegment reports whether the applicant currently references segmentID.
func (a *DraftApplicant) InSegment(segmentID string) bool {
	return HasRef(a.Segments, segmentID)
}

// Unsubscribed reports the engagement opt-out flag.
func (a *DraftApplicant) Unsubscribed() bool {
	return a.EmailEngagement.Unsubscribed
}

// NewsletterSubscriber is a newsletter sign-up, optionally linked to an applicant.
type NewsletterSubscriber struct {
	ID              string           `json:"_id"`
	Type            string           `json:"_type"`
	Email           string           `json:"email"`
	FirstName       string           `json:"firstName,omitempty"`
	LastName        string           `json:"lastName,omitempty"`
	Status          SubscriberStatus `json:"status"`
	Source          string           `json:"source,omitempty"`
	Interests       []string         `json:"interests,omitempty"`
	SubscribedAt    *time.Time       `json:"subscribedAt,omitempty"`
	LinkedApplicant *Reference       `json:"linkedApplicant,omitempty"`
	Segments        []Reference      `json:"segments,omitempty"`
	EmailEngagement EmailEngagement  `json:"emailEngagement"`
	ResendContactID string           `json:"resendContactId,omitempty"`
}

func (s *NewsletterSubscriber) ContactID() string           { return s.ID }
func (s *NewsletterSubscriber) ContactEmail() string        { return s.Email }
func (s *NewsletterSubscriber) ContactType() string         { return DocTypeSubscriber }
func (s *NewsletterSubscriber) Engagement() EmailEngagement { return s.EmailEngagement }
func (s *NewsletterSubscriber) SubmissionDate() *time.Time  { return s.SubscribedAt }
func (s *NewsletterSubscriber) SegmentRefs() []Reference    { return s.Segments }

// Field implements Contact.
func (s *NewsletterSubscriber) Field(name string) any {
	switch name {
	case "email":
		return s.Email
	case "firstName":
		return s.FirstName
	case "lastName":
		return s.LastName
	case "status":
		return string(s.Status)
	case "source":
		return s.Source
	case "interests":
		return stringsOrEmpty(s.Interests)
	case "subscribedAt":
		return timeField(s.SubscribedAt)
	case "linkedApplicant":
		if s.LinkedApplicant == nil {
			return nil
		}
		return s.LinkedApplicant.Ref
	case "emailsSent":
		return float64(s.EmailEngagement.EmailsSent)
	case "emailsClicked":
		return float64(s.EmailEngagement.EmailsClicked)
	case "resendContactId":
		return s.ResendContactID
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address for comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasRef reports whether refs contains a reference to id.
func HasRef(refs []Reference, id string) bool {
	for _, r := range refs {
		if r.Ref == id {
			return true
		}
	}
	return false
}

// RefIDs returns the referenced document ids in order.
func RefIDs(refs []Reference) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.Ref)
	}
	return ids
}

func stringsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func timeField(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
