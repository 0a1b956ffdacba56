package domain

import "time"

// EmailEventType enumerates provider and send events.
type EmailEventType string

const (
	EventSent         EmailEventType = "sent"
	EventDelivered    EmailEventType = "delivered"
	EventOpened       EmailEventType = "opened"
	EventClicked      EmailEventType = "clicked"
	EventBounced      EmailEventType = "bounced"
	EventComplained   EmailEventType = "complained"
	EventUnsubscribed EmailEventType = "unsubscribed"
)

// EmailEvent is an append-only record. It is never patched after creation.
type EmailEvent struct {
	ID         string         `json:"_id"`
	Type       string         `json:"_type"`
	Applicant  Reference      `json:"applicant"`
	EventType  EmailEventType `json:"eventType"`
	Template   *Reference     `json:"template,omitempty"`
	Flow       *Reference     `json:"flow,omitempty"`
	FlowStep   *int           `json:"flowStep,omitempty"`
	ResendID   string         `json:"resendId,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EmailTemplate is a Liquid subject/body pair.
type EmailTemplate struct {
	ID          string `json:"_id"`
	Type        string `json:"_type"`
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	PreviewText string `json:"previewText,omitempty"`
	Body        string `json:"body"`
	FromName    string `json:"fromName,omitempty"`
	ReplyTo     string `json:"replyTo,omitempty"`
}

// RenderedEmail is the output of the template renderer.
type RenderedEmail struct {
	Subject string
	HTML    string
}

// EmailTag is a provider-side message tag.
type EmailTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// OutboundEmail is the send contract shared by every mailer.
type OutboundEmail struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	HTML    string
	Tags    []EmailTag
}

// Audience is an external mailing-list construct.
type Audience struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AudienceContact is a member of an external audience.
type AudienceContact struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Unsubscribed bool   `json:"unsubscribed"`
}

// NewAudienceContact is the input to add a contact to an audience.
type NewAudienceContact struct {
	AudienceID   string
	Email        string
	FirstName    string
	LastName     string
	Unsubscribed bool
}
