package domain

import "time"

// TriggerType names what enrolls a contact into a flow.
type TriggerType string

const (
	TriggerNewSubmission TriggerType = "new_submission"
	TriggerStatusChange  TriggerType = "status_change"
	TriggerSegmentEntry  TriggerType = "segment_entry"
	TriggerSegmentExit   TriggerType = "segment_exit"
	TriggerManual        TriggerType = "manual"
	TriggerScheduled     TriggerType = "scheduled"
)

// FlowTrigger describes the enrolling event. FromStatus/ToStatus apply to
// status_change flows (empty matches any); Segment applies to segment triggers.
type FlowTrigger struct {
	Type       TriggerType `json:"type"`
	FromStatus string      `json:"fromStatus,omitempty"`
	ToStatus   string      `json:"toStatus,omitempty"`
	Segment    *Reference  `json:"segment,omitempty"`
}

// FlowSettings controls enrollment rules.
type FlowSettings struct {
	AllowReenrollment bool `json:"allowReenrollment"`
	// ReenrollmentDelay is a minimum number of days between enrollments.
	ReenrollmentDelay  int      `json:"reenrollmentDelay,omitempty"`
	ExitOnUnsubscribe  bool     `json:"exitOnUnsubscribe"`
	ExitOnStatusChange []string `json:"exitOnStatusChange,omitempty"`
}

// FlowStats are running totals maintained with atomic increments.
type FlowStats struct {
	TotalEnrolled   int `json:"totalEnrolled"`
	CurrentlyActive int `json:"currentlyActive"`
	Completed       int `json:"completed"`
	Exited          int `json:"exited"`
	EmailsSent      int `json:"emailsSent"`
	EmailsOpened    int `json:"emailsOpened"`
	EmailsClicked   int `json:"emailsClicked"`
}

// Stat paths used for increments.
const (
	StatTotalEnrolled   = "stats.totalEnrolled"
	StatCurrentlyActive = "stats.currentlyActive"
	StatCompleted       = "stats.completed"
	StatExited          = "stats.exited"
	StatEmailsSent      = "stats.emailsSent"
	StatEmailsOpened    = "stats.emailsOpened"
	StatEmailsClicked   = "stats.emailsClicked"
)

// EmailFlow is an ordered list of automation steps.
type EmailFlow struct {
	ID          string       `json:"_id"`
	Type        string       `json:"_type"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsActive    bool         `json:"isActive"`
	Trigger     FlowTrigger  `json:"trigger"`
	Steps       []Step       `json:"steps"`
	Settings    FlowSettings `json:"settings"`
	Stats       FlowStats    `json:"stats"`
}

// ExitsOnStatus reports whether moving to status ends enrollment.
func (f *EmailFlow) ExitsOnStatus(status string) bool {
	for _, s := range f.Settings.ExitOnStatusChange {
		if s == status {
			return true
		}
	}
	return false
}

// StepType is the discriminator of a flow step.
type StepType string

const (
	StepEmail        StepType = "emailStep"
	StepWait         StepType = "waitStep"
	StepBranch       StepType = "branchStep"
	StepTag          StepType = "tagStep"
	StepUpdateStatus StepType = "updateStatusStep"
)

// DelayUnit is the unit of a step delay.
type DelayUnit string

const (
	UnitMinutes DelayUnit = "minutes"
	UnitHours   DelayUnit = "hours"
	UnitDays    DelayUnit = "days"
	UnitWeeks   DelayUnit = "weeks"
)

// Delay is a relative wait.
type Delay struct {
	Value int       `json:"value"`
	Unit  DelayUnit `json:"unit"`
}

// Duration converts the delay. Unknown units count as days.
func (d *Delay) Duration() time.Duration {
	if d == nil || d.Value <= 0 {
		return 0
	}
	n := time.Duration(d.Value)
	switch d.Unit {
	case UnitMinutes:
		return n * time.Minute
	case UnitHours:
		return n * time.Hour
	case UnitWeeks:
		return n * 7 * 24 * time.Hour
	default:
		return n * 24 * time.Hour
	}
}

// Send condition types for email steps.
const (
	SendAlways          = "none"
	SendIfStatus        = "status"
	SendIfOpenedBefore  = "opened_previous"
	SendIfClickedBefore = "clicked_previous"
	SendIfInSegment     = "in_segment"
)

// SendCondition gates an email step.
type SendCondition struct {
	Type    string     `json:"type"`
	Value   string     `json:"value,omitempty"`
	Segment *Reference `json:"segment,omitempty"`
}

// Wait types.
const (
	WaitDuration = "duration"
	WaitEvent    = "event"
)

// Branch condition fields.
const (
	BranchFieldStatus             = "status"
	BranchFieldOpenedEmail        = "openedEmail"
	BranchFieldClickedEmail       = "clickedEmail"
	BranchFieldInSegment          = "inSegment"
	BranchFieldPreferredPositions = "preferredPositions"
)

// BranchCondition is evaluated against the enrolled applicant.
type BranchCondition struct {
	Field    string     `json:"field"`
	Operator Operator   `json:"operator"`
	Value    string     `json:"value,omitempty"`
	Segment  *Reference `json:"segment,omitempty"`
}

// BranchAction is the outcome of a branch step.
type BranchAction string

const (
	BranchContinue BranchAction = "continue"
	BranchSkip     BranchAction = "skip"
	BranchExit     BranchAction = "exit"
)

// Tag actions.
const (
	TagAdd    = "add"
	TagRemove = "remove"
)

// Step is one entry of a flow. Fields are populated according to Type.
type Step struct {
	Key  string   `json:"_key,omitempty"`
	Type StepType `json:"_type"`
	Name string   `json:"name,omitempty"`

	// emailStep
	Template      *Reference     `json:"template,omitempty"`
	Delay         *Delay         `json:"delay,omitempty"`
	SendCondition *SendCondition `json:"sendCondition,omitempty"`

	// waitStep
	WaitType     string `json:"waitType,omitempty"`
	Duration     *Delay `json:"duration,omitempty"`
	WaitForEvent string `json:"waitForEvent,omitempty"`
	MaxWait      int    `json:"maxWait,omitempty"`

	// branchStep
	Condition     *BranchCondition `json:"condition,omitempty"`
	IfTrueAction  BranchAction     `json:"ifTrueAction,omitempty"`
	IfTrueSkipTo  *int             `json:"ifTrueSkipTo,omitempty"`
	IfFalseAction BranchAction     `json:"ifFalseAction,omitempty"`
	IfFalseSkipTo *int             `json:"ifFalseSkipTo,omitempty"`

	// tagStep
	TagAction string `json:"action,omitempty"`
	Tag       string `json:"tag,omitempty"`

	// updateStatusStep
	NewStatus string `json:"newStatus,omitempty"`
}

// EnrollmentStatus is the phase of a flow enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentExited    EnrollmentStatus = "exited"
)

// FlowEnrollment is a contact's progress through one flow. The flow
// reference is the dedup key: re-enrollment reuses the same slot.
type FlowEnrollment struct {
	Key         string           `json:"_key"`
	Flow        Reference        `json:"flow"`
	EnrolledAt  time.Time        `json:"enrolledAt"`
	CurrentStep int              `json:"currentStep"`
	Status      EnrollmentStatus `json:"status"`
	NextStepAt  *time.Time       `json:"nextStepAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
	ExitedAt    *time.Time       `json:"exitedAt,omitempty"`
}

// Due reports whether an active enrollment has a resume time before now.
func (e *FlowEnrollment) Due(now time.Time) bool {
	return e.Status == EnrollmentActive && e.NextStepAt != nil && e.NextStepAt.Before(now)
}
