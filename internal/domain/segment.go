package domain

import "time"

// SegmentType distinguishes computed segments from curated rosters.
type SegmentType string

const (
	SegmentRule   SegmentType = "rule"
	SegmentManual SegmentType = "manual"
)

// MatchType combines a segment's conditions.
type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

// Operator is a condition comparison.
type Operator string

const (
	OpEquals      Operator = "eq"
	OpNotEquals   Operator = "neq"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notContains"
	OpGreaterThan Operator = "gt"
	OpLessThan    Operator = "lt"
	OpEmpty       Operator = "empty"
	OpNotEmpty    Operator = "notEmpty"
	OpIsTrue      Operator = "isTrue"
	OpIsFalse     Operator = "isFalse"
)

// Derived condition fields computed at evaluation time.
const (
	FieldEmailsOpened        = "emailsOpened"
	FieldUnsubscribed        = "unsubscribed"
	FieldDaysSinceSubmission = "daysSinceSubmission"
	FieldLinkedApplicant     = "linkedApplicant"
)

// Condition is a single {field, operator, value} rule.
type Condition struct {
	Key      string   `json:"_key,omitempty"`
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value,omitempty"`
}

// ResendSync binds a segment to an external audience.
type ResendSync struct {
	Enabled      bool       `json:"enabled"`
	AudienceID   string     `json:"audienceId,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// Segment is a named rule set or manual roster over one contact type.
type Segment struct {
	ID             string      `json:"_id"`
	Type           string      `json:"_type"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	SegmentType    SegmentType `json:"segmentType"`
	MatchType      MatchType   `json:"matchType"`
	Conditions     []Condition `json:"conditions,omitempty"`
	TargetType     string      `json:"targetType"`
	ResendSync     ResendSync  `json:"resendSync"`
	MemberCount    int         `json:"memberCount"`
	LastComputedAt *time.Time  `json:"lastComputedAt,omitempty"`
	IsActive       bool        `json:"isActive"`
}

// IsRule reports whether membership is computed. An unset type is a rule.
func (s *Segment) IsRule() bool {
	return s.SegmentType != SegmentManual
}

// Target returns the bound contact document type, defaulting to applicants.
func (s *Segment) Target() string {
	if s.TargetType == "" {
		return DocTypeApplicant
	}
	return s.TargetType
}

// SyncEnabled reports whether the segment is pushed to an external audience.
func (s *Segment) SyncEnabled() bool {
	return s.ResendSync.Enabled && s.ResendSync.AudienceID != ""
}
