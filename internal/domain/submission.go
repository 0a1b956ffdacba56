package domain

import (
	"strings"
	"time"
)

// Intake sources.
const (
	SourceTypeform   = "typeform"
	SourceSharePoint = "sharepoint"
	SourceManual     = "manual"
)

// Submission is a normalized external form record ready for intake.
type Submission struct {
	Email              string     `json:"email"`
	FirstName          string     `json:"firstName,omitempty"`
	LastName           string     `json:"lastName,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	City               string     `json:"city,omitempty"`
	State              string     `json:"state,omitempty"`
	AgeGroup           string     `json:"ageGroup,omitempty"`
	Position           string     `json:"position,omitempty"`
	PreferredPositions []string   `json:"preferredPositions,omitempty"`
	Experience         string     `json:"experience,omitempty"`
	Source             string     `json:"source,omitempty"`
	SourceID           string     `json:"sourceId,omitempty"`
	SubmittedAt        *time.Time `json:"submittedAt,omitempty"`
}

// ApplyTo copies non-empty profile fields onto an applicant.
func (s Submission) ApplyTo(a *DraftApplicant) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&a.FirstName, s.FirstName)
	set(&a.LastName, s.LastName)
	set(&a.Phone, s.Phone)
	set(&a.City, s.City)
	set(&a.State, s.State)
	set(&a.AgeGroup, s.AgeGroup)
	set(&a.Position, s.Position)
	set(&a.Experience, s.Experience)
	set(&a.Source, s.Source)
	set(&a.SourceID, s.SourceID)
	if len(s.PreferredPositions) > 0 {
		a.PreferredPositions = s.PreferredPositions
	}
	if a.SubmittedAt == nil && s.SubmittedAt != nil {
		t := *s.SubmittedAt
		a.SubmittedAt = &t
	}
}

// SetField assigns a raw source value to the named submission field.
// Names match the JSON field names; preferredPositions takes a comma
// separated list and submittedAt an RFC 3339 or YYYY-MM-DD date. It reports
// false for unknown names and unparseable dates.
func (s *Submission) SetField(name, value string) bool {
	value = strings.TrimSpace(value)
	switch name {
	case "email":
		s.Email = value
	case "firstName":
		s.FirstName = value
	case "lastName":
		s.LastName = value
	case "phone":
		s.Phone = value
	case "city":
		s.City = value
	case "state":
		s.State = value
	case "ageGroup":
		s.AgeGroup = value
	case "position":
		s.Position = value
	case "experience":
		s.Experience = value
	case "sourceId":
		s.SourceID = value
	case "preferredPositions":
		var out []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		s.PreferredPositions = out
	case "submittedAt":
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, value); err == nil {
				s.SubmittedAt = &t
				return true
			}
		}
		return false
	default:
		return false
	}
	return true
}
