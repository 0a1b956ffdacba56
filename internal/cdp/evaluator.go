package cdp

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/recruit-cdp/internal/domain"
)

// EvaluateContactForSegment decides whether c matches s at time now.
// Manual segments and segments without conditions never match.
func EvaluateContactForSegment(c domain.Contact, s *domain.Segment, now time.Time) bool {
	if s == nil || !s.IsRule() || len(s.Conditions) == 0 {
		return false
	}

	if s.MatchType == domain.MatchAny {
		for _, cond := range s.Conditions {
			if evaluateCondition(c, cond, now) {
				return true
			}
		}
		return false
	}

	for _, cond := range s.Conditions {
		if !evaluateCondition(c, cond, now) {
			return false
		}
	}
	return true
}

func evaluateCondition(c domain.Contact, cond domain.Condition, now time.Time) bool {
	return applyOperator(extractField(c, cond.Field, now), cond.Operator, cond.Value)
}

// extractField resolves a condition field, computing derived fields.
func extractField(c domain.Contact, field string, now time.Time) any {
	switch field {
	case domain.FieldEmailsOpened:
		return float64(c.Engagement().EmailsOpened)
	case domain.FieldUnsubscribed:
		status, _ := c.Field("status").(string)
		return c.Engagement().Unsubscribed || status == string(domain.SubscriberUnsubscribed)
	case domain.FieldDaysSinceSubmission:
		at := c.SubmissionDate()
		if at == nil {
			return float64(0)
		}
		return math.Floor(now.Sub(*at).Hours() / 24)
	case domain.FieldLinkedApplicant:
		return c.Field(domain.FieldLinkedApplicant)
	}
	return c.Field(field)
}

// applyOperator compares a field value against a condition value.
// Unknown operators never match.
func applyOperator(value any, op domain.Operator, want string) bool {
	switch op {
	case domain.OpEquals:
		if arr, ok := value.([]string); ok {
			return containsString(arr, want)
		}
		return stringify(value) == want
	case domain.OpNotEquals:
		if arr, ok := value.([]string); ok {
			return !containsString(arr, want)
		}
		return stringify(value) != want
	case domain.OpContains:
		return contains(value, want)
	case domain.OpNotContains:
		return !contains(value, want)
	case domain.OpGreaterThan:
		return toNumber(value) > toNumber(want)
	case domain.OpLessThan:
		return toNumber(value) < toNumber(want)
	case domain.OpEmpty:
		return isEmpty(value)
	case domain.OpNotEmpty:
		return !isEmpty(value)
	case domain.OpIsTrue:
		b, ok := value.(bool)
		return ok && b
	case domain.OpIsFalse:
		b, ok := value.(bool)
		return ok && !b
	}
	return false
}

// contains on an array treats want as a comma-separated list and matches
// if any entry is present. On scalars it is a case-insensitive substring test.
func contains(value any, want string) bool {
	if arr, ok := value.([]string); ok {
		for _, w := range strings.Split(want, ",") {
			if containsString(arr, strings.TrimSpace(w)) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(stringify(value)), strings.ToLower(want))
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	}
	return false
}

func containsString(arr []string, s string) bool {
	for _, v := range arr {
		if v == s {
			return true
		}
	}
	return false
}

// stringify renders a field value the way it is compared for eq/neq.
// Missing values compare as the empty string.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case []string:
		return strings.Join(v, ",")
	}
	return ""
}

// toNumber coerces a value for gt/lt. Blank strings are zero; missing and
// unparseable values are NaN, so every comparison against them is false.
func toNumber(value any) float64 {
	switch v := value.(type) {
	case nil:
		return math.NaN()
	case float64:
		return v
	case int:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case []string:
		switch len(v) {
		case 0:
			return 0
		case 1:
			return toNumber(v[0])
		}
	}
	return math.NaN()
}
