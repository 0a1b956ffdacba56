// Package typeform decodes Typeform webhook deliveries into submissions.
package typeform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// SignatureHeader carries "sha256=<base64 hmac of the raw body>".
const SignatureHeader = "Typeform-Signature"

var (
	ErrMissingSignature = errors.New("typeform: missing signature")
	ErrBadSignature     = errors.New("typeform: signature mismatch")
	ErrNotResponse      = errors.New("typeform: payload is not a form response")
)

// Payload is the webhook envelope.
type Payload struct {
	EventID      string        `json:"event_id"`
	EventType    string        `json:"event_type"`
	FormResponse *FormResponse `json:"form_response"`
}

// FormResponse is one completed form.
type FormResponse struct {
	FormID      string            `json:"form_id"`
	Token       string            `json:"token"`
	SubmittedAt time.Time         `json:"submitted_at"`
	Hidden      map[string]string `json:"hidden"`
	Answers     []Answer          `json:"answers"`
}

// Answer is a typed answer. Only the field matching Type is set.
type Answer struct {
	Type        string   `json:"type"`
	Field       Field    `json:"field"`
	Text        string   `json:"text,omitempty"`
	Email       string   `json:"email,omitempty"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	Date        string   `json:"date,omitempty"`
	URL         string   `json:"url,omitempty"`
	Number      *float64 `json:"number,omitempty"`
	Boolean     *bool    `json:"boolean,omitempty"`
	Choice      *struct {
		Label string `json:"label"`
		Other string `json:"other,omitempty"`
	} `json:"choice,omitempty"`
	Choices *struct {
		Labels []string `json:"labels"`
		Other  string   `json:"other,omitempty"`
	} `json:"choices,omitempty"`
}

// Field identifies the question an answer belongs to.
type Field struct {
	ID   string `json:"id"`
	Ref  string `json:"ref"`
	Type string `json:"type"`
}

// Value flattens the answer to a string. Multiple choices are joined with
// commas.
func (a Answer) Value() string {
	switch a.Type {
	case "text":
		return a.Text
	case "email":
		return a.Email
	case "phone_number":
		return a.PhoneNumber
	case "date":
		return a.Date
	case "url":
		return a.URL
	case "number":
		if a.Number != nil {
			return strconv.FormatFloat(*a.Number, 'f', -1, 64)
		}
	case "boolean":
		if a.Boolean != nil {
			return strconv.FormatBool(*a.Boolean)
		}
	case "choice":
		if a.Choice != nil {
			if a.Choice.Label != "" {
				return a.Choice.Label
			}
			return a.Choice.Other
		}
	case "choices":
		if a.Choices != nil {
			labels := append([]string{}, a.Choices.Labels...)
			if a.Choices.Other != "" {
				labels = append(labels, a.Choices.Other)
			}
			return strings.Join(labels, ", ")
		}
	}
	return ""
}

// Decoder verifies and maps webhook deliveries.
type Decoder struct {
	secret   []byte
	fieldMap map[string]string
}

// NewDecoder builds a decoder from config. An empty secret disables
// signature checks.
func NewDecoder(cfg config.TypeformConfig) *Decoder {
	d := &Decoder{fieldMap: cfg.FieldMap}
	if cfg.Secret != "" {
		d.secret = []byte(cfg.Secret)
	}
	return d
}

// Verify checks the signature header against the raw body.
func (d *Decoder) Verify(signature string, body []byte) error {
	if d.secret == nil {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}
	mac := hmac.New(sha256.New, d.secret)
	mac.Write(body)
	expected := "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// Decode parses a verified body into a submission. Answers and hidden
// fields are mapped through the field map by field ref; a ref without a
// mapping is used as the field name itself. The first email-typed answer
// fills the email when nothing mapped to it.
func (d *Decoder) Decode(body []byte) (domain.Submission, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.Submission{}, fmt.Errorf("typeform: decode payload: %w", err)
	}
	if p.FormResponse == nil {
		return domain.Submission{}, ErrNotResponse
	}
	fr := p.FormResponse

	sub := domain.Submission{Source: domain.SourceTypeform, SourceID: fr.Token}
	if !fr.SubmittedAt.IsZero() {
		at := fr.SubmittedAt
		sub.SubmittedAt = &at
	}

	for key, v := range fr.Hidden {
		d.assign(&sub, key, v)
	}
	var fallbackEmail string
	for _, a := range fr.Answers {
		if a.Type == "email" && fallbackEmail == "" {
			fallbackEmail = a.Email
		}
		ref := a.Field.Ref
		if ref == "" {
			ref = a.Field.ID
		}
		d.assign(&sub, ref, a.Value())
	}
	if sub.Email == "" {
		sub.Email = fallbackEmail
	}
	return sub, nil
}

func (d *Decoder) assign(sub *domain.Submission, key, value string) {
	if value == "" {
		return
	}
	name := key
	if mapped, ok := d.fieldMap[key]; ok {
		name = mapped
	}
	if !sub.SetField(name, value) {
		logger.Debug("unmapped typeform field", "ref", key)
	}
}
