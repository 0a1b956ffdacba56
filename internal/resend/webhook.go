package resend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/domain"
)

// =============================================================================
// SIGNATURE VERIFICATION
// =============================================================================
// Resend signs webhooks with Svix: the signature is a base64 HMAC-SHA256
// of "<svix-id>.<svix-timestamp>.<body>" keyed by the decoded whsec_ secret.

var (
	ErrMissingSignature = errors.New("resend: missing webhook signature headers")
	ErrBadSignature     = errors.New("resend: webhook signature mismatch")
	ErrStaleWebhook     = errors.New("resend: webhook timestamp outside tolerance")
)

const webhookTolerance = 5 * time.Minute

// WebhookVerifier checks Svix signatures on incoming webhooks.
type WebhookVerifier struct {
	key []byte
	now func() time.Time
}

// NewWebhookVerifier decodes a "whsec_" signing secret.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("resend: decode webhook secret: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("resend: empty webhook secret")
	}
	return &WebhookVerifier{key: key, now: time.Now}, nil
}

// Verify validates the svix-* headers against the raw body.
func (v *WebhookVerifier) Verify(h http.Header, body []byte) error {
	id := h.Get("svix-id")
	ts := h.Get("svix-timestamp")
	sigs := h.Get("svix-signature")
	if id == "" || ts == "" || sigs == "" {
		return ErrMissingSignature
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrStaleWebhook
	}
	sent := time.Unix(sec, 0)
	if d := v.now().Sub(sent); d > webhookTolerance || d < -webhookTolerance {
		return ErrStaleWebhook
	}

	expected := v.sign(id, ts, body)
	for _, part := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrBadSignature
}

func (v *WebhookVerifier) sign(id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// =============================================================================
// EVENTS
// =============================================================================

// WebhookEvent is the envelope Resend posts for email and contact events.
type WebhookEvent struct {
	Type      string      `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
	Data      WebhookData `json:"data"`
}

// WebhookData carries the fields of both email.* and contact.* events.
type WebhookData struct {
	EmailID      string          `json:"email_id"`
	To           []string        `json:"to"`
	Subject      string          `json:"subject"`
	Email        string          `json:"email"`
	Unsubscribed bool            `json:"unsubscribed"`
	Tags         json.RawMessage `json:"tags"`
}

var emailEventTypes = map[string]domain.EmailEventType{
	"email.delivered":  domain.EventDelivered,
	"email.opened":     domain.EventOpened,
	"email.clicked":    domain.EventClicked,
	"email.bounced":    domain.EventBounced,
	"email.complained": domain.EventComplained,
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("resend: decode webhook: %w", err)
	}
	if ev.Type == "" {
		return nil, errors.New("resend: webhook without type")
	}
	return &ev, nil
}

// Activity converts the event into engagement activity. ok is false for
// event types that carry nothing the CDP records, such as email.sent or
// contact updates that do not opt the contact out.
func (ev *WebhookEvent) Activity() (act cdp.EmailActivity, ok bool) {
	act.OccurredAt = ev.CreatedAt

	if strings.HasPrefix(ev.Type, "contact.") {
		if !ev.Data.Unsubscribed || ev.Data.Email == "" {
			return act, false
		}
		act.Type = domain.EventUnsubscribed
		act.Email = ev.Data.Email
		return act, true
	}

	t, known := emailEventTypes[ev.Type]
	if !known || len(ev.Data.To) == 0 {
		return act, false
	}
	act.Type = t
	act.Email = ev.Data.To[0]
	act.MessageID = ev.Data.EmailID
	act.Subject = ev.Data.Subject

	tags := ev.Data.tagMap()
	act.FlowID = tags["flow_id"]
	if step, err := strconv.Atoi(tags["flow_step"]); err == nil {
		act.FlowStep = &step
	}
	return act, true
}

// tagMap accepts tags as either an object or a list of name/value pairs.
func (d WebhookData) tagMap() map[string]string {
	out := map[string]string{}
	if len(d.Tags) == 0 {
		return out
	}
	if json.Unmarshal(d.Tags, &out) == nil {
		return out
	}
	var list []domain.EmailTag
	if json.Unmarshal(d.Tags, &list) == nil {
		for _, t := range list {
			out[t.Name] = t.Value
		}
	}
	return out
}
