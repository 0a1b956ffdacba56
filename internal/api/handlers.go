package api

import (
	"context"

	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/resend"
	"github.com/ignite/recruit-cdp/internal/typeform"
)

// SweepTrigger runs a named sweep under its lock.
type SweepTrigger interface {
	RunOnce(ctx context.Context, name string) (any, error)
}

// TemplateStore is what the template preview reads.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	GetApplicant(ctx context.Context, id string) (*domain.DraftApplicant, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	svc    *cdp.Service
	sweeps SweepTrigger

	typeform *typeform.Decoder
	resend   *resend.WebhookVerifier // nil skips signature checks

	templates TemplateStore
	renderer  cdp.Renderer
}

// NewHandlers creates a new Handlers instance
func NewHandlers(svc *cdp.Service, sweeps SweepTrigger) *Handlers {
	return &Handlers{svc: svc, sweeps: sweeps}
}

// SetTypeformDecoder enables the Typeform webhook.
func (h *Handlers) SetTypeformDecoder(d *typeform.Decoder) {
	h.typeform = d
}

// SetResendVerifier enables signature checks on the Resend webhook.
func (h *Handlers) SetResendVerifier(v *resend.WebhookVerifier) {
	h.resend = v
}

// SetTemplatePreview enables the template preview endpoint.
func (h *Handlers) SetTemplatePreview(store TemplateStore, r cdp.Renderer) {
	h.templates = store
	h.renderer = r
}
