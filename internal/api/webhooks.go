package api

import (
	"errors"
	"net/http"

	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/pkg/httputil"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
	"github.com/ignite/recruit-cdp/internal/resend"
	"github.com/ignite/recruit-cdp/internal/typeform"
)

// TypeformWebhook syncs one form response into the CDP.
//
//	POST /webhooks/typeform
func (h *Handlers) TypeformWebhook(w http.ResponseWriter, r *http.Request) {
	if h.typeform == nil {
		httputil.NotFound(w, "typeform intake is not configured")
		return
	}
	body, ok := httputil.ReadBody(w, r)
	if !ok {
		return
	}
	if err := h.typeform.Verify(r.Header.Get(typeform.SignatureHeader), body); err != nil {
		logger.Warn("typeform webhook rejected", "error", err, "remote_addr", r.RemoteAddr)
		httputil.Unauthorized(w, "invalid signature")
		return
	}

	sub, err := h.typeform.Decode(body)
	if errors.Is(err, typeform.ErrNotResponse) {
		httputil.OK(w, map[string]bool{"ignored": true})
		return
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	res, err := h.svc.Intake.SyncSubmission(r.Context(), sub)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// ResendWebhook records delivery, engagement and opt-out events.
//
//	POST /webhooks/resend
func (h *Handlers) ResendWebhook(w http.ResponseWriter, r *http.Request) {
	body, ok := httputil.ReadBody(w, r)
	if !ok {
		return
	}
	if h.resend != nil {
		if err := h.resend.Verify(r.Header, body); err != nil {
			logger.Warn("resend webhook rejected", "error", err, "remote_addr", r.RemoteAddr)
			httputil.Unauthorized(w, "invalid signature")
			return
		}
	}

	ev, err := resend.ParseWebhook(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	act, ok := ev.Activity()
	if !ok {
		httputil.OK(w, map[string]any{"type": ev.Type, "ignored": true})
		return
	}

	if err := h.svc.Engagement.Record(r.Context(), act); err != nil {
		if errors.Is(err, cdp.ErrMissingEmail) {
			httputil.BadRequest(w, err.Error())
			return
		}
		// A 5xx makes Resend redeliver.
		httputil.InternalError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"type": ev.Type, "recorded": string(act.Type)})
}
