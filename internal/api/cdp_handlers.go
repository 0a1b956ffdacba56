package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/httputil"
	"github.com/ignite/recruit-cdp/internal/worker"
)

// writeError maps CDP sentinels to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cdp.ErrContactNotFound),
		errors.Is(err, cdp.ErrSegmentNotFound),
		errors.Is(err, cdp.ErrFlowNotFound),
		errors.Is(err, cdp.ErrTemplateNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, cdp.ErrAlreadyEnrolled),
		errors.Is(err, cdp.ErrFlowInactive),
		errors.Is(err, worker.ErrLocked):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, cdp.ErrNoAudience),
		errors.Is(err, cdp.ErrMissingEmail):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, r, err)
	}
}

// runSweep triggers a sweep and writes its report.
func (h *Handlers) runSweep(w http.ResponseWriter, r *http.Request, name string) {
	report, err := h.sweeps.RunOnce(r.Context(), name)
	if errors.Is(err, worker.ErrUnknownSweep) {
		httputil.NotFound(w, name+" is not configured")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.OK(w, report)
}

// =============================================================================
// SEGMENTS
// =============================================================================

// EvaluateSegments recomputes every active segment.
//
//	POST /api/cdp/segments/evaluate
func (h *Handlers) EvaluateSegments(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, worker.SweepSegments)
}

// SyncAllAudiences reconciles every sync-enabled segment.
//
//	POST /api/cdp/segments/sync
func (h *Handlers) SyncAllAudiences(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, worker.SweepAudiences)
}

// PreviewSegment lists the emails that would match right now.
//
//	GET /api/cdp/segments/{id}/preview
func (h *Handlers) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	emails, err := h.svc.Segments.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.OK(w, map[string]any{"count": len(emails), "emails": emails})
}

// SyncSegment pushes one segment to its audience.
//
//	POST /api/cdp/segments/{id}/sync
func (h *Handlers) SyncSegment(w http.ResponseWriter, r *http.Request) {
	if h.svc.Audience == nil {
		httputil.NotFound(w, "audience sync is not configured")
		return
	}
	res, err := h.svc.Audience.SyncSegment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

// ProvisionAudience binds a segment to an audience, creating it if needed.
//
//	POST /api/cdp/segments/{id}/audience
func (h *Handlers) ProvisionAudience(w http.ResponseWriter, r *http.Request) {
	if h.svc.Audience == nil {
		httputil.NotFound(w, "audience sync is not configured")
		return
	}
	id, err := h.svc.Audience.ProvisionAudience(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.OK(w, map[string]string{"audienceId": id})
}

// =============================================================================
// FLOWS AND APPLICANTS
// =============================================================================

// ProcessPending resumes every due enrollment.
//
//	POST /api/cdp/flows/process-pending
func (h *Handlers) ProcessPending(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, worker.SweepPending)
}

// EnrollApplicant enrolls one applicant into one flow.
//
//	POST /api/cdp/flows/{flowID}/enroll/{applicantID}
func (h *Handlers) EnrollApplicant(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Flows.EnrollManually(r.Context(), chi.URLParam(r, "applicantID"), chi.URLParam(r, "flowID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.OK(w, res)
}

type statusRequest struct {
	Status domain.ApplicantStatus `json:"status"`
}

// UpdateApplicantStatus moves an applicant through the pipeline.
//
//	PUT /api/cdp/applicants/{id}/status
func (h *Handlers) UpdateApplicantStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		httputil.BadRequest(w, "unknown status: "+string(req.Status))
		return
	}
	flows, err := h.svc.Intake.UpdateApplicantStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if flows == nil {
		flows = []cdp.TriggerResult{}
	}
	httputil.OK(w, map[string]any{"status": req.Status, "flows": flows})
}

// SyncSharePoint pulls registrations from the SharePoint list.
//
//	POST /api/cdp/sync/sharepoint
func (h *Handlers) SyncSharePoint(w http.ResponseWriter, r *http.Request) {
	h.runSweep(w, r, worker.SweepSharePoint)
}

// PreviewTemplate renders a template for one applicant, or with empty
// variables when no applicant is given.
//
//	GET /api/cdp/templates/{id}/preview?applicant={applicantID}
func (h *Handlers) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	if h.templates == nil || h.renderer == nil {
		httputil.NotFound(w, "template preview is not configured")
		return
	}
	ctx := r.Context()
	tpl, err := h.templates.GetTemplate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	vars := map[string]any{}
	if id := r.URL.Query().Get("applicant"); id != "" {
		a, err := h.templates.GetApplicant(ctx, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		vars = cdp.Personalization(a)
	}
	out, err := h.renderer.Render(tpl, vars)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, map[string]string{"subject": out.Subject, "html": out.HTML})
}
