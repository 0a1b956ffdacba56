// Package documents implements the CDP repositories over any docstore
// backend (memory, Postgres JSONB or Sanity).
package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/docstore"
	"github.com/ignite/recruit-cdp/internal/domain"
)

// Repository implements cdp.Store.
type Repository struct{ store docstore.Store }

// NewRepository wraps a document store.
func NewRepository(store docstore.Store) *Repository { return &Repository{store: store} }

var _ cdp.Store = (*Repository)(nil)

// Ping runs a one-row query against the backend.
func (r *Repository) Ping(ctx context.Context) error {
	var segs []domain.Segment
	return r.store.Fetch(ctx, docstore.OfType(domain.DocTypeSegment).First(1), &segs)
}

// =============================================================================
// CONTACTS
// =============================================================================

func (r *Repository) ListContacts(ctx context.Context, docType string) ([]domain.Contact, error) {
	switch docType {
	case domain.DocTypeApplicant:
		var apps []domain.DraftApplicant
		if err := r.store.Fetch(ctx, docstore.OfType(docType), &apps); err != nil {
			return nil, fmt.Errorf("list applicants: %w", err)
		}
		out := make([]domain.Contact, 0, len(apps))
		for i := range apps {
			out = append(out, &apps[i])
		}
		return out, nil
	case domain.DocTypeSubscriber:
		var subs []domain.NewsletterSubscriber
		if err := r.store.Fetch(ctx, docstore.OfType(docType), &subs); err != nil {
			return nil, fmt.Errorf("list subscribers: %w", err)
		}
		out := make([]domain.Contact, 0, len(subs))
		for i := range subs {
			out = append(out, &subs[i])
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown contact type %q", docType)
}

func (r *Repository) SegmentMembers(ctx context.Context, segmentID string) ([]domain.Contact, error) {
	var raws []json.RawMessage
	q := docstore.OfType(domain.DocTypeApplicant, domain.DocTypeSubscriber).Where(docstore.References(segmentID))
	if err := r.store.Fetch(ctx, q, &raws); err != nil {
		return nil, fmt.Errorf("segment members %s: %w", segmentID, err)
	}

	out := make([]domain.Contact, 0, len(raws))
	for _, raw := range raws {
		c, err := decodeContact(raw)
		if err != nil {
			return nil, err
		}
		// A contact may reference the segment id elsewhere in its body.
		if domain.HasRef(c.SegmentRefs(), segmentID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func decodeContact(raw json.RawMessage) (domain.Contact, error) {
	var head struct {
		Type string `json:"_type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case domain.DocTypeApplicant:
		var a domain.DraftApplicant
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return &a, nil
	case domain.DocTypeSubscriber:
		var s domain.NewsletterSubscriber
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return &s, nil
	}
	return nil, fmt.Errorf("unexpected contact type %q", head.Type)
}

func (r *Repository) GetApplicant(ctx context.Context, id string) (*domain.DraftApplicant, error) {
	var a domain.DraftApplicant
	if err := r.store.Get(ctx, id, &a); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, cdp.ErrContactNotFound
		}
		return nil, fmt.Errorf("get applicant %s: %w", id, err)
	}
	if a.Type != domain.DocTypeApplicant {
		return nil, cdp.ErrContactNotFound
	}
	return &a, nil
}

func (r *Repository) FindApplicantByEmail(ctx context.Context, email string) (*domain.DraftApplicant, error) {
	return r.findApplicant(ctx, docstore.EqFold("email", domain.NormalizeEmail(email)))
}

func (r *Repository) FindApplicantBySourceID(ctx context.Context, sourceID string) (*domain.DraftApplicant, error) {
	if sourceID == "" {
		return nil, nil
	}
	return r.findApplicant(ctx, docstore.Eq("sourceId", sourceID))
}

func (r *Repository) findApplicant(ctx context.Context, f docstore.Filter) (*domain.DraftApplicant, error) {
	var apps []domain.DraftApplicant
	if err := r.store.Fetch(ctx, docstore.OfType(domain.DocTypeApplicant).Where(f).First(1), &apps); err != nil {
		return nil, fmt.Errorf("find applicant: %w", err)
	}
	if len(apps) == 0 {
		return nil, nil
	}
	return &apps[0], nil
}

func (r *Repository) CreateApplicant(ctx context.Context, a *domain.DraftApplicant) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.Type = domain.DocTypeApplicant
	if a.Status == "" {
		a.Status = domain.ApplicantNew
	}
	if err := r.store.Create(ctx, a); err != nil {
		return fmt.Errorf("create applicant: %w", err)
	}
	return nil
}

func (r *Repository) UpdateApplicantProfile(ctx context.Context, a *domain.DraftApplicant) error {
	p := docstore.Edit(r.store, a.ID)
	fields := map[string]string{
		"email":      domain.NormalizeEmail(a.Email),
		"firstName":  a.FirstName,
		"lastName":   a.LastName,
		"phone":      a.Phone,
		"city":       a.City,
		"state":      a.State,
		"ageGroup":   a.AgeGroup,
		"position":   a.Position,
		"experience": a.Experience,
		"source":     a.Source,
		"sourceId":   a.SourceID,
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if fields[k] != "" {
			p.Set(k, fields[k])
		}
	}
	if len(a.PreferredPositions) > 0 {
		p.Set("preferredPositions", a.PreferredPositions)
	}
	if a.SubmittedAt != nil {
		p.Set("submittedAt", a.SubmittedAt)
	}
	return p.Commit(ctx)
}

func (r *Repository) ListPendingApplicants(ctx context.Context, now time.Time) ([]domain.DraftApplicant, error) {
	var apps []domain.DraftApplicant
	q := docstore.OfType(domain.DocTypeApplicant).Where(docstore.Defined("flowEnrollments"))
	if err := r.store.Fetch(ctx, q, &apps); err != nil {
		return nil, fmt.Errorf("list pending applicants: %w", err)
	}
	out := apps[:0]
	for _, a := range apps {
		for i := range a.FlowEnrollments {
			if a.FlowEnrollments[i].Due(now) {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (r *Repository) SetSegments(ctx context.Context, contactID string, refs []domain.Reference) error {
	if refs == nil {
		refs = []domain.Reference{}
	}
	return docstore.Edit(r.store, contactID).Set("segments", refs).Commit(ctx)
}

func (r *Repository) SetResendContactID(ctx context.Context, contactID, resendID string) error {
	return docstore.Edit(r.store, contactID).Set("resendContactId", resendID).Commit(ctx)
}

func (r *Repository) SetEnrollments(ctx context.Context, applicantID string, enrollments []domain.FlowEnrollment) error {
	return docstore.Edit(r.store, applicantID).Set("flowEnrollments", enrollments).Commit(ctx)
}

func (r *Repository) SetStatus(ctx context.Context, applicantID string, status domain.ApplicantStatus) error {
	return docstore.Edit(r.store, applicantID).Set("status", status).Commit(ctx)
}

func (r *Repository) SetTags(ctx context.Context, applicantID string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	return docstore.Edit(r.store, applicantID).Set("tags", tags).Commit(ctx)
}

func (r *Repository) RecordEmailSent(ctx context.Context, applicantID string, at time.Time) error {
	return docstore.Edit(r.store, applicantID).
		Inc("emailEngagement.emailsSent", 1).
		Set("emailEngagement.lastEmailSentAt", at).
		Commit(ctx)
}

func (r *Repository) RecordEngagement(ctx context.Context, applicantID string, kind domain.EmailEventType, at time.Time) error {
	switch kind {
	case domain.EventOpened:
		return docstore.Edit(r.store, applicantID).
			Inc("emailEngagement.emailsOpened", 1).
			Set("emailEngagement.lastEmailOpenedAt", at).
			Commit(ctx)
	case domain.EventClicked:
		return docstore.Edit(r.store, applicantID).
			Inc("emailEngagement.emailsClicked", 1).
			Set("emailEngagement.lastEmailClickedAt", at).
			Commit(ctx)
	}
	return nil
}

func (r *Repository) MarkUnsubscribed(ctx context.Context, email string, at time.Time) (int, error) {
	var docs []struct {
		ID string `json:"_id"`
	}
	q := docstore.OfType(domain.DocTypeApplicant, domain.DocTypeSubscriber).
		Where(docstore.EqFold("email", domain.NormalizeEmail(email)))
	if err := r.store.Fetch(ctx, q, &docs); err != nil {
		return 0, fmt.Errorf("find contacts by email: %w", err)
	}
	for _, d := range docs {
		err := docstore.Edit(r.store, d.ID).
			Set("emailEngagement.unsubscribed", true).
			Set("emailEngagement.unsubscribedAt", at).
			Commit(ctx)
		if err != nil {
			return 0, err
		}
	}
	return len(docs), nil
}

// =============================================================================
// SEGMENTS
// =============================================================================

func (r *Repository) GetSegment(ctx context.Context, id string) (*domain.Segment, error) {
	var s domain.Segment
	if err := r.store.Get(ctx, id, &s); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, cdp.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("get segment %s: %w", id, err)
	}
	return &s, nil
}

func (r *Repository) ListActiveSegments(ctx context.Context) ([]domain.Segment, error) {
	var segs []domain.Segment
	q := docstore.OfType(domain.DocTypeSegment).Where(docstore.Eq("isActive", true)).Order("name", false)
	if err := r.store.Fetch(ctx, q, &segs); err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	return segs, nil
}

func (r *Repository) SetComputed(ctx context.Context, id string, memberCount int, at time.Time) error {
	return docstore.Edit(r.store, id).Set("memberCount", memberCount).Set("lastComputedAt", at).Commit(ctx)
}

func (r *Repository) SetMemberCount(ctx context.Context, id string, memberCount int) error {
	return docstore.Edit(r.store, id).Set("memberCount", memberCount).Commit(ctx)
}

func (r *Repository) SetLastSynced(ctx context.Context, id string, at time.Time) error {
	return docstore.Edit(r.store, id).Set("resendSync.lastSyncedAt", at).Commit(ctx)
}

func (r *Repository) SetAudience(ctx context.Context, id, audienceID string) error {
	return docstore.Edit(r.store, id).
		Set("resendSync.audienceId", audienceID).
		Set("resendSync.enabled", true).
		Commit(ctx)
}

// =============================================================================
// FLOWS, TEMPLATES, EVENTS
// =============================================================================

func (r *Repository) GetFlow(ctx context.Context, id string) (*domain.EmailFlow, error) {
	var f domain.EmailFlow
	if err := r.store.Get(ctx, id, &f); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, cdp.ErrFlowNotFound
		}
		return nil, fmt.Errorf("get flow %s: %w", id, err)
	}
	return &f, nil
}

func (r *Repository) ListActiveFlows(ctx context.Context, trigger domain.TriggerType) ([]domain.EmailFlow, error) {
	var flows []domain.EmailFlow
	q := docstore.OfType(domain.DocTypeFlow).Where(
		docstore.Eq("isActive", true),
		docstore.Eq("trigger.type", string(trigger)),
	)
	if err := r.store.Fetch(ctx, q, &flows); err != nil {
		return nil, fmt.Errorf("list %s flows: %w", trigger, err)
	}
	return flows, nil
}

func (r *Repository) IncrementStats(ctx context.Context, flowID string, deltas map[string]int) error {
	paths := make([]string, 0, len(deltas))
	for path := range deltas {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	p := docstore.Edit(r.store, flowID)
	for _, path := range paths {
		p.Inc(path, deltas[path])
	}
	return p.Commit(ctx)
}

func (r *Repository) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	var t domain.EmailTemplate
	if err := r.store.Get(ctx, id, &t); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, cdp.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("get template %s: %w", id, err)
	}
	return &t, nil
}

func (r *Repository) CreateEvent(ctx context.Context, e *domain.EmailEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Type = domain.DocTypeEvent
	if err := r.store.Create(ctx, e); err != nil {
		return fmt.Errorf("create email event: %w", err)
	}
	return nil
}

// ListEvents returns the events recorded for an applicant, oldest first.
func (r *Repository) ListEvents(ctx context.Context, applicantID string) ([]domain.EmailEvent, error) {
	var events []domain.EmailEvent
	q := docstore.OfType(domain.DocTypeEvent).Where(docstore.Eq("applicant._ref", applicantID)).Order("occurredAt", false)
	if err := r.store.Fetch(ctx, q, &events); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
