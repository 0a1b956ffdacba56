package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// SegmentEvaluation is the outcome of recomputing one segment.
type SegmentEvaluation struct {
	SegmentID   string   `json:"segmentId"`
	SegmentName string   `json:"segmentName"`
	Members     []string `json:"members"`
	Added       []string `json:"added"`
	Removed     []string `json:"removed"`
	Error       string   `json:"error,omitempty"`
}

// SegmentEngine computes rule-segment membership.
type SegmentEngine struct {
	contacts ContactRepository
	segments SegmentRepository
	audience *AudienceSync
	now      func() time.Time
}

// NewSegmentEngine creates a segment engine. audience may be nil, in which
// case sync-enabled segments are not pushed after evaluation.
func NewSegmentEngine(contacts ContactRepository, segments SegmentRepository, audience *AudienceSync, now func() time.Time) *SegmentEngine {
	if now == nil {
		now = time.Now
	}
	return &SegmentEngine{contacts: contacts, segments: segments, audience: audience, now: now}
}

// contactMembership tracks one contact's decisions across a sweep.
type contactMembership struct {
	contact   domain.Contact
	evaluated map[string]bool
	matched   []string
}

// EvaluateAll recomputes every active rule segment. Membership is diffed
// against the references currently stored on contacts, and each contact
// is written at most once with its consolidated segment list. Failures of
// one segment or one contact write are logged and skipped.
func (e *SegmentEngine) EvaluateAll(ctx context.Context) ([]SegmentEvaluation, error) {
	segs, err := e.segments.ListActiveSegments(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluate segments: %w", err)
	}
	now := e.now()

	populations := map[string][]domain.Contact{}
	memberships := map[string]*contactMembership{}
	var order []string
	var results []SegmentEvaluation
	var toSync []domain.Segment

	for i := range segs {
		seg := &segs[i]
		if !seg.IsRule() {
			continue
		}
		res := SegmentEvaluation{SegmentID: seg.ID, SegmentName: seg.Name}

		pop, ok := populations[seg.Target()]
		if !ok {
			pop, err = e.contacts.ListContacts(ctx, seg.Target())
			if err != nil {
				logger.Error("segment evaluation failed", "segment_id", seg.ID, "error", err)
				res.Error = err.Error()
				results = append(results, res)
				continue
			}
			populations[seg.Target()] = pop
		}

		current, err := e.contacts.SegmentMembers(ctx, seg.ID)
		if err != nil {
			logger.Error("segment membership query failed", "segment_id", seg.ID, "error", err)
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		before := make(map[string]bool, len(current))
		for _, c := range current {
			before[c.ContactID()] = true
		}

		res.Members = []string{}
		for _, c := range pop {
			id := c.ContactID()
			m, ok := memberships[id]
			if !ok {
				m = &contactMembership{contact: c, evaluated: map[string]bool{}}
				memberships[id] = m
				order = append(order, id)
			}
			m.evaluated[seg.ID] = true

			if EvaluateContactForSegment(c, seg, now) {
				m.matched = append(m.matched, seg.ID)
				res.Members = append(res.Members, id)
				if !before[id] {
					res.Added = append(res.Added, id)
				}
				delete(before, id)
			}
		}
		for _, c := range current {
			if before[c.ContactID()] && c.ContactType() == seg.Target() {
				res.Removed = append(res.Removed, c.ContactID())
			}
		}

		if err := e.segments.SetComputed(ctx, seg.ID, len(res.Members), now); err != nil {
			logger.Error("failed to store segment count", "segment_id", seg.ID, "error", err)
			res.Error = err.Error()
		}
		logger.Info("segment evaluated",
			"segment_id", seg.ID,
			"members", len(res.Members),
			"added", len(res.Added),
			"removed", len(res.Removed))

		results = append(results, res)
		if seg.SyncEnabled() {
			toSync = append(toSync, *seg)
		}
	}

	for _, id := range order {
		m := memberships[id]
		refs, changed := mergeSegmentRefs(m.contact.SegmentRefs(), m.evaluated, m.matched)
		if !changed {
			continue
		}
		if err := e.contacts.SetSegments(ctx, id, refs); err != nil {
			logger.Error("failed to write contact segments", "contact_id", id, "error", err)
		}
	}

	if e.audience != nil {
		for _, seg := range toSync {
			if _, err := e.audience.SyncSegment(ctx, seg.ID); err != nil {
				logger.Error("audience sync after evaluation failed", "segment_id", seg.ID, "error", err)
			}
		}
	}
	return results, nil
}

// EvaluateForApplicant recomputes one applicant's rule-segment membership,
// stores the new list when it changed, and refreshes member counts of the
// segments it entered or left.
func (e *SegmentEngine) EvaluateForApplicant(ctx context.Context, a *domain.DraftApplicant) (added, removed []string, err error) {
	segs, err := e.segments.ListActiveSegments(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("evaluate applicant %s: %w", a.ID, err)
	}
	now := e.now()

	evaluated := map[string]bool{}
	var matched []string
	for i := range segs {
		seg := &segs[i]
		if !seg.IsRule() || seg.Target() != domain.DocTypeApplicant {
			continue
		}
		evaluated[seg.ID] = true
		if EvaluateContactForSegment(a, seg, now) {
			matched = append(matched, seg.ID)
			if !a.InSegment(seg.ID) {
				added = append(added, seg.ID)
			}
		} else if a.InSegment(seg.ID) {
			removed = append(removed, seg.ID)
		}
	}

	refs, changed := mergeSegmentRefs(a.Segments, evaluated, matched)
	if !changed {
		return nil, nil, nil
	}
	if err := e.contacts.SetSegments(ctx, a.ID, refs); err != nil {
		return nil, nil, fmt.Errorf("store applicant segments: %w", err)
	}
	a.Segments = refs

	for _, id := range append(append([]string{}, added...), removed...) {
		members, err := e.contacts.SegmentMembers(ctx, id)
		if err != nil {
			logger.Warn("member recount failed", "segment_id", id, "error", err)
			continue
		}
		if err := e.segments.SetMemberCount(ctx, id, len(members)); err != nil {
			logger.Warn("failed to store member count", "segment_id", id, "error", err)
		}
	}
	return added, removed, nil
}

// Preview returns the emails that would currently match a segment without
// writing anything.
func (e *SegmentEngine) Preview(ctx context.Context, segmentID string) ([]string, error) {
	seg, err := e.segments.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	pop, err := e.contacts.ListContacts(ctx, seg.Target())
	if err != nil {
		return nil, err
	}
	now := e.now()
	emails := []string{}
	for _, c := range pop {
		if EvaluateContactForSegment(c, seg, now) {
			emails = append(emails, c.ContactEmail())
		}
	}
	return emails, nil
}

// mergeSegmentRefs keeps references to segments that were not evaluated
// (manual rosters, other contact types), replaces the evaluated ones with
// the matched set, and reports whether the membership changed.
func mergeSegmentRefs(existing []domain.Reference, evaluated map[string]bool, matched []string) ([]domain.Reference, bool) {
	out := make([]domain.Reference, 0, len(existing)+len(matched))
	seen := map[string]bool{}
	for _, ref := range existing {
		if evaluated[ref.Ref] || seen[ref.Ref] {
			continue
		}
		seen[ref.Ref] = true
		out = append(out, ref)
	}
	for _, id := range matched {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, domain.NewReference(id))
	}

	before := map[string]bool{}
	for _, ref := range existing {
		before[ref.Ref] = true
	}
	if len(before) != len(seen) {
		return out, true
	}
	for id := range seen {
		if !before[id] {
			return out, true
		}
	}
	return out, false
}
