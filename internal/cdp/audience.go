package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/recruit-cdp/internal/domain"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// AudienceSyncResult reports one segment reconciliation. Success is false
// when any add, remove or update failed; the remaining work still ran.
type AudienceSyncResult struct {
	SegmentID   string   `json:"segmentId"`
	SegmentName string   `json:"segmentName"`
	AudienceID  string   `json:"audienceId"`
	Added       []string `json:"added"`
	Existing    []string `json:"existing"`
	Updated     []string `json:"updated"`
	Removed     []string `json:"removed"`
	Errors      []string `json:"errors"`
	Success     bool     `json:"success"`
}

// AudienceSyncSummary aggregates a sync of all bound segments.
type AudienceSyncSummary struct {
	Synced  int                   `json:"synced"`
	Failed  int                   `json:"failed"`
	Results []*AudienceSyncResult `json:"results"`
	Errors  []string              `json:"errors"`
}

// AudienceSync reconciles segments with external audiences.
type AudienceSync struct {
	contacts ContactRepository
	segments SegmentRepository
	provider AudienceProvider
	now      func() time.Time
}

// NewAudienceSync creates an audience reconciler.
func NewAudienceSync(contacts ContactRepository, segments SegmentRepository, provider AudienceProvider, now func() time.Time) *AudienceSync {
	if now == nil {
		now = time.Now
	}
	return &AudienceSync{contacts: contacts, segments: segments, provider: provider, now: now}
}

// SyncSegment pushes a segment's stored membership to its bound audience:
// members missing remotely are added, remote contacts that are no longer
// members are removed, and opt-out flags that drifted are updated.
// Emails are compared lower-cased.
func (s *AudienceSync) SyncSegment(ctx context.Context, segmentID string) (*AudienceSyncResult, error) {
	seg, err := s.segments.GetSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if seg.ResendSync.AudienceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoAudience, seg.Name)
	}
	audienceID := seg.ResendSync.AudienceID

	members, err := s.contacts.SegmentMembers(ctx, seg.ID)
	if err != nil {
		return nil, fmt.Errorf("load members of %s: %w", seg.ID, err)
	}
	remote, err := s.provider.ListContacts(ctx, audienceID)
	if err != nil {
		return nil, fmt.Errorf("list audience %s: %w", audienceID, err)
	}

	res := &AudienceSyncResult{
		SegmentID:   seg.ID,
		SegmentName: seg.Name,
		AudienceID:  audienceID,
		Added:       []string{},
		Existing:    []string{},
		Updated:     []string{},
		Removed:     []string{},
		Errors:      []string{},
	}

	remoteByEmail := make(map[string]domain.AudienceContact, len(remote))
	for _, rc := range remote {
		remoteByEmail[domain.NormalizeEmail(rc.Email)] = rc
	}
	memberEmails := make(map[string]bool, len(members))

	for _, c := range members {
		email := domain.NormalizeEmail(c.ContactEmail())
		if email == "" || memberEmails[email] {
			continue
		}
		memberEmails[email] = true
		unsubscribed := c.Engagement().Unsubscribed

		if rc, ok := remoteByEmail[email]; ok {
			if rc.Unsubscribed != unsubscribed {
				if err := s.provider.UpdateContact(ctx, audienceID, email, unsubscribed); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("update %s: %v", email, err))
				} else {
					res.Updated = append(res.Updated, email)
				}
			}
			continue
		}

		first, _ := c.Field("firstName").(string)
		last, _ := c.Field("lastName").(string)
		id, existing, err := s.provider.CreateContact(ctx, domain.NewAudienceContact{
			AudienceID:   audienceID,
			Email:        email,
			FirstName:    first,
			LastName:     last,
			Unsubscribed: unsubscribed,
		})
		switch {
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("add %s: %v", email, err))
		case existing:
			res.Existing = append(res.Existing, email)
		default:
			res.Added = append(res.Added, email)
			if stored, _ := c.Field("resendContactId").(string); id != "" && id != stored {
				if err := s.contacts.SetResendContactID(ctx, c.ContactID(), id); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("store contact id for %s: %v", email, err))
				}
			}
		}
	}

	for _, rc := range remote {
		email := domain.NormalizeEmail(rc.Email)
		if memberEmails[email] {
			continue
		}
		if err := s.provider.RemoveContact(ctx, audienceID, rc.Email); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("remove %s: %v", email, err))
			continue
		}
		res.Removed = append(res.Removed, email)
	}

	if err := s.segments.SetLastSynced(ctx, seg.ID, s.now()); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("stamp last synced: %v", err))
	}
	res.Success = len(res.Errors) == 0

	logger.Info("audience synced",
		"segment_id", seg.ID,
		"audience_id", audienceID,
		"added", len(res.Added),
		"existing", len(res.Existing),
		"removed", len(res.Removed),
		"errors", len(res.Errors))
	return res, nil
}

// SyncAll reconciles every active segment that has sync enabled and an
// audience bound.
func (s *AudienceSync) SyncAll(ctx context.Context) (*AudienceSyncSummary, error) {
	segs, err := s.segments.ListActiveSegments(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync audiences: %w", err)
	}

	summary := &AudienceSyncSummary{Results: []*AudienceSyncResult{}, Errors: []string{}}
	for _, seg := range segs {
		if !seg.SyncEnabled() {
			continue
		}
		res, err := s.SyncSegment(ctx, seg.ID)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", seg.Name, err))
			logger.Error("audience sync failed", "segment_id", seg.ID, "error", err)
			continue
		}
		summary.Results = append(summary.Results, res)
		if res.Success {
			summary.Synced++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

// ProvisionAudience binds a segment to an external audience, reusing an
// audience with the same name when one exists.
func (s *AudienceSync) ProvisionAudience(ctx context.Context, segmentID string) (string, error) {
	seg, err := s.segments.GetSegment(ctx, segmentID)
	if err != nil {
		return "", err
	}
	if seg.ResendSync.AudienceID != "" {
		return seg.ResendSync.AudienceID, nil
	}

	audiences, err := s.provider.ListAudiences(ctx)
	if err != nil {
		return "", fmt.Errorf("list audiences: %w", err)
	}
	audienceID := ""
	for _, a := range audiences {
		if strings.EqualFold(a.Name, seg.Name) {
			audienceID = a.ID
			break
		}
	}
	if audienceID == "" {
		audienceID, err = s.provider.CreateAudience(ctx, seg.Name)
		if err != nil {
			return "", fmt.Errorf("create audience for %s: %w", seg.Name, err)
		}
	}

	if err := s.segments.SetAudience(ctx, seg.ID, audienceID); err != nil {
		return "", fmt.Errorf("bind audience: %w", err)
	}
	logger.Info("audience provisioned", "segment_id", seg.ID, "audience_id", audienceID)
	return audienceID, nil
}

// HandleUnsubscribe flags every contact with the address as unsubscribed.
// Segment membership is corrected by the next evaluation sweep.
func (s *AudienceSync) HandleUnsubscribe(ctx context.Context, email string) (int, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return 0, ErrMissingEmail
	}
	n, err := s.contacts.MarkUnsubscribed(ctx, email, s.now())
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrContactNotFound
	}
	logger.Info("contact unsubscribed", "email", email, "contacts", n)
	return n, nil
}
