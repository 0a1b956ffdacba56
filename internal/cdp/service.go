package cdp

import "time"

// Deps are the collaborators needed to assemble a Service.
type Deps struct {
	Store    Store
	Audience AudienceProvider
	Mailer   Mailer
	Renderer Renderer
	Executor ExecutorConfig
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Service wires the CDP components over one store.
type Service struct {
	Segments *SegmentEngine
	Audience *AudienceSync
	Flows    *FlowExecutor
	Pending  *PendingScanner
	Intake   *Intake

	// Engagement records provider webhook activity.
	Engagement *EngagementRecorder
}

// New assembles a Service. A nil Audience provider disables audience sync.
func New(d Deps) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}

	var audience *AudienceSync
	if d.Audience != nil {
		audience = NewAudienceSync(d.Store, d.Store, d.Audience, now)
	}
	segments := NewSegmentEngine(d.Store, d.Store, audience, now)
	flows := NewFlowExecutor(d.Store, d.Mailer, d.Renderer, d.Executor, now)

	return &Service{
		Segments: segments,
		Audience: audience,
		Flows:    flows,
		Pending:  NewPendingScanner(d.Store, flows, now),
		Intake:   NewIntake(d.Store, segments, flows, now),

		Engagement: NewEngagementRecorder(d.Store, audience, now),
	}
}
