package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/recruit-cdp/internal/pkg/httputil"
)

// HealthStatus is the body of /health and /health/ready.
type HealthStatus struct {
	Status string                    `json:"status"` // healthy | degraded | unhealthy
	Ready  *bool                     `json:"ready,omitempty"`
	Uptime string                    `json:"uptime,omitempty"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the state of one dependency.
type ComponentCheck struct {
	Status   string `json:"status"` // up | down | degraded
	Latency  string `json:"latency,omitempty"`
	Message  string `json:"message,omitempty"`
	Critical bool   `json:"critical,omitempty"`
}

// Pinger is any dependency with a reachability check, such as the report
// archive or the document store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

const notConfigured = "not configured"

type probe struct {
	name     string
	pinger   Pinger // nil when the dependency is not configured
	critical bool
	timeout  time.Duration
}

// HealthChecker probes the database, Redis, the document store and the
// report archive. Any of them can be nil.
type HealthChecker struct {
	probes    []probe
	startTime time.Time
}

// NewHealthChecker builds the standard probe set. The store is critical;
// so is the database when one is configured.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, store, archive Pinger) *HealthChecker {
	hc := &HealthChecker{startTime: time.Now()}

	var dbPing, redisPing Pinger
	if db != nil {
		dbPing = PingFunc(db.PingContext)
	}
	if redisClient != nil {
		redisPing = PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	hc.probes = []probe{
		{name: "store", pinger: store, critical: true, timeout: 5 * time.Second},
		{name: "database", pinger: dbPing, critical: true, timeout: 3 * time.Second},
		{name: "redis", pinger: redisPing, timeout: 2 * time.Second},
		{name: "archive", pinger: archive, timeout: 3 * time.Second},
	}
	return hc
}

// HandleHealth always answers 200; the body carries the status.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAll(r.Context())
	httputil.OK(w, HealthStatus{
		Status: determineOverallStatus(checks),
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: checks,
	})
}

// HandleReadiness answers 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAll(r.Context())
	overall := determineOverallStatus(checks)
	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, HealthStatus{Status: overall, Ready: &ready, Checks: checks})
}

func (hc *HealthChecker) runAll(ctx context.Context) map[string]ComponentCheck {
	checks := make(map[string]ComponentCheck, len(hc.probes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range hc.probes {
		wg.Add(1)
		go func(p probe) {
			defer wg.Done()
			c := p.run(ctx)
			mu.Lock()
			checks[p.name] = c
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return checks
}

// run pings once. A ping slower than a third of the timeout is degraded.
func (p probe) run(ctx context.Context) ComponentCheck {
	if p.pinger == nil {
		return ComponentCheck{Status: "down", Message: notConfigured, Critical: p.critical}
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Ping(pingCtx)
	latency := time.Since(start)

	c := ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected", Critical: p.critical}
	switch {
	case err != nil:
		c.Status, c.Message = "down", fmt.Sprintf("ping failed: %v", err)
	case latency > p.timeout/3:
		c.Status, c.Message = "degraded", "slow response"
	}
	return c
}

// determineOverallStatus is unhealthy when a configured critical check is
// down, degraded when anything else configured is down or slow.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	overall := "healthy"
	for _, c := range checks {
		configured := c.Message != notConfigured
		switch {
		case c.Status == "down" && configured && c.Critical:
			return "unhealthy"
		case c.Status == "degraded", c.Status == "down" && configured:
			overall = "degraded"
		}
	}
	return overall
}
