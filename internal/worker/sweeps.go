package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/recruit-cdp/internal/archive"
	"github.com/ignite/recruit-cdp/internal/cdp"
	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/pkg/distlock"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// =============================================================================
// SWEEP RUNNER
// =============================================================================
// Sweeps are whole-dataset passes: resuming due flow steps, re-evaluating
// segments, reconciling audiences and pulling SharePoint registrations.
// Each run holds a distributed lock named after the sweep so scheduled
// ticks, API triggers and CLI runs never overlap across replicas.

// ErrLocked is returned by RunOnce when another holder owns the sweep lock.
var ErrLocked = errors.New("sweep already running")

// ErrUnknownSweep is returned by RunOnce for unregistered names.
var ErrUnknownSweep = errors.New("unknown sweep")

// Sweep names. They double as archive kinds.
const (
	SweepPending    = archive.KindPending
	SweepSegments   = archive.KindSegments
	SweepAudiences  = archive.KindAudiences
	SweepSharePoint = archive.KindSharePoint
)

// Sweep is one named pass. A zero Interval registers it for manual runs only.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (any, error)
}

// Archiver persists sweep reports.
type Archiver interface {
	Save(ctx context.Context, kind string, report any) (string, error)
}

// SweepRunner schedules sweeps and runs them under a lock.
type SweepRunner struct {
	sweeps   map[string]Sweep
	lockTTL  time.Duration
	workerID string

	redisClient *redis.Client // optional
	db          *sql.DB       // optional; used for PG advisory locks when Redis is absent
	archive     Archiver      // optional

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewSweepRunner registers the standard sweeps over svc. The audience
// sweep is registered only when audience sync is configured.
func NewSweepRunner(svc *cdp.Service, cfg config.WorkerConfig) *SweepRunner {
	r := NewSweepRunnerWith(cfg.LockTTL())

	r.Register(Sweep{
		Name:     SweepPending,
		Interval: cfg.PendingInterval(),
		Run: func(ctx context.Context) (any, error) {
			return report(svc.Pending.ProcessPending(ctx))
		},
	})
	r.Register(Sweep{
		Name:     SweepSegments,
		Interval: cfg.SegmentInterval(),
		Run: func(ctx context.Context) (any, error) {
			evals, err := svc.Segments.EvaluateAll(ctx)
			return map[string]any{"segments": evals}, err
		},
	})
	if svc.Audience != nil {
		r.Register(Sweep{
			Name:     SweepAudiences,
			Interval: cfg.AudienceInterval(),
			Run: func(ctx context.Context) (any, error) {
				return report(svc.Audience.SyncAll(ctx))
			},
		})
	}
	return r
}

// NewSweepRunnerWith creates a runner with no sweeps registered.
func NewSweepRunnerWith(lockTTL time.Duration) *SweepRunner {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &SweepRunner{
		sweeps:   map[string]Sweep{},
		lockTTL:  lockTTL,
		workerID: fmt.Sprintf("sweeper-%s-%d", getHostname(), time.Now().UnixNano()%10000),
	}
}

// RegisterSharePoint adds the SharePoint intake sweep.
func (r *SweepRunner) RegisterSharePoint(intake *cdp.Intake, src cdp.SubmissionSource, interval time.Duration) {
	r.Register(Sweep{
		Name:     SweepSharePoint,
		Interval: interval,
		Run: func(ctx context.Context) (any, error) {
			return report(intake.SyncSource(ctx, src))
		},
	})
}

// Register adds or replaces a sweep. Call before Start.
func (r *SweepRunner) Register(s Sweep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps[s.Name] = s
}

// SetRedisClient sets the Redis client for distributed locking.
func (r *SweepRunner) SetRedisClient(client *redis.Client) { r.redisClient = client }

// SetDB enables PostgreSQL advisory locks when Redis is not configured.
func (r *SweepRunner) SetDB(db *sql.DB) { r.db = db }

// SetArchive enables report archiving.
func (r *SweepRunner) SetArchive(a Archiver) { r.archive = a }

// Names lists registered sweeps in name order.
func (r *SweepRunner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sweeps))
	for n := range r.sweeps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *SweepRunner) lock(name string) distlock.DistLock {
	key := "sweep:" + name
	l, err := distlock.NewLock(r.redisClient, r.db, key, r.lockTTL)
	if errors.Is(err, distlock.ErrNoBackend) {
		return distlock.NewLocalLock(key)
	}
	return l
}

// RunOnce runs one sweep now. It returns ErrLocked without running when
// the sweep is held elsewhere. A sweep error still archives the partial
// report.
func (r *SweepRunner) RunOnce(ctx context.Context, name string) (any, error) {
	r.mu.RLock()
	s, ok := r.sweeps[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSweep, name)
	}

	lock := r.lock(name)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire %s lock: %w", name, err)
	}
	if !acquired {
		logger.Info("sweep skipped, lock held elsewhere", "sweep", name, "worker_id", r.workerID)
		return nil, ErrLocked
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			logger.Warn("failed to release sweep lock", "sweep", name, "error", err)
		}
	}()

	if ext, ok := lock.(distlock.Extender); ok {
		stop := r.heartbeat(ctx, name, ext)
		defer stop()
	}

	start := time.Now()
	out, runErr := s.Run(ctx)
	logger.Info("sweep finished",
		"sweep", name,
		"worker_id", r.workerID,
		"duration_ms", time.Since(start).Milliseconds(),
		"ok", runErr == nil)

	if r.archive != nil && out != nil {
		if key, err := r.archive.Save(ctx, name, out); err != nil {
			logger.Warn("failed to archive sweep report", "sweep", name, "error", err)
		} else {
			logger.Debug("sweep report archived", "sweep", name, "key", key)
		}
	}
	return out, runErr
}

// heartbeat keeps an expiring lock alive at half its TTL until stop is
// called.
func (r *SweepRunner) heartbeat(ctx context.Context, name string, ext distlock.Extender) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.lockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ext.Extend(ctx, r.lockTTL); err != nil {
					logger.Warn("failed to extend sweep lock", "sweep", name, "error", err)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Start launches one ticker loop per scheduled sweep.
func (r *SweepRunner) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("sweep runner already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())
	sweeps := make([]Sweep, 0, len(r.sweeps))
	for _, s := range r.sweeps {
		if s.Interval > 0 {
			sweeps = append(sweeps, s)
		}
	}
	r.mu.Unlock()

	for _, s := range sweeps {
		r.wg.Add(1)
		go r.loop(s)
		logger.Info("sweep scheduled", "sweep", s.Name, "interval", s.Interval.String())
	}
	return nil
}

// Stop cancels in-flight sweeps and waits for the loops to exit.
func (r *SweepRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	logger.Info("sweep runner stopped", "worker_id", r.workerID)
}

func (r *SweepRunner) loop(s Sweep) {
	defer r.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(r.ctx, s.Name); err != nil && !errors.Is(err, ErrLocked) {
				logger.Error("sweep failed", "sweep", s.Name, "error", err)
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// report keeps a nil result pointer from becoming a non-nil interface.
func report[T any](r *T, err error) (any, error) {
	if r == nil {
		return nil, err
	}
	return r, err
}

func getHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
