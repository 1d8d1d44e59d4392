// Package scheduler provides the daemon that keeps enrolled boards in sync.
//
// The scheduler:
//  1. Ticks on a fixed interval and enumerates sync-enabled users
//  2. Enqueues one job per enrolled (user, board) pair
//  3. Runs jobs on a bounded worker pool with per-job timeouts
//  4. Retries failed jobs with exponential backoff, auth failures excepted
//  5. Handles graceful shutdown
//
// At most one job per (user, board) pair is in flight at any time. A pair
// still running when the next tick fires is skipped, not queued twice. Jobs
// for the same user run one at a time: all of a user's boards share one
// calendar, and concurrent passes over it would each turn the same unlinked
// event into a card.
//
// The worker pool is shared across ticks, so jobs that outlast a tick still
// count against the concurrency bound.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adiwijaya/boardsync/internal/engine"
	"github.com/adiwijaya/boardsync/internal/model"
	"github.com/adiwijaya/boardsync/internal/retry"
	"github.com/adiwijaya/boardsync/internal/syncerr"
)

// Runner executes sync jobs and enumerates who needs them. Implemented by
// *service.Service.
type Runner interface {
	RunSync(ctx context.Context, job engine.Job) (*model.SyncReport, error)
	ListSyncEnabledUsers(ctx context.Context) ([]*model.User, error)
}

// Event is a job lifecycle notification for live monitoring.
type Event struct {
	Type     string    `json:"type"` // "job.started", "job.finished", "job.failed"
	UserID   string    `json:"userId"`
	BoardID  string    `json:"boardId"`
	Ops      int       `json:"ops,omitempty"`
	Failures int       `json:"failures,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Publisher receives scheduler events. Implemented by *dashboard.Server.
type Publisher interface {
	Publish(ev Event)
}

// Config holds configuration for the scheduler.
type Config struct {
	// TickInterval is how often enrolled pairs are enumerated.
	TickInterval time.Duration

	// Concurrency bounds how many jobs run at once.
	Concurrency int

	// JobTimeout is the wall-clock budget for one job including retries.
	JobTimeout time.Duration

	// MaxRetries is the total attempts per job within its timeout.
	MaxRetries int

	// RetryBaseDelay seeds the exponential backoff between attempts.
	RetryBaseDelay time.Duration

	// Logger for scheduler activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TickInterval:   10 * time.Second,
		Concurrency:    4,
		JobTimeout:     2 * time.Minute,
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		Logger:         log.New(os.Stderr, "[scheduler] ", log.LstdFlags),
	}
}

// Scheduler drives periodic reconciliation.
type Scheduler struct {
	runner Runner
	pub    Publisher
	config *Config

	// pool outlives individual ticks so its limit bounds all in-flight
	// jobs, not one tick's batch.
	pool *errgroup.Group

	inflight   map[string]bool // "userID/boardID"
	inflightMu sync.Mutex

	userMu   map[string]*sync.Mutex
	userMuMu sync.Mutex

	configMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. pub may be nil when no monitoring is attached.
func New(runner Runner, pub Publisher, config *Config) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}

	pool := &errgroup.Group{}
	pool.SetLimit(config.Concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		pub:      pub,
		config:   config,
		pool:     pool,
		inflight: make(map[string]bool),
		userMu:   make(map[string]*sync.Mutex),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start runs the scheduling loop. It dispatches one batch immediately, then
// on every tick, and blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.config.Logger.Println("starting scheduler")

	s.dispatch(ctx)

	ticker := time.NewTicker(s.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Println("scheduler context cancelled, draining jobs")
			s.wg.Wait()
			return ctx.Err()
		case <-s.ctx.Done():
			s.config.Logger.Println("scheduler stopped, draining jobs")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.dispatch(ctx)
			ticker.Reset(s.tickInterval())
		}
	}
}

// Stop signals the loop to exit and waits for in-flight jobs to drain.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Retune adjusts the tick interval at runtime. Zero leaves it unchanged.
// The new interval takes effect from the next tick.
func (s *Scheduler) Retune(tick time.Duration) {
	if tick <= 0 {
		return
	}
	s.configMu.Lock()
	s.config.TickInterval = tick
	s.configMu.Unlock()
	s.config.Logger.Printf("tick interval retuned to %s", tick)
}

func (s *Scheduler) tickInterval() time.Duration {
	s.configMu.Lock()
	defer s.configMu.Unlock()
	return s.config.TickInterval
}

// dispatch enumerates enrolled pairs and runs a bounded batch of jobs,
// skipping pairs that are still in flight from a previous tick.
func (s *Scheduler) dispatch(ctx context.Context) {
	users, err := s.runner.ListSyncEnabledUsers(ctx)
	if err != nil {
		s.config.Logger.Printf("warning: failed to enumerate users: %v", err)
		return
	}

	var jobs []engine.Job
	for _, user := range users {
		for _, b := range user.Boards {
			jobs = append(jobs, engine.Job{
				UserID:  user.ID,
				BoardID: b.BoardID,
				ListID:  b.ListID,
			})
		}
	}
	if len(jobs) == 0 {
		return
	}

	for _, job := range jobs {
		job := job
		key := job.UserID + "/" + job.BoardID
		if !s.acquire(key) {
			continue
		}
		s.wg.Add(1)
		started := s.pool.TryGo(func() error {
			defer s.wg.Done()
			defer s.release(key)
			s.runJob(ctx, job)
			return nil
		})
		if !started {
			// Pool is full; the pair waits for the next tick.
			s.release(key)
			s.wg.Done()
		}
	}
}

// runJob executes one job with its timeout and retry budget.
func (s *Scheduler) runJob(ctx context.Context, job engine.Job) {
	mu := s.userLock(job.UserID)
	mu.Lock()
	defer mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	s.publish(Event{Type: "job.started", UserID: job.UserID, BoardID: job.BoardID, Time: time.Now().UTC()})

	policy := retry.Policy{
		MaxAttempts: s.config.MaxRetries,
		BaseDelay:   s.config.RetryBaseDelay,
		MaxDelay:    30 * time.Second,
		// Auth failures need new credentials, not another attempt.
		Retryable: func(err error) bool { return !syncerr.IsAuth(err) },
	}

	report, err := retry.DoValue(jobCtx, policy, func(ctx context.Context) (*model.SyncReport, error) {
		return s.runner.RunSync(ctx, job)
	})
	if err != nil {
		s.config.Logger.Printf("warning: job %s/%s failed: %v", job.UserID, job.BoardID, err)
		s.publish(Event{
			Type: "job.failed", UserID: job.UserID, BoardID: job.BoardID,
			Error: err.Error(), Time: time.Now().UTC(),
		})
		return
	}

	if n := report.Ops(); n > 0 {
		s.config.Logger.Printf("job %s/%s: %d operations, %d failed",
			job.UserID, job.BoardID, n, report.Failures())
	}
	s.publish(Event{
		Type: "job.finished", UserID: job.UserID, BoardID: job.BoardID,
		Ops: report.Ops(), Failures: report.Failures(), Time: time.Now().UTC(),
	})
}

func (s *Scheduler) acquire(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *Scheduler) release(key string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, key)
}

// userLock returns the mutex serializing jobs for one user's calendar.
func (s *Scheduler) userLock(userID string) *sync.Mutex {
	s.userMuMu.Lock()
	defer s.userMuMu.Unlock()
	mu, ok := s.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		s.userMu[userID] = mu
	}
	return mu
}

func (s *Scheduler) publish(ev Event) {
	if s.pub != nil {
		s.pub.Publish(ev)
	}
}
