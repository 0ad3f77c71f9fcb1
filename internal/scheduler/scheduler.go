package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"portalsync/internal/components/assert"
	"portalsync/internal/components/observable"
	"portalsync/internal/components/telemetry"
	"portalsync/internal/notify"

	"github.com/cenkalti/backoff/v4"
)

const (
	report_scheduler_run      = "scheduler.run"
	report_scheduler_interval = "scheduler.interval"
)

// MinInterval is the shortest period between two regular runs.
const MinInterval = 15 * time.Minute

const (
	DefaultMaxAttempts    = 4
	DefaultInitialBackoff = 30 * time.Second
)

// Job is one run of the recurring work.
type Job func(ctx context.Context) notify.Outcome

type Config struct {
	// IntervalMinutes is raised to MinInterval when shorter.
	IntervalMinutes int `json:"interval_minutes"`
	// MaxAttempts bounds the attempts of a run reporting Retry.
	MaxAttempts           int `json:"max_attempts"`
	InitialBackoffSeconds int `json:"initial_backoff_seconds"`
}

// Scheduler runs a job periodically. Runs never overlap, a run reporting
// Retry is attempted again with jittered exponential backoff.
type Scheduler struct {
	job            Job
	tel            telemetry.API
	interval       time.Duration
	maxAttempts    int
	initialBackoff time.Duration

	running atomic.Bool

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(job Job, tel telemetry.API, config Config) *Scheduler {
	assert.NotNil(job)
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("scheduler", tel)

	interval := time.Duration(config.IntervalMinutes) * time.Minute
	if interval < MinInterval {
		if config.IntervalMinutes > 0 {
			tel.ReportWarning(report_scheduler_interval, fmt.Errorf("interval %s raised to %s", interval, MinInterval))
		}
		interval = MinInterval
	}
	maxAttempts := DefaultMaxAttempts
	if config.MaxAttempts > 0 {
		maxAttempts = config.MaxAttempts
	}
	initialBackoff := DefaultInitialBackoff
	if config.InitialBackoffSeconds > 0 {
		initialBackoff = time.Duration(config.InitialBackoffSeconds) * time.Second
	}

	return &Scheduler{
		job:            job,
		tel:            tel,
		interval:       interval,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
	}
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxInterval = s.interval
	// retries must be over before the next regular run
	b.MaxElapsedTime = s.interval
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(s.maxAttempts-1))
}

// RunNow runs the job unless a run is already in progress, `started` is
// false in that case.
func (s *Scheduler) RunNow(ctx context.Context) (outcome notify.Outcome, started bool) {
	if !s.running.CompareAndSwap(false, true) {
		s.tel.ReportDebug("run skipped, previous run still in progress")
		return notify.Success, false
	}
	defer s.running.Store(false)
	return s.attempt(ctx), true
}

func (s *Scheduler) attempt(ctx context.Context) notify.Outcome {
	b := backoff.WithContext(s.newBackOff(), ctx)
	attempt := 1
	for {
		outcome := s.job(ctx)
		s.tel.ReportDebug("run finished", attempt, outcome.String())
		if outcome != notify.Retry {
			return outcome
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			s.tel.ReportWarning(report_scheduler_run, fmt.Errorf("giving up after %d attempts", attempt))
			return outcome
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return outcome
		case <-timer.C:
		}
		attempt++
	}
}

// Start runs the job now and then every interval until Stop is called or
// `ctx` is done. Starting a started scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.loop(loopCtx, done)
}

// Stop ends the loop and waits for a run in progress to return.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Started reports whether the loop is active.
func (s *Scheduler) Started() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mutex.Lock()
		if s.done == done {
			s.cancel()
			s.cancel = nil
			s.done = nil
		}
		s.mutex.Unlock()
		close(done)
	}()

	s.RunNow(ctx)

	// ticks arriving during a run are dropped
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunNow(ctx)
		}
	}
}

// Bind starts the scheduler while `enabled` is true and stops it while it
// is false.
func (s *Scheduler) Bind(ctx context.Context, enabled *observable.Value[bool]) (unbind func()) {
	return enabled.Subscribe(func(on bool) {
		if on {
			s.tel.ReportDebug("enabled, starting")
			s.Start(ctx)
			return
		}
		s.tel.ReportDebug("disabled, stopping")
		s.Stop()
	})
}
