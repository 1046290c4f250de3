package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner is one unit of scheduled work. RunCycle must respect ctx.
type Runner interface {
	RunCycle(ctx context.Context) error
}

// Scheduler fires the runner at a fixed interval. At most one cycle runs at
// a time; while a cycle overruns, at most one missed trigger is queued, and
// a queued trigger older than the misfire grace is dropped with a log line.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	deadline time.Duration
	grace    time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
	nextRun time.Time
	lastRun time.Time
}

// New creates a scheduler. deadline bounds each cycle; it must not exceed
// the interval or cycles would stack.
func New(runner Runner, interval, deadline, grace time.Duration) *Scheduler {
	if deadline <= 0 || deadline > interval {
		deadline = interval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		deadline: deadline,
		grace:    grace,
	}
}

// Start launches the trigger loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.nextRun = time.Now().Add(s.interval)

	go s.loop(s.stop, s.done)
	log.Info().Dur("interval", s.interval).Dur("deadline", s.deadline).
		Msg("Scheduler started")
}

// Stop halts the trigger loop and waits for an in-flight cycle to return.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	log.Info().Msg("Scheduler stopped")
}

// NextRunTime reports when the next trigger is due
func (s *Scheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// LastRunTime reports when the last cycle started; zero before the first
func (s *Scheduler) LastRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// loop fires cycles on the ticker. Cycles run inline, so an overrunning
// cycle leaves at most one tick buffered in the ticker channel; that is the
// single coalesced missed trigger.
func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case fired := <-ticker.C:
			if lag := time.Since(fired); s.grace > 0 && lag > s.grace {
				log.Warn().Dur("lag", lag).Dur("grace", s.grace).
					Msg("Dropping stale cycle trigger")
				s.mu.Lock()
				s.nextRun = time.Now().Add(s.interval)
				s.mu.Unlock()
				continue
			}
			s.fire(stop)
		}
	}
}

// fire runs one cycle with the per-cycle deadline applied
func (s *Scheduler) fire(stop <-chan struct{}) {
	start := time.Now()
	s.mu.Lock()
	s.lastRun = start
	s.nextRun = start.Add(s.interval)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.deadline)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.runner.RunCycle(ctx); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).
			Msg("Cycle finished with error")
		return
	}
	log.Debug().Dur("elapsed", time.Since(start)).Msg("Cycle finished")
}
