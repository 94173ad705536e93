// Package scheduler drives the publisher on a fixed interval with graceful
// cancellation.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by Start while a loop is active.
var ErrAlreadyRunning = errors.New("scheduler: already running")

// CycleFunc runs one publish pass over the given symbols. Failures are the
// cycle's own business; the scheduler only logs and keeps ticking.
type CycleFunc func(ctx context.Context, symbols []string)

// Status is a snapshot of the scheduler state.
type Status struct {
	Running   bool          `json:"running"`
	Interval  time.Duration `json:"interval"`
	Symbols   []string      `json:"symbols"`
	Cycles    int64         `json:"cycles"`
	LastCycle time.Time     `json:"lastCycle"`
}

// Scheduler runs a cycle immediately on Start and then on every interval
// tick. Cycles never overlap: the loop is sequential and time.Ticker drops
// ticks that fire while a cycle is still running. Stop prevents further
// cycles but lets an in-flight cycle finish.
type Scheduler struct {
	cycle  CycleFunc
	logger zerolog.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	interval  time.Duration
	symbols   []string
	cycles    int64
	lastCycle time.Time
}

func New(cycle CycleFunc, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cycle:  cycle,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the publishing loop. baseCtx bounds the cycles themselves;
// Stop only cancels future ticks.
func (s *Scheduler) Start(baseCtx context.Context, symbols []string, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	if len(symbols) == 0 {
		return errors.New("scheduler: no symbols to publish")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(baseCtx)
	s.running = true
	s.cancel = cancel
	s.interval = interval
	s.symbols = append([]string(nil), symbols...)

	go s.loop(baseCtx, loopCtx, s.symbols, interval)

	s.logger.Info().Dur("interval", interval).Strs("symbols", symbols).Msg("scheduler started")
	return nil
}

// Stop cancels the timer. The in-flight cycle, if any, finishes undisturbed.
// Stopping an already-stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.cancel = nil
	s.running = false
	s.logger.Info().Msg("scheduler stopped")
}

// Status reports the current scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:   s.running,
		Interval:  s.interval,
		Symbols:   append([]string(nil), s.symbols...),
		Cycles:    s.cycles,
		LastCycle: s.lastCycle,
	}
}

// loop runs cycles against cycleCtx while loopCtx controls scheduling, so
// Stop halts ticks without interrupting a submission in progress.
func (s *Scheduler) loop(cycleCtx, loopCtx context.Context, symbols []string, interval time.Duration) {
	s.runCycle(cycleCtx, symbols)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			// Stop may have raced the tick.
			if loopCtx.Err() != nil {
				return
			}
			s.runCycle(cycleCtx, symbols)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context, symbols []string) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.cycle(ctx, symbols)

	s.mu.Lock()
	s.cycles++
	s.lastCycle = start
	s.mu.Unlock()

	s.logger.Debug().Dur("elapsed", time.Since(start)).Msg("cycle finished")
}
