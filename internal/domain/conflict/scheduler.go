package conflict

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrSchedulerStopped is returned when a manual scan is requested after the
// scheduler loop has exited.
var ErrSchedulerStopped = errors.New("scan scheduler is not running")

// Scheduler drives the engine on a fixed interval and serves manual "scan
// now" requests between ticks. One cycle runs at a time; ticks that arrive
// mid-cycle are coalesced by the ticker.
type Scheduler struct {
	service  *Service
	interval time.Duration
	logger   zerolog.Logger
	scanNow  chan chan CycleStats
	done     chan struct{}
}

// NewScheduler creates a Scheduler around the given service.
func NewScheduler(svc *Service, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		service:  svc,
		interval: interval,
		logger:   logger,
		scanNow:  make(chan chan CycleStats),
		done:     make(chan struct{}),
	}
}

// Run executes the scan loop until ctx is canceled. Cancellation stops the
// timer from scheduling new cycles but lets the in-flight cycle — including
// any apply already mutating external state — finish first, so external
// calendars are never left half-updated.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	// Cycles run on a detached context: shutdown must not abort an apply
	// mid-mutation.
	cycleCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("scan scheduler started")
	s.runOnce(cycleCtx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scan scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(cycleCtx)
		case reply := <-s.scanNow:
			reply <- s.runOnce(cycleCtx)
		}
	}
}

// Done is closed once the scheduler loop has fully exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// ScanNow triggers an immediate cycle outside the timer and waits for its
// stats. ctx bounds the wait, not the cycle itself.
func (s *Scheduler) ScanNow(ctx context.Context) (CycleStats, error) {
	reply := make(chan CycleStats, 1)
	select {
	case s.scanNow <- reply:
	case <-s.done:
		return CycleStats{}, ErrSchedulerStopped
	case <-ctx.Done():
		return CycleStats{}, ctx.Err()
	}

	select {
	case stats := <-reply:
		return stats, nil
	case <-ctx.Done():
		return CycleStats{}, ctx.Err()
	}
}

func (s *Scheduler) runOnce(ctx context.Context) CycleStats {
	stats, err := s.service.RunCycle(ctx)
	if err != nil {
		// Already logged by the service; the next tick retries.
		return stats
	}
	return stats
}
