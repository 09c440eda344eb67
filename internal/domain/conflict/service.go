package conflict

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/conflict-engine/internal/domain/appointment"
)

// CycleStats summarizes one rescan cycle for logging and telemetry.
type CycleStats struct {
	Detected      int       `json:"detected"`
	New           int       `json:"new"`
	Removed       int       `json:"removed"`
	Invalid       int       `json:"invalid_appointments"`
	AutoResolved  int       `json:"auto_resolved"`
	AutoFailed    int       `json:"auto_failed"`
	PendingAuto   int       `json:"pending_auto"`
	PendingManual int       `json:"pending_manual"`
	FailedOpen    int       `json:"failed_open"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Recorder receives per-cycle counters for external dashboards/alerting.
type Recorder interface {
	RecordCycle(stats CycleStats, duration time.Duration)
	RecordFetchFailure()
}

// GeneratorFactory builds the generator for one cycle from that cycle's
// snapshot. Rebuilding per cycle lets snapshot-derived strategies (alternate
// provider capacity) see current data.
type GeneratorFactory func(snapshot []appointment.Appointment) *Generator

// DefaultGeneratorFactory wires the built-in strategies over a
// snapshot-derived provider pool.
func DefaultGeneratorFactory(snapshot []appointment.Appointment) *Generator {
	return NewGenerator(DefaultStrategies(NewSnapshotPool(snapshot))...)
}

// ServiceConfig tunes the per-cycle behavior.
type ServiceConfig struct {
	WindowDays   int           // forward-looking fetch window
	FetchTimeout time.Duration // bound on the snapshot fetch
	AutoMode     bool          // run the executor for eligible conflicts each cycle
}

func (c *ServiceConfig) applyDefaults() {
	if c.WindowDays <= 0 {
		c.WindowDays = 14
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
}

// Service runs the rescan cycle: fetch -> detect -> reconcile -> generate ->
// rank -> (maybe) execute. It is the entry point for both the periodic
// scheduler and the manual triggers.
type Service struct {
	source   appointment.Source
	detector *Detector
	registry *Registry
	executor *Executor
	factory  GeneratorFactory
	recorder Recorder
	cfg      ServiceConfig
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	lastCycle *CycleStats
}

// NewService creates a Service. recorder may be nil.
func NewService(source appointment.Source, reg *Registry, exec *Executor, factory GeneratorFactory, recorder Recorder, cfg ServiceConfig, logger zerolog.Logger) *Service {
	cfg.applyDefaults()
	if factory == nil {
		factory = DefaultGeneratorFactory
	}
	return &Service{
		source:   source,
		detector: NewDetector(),
		registry: reg,
		executor: exec,
		factory:  factory,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RunCycle executes one full rescan cycle. A fetch failure skips the cycle
// and leaves the registry untouched; the previous conflicts stay open.
func (s *Service) RunCycle(ctx context.Context) (CycleStats, error) {
	start := s.now()
	var stats CycleStats

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	snapshot, err := s.source.FetchWindow(fetchCtx, appointment.WindowFromNow(start, s.cfg.WindowDays))
	cancel()
	if err != nil {
		s.logger.Error().Err(err).Msg("snapshot fetch failed, skipping cycle")
		if s.recorder != nil {
			s.recorder.RecordFetchFailure()
		}
		return stats, fmt.Errorf("fetch appointment snapshot: %w", err)
	}

	detected, invalid := s.detector.Detect(snapshot)
	for _, verr := range invalid {
		s.logger.Warn().Err(verr).Msg("appointment failed validation")
	}

	added, removed := s.registry.Reconcile(detected)

	gen := s.factory(snapshot)
	for _, c := range added {
		rs := gen.Generate(c)
		if err := s.registry.SetResolutions(c.ID, rs); err != nil {
			// Gone already: reconciled away by a concurrent manual resolve.
			s.logger.Debug().Str("conflict_id", c.ID).Msg("conflict vanished before generation")
			continue
		}
		if len(rs) == 0 {
			s.logger.Warn().Str("conflict_id", c.ID).Msg("no viable resolution, conflict needs manual handling")
		}
	}

	if s.cfg.AutoMode {
		stats.AutoResolved, stats.AutoFailed = s.executor.AutoResolveAll(ctx)
	}

	stats.Detected = len(detected)
	stats.New = len(added)
	stats.Removed = len(removed)
	stats.Invalid = len(invalid)
	stats.PendingAuto, stats.PendingManual, stats.FailedOpen = s.registry.Counts()
	stats.CompletedAt = s.now()

	if s.recorder != nil {
		s.recorder.RecordCycle(stats, stats.CompletedAt.Sub(start))
	}

	s.mu.Lock()
	s.lastCycle = &stats
	s.mu.Unlock()

	s.logger.Info().
		Int("detected", stats.Detected).
		Int("new", stats.New).
		Int("removed", stats.Removed).
		Int("auto_resolved", stats.AutoResolved).
		Int("pending_manual", stats.PendingManual).
		Int("failed_open", stats.FailedOpen).
		Dur("duration", stats.CompletedAt.Sub(start)).
		Msg("scan cycle completed")

	return stats, nil
}

// ListConflicts returns all open conflicts.
func (s *Service) ListConflicts() []Conflict {
	return s.registry.List()
}

// GetConflict returns one open conflict by id.
func (s *Service) GetConflict(id string) (Conflict, bool) {
	return s.registry.Get(id)
}

// Resolve applies a specific resolution to a specific conflict — the manual
// path, sharing the executor's single apply routine.
func (s *Service) Resolve(ctx context.Context, conflictID, resolutionID string) error {
	return s.executor.Apply(ctx, conflictID, resolutionID)
}

// AutoResolveAll runs the automatic path over every eligible conflict.
func (s *Service) AutoResolveAll(ctx context.Context) (applied, failed int) {
	return s.executor.AutoResolveAll(ctx)
}

// EngineStats is the point-in-time view exposed to dashboards.
type EngineStats struct {
	OpenConflicts  int         `json:"open_conflicts"`
	AutoResolvable int         `json:"auto_resolvable"`
	NeedsReview    int         `json:"needs_review"`
	Failed         int         `json:"failed"`
	LastCycle      *CycleStats `json:"last_cycle,omitempty"`
}

// Stats returns current registry counts and the last completed cycle.
func (s *Service) Stats() EngineStats {
	auto, review, failed := s.registry.Counts()
	st := EngineStats{
		OpenConflicts:  s.registry.Len(),
		AutoResolvable: auto,
		NeedsReview:    review,
		Failed:         failed,
	}
	s.mu.RLock()
	st.LastCycle = s.lastCycle
	s.mu.RUnlock()
	return st
}
