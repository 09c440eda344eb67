package conflict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/conflict-engine/internal/domain/appointment"
)

// Event describes a successfully applied resolution for the external
// messaging subsystem. The engine never formats patient-facing messages.
type Event struct {
	ConflictID         string
	ResolutionType     ResolutionType
	AffectedPatientIDs []uuid.UUID
	Summary            string
}

// Notifier receives an event for every successful resolution, automatic or
// manual.
type Notifier interface {
	ResolutionApplied(ctx context.Context, e Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, e Event)

func (f NotifierFunc) ResolutionApplied(ctx context.Context, e Event) { f(ctx, e) }

// providerLocks serializes applies per provider so an automatic apply never
// races a human editing the same calendar, while applies for different
// providers proceed concurrently.
type providerLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newProviderLocks() *providerLocks {
	return &providerLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (p *providerLocks) lockFor(id uuid.UUID) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	return l
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	ApplyTimeout time.Duration // bound on a single mutation call
	MaxFailures  int           // consecutive failures before auto-resolution is disabled
	Concurrency  int           // parallel applies during auto-resolve-all
}

func (c *ExecutorConfig) applyDefaults() {
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 15 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
}

// Executor applies resolutions to conflicts. The automatic and manual paths
// share the single Apply routine and differ only in who chose the
// resolution id.
type Executor struct {
	registry  *Registry
	mutator   appointment.Mutator
	notifier  Notifier
	policy    Policy
	cfg       ExecutorConfig
	providers *providerLocks
	logger    zerolog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(reg *Registry, mut appointment.Mutator, notifier Notifier, policy Policy, cfg ExecutorConfig, logger zerolog.Logger) *Executor {
	cfg.applyDefaults()
	return &Executor{
		registry:  reg,
		mutator:   mut,
		notifier:  notifier,
		policy:    policy,
		cfg:       cfg,
		providers: newProviderLocks(),
		logger:    logger,
	}
}

// Apply applies the chosen resolution to a conflict: mutate external state,
// retire the conflict from the registry, emit the notification event. On
// failure the conflict remains open with the error recorded; after
// MaxFailures consecutive failures auto-resolution is disabled for it.
func (e *Executor) Apply(ctx context.Context, conflictID, resolutionID string) error {
	c, res, err := e.registry.BeginResolving(conflictID, resolutionID)
	if err != nil {
		return err
	}

	// Serialize against other applies touching the same providers. Provider
	// ids come pre-sorted so lock order is globally consistent.
	for _, pid := range c.ProviderIDs() {
		l := e.providers.lockFor(pid)
		l.Lock()
		defer l.Unlock()
	}

	applyCtx, cancel := context.WithTimeout(ctx, e.cfg.ApplyTimeout)
	defer cancel()

	if err := e.mutator.ApplyMutations(applyCtx, res.Mutations); err != nil {
		disabled := e.registry.FailResolution(conflictID, err, e.cfg.MaxFailures)
		evt := e.logger.Error().Err(err).
			Str("conflict_id", conflictID).
			Str("resolution_id", resolutionID).
			Str("resolution_type", string(res.Type))
		if disabled {
			evt = evt.Bool("auto_resolve_disabled", true)
		}
		evt.Msg("resolution apply failed")
		return fmt.Errorf("apply resolution %s to conflict %s: %w", resolutionID, conflictID, err)
	}

	e.registry.CompleteResolution(conflictID)

	e.logger.Info().
		Str("conflict_id", conflictID).
		Str("resolution_id", resolutionID).
		Str("resolution_type", string(res.Type)).
		Int("confidence", res.Confidence).
		Msg("conflict resolved")

	if e.notifier != nil {
		e.notifier.ResolutionApplied(ctx, Event{
			ConflictID:         conflictID,
			ResolutionType:     res.Type,
			AffectedPatientIDs: c.PatientIDs(),
			Summary:            res.Description,
		})
	}
	return nil
}

// AutoResolveAll applies the best non-destructive resolution of every
// policy-eligible conflict. Applies run with bounded concurrency; the
// per-provider locks inside Apply keep same-provider applies serialized.
// Safe to invoke repeatedly: each apply re-checks that its conflict is still
// present before touching anything.
func (e *Executor) AutoResolveAll(ctx context.Context) (applied, failed int) {
	eligible := make([]Conflict, 0)
	for _, c := range e.registry.List() {
		c := c
		if e.policy.Eligible(&c) && c.State != StateResolving {
			eligible = append(eligible, c)
		}
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.cfg.Concurrency)
	)
	for _, c := range eligible {
		top := c.TopAutoCandidate()
		if top == nil {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(conflictID, resolutionID string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := e.Apply(ctx, conflictID, resolutionID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, ErrConflictNotFound), errors.Is(err, ErrConflictBusy):
				// Resolved by a prior iteration or externally; nothing to do.
			default:
				failed++
			}
		}(c.ID, top.ID)
	}
	wg.Wait()
	return applied, failed
}
