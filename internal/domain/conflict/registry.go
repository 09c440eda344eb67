package conflict

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors returned by registry operations.
var (
	ErrConflictNotFound   = errors.New("conflict not found")
	ErrResolutionNotFound = errors.New("resolution not found")
	ErrConflictBusy       = errors.New("conflict is already being resolved")
)

// Registry is the authoritative in-memory set of currently open conflicts.
// All state transitions go through it so readers never observe a conflict
// mid-mutation and no id ever appears twice.
type Registry struct {
	mu        sync.RWMutex
	policy    Policy
	conflicts map[string]*Conflict
}

// NewRegistry creates an empty Registry. The policy decides whether a
// conflict with candidates lands in the automatic or the manual bucket.
func NewRegistry(policy Policy) *Registry {
	return &Registry{policy: policy, conflicts: make(map[string]*Conflict)}
}

// Reconcile merges a fresh detection pass into the registry. Surviving
// conflicts keep their already-generated resolutions, failure counters and
// auto-resolvability; newly detected conflicts are stored as-is and returned
// so the caller can run generation; conflicts no longer detected are removed.
func (r *Registry) Reconcile(detected []Conflict) (added []Conflict, removedIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(detected))
	for i := range detected {
		d := detected[i]
		seen[d.ID] = true

		existing, ok := r.conflicts[d.ID]
		if !ok {
			cp := d.Clone()
			r.conflicts[d.ID] = &cp
			added = append(added, d.Clone())
			continue
		}

		// Refresh the snapshot view; the appointments may have shifted while
		// still overlapping. Everything generated or learned about the
		// conflict stays.
		existing.Appointments = d.Appointments
		existing.EstimatedImpact = d.EstimatedImpact
		existing.Severity = d.Severity
		if existing.State == StateFailed {
			// Failed applies become eligible for retry next cycle.
			existing.State = r.classify(existing)
		}
	}

	for id := range r.conflicts {
		if !seen[id] {
			delete(r.conflicts, id)
			removedIDs = append(removedIDs, id)
		}
	}
	sort.Strings(removedIDs)
	return added, removedIDs
}

// SetResolutions attaches the generated candidate set to a conflict and
// classifies it for the automatic or manual path. Called once per conflict
// lifetime, right after generation.
func (r *Registry) SetResolutions(id string, rs []Resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conflicts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, id)
	}
	c.Resolutions = rs
	c.AutoResolvable = AutoResolvable(rs)
	if len(rs) == 0 {
		c.EstimatedImpact += "; no viable automatic remedy, manual rescheduling required"
	}
	c.State = r.classify(c)
	return nil
}

// Get returns a copy of the conflict with the given id.
func (r *Registry) Get(id string) (Conflict, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conflicts[id]
	if !ok {
		return Conflict{}, false
	}
	return c.Clone(), true
}

// List returns copies of all open conflicts, ordered by detection time then
// id for stable output.
func (r *Registry) List() []Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// Len returns the number of open conflicts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conflicts)
}

// BeginResolving transitions a conflict into the resolving state and returns
// copies of the conflict and the chosen resolution. It fails when the
// conflict is gone (resolved by a prior iteration or externally) or an apply
// is already in flight, which is what makes repeated auto-resolve-all
// invocations safe.
func (r *Registry) BeginResolving(conflictID, resolutionID string) (Conflict, Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conflicts[conflictID]
	if !ok {
		return Conflict{}, Resolution{}, fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}
	if c.State == StateResolving {
		return Conflict{}, Resolution{}, fmt.Errorf("%w: %s", ErrConflictBusy, conflictID)
	}
	res, ok := c.FindResolution(resolutionID)
	if !ok {
		return Conflict{}, Resolution{}, fmt.Errorf("%w: %s on conflict %s", ErrResolutionNotFound, resolutionID, conflictID)
	}
	c.State = StateResolving
	return c.Clone(), *res, nil
}

// CompleteResolution retires a resolved conflict from the registry.
func (r *Registry) CompleteResolution(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conflicts, id)
}

// FailResolution records a failed apply. The conflict stays open with the
// error and an incremented failure counter; once the counter reaches
// maxFailures, auto-resolution is disabled for the conflict so unattended
// retry loops stop. Returns true when auto-resolution was just disabled.
func (r *Registry) FailResolution(id string, applyErr error, maxFailures int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conflicts[id]
	if !ok {
		return false
	}
	c.FailureCount++
	if applyErr != nil {
		c.LastError = applyErr.Error()
	}
	c.State = StateFailed
	if c.FailureCount >= maxFailures && c.AutoResolvable {
		c.AutoResolvable = false
		return true
	}
	return false
}

// Counts returns how many open conflicts sit in each user-visible bucket.
func (r *Registry) Counts() (autoResolvable, needsReview, failed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conflicts {
		switch c.State {
		case StateAutoResolvable:
			autoResolvable++
		case StateNeedsReview:
			needsReview++
		case StateFailed:
			failed++
		}
	}
	return
}

// classify buckets an open conflict: auto_resolvable only when policy would
// actually act on it; anything else — no candidates, destructive-only
// candidates, or a top candidate below the confidence threshold — needs a
// human.
func (r *Registry) classify(c *Conflict) State {
	if r.policy.Eligible(c) {
		return StateAutoResolvable
	}
	return StateNeedsReview
}
