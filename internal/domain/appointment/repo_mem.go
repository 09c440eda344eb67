package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Common errors returned by the in-memory calendar.
var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrUnknownMutation     = errors.New("unknown mutation kind")
)

// MemoryCalendar is an in-memory implementation of both Source and Mutator,
// used in tests and in development mode without a database.
type MemoryCalendar struct {
	mu    sync.RWMutex
	appts map[uuid.UUID]*Appointment
}

// NewMemoryCalendar creates an empty MemoryCalendar.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{appts: make(map[uuid.UUID]*Appointment)}
}

// Add inserts or replaces an appointment, for test setup and seeding.
func (m *MemoryCalendar) Add(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.appts[a.ID] = &cp
}

// Remove deletes an appointment by id.
func (m *MemoryCalendar) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.appts, id)
}

// Get returns a copy of the stored appointment.
func (m *MemoryCalendar) Get(id uuid.UUID) (Appointment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok {
		return Appointment{}, false
	}
	return *a, true
}

// FetchWindow returns appointments whose start falls inside the window,
// sorted by start time ascending.
func (m *MemoryCalendar) FetchWindow(_ context.Context, w Window) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Appointment
	for _, a := range m.appts {
		if !w.From.IsZero() && a.Start.Before(w.From) {
			continue
		}
		if !w.To.IsZero() && !a.Start.Before(w.To) {
			continue
		}
		results = append(results, *a)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Start.Before(results[j].Start)
	})

	return results, nil
}

// ApplyMutations applies all mutations under one lock. The first failing
// mutation aborts the batch; earlier mutations in the same batch are rolled
// back, including any appointments they inserted, so a resolution never
// half-applies.
func (m *MemoryCalendar) ApplyMutations(_ context.Context, muts []Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Snapshot the touched appointments for rollback.
	saved := make(map[uuid.UUID]Appointment, len(muts))
	for _, mut := range muts {
		a, ok := m.appts[mut.AppointmentID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrAppointmentNotFound, mut.AppointmentID)
		}
		if _, seen := saved[mut.AppointmentID]; !seen {
			saved[mut.AppointmentID] = *a
		}
	}

	var inserted []uuid.UUID
	rollback := func() {
		for _, id := range inserted {
			delete(m.appts, id)
		}
		for id, a := range saved {
			cp := a
			m.appts[id] = &cp
		}
	}

	for _, mut := range muts {
		ids, err := m.applyOne(mut)
		if err != nil {
			rollback()
			return err
		}
		inserted = append(inserted, ids...)
	}
	return nil
}

// applyOne applies a single mutation and returns the ids of any appointments
// it inserted, so a failing batch can remove them again.
func (m *MemoryCalendar) applyOne(mut Mutation) ([]uuid.UUID, error) {
	a := m.appts[mut.AppointmentID]

	switch mut.Kind {
	case MutationReschedule:
		if mut.NewStart == nil {
			return nil, fmt.Errorf("reschedule mutation for %s has no new start", mut.AppointmentID)
		}
		a.Start = *mut.NewStart
	case MutationReassign:
		if mut.NewProviderID == nil {
			return nil, fmt.Errorf("reassign mutation for %s has no new provider", mut.AppointmentID)
		}
		a.ProviderID = *mut.NewProviderID
	case MutationVirtual:
		a.IsTelehealth = true
		if mut.NewFeeCents != nil {
			a.FeeCents = *mut.NewFeeCents
		}
	case MutationChangeDuration:
		if mut.NewDurationMinutes == nil || *mut.NewDurationMinutes <= 0 {
			return nil, fmt.Errorf("change_duration mutation for %s has no valid duration", mut.AppointmentID)
		}
		a.DurationMinutes = *mut.NewDurationMinutes
	case MutationSplit:
		if mut.NewDurationMinutes == nil || *mut.NewDurationMinutes <= 0 {
			return nil, fmt.Errorf("split mutation for %s has no valid duration", mut.AppointmentID)
		}
		remainder := a.DurationMinutes - *mut.NewDurationMinutes
		if remainder <= 0 {
			return nil, fmt.Errorf("split mutation for %s leaves no remainder", mut.AppointmentID)
		}
		a.DurationMinutes = *mut.NewDurationMinutes
		second := *a
		second.ID = uuid.New()
		second.DurationMinutes = remainder
		if mut.NewStart != nil {
			second.Start = *mut.NewStart
		} else {
			second.Start = a.End()
		}
		m.appts[second.ID] = &second
		return []uuid.UUID{second.ID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMutation, mut.Kind)
	}
	return nil, nil
}
