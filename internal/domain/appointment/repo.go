package appointment

import (
	"context"
)

// Source supplies a time-ordered snapshot of upcoming appointments for a
// forward-looking window. Implementations must be at least
// snapshot-consistent per call.
type Source interface {
	FetchWindow(ctx context.Context, w Window) ([]Appointment, error)
}

// Mutator performs the actual reschedule/reassignment/telehealth conversion
// against the system of record. All mutations in one call belong to one
// resolution and must succeed or fail together.
type Mutator interface {
	ApplyMutations(ctx context.Context, muts []Mutation) error
}
