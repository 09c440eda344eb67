package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/conflict-engine/internal/domain/appointment"
)

// Detector scans an appointment snapshot for overlapping intervals. It is
// pure and synchronous: given the same snapshot it always returns the same
// conflicts in the same order.
type Detector struct {
	now func() time.Time
}

// NewDetector creates a Detector.
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

type groupKey struct {
	provider uuid.UUID
	date     string
}

// Detect groups appointments by provider and day, sorts each group by start
// time, and emits one conflict per overlapping adjacent pair. A triple
// overlap therefore surfaces as two pair conflicts, one per adjacent pair.
//
// Malformed appointments are excluded individually and reported in the
// second return value; the scan continues over the rest.
func (d *Detector) Detect(appts []appointment.Appointment) ([]Conflict, []error) {
	var invalid []error
	groups := make(map[groupKey][]appointment.Appointment)

	for _, a := range appts {
		if err := a.Validate(); err != nil {
			invalid = append(invalid, fmt.Errorf("excluded from detection: %w", err))
			continue
		}
		k := groupKey{provider: a.ProviderID, date: a.Date()}
		groups[k] = append(groups[k], a)
	}

	var conflicts []Conflict
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			if group[i].Start.Equal(group[j].Start) {
				return group[i].ID.String() < group[j].ID.String()
			}
			return group[i].Start.Before(group[j].Start)
		})

		for i := 0; i+1 < len(group); i++ {
			cur, next := group[i], group[i+1]
			if cur.End().After(next.Start) {
				conflicts = append(conflicts, d.newOverlap(cur, next))
			}
		}
	}

	// Group map iteration is randomized; sort by id so output is stable.
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].ID < conflicts[j].ID })
	return conflicts, invalid
}

func (d *Detector) newOverlap(a, b appointment.Appointment) Conflict {
	return Conflict{
		ID:              ConflictID(a.ID, b.ID),
		Type:            TypeOverlap,
		Severity:        severityFor(a, b),
		State:           StateDetected,
		Appointments:    []appointment.Appointment{a, b},
		EstimatedImpact: describeImpact(a, b),
		DetectedAt:      d.now(),
	}
}

// severityFor grades an overlap. Every overlap is critical today; deriving
// severity from overlap duration and priority would change only this
// function.
func severityFor(_, _ appointment.Appointment) Severity {
	return SeverityCritical
}
