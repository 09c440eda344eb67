package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Flexibility grades how willing a patient is to have an appointment moved.
type Flexibility string

const (
	FlexibilityLow    Flexibility = "low"
	FlexibilityMedium Flexibility = "medium"
	FlexibilityHigh   Flexibility = "high"
)

// Rank returns an ordinal for comparing flexibility levels (low < medium < high).
func (f Flexibility) Rank() int {
	switch f {
	case FlexibilityLow:
		return 0
	case FlexibilityMedium:
		return 1
	case FlexibilityHigh:
		return 2
	}
	return 1
}

// Valid reports whether f is one of the known flexibility levels.
func (f Flexibility) Valid() bool {
	return f == FlexibilityLow || f == FlexibilityMedium || f == FlexibilityHigh
}

// Appointment is an immutable snapshot of a booked appointment as supplied by
// the appointment source. The engine never mutates instances; changes go
// through the Mutator.
type Appointment struct {
	ID              uuid.UUID   `json:"id"`
	ProviderID      uuid.UUID   `json:"provider_id"`
	PatientID       uuid.UUID   `json:"patient_id"`
	PatientName     string      `json:"patient_name"`
	Type            string      `json:"appointment_type"`
	Start           time.Time   `json:"start"`
	DurationMinutes int         `json:"duration_minutes"`
	Priority        int         `json:"priority"`
	Flexibility     Flexibility `json:"reschedule_flexibility"`
	PreferenceScore int         `json:"patient_preference_score"`
	IsTelehealth    bool        `json:"is_telehealth"`
	FeeCents        int64       `json:"fee_cents"`
}

// End returns the exclusive end of the appointment interval.
func (a Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Date returns the calendar day the appointment starts on, used for
// provider+day grouping.
func (a Appointment) Date() string {
	return a.Start.Format("2006-01-02")
}

// Overlaps reports whether the [start, end) intervals of a and b intersect.
func (a Appointment) Overlaps(b Appointment) bool {
	return a.Start.Before(b.End()) && b.Start.Before(a.End())
}

// Validate checks the time fields the detector depends on. Records failing
// validation are excluded from detection individually; the scan continues.
func (a Appointment) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("appointment has no id")
	}
	if a.ProviderID == uuid.Nil {
		return fmt.Errorf("appointment %s has no provider_id", a.ID)
	}
	if a.Start.IsZero() {
		return fmt.Errorf("appointment %s has no start time", a.ID)
	}
	if a.DurationMinutes <= 0 {
		return fmt.Errorf("appointment %s has non-positive duration %d", a.ID, a.DurationMinutes)
	}
	if a.PreferenceScore < 0 || a.PreferenceScore > 10 {
		return fmt.Errorf("appointment %s has preference score %d outside 0-10", a.ID, a.PreferenceScore)
	}
	return nil
}

// Window is a forward-looking date range for snapshot fetches.
type Window struct {
	From time.Time
	To   time.Time
}

// WindowFromNow returns a window starting now and spanning the given number
// of days.
func WindowFromNow(now time.Time, days int) Window {
	return Window{From: now, To: now.AddDate(0, 0, days)}
}

// MutationKind identifies the calendar change a Mutation performs.
type MutationKind string

const (
	MutationReschedule     MutationKind = "reschedule"
	MutationReassign       MutationKind = "reassign_provider"
	MutationVirtual        MutationKind = "virtual_option"
	MutationChangeDuration MutationKind = "change_duration"
	MutationSplit          MutationKind = "split_appointment"
)

// Mutation is a single calendar change against the system of record. A
// resolution translates into one or more mutations applied atomically by the
// Mutator.
type Mutation struct {
	Kind               MutationKind `json:"kind"`
	AppointmentID      uuid.UUID    `json:"appointment_id"`
	NewStart           *time.Time   `json:"new_start,omitempty"`
	NewProviderID      *uuid.UUID   `json:"new_provider_id,omitempty"`
	NewDurationMinutes *int         `json:"new_duration_minutes,omitempty"`
	ToTelehealth       bool         `json:"to_telehealth,omitempty"`
	NewFeeCents        *int64       `json:"new_fee_cents,omitempty"`
}
