package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return ts
}

func TestAppointmentEnd(t *testing.T) {
	a := Appointment{
		Start:           mustTime(t, "2026-03-02T09:00:00Z"),
		DurationMinutes: 60,
	}
	want := mustTime(t, "2026-03-02T10:00:00Z")
	if !a.End().Equal(want) {
		t.Errorf("End() = %s, want %s", a.End(), want)
	}
}

func TestAppointmentDate(t *testing.T) {
	a := Appointment{Start: mustTime(t, "2026-03-02T09:30:00Z")}
	if got := a.Date(); got != "2026-03-02" {
		t.Errorf("Date() = %q, want 2026-03-02", got)
	}
}

func TestOverlaps(t *testing.T) {
	base := mustTime(t, "2026-03-02T09:00:00Z")
	mk := func(offsetMin, durMin int) Appointment {
		return Appointment{
			Start:           base.Add(time.Duration(offsetMin) * time.Minute),
			DurationMinutes: durMin,
		}
	}

	tests := []struct {
		name string
		a, b Appointment
		want bool
	}{
		{"partial overlap", mk(0, 60), mk(30, 30), true},
		{"contained", mk(0, 60), mk(15, 15), true},
		{"identical", mk(0, 30), mk(0, 30), true},
		{"back to back", mk(0, 60), mk(60, 30), false},
		{"disjoint", mk(0, 60), mk(120, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
			// Overlap is symmetric.
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("reverse Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlexibilityRank(t *testing.T) {
	if FlexibilityLow.Rank() >= FlexibilityMedium.Rank() {
		t.Error("low should rank below medium")
	}
	if FlexibilityMedium.Rank() >= FlexibilityHigh.Rank() {
		t.Error("medium should rank below high")
	}
}

func TestValidate(t *testing.T) {
	valid := Appointment{
		ID:              uuid.New(),
		ProviderID:      uuid.New(),
		Start:           mustTime(t, "2026-03-02T09:00:00Z"),
		DurationMinutes: 30,
		PreferenceScore: 7,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid appointment rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(a *Appointment)
	}{
		{"missing id", func(a *Appointment) { a.ID = uuid.Nil }},
		{"missing provider", func(a *Appointment) { a.ProviderID = uuid.Nil }},
		{"zero start", func(a *Appointment) { a.Start = time.Time{} }},
		{"zero duration", func(a *Appointment) { a.DurationMinutes = 0 }},
		{"negative duration", func(a *Appointment) { a.DurationMinutes = -30 }},
		{"preference out of range", func(a *Appointment) { a.PreferenceScore = 11 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid
			tt.mutate(&a)
			if err := a.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
