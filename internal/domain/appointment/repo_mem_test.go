package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func seedCalendar(t *testing.T) (*MemoryCalendar, []Appointment) {
	t.Helper()
	cal := NewMemoryCalendar()
	base := mustTime(t, "2026-03-02T09:00:00Z")
	provider := uuid.New()

	appts := []Appointment{
		{ID: uuid.New(), ProviderID: provider, PatientID: uuid.New(), PatientName: "Dana Ruiz",
			Start: base.Add(2 * time.Hour), DurationMinutes: 30, Flexibility: FlexibilityHigh, FeeCents: 15000},
		{ID: uuid.New(), ProviderID: provider, PatientID: uuid.New(), PatientName: "Lee Chen",
			Start: base, DurationMinutes: 60, Flexibility: FlexibilityLow, FeeCents: 20000},
	}
	for _, a := range appts {
		cal.Add(a)
	}
	return cal, appts
}

func TestFetchWindowSortedAndFiltered(t *testing.T) {
	cal, appts := seedCalendar(t)
	from := mustTime(t, "2026-03-02T00:00:00Z")

	got, err := cal.FetchWindow(context.Background(), Window{From: from, To: from.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("FetchWindow error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d appointments, want 2", len(got))
	}
	if !got[0].Start.Before(got[1].Start) {
		t.Error("results not sorted by start time")
	}

	// Narrow window excludes the later appointment.
	got, err = cal.FetchWindow(context.Background(), Window{From: from, To: appts[1].Start.Add(time.Minute)})
	if err != nil {
		t.Fatalf("FetchWindow error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d appointments in narrow window, want 1", len(got))
	}
}

func TestApplyMutationsReschedule(t *testing.T) {
	cal, appts := seedCalendar(t)
	newStart := appts[0].Start.Add(90 * time.Minute)

	err := cal.ApplyMutations(context.Background(), []Mutation{{
		Kind:          MutationReschedule,
		AppointmentID: appts[0].ID,
		NewStart:      &newStart,
	}})
	if err != nil {
		t.Fatalf("ApplyMutations error: %v", err)
	}

	got, _ := cal.Get(appts[0].ID)
	if !got.Start.Equal(newStart) {
		t.Errorf("start = %s, want %s", got.Start, newStart)
	}
}

func TestApplyMutationsVirtualAndFee(t *testing.T) {
	cal, appts := seedCalendar(t)
	fee := int64(0)

	err := cal.ApplyMutations(context.Background(), []Mutation{{
		Kind:          MutationVirtual,
		AppointmentID: appts[1].ID,
		NewFeeCents:   &fee,
	}})
	if err != nil {
		t.Fatalf("ApplyMutations error: %v", err)
	}

	got, _ := cal.Get(appts[1].ID)
	if !got.IsTelehealth {
		t.Error("appointment should be telehealth")
	}
	if got.FeeCents != 0 {
		t.Errorf("fee = %d, want 0", got.FeeCents)
	}
}

func TestApplyMutationsSplit(t *testing.T) {
	cal, appts := seedCalendar(t)
	half := 30

	err := cal.ApplyMutations(context.Background(), []Mutation{{
		Kind:               MutationSplit,
		AppointmentID:      appts[1].ID, // 60 minutes
		NewDurationMinutes: &half,
	}})
	if err != nil {
		t.Fatalf("ApplyMutations error: %v", err)
	}

	got, _ := cal.Get(appts[1].ID)
	if got.DurationMinutes != 30 {
		t.Errorf("original duration = %d, want 30", got.DurationMinutes)
	}

	all, _ := cal.FetchWindow(context.Background(), Window{})
	if len(all) != 3 {
		t.Fatalf("expected 3 appointments after split, got %d", len(all))
	}
}

func TestApplyMutationsRollsBackOnFailure(t *testing.T) {
	cal, appts := seedCalendar(t)
	newStart := appts[0].Start.Add(time.Hour)

	err := cal.ApplyMutations(context.Background(), []Mutation{
		{Kind: MutationReschedule, AppointmentID: appts[0].ID, NewStart: &newStart},
		{Kind: MutationReschedule, AppointmentID: appts[1].ID}, // missing NewStart
	})
	if err == nil {
		t.Fatal("expected error from invalid mutation")
	}

	got, _ := cal.Get(appts[0].ID)
	if !got.Start.Equal(appts[0].Start) {
		t.Error("first mutation was not rolled back")
	}
}

func TestApplyMutationsRollsBackSplitInsert(t *testing.T) {
	cal, appts := seedCalendar(t)
	half := 30

	err := cal.ApplyMutations(context.Background(), []Mutation{
		{Kind: MutationSplit, AppointmentID: appts[1].ID, NewDurationMinutes: &half}, // 60 minutes
		{Kind: MutationReschedule, AppointmentID: appts[0].ID},                      // missing NewStart
	})
	if err == nil {
		t.Fatal("expected error from invalid mutation")
	}

	// The split's remainder must not survive the failed batch.
	all, _ := cal.FetchWindow(context.Background(), Window{})
	if len(all) != 2 {
		t.Fatalf("expected 2 appointments after rollback, got %d", len(all))
	}
	got, _ := cal.Get(appts[1].ID)
	if got.DurationMinutes != 60 {
		t.Errorf("original duration = %d, want 60 after rollback", got.DurationMinutes)
	}
}

func TestApplyMutationsUnknownAppointment(t *testing.T) {
	cal, _ := seedCalendar(t)

	err := cal.ApplyMutations(context.Background(), []Mutation{{
		Kind:          MutationVirtual,
		AppointmentID: uuid.New(),
	}})
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("err = %v, want ErrAppointmentNotFound", err)
	}
}
