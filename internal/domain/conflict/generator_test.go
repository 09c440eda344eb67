package conflict

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ehr/conflict-engine/internal/domain/appointment"
)

func overlapConflict(t *testing.T, a, b appointment.Appointment) Conflict {
	t.Helper()
	conflicts, _ := NewDetector().Detect([]appointment.Appointment{a, b})
	if len(conflicts) != 1 {
		t.Fatalf("fixture did not produce exactly one conflict, got %d", len(conflicts))
	}
	return conflicts[0]
}

func TestGenerateMovesTheFlexibleAppointment(t *testing.T) {
	provider := uuid.New()
	stay := appt(t, provider, "2026-03-02T09:00:00Z", 60)
	stay.Flexibility = appointment.FlexibilityLow
	stay.PatientName = "Lee Chen"
	move := appt(t, provider, "2026-03-02T09:30:00Z", 30)
	move.Flexibility = appointment.FlexibilityHigh
	move.PatientName = "Dana Ruiz"

	c := overlapConflict(t, stay, move)
	rs := NewGenerator(rescheduleStrategy{}).Generate(c)
	if len(rs) != 1 {
		t.Fatalf("got %d resolutions, want 1", len(rs))
	}

	res := rs[0]
	if res.Type != ResolutionReschedule {
		t.Errorf("type = %q, want reschedule", res.Type)
	}
	if len(res.Mutations) != 1 || res.Mutations[0].AppointmentID != move.ID {
		t.Errorf("reschedule should target the flexible appointment %s", move.ID)
	}
	if res.Mutations[0].NewStart == nil || !res.Mutations[0].NewStart.Equal(stay.End()) {
		t.Error("flexible appointment should move to right after the fixed one")
	}
	if res.ID == "" {
		t.Error("resolution id not assigned")
	}
}

func TestGenerateConfidenceScalesWithMoverFlexibility(t *testing.T) {
	provider := uuid.New()
	confFor := func(flex appointment.Flexibility) int {
		stay := appt(t, provider, "2026-03-02T09:00:00Z", 60)
		stay.Flexibility = appointment.FlexibilityLow
		move := appt(t, provider, "2026-03-02T09:30:00Z", 30)
		move.Flexibility = flex

		rs := NewGenerator(rescheduleStrategy{}).Generate(overlapConflict(t, stay, move))
		if len(rs) != 1 {
			t.Fatalf("got %d resolutions for flexibility %q, want 1", len(rs), flex)
		}
		return rs[0].Confidence
	}

	if confFor(appointment.FlexibilityMedium) >= confFor(appointment.FlexibilityHigh) {
		t.Error("confidence should be higher when the mover is more flexible")
	}
}

func TestGenerateNoViableCandidates(t *testing.T) {
	provider := uuid.New()
	a := appt(t, provider, "2026-03-02T09:00:00Z", 25)
	a.Flexibility = appointment.FlexibilityLow
	a.Type = "procedure"
	b := appt(t, provider, "2026-03-02T09:10:00Z", 25)
	b.Flexibility = appointment.FlexibilityLow
	b.Type = "procedure"

	c := overlapConflict(t, a, b)
	// No provider pool, zero flexibility on both sides, in-person-only visit
	// types, and intervals too short to shorten or split.
	gen := NewGenerator(DefaultStrategies(nil)...)
	rs := gen.Generate(c)
	if len(rs) != 0 {
		t.Fatalf("got %d resolutions, want 0: %+v", len(rs), rs)
	}
	if AutoResolvable(rs) {
		t.Error("empty candidate set must not be auto-resolvable")
	}
}

func TestVirtualStrategySkipsInPersonOnlyVisits(t *testing.T) {
	provider := uuid.New()
	a := appt(t, provider, "2026-03-02T09:00:00Z", 60)
	b := appt(t, provider, "2026-03-02T09:30:00Z", 30)
	b.Flexibility = appointment.FlexibilityHigh
	b.Type = "vaccination"

	_, ok := virtualStrategy{}.Generate(overlapConflict(t, a, b))
	if ok {
		t.Error("virtual option should not be offered for in-person-only visits")
	}
}

func TestVirtualStrategyReducesRevenue(t *testing.T) {
	provider := uuid.New()
	a := appt(t, provider, "2026-03-02T09:00:00Z", 60)
	a.Flexibility = appointment.FlexibilityLow
	b := appt(t, provider, "2026-03-02T09:30:00Z", 30)
	b.Flexibility = appointment.FlexibilityHigh
	b.FeeCents = 20000

	res, ok := virtualStrategy{}.Generate(overlapConflict(t, a, b))
	if !ok {
		t.Fatal("expected a virtual candidate")
	}
	if res.RevenueImpactCents >= 0 {
		t.Errorf("telehealth conversion should reduce revenue, got %d", res.RevenueImpactCents)
	}
}

func TestReassignStrategyUsesSnapshotCapacity(t *testing.T) {
	busy := uuid.New()
	free := uuid.New()
	a := appt(t, busy, "2026-03-02T09:00:00Z", 60)
	b := appt(t, busy, "2026-03-02T09:30:00Z", 30)
	// The alternate provider's only booking is in the afternoon.
	other := appt(t, free, "2026-03-02T14:00:00Z", 30)

	pool := NewSnapshotPool([]appointment.Appointment{a, b, other})
	c := overlapConflict(t, a, b)

	res, ok := reassignStrategy{pool: pool}.Generate(c)
	if !ok {
		t.Fatal("expected a reassign candidate")
	}
	if len(res.Mutations) != 1 || res.Mutations[0].Kind != appointment.MutationReassign {
		t.Fatalf("unexpected mutations: %+v", res.Mutations)
	}
	if *res.Mutations[0].NewProviderID != free {
		t.Errorf("reassigned to %s, want the free provider %s", res.Mutations[0].NewProviderID, free)
	}
}

func TestReassignStrategyNoCapacity(t *testing.T) {
	busy := uuid.New()
	alsoBusy := uuid.New()
	a := appt(t, busy, "2026-03-02T09:00:00Z", 60)
	b := appt(t, busy, "2026-03-02T09:30:00Z", 30)
	// The other provider is booked over the whole interval.
	blocked := appt(t, alsoBusy, "2026-03-02T08:30:00Z", 120)

	pool := NewSnapshotPool([]appointment.Appointment{a, b, blocked})
	_, ok := reassignStrategy{pool: pool}.Generate(overlapConflict(t, a, b))
	if ok {
		t.Error("reassign should not be offered without alternate capacity")
	}
}

func TestChangeDurationStrategyRespectsMinimumVisit(t *testing.T) {
	provider := uuid.New()
	a := appt(t, provider, "2026-03-02T09:00:00Z", 60)
	b := appt(t, provider, "2026-03-02T09:30:00Z", 30)

	res, ok := changeDurationStrategy{}.Generate(overlapConflict(t, a, b))
	if !ok {
		t.Fatal("expected a change_duration candidate")
	}
	if *res.Mutations[0].NewDurationMinutes != 30 {
		t.Errorf("new duration = %d, want 30", *res.Mutations[0].NewDurationMinutes)
	}
	if res.Type.NonDestructive() {
		t.Error("change_duration must be classified destructive")
	}

	// Shortening below the minimum visit length is not viable.
	short := appt(t, provider, "2026-03-02T09:00:00Z", 30)
	late := appt(t, provider, "2026-03-02T09:10:00Z", 30)
	if _, ok := (changeDurationStrategy{}).Generate(overlapConflict(t, short, late)); ok {
		t.Error("should not shorten a visit below the minimum length")
	}
}

func TestSplitStrategySegments(t *testing.T) {
	provider := uuid.New()
	a := appt(t, provider, "2026-03-02T09:00:00Z", 60)
	b := appt(t, provider, "2026-03-02T09:30:00Z", 30)

	res, ok := splitStrategy{}.Generate(overlapConflict(t, a, b))
	if !ok {
		t.Fatal("expected a split candidate")
	}
	mut := res.Mutations[0]
	if *mut.NewDurationMinutes != 30 {
		t.Errorf("first segment = %d min, want 30", *mut.NewDurationMinutes)
	}
	if !mut.NewStart.Equal(b.End()) {
		t.Errorf("second segment should resume at %s, got %s", b.End(), mut.NewStart)
	}
}

func TestGenerateReturnsRankedCandidates(t *testing.T) {
	provider := uuid.New()
	a := appt(t, provider, "2026-03-02T09:00:00Z", 60)
	a.Flexibility = appointment.FlexibilityLow
	b := appt(t, provider, "2026-03-02T09:30:00Z", 30)
	b.Flexibility = appointment.FlexibilityHigh

	rs := NewGenerator(DefaultStrategies(nil)...).Generate(overlapConflict(t, a, b))
	if len(rs) < 2 {
		t.Fatalf("expected multiple candidates, got %d", len(rs))
	}
	for i := 1; i < len(rs); i++ {
		if rs[i].Confidence > rs[i-1].Confidence {
			t.Errorf("candidates not sorted by confidence: %d before %d", rs[i-1].Confidence, rs[i].Confidence)
		}
	}
}
