package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/conflict-engine/internal/domain/appointment"
)

type stubRecorder struct {
	cycles        []CycleStats
	fetchFailures int
}

func (r *stubRecorder) RecordCycle(stats CycleStats, _ time.Duration) {
	r.cycles = append(r.cycles, stats)
}

func (r *stubRecorder) RecordFetchFailure() { r.fetchFailures++ }

// flakySource wraps a calendar and fails fetches on demand.
type flakySource struct {
	inner appointment.Source
	err   error
}

func (s *flakySource) FetchWindow(ctx context.Context, w appointment.Window) ([]appointment.Appointment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.inner.FetchWindow(ctx, w)
}

func newTestService(t *testing.T, cal *appointment.MemoryCalendar, src appointment.Source, rec Recorder) *Service {
	t.Helper()
	reg := NewRegistry(DefaultPolicy())
	exec := NewExecutor(reg, cal, nil, DefaultPolicy(), ExecutorConfig{}, zerolog.Nop())
	svc := NewService(src, reg, exec, nil, rec, ServiceConfig{AutoMode: true}, zerolog.Nop())
	svc.now = func() time.Time { return mustTime(t, "2026-03-01T00:00:00Z") }
	return svc
}

func TestRunCycleAutoResolvesConfidentConflict(t *testing.T) {
	cal := appointment.NewMemoryCalendar()
	provider := uuid.New()

	stay := appt(t, provider, "2026-03-02T09:00:00Z", 60)
	move := appt(t, provider, "2026-03-02T09:30:00Z", 30)
	move.Flexibility = appointment.FlexibilityHigh
	cal.Add(stay)
	cal.Add(move)

	rec := &stubRecorder{}
	svc := newTestService(t, cal, cal, rec)

	stats, err := svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if stats.Detected != 1 || stats.New != 1 {
		t.Errorf("detected=%d new=%d, want 1 and 1", stats.Detected, stats.New)
	}
	if stats.AutoResolved != 1 || stats.AutoFailed != 0 {
		t.Errorf("auto_resolved=%d auto_failed=%d, want 1 and 0", stats.AutoResolved, stats.AutoFailed)
	}
	if got := len(svc.ListConflicts()); got != 0 {
		t.Errorf("%d conflicts still open, want 0", got)
	}

	moved, ok := cal.Get(move.ID)
	if !ok {
		t.Fatal("moved appointment missing from calendar")
	}
	if !moved.Start.Equal(stay.End()) {
		t.Errorf("moved start = %v, want %v", moved.Start, stay.End())
	}

	// The calendar is conflict-free now, so a rescan detects nothing.
	stats, err = svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle error: %v", err)
	}
	if stats.Detected != 0 {
		t.Errorf("second cycle detected %d conflicts, want 0", stats.Detected)
	}
	if len(rec.cycles) != 2 {
		t.Errorf("recorder saw %d cycles, want 2", len(rec.cycles))
	}
}

func TestRunCycleLeavesLowConfidenceForReview(t *testing.T) {
	cal := appointment.NewMemoryCalendar()
	provider := uuid.New()

	// Both medium flexibility: no strategy clears the auto threshold.
	cal.Add(appt(t, provider, "2026-03-02T09:00:00Z", 60))
	cal.Add(appt(t, provider, "2026-03-02T09:30:00Z", 30))

	svc := newTestService(t, cal, cal, nil)

	stats, err := svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}
	if stats.AutoResolved != 0 {
		t.Errorf("auto_resolved = %d, want 0", stats.AutoResolved)
	}
	if stats.PendingManual != 1 || stats.PendingAuto != 0 {
		t.Errorf("pending_manual=%d pending_auto=%d, want 1 and 0", stats.PendingManual, stats.PendingAuto)
	}

	open := svc.ListConflicts()
	if len(open) != 1 {
		t.Fatalf("%d conflicts open, want 1", len(open))
	}
	if open[0].State != StateNeedsReview {
		t.Errorf("state = %q, want needs_review", open[0].State)
	}
	if len(open[0].Resolutions) == 0 {
		t.Error("conflict has no proposed resolutions")
	}
}

func TestRunCycleFetchFailureKeepsRegistry(t *testing.T) {
	cal := appointment.NewMemoryCalendar()
	provider := uuid.New()
	cal.Add(appt(t, provider, "2026-03-02T09:00:00Z", 60))
	cal.Add(appt(t, provider, "2026-03-02T09:30:00Z", 30))

	src := &flakySource{inner: cal}
	rec := &stubRecorder{}
	svc := newTestService(t, cal, src, rec)

	if _, err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("seed cycle error: %v", err)
	}
	if len(svc.ListConflicts()) != 1 {
		t.Fatal("seed cycle did not register the conflict")
	}

	src.err = errors.New("upstream calendar unavailable")
	if _, err := svc.RunCycle(context.Background()); err == nil {
		t.Fatal("cycle should fail when the snapshot fetch fails")
	}
	if len(svc.ListConflicts()) != 1 {
		t.Error("fetch failure must leave existing conflicts untouched")
	}
	if rec.fetchFailures != 1 {
		t.Errorf("fetch failures recorded = %d, want 1", rec.fetchFailures)
	}
}

func TestManualResolveThroughService(t *testing.T) {
	cal := appointment.NewMemoryCalendar()
	provider := uuid.New()
	cal.Add(appt(t, provider, "2026-03-02T09:00:00Z", 60))
	cal.Add(appt(t, provider, "2026-03-02T09:30:00Z", 30))

	svc := newTestService(t, cal, cal, nil)
	if _, err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}

	open := svc.ListConflicts()
	if len(open) != 1 {
		t.Fatalf("%d conflicts open, want 1", len(open))
	}
	c := open[0]
	top := c.TopResolution()
	if top == nil {
		t.Fatal("no resolutions proposed")
	}

	if err := svc.Resolve(context.Background(), c.ID, top.ID); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(svc.ListConflicts()) != 0 {
		t.Error("conflict still open after manual resolve")
	}
	if err := svc.Resolve(context.Background(), c.ID, top.ID); !errors.Is(err, ErrConflictNotFound) {
		t.Errorf("repeat resolve: err = %v, want ErrConflictNotFound", err)
	}
}

func TestStatsReflectLastCycle(t *testing.T) {
	cal := appointment.NewMemoryCalendar()
	svc := newTestService(t, cal, cal, nil)

	if st := svc.Stats(); st.LastCycle != nil {
		t.Error("stats before any cycle should have no last cycle")
	}

	if _, err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle error: %v", err)
	}

	st := svc.Stats()
	if st.LastCycle == nil {
		t.Fatal("last cycle missing after a completed run")
	}
	if st.OpenConflicts != 0 || st.LastCycle.Detected != 0 {
		t.Errorf("stats = %+v", st)
	}
}
