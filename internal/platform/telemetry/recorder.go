package telemetry

import (
	"time"

	"github.com/ehr/conflict-engine/internal/domain/conflict"
)

// CycleRecorder feeds engine cycle counters into the metrics provider. It
// implements the engine's Recorder interface.
type CycleRecorder struct {
	provider *Provider
}

// NewCycleRecorder creates a CycleRecorder over the given provider.
func NewCycleRecorder(p *Provider) *CycleRecorder {
	return &CycleRecorder{provider: p}
}

// RecordCycle records the counters and gauges for one completed scan cycle.
func (r *CycleRecorder) RecordCycle(stats conflict.CycleStats, duration time.Duration) {
	p := r.provider
	p.AddCounter(MetricScanCycles, 1)
	p.AddCounter(MetricConflictsDetected, int64(stats.Detected))
	p.AddCounter(MetricConflictsNew, int64(stats.New))
	p.AddCounter(MetricConflictsRemoved, int64(stats.Removed))
	p.AddCounter(MetricAutoResolved, int64(stats.AutoResolved))
	p.AddCounter(MetricAutoFailed, int64(stats.AutoFailed))
	p.AddCounter(MetricInvalidInput, int64(stats.Invalid))

	p.SetGauge(GaugePendingAuto, int64(stats.PendingAuto))
	p.SetGauge(GaugePendingManual, int64(stats.PendingManual))
	p.SetGauge(GaugeFailedOpen, int64(stats.FailedOpen))

	p.ObserveScanDuration(duration)
}

// RecordFetchFailure records one failed appointment snapshot fetch.
func (r *CycleRecorder) RecordFetchFailure() {
	r.provider.AddCounter(MetricFetchFailures, 1)
}
