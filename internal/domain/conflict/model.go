package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/conflict-engine/internal/domain/appointment"
)

// Type classifies a detected conflict. Only overlap conflicts are computed
// today; the remaining variants are extension points for future detectors.
type Type string

const (
	TypeOverlap             Type = "overlap"
	TypeOverbooking         Type = "overbooking"
	TypeUnavailableProvider Type = "unavailable_provider"
	TypeRoomConflict        Type = "room_conflict"
	TypeTravelTime          Type = "travel_time"
)

// Severity grades a conflict. Every detected overlap is currently critical;
// severityFor in the detector is the single place to change that.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// State tracks a conflict through its lifecycle:
// detected -> (auto_resolvable | needs_review) -> resolving -> resolved,
// or resolving -> failed -> detected (retried next cycle).
type State string

const (
	StateDetected       State = "detected"
	StateAutoResolvable State = "auto_resolvable"
	StateNeedsReview    State = "needs_review"
	StateResolving      State = "resolving"
	StateFailed         State = "failed"
)

// ResolutionType identifies the remedy a resolution performs.
type ResolutionType string

const (
	ResolutionReschedule     ResolutionType = "reschedule"
	ResolutionReassign       ResolutionType = "reassign_provider"
	ResolutionVirtual        ResolutionType = "virtual_option"
	ResolutionChangeDuration ResolutionType = "change_duration"
	ResolutionSplit          ResolutionType = "split_appointment"
)

// NonDestructive reports whether the resolution type qualifies for
// autonomous action. Duration changes and splits alter the clinical content
// of a visit and always require a human decision.
func (t ResolutionType) NonDestructive() bool {
	switch t {
	case ResolutionReschedule, ResolutionReassign, ResolutionVirtual:
		return true
	}
	return false
}

// Resolution is a proposed remedy for a conflict, scored along
// confidence/satisfaction/revenue axes. Resolutions are owned by their
// conflict and discarded with it.
type Resolution struct {
	ID                  string                 `json:"id"`
	Type                ResolutionType         `json:"type"`
	Description         string                 `json:"description"`
	Confidence          int                    `json:"confidence"`
	ImpactScore         int                    `json:"impact_score"`
	SatisfactionImpact  int                    `json:"patient_satisfaction_impact"`
	RevenueImpactCents  int64                  `json:"revenue_impact_cents"`
	ImplementationSteps []string               `json:"implementation_steps"`
	Mutations           []appointment.Mutation `json:"mutations"`
}

// Conflict is a detected overlap between two or more appointments requiring
// resolution.
type Conflict struct {
	ID              string                    `json:"id"`
	Type            Type                      `json:"type"`
	Severity        Severity                  `json:"severity"`
	State           State                     `json:"state"`
	Appointments    []appointment.Appointment `json:"appointments"`
	Resolutions     []Resolution              `json:"resolutions"`
	AutoResolvable  bool                      `json:"auto_resolvable"`
	EstimatedImpact string                    `json:"estimated_impact"`
	DetectedAt      time.Time                 `json:"detected_at"`
	FailureCount    int                       `json:"failure_count"`
	LastError       string                    `json:"last_error,omitempty"`
}

// ConflictID derives the stable conflict id from the involved appointment
// ids. The ids are sorted first so repeated scans over unchanged data always
// produce the same id regardless of detection order.
func ConflictID(apptIDs ...uuid.UUID) string {
	ids := make([]string, len(apptIDs))
	for i, id := range apptIDs {
		ids[i] = id.String()
	}
	sort.Strings(ids)
	return "overlap:" + strings.Join(ids, "+")
}

// TopResolution returns the highest-ranked resolution, or nil when the
// conflict has none. Resolutions are kept sorted by Rank.
func (c *Conflict) TopResolution() *Resolution {
	if len(c.Resolutions) == 0 {
		return nil
	}
	return &c.Resolutions[0]
}

// TopAutoCandidate returns the highest-ranked non-destructive resolution,
// the only kind the executor may apply without a human choice.
func (c *Conflict) TopAutoCandidate() *Resolution {
	for i := range c.Resolutions {
		if c.Resolutions[i].Type.NonDestructive() {
			return &c.Resolutions[i]
		}
	}
	return nil
}

// FindResolution returns the resolution with the given id.
func (c *Conflict) FindResolution(resolutionID string) (*Resolution, bool) {
	for i := range c.Resolutions {
		if c.Resolutions[i].ID == resolutionID {
			return &c.Resolutions[i], true
		}
	}
	return nil, false
}

// PatientIDs returns the ids of the patients affected by this conflict.
func (c *Conflict) PatientIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Appointments))
	for _, a := range c.Appointments {
		ids = append(ids, a.PatientID)
	}
	return ids
}

// ProviderIDs returns the distinct providers whose calendars the conflict
// touches, sorted for deterministic lock ordering.
func (c *Conflict) ProviderIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(c.Appointments))
	var ids []uuid.UUID
	for _, a := range c.Appointments {
		if !seen[a.ProviderID] {
			seen[a.ProviderID] = true
			ids = append(ids, a.ProviderID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Clone returns a deep copy so registry reads never alias registry state.
func (c *Conflict) Clone() Conflict {
	cp := *c
	cp.Appointments = append([]appointment.Appointment(nil), c.Appointments...)
	cp.Resolutions = make([]Resolution, len(c.Resolutions))
	for i, r := range c.Resolutions {
		r.ImplementationSteps = append([]string(nil), r.ImplementationSteps...)
		r.Mutations = append([]appointment.Mutation(nil), r.Mutations...)
		cp.Resolutions[i] = r
	}
	return cp
}

func describeImpact(a, b appointment.Appointment) string {
	overlapStart := a.Start
	if b.Start.After(a.Start) {
		overlapStart = b.Start
	}
	overlapEnd := a.End()
	if b.End().Before(overlapEnd) {
		overlapEnd = b.End()
	}
	minutes := int(overlapEnd.Sub(overlapStart).Minutes())
	return fmt.Sprintf("%d min double-booking on %s between %s and %s; 2 patients affected",
		minutes, a.Date(), a.PatientName, b.PatientName)
}
