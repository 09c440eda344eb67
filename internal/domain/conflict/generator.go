package conflict

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/conflict-engine/internal/domain/appointment"
)

// Strategy is a self-contained rule that proposes one kind of remedy for a
// conflict. Returning false means the strategy has no viable candidate.
type Strategy interface {
	Type() ResolutionType
	Generate(c Conflict) (Resolution, bool)
}

// ProviderPool answers whether another provider has capacity to absorb an
// appointment at its current time.
type ProviderPool interface {
	AlternateFor(a appointment.Appointment) (providerID uuid.UUID, typicalFeeCents int64, ok bool)
}

// Generator runs every strategy against a conflict and returns the ranked
// candidate set. Generation runs once per conflict lifetime; the registry
// keeps existing resolutions alive across rescans.
type Generator struct {
	strategies []Strategy
}

// NewGenerator creates a Generator from the given strategies.
func NewGenerator(strategies ...Strategy) *Generator {
	return &Generator{strategies: strategies}
}

// DefaultStrategies returns the built-in strategy set. pool may be nil, in
// which case provider reassignment is never proposed.
func DefaultStrategies(pool ProviderPool) []Strategy {
	return []Strategy{
		rescheduleStrategy{},
		reassignStrategy{pool: pool},
		virtualStrategy{},
		changeDurationStrategy{},
		splitStrategy{},
	}
}

// Generate produces the ranked candidate resolutions for a conflict. An
// empty result means no strategy found a viable remedy and the conflict
// requires manual handling.
func (g *Generator) Generate(c Conflict) []Resolution {
	var out []Resolution
	for _, s := range g.strategies {
		res, ok := s.Generate(c)
		if !ok {
			continue
		}
		res.ID = uuid.New().String()
		res.Type = s.Type()
		out = append(out, res)
	}
	Rank(out)
	return out
}

// pair pulls the two conflicting appointments in start order.
func pair(c Conflict) (earlier, later appointment.Appointment, ok bool) {
	if len(c.Appointments) < 2 {
		return appointment.Appointment{}, appointment.Appointment{}, false
	}
	a, b := c.Appointments[0], c.Appointments[1]
	if b.Start.Before(a.Start) {
		a, b = b, a
	}
	return a, b, true
}

// moverAndStayer decides which appointment should absorb the change: the
// more flexible one moves; ties go to the less urgent, then the less
// preference-attached, then the later one. The less-flexible/critical
// appointment staying put is what drives confidence up.
func moverAndStayer(c Conflict) (mover, stayer appointment.Appointment, ok bool) {
	a, b, ok := pair(c)
	if !ok {
		return
	}
	switch {
	case a.Flexibility.Rank() != b.Flexibility.Rank():
		if a.Flexibility.Rank() > b.Flexibility.Rank() {
			return a, b, true
		}
		return b, a, true
	case a.Priority != b.Priority:
		if a.Priority < b.Priority {
			return a, b, true
		}
		return b, a, true
	case a.PreferenceScore != b.PreferenceScore:
		if a.PreferenceScore < b.PreferenceScore {
			return a, b, true
		}
		return b, a, true
	default:
		return b, a, true
	}
}

func clampScore(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// -- reschedule --

type rescheduleStrategy struct{}

func (rescheduleStrategy) Type() ResolutionType { return ResolutionReschedule }

func (rescheduleStrategy) Generate(c Conflict) (Resolution, bool) {
	mover, stayer, ok := moverAndStayer(c)
	if !ok || mover.Flexibility.Rank() == 0 {
		// Nobody is willing to move.
		return Resolution{}, false
	}

	newStart := stayer.End()
	confidence := 60 + 12*mover.Flexibility.Rank() + 4*clampScore(stayer.Priority-mover.Priority, 0, 3)
	if mover.PreferenceScore <= 4 {
		confidence += 5
	}
	satisfaction := clampScore(5+2*mover.Flexibility.Rank()-penalty(mover.PreferenceScore >= 8, 2), 0, 10)

	return Resolution{
		Description: fmt.Sprintf("Move %s's %d min %s to %s, keeping %s's appointment in place",
			mover.PatientName, mover.DurationMinutes, mover.Type, newStart.Format("15:04"), stayer.PatientName),
		Confidence:         clampScore(confidence, 0, 100),
		ImpactScore:        3,
		SatisfactionImpact: satisfaction,
		RevenueImpactCents: 0,
		ImplementationSteps: []string{
			fmt.Sprintf("Reschedule %s to %s", mover.PatientName, newStart.Format("Jan 2 15:04")),
			fmt.Sprintf("Confirm new time with %s", mover.PatientName),
			"Send updated appointment details",
		},
		Mutations: []appointment.Mutation{{
			Kind:          appointment.MutationReschedule,
			AppointmentID: mover.ID,
			NewStart:      &newStart,
		}},
	}, true
}

// -- reassign_provider --

type reassignStrategy struct {
	pool ProviderPool
}

func (reassignStrategy) Type() ResolutionType { return ResolutionReassign }

func (s reassignStrategy) Generate(c Conflict) (Resolution, bool) {
	if s.pool == nil {
		return Resolution{}, false
	}
	mover, stayer, ok := moverAndStayer(c)
	if !ok {
		return Resolution{}, false
	}
	altProvider, altFee, ok := s.pool.AlternateFor(mover)
	if !ok {
		// Try the other side before giving up.
		mover, stayer = stayer, mover
		altProvider, altFee, ok = s.pool.AlternateFor(mover)
		if !ok {
			return Resolution{}, false
		}
	}

	confidence := 62 + 7*mover.Flexibility.Rank()
	if mover.PreferenceScore <= 5 {
		confidence += 6
	}
	revenue := altFee - mover.FeeCents

	return Resolution{
		Description: fmt.Sprintf("Keep %s's time but see a different provider; %s stays with the original provider",
			mover.PatientName, stayer.PatientName),
		Confidence:         clampScore(confidence, 0, 100),
		ImpactScore:        4,
		SatisfactionImpact: clampScore(4+2*mover.Flexibility.Rank(), 0, 10),
		RevenueImpactCents: revenue,
		ImplementationSteps: []string{
			fmt.Sprintf("Reassign %s's %s to the covering provider", mover.PatientName, mover.Type),
			"Verify the covering provider accepts the visit type",
			fmt.Sprintf("Notify %s of the provider change", mover.PatientName),
		},
		Mutations: []appointment.Mutation{{
			Kind:          appointment.MutationReassign,
			AppointmentID: mover.ID,
			NewProviderID: &altProvider,
		}},
	}, true
}

// -- virtual_option --

type virtualStrategy struct{}

func (virtualStrategy) Type() ResolutionType { return ResolutionVirtual }

// inPersonOnly lists visit types that cannot be delivered over telehealth.
var inPersonOnly = map[string]bool{
	"procedure": true, "surgery": true, "lab": true,
	"imaging": true, "vaccination": true, "physical": true,
}

func (virtualStrategy) Generate(c Conflict) (Resolution, bool) {
	mover, stayer, ok := moverAndStayer(c)
	if !ok || mover.IsTelehealth || inPersonOnly[mover.Type] {
		return Resolution{}, false
	}

	newStart := stayer.End()
	// Telehealth visits bill at a reduced rate.
	newFee := mover.FeeCents * 60 / 100
	confidence := 52 + 9*mover.Flexibility.Rank()
	if mover.PreferenceScore <= 4 {
		confidence += 4
	}

	return Resolution{
		Description: fmt.Sprintf("Convert %s's %s to a telehealth visit at %s",
			mover.PatientName, mover.Type, newStart.Format("15:04")),
		Confidence:         clampScore(confidence, 0, 100),
		ImpactScore:        2,
		SatisfactionImpact: clampScore(6+mover.Flexibility.Rank(), 0, 10),
		RevenueImpactCents: newFee - mover.FeeCents,
		ImplementationSteps: []string{
			fmt.Sprintf("Convert %s's visit to telehealth", mover.PatientName),
			fmt.Sprintf("Shift the video visit to %s", newStart.Format("Jan 2 15:04")),
			"Send the patient a video link",
		},
		Mutations: []appointment.Mutation{
			{Kind: appointment.MutationVirtual, AppointmentID: mover.ID, NewFeeCents: &newFee},
			{Kind: appointment.MutationReschedule, AppointmentID: mover.ID, NewStart: &newStart},
		},
	}, true
}

// -- change_duration --

const minVisitMinutes = 15

type changeDurationStrategy struct{}

func (changeDurationStrategy) Type() ResolutionType { return ResolutionChangeDuration }

func (changeDurationStrategy) Generate(c Conflict) (Resolution, bool) {
	earlier, later, ok := pair(c)
	if !ok {
		return Resolution{}, false
	}
	overlap := int(earlier.End().Sub(later.Start).Minutes())
	newDur := earlier.DurationMinutes - overlap
	if newDur < minVisitMinutes {
		return Resolution{}, false
	}

	confidence := 45
	if newDur >= 30 {
		confidence += 5
	}
	// Lost visit time is lost billable time, pro-rated.
	revenue := -earlier.FeeCents * int64(overlap) / int64(earlier.DurationMinutes)

	return Resolution{
		Description: fmt.Sprintf("Shorten %s's %s to %d min so it ends before %s arrives",
			earlier.PatientName, earlier.Type, newDur, later.PatientName),
		Confidence:         confidence,
		ImpactScore:        5,
		SatisfactionImpact: 3,
		RevenueImpactCents: revenue,
		ImplementationSteps: []string{
			fmt.Sprintf("Shorten %s's visit to %d minutes", earlier.PatientName, newDur),
			"Flag the visit for clinical review of the reduced time",
		},
		Mutations: []appointment.Mutation{{
			Kind:               appointment.MutationChangeDuration,
			AppointmentID:      earlier.ID,
			NewDurationMinutes: &newDur,
		}},
	}, true
}

// -- split_appointment --

type splitStrategy struct{}

func (splitStrategy) Type() ResolutionType { return ResolutionSplit }

func (splitStrategy) Generate(c Conflict) (Resolution, bool) {
	earlier, later, ok := pair(c)
	if !ok {
		return Resolution{}, false
	}
	firstPart := int(later.Start.Sub(earlier.Start).Minutes())
	remainder := earlier.DurationMinutes - firstPart
	if firstPart < minVisitMinutes || remainder < minVisitMinutes {
		return Resolution{}, false
	}
	resumeAt := later.End()

	return Resolution{
		Description: fmt.Sprintf("Split %s's %s: %d min now, %d min resuming at %s",
			earlier.PatientName, earlier.Type, firstPart, remainder, resumeAt.Format("15:04")),
		Confidence:         40,
		ImpactScore:        6,
		SatisfactionImpact: 2,
		RevenueImpactCents: 0,
		ImplementationSteps: []string{
			fmt.Sprintf("End %s's first segment after %d minutes", earlier.PatientName, firstPart),
			fmt.Sprintf("Resume the remaining %d minutes at %s", remainder, resumeAt.Format("15:04")),
			"Confirm the patient can wait between segments",
		},
		Mutations: []appointment.Mutation{{
			Kind:               appointment.MutationSplit,
			AppointmentID:      earlier.ID,
			NewDurationMinutes: &firstPart,
			NewStart:           &resumeAt,
		}},
	}, true
}

func penalty(cond bool, n int) int {
	if cond {
		return n
	}
	return 0
}

// -- snapshot-derived provider pool --

// snapshotPool derives alternate-provider capacity from the current cycle's
// snapshot: a provider is a viable alternate for an appointment when none of
// their own appointments overlap its interval.
type snapshotPool struct {
	byProvider map[uuid.UUID][]appointment.Appointment
	providers  []uuid.UUID
}

// NewSnapshotPool builds a ProviderPool from an appointment snapshot.
func NewSnapshotPool(appts []appointment.Appointment) ProviderPool {
	p := &snapshotPool{byProvider: make(map[uuid.UUID][]appointment.Appointment)}
	for _, a := range appts {
		if _, seen := p.byProvider[a.ProviderID]; !seen {
			p.providers = append(p.providers, a.ProviderID)
		}
		p.byProvider[a.ProviderID] = append(p.byProvider[a.ProviderID], a)
	}
	sort.Slice(p.providers, func(i, j int) bool {
		return p.providers[i].String() < p.providers[j].String()
	})
	return p
}

func (p *snapshotPool) AlternateFor(a appointment.Appointment) (uuid.UUID, int64, bool) {
	for _, candidate := range p.providers {
		if candidate == a.ProviderID {
			continue
		}
		busy := false
		var feeSum int64
		booked := p.byProvider[candidate]
		for _, other := range booked {
			feeSum += other.FeeCents
			if other.Overlaps(a) {
				busy = true
				break
			}
		}
		if busy {
			continue
		}
		// Typical fee estimated from the provider's booked visits.
		fee := a.FeeCents
		if len(booked) > 0 {
			fee = feeSum / int64(len(booked))
		}
		return candidate, fee, true
	}
	return uuid.Nil, 0, false
}
