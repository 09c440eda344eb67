package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ehr/conflict-engine/internal/domain/conflict"
)

// templateFor maps a resolution type to the message template announcing it.
func templateFor(rt conflict.ResolutionType) string {
	switch rt {
	case conflict.ResolutionReschedule:
		return "appointment-rescheduled"
	case conflict.ResolutionReassign:
		return "provider-reassigned"
	case conflict.ResolutionVirtual:
		return "telehealth-converted"
	default:
		return "appointment-adjusted"
	}
}

// EngineNotifier turns applied-resolution events into patient messages. It
// implements the engine's Notifier interface. Recipients are addressed by
// patient id; the delivery channel resolves ids to contact addresses.
type EngineNotifier struct {
	hub    *Hub
	logger zerolog.Logger
}

// NewEngineNotifier creates an EngineNotifier over the given hub.
func NewEngineNotifier(hub *Hub, logger zerolog.Logger) *EngineNotifier {
	return &EngineNotifier{hub: hub, logger: logger}
}

// ResolutionApplied sends one templated message per affected patient.
// Delivery failures are logged, never propagated: the calendar change has
// already been applied and must not be rolled back over a messaging error.
func (n *EngineNotifier) ResolutionApplied(ctx context.Context, e conflict.Event) {
	tpl := templateFor(e.ResolutionType)
	data := map[string]string{"details": e.Summary}

	for _, pid := range e.AffectedPatientIDs {
		if _, err := n.hub.SendFromTemplate(ctx, tpl, data, pid.String()); err != nil {
			n.logger.Warn().Err(err).
				Str("conflict_id", e.ConflictID).
				Str("patient_id", pid.String()).
				Str("template_id", tpl).
				Msg("resolution notification failed")
		}
	}
}
