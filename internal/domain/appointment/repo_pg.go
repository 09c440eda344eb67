package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func timeMinutes(m int) time.Duration { return time.Duration(m) * time.Minute }

type calendarRepoPG struct{ pool *pgxpool.Pool }

// NewCalendarRepoPG returns a Postgres-backed appointment source and mutator
// reading from the practice-management appointment table.
func NewCalendarRepoPG(pool *pgxpool.Pool) *calendarRepoPG { return &calendarRepoPG{pool: pool} }

var _ Source = (*calendarRepoPG)(nil)
var _ Mutator = (*calendarRepoPG)(nil)

const apptCols = `id, provider_id, patient_id, patient_name, appointment_type,
	start_time, duration_minutes, priority, reschedule_flexibility,
	patient_preference_score, is_telehealth, fee_cents`

func scanAppointment(row pgx.Row) (Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ProviderID, &a.PatientID, &a.PatientName, &a.Type,
		&a.Start, &a.DurationMinutes, &a.Priority, &a.Flexibility,
		&a.PreferenceScore, &a.IsTelehealth, &a.FeeCents)
	return a, err
}

// FetchWindow returns booked appointments starting inside the window,
// ordered by start time.
func (r *calendarRepoPG) FetchWindow(ctx context.Context, w Window) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apptCols+`
		FROM appointment
		WHERE status = 'booked' AND start_time >= $1 AND start_time < $2
		ORDER BY start_time ASC`, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("fetch appointment window: %w", err)
	}
	defer rows.Close()

	var results []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// ApplyMutations applies all mutations inside one transaction so a
// resolution never half-applies.
func (r *calendarRepoPG) ApplyMutations(ctx context.Context, muts []Mutation) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mutation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, mut := range muts {
		if err := applyOnePG(ctx, tx, mut); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func applyOnePG(ctx context.Context, tx pgx.Tx, mut Mutation) error {
	switch mut.Kind {
	case MutationReschedule:
		if mut.NewStart == nil {
			return fmt.Errorf("reschedule mutation for %s has no new start", mut.AppointmentID)
		}
		return execTouching(ctx, tx, `
			UPDATE appointment SET start_time=$2, updated_at=NOW()
			WHERE id = $1`, mut, mut.AppointmentID, *mut.NewStart)
	case MutationReassign:
		if mut.NewProviderID == nil {
			return fmt.Errorf("reassign mutation for %s has no new provider", mut.AppointmentID)
		}
		return execTouching(ctx, tx, `
			UPDATE appointment SET provider_id=$2, updated_at=NOW()
			WHERE id = $1`, mut, mut.AppointmentID, *mut.NewProviderID)
	case MutationVirtual:
		if mut.NewFeeCents != nil {
			return execTouching(ctx, tx, `
				UPDATE appointment SET is_telehealth=TRUE, fee_cents=$2, updated_at=NOW()
				WHERE id = $1`, mut, mut.AppointmentID, *mut.NewFeeCents)
		}
		return execTouching(ctx, tx, `
			UPDATE appointment SET is_telehealth=TRUE, updated_at=NOW()
			WHERE id = $1`, mut, mut.AppointmentID)
	case MutationChangeDuration:
		if mut.NewDurationMinutes == nil || *mut.NewDurationMinutes <= 0 {
			return fmt.Errorf("change_duration mutation for %s has no valid duration", mut.AppointmentID)
		}
		return execTouching(ctx, tx, `
			UPDATE appointment SET duration_minutes=$2, updated_at=NOW()
			WHERE id = $1`, mut, mut.AppointmentID, *mut.NewDurationMinutes)
	case MutationSplit:
		if mut.NewDurationMinutes == nil || *mut.NewDurationMinutes <= 0 {
			return fmt.Errorf("split mutation for %s has no valid duration", mut.AppointmentID)
		}
		// Shrink the original, then clone the remainder as a follow-on booking.
		a, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, mut.AppointmentID))
		if err != nil {
			return fmt.Errorf("load appointment %s for split: %w", mut.AppointmentID, err)
		}
		remainder := a.DurationMinutes - *mut.NewDurationMinutes
		if remainder <= 0 {
			return fmt.Errorf("split mutation for %s leaves no remainder", mut.AppointmentID)
		}
		if err := execTouching(ctx, tx, `
			UPDATE appointment SET duration_minutes=$2, updated_at=NOW()
			WHERE id = $1`, mut, mut.AppointmentID, *mut.NewDurationMinutes); err != nil {
			return err
		}
		secondStart := a.Start.Add(timeMinutes(*mut.NewDurationMinutes))
		if mut.NewStart != nil {
			secondStart = *mut.NewStart
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO appointment (id, provider_id, patient_id, patient_name,
				appointment_type, start_time, duration_minutes, priority,
				reschedule_flexibility, patient_preference_score, is_telehealth,
				fee_cents, status)
			VALUES (gen_random_uuid(),$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,'booked')`,
			a.ProviderID, a.PatientID, a.PatientName, a.Type, secondStart,
			remainder, a.Priority, a.Flexibility, a.PreferenceScore,
			a.IsTelehealth, a.FeeCents)
		if err != nil {
			return fmt.Errorf("insert split remainder for %s: %w", mut.AppointmentID, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMutation, mut.Kind)
	}
}

func execTouching(ctx context.Context, tx pgx.Tx, sql string, mut Mutation, args ...interface{}) error {
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("apply %s mutation for %s: %w", mut.Kind, mut.AppointmentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAppointmentNotFound, mut.AppointmentID)
	}
	return nil
}
