package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

const pgUniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const slotColumns = `id, slot_date, start_time, end_time, status, created_at, updated_at`

const appointmentColumns = `id, slot_id, patient_id, reason, status, created_at, updated_at`

func pgTime(t schedule.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func fromPgTime(t pgtype.Time) schedule.TimeOfDay {
	return schedule.TimeOfDayFromDuration(time.Duration(t.Microseconds) * time.Microsecond)
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var (
		s          Slot
		date       time.Time
		start, end pgtype.Time
	)

	err := row.Scan(
		&s.ID,
		&date,
		&start,
		&end,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	s.Date = schedule.DateOf(date)
	s.StartTime = fromPgTime(start)
	s.EndTime = fromPgTime(end)
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.Reason,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var (
		d          AppointmentDetail
		s          Slot
		date       time.Time
		start, end pgtype.Time
	)

	err := row.Scan(
		&d.ID,
		&d.SlotID,
		&d.PatientID,
		&d.Reason,
		&d.Status,
		&d.CreatedAt,
		&d.UpdatedAt,
		&s.ID,
		&date,
		&start,
		&end,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	s.Date = schedule.DateOf(date)
	s.StartTime = fromPgTime(start)
	s.EndTime = fromPgTime(end)
	d.Slot = &s
	return &d, nil
}

// Slots

func (r *PgRepository) FindSlotsByDate(ctx context.Context, date schedule.Date) ([]Slot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE slot_date = $1
		ORDER BY start_time
	`, date.Time())
	if err != nil {
		return nil, fmt.Errorf("query slots for %s: %w", date, err)
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertSlot(ctx context.Context, date schedule.Date, start, end schedule.TimeOfDay) (*Slot, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO slots (id, slot_date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'available', now(), now())
		RETURNING `+slotColumns,
		id, date.Time(), pgTime(start), pgTime(end))

	s, err := scanSlot(row)
	if err != nil {
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return s, nil
}

func (r *PgRepository) TryClaimSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'taken',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE slots
		SET status = 'available',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'taken'
		  AND NOT EXISTS (SELECT 1 FROM appointments WHERE slot_id = $1)
	`, id)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, f SlotFilter) (Page[Slot], error) {
	var page Page[Slot]

	where, args := "", []any{}
	if f.Status != "" {
		where = "WHERE status = $1"
		args = append(args, f.Status)
	}

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM slots `+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count slots: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM slots
		%s
		ORDER BY slot_date, start_time
		LIMIT $%d OFFSET $%d
	`, slotColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return page, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, *s)
	}

	return page, rows.Err()
}

// Appointments

func (r *PgRepository) CreateAppointment(ctx context.Context, slotID, patientID uuid.UUID, reason string) (*Appointment, error) {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', now(), now())
		RETURNING `+appointmentColumns,
		id, slotID, patientID, reason)

	a, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a, nil
}

const appointmentDetailSelect = `
	SELECT a.id, a.slot_id, a.patient_id, a.reason, a.status, a.created_at, a.updated_at,
	       s.id, s.slot_date, s.start_time, s.end_time, s.status, s.created_at, s.updated_at
	FROM appointments a
	JOIN slots s ON s.id = a.slot_id
`

// BookSlotAtomic claims the slot and inserts the appointment in one
// transaction, so a crash between the two writes leaves nothing behind.
func (r *PgRepository) BookSlotAtomic(ctx context.Context, slotID, patientID uuid.UUID, reason string) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin booking: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE slots
		SET status = 'taken',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'available'
	`, slotID)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, ErrSlotUnavailable
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', now(), now())
		RETURNING `+appointmentColumns,
		uuid.New(), slotID, patientID, reason)

	a, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking: %w", err)
	}
	return a, nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, appointmentDetailSelect+` WHERE a.id = $1`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter) (Page[AppointmentDetail], error) {
	var page Page[AppointmentDetail]

	where, args := "", []any{}
	if f.PatientID != uuid.Nil {
		where = "WHERE a.patient_id = $1"
		args = append(args, f.PatientID)
	}

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM appointments a `+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count appointments: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`%s %s
		ORDER BY s.slot_date DESC, s.start_time DESC
		LIMIT $%d OFFSET $%d
	`, appointmentDetailSelect, where, len(args)-1, len(args)), args...)
	if err != nil {
		return page, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, *d)
	}

	return page, rows.Err()
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		id, to, from)

	return scanAppointment(row)
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
