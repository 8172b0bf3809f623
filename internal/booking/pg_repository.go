package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const availabilityColumns = `id, tutor_id, start_time, end_time, is_booked, recurrence, created_at, updated_at`

const bookingColumns = `id, student_id, tutor_id, availability_id, start_time, end_time, topic, description, status, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	err := row.Scan(
		&a.ID,
		&a.TutorID,
		&a.StartTime,
		&a.EndTime,
		&a.IsBooked,
		&a.Recurrence,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(
		&b.ID,
		&b.StudentID,
		&b.TutorID,
		&b.AvailabilityID,
		&b.StartTime,
		&b.EndTime,
		&b.Topic,
		&b.Description,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func collectAvailability(rows pgx.Rows) ([]Availability, error) {
	defer rows.Close()

	var result []Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// limitClause turns a Page into LIMIT/OFFSET arguments. A zero limit means
// ALL, which postgres accepts as NULL.
func limitClause(page Page) (*int, int) {
	if page.Limit() == 0 {
		return nil, 0
	}
	limit := page.Limit()
	return &limit, page.Offset()
}

// Availability

func (r *PgRepository) GetAvailability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+availabilityColumns+`
		FROM tutor_availability
		WHERE id = $1
	`, id)
	return scanAvailability(row)
}

func (r *PgRepository) InsertAvailability(ctx context.Context, a *Availability) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tutor_availability (id, tutor_id, start_time, end_time, is_booked, recurrence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+availabilityColumns+`
	`, a.ID, a.TutorID, a.StartTime, a.EndTime, a.IsBooked, a.Recurrence, a.CreatedAt, a.UpdatedAt)

	stored, err := scanAvailability(row)
	if err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}
	*a = *stored
	return nil
}

func (r *PgRepository) UpdateAvailability(ctx context.Context, a *Availability) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tutor_availability
		SET start_time = $2,
		    end_time = $3,
		    is_booked = $4,
		    recurrence = $5,
		    updated_at = $6
		WHERE id = $1
	`, a.ID, a.StartTime, a.EndTime, a.IsBooked, a.Recurrence, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

func (r *PgRepository) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tutor_availability WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAvailabilityNotFound
	}
	return nil
}

func (r *PgRepository) ListOpenSlots(ctx context.Context, tutorID uuid.UUID, from, to time.Time) ([]Availability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM tutor_availability
		WHERE tutor_id = $1
		  AND is_booked = FALSE
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, tutorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectAvailability(rows)
}

func (r *PgRepository) ListAvailabilityByBooked(ctx context.Context, booked bool, after time.Time) ([]Availability, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+availabilityColumns+`
		FROM tutor_availability
		WHERE is_booked = $1
		  AND end_time > $2
		ORDER BY start_time
	`, booked, after)
	if err != nil {
		return nil, err
	}
	return collectAvailability(rows)
}

// Bookings

func (r *PgRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM booking_sessions
		WHERE id = $1
	`, id)
	return scanBooking(row)
}

func (r *PgRepository) InsertBooking(ctx context.Context, b *Booking) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO booking_sessions (id, student_id, tutor_id, availability_id, start_time, end_time, topic, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+bookingColumns+`
	`, b.ID, b.StudentID, b.TutorID, b.AvailabilityID, b.StartTime, b.EndTime, b.Topic, b.Description, b.Status, b.CreatedAt, b.UpdatedAt)

	stored, err := scanBooking(row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBookingConflict
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	*b = *stored
	return nil
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, b *Booking, from Status) error {
	row := r.pool.QueryRow(ctx, `
		UPDATE booking_sessions
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = $4
		RETURNING `+bookingColumns+`
	`, b.ID, b.Status, b.UpdatedAt, from)

	stored, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return ErrStatusChanged
		}
		if isUniqueViolation(err) {
			return ErrBookingConflict
		}
		return fmt.Errorf("update booking status: %w", err)
	}
	*b = *stored
	return nil
}

func (r *PgRepository) HasOverlap(ctx context.Context, tutorID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM booking_sessions
			WHERE tutor_id = $1
			  AND status IN ('pending', 'confirmed')
			  AND start_time < $3
			  AND end_time > $2
		)
	`, tutorID, start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check booking overlap: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) ActiveBookingForSlot(ctx context.Context, availabilityID uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM booking_sessions
		WHERE availability_id = $1
		  AND status IN ('pending', 'confirmed')
		LIMIT 1
	`, availabilityID)
	return scanBooking(row)
}

func (r *PgRepository) ListByStudent(ctx context.Context, studentID uuid.UUID, page Page) ([]Booking, error) {
	limit, offset := limitClause(page)
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM booking_sessions
		WHERE student_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, studentID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListByTutor(ctx context.Context, tutorID uuid.UUID, page Page) ([]Booking, error) {
	limit, offset := limitClause(page)
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM booking_sessions
		WHERE tutor_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, tutorID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListUpcoming(ctx context.Context, userID uuid.UUID, isTutor bool, now time.Time) ([]Booking, error) {
	column := "student_id"
	if isTutor {
		column = "tutor_id"
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM booking_sessions
		WHERE `+column+` = $1
		  AND status IN ('pending', 'confirmed')
		  AND end_time > $2
		ORDER BY start_time
	`, userID, now)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *PgRepository) GetUserRole(ctx context.Context, userID uuid.UUID) (Role, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("get user role: %w", err)
	}
	return Role(role), nil
}

// PgDirectory resolves display names from the users table.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	var name string
	err := d.pool.QueryRow(ctx, `SELECT display_name FROM users WHERE id = $1`, userID).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("get display name: %w", err)
	}
	return name, nil
}
