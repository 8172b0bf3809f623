package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AvailabilityStore persists tutor availability slots.
type AvailabilityStore interface {
	GetAvailability(ctx context.Context, id uuid.UUID) (*Availability, error)
	InsertAvailability(ctx context.Context, a *Availability) error
	UpdateAvailability(ctx context.Context, a *Availability) error
	DeleteAvailability(ctx context.Context, id uuid.UUID) error

	// ListOpenSlots returns unbooked slots of the tutor intersecting [from, to).
	ListOpenSlots(ctx context.Context, tutorID uuid.UUID, from, to time.Time) ([]Availability, error)

	// For reconciliation
	ListAvailabilityByBooked(ctx context.Context, booked bool, after time.Time) ([]Availability, error)
}

// BookingStore persists booking sessions.
type BookingStore interface {
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	// InsertBooking returns ErrBookingConflict when the slot already has an active booking.
	InsertBooking(ctx context.Context, b *Booking) error
	// UpdateBookingStatus moves b from `from` to b.Status and returns ErrStatusChanged
	// when the stored status is no longer `from`.
	UpdateBookingStatus(ctx context.Context, b *Booking, from Status) error

	// HasOverlap reports whether the tutor has an active booking intersecting [start, end).
	HasOverlap(ctx context.Context, tutorID uuid.UUID, start, end time.Time) (bool, error)
	ActiveBookingForSlot(ctx context.Context, availabilityID uuid.UUID) (*Booking, error)

	ListByStudent(ctx context.Context, studentID uuid.UUID, page Page) ([]Booking, error)
	ListByTutor(ctx context.Context, tutorID uuid.UUID, page Page) ([]Booking, error)
	// ListUpcoming returns the user's active bookings that have not ended yet,
	// matching tutor_id when isTutor and student_id otherwise.
	ListUpcoming(ctx context.Context, userID uuid.UUID, isTutor bool, now time.Time) ([]Booking, error)
}

// UserStore answers authoritative questions about accounts.
type UserStore interface {
	GetUserRole(ctx context.Context, userID uuid.UUID) (Role, error)
}

// UserDirectory resolves display names. Lookups are best effort.
type UserDirectory interface {
	GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// Repository groups everything the service reads and writes.
type Repository interface {
	AvailabilityStore
	BookingStore
	UserStore
}
