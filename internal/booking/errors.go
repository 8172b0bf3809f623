package booking

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the API layer can pick a status code
// without knowing which rule was broken.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNotFound
	KindValidation
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	default:
		return "unexpected"
	}
}

// Error is a business failure raised by the core or its stores.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrAvailabilityNotFound = &Error{Kind: KindNotFound, Message: "availability not found"}
	ErrBookingNotFound      = &Error{Kind: KindNotFound, Message: "booking not found"}
	ErrUserNotFound         = &Error{Kind: KindNotFound, Message: "user not found"}

	ErrSlotAlreadyBooked = &Error{Kind: KindValidation, Message: "availability slot is already booked"}
	ErrTutorMismatch     = &Error{Kind: KindValidation, Message: "availability does not belong to the requested tutor"}
	ErrSelfBooking       = &Error{Kind: KindValidation, Message: "tutors cannot book their own availability"}
	ErrNotATutor         = &Error{Kind: KindValidation, Message: "requested user is not a tutor"}
	ErrSlotOverlap       = &Error{Kind: KindValidation, Message: "tutor already has a booking in this time range"}
	ErrSlotBeingBooked   = &Error{Kind: KindValidation, Message: "slot is currently being booked, please retry"}
	ErrBookingConflict   = &Error{Kind: KindValidation, Message: "booking conflicts with an existing booking"}
	ErrInvalidStatus     = &Error{Kind: KindValidation, Message: "invalid booking status"}
	ErrTerminalStatus    = &Error{Kind: KindValidation, Message: "booking is already in a terminal status"}
	ErrInvalidTransition = &Error{Kind: KindValidation, Message: "invalid status transition"}
	ErrSessionNotEnded   = &Error{Kind: KindValidation, Message: "cannot complete a session that has not ended"}
	ErrStatusChanged     = &Error{Kind: KindValidation, Message: "booking status changed concurrently, please retry"}
	ErrInvalidTimeRange  = &Error{Kind: KindValidation, Message: "end time must be after start time"}
	ErrStartInPast       = &Error{Kind: KindValidation, Message: "start time must not be in the past"}
	ErrDeleteBookedSlot  = &Error{Kind: KindValidation, Message: "cannot delete a booked availability slot"}
	ErrNotAllowed        = &Error{Kind: KindForbidden, Message: "caller is not allowed to perform this transition"}
)

// KindOf reports the kind of err. Anything that is not an *Error is unexpected.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnexpected
}
