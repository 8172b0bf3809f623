package booking

import "github.com/google/uuid"

// Actor is the caller capability handed to the core by the API layer.
// The core never looks up identity on its own.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Participates reports whether the actor is the student or tutor of b.
func (a Actor) Participates(b *Booking) bool {
	return a.UserID == b.StudentID || a.UserID == b.TutorID
}

// CanTransition reports whether the actor may move b to target.
// Tutors confirm and complete their sessions; either side may cancel.
func (a Actor) CanTransition(b *Booking, target Status) bool {
	if a.IsAdmin() {
		return true
	}
	switch target {
	case StatusConfirmed, StatusCompleted:
		return a.UserID == b.TutorID
	case StatusCancelled:
		return a.Participates(b)
	default:
		return false
	}
}
