package booking

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTopic is stored when a booking is created without a topic.
const DefaultTopic = "General tutoring session"

type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
	RoleAdmin   Role = "admin"
)

// Availability is a tutor-published window that a student can reserve.
type Availability struct {
	ID         uuid.UUID
	TutorID    uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	IsBooked   bool
	Recurrence string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Booking struct {
	ID             uuid.UUID
	StudentID      uuid.UUID
	TutorID        uuid.UUID
	AvailabilityID uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	Topic          string
	Description    string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BookingView is a booking with the participants' display names resolved.
type BookingView struct {
	Booking
	StudentName string
	TutorName   string
}

type CreateBookingRequest struct {
	TutorID        uuid.UUID
	AvailabilityID uuid.UUID
	Topic          string
	Description    string
}

type InstantBookingRequest struct {
	TutorID     uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Topic       string
	Description string
}

type AddAvailabilityRequest struct {
	StartTime  time.Time
	EndTime    time.Time
	Recurrence string
}

// Page selects a 1-based page of results. The zero value returns everything.
type Page struct {
	Number int
	Size   int
}

func (p Page) Limit() int {
	if p.Size <= 0 {
		return 0
	}
	return p.Size
}

func (p Page) Offset() int {
	if p.Number <= 1 || p.Size <= 0 {
		return 0
	}
	return (p.Number - 1) * p.Size
}
