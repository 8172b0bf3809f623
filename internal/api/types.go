package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/peer-tutoring-booking/internal/booking"
)

type CreateBookingRequest struct {
	TutorID        string `json:"tutor_id"`
	AvailabilityID string `json:"availability_id"`
	Topic          string `json:"topic"`
	Description    string `json:"description"`
}

type InstantBookingRequest struct {
	TutorID     string    `json:"tutor_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Topic       string    `json:"topic"`
	Description string    `json:"description"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type AddAvailabilityRequest struct {
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Recurrence string    `json:"recurrence,omitempty"`
}

type BookingResponse struct {
	ID             uuid.UUID `json:"id"`
	StudentID      uuid.UUID `json:"student_id"`
	StudentName    string    `json:"student_name,omitempty"`
	TutorID        uuid.UUID `json:"tutor_id"`
	TutorName      string    `json:"tutor_name,omitempty"`
	AvailabilityID uuid.UUID `json:"availability_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Topic          string    `json:"topic"`
	Description    string    `json:"description,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type BookingListResponse struct {
	Bookings []BookingResponse `json:"bookings"`
	Page     int               `json:"page,omitempty"`
	PageSize int               `json:"page_size,omitempty"`
}

type AvailabilityResponse struct {
	ID         uuid.UUID `json:"id"`
	TutorID    uuid.UUID `json:"tutor_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	IsBooked   bool      `json:"is_booked"`
	Recurrence string    `json:"recurrence,omitempty"`
}

type SlotListResponse struct {
	Slots []AvailabilityResponse `json:"slots"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toBookingResponse(v *booking.BookingView) BookingResponse {
	return BookingResponse{
		ID:             v.ID,
		StudentID:      v.StudentID,
		StudentName:    v.StudentName,
		TutorID:        v.TutorID,
		TutorName:      v.TutorName,
		AvailabilityID: v.AvailabilityID,
		StartTime:      v.StartTime,
		EndTime:        v.EndTime,
		Topic:          v.Topic,
		Description:    v.Description,
		Status:         string(v.Status),
		CreatedAt:      v.CreatedAt,
	}
}

func toBookingList(views []booking.BookingView, page booking.Page) BookingListResponse {
	out := BookingListResponse{
		Bookings: make([]BookingResponse, 0, len(views)),
		Page:     page.Number,
		PageSize: page.Size,
	}
	for i := range views {
		out.Bookings = append(out.Bookings, toBookingResponse(&views[i]))
	}
	return out
}

func toAvailabilityResponse(a *booking.Availability) AvailabilityResponse {
	return AvailabilityResponse{
		ID:         a.ID,
		TutorID:    a.TutorID,
		StartTime:  a.StartTime,
		EndTime:    a.EndTime,
		IsBooked:   a.IsBooked,
		Recurrence: a.Recurrence,
	}
}
