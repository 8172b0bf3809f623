package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/peer-tutoring-booking/internal/auth"
	"github.com/hackgods/peer-tutoring-booking/internal/booking"
	"github.com/hackgods/peer-tutoring-booking/internal/metrics"
)

const defaultPageSize = 20

// BookingService is the core surface the HTTP layer drives.
type BookingService interface {
	CreateBooking(ctx context.Context, studentID uuid.UUID, req booking.CreateBookingRequest) (*booking.BookingView, error)
	CreateInstantBooking(ctx context.Context, studentID uuid.UUID, req booking.InstantBookingRequest) (*booking.BookingView, error)
	UpdateStatus(ctx context.Context, actor booking.Actor, bookingID uuid.UUID, target string) (*booking.BookingView, error)
	GetByID(ctx context.Context, id uuid.UUID) (*booking.BookingView, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID, page booking.Page) ([]booking.BookingView, error)
	ListByTutor(ctx context.Context, tutorID uuid.UUID, page booking.Page) ([]booking.BookingView, error)
	ListUpcoming(ctx context.Context, userID uuid.UUID, isTutor bool) ([]booking.BookingView, error)
	AddAvailability(ctx context.Context, tutorID uuid.UUID, req booking.AddAvailabilityRequest) (*booking.Availability, error)
	GetAvailability(ctx context.Context, id uuid.UUID) (*booking.Availability, error)
	DeleteAvailability(ctx context.Context, id uuid.UUID) error
	ListAvailableSlots(ctx context.Context, tutorID uuid.UUID, from, to time.Time) ([]booking.Availability, error)
}

type handler struct {
	svc     BookingService
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func (h *handler) createBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	tutorID, err := uuid.Parse(req.TutorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tutor_id", "tutor_id must be a valid UUID")
		return
	}
	slotID, err := uuid.Parse(req.AvailabilityID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_availability_id", "availability_id must be a valid UUID")
		return
	}

	view, err := h.svc.CreateBooking(r.Context(), id.UserID, booking.CreateBookingRequest{
		TutorID:        tutorID,
		AvailabilityID: slotID,
		Topic:          req.Topic,
		Description:    req.Description,
	})
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	h.countCreated("slot")
	writeJSON(w, http.StatusCreated, toBookingResponse(view))
}

func (h *handler) createInstantBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req InstantBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	tutorID, err := uuid.Parse(req.TutorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tutor_id", "tutor_id must be a valid UUID")
		return
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_time_range", "start_time and end_time are required")
		return
	}

	view, err := h.svc.CreateInstantBooking(r.Context(), id.UserID, booking.InstantBookingRequest{
		TutorID:     tutorID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Topic:       req.Topic,
		Description: req.Description,
	})
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	h.countCreated("instant")
	writeJSON(w, http.StatusCreated, toBookingResponse(view))
}

func (h *handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	bookingID, ok := pathUUID(w, r, "id", "invalid_booking_id")
	if !ok {
		return
	}

	view, err := h.svc.GetByID(r.Context(), bookingID)
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	if actor := actorFor(id); !actor.IsAdmin() && !actor.Participates(&view.Booking) {
		writeError(w, http.StatusForbidden, "forbidden", "only participants may view this booking")
		return
	}

	writeJSON(w, http.StatusOK, toBookingResponse(view))
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	bookingID, ok := pathUUID(w, r, "id", "invalid_booking_id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	view, err := h.svc.UpdateStatus(r.Context(), actorFor(id), bookingID, req.Status)
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.StatusTransitions.WithLabelValues(string(view.Status)).Inc()
	}
	writeJSON(w, http.StatusOK, toBookingResponse(view))
}

func (h *handler) listStudentBookings(w http.ResponseWriter, r *http.Request) {
	h.listBookings(w, r, "invalid_student_id", h.svc.ListByStudent)
}

func (h *handler) listTutorBookings(w http.ResponseWriter, r *http.Request) {
	h.listBookings(w, r, "invalid_tutor_id", h.svc.ListByTutor)
}

type listFunc func(ctx context.Context, userID uuid.UUID, page booking.Page) ([]booking.BookingView, error)

// listBookings serves both per-student and per-tutor history. Callers may only
// read their own history unless they are an admin.
func (h *handler) listBookings(w http.ResponseWriter, r *http.Request, badIDCode string, list listFunc) {
	id, _ := auth.FromContext(r.Context())

	userID, ok := pathUUID(w, r, "id", badIDCode)
	if !ok {
		return
	}
	if id.Role != auth.RoleAdmin && id.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden", "cannot list another user's bookings")
		return
	}

	page, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_pagination", err.Error())
		return
	}

	views, err := list(r.Context(), userID, page)
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookingList(views, page))
}

func (h *handler) listUpcoming(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	views, err := h.svc.ListUpcoming(r.Context(), id.UserID, id.Role == auth.RoleTutor)
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookingList(views, booking.Page{}))
}

func (h *handler) addAvailability(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req AddAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.StartTime.IsZero() || req.EndTime.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_time_range", "start_time and end_time are required")
		return
	}

	slot, err := h.svc.AddAvailability(r.Context(), id.UserID, booking.AddAvailabilityRequest{
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Recurrence: req.Recurrence,
	})
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAvailabilityResponse(slot))
}

func (h *handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	slotID, ok := pathUUID(w, r, "id", "invalid_availability_id")
	if !ok {
		return
	}

	slot, err := h.svc.GetAvailability(r.Context(), slotID)
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAvailabilityResponse(slot))
}

func (h *handler) deleteAvailability(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	slotID, ok := pathUUID(w, r, "id", "invalid_availability_id")
	if !ok {
		return
	}

	slot, err := h.svc.GetAvailability(r.Context(), slotID)
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}
	if id.Role != auth.RoleAdmin && slot.TutorID != id.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "only the owning tutor may delete this slot")
		return
	}

	if err := h.svc.DeleteAvailability(r.Context(), slotID); err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listSlots(w http.ResponseWriter, r *http.Request) {
	tutorID, ok := pathUUID(w, r, "id", "invalid_tutor_id")
	if !ok {
		return
	}

	from, to, err := h.parseWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_window", err.Error())
		return
	}

	slots, err := h.svc.ListAvailableSlots(r.Context(), tutorID, from, to)
	if err != nil {
		h.handleCoreError(w, r, err)
		return
	}

	resp := SlotListResponse{Slots: make([]AvailabilityResponse, 0, len(slots))}
	for i := range slots {
		resp.Slots = append(resp.Slots, toAvailabilityResponse(&slots[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) countCreated(kind string) {
	if h.metrics != nil {
		h.metrics.BookingsCreated.WithLabelValues(kind).Inc()
	}
}

// parseWindow reads the from/to query window. A missing from means now; a
// missing to means one week after from.
func (h *handler) parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := h.now()
	from, to := now, time.Time{}

	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadQuery("from must be RFC3339")
		}
		from = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, errBadQuery("to must be RFC3339")
		}
		to = t
	} else {
		to = from.Add(7 * 24 * time.Hour)
	}

	if from.Before(now.Add(-time.Minute)) {
		return time.Time{}, time.Time{}, errBadQuery("from must not be in the past")
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errBadQuery("to must be after from")
	}
	return from, to, nil
}

func parsePage(r *http.Request) (booking.Page, error) {
	q := r.URL.Query()
	rawPage, rawSize := q.Get("page"), q.Get("page_size")
	if rawPage == "" && rawSize == "" {
		return booking.Page{}, nil
	}

	page := booking.Page{Number: 1, Size: defaultPageSize}
	if rawPage != "" {
		n, err := strconv.Atoi(rawPage)
		if err != nil || n < 1 {
			return booking.Page{}, errBadQuery("page must be a positive integer")
		}
		page.Number = n
	}
	if rawSize != "" {
		n, err := strconv.Atoi(rawSize)
		if err != nil || n < 1 {
			return booking.Page{}, errBadQuery("page_size must be a positive integer")
		}
		page.Size = n
	}
	return page, nil
}

func pathUUID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func actorFor(id auth.Identity) booking.Actor {
	return booking.Actor{UserID: id.UserID, Role: booking.Role(id.Role)}
}

type errBadQuery string

func (e errBadQuery) Error() string { return string(e) }
