package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/peer-tutoring-booking/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// errorCodes gives well-known core errors a stable machine-readable code.
var errorCodes = []struct {
	err  error
	code string
}{
	{booking.ErrAvailabilityNotFound, "availability_not_found"},
	{booking.ErrBookingNotFound, "booking_not_found"},
	{booking.ErrUserNotFound, "user_not_found"},
	{booking.ErrSlotAlreadyBooked, "slot_already_booked"},
	{booking.ErrTutorMismatch, "tutor_mismatch"},
	{booking.ErrSelfBooking, "self_booking"},
	{booking.ErrNotATutor, "not_a_tutor"},
	{booking.ErrSlotOverlap, "slot_overlap"},
	{booking.ErrSlotBeingBooked, "slot_being_booked"},
	{booking.ErrBookingConflict, "booking_conflict"},
	{booking.ErrInvalidStatus, "invalid_status"},
	{booking.ErrTerminalStatus, "terminal_status"},
	{booking.ErrInvalidTransition, "invalid_status_transition"},
	{booking.ErrSessionNotEnded, "session_not_ended"},
	{booking.ErrStatusChanged, "status_changed"},
	{booking.ErrInvalidTimeRange, "invalid_time_range"},
	{booking.ErrStartInPast, "start_in_past"},
	{booking.ErrDeleteBookedSlot, "slot_booked"},
	{booking.ErrNotAllowed, "forbidden"},
}

func codeFor(err error, fallback string) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return fallback
}

// handleCoreError maps a core failure to a response. Unexpected failures are
// logged and reported without internals.
func (h *handler) handleCoreError(w http.ResponseWriter, r *http.Request, err error) {
	kind := booking.KindOf(err)
	if h.metrics != nil {
		h.metrics.CoreFailures.WithLabelValues(kind.String()).Inc()
	}

	switch kind {
	case booking.KindNotFound:
		writeError(w, http.StatusNotFound, codeFor(err, "not_found"), err.Error())
	case booking.KindValidation:
		writeError(w, http.StatusUnprocessableEntity, codeFor(err, "validation_failed"), err.Error())
	case booking.KindForbidden:
		writeError(w, http.StatusForbidden, codeFor(err, "forbidden"), err.Error())
	default:
		h.logger.Error("unexpected core failure",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
