package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/peer-tutoring-booking/internal/auth"
	"github.com/hackgods/peer-tutoring-booking/internal/booking"
	"github.com/hackgods/peer-tutoring-booking/internal/metrics"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "peer-tutoring-test"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// fakeService records the last call and returns canned results.
type fakeService struct {
	view   *booking.BookingView
	views  []booking.BookingView
	slot   *booking.Availability
	slots  []booking.Availability
	err    error
	delErr error

	gotStudent uuid.UUID
	gotActor   booking.Actor
	gotTarget  string
	gotPage    booking.Page
	gotIsTutor bool
	gotFrom    time.Time
	gotTo      time.Time
	deleted    uuid.UUID
}

func (f *fakeService) CreateBooking(_ context.Context, studentID uuid.UUID, _ booking.CreateBookingRequest) (*booking.BookingView, error) {
	f.gotStudent = studentID
	return f.view, f.err
}

func (f *fakeService) CreateInstantBooking(_ context.Context, studentID uuid.UUID, _ booking.InstantBookingRequest) (*booking.BookingView, error) {
	f.gotStudent = studentID
	return f.view, f.err
}

func (f *fakeService) UpdateStatus(_ context.Context, actor booking.Actor, _ uuid.UUID, target string) (*booking.BookingView, error) {
	f.gotActor, f.gotTarget = actor, target
	return f.view, f.err
}

func (f *fakeService) GetByID(context.Context, uuid.UUID) (*booking.BookingView, error) {
	return f.view, f.err
}

func (f *fakeService) ListByStudent(_ context.Context, _ uuid.UUID, page booking.Page) ([]booking.BookingView, error) {
	f.gotPage = page
	return f.views, f.err
}

func (f *fakeService) ListByTutor(_ context.Context, _ uuid.UUID, page booking.Page) ([]booking.BookingView, error) {
	f.gotPage = page
	return f.views, f.err
}

func (f *fakeService) ListUpcoming(_ context.Context, _ uuid.UUID, isTutor bool) ([]booking.BookingView, error) {
	f.gotIsTutor = isTutor
	return f.views, f.err
}

func (f *fakeService) AddAvailability(context.Context, uuid.UUID, booking.AddAvailabilityRequest) (*booking.Availability, error) {
	return f.slot, f.err
}

func (f *fakeService) GetAvailability(context.Context, uuid.UUID) (*booking.Availability, error) {
	return f.slot, f.err
}

func (f *fakeService) DeleteAvailability(_ context.Context, id uuid.UUID) error {
	f.deleted = id
	return f.delErr
}

func (f *fakeService) ListAvailableSlots(_ context.Context, _ uuid.UUID, from, to time.Time) ([]booking.Availability, error) {
	f.gotFrom, f.gotTo = from, to
	return f.slots, f.err
}

type testServer struct {
	t       *testing.T
	svc     *fakeService
	metrics *metrics.Metrics
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{t: t, svc: &fakeService{}, metrics: metrics.New()}
	ts.handler = NewRouter(RouterConfig{
		Service:  ts.svc,
		Verifier: auth.NewJWTVerifier(testKey, testIssuer),
		Metrics:  ts.metrics,
		Postgres: func(context.Context) error { return nil },
		Redis:    func(context.Context) error { return nil },
		Env:      "test",
		Version:  "dev",
		Now:      func() time.Time { return testNow },
	})
	return ts
}

func (ts *testServer) token(userID uuid.UUID, role string) string {
	ts.t.Helper()
	tok, _, err := auth.Issue(userID, role, testIssuer, testKey, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func sampleView(student, tutor uuid.UUID) *booking.BookingView {
	return &booking.BookingView{
		Booking: booking.Booking{
			ID:             uuid.New(),
			StudentID:      student,
			TutorID:        tutor,
			AvailabilityID: uuid.New(),
			StartTime:      testNow.Add(time.Hour),
			EndTime:        testNow.Add(2 * time.Hour),
			Topic:          booking.DefaultTopic,
			Status:         booking.StatusPending,
			CreatedAt:      testNow,
		},
		StudentName: "Sam Student",
		TutorName:   "Tina Tutor",
	}
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/bookings/upcoming", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/bookings/upcoming", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, _, err := auth.Issue(uuid.New(), auth.RoleStudent, testIssuer, "wrong-key", time.Hour)
	require.NoError(t, err)
	rec = ts.do(http.MethodGet, "/api/v1/bookings/upcoming", other, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateBooking(t *testing.T) {
	ts := newTestServer(t)
	student, tutor := uuid.New(), uuid.New()
	ts.svc.view = sampleView(student, tutor)

	rec := ts.do(http.MethodPost, "/api/v1/bookings", ts.token(student, auth.RoleStudent), CreateBookingRequest{
		TutorID:        tutor.String(),
		AvailabilityID: ts.svc.view.AvailabilityID.String(),
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ts.svc.view.ID, resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "Tina Tutor", resp.TutorName)
	assert.Equal(t, student, ts.svc.gotStudent)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.BookingsCreated.WithLabelValues("slot")))
}

func TestCreateBookingRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)
	student := uuid.New()
	tok := ts.token(student, auth.RoleStudent)

	rec := ts.do(http.MethodPost, "/api/v1/bookings", tok, CreateBookingRequest{TutorID: "nope", AvailabilityID: uuid.NewString()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_tutor_id", decodeError(t, rec).Error)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)
}

func TestCreateBookingRequiresStudentRole(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/bookings", ts.token(uuid.New(), auth.RoleTutor), CreateBookingRequest{
		TutorID:        uuid.NewString(),
		AvailabilityID: uuid.NewString(),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCoreErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", booking.ErrAvailabilityNotFound, http.StatusNotFound, "availability_not_found"},
		{"already booked", booking.ErrSlotAlreadyBooked, http.StatusUnprocessableEntity, "slot_already_booked"},
		{"overlap", booking.ErrSlotOverlap, http.StatusUnprocessableEntity, "slot_overlap"},
		{"lock busy", booking.ErrSlotBeingBooked, http.StatusUnprocessableEntity, "slot_being_booked"},
		{"not a tutor", booking.ErrNotATutor, http.StatusUnprocessableEntity, "not_a_tutor"},
		{"wrapped conflict", fmt.Errorf("insert: %w", booking.ErrBookingConflict), http.StatusUnprocessableEntity, "booking_conflict"},
		{"forbidden", booking.ErrNotAllowed, http.StatusForbidden, "forbidden"},
		{"unexpected", errors.New("connection reset by peer"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.svc.err = tc.err

			rec := ts.do(http.MethodPost, "/api/v1/bookings", ts.token(uuid.New(), auth.RoleStudent), CreateBookingRequest{
				TutorID:        uuid.NewString(),
				AvailabilityID: uuid.NewString(),
			})

			assert.Equal(t, tc.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tc.code, resp.Error)
			if tc.status == http.StatusInternalServerError {
				assert.Empty(t, resp.Details)
			}
		})
	}
}

func TestCreateInstantBooking(t *testing.T) {
	ts := newTestServer(t)
	student, tutor := uuid.New(), uuid.New()
	ts.svc.view = sampleView(student, tutor)

	rec := ts.do(http.MethodPost, "/api/v1/bookings/instant", ts.token(student, auth.RoleStudent), InstantBookingRequest{
		TutorID:   tutor.String(),
		StartTime: testNow.Add(time.Hour),
		EndTime:   testNow.Add(2 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.BookingsCreated.WithLabelValues("instant")))

	rec = ts.do(http.MethodPost, "/api/v1/bookings/instant", ts.token(student, auth.RoleStudent), InstantBookingRequest{
		TutorID: tutor.String(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBookingParticipantsOnly(t *testing.T) {
	ts := newTestServer(t)
	student, tutor := uuid.New(), uuid.New()
	ts.svc.view = sampleView(student, tutor)
	path := "/api/v1/bookings/" + ts.svc.view.ID.String()

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, ts.token(student, auth.RoleStudent), nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, ts.token(tutor, auth.RoleTutor), nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, path, ts.token(uuid.New(), auth.RoleAdmin), nil).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, path, ts.token(uuid.New(), auth.RoleStudent), nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/bookings/xyz", ts.token(student, auth.RoleStudent), nil).Code)
}

func TestUpdateStatusPassesActor(t *testing.T) {
	ts := newTestServer(t)
	student, tutor := uuid.New(), uuid.New()
	ts.svc.view = sampleView(student, tutor)
	ts.svc.view.Status = booking.StatusConfirmed

	rec := ts.do(http.MethodPatch, "/api/v1/bookings/"+ts.svc.view.ID.String()+"/status",
		ts.token(tutor, auth.RoleTutor), UpdateStatusRequest{Status: "Confirmed"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, booking.Actor{UserID: tutor, Role: booking.RoleTutor}, ts.svc.gotActor)
	assert.Equal(t, "Confirmed", ts.svc.gotTarget)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.StatusTransitions.WithLabelValues("confirmed")))
}

func TestListBookingsPagination(t *testing.T) {
	ts := newTestServer(t)
	student := uuid.New()
	tok := ts.token(student, auth.RoleStudent)
	ts.svc.views = []booking.BookingView{*sampleView(student, uuid.New())}
	base := "/api/v1/students/" + student.String() + "/bookings"

	rec := ts.do(http.MethodGet, base, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.Page{}, ts.svc.gotPage)

	rec = ts.do(http.MethodGet, base+"?page=2&page_size=5", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.Page{Number: 2, Size: 5}, ts.svc.gotPage)
	var resp BookingListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Bookings, 1)

	rec = ts.do(http.MethodGet, base+"?page=3", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, booking.Page{Number: 3, Size: defaultPageSize}, ts.svc.gotPage)

	for _, q := range []string{"?page=0", "?page=-1", "?page_size=0", "?page=abc"} {
		rec = ts.do(http.MethodGet, base+q, tok, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Equal(t, "invalid_pagination", decodeError(t, rec).Error)
	}
}

func TestListBookingsOwnHistoryOnly(t *testing.T) {
	ts := newTestServer(t)
	tutor := uuid.New()

	rec := ts.do(http.MethodGet, "/api/v1/tutors/"+tutor.String()+"/bookings", ts.token(uuid.New(), auth.RoleTutor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/tutors/"+tutor.String()+"/bookings", ts.token(uuid.New(), auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListUpcomingUsesCallerRole(t *testing.T) {
	ts := newTestServer(t)

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/bookings/upcoming", ts.token(uuid.New(), auth.RoleTutor), nil).Code)
	assert.True(t, ts.svc.gotIsTutor)

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/bookings/upcoming", ts.token(uuid.New(), auth.RoleStudent), nil).Code)
	assert.False(t, ts.svc.gotIsTutor)
}

func TestListSlotsWindow(t *testing.T) {
	ts := newTestServer(t)
	tutor := uuid.New()
	tok := ts.token(uuid.New(), auth.RoleStudent)
	base := "/api/v1/tutors/" + tutor.String() + "/slots"

	from := testNow.Add(time.Hour).Format(time.RFC3339)
	to := testNow.Add(5 * time.Hour).Format(time.RFC3339)
	rec := ts.do(http.MethodGet, base+"?from="+from+"&to="+to, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, ts.svc.gotFrom.Equal(testNow.Add(time.Hour)))
	assert.True(t, ts.svc.gotTo.Equal(testNow.Add(5*time.Hour)))

	rec = ts.do(http.MethodGet, base, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.svc.gotFrom.Equal(testNow))
	assert.True(t, ts.svc.gotTo.Equal(testNow.Add(7*24*time.Hour)))

	past := testNow.Add(-24 * time.Hour).Format(time.RFC3339)
	rec = ts.do(http.MethodGet, base+"?from="+past, tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, base+"?from="+to+"&to="+from, tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, base+"?from=tomorrow", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailabilityEndpoints(t *testing.T) {
	ts := newTestServer(t)
	tutor := uuid.New()
	ts.svc.slot = &booking.Availability{
		ID:        uuid.New(),
		TutorID:   tutor,
		StartTime: testNow.Add(time.Hour),
		EndTime:   testNow.Add(2 * time.Hour),
	}

	rec := ts.do(http.MethodPost, "/api/v1/availability", ts.token(tutor, auth.RoleTutor), AddAvailabilityRequest{
		StartTime: ts.svc.slot.StartTime,
		EndTime:   ts.svc.slot.EndTime,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, "/api/v1/availability", ts.token(uuid.New(), auth.RoleStudent), AddAvailabilityRequest{
		StartTime: ts.svc.slot.StartTime,
		EndTime:   ts.svc.slot.EndTime,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	path := "/api/v1/availability/" + ts.svc.slot.ID.String()
	rec = ts.do(http.MethodGet, path, ts.token(uuid.New(), auth.RoleStudent), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, tutor, got.TutorID)
	assert.False(t, got.IsBooked)
}

func TestDeleteAvailabilityOwnership(t *testing.T) {
	ts := newTestServer(t)
	tutor := uuid.New()
	ts.svc.slot = &booking.Availability{ID: uuid.New(), TutorID: tutor}
	path := "/api/v1/availability/" + ts.svc.slot.ID.String()

	rec := ts.do(http.MethodDelete, path, ts.token(uuid.New(), auth.RoleTutor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, uuid.Nil, ts.svc.deleted)

	rec = ts.do(http.MethodDelete, path, ts.token(tutor, auth.RoleTutor), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, ts.svc.slot.ID, ts.svc.deleted)

	ts.svc.delErr = booking.ErrDeleteBookedSlot
	rec = ts.do(http.MethodDelete, path, ts.token(uuid.New(), auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "slot_booked", decodeError(t, rec).Error)
}

func TestHealth(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	cases := []struct {
		name     string
		pg, rd   PingFunc
		code     int
		status   string
		postgres string
	}{
		{"all up", up, up, http.StatusOK, "ok", "ok"},
		{"redis down", up, down, http.StatusOK, "degraded", "ok"},
		{"postgres down", down, up, http.StatusServiceUnavailable, "error", "down"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewRouter(RouterConfig{
				Verifier: auth.NewJWTVerifier(testKey, testIssuer),
				Postgres: tc.pg,
				Redis:    tc.rd,
			})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tc.code, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.status, resp.Status)
			assert.Equal(t, tc.postgres, resp.Dependencies["postgres"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodGet, "/health/live", "", nil)

	rec := ts.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tutoring_http_request_duration_seconds")
	assert.Contains(t, rec.Body.String(), `route="/health/live"`)
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = ts.do(http.MethodGet, "/health/live", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
