package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hackgods/peer-tutoring-booking/internal/redis"
)

type Service struct {
	repo      Repository
	directory UserDirectory
	locker    redisclient.Locker
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(repo Repository, directory UserDirectory, locker redisclient.Locker, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:      repo,
		directory: directory,
		locker:    locker,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBooking reserves a published availability slot for a student.
// The booking insert and the slot update are separate writes; if the slot
// update fails the new booking is cancelled again so the slot stays usable.
func (s *Service) CreateBooking(ctx context.Context, studentID uuid.UUID, req CreateBookingRequest) (*BookingView, error) {
	slot, err := s.repo.GetAvailability(ctx, req.AvailabilityID)
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load availability: %w", err)
	}
	if slot.IsBooked {
		return nil, ErrSlotAlreadyBooked
	}
	if req.TutorID != slot.TutorID {
		return nil, ErrTutorMismatch
	}
	if studentID == slot.TutorID {
		return nil, ErrSelfBooking
	}

	var created *Booking

	err = s.withTutorLock(ctx, slot.TutorID, func(lockCtx context.Context) error {
		overlap, err := s.repo.HasOverlap(lockCtx, slot.TutorID, slot.StartTime, slot.EndTime)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if overlap {
			return ErrSlotOverlap
		}

		now := s.now()
		b := &Booking{
			ID:             uuid.New(),
			StudentID:      studentID,
			TutorID:        slot.TutorID,
			AvailabilityID: slot.ID,
			StartTime:      slot.StartTime,
			EndTime:        slot.EndTime,
			Topic:          topicOrDefault(req.Topic),
			Description:    strings.TrimSpace(req.Description),
			Status:         StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertBooking(lockCtx, b); err != nil {
			if errors.Is(err, ErrBookingConflict) {
				return err
			}
			return fmt.Errorf("insert booking: %w", err)
		}

		slot.IsBooked = true
		slot.UpdatedAt = now
		if err := s.repo.UpdateAvailability(lockCtx, slot); err != nil {
			s.compensateBooking(lockCtx, b)
			return fmt.Errorf("mark availability booked: %w", err)
		}

		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("booking created",
		zap.String("booking_id", created.ID.String()),
		zap.String("student_id", studentID.String()),
		zap.String("tutor_id", created.TutorID.String()),
		zap.String("availability_id", created.AvailabilityID.String()),
	)

	return s.view(ctx, created), nil
}

// CreateInstantBooking books a tutor for an arbitrary window without a
// previously published slot. A booked slot is created for the window so the
// availability invariants still hold.
func (s *Service) CreateInstantBooking(ctx context.Context, studentID uuid.UUID, req InstantBookingRequest) (*BookingView, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, ErrInvalidTimeRange
	}
	if req.StartTime.Before(s.now()) {
		return nil, ErrStartInPast
	}
	if studentID == req.TutorID {
		return nil, ErrSelfBooking
	}
	role, err := s.repo.GetUserRole(ctx, req.TutorID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load tutor: %w", err)
	}
	if role != RoleTutor {
		return nil, ErrNotATutor
	}

	var created *Booking

	err = s.withTutorLock(ctx, req.TutorID, func(lockCtx context.Context) error {
		overlap, err := s.repo.HasOverlap(lockCtx, req.TutorID, req.StartTime, req.EndTime)
		if err != nil {
			return fmt.Errorf("check overlap: %w", err)
		}
		if overlap {
			return ErrSlotOverlap
		}

		now := s.now()
		slot := &Availability{
			ID:        uuid.New(),
			TutorID:   req.TutorID,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			IsBooked:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.InsertAvailability(lockCtx, slot); err != nil {
			return fmt.Errorf("insert availability: %w", err)
		}

		b := &Booking{
			ID:             uuid.New(),
			StudentID:      studentID,
			TutorID:        req.TutorID,
			AvailabilityID: slot.ID,
			StartTime:      req.StartTime,
			EndTime:        req.EndTime,
			Topic:          topicOrDefault(req.Topic),
			Description:    strings.TrimSpace(req.Description),
			Status:         StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertBooking(lockCtx, b); err != nil {
			if delErr := s.repo.DeleteAvailability(lockCtx, slot.ID); delErr != nil {
				s.logger.Error("failed to remove instant availability after booking insert failure",
					zap.String("availability_id", slot.ID.String()),
					zap.Error(delErr),
				)
			}
			if errors.Is(err, ErrBookingConflict) {
				return err
			}
			return fmt.Errorf("insert booking: %w", err)
		}

		created = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("instant booking created",
		zap.String("booking_id", created.ID.String()),
		zap.String("student_id", studentID.String()),
		zap.String("tutor_id", created.TutorID.String()),
	)

	return s.view(ctx, created), nil
}

// UpdateStatus moves a booking along the status graph on behalf of actor.
func (s *Service) UpdateStatus(ctx context.Context, actor Actor, bookingID uuid.UUID, target string) (*BookingView, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}

	next, err := ParseStatus(target)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(b.Status, next); err != nil {
		return nil, err
	}
	if !actor.CanTransition(b, next) {
		return nil, ErrNotAllowed
	}

	now := s.now()
	if next == StatusCompleted && b.EndTime.After(now) {
		return nil, ErrSessionNotEnded
	}

	if next == StatusCancelled {
		if err := s.releaseSlot(ctx, b.AvailabilityID, now); err != nil {
			return nil, err
		}
	}

	prev := b.Status
	b.Status = next
	b.UpdatedAt = now
	if err := s.repo.UpdateBookingStatus(ctx, b, prev); err != nil {
		if next == StatusCancelled {
			s.restoreSlot(ctx, b.AvailabilityID, now)
		}
		if errors.Is(err, ErrStatusChanged) || errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update booking status: %w", err)
	}

	s.logger.Info("booking status updated",
		zap.String("booking_id", b.ID.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("actor_id", actor.UserID.String()),
	)

	return s.view(ctx, b), nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*BookingView, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return s.view(ctx, b), nil
}

func (s *Service) ListByStudent(ctx context.Context, studentID uuid.UUID, page Page) ([]BookingView, error) {
	bookings, err := s.repo.ListByStudent(ctx, studentID, page)
	if err != nil {
		return nil, fmt.Errorf("list bookings by student: %w", err)
	}
	return s.views(ctx, bookings), nil
}

func (s *Service) ListByTutor(ctx context.Context, tutorID uuid.UUID, page Page) ([]BookingView, error) {
	bookings, err := s.repo.ListByTutor(ctx, tutorID, page)
	if err != nil {
		return nil, fmt.Errorf("list bookings by tutor: %w", err)
	}
	return s.views(ctx, bookings), nil
}

// ListUpcoming trusts the store to apply the time and role predicate.
func (s *Service) ListUpcoming(ctx context.Context, userID uuid.UUID, isTutor bool) ([]BookingView, error) {
	bookings, err := s.repo.ListUpcoming(ctx, userID, isTutor, s.now())
	if err != nil {
		return nil, fmt.Errorf("list upcoming bookings: %w", err)
	}
	return s.views(ctx, bookings), nil
}

func (s *Service) AddAvailability(ctx context.Context, tutorID uuid.UUID, req AddAvailabilityRequest) (*Availability, error) {
	if !req.EndTime.After(req.StartTime) {
		return nil, ErrInvalidTimeRange
	}

	now := s.now()
	a := &Availability{
		ID:         uuid.New(),
		TutorID:    tutorID,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Recurrence: strings.TrimSpace(req.Recurrence),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertAvailability(ctx, a); err != nil {
		return nil, fmt.Errorf("insert availability: %w", err)
	}
	return a, nil
}

func (s *Service) GetAvailability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	a, err := s.repo.GetAvailability(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get availability: %w", err)
	}
	return a, nil
}

// DeleteAvailability removes an unbooked slot. Ownership is checked by the caller.
func (s *Service) DeleteAvailability(ctx context.Context, id uuid.UUID) error {
	a, err := s.GetAvailability(ctx, id)
	if err != nil {
		return err
	}
	if a.IsBooked {
		return ErrDeleteBookedSlot
	}
	if err := s.repo.DeleteAvailability(ctx, id); err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			return err
		}
		return fmt.Errorf("delete availability: %w", err)
	}
	return nil
}

// ListAvailableSlots returns open slots intersecting [from, to). The window
// itself is validated by the caller.
func (s *Service) ListAvailableSlots(ctx context.Context, tutorID uuid.UUID, from, to time.Time) ([]Availability, error) {
	slots, err := s.repo.ListOpenSlots(ctx, tutorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

func (s *Service) releaseSlot(ctx context.Context, availabilityID uuid.UUID, now time.Time) error {
	slot, err := s.repo.GetAvailability(ctx, availabilityID)
	if err != nil {
		if errors.Is(err, ErrAvailabilityNotFound) {
			s.logger.Warn("cancelled booking references a missing availability",
				zap.String("availability_id", availabilityID.String()))
			return nil
		}
		return fmt.Errorf("load availability: %w", err)
	}
	slot.IsBooked = false
	slot.UpdatedAt = now
	if err := s.repo.UpdateAvailability(ctx, slot); err != nil {
		return fmt.Errorf("release availability: %w", err)
	}
	return nil
}

// restoreSlot marks a released slot booked again after the cancel that
// released it failed to persist.
func (s *Service) restoreSlot(ctx context.Context, availabilityID uuid.UUID, now time.Time) {
	slot, err := s.repo.GetAvailability(ctx, availabilityID)
	if err == nil {
		slot.IsBooked = true
		slot.UpdatedAt = now
		err = s.repo.UpdateAvailability(ctx, slot)
	}
	if err != nil && !errors.Is(err, ErrAvailabilityNotFound) {
		s.logger.Error("failed to restore availability after cancel failure",
			zap.String("availability_id", availabilityID.String()),
			zap.Error(err),
		)
	}
}

// compensateBooking cancels a booking whose slot could not be marked booked.
func (s *Service) compensateBooking(ctx context.Context, b *Booking) {
	prev := b.Status
	b.Status = StatusCancelled
	b.UpdatedAt = s.now()
	if err := s.repo.UpdateBookingStatus(ctx, b, prev); err != nil {
		s.logger.Error("failed to cancel booking after availability update failure",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) withTutorLock(ctx context.Context, tutorID uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithTutorLock(ctx, tutorID, fn)
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrSlotBeingBooked
	case errors.Is(err, redisclient.ErrLockUnavailable):
		// The overlap query and the active-slot unique index still guard the write.
		s.logger.Warn("tutor lock unavailable, booking without it",
			zap.String("tutor_id", tutorID.String()),
			zap.Error(err),
		)
		return fn(ctx)
	}
	return err
}

func (s *Service) view(ctx context.Context, b *Booking) *BookingView {
	return &BookingView{
		Booking:     *b,
		StudentName: s.displayName(ctx, b.StudentID),
		TutorName:   s.displayName(ctx, b.TutorID),
	}
}

func (s *Service) views(ctx context.Context, bookings []Booking) []BookingView {
	out := make([]BookingView, 0, len(bookings))
	names := make(map[uuid.UUID]string)
	for i := range bookings {
		b := bookings[i]
		out = append(out, BookingView{
			Booking:     b,
			StudentName: s.cachedName(ctx, names, b.StudentID),
			TutorName:   s.cachedName(ctx, names, b.TutorID),
		})
	}
	return out
}

func (s *Service) cachedName(ctx context.Context, names map[uuid.UUID]string, id uuid.UUID) string {
	if name, ok := names[id]; ok {
		return name
	}
	name := s.displayName(ctx, id)
	names[id] = name
	return name
}

// displayName never fails the caller; a missing name is logged and left empty.
func (s *Service) displayName(ctx context.Context, id uuid.UUID) string {
	if s.directory == nil {
		return ""
	}
	name, err := s.directory.GetDisplayName(ctx, id)
	if err != nil {
		s.logger.Debug("display name lookup failed",
			zap.String("user_id", id.String()),
			zap.Error(err),
		)
		return ""
	}
	return name
}

func topicOrDefault(topic string) string {
	if t := strings.TrimSpace(topic); t != "" {
		return t
	}
	return DefaultTopic
}
