package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReconcileResult counts the slots whose booked flag was repaired.
type ReconcileResult struct {
	Marked   int
	Released int
}

// Reconcile repairs drift between slot flags and active bookings left behind
// by a failure between the booking write and the slot write. Slots touched
// within grace are skipped so in-flight requests are not raced.
func (s *Service) Reconcile(ctx context.Context, grace time.Duration) (ReconcileResult, error) {
	var res ReconcileResult
	now := s.now()
	cutoff := now.Add(-grace)

	open, err := s.repo.ListAvailabilityByBooked(ctx, false, now)
	if err != nil {
		return res, fmt.Errorf("list open availability: %w", err)
	}
	for i := range open {
		slot := open[i]
		if slot.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := s.repo.ActiveBookingForSlot(ctx, slot.ID); err != nil {
			if errors.Is(err, ErrBookingNotFound) {
				continue
			}
			s.logger.Error("reconcile: lookup active booking", zap.String("availability_id", slot.ID.String()), zap.Error(err))
			continue
		}
		slot.IsBooked = true
		slot.UpdatedAt = now
		if err := s.repo.UpdateAvailability(ctx, &slot); err != nil {
			s.logger.Error("reconcile: mark availability booked", zap.String("availability_id", slot.ID.String()), zap.Error(err))
			continue
		}
		res.Marked++
	}

	booked, err := s.repo.ListAvailabilityByBooked(ctx, true, now)
	if err != nil {
		return res, fmt.Errorf("list booked availability: %w", err)
	}
	for i := range booked {
		slot := booked[i]
		if slot.UpdatedAt.After(cutoff) {
			continue
		}
		_, err := s.repo.ActiveBookingForSlot(ctx, slot.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrBookingNotFound) {
			s.logger.Error("reconcile: lookup active booking", zap.String("availability_id", slot.ID.String()), zap.Error(err))
			continue
		}
		slot.IsBooked = false
		slot.UpdatedAt = now
		if err := s.repo.UpdateAvailability(ctx, &slot); err != nil {
			s.logger.Error("reconcile: release availability", zap.String("availability_id", slot.ID.String()), zap.Error(err))
			continue
		}
		res.Released++
	}

	if res.Marked > 0 || res.Released > 0 {
		s.logger.Info("reconciled availability flags",
			zap.Int("marked", res.Marked),
			zap.Int("released", res.Released),
		)
	}
	return res, nil
}
