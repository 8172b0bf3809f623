package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository with hooks for injecting store failures.
type memRepo struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]Availability
	bookings map[uuid.UUID]Booking
	roles    map[uuid.UUID]Role

	failUpdateAvailability error
	failInsertBooking      error
	failGetAvailability    error
}

func newMemRepo() *memRepo {
	return &memRepo{
		slots:    make(map[uuid.UUID]Availability),
		bookings: make(map[uuid.UUID]Booking),
		roles:    make(map[uuid.UUID]Role),
	}
}

func (r *memRepo) GetUserRole(_ context.Context, id uuid.UUID) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return "", ErrUserNotFound
	}
	return role, nil
}

func (r *memRepo) GetAvailability(_ context.Context, id uuid.UUID) (*Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGetAvailability != nil {
		return nil, r.failGetAvailability
	}
	a, ok := r.slots[id]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return &a, nil
}

func (r *memRepo) InsertAvailability(_ context.Context, a *Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[a.ID] = *a
	return nil
}

func (r *memRepo) UpdateAvailability(_ context.Context, a *Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdateAvailability != nil {
		return r.failUpdateAvailability
	}
	if _, ok := r.slots[a.ID]; !ok {
		return ErrAvailabilityNotFound
	}
	r.slots[a.ID] = *a
	return nil
}

func (r *memRepo) DeleteAvailability(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.slots[id]; !ok {
		return ErrAvailabilityNotFound
	}
	delete(r.slots, id)
	return nil
}

func (r *memRepo) ListOpenSlots(_ context.Context, tutorID uuid.UUID, from, to time.Time) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, a := range r.slots {
		if a.TutorID == tutorID && !a.IsBooked && a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *memRepo) ListAvailabilityByBooked(_ context.Context, booked bool, after time.Time) ([]Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Availability
	for _, a := range r.slots {
		if a.IsBooked == booked && a.EndTime.After(after) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *memRepo) InsertBooking(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsertBooking != nil {
		return r.failInsertBooking
	}
	for _, existing := range r.bookings {
		if existing.AvailabilityID == b.AvailabilityID && existing.Status.IsActive() {
			return ErrBookingConflict
		}
	}
	r.bookings[b.ID] = *b
	return nil
}

func (r *memRepo) UpdateBookingStatus(_ context.Context, b *Booking, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.bookings[b.ID]
	if !ok || stored.Status != from {
		return ErrStatusChanged
	}
	stored.Status = b.Status
	stored.UpdatedAt = b.UpdatedAt
	r.bookings[b.ID] = stored
	return nil
}

func (r *memRepo) HasOverlap(_ context.Context, tutorID uuid.UUID, start, end time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.TutorID == tutorID && b.Status.IsActive() && b.StartTime.Before(end) && b.EndTime.After(start) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) ActiveBookingForSlot(_ context.Context, availabilityID uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.AvailabilityID == availabilityID && b.Status.IsActive() {
			return &b, nil
		}
	}
	return nil, ErrBookingNotFound
}

func (r *memRepo) filter(page Page, keep func(Booking) bool) []Booking {
	var out []Booking
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if page.Limit() == 0 {
		return out
	}
	if page.Offset() >= len(out) {
		return nil
	}
	end := page.Offset() + page.Limit()
	if end > len(out) {
		end = len(out)
	}
	return out[page.Offset():end]
}

func (r *memRepo) ListByStudent(_ context.Context, studentID uuid.UUID, page Page) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(page, func(b Booking) bool { return b.StudentID == studentID }), nil
}

func (r *memRepo) ListByTutor(_ context.Context, tutorID uuid.UUID, page Page) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(page, func(b Booking) bool { return b.TutorID == tutorID }), nil
}

func (r *memRepo) ListUpcoming(_ context.Context, userID uuid.UUID, isTutor bool, now time.Time) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(Page{}, func(b Booking) bool {
		owner := b.StudentID
		if isTutor {
			owner = b.TutorID
		}
		return owner == userID && b.Status.IsActive() && b.EndTime.After(now)
	}), nil
}

// slot returns the stored copy of a slot, reading under the lock.
func (r *memRepo) slot(id uuid.UUID) Availability {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[id]
}

// staleRepo hands out a snapshot of a booking from GetBooking, as a reader
// racing a concurrent writer would see it.
type staleRepo struct {
	*memRepo
	snapshot Booking
}

func (r *staleRepo) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	if id != r.snapshot.ID {
		return nil, ErrBookingNotFound
	}
	b := r.snapshot
	return &b, nil
}

type memDirectory struct {
	names map[uuid.UUID]string
	err   error
}

func (d *memDirectory) GetDisplayName(_ context.Context, id uuid.UUID) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	name, ok := d.names[id]
	if !ok {
		return "", ErrUserNotFound
	}
	return name, nil
}

type passLocker struct {
	calls int
	err   error
}

func (l *passLocker) WithTutorLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

var errStoreDown = errors.New("store unavailable")
