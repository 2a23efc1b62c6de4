package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yourorg/rental-checkout/internal/catalog"
)

// SessionKey returns the persistence key for a booking session.
func SessionKey(sessionID string) string {
	return "booking_session:" + sessionID
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for car expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithExpiry overrides DefaultCarExpiry.
func WithExpiry(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// Store reads and writes one session's State. Every mutation is a
// load-modify-save against the Persister. The store performs no validation
// of the values it is given.
type Store struct {
	persister Persister
	key       string
	now       func() time.Time
	expiry    time.Duration

	mu sync.Mutex
}

// NewStore binds a Store to key in p.
func NewStore(p Persister, key string, opts ...Option) *Store {
	if p == nil {
		panic("booking persister cannot be nil")
	}
	s := &Store{persister: p, key: key, now: time.Now, expiry: DefaultCarExpiry}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the persistence key.
func (s *Store) Key() string { return s.key }

func (s *Store) load(ctx context.Context) (State, error) {
	data, err := s.persister.Load(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return NewState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("booking: load %s: %w", s.key, err)
	}
	st := NewState()
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("booking: decode %s: %w", s.key, err)
	}
	return st, nil
}

func (s *Store) save(ctx context.Context, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("booking: encode %s: %w", s.key, err)
	}
	if err := s.persister.Save(ctx, s.key, data); err != nil {
		return fmt.Errorf("booking: save %s: %w", s.key, err)
	}
	return nil
}

// read loads the state and drops an expired car, persisting the change.
func (s *Store) read(ctx context.Context) (State, error) {
	st, err := s.load(ctx)
	if err != nil {
		return State{}, err
	}
	if st.carExpired(s.now(), s.expiry) {
		st.clearCar()
		if err := s.save(ctx, st); err != nil {
			return State{}, err
		}
	}
	return st, nil
}

func (s *Store) update(ctx context.Context, fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	fn(&st)
	return s.save(ctx, st)
}

// Snapshot returns the current state with car expiry applied.
func (s *Store) Snapshot(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx)
}

// SetCar stores car and stamps CarSetAt. A nil car clears both.
func (s *Store) SetCar(ctx context.Context, car *catalog.Car) error {
	return s.update(ctx, func(st *State) {
		if car == nil {
			st.clearCar()
			return
		}
		at := s.now().UnixMilli()
		st.Car = car
		st.CarSetAt = &at
	})
}

// GetCar returns the selected car, or nil when none is set or the selection
// has expired.
func (s *Store) GetCar(ctx context.Context) (*catalog.Car, error) {
	st, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return st.Car, nil
}

// ClearExpiredCar drops the car if its selection window has passed.
func (s *Store) ClearExpiredCar(ctx context.Context) error {
	_, err := s.Snapshot(ctx)
	return err
}

// SetSelectedProtectionPlan records the chosen plan name; "" or "none" means no plan.
func (s *Store) SetSelectedProtectionPlan(ctx context.Context, name string) error {
	return s.update(ctx, func(st *State) { st.SelectedProtectionPlan = name })
}

// SetCurrentStep moves the flow to step.
func (s *Store) SetCurrentStep(ctx context.Context, step Step) error {
	return s.update(ctx, func(st *State) { st.CurrentStep = step })
}

// SetPickupLocation sets where the car is collected.
func (s *Store) SetPickupLocation(ctx context.Context, location string) error {
	return s.update(ctx, func(st *State) { st.PickupLocation = location })
}

// SetReturnLocation sets where the car is returned.
func (s *Store) SetReturnLocation(ctx context.Context, location string) error {
	return s.update(ctx, func(st *State) { st.ReturnLocation = location })
}

// SetPickupDate sets the first day of the rental.
func (s *Store) SetPickupDate(ctx context.Context, date time.Time) error {
	return s.update(ctx, func(st *State) { st.PickupDate = &date })
}

// SetReturnDate sets the day the car is returned.
func (s *Store) SetReturnDate(ctx context.Context, date time.Time) error {
	return s.update(ctx, func(st *State) { st.ReturnDate = &date })
}

// SetPickupTime sets the collection time, e.g. "10:00".
func (s *Store) SetPickupTime(ctx context.Context, t string) error {
	return s.update(ctx, func(st *State) { st.PickupTime = t })
}

// SetReturnTime sets the return time.
func (s *Store) SetReturnTime(ctx context.Context, t string) error {
	return s.update(ctx, func(st *State) { st.ReturnTime = t })
}

// SetPaymentInfo stores info verbatim.
func (s *Store) SetPaymentInfo(ctx context.Context, info PaymentInfo) error {
	return s.update(ctx, func(st *State) { st.PaymentInfo = &info })
}

// SetBookingData stores the guest details; nil clears them.
func (s *Store) SetBookingData(ctx context.Context, data *GuestDetails) error {
	return s.update(ctx, func(st *State) {
		if data == nil {
			st.BookingData = nil
			return
		}
		d := *data
		st.BookingData = &d
	})
}

// ClearAfterPayment resets the car and guest details after a confirmed
// payment and moves the flow to the confirmation step. PaymentInfo is kept
// so the confirmation can be shown again.
func (s *Store) ClearAfterPayment(ctx context.Context) error {
	return s.update(ctx, func(st *State) {
		st.clearCar()
		st.BookingData = nil
		st.CurrentStep = StepConfirmation
	})
}

// Reset deletes the session's state.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persister.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("booking: delete %s: %w", s.key, err)
	}
	return nil
}
