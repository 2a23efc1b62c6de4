// Package booking holds a visitor's in-progress reservation.
//
// State is persisted per session through a Persister so it survives page
// reloads and server restarts. The selected car expires lazily: it is dropped
// the first time it is read after the expiry window, never by a timer.
package booking

import (
	"time"

	"github.com/yourorg/rental-checkout/internal/catalog"
)

// DefaultCarExpiry is how long a car selection stays valid.
const DefaultCarExpiry = 30 * time.Minute

// Step is the stage of the booking flow the visitor last reached.
type Step string

const (
	StepLocation     Step = "location"
	StepCar          Step = "car"
	StepPayment      Step = "payment"
	StepConfirmation Step = "confirmation"
)

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepLocation, StepCar, StepPayment, StepConfirmation:
		return true
	}
	return false
}

// PaymentInfo is recorded once an order has been accepted by the gateway.
type PaymentInfo struct {
	OrderTrackingID   string  `json:"orderTrackingId"`
	MerchantReference string  `json:"merchantReference"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
}

// GuestDetails is the contact information captured on the checkout form.
type GuestDetails struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CountryCode string `json:"countryCode,omitempty"`
	City        string `json:"city,omitempty"`
	WithDriver  bool   `json:"withDriver"`
}

// State is the persisted booking record. CarSetAt is set if and only if Car
// is set; it holds milliseconds since the Unix epoch.
type State struct {
	Car                    *catalog.Car  `json:"car"`
	CarSetAt               *int64        `json:"carSetAt"`
	SelectedProtectionPlan string        `json:"selectedProtectionPlan,omitempty"`
	CurrentStep            Step          `json:"current_step"`
	PickupLocation         string        `json:"pickup_location,omitempty"`
	ReturnLocation         string        `json:"return_location,omitempty"`
	PickupDate             *time.Time    `json:"pickup_date,omitempty"`
	ReturnDate             *time.Time    `json:"return_date,omitempty"`
	PickupTime             string        `json:"pickup_time,omitempty"`
	ReturnTime             string        `json:"return_time,omitempty"`
	PaymentInfo            *PaymentInfo  `json:"paymentInfo,omitempty"`
	BookingData            *GuestDetails `json:"bookingData,omitempty"`
}

// NewState returns the state of a visitor who has not started booking.
func NewState() State {
	return State{CurrentStep: StepLocation}
}

func (s *State) carExpired(now time.Time, expiry time.Duration) bool {
	if s.Car == nil {
		return false
	}
	if s.CarSetAt == nil {
		return true
	}
	return now.UnixMilli()-*s.CarSetAt > expiry.Milliseconds()
}

func (s *State) clearCar() {
	s.Car = nil
	s.CarSetAt = nil
}
