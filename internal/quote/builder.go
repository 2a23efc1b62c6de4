package quote

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/rental-checkout/internal/adapter"
	"github.com/yourorg/rental-checkout/internal/booking"
	"github.com/yourorg/rental-checkout/internal/catalog"
)

// DefaultCurrency is used when a Builder is created without one.
const DefaultCurrency = "USD"

// Quote is the price breakdown for a booking.
type Quote struct {
	CarName             string  `json:"car_name"`
	WithDriver          bool    `json:"with_driver"`
	Days                int     `json:"days"`
	PricePerDay         float64 `json:"price_per_day"`
	ProtectionPlan      string  `json:"protection_plan,omitempty"`
	ProtectionPlanPrice float64 `json:"protection_plan_price"`
	Amount              float64 `json:"amount"`
	Currency            string  `json:"currency"`
}

// Builder constructs gateway orders from booking state.
type Builder struct {
	currency    string
	callbackURL string
	newRef      func() string
}

// NewBuilder creates a Builder. callbackURL may be empty, in which case the
// gateway's configured default applies.
func NewBuilder(currency, callbackURL string) *Builder {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Builder{
		currency:    currency,
		callbackURL: strings.TrimSpace(callbackURL),
		newRef:      GenerateMerchantReference,
	}
}

// Currency returns the currency orders are priced in.
func (b *Builder) Currency() string {
	return b.currency
}

// Quote prices st. It fails with a validation error when the car or either
// date is missing.
func (b *Builder) Quote(st booking.State, withDriver bool) (Quote, error) {
	const op = "quote: build"
	var missing []string
	if st.Car == nil {
		missing = append(missing, "car")
	}
	if st.PickupDate == nil {
		missing = append(missing, "pickup_date")
	}
	if st.ReturnDate == nil {
		missing = append(missing, "return_date")
	}
	if len(missing) > 0 {
		return Quote{}, adapter.NewValidationError(op,
			fmt.Sprintf("missing booking information (%s)", strings.Join(missing, ", ")), missing...)
	}

	rate := catalog.Rate(st.Car, withDriver)
	planPrice := catalog.PlanPrice(st.Car, st.SelectedProtectionPlan)
	return Quote{
		CarName:             st.Car.Name(),
		WithDriver:          withDriver,
		Days:                RentalDays(*st.PickupDate, *st.ReturnDate),
		PricePerDay:         rate,
		ProtectionPlan:      st.SelectedProtectionPlan,
		ProtectionPlanPrice: planPrice,
		Amount:              CalculateBookingAmount(rate, *st.PickupDate, *st.ReturnDate, planPrice),
		Currency:            b.currency,
	}, nil
}

// Build prices st and returns the order to submit together with its quote.
// Each call generates a fresh merchant reference.
func (b *Builder) Build(ctx context.Context, st booking.State, guest booking.GuestDetails, withDriver bool) (adapter.OrderRequest, Quote, error) {
	_, span := otel.Tracer("quote").Start(ctx, "Builder.Build")
	defer span.End()

	q, err := b.Quote(st, withDriver)
	if err != nil {
		buildsTotal.WithLabelValues("rejected").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return adapter.OrderRequest{}, Quote{}, err
	}

	driving := "self-drive"
	if withDriver {
		driving = "with driver"
	}
	req := adapter.OrderRequest{
		ID:          b.newRef(),
		Currency:    q.Currency,
		Amount:      q.Amount,
		Description: fmt.Sprintf("Car Rental: %s (%s)", q.CarName, driving),
		CallbackURL: b.callbackURL,
		BillingAddress: adapter.BillingAddress{
			EmailAddress: strings.TrimSpace(guest.Email),
			PhoneNumber:  strings.TrimSpace(guest.Phone),
			CountryCode:  strings.TrimSpace(guest.CountryCode),
			FirstName:    strings.TrimSpace(guest.FirstName),
			LastName:     strings.TrimSpace(guest.LastName),
			City:         strings.TrimSpace(guest.City),
		},
	}

	span.SetAttributes(
		attribute.String("merchant_reference", req.ID),
		attribute.Int("days", q.Days),
		attribute.Float64("amount", q.Amount),
	)
	buildsTotal.WithLabelValues("ok").Inc()
	quotedAmount.Observe(q.Amount)
	return req, q, nil
}
