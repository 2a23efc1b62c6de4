// Package checkout coordinates a booking session with the payment gateway.
// Submit prices the session's booking and hands the order to the gateway,
// Verify settles the outcome when the payer returns through the callback, and
// HandleNotification does the same for provider IPN calls.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yourorg/rental-checkout/internal/adapter"
	"github.com/yourorg/rental-checkout/internal/booking"
	"github.com/yourorg/rental-checkout/internal/ledger"
	"github.com/yourorg/rental-checkout/internal/policy"
	"github.com/yourorg/rental-checkout/internal/quote"
	"github.com/yourorg/rental-checkout/internal/tracing"
)

// PolicyChecker rejects priced bookings that break a checkout rule.
type PolicyChecker interface {
	Check(p policy.Params) error
}

// Result is returned by a successful Submit. The payer must be sent to
// RedirectURL.
type Result struct {
	OrderTrackingID   string      `json:"orderTrackingId"`
	MerchantReference string      `json:"merchantReference"`
	RedirectURL       string      `json:"redirectUrl"`
	Quote             quote.Quote `json:"quote"`
}

// Verification is the outcome of a status check.
type Verification struct {
	OrderTrackingID   string                    `json:"orderTrackingId"`
	MerchantReference string                    `json:"merchantReference,omitempty"`
	Transaction       adapter.TransactionStatus `json:"transaction"`
}

// Notification is the provider's IPN payload.
type Notification struct {
	OrderTrackingID        string `json:"OrderTrackingId" form:"OrderTrackingId"`
	OrderMerchantReference string `json:"OrderMerchantReference" form:"OrderMerchantReference"`
	OrderNotificationType  string `json:"OrderNotificationType" form:"OrderNotificationType"`
}

// NotificationAck is the body the provider expects in reply to an IPN.
type NotificationAck struct {
	OrderNotificationType  string `json:"orderNotificationType"`
	OrderTrackingID        string `json:"orderTrackingId"`
	OrderMerchantReference string `json:"orderMerchantReference"`
	Status                 int    `json:"status"`
}

// Service runs the checkout flow.
type Service struct {
	gateway  adapter.PaymentGateway
	builder  *quote.Builder
	policy   PolicyChecker
	ledger   ledger.Repository
	sessions *booking.Sessions
}

// NewService creates a Service. Every dependency is required.
func NewService(
	gw adapter.PaymentGateway,
	b *quote.Builder,
	pc PolicyChecker,
	repo ledger.Repository,
	sessions *booking.Sessions,
) *Service {
	if gw == nil {
		panic("PaymentGateway cannot be nil")
	}
	if b == nil {
		panic("Builder cannot be nil")
	}
	if pc == nil {
		panic("PolicyChecker cannot be nil")
	}
	if repo == nil {
		panic("ledger Repository cannot be nil")
	}
	if sessions == nil {
		panic("Sessions cannot be nil")
	}
	return &Service{gateway: gw, builder: b, policy: pc, ledger: repo, sessions: sessions}
}

// Session returns the booking store for sessionID.
func (s *Service) Session(sessionID string) *booking.Store {
	return s.sessions.Open(sessionID)
}

// Gateway returns the payment gateway in use.
func (s *Service) Gateway() adapter.PaymentGateway {
	return s.gateway
}

// Quote prices the session's current booking without submitting anything.
func (s *Service) Quote(ctx context.Context, sessionID string, withDriver bool) (quote.Quote, error) {
	st, err := s.Session(sessionID).Snapshot(ctx)
	if err != nil {
		return quote.Quote{}, err
	}
	return s.builder.Quote(st, withDriver)
}

// Submit prices the session's booking, records the order, and submits it to
// the gateway. The session only moves to the payment step after the gateway
// accepts the order; when pricing, policy or submission fails it is left as
// it was so the payer can correct the form and retry.
func (s *Service) Submit(ctx context.Context, sessionID string, guest booking.GuestDetails) (Result, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "Service.Submit")
	defer span.End()
	tc := tracing.FromContext(ctx)
	tc.Set("session_id", sessionID)
	ctx = tracing.WithTraceContext(ctx, tc)

	res, err := s.submit(ctx, sessionID, guest)
	if err != nil {
		ordersSubmitted.WithLabelValues(adapter.KindName(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("Checkout: submission failed for session %s (trace %s): %v", sessionID, tc.TraceID, err)
		return Result{}, err
	}
	ordersSubmitted.WithLabelValues("ok").Inc()
	span.SetAttributes(
		attribute.String("merchant_reference", res.MerchantReference),
		attribute.String("order_tracking_id", res.OrderTrackingID),
	)
	log.Printf("Checkout: order %s submitted for session %s, tracking id %s (trace %s)",
		res.MerchantReference, sessionID, res.OrderTrackingID, tc.TraceID)
	return res, nil
}

func (s *Service) submit(ctx context.Context, sessionID string, guest booking.GuestDetails) (Result, error) {
	store := s.Session(sessionID)
	st, err := store.Snapshot(ctx)
	if err != nil {
		return Result{}, err
	}

	req, q, err := s.builder.Build(ctx, st, guest, guest.WithDriver)
	if err != nil {
		return Result{}, err
	}

	if err := s.policy.Check(policy.Params{
		Amount:              q.Amount,
		Days:                q.Days,
		PricePerDay:         q.PricePerDay,
		ProtectionPlanPrice: q.ProtectionPlanPrice,
		WithDriver:          q.WithDriver,
		Currency:            q.Currency,
	}); err != nil {
		return Result{}, err
	}

	if err := s.ledger.Create(ctx, ledger.Record{
		MerchantReference: req.ID,
		SessionID:         sessionID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Description:       req.Description,
		Status:            adapter.StatusPending,
	}); err != nil {
		return Result{}, fmt.Errorf("checkout: record order %s: %w", req.ID, err)
	}

	order, err := s.gateway.SubmitOrder(ctx, req)
	if err != nil {
		if _, uerr := s.ledger.Update(ctx, req.ID, ledger.StatusUpdate{
			Status:            adapter.StatusFailed,
			StatusDescription: "not submitted: " + adapter.KindName(err),
		}); uerr != nil {
			log.Printf("Checkout: could not mark order %s as failed: %v", req.ID, uerr)
		}
		return Result{}, err
	}

	if _, err := s.ledger.Update(ctx, req.ID, ledger.StatusUpdate{OrderTrackingID: order.OrderTrackingID}); err != nil {
		log.Printf("Checkout: could not attach tracking id %s to order %s: %v", order.OrderTrackingID, req.ID, err)
	}

	// The provider holds the order now; the callback carries the tracking id
	// even if the session write below fails.
	if err := s.recordSubmission(ctx, store, booking.PaymentInfo{
		OrderTrackingID:   order.OrderTrackingID,
		MerchantReference: req.ID,
		Amount:            req.Amount,
		Currency:          req.Currency,
	}, guest); err != nil {
		log.Printf("Checkout: order %s accepted but session %s not updated: %v", req.ID, sessionID, err)
	}

	return Result{
		OrderTrackingID:   order.OrderTrackingID,
		MerchantReference: req.ID,
		RedirectURL:       order.RedirectURL,
		Quote:             q,
	}, nil
}

func (s *Service) recordSubmission(ctx context.Context, store *booking.Store, info booking.PaymentInfo, guest booking.GuestDetails) error {
	if err := store.SetPaymentInfo(ctx, info); err != nil {
		return err
	}
	if err := store.SetBookingData(ctx, &guest); err != nil {
		return err
	}
	return store.SetCurrentStep(ctx, booking.StepPayment)
}

// Verify checks the status of the session's order after the payer returns
// from the gateway. trackingID falls back to the one stored at submission.
// A successful payment of the session's own order clears the car and guest
// details and moves the session to the confirmation step; other orders are
// reported without touching the session.
func (s *Service) Verify(ctx context.Context, sessionID, trackingID, merchantReference string) (Verification, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "Service.Verify")
	defer span.End()
	tc := tracing.FromContext(ctx)
	tc.Set("session_id", sessionID)

	store := s.Session(sessionID)
	st, err := store.Snapshot(ctx)
	if err != nil {
		return Verification{}, err
	}
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" && st.PaymentInfo != nil {
		trackingID = st.PaymentInfo.OrderTrackingID
		if merchantReference == "" {
			merchantReference = st.PaymentInfo.MerchantReference
		}
	}
	if trackingID == "" {
		err := adapter.NewValidationError("checkout: verify", "no payment to verify for this session", "OrderTrackingId")
		span.RecordError(err)
		return Verification{}, err
	}
	span.SetAttributes(attribute.String("order_tracking_id", trackingID))

	v, err := s.settle(ctx, trackingID, merchantReference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("Checkout: status check for %s failed (trace %s): %v", trackingID, tc.TraceID, err)
		return Verification{}, err
	}

	if v.Transaction.Status == adapter.StatusSuccess {
		if st.PaymentInfo != nil && st.PaymentInfo.OrderTrackingID == trackingID {
			if err := store.ClearAfterPayment(ctx); err != nil {
				return Verification{}, err
			}
		} else {
			log.Printf("Checkout: order %s is not the order of session %s, session left as is", trackingID, sessionID)
		}
	}
	log.Printf("Checkout: order %s for session %s is %s (trace %s)", trackingID, sessionID, v.Transaction.Status, tc.TraceID)
	return v, nil
}

// HandleNotification settles an order reported by the provider's IPN. The
// returned ack carries status 200 when the status was fetched and recorded,
// and 500 otherwise so the provider retries.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (NotificationAck, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "Service.HandleNotification")
	defer span.End()

	ack := NotificationAck{
		OrderNotificationType:  n.OrderNotificationType,
		OrderTrackingID:        strings.TrimSpace(n.OrderTrackingID),
		OrderMerchantReference: strings.TrimSpace(n.OrderMerchantReference),
		Status:                 500,
	}
	if ack.OrderTrackingID == "" {
		return ack, adapter.NewValidationError("checkout: notification", "OrderTrackingId is required", "OrderTrackingId")
	}

	v, err := s.settle(ctx, ack.OrderTrackingID, ack.OrderMerchantReference)
	if err != nil {
		span.RecordError(err)
		log.Printf("Checkout: IPN %s for %s could not be settled: %v", n.OrderNotificationType, ack.OrderTrackingID, err)
		return ack, err
	}
	ack.Status = 200
	log.Printf("Checkout: IPN %s for %s recorded as %s", n.OrderNotificationType, ack.OrderTrackingID, v.Transaction.Status)
	return ack, nil
}

// settle fetches the transaction status and writes it to the ledger.
func (s *Service) settle(ctx context.Context, trackingID, merchantReference string) (Verification, error) {
	status, err := s.gateway.GetTransactionStatus(ctx, trackingID)
	if err != nil {
		return Verification{}, err
	}
	paymentsVerified.WithLabelValues(string(status.Status)).Inc()

	ref := status.MerchantReference
	if ref == "" {
		ref = merchantReference
	}
	ref, err = s.record(ctx, trackingID, ref, status)
	if err != nil {
		return Verification{}, err
	}
	return Verification{OrderTrackingID: trackingID, MerchantReference: ref, Transaction: status}, nil
}

// record writes status to the ledger and returns the merchant reference it
// was filed under. An order the ledger has never seen is logged and skipped.
func (s *Service) record(ctx context.Context, trackingID, ref string, status adapter.TransactionStatus) (string, error) {
	if ref == "" {
		r, err := s.ledger.GetByTrackingID(ctx, trackingID)
		if errors.Is(err, ledger.ErrNotFound) {
			log.Printf("Checkout: no ledger record for tracking id %s", trackingID)
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("checkout: look up %s: %w", trackingID, err)
		}
		ref = r.MerchantReference
	}
	_, err := s.ledger.Update(ctx, ref, ledger.StatusUpdate{
		OrderTrackingID:   trackingID,
		Status:            status.Status,
		StatusDescription: status.StatusDescription,
		PaymentMethod:     status.PaymentMethod,
		ConfirmationCode:  status.ConfirmationCode,
	})
	if errors.Is(err, ledger.ErrNotFound) {
		log.Printf("Checkout: no ledger record for merchant reference %s", ref)
		return ref, nil
	}
	if err != nil {
		return "", fmt.Errorf("checkout: update %s: %w", ref, err)
	}
	return ref, nil
}
