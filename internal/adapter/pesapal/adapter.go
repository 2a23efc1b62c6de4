// Package pesapal implements adapter.PaymentGateway on top of the Pesapal v3
// REST API.
package pesapal

import (
	"context"
	"log"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

const providerName = "pesapal"

// API is the subset of Client used by Adapter. Tests substitute a stub to
// observe whether the network would have been touched.
type API interface {
	Configured() error
	NotificationID(ctx context.Context) (string, error)
	SubmitOrderRequest(ctx context.Context, req SubmitOrderRequest) (SubmitOrderResponse, error)
	GetTransactionStatus(ctx context.Context, orderTrackingID string) (TransactionStatusResponse, error)
}

// Adapter translates between the internal order/status shapes and the
// Pesapal wire shapes. It holds no per-request state.
type Adapter struct {
	api                API
	defaultCallbackURL string
}

var _ adapter.PaymentGateway = (*Adapter)(nil)

// NewAdapter creates an Adapter. defaultCallbackURL is used when an order
// does not carry its own callback URL.
func NewAdapter(api API, defaultCallbackURL string) *Adapter {
	if api == nil {
		panic("pesapal API cannot be nil")
	}
	return &Adapter{api: api, defaultCallbackURL: strings.TrimSpace(defaultCallbackURL)}
}

// Name returns the name of the provider.
func (a *Adapter) Name() string {
	return providerName
}

// SubmitOrder checks configuration, validates the order, and submits it.
// Neither a configuration nor a validation failure reaches the network.
func (a *Adapter) SubmitOrder(ctx context.Context, req adapter.OrderRequest) (adapter.OrderResult, error) {
	const op = "pesapal: submit order"
	ctx, span := otel.Tracer("pesapal").Start(ctx, "Pesapal.SubmitOrder",
		trace.WithAttributes(attribute.String("merchant_reference", req.ID)))
	defer span.End()

	res, err := a.submitOrder(ctx, op, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, adapter.KindName(err))
		log.Printf("pesapal: submit order %s failed (%s): %v", req.ID, adapter.KindName(err), err)
		return adapter.OrderResult{}, err
	}
	span.SetAttributes(attribute.String("order_tracking_id", res.OrderTrackingID))
	log.Printf("pesapal: submitted order %s, tracking id %s", res.MerchantReference, res.OrderTrackingID)
	return res, nil
}

func (a *Adapter) submitOrder(ctx context.Context, op string, req adapter.OrderRequest) (adapter.OrderResult, error) {
	if err := a.api.Configured(); err != nil {
		return adapter.OrderResult{}, err
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		req.CallbackURL = a.defaultCallbackURL
	}
	if err := adapter.ValidateOrder(op, req); err != nil {
		return adapter.OrderResult{}, err
	}

	notificationID, err := a.api.NotificationID(ctx)
	if err != nil {
		return adapter.OrderResult{}, err
	}

	resp, err := a.api.SubmitOrderRequest(ctx, toWireOrder(req, notificationID))
	if err != nil {
		return adapter.OrderResult{}, err
	}
	if resp.RedirectURL == "" {
		return adapter.OrderResult{}, adapter.NewProviderError(op, string(resp.Status), "no redirect URL received from payment gateway")
	}

	status := string(resp.Status)
	if status == "" {
		status = "OK"
	}
	return adapter.OrderResult{
		OrderTrackingID:   resp.OrderTrackingID,
		MerchantReference: req.ID,
		RedirectURL:       resp.RedirectURL,
		Status:            status,
	}, nil
}

// GetTransactionStatus fetches and normalizes the status of a tracked order.
func (a *Adapter) GetTransactionStatus(ctx context.Context, orderTrackingID string) (adapter.TransactionStatus, error) {
	const op = "pesapal: get transaction status"
	orderTrackingID = strings.TrimSpace(orderTrackingID)
	ctx, span := otel.Tracer("pesapal").Start(ctx, "Pesapal.GetTransactionStatus",
		trace.WithAttributes(attribute.String("order_tracking_id", orderTrackingID)))
	defer span.End()

	if orderTrackingID == "" {
		err := adapter.NewValidationError(op, "order tracking id is required", "order_tracking_id")
		span.RecordError(err)
		span.SetStatus(codes.Error, adapter.KindName(err))
		return adapter.TransactionStatus{}, err
	}
	if err := a.api.Configured(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, adapter.KindName(err))
		return adapter.TransactionStatus{}, err
	}

	resp, err := a.api.GetTransactionStatus(ctx, orderTrackingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, adapter.KindName(err))
		log.Printf("pesapal: status check for %s failed (%s): %v", orderTrackingID, adapter.KindName(err), err)
		return adapter.TransactionStatus{}, err
	}
	status := fromWireStatus(resp)
	span.SetAttributes(attribute.String("payment_status", string(status.Status)))
	return status, nil
}

func toWireOrder(req adapter.OrderRequest, notificationID string) SubmitOrderRequest {
	b := req.BillingAddress
	return SubmitOrderRequest{
		ID:             req.ID,
		Currency:       req.Currency,
		Amount:         req.Amount,
		Description:    req.Description,
		CallbackURL:    req.CallbackURL,
		NotificationID: notificationID,
		BillingAddress: WireBillingAddress{
			EmailAddress: b.EmailAddress,
			PhoneNumber:  b.PhoneNumber,
			CountryCode:  b.CountryCode,
			FirstName:    b.FirstName,
			MiddleName:   b.MiddleName,
			LastName:     b.LastName,
			Line1:        b.Line1,
			Line2:        b.Line2,
			City:         b.City,
			State:        b.State,
			PostalCode:   b.PostalCode,
			ZipCode:      b.ZipCode,
		},
	}
}

func fromWireStatus(resp TransactionStatusResponse) adapter.TransactionStatus {
	return adapter.TransactionStatus{
		Status:            adapter.MapPaymentStatus(resp.PaymentStatusDescription),
		StatusDescription: resp.PaymentStatusDescription,
		Amount:            resp.Amount,
		Currency:          resp.Currency,
		PaymentMethod:     resp.PaymentMethod,
		MerchantReference: resp.MerchantReference,
		Message:           resp.Message,
		ConfirmationCode:  resp.ConfirmationCode,
		PaymentAccount:    resp.PaymentAccount,
		CreatedDate:       resp.CreatedDate,
	}
}
