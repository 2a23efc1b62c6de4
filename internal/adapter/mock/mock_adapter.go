package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

// MockGateway is a scriptable implementation of adapter.PaymentGateway for
// tests. Without custom funcs it validates orders like a real gateway and
// answers with a successful submission and a "Completed" status.
type MockGateway struct {
	ProviderName    string
	SubmitOrderFunc func(ctx context.Context, req adapter.OrderRequest) (adapter.OrderResult, error)
	GetStatusFunc   func(ctx context.Context, orderTrackingID string) (adapter.TransactionStatus, error)

	mu             sync.Mutex
	submitted      []adapter.OrderRequest
	statusRequests []string
}

// NewMockGateway creates a new MockGateway.
func NewMockGateway(name string) *MockGateway {
	return &MockGateway{ProviderName: name}
}

// Name implements adapter.PaymentGateway.
func (m *MockGateway) Name() string {
	return m.ProviderName
}

// SubmitOrder implements adapter.PaymentGateway.
func (m *MockGateway) SubmitOrder(ctx context.Context, req adapter.OrderRequest) (adapter.OrderResult, error) {
	if err := adapter.ValidateOrder(m.ProviderName+": submit order", req); err != nil {
		return adapter.OrderResult{}, err
	}
	m.mu.Lock()
	m.submitted = append(m.submitted, req)
	m.mu.Unlock()

	if m.SubmitOrderFunc != nil {
		return m.SubmitOrderFunc(ctx, req)
	}
	trackingID := uuid.NewString()
	return adapter.OrderResult{
		OrderTrackingID:   trackingID,
		MerchantReference: req.ID,
		RedirectURL:       "https://pay.example.com/iframe?OrderTrackingId=" + trackingID,
		Status:            "200",
	}, nil
}

// GetTransactionStatus implements adapter.PaymentGateway.
func (m *MockGateway) GetTransactionStatus(ctx context.Context, orderTrackingID string) (adapter.TransactionStatus, error) {
	if orderTrackingID == "" {
		return adapter.TransactionStatus{}, adapter.NewValidationError(m.ProviderName+": get transaction status", "order tracking id is required", "order_tracking_id")
	}
	m.mu.Lock()
	m.statusRequests = append(m.statusRequests, orderTrackingID)
	m.mu.Unlock()

	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, orderTrackingID)
	}
	return adapter.TransactionStatus{
		Status:            adapter.StatusSuccess,
		StatusDescription: "Completed",
		Currency:          "USD",
		PaymentMethod:     "Visa",
		Message:           "Request processed successfully",
	}, nil
}

// Submitted returns a copy of every order that passed validation.
func (m *MockGateway) Submitted() []adapter.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.OrderRequest(nil), m.submitted...)
}

// StatusRequests returns the tracking ids passed to GetTransactionStatus.
func (m *MockGateway) StatusRequests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statusRequests...)
}
