// Package adapter defines the contract between the checkout flow and a
// payment gateway. Gateways translate an internal OrderRequest into the
// provider's wire shape, submit it, and normalize transaction status
// responses back into a TransactionStatus.
//
// Provider implementations live in sub-packages (see adapter/pesapal);
// adapter/mock provides a scriptable gateway for tests.
package adapter

import (
	"context"
)

// BillingAddress holds the payer's contact details sent with an order.
type BillingAddress struct {
	EmailAddress string `json:"email_address" validate:"required"`
	PhoneNumber  string `json:"phone_number" validate:"required"`
	CountryCode  string `json:"country_code,omitempty"`
	FirstName    string `json:"first_name" validate:"required"`
	MiddleName   string `json:"middle_name,omitempty"`
	LastName     string `json:"last_name" validate:"required"`
	Line1        string `json:"line_1,omitempty"`
	Line2        string `json:"line_2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}

// OrderRequest describes a single checkout submission. ID is the merchant
// reference and must be unique per submission attempt.
type OrderRequest struct {
	ID             string         `json:"id" validate:"required"`
	Currency       string         `json:"currency" validate:"required"`
	Amount         float64        `json:"amount" validate:"gt=0"`
	Description    string         `json:"description" validate:"required"`
	CallbackURL    string         `json:"callback_url,omitempty" validate:"required,url"`
	BillingAddress BillingAddress `json:"billing_address"`
}

// OrderResult is returned by a successful SubmitOrder. The caller must send
// the payer's browser to RedirectURL.
type OrderResult struct {
	OrderTrackingID   string `json:"order_tracking_id"`
	MerchantReference string `json:"merchant_reference"`
	RedirectURL       string `json:"redirect_url"`
	Status            string `json:"status"`
}

// TransactionStatus is the normalized view of a provider transaction.
type TransactionStatus struct {
	Status            PaymentStatus `json:"status"`
	StatusDescription string        `json:"status_description,omitempty"`
	Amount            float64       `json:"amount"`
	Currency          string        `json:"currency"`
	PaymentMethod     string        `json:"payment_method,omitempty"`
	MerchantReference string        `json:"merchant_reference,omitempty"`
	Message           string        `json:"message,omitempty"`
	ConfirmationCode  string        `json:"confirmation_code,omitempty"`
	PaymentAccount    string        `json:"payment_account,omitempty"`
	CreatedDate       string        `json:"created_date,omitempty"`
}

// PaymentGateway is implemented by each payment provider adapter.
//
// Implementations must be safe for concurrent use and must tolerate being
// invoked again after a failed call.
type PaymentGateway interface {
	// SubmitOrder validates and submits an order. Validation and
	// configuration failures are reported before any network call.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// GetTransactionStatus fetches the current status of a tracked order.
	GetTransactionStatus(ctx context.Context, orderTrackingID string) (TransactionStatus, error)

	// Name returns the provider name (e.g., "pesapal").
	Name() string
}
