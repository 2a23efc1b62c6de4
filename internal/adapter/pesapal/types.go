package pesapal

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Wire types for the Pesapal v3 REST API. Field names are snake_case on the
// wire, except the token endpoint which uses camelCase.

// APIError is the error object Pesapal embeds in responses. Some responses
// carry an object whose fields are all null on success, so callers should
// use Present rather than a nil check.
type APIError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Present reports whether e describes an actual error.
func (e *APIError) Present() bool {
	return e != nil && (e.Code != "" || e.Message != "" || e.ErrorType != "")
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

type errorCarrier interface {
	apiError() *APIError
}

type tokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type tokenResponse struct {
	Token      string     `json:"token"`
	ExpiryDate string     `json:"expiryDate"`
	Error      *APIError  `json:"error"`
	Status     flexString `json:"status"`
	Message    string     `json:"message"`
}

func (r *tokenResponse) apiError() *APIError { return r.Error }

// WireBillingAddress is the billing_address object of SubmitOrderRequest.
type WireBillingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	MiddleName   string `json:"middle_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Line1        string `json:"line_1,omitempty"`
	Line2        string `json:"line_2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postal_code,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}

// SubmitOrderRequest is the body of POST /api/Transactions/SubmitOrderRequest.
type SubmitOrderRequest struct {
	ID             string             `json:"id"`
	Currency       string             `json:"currency"`
	Amount         float64            `json:"amount"`
	Description    string             `json:"description"`
	CallbackURL    string             `json:"callback_url"`
	NotificationID string             `json:"notification_id,omitempty"`
	BillingAddress WireBillingAddress `json:"billing_address"`
}

// SubmitOrderResponse is returned by SubmitOrderRequest.
type SubmitOrderResponse struct {
	OrderTrackingID   string     `json:"order_tracking_id"`
	MerchantReference string     `json:"merchant_reference"`
	RedirectURL       string     `json:"redirect_url"`
	Error             *APIError  `json:"error"`
	Status            flexString `json:"status"`
}

func (r *SubmitOrderResponse) apiError() *APIError { return r.Error }

// TransactionStatusResponse is returned by GET /api/Transactions/GetTransactionStatus.
type TransactionStatusResponse struct {
	PaymentMethod            string     `json:"payment_method"`
	Amount                   float64    `json:"amount"`
	CreatedDate              string     `json:"created_date"`
	ConfirmationCode         string     `json:"confirmation_code"`
	PaymentStatusDescription string     `json:"payment_status_description"`
	Description              string     `json:"description"`
	Message                  string     `json:"message"`
	PaymentAccount           string     `json:"payment_account"`
	CallBackURL              string     `json:"call_back_url"`
	StatusCode               int        `json:"status_code"`
	MerchantReference        string     `json:"merchant_reference"`
	PaymentStatusCode        flexString `json:"payment_status_code"`
	Currency                 string     `json:"currency"`
	Error                    *APIError  `json:"error"`
	Status                   flexString `json:"status"`
}

func (r *TransactionStatusResponse) apiError() *APIError { return r.Error }

type registerIPNRequest struct {
	URL                 string `json:"url"`
	IPNNotificationType string `json:"ipn_notification_type"`
}

// IPNRegistration describes a registered IPN endpoint.
type IPNRegistration struct {
	URL                  string     `json:"url"`
	CreatedDate          string     `json:"created_date"`
	IPNID                string     `json:"ipn_id"`
	NotificationType     string     `json:"ipn_notification_type_description,omitempty"`
	IPNStatusDescription string     `json:"ipn_status_description,omitempty"`
	Error                *APIError  `json:"error"`
	Status               flexString `json:"status"`
}

func (r *IPNRegistration) apiError() *APIError { return r.Error }
