// Package ledger records every order submitted to the payment gateway.
//
// The merchant reference is the primary key, so a reference can be submitted
// at most once. The order tracking id is attached after the gateway accepts
// the order, and status fields follow callbacks and IPN notifications.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/yourorg/rental-checkout/internal/adapter"
)

var (
	ErrNotFound           = errors.New("ledger: record not found")
	ErrDuplicateReference = errors.New("ledger: merchant reference already recorded")
)

// Record is one submitted order.
type Record struct {
	MerchantReference string                `json:"merchant_reference"`
	OrderTrackingID   string                `json:"order_tracking_id,omitempty"`
	SessionID         string                `json:"session_id,omitempty"`
	Amount            float64               `json:"amount"`
	Currency          string                `json:"currency"`
	Description       string                `json:"description,omitempty"`
	Status            adapter.PaymentStatus `json:"status"`
	StatusDescription string                `json:"status_description,omitempty"`
	PaymentMethod     string                `json:"payment_method,omitempty"`
	ConfirmationCode  string                `json:"confirmation_code,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// StatusUpdate changes the mutable fields of a record. Empty strings leave
// the stored value unchanged.
type StatusUpdate struct {
	OrderTrackingID   string
	Status            adapter.PaymentStatus
	StatusDescription string
	PaymentMethod     string
	ConfirmationCode  string
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status adapter.PaymentStatus
	Since  time.Time
	Until  time.Time
}

func (f Filter) match(r Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

// Repository stores ledger records.
type Repository interface {
	Create(ctx context.Context, r Record) error
	Update(ctx context.Context, merchantReference string, upd StatusUpdate) (Record, error)
	GetByReference(ctx context.Context, merchantReference string) (Record, error)
	GetByTrackingID(ctx context.Context, orderTrackingID string) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
}

func apply(r *Record, upd StatusUpdate, now time.Time) {
	if upd.OrderTrackingID != "" {
		r.OrderTrackingID = upd.OrderTrackingID
	}
	if upd.Status != "" {
		r.Status = upd.Status
	}
	if upd.StatusDescription != "" {
		r.StatusDescription = upd.StatusDescription
	}
	if upd.PaymentMethod != "" {
		r.PaymentMethod = upd.PaymentMethod
	}
	if upd.ConfirmationCode != "" {
		r.ConfirmationCode = upd.ConfirmationCode
	}
	r.UpdatedAt = now
}
