package adapter

import "strings"

// PaymentStatus is the four-way outcome of a transaction.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusSuccess   PaymentStatus = "success"
	StatusFailed    PaymentStatus = "failed"
	StatusCancelled PaymentStatus = "cancelled"
)

// providerStatuses maps the lower-cased provider status description to a
// PaymentStatus. Anything not listed here is pending.
//
//	"completed" -> success
//	"failed"    -> failed
//	"cancelled" -> cancelled
var providerStatuses = map[string]PaymentStatus{
	"completed": StatusSuccess,
	"failed":    StatusFailed,
	"cancelled": StatusCancelled,
}

// MapPaymentStatus converts a provider's free-text status description using
// an exact, case-insensitive match. Unknown descriptions (e.g. "PENDING",
// "INVALID", "") map to StatusPending.
func MapPaymentStatus(description string) PaymentStatus {
	if s, ok := providerStatuses[strings.ToLower(description)]; ok {
		return s
	}
	return StatusPending
}
