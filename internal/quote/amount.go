// Package quote prices a booking and turns it into a gateway order.
package quote

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const day = 24 * time.Hour

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate accepts an ISO-8601 timestamp or a bare YYYY-MM-DD date. Values
// without a zone are read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("quote: invalid date %q, want YYYY-MM-DD or RFC 3339", s)
}

// RentalDays returns the number of billable days between pickup and return:
// partial days round up and the result is never below one.
func RentalDays(pickup, ret time.Time) int {
	days := int(math.Ceil(ret.Sub(pickup).Hours() / day.Hours()))
	if days < 1 {
		return 1
	}
	return days
}

// CalculateBookingAmount returns pricePerDay * days + protectionPlanPrice,
// rounded to cents. Same-day and inverted ranges bill one day.
func CalculateBookingAmount(pricePerDay float64, pickup, ret time.Time, protectionPlanPrice float64) float64 {
	return RoundAmount(pricePerDay*float64(RentalDays(pickup, ret)) + protectionPlanPrice)
}

// CalculateBookingAmountFromStrings is CalculateBookingAmount over ISO dates.
func CalculateBookingAmountFromStrings(pricePerDay float64, pickup, ret string, protectionPlanPrice float64) (float64, error) {
	p, err := ParseDate(pickup)
	if err != nil {
		return 0, err
	}
	r, err := ParseDate(ret)
	if err != nil {
		return 0, err
	}
	return CalculateBookingAmount(pricePerDay, p, r, protectionPlanPrice), nil
}

// RoundAmount rounds to two decimal places, half away from zero.
func RoundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}
