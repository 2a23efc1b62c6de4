package reporting

import (
	"time"

	"github.com/yourorg/rental-checkout/internal/adapter"
	"github.com/yourorg/rental-checkout/internal/ledger"
	"github.com/yourorg/rental-checkout/internal/quote"
)

// RetrospectiveReport summarizes payment activity over a set of ledger records.
type RetrospectiveReport struct {
	TotalOrders          int                `json:"total_orders"`
	SuccessfulPayments   int                `json:"successful_payments"`
	FailedPayments       int                `json:"failed_payments"`
	CancelledPayments    int                `json:"cancelled_payments"`
	PendingPayments      int                `json:"pending_payments"`
	TotalAmountProcessed float64            `json:"total_amount_processed"` // Only set when every SUCCESS is in Currency
	Currency             string             `json:"currency,omitempty"`
	AmountByCurrency     map[string]float64 `json:"amount_by_currency"` // Sum of SUCCESS amounts per currency
	FailureBreakdown     map[string]int     `json:"failure_breakdown"`  // Provider status description for FAILED records
	PaymentMethodUsage   map[string]int     `json:"payment_method_usage"`
	DateFrom             time.Time          `json:"date_from"`
	DateTo               time.Time          `json:"date_to"`
	ProcessingDuration   time.Duration      `json:"processing_duration"`
}

// RetrospectiveReporter generates retrospective reports from ledger records.
type RetrospectiveReporter struct{}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter() *RetrospectiveReporter {
	return &RetrospectiveReporter{}
}

func newReport() *RetrospectiveReport {
	return &RetrospectiveReport{
		AmountByCurrency:   make(map[string]float64),
		FailureBreakdown:   make(map[string]int),
		PaymentMethodUsage: make(map[string]int),
	}
}

// GenerateRetrospective analyzes records and produces a RetrospectiveReport.
// Amounts are summed in each record's own currency and rounded to cents. A
// grand total is only reported when all successful payments share a currency.
func (rr *RetrospectiveReporter) GenerateRetrospective(records []ledger.Record) (*RetrospectiveReport, error) {
	report := newReport()
	if len(records) == 0 {
		return report, nil
	}

	report.DateFrom = records[0].CreatedAt
	report.DateTo = records[0].CreatedAt
	for _, r := range records {
		report.TotalOrders++

		if r.CreatedAt.Before(report.DateFrom) {
			report.DateFrom = r.CreatedAt
		}
		if r.CreatedAt.After(report.DateTo) {
			report.DateTo = r.CreatedAt
		}

		if r.PaymentMethod != "" {
			report.PaymentMethodUsage[r.PaymentMethod]++
		}

		switch r.Status {
		case adapter.StatusSuccess:
			report.SuccessfulPayments++
			report.AmountByCurrency[r.Currency] += r.Amount
		case adapter.StatusFailed:
			report.FailedPayments++
			if r.StatusDescription != "" {
				report.FailureBreakdown[r.StatusDescription]++
			}
		case adapter.StatusCancelled:
			report.CancelledPayments++
		default:
			report.PendingPayments++
		}
	}

	for cur, amt := range report.AmountByCurrency {
		report.AmountByCurrency[cur] = quote.RoundAmount(amt)
		if len(report.AmountByCurrency) == 1 {
			report.Currency = cur
			report.TotalAmountProcessed = report.AmountByCurrency[cur]
		}
	}
	report.ProcessingDuration = report.DateTo.Sub(report.DateFrom)
	return report, nil
}
