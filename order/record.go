package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PendingBenefit is the outcome placeholder: no profit/loss is computed.
const PendingBenefit = "TBD"

const recordTimeLayout = "2006-01-02 15:04:05"

// ExecutionRecord is the result of one submit-to-terminal execution.
type ExecutionRecord struct {
	OrderID        string
	Action         Action
	Symbol         string
	Quantity       int
	SubmittedPrice float64
	StartTime      time.Time
	EndTime        time.Time
	Status         Status
	Err            error
	Benefit        string
}

// Failed reports whether submission failed or the order did not fill.
func (r ExecutionRecord) Failed() bool { return r.Err != nil }

// Duration is the submit-to-terminal interval.
func (r ExecutionRecord) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// String renders the status line for the record.
func (r ExecutionRecord) String() string {
	if r.Failed() {
		return fmt.Sprintf("Failed to place %s order for stock %s: %v", r.Action, r.Symbol, r.Err)
	}
	return fmt.Sprintf("%s order completed for stock %s at %s. Start: %s, End: %s, Benefit: %s",
		r.Action, r.Symbol, FormatPrice(r.SubmittedPrice),
		r.StartTime.Format(recordTimeLayout), r.EndTime.Format(recordTimeLayout), r.Benefit)
}

// FormatPrice prints a price without float noise.
func FormatPrice(p float64) string {
	return decimal.NewFromFloat(p).String()
}
