package billing

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medbill/billing/internal/platform/apperr"
)

var (
	DefaultTaxRate = decimal.RequireFromString("18.00")

	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Totals are the three computed monetary fields of an invoice.
type Totals struct {
	Subtotal  int64
	TaxAmount int64
	Total     int64
}

// ValidateTaxRate accepts percentages in [0, 100] with at most two decimals.
func ValidateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return apperr.Validation("tax_rate", "must be between 0 and 100, got %s", rate.String())
	}
	if !rate.Equal(rate.Round(2)) {
		return apperr.Validation("tax_rate", "at most two decimal places allowed, got %s", rate.String())
	}
	return nil
}

// ExtractTax splits a tax-inclusive total into subtotal and tax:
// subtotal = round(total / (1 + rate/100)) with ties to even, tax = total - subtotal.
// The division is done exactly as total*100 / (100+rate).
func ExtractTax(total int64, rate decimal.Decimal) (subtotal, tax int64) {
	num := decimal.NewFromInt(total).Mul(hundred)
	den := hundred.Add(rate)
	q, r := num.QuoRem(den, 0)

	sub := q.IntPart()
	switch c := r.Abs().Mul(two).Cmp(den); {
	case c > 0, c == 0 && sub%2 != 0:
		if num.IsNegative() {
			sub--
		} else {
			sub++
		}
	}
	return sub, total - sub
}

// ComputeTotals derives invoice totals from its items. Item prices are
// tax-inclusive. A sum that does not fit in an int64 is a ValidationError.
func ComputeTotals(items []*LineItem, rate decimal.Decimal) (Totals, error) {
	var total int64
	for _, it := range items {
		if it.LineTotal < 0 || total > math.MaxInt64-it.LineTotal {
			return Totals{}, apperr.Validation("items", "invoice total is out of range")
		}
		total += it.LineTotal
	}
	sub, tax := ExtractTax(total, rate)
	return Totals{Subtotal: sub, TaxAmount: tax, Total: total}, nil
}

// DeriveStatus maps the completed-payment sum onto an invoice status.
// Cancelled is terminal; draft is kept until money arrives.
func DeriveStatus(current InvoiceStatus, total, paid int64) InvoiceStatus {
	switch {
	case current == StatusCancelled:
		return StatusCancelled
	case paid > 0 && paid >= total:
		return StatusPaid
	case paid > 0:
		return StatusPartiallyPaid
	case current == StatusDraft:
		return StatusDraft
	default:
		return StatusSent
	}
}

func FormatInvoiceNumber(n int64) string {
	return fmt.Sprintf("FAC-%06d", n)
}

func FormatReceiptNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("REC-%s-%06d", day.Format("20060102"), seq)
}
