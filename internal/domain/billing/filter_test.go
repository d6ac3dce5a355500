package billing

import (
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medbill/billing/internal/platform/apperr"
)

func TestParseInvoiceFilter(t *testing.T) {
	pid := uuid.New()
	q := url.Values{
		"status":     {"partially_paid"},
		"patient_id": {pid.String()},
		"min_amount": {"1000"},
		"max_amount": {"50000"},
		"date_from":  {"2024-01-01"},
		"date_to":    {"2024-01-31"},
		"unpaid":     {"true"},
	}
	f, err := ParseInvoiceFilter(q)
	require.NoError(t, err)
	require.NotNil(t, f.Status)
	assert.Equal(t, StatusPartiallyPaid, *f.Status)
	assert.Equal(t, pid, *f.PatientID)
	assert.Equal(t, int64(1000), *f.MinAmount)
	assert.Equal(t, int64(50000), *f.MaxAmount)
	assert.Equal(t, "2024-01-01", f.DateFrom.Format(dateLayout))
	assert.Equal(t, "2024-01-31", f.DateTo.Format(dateLayout))
	assert.True(t, f.Unpaid)
	assert.Nil(t, f.OverdueAt)
}

func TestParseInvoiceFilter_Empty(t *testing.T) {
	f, err := ParseInvoiceFilter(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, InvoiceFilter{}, f)
}

func TestParseInvoiceFilter_Overdue(t *testing.T) {
	f, err := ParseInvoiceFilter(url.Values{"overdue": {"1"}})
	require.NoError(t, err)
	assert.NotNil(t, f.OverdueAt)
}

func TestParseInvoiceFilter_Errors(t *testing.T) {
	tests := []struct {
		name  string
		q     url.Values
		field string
	}{
		{"bad status", url.Values{"status": {"overdue"}}, "status"},
		{"bad patient", url.Values{"patient_id": {"42"}}, "patient_id"},
		{"non-numeric amount", url.Values{"min_amount": {"ten"}}, "min_amount"},
		{"negative amount", url.Values{"max_amount": {"-5"}}, "max_amount"},
		{"min above max", url.Values{"min_amount": {"500"}, "max_amount": {"100"}}, "min_amount"},
		{"bad date", url.Values{"date_from": {"01/02/2024"}}, "date_from"},
		{"inverted range", url.Values{"date_from": {"2024-02-01"}, "date_to": {"2024-01-01"}}, "date_from"},
		{"bad bool", url.Values{"unpaid": {"maybe"}}, "unpaid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInvoiceFilter(tt.q)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestFilterClause(t *testing.T) {
	where, args := filterClause(InvoiceFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	status := StatusSent
	minAmt := int64(100)
	where, args = filterClause(InvoiceFilter{Status: &status, MinAmount: &minAmt, Unpaid: true})
	assert.Equal(t, " WHERE status = $1 AND total_amount >= $2 AND status IN ('sent', 'partially_paid')", where)
	assert.Equal(t, []interface{}{StatusSent, int64(100)}, args)
}
