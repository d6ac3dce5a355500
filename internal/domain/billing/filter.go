package billing

import (
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medbill/billing/internal/platform/apperr"
)

const dateLayout = "2006-01-02"

// InvoiceFilter narrows an invoice search. Nil fields are not applied.
type InvoiceFilter struct {
	Status    *InvoiceStatus
	PatientID *uuid.UUID
	MinAmount *int64
	MaxAmount *int64
	DateFrom  *time.Time
	DateTo    *time.Time
	// Unpaid keeps sent and partially paid invoices only.
	Unpaid bool
	// OverdueAt keeps unpaid invoices whose due date is before this day.
	OverdueAt *time.Time
}

// ParseInvoiceFilter reads a filter from query parameters. Every malformed
// value is reported; none is dropped.
func ParseInvoiceFilter(q url.Values) (InvoiceFilter, error) {
	var f InvoiceFilter

	if raw := q.Get("status"); raw != "" {
		s, err := ParseInvoiceStatus(raw)
		if err != nil {
			return f, apperr.Validation("status", "%v", err)
		}
		f.Status = &s
	}
	if raw := q.Get("patient_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, apperr.Validation("patient_id", "invalid id %q", raw)
		}
		f.PatientID = &id
	}

	var err error
	if f.MinAmount, err = parseAmount(q, "min_amount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = parseAmount(q, "max_amount"); err != nil {
		return f, err
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return f, apperr.Validation("min_amount", "must not exceed max_amount")
	}

	if f.DateFrom, err = parseDate(q, "date_from"); err != nil {
		return f, err
	}
	if f.DateTo, err = parseDate(q, "date_to"); err != nil {
		return f, err
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return f, apperr.Validation("date_from", "must not be after date_to")
	}

	if f.Unpaid, err = parseBool(q, "unpaid"); err != nil {
		return f, err
	}
	overdue, err := parseBool(q, "overdue")
	if err != nil {
		return f, err
	}
	if overdue {
		today := time.Now().UTC().Truncate(24 * time.Hour)
		f.OverdueAt = &today
	}
	return f, nil
}

func parseAmount(q url.Values, key string) (*int64, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return nil, apperr.Validation(key, "must be a non-negative integer amount, got %q", raw)
	}
	return &n, nil
}

func parseDate(q url.Values, key string) (*time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperr.Validation(key, "must be a date in YYYY-MM-DD form, got %q", raw)
	}
	return &t, nil
}

func parseBool(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation(key, "must be true or false, got %q", raw)
	}
	return b, nil
}
