package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateNumber is returned when an invoice number is already taken.
	ErrDuplicateNumber = errors.New("invoice number already used")
	// ErrDuplicateReceipt is returned when a receipt number is already taken.
	ErrDuplicateReceipt = errors.New("receipt number already used")
)

type InvoiceRepository interface {
	// NextInvoiceNumber advances the locked invoice counter. The counter row
	// stays locked until the surrounding transaction ends.
	NextInvoiceNumber(ctx context.Context) (int64, error)
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate locks the invoice row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	UpdateTotals(ctx context.Context, id uuid.UUID, t Totals) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error
	SetCredential(ctx context.Context, id, credentialID uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)
	Search(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	// Line items
	AddLineItem(ctx context.Context, li *LineItem) error
	DeleteLineItems(ctx context.Context, invoiceID uuid.UUID) (int64, error)
	ListLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error)
}

type PaymentRepository interface {
	// NextReceiptSequence advances the counter for day, creating it on first use.
	NextReceiptSequence(ctx context.Context, day time.Time) (int64, error)
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error)
	// Complete marks a pending payment completed under the given receipt.
	Complete(ctx context.Context, id uuid.UUID, receipt string, at time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error
	SumCompleted(ctx context.Context, invoiceID uuid.UUID) (int64, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}
