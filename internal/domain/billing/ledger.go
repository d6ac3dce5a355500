package billing

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medbill/billing/internal/domain/credential"
	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/db"
	"github.com/medbill/billing/internal/platform/lookup"
	"github.com/medbill/billing/internal/platform/notification"
)

// CredentialIssuer get-or-creates a patient's portal credential.
type CredentialIssuer interface {
	GetOrCreate(ctx context.Context, patientID uuid.UUID, issuedBy string) (*credential.Credential, error)
}

// Notifier is told about issued invoices once they are committed.
type Notifier interface {
	InvoiceIssued(ctx context.Context, ev notification.InvoiceIssued) error
}

type Config struct {
	// DefaultTaxRate applies when an invoice does not name one. It is used
	// as given, so a zero value means untaxed.
	DefaultTaxRate  decimal.Decimal
	PaymentTermDays int
	// MaxRetries bounds invoice and receipt number collisions per call.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.PaymentTermDays <= 0 {
		c.PaymentTermDays = 30
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// NewLineItem is a line item as requested by a caller, before pricing.
type NewLineItem struct {
	ServiceTypeID uuid.UUID `json:"service_type_id"`
	Quantity      int       `json:"quantity"`
	// UnitPrice overrides the catalog price when set.
	UnitPrice   *int64  `json:"unit_price,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateInvoiceInput struct {
	PatientID   uuid.UUID
	IssuedBy    string
	Items       []NewLineItem
	TaxRate     *decimal.Decimal
	InvoiceDate *time.Time
	DueDate     *time.Time
	Draft       bool
	Notes       *string
}

// Ledger owns invoices and their line items.
type Ledger struct {
	invoices    InvoiceRepository
	payments    PaymentRepository
	tx          db.Transactor
	catalog     lookup.Catalog
	patients    lookup.Patients
	credentials CredentialIssuer
	notifier    Notifier
	cfg         Config
	logger      zerolog.Logger
	now         func() time.Time
}

func NewLedger(invoices InvoiceRepository, payments PaymentRepository, tx db.Transactor,
	catalog lookup.Catalog, patients lookup.Patients, credentials CredentialIssuer,
	notifier Notifier, cfg Config, logger zerolog.Logger) *Ledger {
	return &Ledger{
		invoices:    invoices,
		payments:    payments,
		tx:          tx,
		catalog:     catalog,
		patients:    patients,
		credentials: credentials,
		notifier:    notifier,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		now:         time.Now,
	}
}

// price resolves a requested item against the catalog.
func (l *Ledger) price(ctx context.Context, in NewLineItem, idx int) (*LineItem, error) {
	field := "items"
	if idx >= 0 {
		field = "items[" + strconv.Itoa(idx) + "]"
	}
	if in.Quantity <= 0 || in.Quantity > math.MaxInt32 {
		return nil, apperr.Validation(field+".quantity", "must be between 1 and %d, got %d", math.MaxInt32, in.Quantity)
	}
	price, ok, err := l.catalog.GetPriceableItem(ctx, in.ServiceTypeID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Validation(field+".service_type_id", "unknown service type %s", in.ServiceTypeID)
	}
	if in.UnitPrice != nil {
		if *in.UnitPrice < 0 {
			return nil, apperr.Validation(field+".unit_price", "must not be negative")
		}
		price = *in.UnitPrice
	}
	if price > math.MaxInt64/int64(in.Quantity) {
		return nil, apperr.Validation(field+".unit_price", "line total of %d x %d is out of range", in.Quantity, price)
	}
	return &LineItem{
		ID:            uuid.New(),
		ServiceTypeID: in.ServiceTypeID,
		Description:   in.Description,
		Quantity:      in.Quantity,
		UnitPrice:     price,
		LineTotal:     int64(in.Quantity) * price,
	}, nil
}

// CreateInvoice prices the items, numbers the invoice and stores it with its
// items and the patient's credential link in one transaction. Drafts get no
// credential until SendInvoice. The notifier runs after commit; its failure
// does not undo the invoice.
func (l *Ledger) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id", "is required")
	}
	if len(in.Items) == 0 {
		return nil, apperr.Validation("items", "at least one item is required")
	}

	rate := l.cfg.DefaultTaxRate
	if in.TaxRate != nil {
		rate = *in.TaxRate
	}
	if err := ValidateTaxRate(rate); err != nil {
		return nil, err
	}

	invoiceDate := l.now().UTC().Truncate(24 * time.Hour)
	if in.InvoiceDate != nil {
		invoiceDate = *in.InvoiceDate
	}
	dueDate := invoiceDate.AddDate(0, 0, l.cfg.PaymentTermDays)
	if in.DueDate != nil {
		dueDate = *in.DueDate
	}
	if dueDate.Before(invoiceDate) {
		return nil, apperr.Validation("due_date", "must not be before the invoice date")
	}

	exists, err := l.patients.PatientExists(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound("patient", in.PatientID.String())
	}

	items := make([]*LineItem, 0, len(in.Items))
	for i, it := range in.Items {
		li, err := l.price(ctx, it, i)
		if err != nil {
			return nil, err
		}
		items = append(items, li)
	}

	t, err := ComputeTotals(items, rate)
	if err != nil {
		return nil, err
	}
	inv := &Invoice{
		ID:          uuid.New(),
		PatientID:   in.PatientID,
		IssuedBy:    in.IssuedBy,
		InvoiceDate: invoiceDate,
		DueDate:     dueDate,
		Status:      StatusSent,
		TaxRate:     rate,
		Subtotal:    t.Subtotal,
		TaxAmount:   t.TaxAmount,
		TotalAmount: t.Total,
		Notes:       in.Notes,
	}
	if in.Draft {
		inv.Status = StatusDraft
	}

	var cred *credential.Credential
	err = l.tx.InTx(ctx, func(ctx context.Context) error {
		if err := l.insertNumbered(ctx, inv); err != nil {
			return err
		}
		for _, li := range items {
			li.InvoiceID = inv.ID
			if err := l.invoices.AddLineItem(ctx, li); err != nil {
				return err
			}
		}

		if in.Draft {
			return nil
		}
		var err error
		cred, err = l.issueAccess(ctx, inv, in.IssuedBy)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	inv.Items = items

	if in.Draft {
		l.logger.Info().
			Str("invoice_id", inv.ID.String()).
			Str("invoice_number", inv.Number).
			Msg("draft invoice created")
		return inv, nil
	}
	l.issued(ctx, inv, cred)
	return inv, nil
}

// SendInvoice moves a draft to sent. Sending is what gives the patient
// portal access, so the credential is issued and linked here for drafts.
func (l *Ledger) SendInvoice(ctx context.Context, invoiceID uuid.UUID, issuedBy string) (*Invoice, error) {
	var (
		inv  *Invoice
		cred *credential.Credential
	)
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = l.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return apperr.Validation("status", "invoice %s is %s, only drafts can be sent", inv.Number, inv.Status)
		}
		if err := l.invoices.UpdateStatus(ctx, inv.ID, StatusSent); err != nil {
			return err
		}
		inv.Status = StatusSent
		cred, err = l.issueAccess(ctx, inv, issuedBy)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	if inv.Items, err = l.invoices.ListLineItems(ctx, inv.ID); err != nil {
		return nil, err
	}
	l.issued(ctx, inv, cred)
	return inv, nil
}

// issueAccess get-or-creates the patient's credential and links it to inv.
func (l *Ledger) issueAccess(ctx context.Context, inv *Invoice, issuedBy string) (*credential.Credential, error) {
	cred, err := l.credentials.GetOrCreate(ctx, inv.PatientID, issuedBy)
	if err != nil {
		return nil, err
	}
	if err := l.invoices.SetCredential(ctx, inv.ID, cred.ID); err != nil {
		return nil, err
	}
	inv.CredentialID = &cred.ID
	return cred, nil
}

// issued runs once an issued invoice is committed.
func (l *Ledger) issued(ctx context.Context, inv *Invoice, cred *credential.Credential) {
	inv.Access = &AccessInfo{AccessKey: cred.AccessKey, Password: cred.Password}

	l.logger.Info().
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", inv.Number).
		Str("patient_id", inv.PatientID.String()).
		Int64("total_amount", inv.TotalAmount).
		Msg("invoice issued")

	l.notify(ctx, inv, cred)
}

// insertNumbered draws numbers from the counter until an insert succeeds.
// Each number is drawn outside the savepoint so a rolled-back attempt never
// hands the same number out twice.
func (l *Ledger) insertNumbered(ctx context.Context, inv *Invoice) error {
	for attempt := 0; attempt < l.cfg.MaxRetries; attempt++ {
		n, err := l.invoices.NextInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		inv.Number = FormatInvoiceNumber(n)
		err = l.tx.InTx(ctx, func(ctx context.Context) error {
			return l.invoices.Create(ctx, inv)
		})
		if errors.Is(err, ErrDuplicateNumber) {
			l.logger.Warn().Str("invoice_number", inv.Number).Int("attempt", attempt+1).Msg("invoice number collision")
			continue
		}
		return err
	}
	return apperr.Conflict("could not assign a unique invoice number", ErrDuplicateNumber)
}

func (l *Ledger) notify(ctx context.Context, inv *Invoice, cred *credential.Credential) {
	if l.notifier == nil {
		return
	}
	ev := notification.InvoiceIssued{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		PatientID:     inv.PatientID,
		TotalAmount:   inv.TotalAmount,
		DueDate:       inv.DueDate,
		AccessKey:     cred.AccessKey,
		Password:      cred.Password,
	}
	if err := l.notifier.InvoiceIssued(ctx, ev); err != nil {
		l.logger.Warn().Err(err).Str("invoice_number", inv.Number).Msg("invoice notification failed")
	}
}

// lockMutable locks an invoice whose items may still change.
func (l *Ledger) lockMutable(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := l.invoices.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case StatusCancelled:
		return nil, apperr.Validation("status", "invoice %s is cancelled", inv.Number)
	case StatusPaid:
		return nil, apperr.Validation("status", "invoice %s is already paid", inv.Number)
	}
	return inv, nil
}

// AddLineItem prices and appends an item, then recalculates totals.
func (l *Ledger) AddLineItem(ctx context.Context, invoiceID uuid.UUID, item NewLineItem) (*Invoice, error) {
	li, err := l.price(ctx, item, -1)
	if err != nil {
		return nil, err
	}

	var out *Invoice
	err = l.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := l.lockMutable(ctx, invoiceID)
		if err != nil {
			return err
		}
		li.InvoiceID = inv.ID
		if err := l.invoices.AddLineItem(ctx, li); err != nil {
			return err
		}
		out, err = l.recalculate(ctx, inv)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// RemoveAllLineItems empties an invoice that has no completed payments and
// recalculates its totals.
func (l *Ledger) RemoveAllLineItems(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	var out *Invoice
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := l.lockMutable(ctx, invoiceID)
		if err != nil {
			return err
		}
		paid, err := l.payments.SumCompleted(ctx, inv.ID)
		if err != nil {
			return err
		}
		if paid > 0 {
			return apperr.Validation("items", "invoice %s has completed payments of %d", inv.Number, paid)
		}
		if _, err := l.invoices.DeleteLineItems(ctx, inv.ID); err != nil {
			return err
		}
		out, err = l.recalculate(ctx, inv)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// RecalculateTotals recomputes subtotal, tax and total from the current items.
func (l *Ledger) RecalculateTotals(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	var out *Invoice
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := l.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		out, err = l.recalculate(ctx, inv)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// recalculate is the only writer of invoice totals after creation. The
// caller must hold the invoice lock. Status is left alone.
func (l *Ledger) recalculate(ctx context.Context, inv *Invoice) (*Invoice, error) {
	items, err := l.invoices.ListLineItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	t, err := ComputeTotals(items, inv.TaxRate)
	if err != nil {
		return nil, err
	}
	if t.Subtotal != inv.Subtotal || t.TaxAmount != inv.TaxAmount || t.Total != inv.TotalAmount {
		if err := l.invoices.UpdateTotals(ctx, inv.ID, t); err != nil {
			return nil, err
		}
	}
	inv.Subtotal, inv.TaxAmount, inv.TotalAmount = t.Subtotal, t.TaxAmount, t.Total
	inv.Items = items
	return inv, nil
}

// CancelInvoice moves an invoice to the terminal cancelled state. Invoices
// holding completed payments must have them reversed first.
func (l *Ledger) CancelInvoice(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	var out *Invoice
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := l.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			out = inv
			return nil
		}
		paid, err := l.payments.SumCompleted(ctx, inv.ID)
		if err != nil {
			return err
		}
		if paid > 0 {
			return apperr.Validation("status", "invoice %s has completed payments of %d; reverse them first", inv.Number, paid)
		}
		if err := l.invoices.UpdateStatus(ctx, inv.ID, StatusCancelled); err != nil {
			return err
		}
		inv.Status = StatusCancelled
		out = inv
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	l.logger.Info().Str("invoice_id", out.ID.String()).Str("invoice_number", out.Number).Msg("invoice cancelled")
	return out, nil
}

func (l *Ledger) withItems(ctx context.Context, inv *Invoice, err error) (*Invoice, error) {
	if err != nil {
		return nil, err
	}
	if inv.Items, err = l.invoices.ListLineItems(ctx, inv.ID); err != nil {
		return nil, err
	}
	return inv, nil
}

func (l *Ledger) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := l.invoices.GetByID(ctx, id)
	return l.withItems(ctx, inv, err)
}

func (l *Ledger) GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error) {
	inv, err := l.invoices.GetByNumber(ctx, number)
	return l.withItems(ctx, inv, err)
}

func (l *Ledger) ListInvoicesByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return l.invoices.ListByPatient(ctx, patientID, limit, offset)
}

func (l *Ledger) SearchInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	return l.invoices.Search(ctx, f, limit, offset)
}

func classify(err error) error {
	if db.IsContention(err) {
		return apperr.Conflict("invoice is being modified concurrently, retry the request", err)
	}
	return err
}
