package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/db"
)

type PaymentInput struct {
	InvoiceID         uuid.UUID
	Amount            int64
	Method            PaymentMethod
	ReferenceNumber   *string
	TransactionID     *string
	PhoneNumber       *string
	OperatorReference *string
	Notes             *string
	RecordedBy        string
	// Pending records the payment without settling it; it does not count
	// toward the balance until confirmed.
	Pending bool
}

// Reconciler applies payments to invoices. Every mutation locks the invoice
// row first and the payment row second.
type Reconciler struct {
	invoices InvoiceRepository
	payments PaymentRepository
	tx       db.Transactor
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReconciler(invoices InvoiceRepository, payments PaymentRepository, tx db.Transactor, cfg Config, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		invoices: invoices,
		payments: payments,
		tx:       tx,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
	}
}

// checkBalance rejects amounts that would push completed payments past the
// invoice total. It returns the completed sum.
func (r *Reconciler) checkBalance(ctx context.Context, inv *Invoice, amount int64) (int64, error) {
	switch inv.Status {
	case StatusCancelled:
		return 0, apperr.Validation("invoice_id", "invoice %s is cancelled", inv.Number)
	case StatusDraft:
		return 0, apperr.Validation("invoice_id", "invoice %s is a draft and must be sent first", inv.Number)
	}
	paid, err := r.payments.SumCompleted(ctx, inv.ID)
	if err != nil {
		return 0, err
	}
	remaining := inv.TotalAmount - paid
	if amount > remaining {
		return 0, &apperr.ValidationError{
			Field:   "amount",
			Message: fmt.Sprintf("payment of %d exceeds remaining balance of %d", amount, remaining),
			Details: map[string]interface{}{"requested": amount, "remaining": remaining},
		}
	}
	return paid, nil
}

// RecordPayment applies a payment to an invoice. The balance check, the
// insert and the status update happen under the invoice lock, so concurrent
// payments can never jointly exceed the total.
func (r *Reconciler) RecordPayment(ctx context.Context, in PaymentInput) (*Payment, error) {
	if in.InvoiceID == uuid.Nil {
		return nil, apperr.Validation("invoice_id", "is required")
	}
	if in.Amount <= 0 {
		return nil, &apperr.ValidationError{
			Field:   "amount",
			Message: "must be positive",
			Details: map[string]interface{}{"requested": in.Amount},
		}
	}
	method, err := ParsePaymentMethod(string(in.Method))
	if err != nil {
		return nil, apperr.Validation("method", "%v", err)
	}

	p := &Payment{
		ID:                uuid.New(),
		InvoiceID:         in.InvoiceID,
		Amount:            in.Amount,
		Method:            method,
		Status:            PaymentPending,
		ReferenceNumber:   in.ReferenceNumber,
		TransactionID:     in.TransactionID,
		PhoneNumber:       in.PhoneNumber,
		OperatorReference: in.OperatorReference,
		Notes:             in.Notes,
		RecordedBy:        in.RecordedBy,
	}

	var inv *Invoice
	err = r.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = r.invoices.GetForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		paid, err := r.checkBalance(ctx, inv, in.Amount)
		if err != nil {
			return err
		}
		if in.Pending {
			return r.payments.Create(ctx, p)
		}
		if err := r.insertWithReceipt(ctx, p); err != nil {
			return err
		}
		return r.rederive(ctx, inv, paid+p.Amount)
	})
	if err != nil {
		return nil, classify(err)
	}

	r.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("invoice_number", inv.Number).
		Int64("amount", p.Amount).
		Str("method", string(p.Method)).
		Str("status", string(p.Status)).
		Str("invoice_status", string(inv.Status)).
		Msg("payment recorded")
	return p, nil
}

// insertWithReceipt stores p as completed under a fresh receipt number.
func (r *Reconciler) insertWithReceipt(ctx context.Context, p *Payment) error {
	return r.withReceipt(ctx, p, func(ctx context.Context) error {
		return r.payments.Create(ctx, p)
	})
}

// withReceipt assigns receipt numbers from the day's counter until write
// succeeds. Numbers are drawn outside the savepoint so a retry never sees
// the same value again.
func (r *Reconciler) withReceipt(ctx context.Context, p *Payment, write func(ctx context.Context) error) error {
	at := r.now().UTC()
	for attempt := 0; attempt < r.cfg.MaxRetries; attempt++ {
		seq, err := r.payments.NextReceiptSequence(ctx, at)
		if err != nil {
			return err
		}
		receipt := FormatReceiptNumber(at, seq)
		p.ReceiptNumber, p.PaymentDate, p.Status = &receipt, &at, PaymentCompleted

		err = r.tx.InTx(ctx, write)
		if errors.Is(err, ErrDuplicateReceipt) {
			r.logger.Warn().Str("receipt_number", receipt).Int("attempt", attempt+1).Msg("receipt number collision")
			continue
		}
		if err != nil {
			p.ReceiptNumber, p.PaymentDate, p.Status = nil, nil, PaymentPending
		}
		return err
	}
	p.ReceiptNumber, p.PaymentDate, p.Status = nil, nil, PaymentPending
	return apperr.Conflict("could not assign a unique receipt number", ErrDuplicateReceipt)
}

// rederive writes the status implied by the completed sum, if it changed.
func (r *Reconciler) rederive(ctx context.Context, inv *Invoice, paid int64) error {
	next := DeriveStatus(inv.Status, inv.TotalAmount, paid)
	if next == inv.Status {
		return nil
	}
	if err := r.invoices.UpdateStatus(ctx, inv.ID, next); err != nil {
		return err
	}
	inv.Status = next
	return nil
}

// lockPayment locks the payment's invoice, then the payment itself.
func (r *Reconciler) lockPayment(ctx context.Context, paymentID uuid.UUID) (*Invoice, *Payment, error) {
	p, err := r.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	inv, err := r.invoices.GetForUpdate(ctx, p.InvoiceID)
	if err != nil {
		return nil, nil, err
	}
	p, err = r.payments.GetForUpdate(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	return inv, p, nil
}

// ConfirmPayment settles a pending payment, issuing its receipt.
func (r *Reconciler) ConfirmPayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	var p *Payment
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		inv, locked, err := r.lockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		p = locked
		if p.Status != PaymentPending {
			return apperr.Validation("status", "only pending payments can be confirmed, payment is %s", p.Status)
		}
		paid, err := r.checkBalance(ctx, inv, p.Amount)
		if err != nil {
			return err
		}
		err = r.withReceipt(ctx, p, func(ctx context.Context) error {
			return r.payments.Complete(ctx, p.ID, *p.ReceiptNumber, *p.PaymentDate)
		})
		if err != nil {
			return err
		}
		return r.rederive(ctx, inv, paid+p.Amount)
	})
	if err != nil {
		return nil, classify(err)
	}
	r.logger.Info().Str("payment_id", p.ID.String()).Str("receipt_number", *p.ReceiptNumber).Msg("payment confirmed")
	return p, nil
}

// FailPayment marks a pending payment as failed.
func (r *Reconciler) FailPayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	var p *Payment
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		_, locked, err := r.lockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		p = locked
		if p.Status != PaymentPending {
			return apperr.Validation("status", "only pending payments can fail, payment is %s", p.Status)
		}
		if err := r.payments.UpdateStatus(ctx, p.ID, PaymentFailed); err != nil {
			return err
		}
		p.Status = PaymentFailed
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	r.logger.Info().Str("payment_id", p.ID.String()).Msg("payment failed")
	return p, nil
}

// ReversePayment cancels or refunds a completed payment and re-derives the
// invoice status from what remains.
func (r *Reconciler) ReversePayment(ctx context.Context, paymentID uuid.UUID, to PaymentStatus) (*Payment, error) {
	if to != PaymentCancelled && to != PaymentRefunded {
		return nil, apperr.Validation("status", "a payment can only be reversed to cancelled or refunded, got %q", to)
	}
	var (
		p   *Payment
		inv *Invoice
	)
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		inv, p, err = r.lockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentCompleted {
			return apperr.Validation("status", "only completed payments can be reversed, payment is %s", p.Status)
		}
		if err := r.payments.UpdateStatus(ctx, p.ID, to); err != nil {
			return err
		}
		p.Status = to
		paid, err := r.payments.SumCompleted(ctx, inv.ID)
		if err != nil {
			return err
		}
		return r.rederive(ctx, inv, paid)
	})
	if err != nil {
		return nil, classify(err)
	}
	r.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("status", string(to)).
		Str("invoice_status", string(inv.Status)).
		Msg("payment reversed")
	return p, nil
}

// GetRemainingBalance reports total, completed sum and what is left to pay.
func (r *Reconciler) GetRemainingBalance(ctx context.Context, invoiceID uuid.UUID) (*Balance, error) {
	inv, err := r.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	paid, err := r.payments.SumCompleted(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	b := &Balance{
		InvoiceID:   inv.ID,
		Status:      inv.Status,
		TotalAmount: inv.TotalAmount,
		PaidAmount:  paid,
		Remaining:   inv.TotalAmount - paid,
	}
	if inv.Status == StatusCancelled {
		b.Remaining = 0
	}
	return b, nil
}

func (r *Reconciler) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := r.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return r.payments.ListByInvoice(ctx, invoiceID)
}

func (r *Reconciler) GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.payments.GetByID(ctx, id)
}
