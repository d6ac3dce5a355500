package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/db"
)

const (
	invoiceNumberConstraint = "invoice_number_key"
	receiptNumberConstraint = "payment_receipt_number_key"
)

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const invCols = `id, invoice_number, patient_id, issued_by, invoice_date, due_date, status,
	tax_rate::text, subtotal, tax_amount, total_amount, credential_id, notes,
	created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv  Invoice
		rate string
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.PatientID, &inv.IssuedBy, &inv.InvoiceDate, &inv.DueDate, &inv.Status,
		&rate, &inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount, &inv.CredentialID, &inv.Notes,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if inv.TaxRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse tax rate %q: %w", rate, err)
	}
	return &inv, nil
}

func (r *invoiceRepoPG) getOne(ctx context.Context, what, query string, args ...interface{}) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, query, args...))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("invoice", what)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

func (r *invoiceRepoPG) NextInvoiceNumber(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE invoice_counter SET last_value = last_value + 1 WHERE id = 1 RETURNING last_value`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("advance invoice counter: %w", err)
	}
	return n, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice (id, invoice_number, patient_id, issued_by, invoice_date, due_date, status,
			tax_rate, subtotal, tax_amount, total_amount, credential_id, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		inv.ID, inv.Number, inv.PatientID, inv.IssuedBy, inv.InvoiceDate, inv.DueDate, inv.Status,
		inv.TaxRate.StringFixed(2), inv.Subtotal, inv.TaxAmount, inv.TotalAmount, inv.CredentialID, inv.Notes,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if name, ok := db.UniqueViolation(err); ok && name == invoiceNumberConstraint {
		return ErrDuplicateNumber
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.getOne(ctx, id.String(), `SELECT `+invCols+` FROM invoice WHERE id = $1`, id)
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.getOne(ctx, id.String(), `SELECT `+invCols+` FROM invoice WHERE id = $1 FOR UPDATE`, id)
}

func (r *invoiceRepoPG) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return r.getOne(ctx, number, `SELECT `+invCols+` FROM invoice WHERE invoice_number = $1`, number)
}

func (r *invoiceRepoPG) exec(ctx context.Context, id uuid.UUID, what, query string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("invoice", id.String())
	}
	return nil
}

func (r *invoiceRepoPG) UpdateTotals(ctx context.Context, id uuid.UUID, t Totals) error {
	return r.exec(ctx, id, "update invoice totals", `
		UPDATE invoice SET subtotal = $2, tax_amount = $3, total_amount = $4, updated_at = NOW()
		WHERE id = $1`, t.Subtotal, t.TaxAmount, t.Total)
}

func (r *invoiceRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error {
	return r.exec(ctx, id, "update invoice status",
		`UPDATE invoice SET status = $2, updated_at = NOW() WHERE id = $1`, status)
}

func (r *invoiceRepoPG) SetCredential(ctx context.Context, id, credentialID uuid.UUID) error {
	return r.exec(ctx, id, "link credential",
		`UPDATE invoice SET credential_id = $2, updated_at = NOW() WHERE id = $1`, credentialID)
}

func (r *invoiceRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoice`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM invoice%s ORDER BY invoice_date DESC, invoice_number DESC LIMIT $%d OFFSET $%d`,
		invCols, where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return r.list(ctx, ` WHERE patient_id = $1`, []interface{}{patientID}, limit, offset)
}

func (r *invoiceRepoPG) Search(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	where, args := filterClause(f)
	return r.list(ctx, where, args, limit, offset)
}

// filterClause renders f as a WHERE clause with positional arguments.
func filterClause(f InvoiceFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.MinAmount != nil {
		add("total_amount >= $%d", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		add("total_amount <= $%d", *f.MaxAmount)
	}
	if f.DateFrom != nil {
		add("invoice_date >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("invoice_date <= $%d", *f.DateTo)
	}
	if f.Unpaid || f.OverdueAt != nil {
		conds = append(conds, "status IN ('sent', 'partially_paid')")
	}
	if f.OverdueAt != nil {
		add("due_date < $%d", *f.OverdueAt)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *invoiceRepoPG) AddLineItem(ctx context.Context, li *LineItem) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO invoice_line_item (id, invoice_id, service_type_id, description, quantity, unit_price, line_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		li.ID, li.InvoiceID, li.ServiceTypeID, li.Description, li.Quantity, li.UnitPrice, li.LineTotal,
	).Scan(&li.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) DeleteLineItems(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice_line_item WHERE invoice_id = $1`, invoiceID)
	if err != nil {
		return 0, fmt.Errorf("delete line items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *invoiceRepoPG) ListLineItems(ctx context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, invoice_id, service_type_id, description, quantity, unit_price, line_total, created_at
		FROM invoice_line_item WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()
	var items []*LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.ServiceTypeID, &li.Description,
			&li.Quantity, &li.UnitPrice, &li.LineTotal, &li.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &li)
	}
	return items, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const payCols = `id, invoice_id, amount, method, status, receipt_number, payment_date,
	reference_number, transaction_id, phone_number, operator_reference, notes, recorded_by, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Method, &p.Status, &p.ReceiptNumber, &p.PaymentDate,
		&p.ReferenceNumber, &p.TransactionID, &p.PhoneNumber, &p.OperatorReference, &p.Notes, &p.RecordedBy, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *paymentRepoPG) getOne(ctx context.Context, id uuid.UUID, query string) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("payment", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func duplicateReceipt(err error) bool {
	name, ok := db.UniqueViolation(err)
	return ok && name == receiptNumberConstraint
}

func (r *paymentRepoPG) NextReceiptSequence(ctx context.Context, day time.Time) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO receipt_counter (day, last_value) VALUES ($1, 1)
		ON CONFLICT (day) DO UPDATE SET last_value = receipt_counter.last_value + 1
		RETURNING last_value`, day.Format(dateLayout)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("advance receipt counter: %w", err)
	}
	return n, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, invoice_id, amount, method, status, receipt_number, payment_date,
			reference_number, transaction_id, phone_number, operator_reference, notes, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.InvoiceID, p.Amount, p.Method, p.Status, p.ReceiptNumber, p.PaymentDate,
		p.ReferenceNumber, p.TransactionID, p.PhoneNumber, p.OperatorReference, p.Notes, p.RecordedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if duplicateReceipt(err) {
		return ErrDuplicateReceipt
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.getOne(ctx, id, `SELECT `+payCols+` FROM payment WHERE id = $1`)
}

func (r *paymentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.getOne(ctx, id, `SELECT `+payCols+` FROM payment WHERE id = $1 FOR UPDATE`)
}

func (r *paymentRepoPG) Complete(ctx context.Context, id uuid.UUID, receipt string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment SET status = 'completed', receipt_number = $2, payment_date = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, receipt, at)
	if duplicateReceipt(err) {
		return ErrDuplicateReceipt
	}
	if err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("pending payment", id.String())
	}
	return nil
}

func (r *paymentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE payment SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("payment", id.String())
	}
	return nil
}

func (r *paymentRepoPG) SumCompleted(ctx context.Context, invoiceID uuid.UUID) (int64, error) {
	var sum int64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::bigint FROM payment
		WHERE invoice_id = $1 AND status = 'completed'`, invoiceID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum payments: %w", err)
	}
	return sum, nil
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payCols+` FROM payment WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
