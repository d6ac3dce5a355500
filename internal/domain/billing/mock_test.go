package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/medbill/billing/internal/domain/credential"
	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/db"
	"github.com/medbill/billing/internal/platform/lookup"
	"github.com/medbill/billing/internal/platform/notification"
)

// -- Mock Repositories --

type mockInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[uuid.UUID]*Invoice
	items    map[uuid.UUID][]*LineItem
	numbers  map[string]bool
	counter  int64
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{
		invoices: make(map[uuid.UUID]*Invoice),
		items:    make(map[uuid.UUID][]*LineItem),
		numbers:  make(map[string]bool),
	}
}

func copyInvoice(inv *Invoice) *Invoice {
	cp := *inv
	cp.Items = nil
	return &cp
}

func (m *mockInvoiceRepo) NextInvoiceNumber(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return m.counter, nil
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.numbers[inv.Number] {
		return ErrDuplicateNumber
	}
	m.numbers[inv.Number] = true
	inv.CreatedAt, inv.UpdatedAt = time.Now(), time.Now()
	m.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice", id.String())
	}
	return copyInvoice(inv), nil
}

func (m *mockInvoiceRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return m.GetByID(ctx, id)
}

func (m *mockInvoiceRepo) GetByNumber(_ context.Context, number string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.Number == number {
			return copyInvoice(inv), nil
		}
	}
	return nil, apperr.NotFound("invoice", number)
}

func (m *mockInvoiceRepo) update(id uuid.UUID, fn func(*Invoice)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return apperr.NotFound("invoice", id.String())
	}
	fn(inv)
	return nil
}

func (m *mockInvoiceRepo) UpdateTotals(_ context.Context, id uuid.UUID, t Totals) error {
	return m.update(id, func(inv *Invoice) {
		inv.Subtotal, inv.TaxAmount, inv.TotalAmount = t.Subtotal, t.TaxAmount, t.Total
	})
}

func (m *mockInvoiceRepo) UpdateStatus(_ context.Context, id uuid.UUID, status InvoiceStatus) error {
	return m.update(id, func(inv *Invoice) { inv.Status = status })
}

func (m *mockInvoiceRepo) SetCredential(_ context.Context, id, credentialID uuid.UUID) error {
	return m.update(id, func(inv *Invoice) { inv.CredentialID = &credentialID })
}

func (m *mockInvoiceRepo) filtered(match func(*Invoice) bool, limit, offset int) ([]*Invoice, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*Invoice
	for _, inv := range m.invoices {
		if match(inv) {
			all = append(all, copyInvoice(inv))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Number > all[j].Number })
	total := len(all)
	if offset >= len(all) {
		return nil, total
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total
}

func (m *mockInvoiceRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	items, total := m.filtered(func(inv *Invoice) bool { return inv.PatientID == patientID }, limit, offset)
	return items, total, nil
}

func (m *mockInvoiceRepo) Search(_ context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	items, total := m.filtered(func(inv *Invoice) bool {
		switch {
		case f.Status != nil && inv.Status != *f.Status,
			f.PatientID != nil && inv.PatientID != *f.PatientID,
			f.MinAmount != nil && inv.TotalAmount < *f.MinAmount,
			f.MaxAmount != nil && inv.TotalAmount > *f.MaxAmount,
			f.DateFrom != nil && inv.InvoiceDate.Before(*f.DateFrom),
			f.DateTo != nil && inv.InvoiceDate.After(*f.DateTo),
			(f.Unpaid || f.OverdueAt != nil) && !inv.Status.Outstanding(),
			f.OverdueAt != nil && !inv.DueDate.Before(*f.OverdueAt):
			return false
		}
		return true
	}, limit, offset)
	return items, total, nil
}

func (m *mockInvoiceRepo) AddLineItem(_ context.Context, li *LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	li.CreatedAt = time.Now()
	cp := *li
	m.items[li.InvoiceID] = append(m.items[li.InvoiceID], &cp)
	return nil
}

func (m *mockInvoiceRepo) DeleteLineItems(_ context.Context, invoiceID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.items[invoiceID]))
	delete(m.items, invoiceID)
	return n, nil
}

func (m *mockInvoiceRepo) ListLineItems(_ context.Context, invoiceID uuid.UUID) ([]*LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LineItem
	for _, li := range m.items[invoiceID] {
		cp := *li
		out = append(out, &cp)
	}
	return out, nil
}

type mockPaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*Payment
	receipts map[string]bool
	counters map[string]int64
}

func newMockPaymentRepo() *mockPaymentRepo {
	return &mockPaymentRepo{
		payments: make(map[uuid.UUID]*Payment),
		receipts: make(map[string]bool),
		counters: make(map[string]int64),
	}
}

func (m *mockPaymentRepo) NextReceiptSequence(_ context.Context, day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := day.Format(dateLayout)
	m.counters[key]++
	return m.counters[key], nil
}

func (m *mockPaymentRepo) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ReceiptNumber != nil {
		if m.receipts[*p.ReceiptNumber] {
			return ErrDuplicateReceipt
		}
		m.receipts[*p.ReceiptNumber] = true
	}
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment", id.String())
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPaymentRepo) Complete(_ context.Context, id uuid.UUID, receipt string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != PaymentPending {
		return apperr.NotFound("pending payment", id.String())
	}
	if m.receipts[receipt] {
		return ErrDuplicateReceipt
	}
	m.receipts[receipt] = true
	p.Status, p.ReceiptNumber, p.PaymentDate = PaymentCompleted, &receipt, &at
	return nil
}

func (m *mockPaymentRepo) UpdateStatus(_ context.Context, id uuid.UUID, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return apperr.NotFound("payment", id.String())
	}
	p.Status = status
	return nil
}

func (m *mockPaymentRepo) SumCompleted(_ context.Context, invoiceID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID && p.Status == PaymentCompleted {
			sum += p.Amount
		}
	}
	return sum, nil
}

func (m *mockPaymentRepo) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// stubIssuer hands out one credential per patient.
type stubIssuer struct {
	mu    sync.Mutex
	creds map[uuid.UUID]*credential.Credential
	err   error
}

func (s *stubIssuer) GetOrCreate(_ context.Context, patientID uuid.UUID, issuedBy string) (*credential.Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		s.creds = make(map[uuid.UUID]*credential.Credential)
	}
	if c, ok := s.creds[patientID]; ok {
		return c, nil
	}
	c := &credential.Credential{
		ID:        uuid.New(),
		PatientID: patientID,
		AccessKey: "KEY" + patientID.String()[:9],
		Password:  "Secret12",
		Active:    true,
		IssuedBy:  issuedBy,
	}
	s.creds[patientID] = c
	return c, nil
}

// -- Fixture --

type fixture struct {
	invoices   *mockInvoiceRepo
	payments   *mockPaymentRepo
	catalog    *lookup.StaticCatalog
	patients   lookup.StaticPatients
	issuer     *stubIssuer
	sender     *notification.RecordingSender
	ledger     *Ledger
	reconciler *Reconciler

	patient  uuid.UUID
	consult  uuid.UUID // priced 10000
	bloodLab uuid.UUID // priced 2500
}

func newFixture() *fixture {
	f := &fixture{
		invoices: newMockInvoiceRepo(),
		payments: newMockPaymentRepo(),
		issuer:   &stubIssuer{},
		sender:   &notification.RecordingSender{},
		patient:  uuid.New(),
		consult:  uuid.New(),
		bloodLab: uuid.New(),
	}
	f.catalog = lookup.NewStaticCatalog(map[uuid.UUID]int64{f.consult: 10000, f.bloodLab: 2500})
	f.patients = lookup.StaticPatients{f.patient: true}

	tx := db.NewSerialTransactor()
	cfg := Config{DefaultTaxRate: DefaultTaxRate, PaymentTermDays: 30, MaxRetries: 3}
	dispatcher := notification.NewDispatcher(f.sender, nil, zerolog.Nop())
	f.ledger = NewLedger(f.invoices, f.payments, tx, f.catalog, f.patients, f.issuer, dispatcher, cfg, zerolog.Nop())
	f.reconciler = NewReconciler(f.invoices, f.payments, tx, cfg, zerolog.Nop())
	return f
}

// invoice issues a one-consultation invoice totalling 10000.
func (f *fixture) invoice(ctx context.Context) (*Invoice, error) {
	return f.ledger.CreateInvoice(ctx, CreateInvoiceInput{
		PatientID: f.patient,
		IssuedBy:  "sec-1",
		Items:     []NewLineItem{{ServiceTypeID: f.consult, Quantity: 1}},
	})
}

func (f *fixture) pay(ctx context.Context, invoiceID uuid.UUID, amount int64) (*Payment, error) {
	return f.reconciler.RecordPayment(ctx, PaymentInput{
		InvoiceID:  invoiceID,
		Amount:     amount,
		Method:     MethodCash,
		RecordedBy: "acc-1",
	})
}

func lockTimeout() error {
	return &pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"}
}
