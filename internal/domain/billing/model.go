package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	StatusDraft         InvoiceStatus = "draft"
	StatusSent          InvoiceStatus = "sent"
	StatusPartiallyPaid InvoiceStatus = "partially_paid"
	StatusPaid          InvoiceStatus = "paid"
	StatusCancelled     InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPartiallyPaid, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// Outstanding reports whether an invoice in this status still expects money.
func (s InvoiceStatus) Outstanding() bool {
	return s == StatusSent || s == StatusPartiallyPaid
}

func ParseInvoiceStatus(raw string) (InvoiceStatus, error) {
	s := InvoiceStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown invoice status %q", raw)
	}
	return s, nil
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCheck        PaymentMethod = "check"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodOrangeMoney  PaymentMethod = "orange_money"
	MethodWave         PaymentMethod = "wave"
	MethodFreeMoney    PaymentMethod = "free_money"
	MethodCreditCard   PaymentMethod = "credit_card"
)

var paymentMethods = []PaymentMethod{
	MethodCash, MethodCheck, MethodBankTransfer, MethodMobileMoney,
	MethodOrangeMoney, MethodWave, MethodFreeMoney, MethodCreditCard,
}

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range paymentMethods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown payment method %q", raw)
}

// MobileMoney reports whether the method settles through a phone wallet.
func (m PaymentMethod) MobileMoney() bool {
	switch m {
	case MethodMobileMoney, MethodOrangeMoney, MethodWave, MethodFreeMoney:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Invoice is the ledger's aggregate root. Monetary fields are integer minor
// units; TotalAmount is tax-inclusive and TotalAmount = Subtotal + TaxAmount.
type Invoice struct {
	ID           uuid.UUID       `json:"id"`
	Number       string          `json:"invoice_number"`
	PatientID    uuid.UUID       `json:"patient_id"`
	IssuedBy     string          `json:"issued_by"`
	InvoiceDate  time.Time       `json:"invoice_date"`
	DueDate      time.Time       `json:"due_date"`
	Status       InvoiceStatus   `json:"status"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Subtotal     int64           `json:"subtotal"`
	TaxAmount    int64           `json:"tax_amount"`
	TotalAmount  int64           `json:"total_amount"`
	CredentialID *uuid.UUID      `json:"credential_id,omitempty"`
	Notes        *string         `json:"notes,omitempty"`
	Items        []*LineItem     `json:"items,omitempty"`
	// Access is only filled in on the response to invoice creation.
	Access    *AccessInfo `json:"access,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// AccessInfo is the portal login handed to the patient with a new invoice.
type AccessInfo struct {
	AccessKey string `json:"access_key"`
	Password  string `json:"password"`
}

// LineItem is one billed service. UnitPrice is a snapshot taken when the
// item was added and does not follow later catalog changes.
type LineItem struct {
	ID            uuid.UUID `json:"id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
	ServiceTypeID uuid.UUID `json:"service_type_id"`
	Description   *string   `json:"description,omitempty"`
	Quantity      int       `json:"quantity"`
	UnitPrice     int64     `json:"unit_price"`
	LineTotal     int64     `json:"line_total"`
	CreatedAt     time.Time `json:"created_at"`
}

type Payment struct {
	ID                uuid.UUID     `json:"id"`
	InvoiceID         uuid.UUID     `json:"invoice_id"`
	Amount            int64         `json:"amount"`
	Method            PaymentMethod `json:"method"`
	Status            PaymentStatus `json:"status"`
	ReceiptNumber     *string       `json:"receipt_number,omitempty"`
	PaymentDate       *time.Time    `json:"payment_date,omitempty"`
	ReferenceNumber   *string       `json:"reference_number,omitempty"`
	TransactionID     *string       `json:"transaction_id,omitempty"`
	PhoneNumber       *string       `json:"phone_number,omitempty"`
	OperatorReference *string       `json:"operator_reference,omitempty"`
	Notes             *string       `json:"notes,omitempty"`
	RecordedBy        string        `json:"recorded_by"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Balance is the outstanding amount on one invoice.
type Balance struct {
	InvoiceID   uuid.UUID     `json:"invoice_id"`
	Status      InvoiceStatus `json:"status"`
	TotalAmount int64         `json:"total_amount"`
	PaidAmount  int64         `json:"paid_amount"`
	Remaining   int64         `json:"remaining"`
}
