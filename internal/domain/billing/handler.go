package billing

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/auth"
	"github.com/medbill/billing/pkg/pagination"
)

type Handler struct {
	ledger     *Ledger
	reconciler *Reconciler
}

func NewHandler(ledger *Ledger, reconciler *Reconciler) *Handler {
	return &Handler{ledger: ledger, reconciler: reconciler}
}

// RegisterRoutes mounts the ledger API. Access control is applied by the
// gate middleware on the enclosing group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	inv := api.Group("/invoices")
	inv.POST("", h.CreateInvoice)
	inv.GET("", h.SearchInvoices)
	inv.GET("/number/:number", h.GetInvoiceByNumber)
	inv.GET("/:id", h.GetInvoice)
	inv.POST("/:id/items", h.AddLineItem)
	inv.DELETE("/:id/items", h.RemoveAllLineItems)
	inv.POST("/:id/recalculate", h.RecalculateTotals)
	inv.POST("/:id/send", h.SendInvoice)
	inv.POST("/:id/cancel", h.CancelInvoice)
	inv.GET("/:id/balance", h.GetRemainingBalance)
	inv.GET("/:id/payments", h.ListPayments)

	pay := api.Group("/payments")
	pay.POST("", h.RecordPayment)
	pay.GET("/:id", h.GetPayment)
	pay.POST("/:id/confirm", h.ConfirmPayment)
	pay.POST("/:id/fail", h.FailPayment)
	pay.POST("/:id/cancel", h.reverse(PaymentCancelled))
	pay.POST("/:id/refund", h.reverse(PaymentRefunded))
}

// -- Invoice Handlers --

type createInvoiceRequest struct {
	PatientID   uuid.UUID        `json:"patient_id"`
	Items       []NewLineItem    `json:"items"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
	InvoiceDate string           `json:"invoice_date,omitempty"`
	DueDate     string           `json:"due_date,omitempty"`
	Status      string           `json:"status,omitempty"`
	Notes       *string          `json:"notes,omitempty"`
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("", "invalid request body")
	}
	in := CreateInvoiceInput{
		PatientID: req.PatientID,
		IssuedBy:  callerID(c),
		Items:     req.Items,
		TaxRate:   req.TaxRate,
		Notes:     req.Notes,
	}
	switch InvoiceStatus(strings.ToLower(req.Status)) {
	case "", StatusSent:
	case StatusDraft:
		in.Draft = true
	default:
		return apperr.Validation("status", "a new invoice is either draft or sent, got %q", req.Status)
	}
	var err error
	if in.InvoiceDate, err = optionalDate("invoice_date", req.InvoiceDate); err != nil {
		return err
	}
	if in.DueDate, err = optionalDate("due_date", req.DueDate); err != nil {
		return err
	}

	inv, err := h.ledger.CreateInvoice(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inv, err := h.ledger.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetInvoiceByNumber(c echo.Context) error {
	inv, err := h.ledger.GetInvoiceByNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) SearchInvoices(c echo.Context) error {
	pg, err := pagination.FromContext(c)
	if err != nil {
		return err
	}
	f, err := ParseInvoiceFilter(c.QueryParams())
	if err != nil {
		return err
	}
	items, total, err := h.ledger.SearchInvoices(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) AddLineItem(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var item NewLineItem
	if err := c.Bind(&item); err != nil {
		return apperr.Validation("", "invalid request body")
	}
	inv, err := h.ledger.AddLineItem(c.Request().Context(), id, item)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RemoveAllLineItems(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inv, err := h.ledger.RemoveAllLineItems(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RecalculateTotals(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inv, err := h.ledger.RecalculateTotals(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) SendInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inv, err := h.ledger.SendInvoice(c.Request().Context(), id, callerID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inv, err := h.ledger.CancelInvoice(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetRemainingBalance(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.reconciler.GetRemainingBalance(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.reconciler.ListPayments(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

// -- Payment Handlers --

type recordPaymentRequest struct {
	InvoiceID         uuid.UUID `json:"invoice_id"`
	Amount            int64     `json:"amount"`
	Method            string    `json:"method"`
	Status            string    `json:"status,omitempty"`
	ReferenceNumber   *string   `json:"reference_number,omitempty"`
	TransactionID     *string   `json:"transaction_id,omitempty"`
	PhoneNumber       *string   `json:"phone_number,omitempty"`
	OperatorReference *string   `json:"operator_reference,omitempty"`
	Notes             *string   `json:"notes,omitempty"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	var req recordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("", "invalid request body")
	}
	in := PaymentInput{
		InvoiceID:         req.InvoiceID,
		Amount:            req.Amount,
		Method:            PaymentMethod(req.Method),
		ReferenceNumber:   req.ReferenceNumber,
		TransactionID:     req.TransactionID,
		PhoneNumber:       req.PhoneNumber,
		OperatorReference: req.OperatorReference,
		Notes:             req.Notes,
		RecordedBy:        callerID(c),
	}
	switch PaymentStatus(strings.ToLower(req.Status)) {
	case "", PaymentCompleted:
	case PaymentPending:
		in.Pending = true
	default:
		return apperr.Validation("status", "a new payment is either pending or completed, got %q", req.Status)
	}

	p, err := h.reconciler.RecordPayment(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.reconciler.GetPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ConfirmPayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.reconciler.ConfirmPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) FailPayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p, err := h.reconciler.FailPayment(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) reverse(to PaymentStatus) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		p, err := h.reconciler.ReversePayment(c.Request().Context(), id, to)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("id", "invalid id %q", c.Param("id"))
	}
	return id, nil
}

func optionalDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperr.Validation(field, "must be a date in YYYY-MM-DD form, got %q", raw)
	}
	return &t, nil
}

func callerID(c echo.Context) string {
	if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
		return p.ID
	}
	return ""
}
