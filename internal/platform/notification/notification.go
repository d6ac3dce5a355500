// Package notification tells downstream collaborators (SMS gateway, document
// renderer) that an invoice was issued, together with the patient's portal
// credential. Delivery happens after the ledger transaction has committed.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const EventInvoiceIssued = "invoice.issued"

// InvoiceIssued is the payload handed to the dispatcher after an invoice commits.
type InvoiceIssued struct {
	InvoiceID     uuid.UUID
	InvoiceNumber string
	PatientID     uuid.UUID
	TotalAmount   int64
	DueDate       time.Time
	AccessKey     string
	Password      string
}

// Notification is one outbound message.
type Notification struct {
	ID         string            `json:"id"`
	Event      string            `json:"event"`
	TemplateID string            `json:"template_id"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Sender delivers a rendered notification.
type Sender interface {
	Deliver(ctx context.Context, n *Notification) error
}

// Template is a body with {{key}} placeholders.
type Template struct {
	ID   string
	Body string
}

// TemplateEngine renders registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.RegisterTemplate(Template{
		ID: "invoice-issued",
		Body: "Invoice {{invoice_number}}: {{total_amount}} due {{due_date}}. " +
			"Results portal access key {{access_key}}, password {{password}}.",
	})
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Unknown placeholders are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}
	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// Dispatcher renders and sends ledger events.
type Dispatcher struct {
	sender    Sender
	templates *TemplateEngine
	logger    zerolog.Logger
}

func NewDispatcher(sender Sender, templates *TemplateEngine, logger zerolog.Logger) *Dispatcher {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Dispatcher{sender: sender, templates: templates, logger: logger}
}

// InvoiceIssued renders the invoice-issued message and delivers it.
func (d *Dispatcher) InvoiceIssued(ctx context.Context, ev InvoiceIssued) error {
	data := map[string]string{
		"invoice_id":     ev.InvoiceID.String(),
		"invoice_number": ev.InvoiceNumber,
		"patient_id":     ev.PatientID.String(),
		"total_amount":   fmt.Sprintf("%d", ev.TotalAmount),
		"due_date":       ev.DueDate.Format("2006-01-02"),
		"access_key":     ev.AccessKey,
		"password":       ev.Password,
	}
	body, err := d.templates.Render("invoice-issued", data)
	if err != nil {
		return err
	}

	n := &Notification{
		ID:         uuid.New().String(),
		Event:      EventInvoiceIssued,
		TemplateID: "invoice-issued",
		Body:       body,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.sender.Deliver(ctx, n); err != nil {
		return fmt.Errorf("deliver %s for %s: %w", n.Event, ev.InvoiceNumber, err)
	}
	d.logger.Debug().Str("notification_id", n.ID).Str("invoice_number", ev.InvoiceNumber).Msg("notification delivered")
	return nil
}

// NopSender drops every notification. Used when no webhook is configured.
type NopSender struct{}

func (NopSender) Deliver(context.Context, *Notification) error { return nil }

// RecordingSender keeps delivered notifications in memory.
type RecordingSender struct {
	mu   sync.Mutex
	sent []*Notification
	Err  error
}

func (r *RecordingSender) Deliver(_ context.Context, n *Notification) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

func (r *RecordingSender) Sent() []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Notification, len(r.sent))
	copy(out, r.sent)
	return out
}
