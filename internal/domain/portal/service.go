// Package portal serves the patient-facing, read-only view of the ledger.
// Patients sign in with the access key and password printed on their invoice.
package portal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbill/billing/internal/domain/billing"
	"github.com/medbill/billing/internal/domain/credential"
	"github.com/medbill/billing/internal/platform/apperr"
)

// maxInvoices caps the invoice history returned on login.
const maxInvoices = 100

type Authenticator interface {
	Authenticate(ctx context.Context, accessKey, password string) (*credential.Credential, error)
	RecordAccess(ctx context.Context, id uuid.UUID) (*credential.Credential, error)
}

type InvoiceReader interface {
	ListInvoicesByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*billing.Invoice, int, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*billing.Invoice, error)
}

// View is what a signed-in patient sees. It never carries the password.
type View struct {
	PatientID     uuid.UUID          `json:"patient_id"`
	AccessCount   int                `json:"access_count"`
	LastAccessAt  *time.Time         `json:"last_access_at,omitempty"`
	Invoices      []*billing.Invoice `json:"invoices"`
	TotalInvoices int                `json:"total_invoices"`
}

type Service struct {
	creds    Authenticator
	invoices InvoiceReader
	logger   zerolog.Logger
}

func NewService(creds Authenticator, invoices InvoiceReader, logger zerolog.Logger) *Service {
	return &Service{creds: creds, invoices: invoices, logger: logger}
}

func (s *Service) signIn(ctx context.Context, accessKey, password string) (*credential.Credential, error) {
	cred, err := s.creds.Authenticate(ctx, accessKey, password)
	if err != nil {
		return nil, err
	}
	recorded, err := s.creds.RecordAccess(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("credential_id", cred.ID.String()).Int("access_count", recorded.AccessCount).Msg("portal sign-in")
	return recorded, nil
}

// Login authenticates a patient and returns their invoice history.
func (s *Service) Login(ctx context.Context, accessKey, password string) (*View, error) {
	cred, err := s.signIn(ctx, accessKey, password)
	if err != nil {
		return nil, err
	}
	invoices, total, err := s.invoices.ListInvoicesByPatient(ctx, cred.PatientID, maxInvoices, 0)
	if err != nil {
		return nil, err
	}
	for _, inv := range invoices {
		inv.Access = nil
	}
	return &View{
		PatientID:     cred.PatientID,
		AccessCount:   cred.AccessCount,
		LastAccessAt:  cred.LastAccessAt,
		Invoices:      invoices,
		TotalInvoices: total,
	}, nil
}

// Invoice returns one of the signed-in patient's invoices with its items.
// Another patient's invoice is reported as missing.
func (s *Service) Invoice(ctx context.Context, accessKey, password, number string) (*billing.Invoice, error) {
	cred, err := s.signIn(ctx, accessKey, password)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetInvoiceByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if inv.PatientID != cred.PatientID {
		return nil, apperr.NotFound("invoice", number)
	}
	inv.Access = nil
	return inv, nil
}
