package credential

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateAccessKey is returned when a generated access key is already taken.
var ErrDuplicateAccessKey = errors.New("access key already issued")

type Repository interface {
	// InsertIfAbsent stores c unless the patient already has a credential.
	// It reports whether c was inserted.
	InsertIfAbsent(ctx context.Context, c *Credential) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Credential, error)
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Credential, error)
	GetByPatientForUpdate(ctx context.Context, patientID uuid.UUID) (*Credential, error)
	GetByAccessKey(ctx context.Context, accessKey string) (*Credential, error)
	// Reissue replaces key and password in place and reactivates the credential.
	Reissue(ctx context.Context, c *Credential) error
	RecordAccess(ctx context.Context, id uuid.UUID, at time.Time) (*Credential, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}
