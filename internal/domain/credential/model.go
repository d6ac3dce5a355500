package credential

import (
	"time"

	"github.com/google/uuid"
)

const (
	AccessKeyLength = 12
	PasswordLength  = 8

	accessKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	passwordAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Credential is a patient's permanent portal login. It stays valid for as
// long as Active is true; there is no expiry.
type Credential struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	AccessKey    string     `json:"access_key"`
	Password     string     `json:"password"`
	Active       bool       `json:"is_active"`
	AccessCount  int        `json:"access_count"`
	LastAccessAt *time.Time `json:"last_access_at,omitempty"`
	IssuedBy     string     `json:"issued_by"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
