package credential

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/db"
)

type Config struct {
	// MaxRetries bounds access-key regeneration after collisions.
	MaxRetries int
	// MaxAttempts is the number of failed logins per access key tolerated
	// within the limiter's window.
	MaxAttempts int
}

type Service struct {
	repo    Repository
	tx      db.Transactor
	keys    KeyGenerator
	limiter AttemptLimiter
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, keys KeyGenerator, limiter AttemptLimiter, cfg Config, logger zerolog.Logger) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if keys == nil {
		keys = RandomKeys{}
	}
	return &Service{repo: repo, tx: tx, keys: keys, limiter: limiter, cfg: cfg, logger: logger, now: time.Now}
}

// GetOrCreate returns the patient's credential, issuing one if none exists.
// A deactivated credential is re-issued in place with a fresh key and
// password. Calls for the same patient always resolve to the same row.
func (s *Service) GetOrCreate(ctx context.Context, patientID uuid.UUID, issuedBy string) (*Credential, error) {
	if patientID == uuid.Nil {
		return nil, apperr.Validation("patient_id", "is required")
	}

	var out *Credential
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c := &Credential{ID: uuid.New(), PatientID: patientID, IssuedBy: issuedBy}
		var inserted bool
		err := s.withFreshKeys(ctx, c, func(ctx context.Context) error {
			var err error
			inserted, err = s.repo.InsertIfAbsent(ctx, c)
			return err
		})
		if err != nil {
			return err
		}
		if inserted {
			s.logger.Info().Str("credential_id", c.ID.String()).Str("patient_id", patientID.String()).Msg("credential issued")
			out = c
			return nil
		}

		existing, err := s.repo.GetByPatientForUpdate(ctx, patientID)
		if err != nil {
			return err
		}
		if existing.Active {
			out = existing
			return nil
		}

		existing.IssuedBy = issuedBy
		if err := s.withFreshKeys(ctx, existing, func(ctx context.Context) error {
			return s.repo.Reissue(ctx, existing)
		}); err != nil {
			return err
		}
		s.logger.Info().Str("credential_id", existing.ID.String()).Str("patient_id", patientID.String()).Msg("credential re-issued")
		out = existing
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// withFreshKeys assigns a new key and password to c and runs write inside a
// savepoint, regenerating on access-key collisions.
func (s *Service) withFreshKeys(ctx context.Context, c *Credential, write func(ctx context.Context) error) error {
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		key, err := s.keys.AccessKey()
		if err != nil {
			return err
		}
		pw, err := s.keys.Password()
		if err != nil {
			return err
		}
		c.AccessKey, c.Password = key, pw

		err = s.tx.InTx(ctx, write)
		if errors.Is(err, ErrDuplicateAccessKey) {
			s.logger.Debug().Int("attempt", attempt+1).Msg("access key collision, regenerating")
			continue
		}
		return err
	}
	return apperr.Conflict("could not generate a unique access key", ErrDuplicateAccessKey)
}

// Authenticate checks a portal login. The password comparison is exact and
// case-sensitive.
func (s *Service) Authenticate(ctx context.Context, accessKey, password string) (*Credential, error) {
	if accessKey == "" || password == "" {
		return nil, apperr.Validation("", "access_key and password are required")
	}

	failures, err := s.limiter.Failures(ctx, accessKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("attempt limiter unavailable")
	} else if s.cfg.MaxAttempts > 0 && failures >= s.cfg.MaxAttempts {
		return nil, apperr.Permission(apperr.CodeTooManyAttempts, "too many failed attempts, try again later")
	}

	c, err := s.repo.GetByAccessKey(ctx, accessKey)
	if err != nil && !apperr.IsNotFound(err) {
		return nil, err
	}
	if c == nil || subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) != 1 || !c.Active {
		if err := s.limiter.Fail(ctx, accessKey); err != nil {
			s.logger.Warn().Err(err).Msg("record failed attempt")
		}
		return nil, apperr.Authentication("invalid access key or password")
	}

	if err := s.limiter.Reset(ctx, accessKey); err != nil {
		s.logger.Warn().Err(err).Msg("reset attempt counter")
	}
	return c, nil
}

// RecordAccess bumps the usage counter and last-access time. It is audit
// data only and has no bearing on validity.
func (s *Service) RecordAccess(ctx context.Context, id uuid.UUID) (*Credential, error) {
	return s.repo.RecordAccess(ctx, id, s.now().UTC())
}

// Deactivate revokes a credential without deleting it.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info().Str("credential_id", id.String()).Msg("credential deactivated")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Credential, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Credential, error) {
	return s.repo.GetByPatient(ctx, patientID)
}

func classify(err error) error {
	if db.IsContention(err) {
		return apperr.Conflict("credential is being modified concurrently", err)
	}
	return err
}
