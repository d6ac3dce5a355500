package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/db"
)

const accessKeyConstraint = "access_credential_access_key_key"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const credCols = `id, patient_id, access_key, password, is_active, access_count,
	last_access_at, issued_by, created_at, updated_at`

func scanCredential(row pgx.Row) (*Credential, error) {
	var c Credential
	err := row.Scan(&c.ID, &c.PatientID, &c.AccessKey, &c.Password, &c.Active, &c.AccessCount,
		&c.LastAccessAt, &c.IssuedBy, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) get(ctx context.Context, what, where string, arg interface{}) (*Credential, error) {
	c, err := scanCredential(r.conn(ctx).QueryRow(ctx, `SELECT `+credCols+` FROM access_credential WHERE `+where, arg))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("credential", what)
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

func duplicateKey(err error) bool {
	name, ok := db.UniqueViolation(err)
	return ok && name == accessKeyConstraint
}

func (r *repoPG) InsertIfAbsent(ctx context.Context, c *Credential) (bool, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO access_credential (id, patient_id, access_key, password, is_active, issued_by)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT (patient_id) DO NOTHING
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.AccessKey, c.Password, c.IssuedBy)
	err := row.Scan(&c.CreatedAt, &c.UpdatedAt)
	switch {
	case db.IsNoRows(err):
		return false, nil
	case duplicateKey(err):
		return false, ErrDuplicateAccessKey
	case err != nil:
		return false, fmt.Errorf("insert credential: %w", err)
	}
	c.Active = true
	return true, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Credential, error) {
	return r.get(ctx, id.String(), `id = $1`, id)
}

func (r *repoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Credential, error) {
	return r.get(ctx, "for patient "+patientID.String(), `patient_id = $1`, patientID)
}

func (r *repoPG) GetByPatientForUpdate(ctx context.Context, patientID uuid.UUID) (*Credential, error) {
	return r.get(ctx, "for patient "+patientID.String(), `patient_id = $1 FOR UPDATE`, patientID)
}

func (r *repoPG) GetByAccessKey(ctx context.Context, accessKey string) (*Credential, error) {
	return r.get(ctx, "", `access_key = $1`, accessKey)
}

func (r *repoPG) Reissue(ctx context.Context, c *Credential) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE access_credential
		SET access_key = $2, password = $3, is_active = TRUE, issued_by = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		c.ID, c.AccessKey, c.Password, c.IssuedBy).Scan(&c.UpdatedAt)
	switch {
	case db.IsNoRows(err):
		return apperr.NotFound("credential", c.ID.String())
	case duplicateKey(err):
		return ErrDuplicateAccessKey
	case err != nil:
		return fmt.Errorf("reissue credential: %w", err)
	}
	c.Active = true
	return nil
}

func (r *repoPG) RecordAccess(ctx context.Context, id uuid.UUID, at time.Time) (*Credential, error) {
	c, err := scanCredential(r.conn(ctx).QueryRow(ctx, `
		UPDATE access_credential
		SET access_count = access_count + 1, last_access_at = $2
		WHERE id = $1
		RETURNING `+credCols, id, at))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("credential", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("record access: %w", err)
	}
	return c, nil
}

func (r *repoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE access_credential SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("credential", id.String())
	}
	return nil
}
