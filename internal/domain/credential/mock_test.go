package credential

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medbill/billing/internal/platform/apperr"
)

// mockRepo enforces the same uniqueness rules as the access_credential table.
type mockRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*Credential
	keys  map[string]uuid.UUID
	calls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{byID: make(map[uuid.UUID]*Credential), keys: make(map[string]uuid.UUID)}
}

func (m *mockRepo) InsertIfAbsent(_ context.Context, c *Credential) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for _, existing := range m.byID {
		if existing.PatientID == c.PatientID {
			return false, nil
		}
	}
	if _, taken := m.keys[c.AccessKey]; taken {
		return false, ErrDuplicateAccessKey
	}
	now := time.Now()
	c.Active = true
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	m.byID[c.ID] = &cp
	m.keys[c.AccessKey] = c.ID
	return true, nil
}

func (m *mockRepo) find(match func(*Credential) bool, what string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if match(c) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("credential", what)
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Credential, error) {
	return m.find(func(c *Credential) bool { return c.ID == id }, id.String())
}

func (m *mockRepo) GetByPatient(_ context.Context, patientID uuid.UUID) (*Credential, error) {
	return m.find(func(c *Credential) bool { return c.PatientID == patientID }, patientID.String())
}

func (m *mockRepo) GetByPatientForUpdate(ctx context.Context, patientID uuid.UUID) (*Credential, error) {
	return m.GetByPatient(ctx, patientID)
}

func (m *mockRepo) GetByAccessKey(_ context.Context, key string) (*Credential, error) {
	return m.find(func(c *Credential) bool { return c.AccessKey == key }, "")
}

func (m *mockRepo) Reissue(_ context.Context, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.byID[c.ID]
	if !ok {
		return apperr.NotFound("credential", c.ID.String())
	}
	if owner, taken := m.keys[c.AccessKey]; taken && owner != c.ID {
		return ErrDuplicateAccessKey
	}
	delete(m.keys, stored.AccessKey)
	stored.AccessKey, stored.Password, stored.IssuedBy = c.AccessKey, c.Password, c.IssuedBy
	stored.Active = true
	m.keys[c.AccessKey] = c.ID
	c.Active = true
	return nil
}

func (m *mockRepo) RecordAccess(_ context.Context, id uuid.UUID, at time.Time) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("credential", id.String())
	}
	c.AccessCount++
	c.LastAccessAt = &at
	cp := *c
	return &cp, nil
}

func (m *mockRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return apperr.NotFound("credential", id.String())
	}
	c.Active = active
	return nil
}

// scriptedKeys hands out access keys from a list, then falls back to random.
type scriptedKeys struct {
	mu   sync.Mutex
	keys []string
}

func (s *scriptedKeys) AccessKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.keys) == 0 {
		return RandomKeys{}.AccessKey()
	}
	k := s.keys[0]
	s.keys = s.keys[1:]
	return k, nil
}

func (s *scriptedKeys) Password() (string, error) { return "Pa55word", nil }
