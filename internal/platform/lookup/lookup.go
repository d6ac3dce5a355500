// Package lookup holds the read-only views the ledger consumes from
// collaborators it does not own: the service catalog and the patient registry.
package lookup

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbill/billing/internal/platform/db"
)

// Catalog prices billable service types.
type Catalog interface {
	// GetPriceableItem returns the current unit price of a service type in
	// minor units. exists is false when the reference is unknown.
	GetPriceableItem(ctx context.Context, id uuid.UUID) (price int64, exists bool, err error)
}

// Patients reports whether a patient reference resolves.
type Patients interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// PGCatalog reads the service_type table.
type PGCatalog struct {
	pool *pgxpool.Pool
}

func NewPGCatalog(pool *pgxpool.Pool) *PGCatalog {
	return &PGCatalog{pool: pool}
}

func (c *PGCatalog) GetPriceableItem(ctx context.Context, id uuid.UUID) (int64, bool, error) {
	var price int64
	err := db.Conn(ctx, c.pool).QueryRow(ctx,
		`SELECT price FROM service_type WHERE id = $1`, id).Scan(&price)
	if db.IsNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup service type %s: %w", id, err)
	}
	return price, true, nil
}

// PGPatients reads the patient table.
type PGPatients struct {
	pool *pgxpool.Pool
}

func NewPGPatients(pool *pgxpool.Pool) *PGPatients {
	return &PGPatients{pool: pool}
}

func (p *PGPatients) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, p.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patient WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup patient %s: %w", id, err)
	}
	return exists, nil
}

// StaticCatalog is an in-memory price list.
type StaticCatalog struct {
	mu     sync.RWMutex
	prices map[uuid.UUID]int64
}

func NewStaticCatalog(prices map[uuid.UUID]int64) *StaticCatalog {
	c := &StaticCatalog{prices: make(map[uuid.UUID]int64, len(prices))}
	for id, p := range prices {
		c.prices[id] = p
	}
	return c
}

// SetPrice changes or adds an entry. Existing invoices keep their snapshot.
func (c *StaticCatalog) SetPrice(id uuid.UUID, price int64) {
	c.mu.Lock()
	c.prices[id] = price
	c.mu.Unlock()
}

func (c *StaticCatalog) GetPriceableItem(_ context.Context, id uuid.UUID) (int64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[id]
	return p, ok, nil
}

// StaticPatients is an in-memory patient registry.
type StaticPatients map[uuid.UUID]bool

func (s StaticPatients) PatientExists(_ context.Context, id uuid.UUID) (bool, error) {
	return s[id], nil
}
