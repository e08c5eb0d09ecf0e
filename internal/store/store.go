// Package store defines the persistence interface for the finance engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrVersionConflict is returned when a reserve was modified since it was
	// read. The caller reloads and retries.
	ErrVersionConflict = errors.New("store: reserve version conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Margin reserves ---

	// CreateReserve persists a new reserve at version 0.
	CreateReserve(ctx context.Context, r *model.MarginReserve) error

	// GetReserve retrieves the reserve of an aircraft.
	GetReserve(ctx context.Context, aircraftID string) (*model.MarginReserve, error)

	// ListReserves returns every reserve.
	ListReserves(ctx context.Context) ([]model.MarginReserve, error)

	// ApplyReserveMovement stores r and appends m in one unit. It fails with
	// ErrVersionConflict unless the stored version is r.Version-1.
	ApplyReserveMovement(ctx context.Context, r *model.MarginReserve, m *model.ReserveMovement) error

	// ListReserveMovements returns the ledger of a reserve in sequence order.
	ListReserveMovements(ctx context.Context, aircraftID string) ([]model.ReserveMovement, error)

	// --- Investment positions ---

	// CreatePosition and UpdatePosition add cashDelta to the aircraft's
	// operating cash in the same unit as the position write; a zero delta
	// leaves cash untouched. On error neither is persisted.
	CreatePosition(ctx context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error
	GetPosition(ctx context.Context, id string) (*model.InvestmentPosition, error)
	UpdatePosition(ctx context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error
	ListPositions(ctx context.Context, aircraftID string) ([]model.InvestmentPosition, error)
	ListPositionsByStatus(ctx context.Context, status model.PositionStatus) ([]model.InvestmentPosition, error)

	// --- Rateio transactions (append-only) ---

	// CreateTransaction appends tx and adds cashDelta to operating cash in
	// one unit.
	CreateTransaction(ctx context.Context, tx *model.Transaction, cashDelta decimal.Decimal) error
	ListTransactions(ctx context.Context, aircraftID string) ([]model.Transaction, error)

	// --- Ownership ---

	// SetShares stores an ownership table effective from t.EffectiveFrom.
	SetShares(ctx context.Context, t *model.ShareTable) error

	// GetActiveShares returns the latest table effective on or before asOf,
	// or an empty slice when none is.
	GetActiveShares(ctx context.Context, aircraftID string, asOf time.Time) ([]model.Share, error)

	// --- Operating cash and asset ---

	// GetCash returns the operating cash account; a missing one has zero balance.
	GetCash(ctx context.Context, aircraftID string) (model.CashAccount, error)

	// SetAsset stores the book value of the aircraft.
	SetAsset(ctx context.Context, a *model.Asset) error

	// GetAsset returns the asset; a missing one has zero book value.
	GetAsset(ctx context.Context, aircraftID string) (model.Asset, error)
}
