package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
//
// Only snapshots that are read far more often than written are cached:
// reserves, positions, ownership tables and asset values. Cash and ledgers
// always come from the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateReserve(ctx context.Context, r *model.MarginReserve) error {
	if err := s.primary.CreateReserve(ctx, r); err != nil {
		return err
	}
	s.cache(ctx, reserveKey(r.AircraftID), r)
	return nil
}

// ApplyReserveMovement invalidates after the primary write, on success and on
// conflict alike, so the old snapshot cannot outlive the write in the cache.
func (s *CachedStore) ApplyReserveMovement(ctx context.Context, r *model.MarginReserve, m *model.ReserveMovement) error {
	err := s.primary.ApplyReserveMovement(ctx, r, m)
	s.rdb.Del(ctx, reserveKey(r.AircraftID))
	return err
}

func (s *CachedStore) CreatePosition(ctx context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error {
	return s.primary.CreatePosition(ctx, p, cashDelta)
}

func (s *CachedStore) UpdatePosition(ctx context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error {
	err := s.primary.UpdatePosition(ctx, p, cashDelta)
	// Next read re-populates.
	s.rdb.Del(ctx, positionKey(p.ID))
	return err
}

func (s *CachedStore) SetShares(ctx context.Context, t *model.ShareTable) error {
	if err := s.primary.SetShares(ctx, t); err != nil {
		return err
	}
	// A new table can change the answer for any as-of date.
	iter := s.rdb.Scan(ctx, 0, sharesKey(t.AircraftID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return iter.Err()
}

func (s *CachedStore) SetAsset(ctx context.Context, a *model.Asset) error {
	if err := s.primary.SetAsset(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, assetKey(a.AircraftID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetReserve(ctx context.Context, aircraftID string) (*model.MarginReserve, error) {
	var r model.MarginReserve
	if s.lookup(ctx, reserveKey(aircraftID), &r) {
		return &r, nil
	}

	// Cache miss: read from primary.
	got, err := s.primary.GetReserve(ctx, aircraftID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, reserveKey(aircraftID), got)
	return got, nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.InvestmentPosition, error) {
	var wire positionWire
	if s.lookup(ctx, positionKey(id), &wire) {
		p := wire.position()
		return &p, nil
	}

	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, positionKey(id), newPositionWire(*p))
	return p, nil
}

func (s *CachedStore) GetActiveShares(ctx context.Context, aircraftID string, asOf time.Time) ([]model.Share, error) {
	key := sharesKey(aircraftID, asOf.Format("2006-01-02"))
	var shares []model.Share
	if s.lookup(ctx, key, &shares) {
		return shares, nil
	}

	shares, err := s.primary.GetActiveShares(ctx, aircraftID, asOf)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, key, shares)
	return shares, nil
}

func (s *CachedStore) GetAsset(ctx context.Context, aircraftID string) (model.Asset, error) {
	var a model.Asset
	if s.lookup(ctx, assetKey(aircraftID), &a) {
		return a, nil
	}

	a, err := s.primary.GetAsset(ctx, aircraftID)
	if err != nil {
		return a, err
	}
	s.cache(ctx, assetKey(aircraftID), a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListReserves(ctx context.Context) ([]model.MarginReserve, error) {
	return s.primary.ListReserves(ctx)
}

func (s *CachedStore) ListReserveMovements(ctx context.Context, aircraftID string) ([]model.ReserveMovement, error) {
	return s.primary.ListReserveMovements(ctx, aircraftID)
}

func (s *CachedStore) ListPositions(ctx context.Context, aircraftID string) ([]model.InvestmentPosition, error) {
	return s.primary.ListPositions(ctx, aircraftID)
}

func (s *CachedStore) ListPositionsByStatus(ctx context.Context, status model.PositionStatus) ([]model.InvestmentPosition, error) {
	return s.primary.ListPositionsByStatus(ctx, status)
}

func (s *CachedStore) CreateTransaction(ctx context.Context, tx *model.Transaction, cashDelta decimal.Decimal) error {
	return s.primary.CreateTransaction(ctx, tx, cashDelta)
}

func (s *CachedStore) ListTransactions(ctx context.Context, aircraftID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, aircraftID)
}

func (s *CachedStore) GetCash(ctx context.Context, aircraftID string) (model.CashAccount, error) {
	return s.primary.GetCash(ctx, aircraftID)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) lookup(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// positionWire flattens the rate parameter variant so a cached position can
// be decoded back into the right variant.
type positionWire struct {
	model.InvestmentPosition
	Params model.RawParams `json:"rate_parameters"`
}

func newPositionWire(p model.InvestmentPosition) positionWire {
	return positionWire{InvestmentPosition: p, Params: model.Flatten(p.Params)}
}

func (w positionWire) position() model.InvestmentPosition {
	p := w.InvestmentPosition
	p.Params = w.Params.Params()
	return p
}

func reserveKey(aircraftID string) string     { return fmt.Sprintf("reserve:%s", aircraftID) }
func positionKey(id string) string            { return fmt.Sprintf("position:%s", id) }
func assetKey(aircraftID string) string       { return fmt.Sprintf("asset:%s", aircraftID) }
func sharesKey(aircraftID, day string) string { return fmt.Sprintf("shares:%s:%s", aircraftID, day) }
