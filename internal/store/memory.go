package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	reserves     map[string]*model.MarginReserve
	movements    []model.ReserveMovement
	positions    map[string]*model.InvestmentPosition
	transactions []model.Transaction
	shareTables  map[string][]model.ShareTable // sorted by EffectiveFrom
	cash         map[string]model.CashAccount
	assets       map[string]model.Asset
	now          func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reserves:    make(map[string]*model.MarginReserve),
		positions:   make(map[string]*model.InvestmentPosition),
		shareTables: make(map[string][]model.ShareTable),
		cash:        make(map[string]model.CashAccount),
		assets:      make(map[string]model.Asset),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// --- Margin reserves ---

func (s *MemoryStore) CreateReserve(_ context.Context, r *model.MarginReserve) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reserves[r.AircraftID]; ok {
		return fmt.Errorf("%w: reserve for %s", ErrAlreadyExists, r.AircraftID)
	}
	// Store a copy to avoid external mutation.
	copy := *r
	s.reserves[r.AircraftID] = &copy
	return nil
}

func (s *MemoryStore) GetReserve(_ context.Context, aircraftID string) (*model.MarginReserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reserves[aircraftID]
	if !ok {
		return nil, fmt.Errorf("%w: reserve for %s", ErrNotFound, aircraftID)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) ListReserves(_ context.Context) ([]model.MarginReserve, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reserves := make([]model.MarginReserve, 0, len(s.reserves))
	for _, r := range s.reserves {
		reserves = append(reserves, *r)
	}
	sort.Slice(reserves, func(i, j int) bool { return reserves[i].AircraftID < reserves[j].AircraftID })
	return reserves, nil
}

func (s *MemoryStore) ApplyReserveMovement(_ context.Context, r *model.MarginReserve, m *model.ReserveMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.reserves[r.AircraftID]
	if !ok {
		return fmt.Errorf("%w: reserve for %s", ErrNotFound, r.AircraftID)
	}
	if current.Version != r.Version-1 {
		return fmt.Errorf("%w: %s at version %d, write expects %d",
			ErrVersionConflict, r.AircraftID, current.Version, r.Version-1)
	}
	copy := *r
	s.reserves[r.AircraftID] = &copy
	s.movements = append(s.movements, *m)
	return nil
}

func (s *MemoryStore) ListReserveMovements(_ context.Context, aircraftID string) ([]model.ReserveMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ReserveMovement
	for _, m := range s.movements {
		if m.AircraftID == aircraftID {
			result = append(result, m)
		}
	}
	return result, nil
}

// --- Investment positions ---

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("%w: position %s", ErrAlreadyExists, p.ID)
	}
	copy := *p
	s.positions[p.ID] = &copy
	s.adjustCash(p.AircraftID, cashDelta)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.InvestmentPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, id)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; !ok {
		return fmt.Errorf("%w: position %s", ErrNotFound, p.ID)
	}
	copy := *p
	s.positions[p.ID] = &copy
	s.adjustCash(p.AircraftID, cashDelta)
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, aircraftID string) ([]model.InvestmentPosition, error) {
	return s.filterPositions(func(p *model.InvestmentPosition) bool { return p.AircraftID == aircraftID }), nil
}

func (s *MemoryStore) ListPositionsByStatus(_ context.Context, status model.PositionStatus) ([]model.InvestmentPosition, error) {
	return s.filterPositions(func(p *model.InvestmentPosition) bool { return p.Status == status }), nil
}

func (s *MemoryStore) filterPositions(keep func(*model.InvestmentPosition) bool) []model.InvestmentPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.InvestmentPosition
	for _, p := range s.positions {
		if keep(p) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// --- Rateio transactions ---

func (s *MemoryStore) CreateTransaction(_ context.Context, tx *model.Transaction, cashDelta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.transactions {
		if existing.ID == tx.ID {
			return fmt.Errorf("%w: transaction %s", ErrAlreadyExists, tx.ID)
		}
	}
	copy := *tx
	copy.Allocations = append([]model.Allocation(nil), tx.Allocations...)
	copy.ManualSplit = append([]model.Allocation(nil), tx.ManualSplit...)
	s.transactions = append(s.transactions, copy)
	s.adjustCash(tx.AircraftID, cashDelta)
	return nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, aircraftID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, tx := range s.transactions {
		if tx.AircraftID == aircraftID {
			result = append(result, tx)
		}
	}
	return result, nil
}

// --- Ownership ---

func (s *MemoryStore) SetShares(_ context.Context, t *model.ShareTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := *t
	table.Shares = append([]model.Share(nil), t.Shares...)

	tables := s.shareTables[t.AircraftID]
	replaced := false
	for i := range tables {
		if tables[i].EffectiveFrom.Equal(table.EffectiveFrom) {
			tables[i] = table
			replaced = true
		}
	}
	if !replaced {
		tables = append(tables, table)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].EffectiveFrom.Before(tables[j].EffectiveFrom) })
	s.shareTables[t.AircraftID] = tables
	return nil
}

func (s *MemoryStore) GetActiveShares(_ context.Context, aircraftID string, asOf time.Time) ([]model.Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := s.shareTables[aircraftID]
	for i := len(tables) - 1; i >= 0; i-- {
		if !tables[i].EffectiveFrom.After(asOf) {
			return append([]model.Share(nil), tables[i].Shares...), nil
		}
	}
	return []model.Share{}, nil
}

// --- Operating cash and asset ---

func (s *MemoryStore) GetCash(_ context.Context, aircraftID string) (model.CashAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.cash[aircraftID]
	if !ok {
		return model.CashAccount{AircraftID: aircraftID}, nil
	}
	return acct, nil
}

// AdjustCash seeds or corrects a cash balance outside any other write.
func (s *MemoryStore) AdjustCash(_ context.Context, aircraftID string, delta decimal.Decimal) (model.CashAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.adjustCash(aircraftID, delta)
	acct := s.cash[aircraftID]
	acct.AircraftID = aircraftID
	return acct, nil
}

// adjustCash must be called with s.mu held.
func (s *MemoryStore) adjustCash(aircraftID string, delta decimal.Decimal) {
	if delta.IsZero() {
		return
	}
	acct := s.cash[aircraftID]
	acct.AircraftID = aircraftID
	acct.Balance = acct.Balance.Add(delta)
	acct.UpdatedAt = s.now()
	s.cash[aircraftID] = acct
}

func (s *MemoryStore) SetAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets[a.AircraftID] = *a
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, aircraftID string) (model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assets[aircraftID]
	if !ok {
		return model.Asset{AircraftID: aircraftID}, nil
	}
	return a, nil
}
