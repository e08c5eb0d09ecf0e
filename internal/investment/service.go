package investment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/metrics"
	"github.com/fleetshare/finance-engine/internal/model"
)

// Store is the persistence the investment service needs.
// Position writes carry the operating cash they move and must persist both
// or neither.
type Store interface {
	CreatePosition(ctx context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error
	GetPosition(ctx context.Context, id string) (*model.InvestmentPosition, error)
	UpdatePosition(ctx context.Context, p *model.InvestmentPosition, cashDelta decimal.Decimal) error
	ListPositions(ctx context.Context, aircraftID string) ([]model.InvestmentPosition, error)
	ListPositionsByStatus(ctx context.Context, status model.PositionStatus) ([]model.InvestmentPosition, error)
}

// Projector computes the projected final value of a position.
type Projector interface {
	Project(p model.InvestmentPosition) (decimal.Decimal, error)
}

// Service runs position lifecycle transitions and keeps operating cash in
// step with them. A simulation never touches cash. Transitions are
// serialized (single-instance).
type Service struct {
	store     Store
	projector Projector
	mu        sync.Mutex
	now       func() time.Time
}

// NewService creates a new investment service.
func NewService(st Store, projector Projector) *Service {
	return &Service{
		store:     st,
		projector: projector,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Open validates a request, projects its final value and stores it. A
// non-simulation request is committed immediately.
func (s *Service) Open(ctx context.Context, req Request) (*model.InvestmentPosition, error) {
	p, err := req.Position()
	if err != nil {
		return nil, err
	}
	estimate, err := s.projector.Project(p)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.New().String()
	p.EstimatedFinalValue = estimate
	p.CreatedAt = s.now()

	if !req.IsSimulation {
		if p, err = Commit(p); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	debit := decimal.Zero
	if p.Status == model.StatusActive {
		debit = p.Principal.Neg()
	}
	if err := s.store.CreatePosition(ctx, &p, debit); err != nil {
		return nil, fmt.Errorf("store position: %w", err)
	}

	slog.Info("investment opened",
		"id", p.ID,
		"aircraft", p.AircraftID,
		"type", p.Type,
		"status", p.Status,
		"principal", p.Principal.String(),
		"estimate", p.EstimatedFinalValue.String(),
	)
	return &p, nil
}

// Commit turns a stored simulation into an active application.
func (s *Service) Commit(ctx context.Context, id string) (*model.InvestmentPosition, error) {
	return s.transition(ctx, id, func(p model.InvestmentPosition) (model.InvestmentPosition, decimal.Decimal, error) {
		next, err := Commit(p)
		return next, p.Principal.Neg(), err
	})
}

// Redeem closes an active position and credits the realized value to cash.
func (s *Service) Redeem(ctx context.Context, id string, realized decimal.Decimal) (*model.InvestmentPosition, error) {
	return s.transition(ctx, id, func(p model.InvestmentPosition) (model.InvestmentPosition, decimal.Decimal, error) {
		next, err := Redeem(p, realized, s.now())
		return next, realized, err
	})
}

// Cancel abandons a position; an active one returns its principal to cash.
func (s *Service) Cancel(ctx context.Context, id string) (*model.InvestmentPosition, error) {
	return s.transition(ctx, id, func(p model.InvestmentPosition) (model.InvestmentPosition, decimal.Decimal, error) {
		refund := decimal.Zero
		if p.Status == model.StatusActive {
			refund = p.Principal
		}
		next, err := Cancel(p, s.now())
		return next, refund, err
	})
}

type transitionFunc func(model.InvestmentPosition) (model.InvestmentPosition, decimal.Decimal, error)

func (s *Service) transition(ctx context.Context, id string, fn transitionFunc) (*model.InvestmentPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	next, cashDelta, err := fn(*current)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdatePosition(ctx, &next, cashDelta); err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}

	slog.Info("investment transition",
		"id", next.ID,
		"aircraft", next.AircraftID,
		"from", current.Status,
		"to", next.Status,
		"cash_delta", cashDelta.String(),
	)
	return &next, nil
}

// List returns every position of an aircraft.
func (s *Service) List(ctx context.Context, aircraftID string) ([]model.InvestmentPosition, error) {
	return s.store.ListPositions(ctx, aircraftID)
}

// RefreshProjections recomputes the estimated final value of every active
// position and returns how many changed.
func (s *Service) RefreshProjections(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.store.ListPositionsByStatus(ctx, model.StatusActive)
	if err != nil {
		return 0, err
	}
	metrics.ActivePositions.Set(float64(len(active)))
	changed := 0
	for i := range active {
		p := active[i]
		estimate, err := s.projector.Project(p)
		if err != nil {
			slog.Warn("projection failed", "id", p.ID, "err", err)
			continue
		}
		if estimate.Equal(p.EstimatedFinalValue) {
			continue
		}
		p.EstimatedFinalValue = estimate
		if err := s.store.UpdatePosition(ctx, &p, decimal.Zero); err != nil {
			return changed, fmt.Errorf("update projection %s: %w", p.ID, err)
		}
		changed++
	}
	return changed, nil
}
