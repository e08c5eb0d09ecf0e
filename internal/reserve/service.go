package reserve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/daycount"
	"github.com/fleetshare/finance-engine/internal/metrics"
	"github.com/fleetshare/finance-engine/internal/model"
	"github.com/fleetshare/finance-engine/internal/store"
)

// maxAttempts bounds retries after a version conflict from another instance.
const maxAttempts = 5

// Store is the persistence the reserve service needs.
type Store interface {
	CreateReserve(ctx context.Context, r *model.MarginReserve) error
	GetReserve(ctx context.Context, aircraftID string) (*model.MarginReserve, error)
	ListReserves(ctx context.Context) ([]model.MarginReserve, error)
	ApplyReserveMovement(ctx context.Context, r *model.MarginReserve, m *model.ReserveMovement) error
	ListReserveMovements(ctx context.Context, aircraftID string) ([]model.ReserveMovement, error)
}

// Notifier receives every applied movement with the resulting status.
type Notifier interface {
	ReserveChanged(r model.MarginReserve, m model.ReserveMovement, status model.ReserveStatus)
}

// Defaults configure reserves created on first use.
type Defaults struct {
	RequiredMinimum       decimal.Decimal
	AlertThresholdPercent decimal.Decimal
	SeedBalance           decimal.Decimal
}

// Snapshot is a reserve with its derived fields.
type Snapshot struct {
	model.MarginReserve
	Status      model.ReserveStatus `json:"status"`
	PercentFill decimal.Decimal     `json:"percent_fill"`
	AlertLevel  decimal.Decimal     `json:"alert_level"`
	Shortfall   decimal.Decimal     `json:"shortfall"`
}

// NewSnapshot derives the status fields of r. Status is always recomputed.
func NewSnapshot(r model.MarginReserve) Snapshot {
	return Snapshot{
		MarginReserve: r,
		Status:        DeriveStatus(r),
		PercentFill:   PercentFill(r),
		AlertLevel:    AlertLevel(r),
		Shortfall:     Shortfall(r),
	}
}

// MovementRequest is the payload for a reserve movement.
type MovementRequest struct {
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date,omitempty"` // YYYY-MM-DD, defaults to today
	Justification string          `json:"justification,omitempty"`
}

// Service applies movements to margin reserves. Movements on one aircraft
// are serialized by a per-aircraft lock; the store's version check catches
// writers in other processes.
type Service struct {
	store    Store
	notifier Notifier
	defaults Defaults

	mu    sync.Mutex
	// One mutex per aircraft that has requested a movement, never evicted. The
	// map grows with the fleet, not with traffic.
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewService creates a reserve service. notifier may be nil.
func NewService(st Store, defaults Defaults, notifier Notifier) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		defaults: defaults,
		locks:    make(map[string]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) lock(aircraftID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[aircraftID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[aircraftID] = l
	}
	return l
}

// Get returns the reserve of an aircraft, creating it with the configured
// defaults on first use.
func (s *Service) Get(ctx context.Context, aircraftID string) (Snapshot, error) {
	r, err := s.load(ctx, aircraftID)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(*r), nil
}

func (s *Service) load(ctx context.Context, aircraftID string) (*model.MarginReserve, error) {
	r, err := s.store.GetReserve(ctx, aircraftID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	fresh := NewReserve(aircraftID, s.defaults.RequiredMinimum, s.defaults.AlertThresholdPercent,
		s.defaults.SeedBalance, s.now())
	err = s.store.CreateReserve(ctx, &fresh)
	switch {
	case err == nil:
		slog.Info("reserve created",
			"aircraft", aircraftID,
			"required_minimum", fresh.RequiredMinimum.String(),
			"alert_threshold", fresh.AlertThresholdPercent.String(),
		)
		return &fresh, nil
	case errors.Is(err, store.ErrAlreadyExists):
		// Created concurrently elsewhere.
		return s.store.GetReserve(ctx, aircraftID)
	default:
		return nil, err
	}
}

// Apply validates and applies a movement, persisting the reserve and the
// ledger entry together.
func (s *Service) Apply(ctx context.Context, aircraftID string, req MovementRequest) (Snapshot, model.ReserveMovement, error) {
	start := time.Now()
	defer func() { metrics.ReserveMovementLatency.Observe(time.Since(start).Seconds()) }()

	typ, err := ParseMovementType(req.Type)
	if err != nil {
		return Snapshot{}, model.ReserveMovement{}, err
	}
	date := daycount.Date(s.now())
	if req.Date != "" {
		if date, err = time.Parse("2006-01-02", req.Date); err != nil {
			return Snapshot{}, model.ReserveMovement{}, fmt.Errorf("%w: date: %v", daycount.ErrInvalidRange, err)
		}
	}

	l := s.lock(aircraftID)
	l.Lock()
	defer l.Unlock()

	for attempt := 1; ; attempt++ {
		current, err := s.load(ctx, aircraftID)
		if err != nil {
			return Snapshot{}, model.ReserveMovement{}, err
		}

		next, entry, err := ApplyMovement(*current, model.ReserveMovement{
			ID:            uuid.New().String(),
			AircraftID:    aircraftID,
			Type:          typ,
			Amount:        req.Amount,
			Date:          date,
			Justification: req.Justification,
			CreatedAt:     s.now(),
		})
		if err != nil {
			if errors.Is(err, ErrMissingJustification) {
				metrics.JustificationRejections.Inc()
			}
			return Snapshot{}, model.ReserveMovement{}, err
		}

		err = s.store.ApplyReserveMovement(ctx, &next, &entry)
		if errors.Is(err, store.ErrVersionConflict) && attempt < maxAttempts {
			metrics.ReserveVersionConflicts.Inc()
			slog.Warn("reserve version conflict, retrying", "aircraft", aircraftID, "attempt", attempt)
			continue
		}
		if err != nil {
			return Snapshot{}, model.ReserveMovement{}, fmt.Errorf("persist movement: %w", err)
		}

		snap := NewSnapshot(next)
		s.observe(snap, entry)
		return snap, entry, nil
	}
}

func (s *Service) observe(snap Snapshot, m model.ReserveMovement) {
	metrics.ReserveMovements.WithLabelValues(string(m.Type)).Inc()
	metrics.SetReserveStatus(snap.AircraftID, string(snap.Status), snap.CurrentBalance.InexactFloat64())

	attrs := []any{
		"aircraft", snap.AircraftID,
		"type", m.Type,
		"amount", m.Amount.String(),
		"balance", snap.CurrentBalance.String(),
		"status", snap.Status,
		"sequence", m.Sequence,
	}
	if snap.Status == model.ReserveLiquidityRisk {
		slog.Warn("reserve below required minimum", append(attrs, "shortfall", snap.Shortfall.String())...)
	} else {
		slog.Info("reserve movement applied", attrs...)
	}

	if s.notifier != nil {
		s.notifier.ReserveChanged(snap.MarginReserve, m, snap.Status)
	}
}

// History returns the movements of a reserve in ledger order.
func (s *Service) History(ctx context.Context, aircraftID string) ([]model.ReserveMovement, error) {
	return s.store.ListReserveMovements(ctx, aircraftID)
}

// All returns a snapshot of every reserve.
func (s *Service) All(ctx context.Context) ([]Snapshot, error) {
	reserves, err := s.store.ListReserves(ctx)
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, len(reserves))
	for i, r := range reserves {
		snaps[i] = NewSnapshot(r)
	}
	return snaps, nil
}
