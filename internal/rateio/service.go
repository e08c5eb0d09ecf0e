package rateio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/daycount"
	"github.com/fleetshare/finance-engine/internal/model"
)

// ErrUnknownKind is returned for a transaction kind other than EXPENSE or REVENUE.
var ErrUnknownKind = errors.New("rateio: unknown transaction kind")

// ShareProvider supplies the ownership table in force on a date.
type ShareProvider interface {
	GetActiveShares(ctx context.Context, aircraftID string, asOf time.Time) ([]model.Share, error)
}

// Store persists apportioned transactions together with the cash they move.
type Store interface {
	CreateTransaction(ctx context.Context, tx *model.Transaction, cashDelta decimal.Decimal) error
	ListTransactions(ctx context.Context, aircraftID string) ([]model.Transaction, error)
}

// Request is the payload for recording a transaction.
type Request struct {
	AircraftID  string             `json:"aircraft_id"`
	Kind        string             `json:"kind"`
	Description string             `json:"description"`
	Total       decimal.Decimal    `json:"total"`
	Date        string             `json:"date"` // YYYY-MM-DD
	Automatic   bool               `json:"automatic"`
	ManualSplit []model.Allocation `json:"manual_split,omitempty"`
}

// ParseKind normalises a transaction kind.
func ParseKind(s string) (model.TransactionKind, error) {
	switch k := model.TransactionKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case model.KindExpense, model.KindRevenue:
		return k, nil
	case "":
		return model.KindExpense, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Service records transactions with their allocations. An expense debits
// the aircraft's operating cash and a revenue credits it.
type Service struct {
	store  Store
	shares ShareProvider
	now    func() time.Time
}

// NewService creates a rateio service.
func NewService(st Store, shares ShareProvider) *Service {
	return &Service{
		store:  st,
		shares: shares,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Resolve computes the allocations of a request without persisting anything.
func (s *Service) Resolve(ctx context.Context, req Request) (model.Transaction, error) {
	kind, err := ParseKind(req.Kind)
	if err != nil {
		return model.Transaction{}, err
	}
	date := daycount.Date(s.now())
	if req.Date != "" {
		if date, err = time.Parse("2006-01-02", req.Date); err != nil {
			return model.Transaction{}, fmt.Errorf("%w: date: %v", daycount.ErrInvalidRange, err)
		}
	}

	tx := model.Transaction{
		AircraftID:  req.AircraftID,
		Kind:        kind,
		Description: req.Description,
		Total:       req.Total,
		Date:        date,
		Automatic:   req.Automatic,
	}

	if req.Automatic {
		shares, err := s.shares.GetActiveShares(ctx, req.AircraftID, date)
		if err != nil {
			return model.Transaction{}, fmt.Errorf("load shares: %w", err)
		}
		if tx.Allocations, err = SplitAutomatic(req.Total, shares); err != nil {
			return model.Transaction{}, err
		}
		return tx, nil
	}

	if tx.Allocations, err = ValidateManual(req.Total, req.ManualSplit); err != nil {
		return model.Transaction{}, err
	}
	tx.ManualSplit = req.ManualSplit
	return tx, nil
}

// Record resolves a transaction and persists it with its operating cash
// movement in one store write.
func (s *Service) Record(ctx context.Context, req Request) (*model.Transaction, error) {
	tx, err := s.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	tx.ID = uuid.New().String()
	tx.CreatedAt = s.now()

	delta := tx.Total
	if tx.Kind == model.KindExpense {
		delta = delta.Neg()
	}
	if err := s.store.CreateTransaction(ctx, &tx, delta); err != nil {
		return nil, fmt.Errorf("store transaction: %w", err)
	}

	slog.Info("transaction recorded",
		"id", tx.ID,
		"aircraft", tx.AircraftID,
		"kind", tx.Kind,
		"total", tx.Total.String(),
		"automatic", tx.Automatic,
		"members", len(tx.Allocations),
	)
	return &tx, nil
}

// List returns the transactions of an aircraft.
func (s *Service) List(ctx context.Context, aircraftID string) ([]model.Transaction, error) {
	return s.store.ListTransactions(ctx, aircraftID)
}

// MemberTotal is the accumulated expense and revenue of one member.
type MemberTotal struct {
	MemberID string          `json:"member_id"`
	Expenses decimal.Decimal `json:"expenses"`
	Revenues decimal.Decimal `json:"revenues"`
	Net      decimal.Decimal `json:"net"` // revenues - expenses
}

// MemberTotals sums allocations per member, in first-seen order.
func MemberTotals(txs []model.Transaction) []MemberTotal {
	index := make(map[string]int)
	var totals []MemberTotal
	for _, tx := range txs {
		for _, a := range tx.Allocations {
			i, ok := index[a.MemberID]
			if !ok {
				i = len(totals)
				index[a.MemberID] = i
				totals = append(totals, MemberTotal{MemberID: a.MemberID})
			}
			switch tx.Kind {
			case model.KindRevenue:
				totals[i].Revenues = totals[i].Revenues.Add(a.Amount)
			default:
				totals[i].Expenses = totals[i].Expenses.Add(a.Amount)
			}
		}
	}
	for i := range totals {
		totals[i].Net = totals[i].Revenues.Sub(totals[i].Expenses)
	}
	return totals
}
