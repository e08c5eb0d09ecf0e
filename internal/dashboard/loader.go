package dashboard

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fleetshare/finance-engine/internal/model"
	"github.com/fleetshare/finance-engine/internal/reserve"
)

// Source is the read side of every collaborator a summary needs.
type Source interface {
	GetCash(ctx context.Context, aircraftID string) (model.CashAccount, error)
	ListPositions(ctx context.Context, aircraftID string) ([]model.InvestmentPosition, error)
	GetAsset(ctx context.Context, aircraftID string) (model.Asset, error)
	ListTransactions(ctx context.Context, aircraftID string) ([]model.Transaction, error)
}

// ReserveReader loads (or creates) the reserve of an aircraft.
type ReserveReader interface {
	Get(ctx context.Context, aircraftID string) (reserve.Snapshot, error)
}

// Loader gathers Inputs from its collaborators concurrently.
type Loader struct {
	source   Source
	reserves ReserveReader
}

// NewLoader creates a loader.
func NewLoader(source Source, reserves ReserveReader) *Loader {
	return &Loader{source: source, reserves: reserves}
}

// Load fetches everything for one aircraft; the first failure cancels the rest.
func (l *Loader) Load(ctx context.Context, aircraftID string) (Inputs, error) {
	in := Inputs{AircraftID: aircraftID}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		in.Cash, err = l.source.GetCash(ctx, aircraftID)
		return wrap("cash", err)
	})
	g.Go(func() (err error) {
		in.Positions, err = l.source.ListPositions(ctx, aircraftID)
		return wrap("positions", err)
	})
	g.Go(func() error {
		snap, err := l.reserves.Get(ctx, aircraftID)
		in.Reserve = snap.MarginReserve
		return wrap("reserve", err)
	})
	g.Go(func() (err error) {
		in.Asset, err = l.source.GetAsset(ctx, aircraftID)
		return wrap("asset", err)
	})
	g.Go(func() (err error) {
		in.Transactions, err = l.source.ListTransactions(ctx, aircraftID)
		return wrap("transactions", err)
	})

	if err := g.Wait(); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

// Summary loads and summarises one aircraft.
func (l *Loader) Summary(ctx context.Context, aircraftID string) (Summary, error) {
	in, err := l.Load(ctx, aircraftID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(in), nil
}

func wrap(what string, err error) error {
	if err != nil {
		return fmt.Errorf("load %s: %w", what, err)
	}
	return nil
}
