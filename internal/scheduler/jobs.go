package scheduler

import (
	"context"
	"log/slog"

	"github.com/fleetshare/finance-engine/internal/metrics"
	"github.com/fleetshare/finance-engine/internal/model"
	"github.com/fleetshare/finance-engine/internal/reserve"
)

// ProjectionRefresher recomputes projected values of active positions.
type ProjectionRefresher interface {
	RefreshProjections(ctx context.Context) (int, error)
}

// ProjectionRefreshJob keeps estimated final values in step with the
// reference rates currently held by the yield engine.
type ProjectionRefreshJob struct {
	Positions ProjectionRefresher
}

func (j ProjectionRefreshJob) Name() string { return "projection-refresh" }

func (j ProjectionRefreshJob) Run(ctx context.Context) error {
	changed, err := j.Positions.RefreshProjections(ctx)
	if err != nil {
		return err
	}
	slog.Info("projections refreshed", "job", j.Name(), "changed", changed)
	return nil
}

// ReserveLister lists every reserve with its derived status.
type ReserveLister interface {
	All(ctx context.Context) ([]reserve.Snapshot, error)
}

// RiskAlerter is told about every reserve in LIQUIDITY_RISK.
type RiskAlerter interface {
	ReserveAtRisk(s reserve.Snapshot)
}

// ReserveWatchJob exports reserve gauges and raises an alert for every
// reserve below its required minimum.
type ReserveWatchJob struct {
	Reserves ReserveLister
	Alerter  RiskAlerter // optional
}

func (j ReserveWatchJob) Name() string { return "reserve-watch" }

func (j ReserveWatchJob) Run(ctx context.Context) error {
	snaps, err := j.Reserves.All(ctx)
	if err != nil {
		return err
	}
	atRisk := 0
	for _, s := range snaps {
		metrics.SetReserveStatus(s.AircraftID, string(s.Status), s.CurrentBalance.InexactFloat64())
		if s.Status != model.ReserveLiquidityRisk {
			continue
		}
		atRisk++
		slog.Warn("reserve in liquidity risk",
			"job", j.Name(),
			"aircraft", s.AircraftID,
			"balance", s.CurrentBalance.String(),
			"required_minimum", s.RequiredMinimum.String(),
			"shortfall", s.Shortfall.String(),
		)
		if j.Alerter != nil {
			j.Alerter.ReserveAtRisk(s)
		}
	}
	slog.Info("reserves checked", "job", j.Name(), "reserves", len(snaps), "at_risk", atRisk)
	return nil
}
