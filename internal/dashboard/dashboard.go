// Package dashboard aggregates one aircraft's financial position: operating
// cash, invested funds, margin reserve and asset value, plus what each
// member has paid and received.
package dashboard

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
	"github.com/fleetshare/finance-engine/internal/rateio"
	"github.com/fleetshare/finance-engine/internal/reserve"
)

// Inputs is everything a summary is computed from.
type Inputs struct {
	AircraftID   string
	Cash         model.CashAccount
	Positions    []model.InvestmentPosition
	Reserve      model.MarginReserve
	Asset        model.Asset
	Transactions []model.Transaction
}

// Investments summarises investment positions by status.
type Investments struct {
	ActiveCount       int                        `json:"active_count"`
	SimulatedCount    int                        `json:"simulated_count"`
	InvestedPrincipal decimal.Decimal            `json:"invested_principal"`
	EstimatedValue    decimal.Decimal            `json:"estimated_value"`
	EstimatedInterest decimal.Decimal            `json:"estimated_interest"`
	RealizedValue     decimal.Decimal            `json:"realized_value"`
	RealizedPrincipal decimal.Decimal            `json:"realized_principal"`
	NextMaturity      *time.Time                 `json:"next_maturity,omitempty"`
	ByType            map[string]decimal.Decimal `json:"by_type"` // principal of active positions
}

// Summary is the dashboard of one aircraft.
type Summary struct {
	AircraftID    string               `json:"aircraft_id"`
	OperatingCash decimal.Decimal      `json:"operating_cash"`
	Investments   Investments          `json:"investments"`
	Reserve       reserve.Snapshot     `json:"reserve"`
	AssetValue    decimal.Decimal      `json:"asset_value"`
	TotalEquity   decimal.Decimal      `json:"total_equity"`
	Liquidity     decimal.Decimal      `json:"liquidity"` // operating cash + reserve
	Expenses      decimal.Decimal      `json:"expenses"`
	Revenues      decimal.Decimal      `json:"revenues"`
	Members       []rateio.MemberTotal `json:"members"`
}

// Summarize computes a Summary. Total equity is operating cash plus the
// estimated value of active investments plus the reserve balance plus the
// asset's book value. Simulations never count.
func Summarize(in Inputs) Summary {
	inv := Investments{ByType: make(map[string]decimal.Decimal)}
	for _, p := range in.Positions {
		switch p.Status {
		case model.StatusActive:
			inv.ActiveCount++
			inv.InvestedPrincipal = inv.InvestedPrincipal.Add(p.Principal)
			inv.EstimatedValue = inv.EstimatedValue.Add(p.EstimatedFinalValue)
			inv.ByType[string(p.Type)] = inv.ByType[string(p.Type)].Add(p.Principal)
			if inv.NextMaturity == nil || p.EndDate.Before(*inv.NextMaturity) {
				end := p.EndDate
				inv.NextMaturity = &end
			}
		case model.StatusSimulated:
			inv.SimulatedCount++
		case model.StatusRedeemed:
			inv.RealizedPrincipal = inv.RealizedPrincipal.Add(p.Principal)
			if p.RealizedValue.Valid {
				inv.RealizedValue = inv.RealizedValue.Add(p.RealizedValue.Decimal)
			}
		}
	}
	inv.EstimatedInterest = inv.EstimatedValue.Sub(inv.InvestedPrincipal)

	var expenses, revenues decimal.Decimal
	for _, tx := range in.Transactions {
		if tx.Kind == model.KindRevenue {
			revenues = revenues.Add(tx.Total)
		} else {
			expenses = expenses.Add(tx.Total)
		}
	}

	members := rateio.MemberTotals(in.Transactions)
	if members == nil {
		members = []rateio.MemberTotal{}
	}

	res := reserve.NewSnapshot(in.Reserve)
	return Summary{
		AircraftID:    in.AircraftID,
		OperatingCash: in.Cash.Balance,
		Investments:   inv,
		Reserve:       res,
		AssetValue:    in.Asset.BookValue,
		TotalEquity: in.Cash.Balance.
			Add(inv.EstimatedValue).
			Add(res.CurrentBalance).
			Add(in.Asset.BookValue),
		Liquidity: in.Cash.Balance.Add(res.CurrentBalance),
		Expenses:  expenses,
		Revenues:  revenues,
		Members:   members,
	}
}
