package dashboard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetshare/finance-engine/internal/dashboard"
	"github.com/fleetshare/finance-engine/internal/model"
	"github.com/fleetshare/finance-engine/internal/reserve"
	"github.com/fleetshare/finance-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestSummarize(t *testing.T) {
	june := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	in := dashboard.Inputs{
		AircraftID: "PR-ABC",
		Cash:       model.CashAccount{Balance: d(50000)},
		Positions: []model.InvestmentPosition{
			{Type: model.TypeCDI, Status: model.StatusActive, Principal: d(100000), EstimatedFinalValue: d(110000), EndDate: june},
			{Type: model.TypeLCI, Status: model.StatusActive, Principal: d(20000), EstimatedFinalValue: d(21000), EndDate: march},
			{Type: model.TypeCDB, Status: model.StatusSimulated, Principal: d(999999), EstimatedFinalValue: d(9999999)},
			{Type: model.TypeCDB, Status: model.StatusRedeemed, Principal: d(10000), RealizedValue: decimal.NewNullDecimal(d(10500))},
			{Type: model.TypeCDB, Status: model.StatusCanceled, Principal: d(7000)},
		},
		Reserve: reserve.NewReserve("PR-ABC", d(200000), d(110), d(215000), time.Time{}),
		Asset:   model.Asset{BookValue: d(1500000)},
		Transactions: []model.Transaction{
			{Kind: model.KindExpense, Total: d(1000), Allocations: []model.Allocation{{MemberID: "A", Amount: d(600)}, {MemberID: "B", Amount: d(400)}}},
			{Kind: model.KindRevenue, Total: d(300), Allocations: []model.Allocation{{MemberID: "B", Amount: d(300)}}},
		},
	}

	s := dashboard.Summarize(in)

	assert.Equal(t, 2, s.Investments.ActiveCount)
	assert.Equal(t, 1, s.Investments.SimulatedCount)
	assert.True(t, s.Investments.InvestedPrincipal.Equal(d(120000)))
	assert.True(t, s.Investments.EstimatedValue.Equal(d(131000)))
	assert.True(t, s.Investments.EstimatedInterest.Equal(d(11000)))
	assert.True(t, s.Investments.RealizedValue.Equal(d(10500)))
	require.NotNil(t, s.Investments.NextMaturity)
	assert.Equal(t, march, *s.Investments.NextMaturity)
	assert.True(t, s.Investments.ByType["CDI"].Equal(d(100000)))

	assert.Equal(t, model.ReserveAttention, s.Reserve.Status)
	// 50000 + 131000 + 215000 + 1500000
	assert.True(t, s.TotalEquity.Equal(d(1896000)), "equity %s", s.TotalEquity)
	assert.True(t, s.Liquidity.Equal(d(265000)))
	assert.True(t, s.Expenses.Equal(d(1000)))
	assert.True(t, s.Revenues.Equal(d(300)))

	require.Len(t, s.Members, 2)
	assert.True(t, s.Members[1].Net.Equal(d(-100)))
}

func TestSummarize_Empty(t *testing.T) {
	s := dashboard.Summarize(dashboard.Inputs{AircraftID: "PR-ABC"})
	assert.True(t, s.TotalEquity.IsZero())
	assert.NotNil(t, s.Members)
	assert.Nil(t, s.Investments.NextMaturity)
}

func TestLoader_Summary(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	reserves := reserve.NewService(ms, reserve.Defaults{}, nil)

	_, err := ms.AdjustCash(ctx, "PR-ABC", d(1000))
	require.NoError(t, err)
	require.NoError(t, ms.SetAsset(ctx, &model.Asset{AircraftID: "PR-ABC", BookValue: d(500000)}))
	_, _, err = reserves.Apply(ctx, "PR-ABC", reserve.MovementRequest{Type: "CONTRIBUTION", Amount: d(250000)})
	require.NoError(t, err)

	s, err := dashboard.NewLoader(ms, reserves).Summary(ctx, "PR-ABC")
	require.NoError(t, err)
	assert.True(t, s.TotalEquity.Equal(d(751000)), "equity %s", s.TotalEquity)
	assert.Equal(t, model.ReserveNormal, s.Reserve.Status)
}

type failingSource struct{ *store.MemoryStore }

func (failingSource) GetAsset(context.Context, string) (model.Asset, error) {
	return model.Asset{}, errors.New("asset registry unavailable")
}

func TestLoader_PropagatesFailure(t *testing.T) {
	ms := store.NewMemoryStore()
	reserves := reserve.NewService(ms, reserve.Defaults{}, nil)

	_, err := dashboard.NewLoader(failingSource{ms}, reserves).Load(context.Background(), "PR-ABC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load asset")
}
