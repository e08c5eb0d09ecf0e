package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/api"
	"github.com/fleetshare/finance-engine/internal/dashboard"
	"github.com/fleetshare/finance-engine/internal/investment"
	"github.com/fleetshare/finance-engine/internal/model"
	"github.com/fleetshare/finance-engine/internal/rateio"
	"github.com/fleetshare/finance-engine/internal/reserve"
	"github.com/fleetshare/finance-engine/internal/store"
	"github.com/fleetshare/finance-engine/internal/yield"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv wires every service against an in-memory store.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	engine := yield.NewEngine(yield.ReferenceRates{CDI: d(10.65), SELIC: d(10.75)})
	reserves := reserve.NewService(ms, reserve.Defaults{}, nil)
	h := &api.Handler{
		Yield:       engine,
		Investments: investment.NewService(ms, engine),
		Rateio:      rateio.NewService(ms, ms),
		Reserves:    reserves,
		Ownership:   ms,
		Dashboard:   dashboard.NewLoader(ms, reserves),
	}

	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return ms, r
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	Total      string `json:"total"`
	Sum        string `json:"sum"`
	Difference string `json:"difference"`
}

// --- Yield ---

func TestCalculateYield_PreFixed(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/yield/calculate", investment.Request{
		Principal:    d(100000),
		StartDate:    "2025-01-01",
		EndDate:      "2026-01-01",
		Type:         "PRE_FIXED",
		Params:       model.RawParams{AnnualRate: decimal.NewNullDecimal(d(12))},
		DayCountBase: 252,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Result yield.Result `json:"result"`
	}
	decodeBody(t, w, &resp)
	if resp.Result.FinalValue.Sub(d(112000)).Abs().GreaterThan(d(1)) {
		t.Errorf("final value = %s, want ~112000", resp.Result.FinalValue)
	}
	if resp.Result.DaysElapsed != 365 {
		t.Errorf("days elapsed = %d, want 365", resp.Result.DaysElapsed)
	}
}

func TestCalculateYield_Invalid(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/yield/calculate", investment.Request{
		Principal: d(1000),
		StartDate: "2025-06-01",
		EndDate:   "2025-01-01",
		Type:      "CDB",
		Params:    model.RawParams{PercentOfIndex: decimal.NewNullDecimal(d(100))},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for reversed range, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, router, "POST", "/api/v1/yield/calculate", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", w.Code)
	}
}

func TestRates_UpdateFeedsCalculations(t *testing.T) {
	_, router := newTestEnv(t)
	req := investment.Request{
		Principal:    d(100000),
		StartDate:    "2025-01-01",
		EndDate:      "2026-01-01",
		Type:         "CDI",
		Params:       model.RawParams{PercentOfIndex: decimal.NewNullDecimal(d(100))},
		DayCountBase: 252,
	}
	finalValue := func() decimal.Decimal {
		t.Helper()
		w := do(t, router, "POST", "/api/v1/yield/calculate", req)
		if w.Code != http.StatusOK {
			t.Fatalf("calculate: %d %s", w.Code, w.Body.String())
		}
		var resp struct {
			Result yield.Result `json:"result"`
		}
		decodeBody(t, w, &resp)
		return resp.Result.FinalValue
	}

	var rates yield.ReferenceRates
	w := do(t, router, "GET", "/api/v1/rates", nil)
	decodeBody(t, w, &rates)
	if !rates.CDI.Equal(d(10.65)) {
		t.Fatalf("cdi = %s, want 10.65", rates.CDI)
	}
	before := finalValue()

	w = do(t, router, "PUT", "/api/v1/rates", yield.ReferenceRates{CDI: d(13.15), SELIC: d(13.25)})
	if w.Code != http.StatusOK {
		t.Fatalf("set rates: %d %s", w.Code, w.Body.String())
	}
	if after := finalValue(); !after.GreaterThan(before) {
		t.Errorf("final value %s after raising CDI, want above %s", after, before)
	}

	w = do(t, router, "PUT", "/api/v1/rates", yield.ReferenceRates{CDI: d(-1), SELIC: d(13.25)})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative rate: expected 422, got %d", w.Code)
	}
}

// --- Rateio ---

func TestValidateRateio_MismatchReportsDifference(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/rateio/validate", api.ValidateRequest{
		Total: d(1000),
		Allocations: []model.Allocation{
			{MemberID: "ana", Amount: d(500)},
			{MemberID: "bruno", Amount: d(400)},
		},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var resp errorResponse
	decodeBody(t, w, &resp)
	if resp.Difference != "-100" || resp.Sum != "900" || resp.Total != "1000" {
		t.Errorf("mismatch body = %+v", resp)
	}
}

func TestValidateRateio_SubCentDifferenceReportedExactly(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/rateio/validate", api.ValidateRequest{
		Total: d(1000),
		Allocations: []model.Allocation{
			{MemberID: "ana", Amount: d(500)},
			{MemberID: "bruno", Amount: d(499.985)},
		},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var resp errorResponse
	decodeBody(t, w, &resp)
	if resp.Difference != "-0.015" || resp.Sum != "999.985" {
		t.Errorf("mismatch body = %+v, want difference -0.015 and sum 999.985", resp)
	}
}

func TestSplitRateio_UsesStoredShares(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "PUT", "/api/v1/aircraft/PR-ABC/shares", api.SharesRequest{
		EffectiveFrom: "2025-01-01",
		Shares: []model.Share{
			{MemberID: "ana", Percent: d(33.33)},
			{MemberID: "bruno", Percent: d(33.33)},
			{MemberID: "carla", Percent: d(33.34)},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set shares: %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, "POST", "/api/v1/rateio/split", api.SplitRequest{
		Total:      d(1000),
		AircraftID: "PR-ABC",
		Date:       "2025-03-10",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.AllocationResponse
	decodeBody(t, w, &resp)
	if len(resp.Allocations) != 3 {
		t.Fatalf("allocations = %+v", resp.Allocations)
	}
	if !rateio.Sum(resp.Allocations).Equal(d(1000)) {
		t.Errorf("sum = %s, want 1000", rateio.Sum(resp.Allocations))
	}

	// Before the table took effect there is nothing to split by.
	w = do(t, router, "POST", "/api/v1/rateio/split", api.SplitRequest{
		Total:      d(1000),
		AircraftID: "PR-ABC",
		Date:       "2024-12-31",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", w.Code)
	}
}

func TestSetShares_RejectsIncompleteTable(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "PUT", "/api/v1/aircraft/PR-ABC/shares", api.SharesRequest{
		Shares: []model.Share{{MemberID: "ana", Percent: d(60)}, {MemberID: "bruno", Percent: d(30)}},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRecordTransaction_DebitsCash(t *testing.T) {
	ms, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/aircraft/PR-ABC/transactions", rateio.Request{
		Kind:        "EXPENSE",
		Description: "hangar",
		Total:       d(900),
		Date:        "2025-02-01",
		ManualSplit: []model.Allocation{
			{MemberID: "ana", Amount: d(600)},
			{MemberID: "bruno", Amount: d(300)},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	acct, err := ms.GetCash(context.Background(), "PR-ABC")
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Equal(d(-900)) {
		t.Errorf("cash = %s, want -900", acct.Balance)
	}

	w = do(t, router, "GET", "/api/v1/aircraft/PR-ABC/transactions", nil)
	var txs []model.Transaction
	decodeBody(t, w, &txs)
	if len(txs) != 1 || txs[0].Description != "hangar" {
		t.Errorf("transactions = %+v", txs)
	}
}

// --- Reserve ---

func TestReserve_EmergencyUseNeedsJustification(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/aircraft/PR-ABC/reserve/movements", reserve.MovementRequest{
		Type:   "CONTRIBUTION",
		Amount: d(230000),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("contribution: %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, "POST", "/api/v1/aircraft/PR-ABC/reserve/movements", reserve.MovementRequest{
		Type:   "EMERGENCY_USE",
		Amount: d(-50000),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without justification, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/aircraft/PR-ABC/reserve/movements", reserve.MovementRequest{
		Type:          "EMERGENCY_USE",
		Amount:        d(50000),
		Justification: "engine overhaul",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a positive emergency use, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/aircraft/PR-ABC/reserve/movements", reserve.MovementRequest{
		Type:          "EMERGENCY_USE",
		Amount:        d(-50000),
		Justification: "engine overhaul",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.MovementResponse
	decodeBody(t, w, &resp)
	if !resp.Reserve.CurrentBalance.Equal(d(180000)) {
		t.Errorf("balance = %s, want 180000", resp.Reserve.CurrentBalance)
	}
	if resp.Reserve.Status != model.ReserveLiquidityRisk {
		t.Errorf("status = %s, want LIQUIDITY_RISK", resp.Reserve.Status)
	}

	w = do(t, router, "GET", "/api/v1/aircraft/PR-ABC/reserve/movements", nil)
	var history []model.ReserveMovement
	decodeBody(t, w, &history)
	if len(history) != 2 {
		t.Errorf("history has %d movements, want 2", len(history))
	}
}

func TestGetReserve_CreatesWithDefaults(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "GET", "/api/v1/aircraft/PR-NEW/reserve", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap reserve.Snapshot
	decodeBody(t, w, &snap)
	if !snap.RequiredMinimum.Equal(reserve.DefaultRequiredMinimum) {
		t.Errorf("required minimum = %s", snap.RequiredMinimum)
	}
	if snap.Status != model.ReserveLiquidityRisk {
		t.Errorf("empty reserve status = %s, want LIQUIDITY_RISK", snap.Status)
	}
}

// --- Investments ---

func TestInvestmentLifecycle(t *testing.T) {
	_, router := newTestEnv(t)

	w := do(t, router, "POST", "/api/v1/aircraft/PR-ABC/investments", investment.Request{
		Principal:    d(50000),
		StartDate:    "2025-01-01",
		EndDate:      "2025-07-01",
		Type:         "CDB",
		Params:       model.RawParams{PercentOfIndex: decimal.NewNullDecimal(d(110))},
		DayCountBase: 252,
		IsSimulation: true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("open: %d %s", w.Code, w.Body.String())
	}
	var p struct {
		ID     string               `json:"id"`
		Status model.PositionStatus `json:"status"`
	}
	decodeBody(t, w, &p)

	w = do(t, router, "POST", "/api/v1/investments/"+p.ID+"/redeem", api.RedeemRequest{RealizedValue: d(52000)})
	if w.Code != http.StatusConflict {
		t.Errorf("redeeming a simulation: expected 409, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/investments/"+p.ID+"/commit", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", w.Code, w.Body.String())
	}

	w = do(t, router, "POST", "/api/v1/investments/"+p.ID+"/redeem", api.RedeemRequest{RealizedValue: d(52000)})
	if w.Code != http.StatusOK {
		t.Fatalf("redeem: %d %s", w.Code, w.Body.String())
	}
	decodeBody(t, w, &p)
	if p.Status != model.StatusRedeemed {
		t.Errorf("status = %s, want REDEEMED", p.Status)
	}

	w = do(t, router, "POST", "/api/v1/investments/"+p.ID+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("cancel after redeem: expected 409, got %d", w.Code)
	}

	w = do(t, router, "POST", "/api/v1/investments/missing/commit", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown position: expected 404, got %d", w.Code)
	}
}

func TestOpenInvestment_EchoedParamsResubmit(t *testing.T) {
	_, router := newTestEnv(t)

	req := investment.Request{
		Principal:    d(50000),
		StartDate:    "2025-01-01",
		EndDate:      "2025-07-01",
		Type:         "CDB",
		Params:       model.RawParams{PercentOfIndex: decimal.NewNullDecimal(d(110))},
		DayCountBase: 252,
		IsSimulation: true,
	}
	w := do(t, router, "POST", "/api/v1/aircraft/PR-ABC/investments", req)
	if w.Code != http.StatusCreated {
		t.Fatalf("open: %d %s", w.Code, w.Body.String())
	}
	var echoed struct {
		Params model.RawParams `json:"rate_parameters"`
	}
	decodeBody(t, w, &echoed)
	if !echoed.Params.PercentOfIndex.Valid || !echoed.Params.PercentOfIndex.Decimal.Equal(d(110)) {
		t.Fatalf("echoed rate_parameters = %+v, want percent_of_index 110", echoed.Params)
	}

	// The echo is a valid request body as is.
	req.Params = echoed.Params
	w = do(t, router, "POST", "/api/v1/yield/calculate", req)
	if w.Code != http.StatusOK {
		t.Errorf("resubmitted echo: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Dashboard ---

func TestDashboard_TotalEquity(t *testing.T) {
	_, router := newTestEnv(t)

	do(t, router, "PUT", "/api/v1/aircraft/PR-ABC/asset", api.AssetRequest{BookValue: d(1500000)})
	do(t, router, "POST", "/api/v1/aircraft/PR-ABC/reserve/movements", reserve.MovementRequest{
		Type:   "CONTRIBUTION",
		Amount: d(250000),
	})
	do(t, router, "POST", "/api/v1/aircraft/PR-ABC/transactions", rateio.Request{
		Kind:        "REVENUE",
		Description: "charter",
		Total:       d(10000),
		Date:        "2025-02-01",
		ManualSplit: []model.Allocation{{MemberID: "ana", Amount: d(10000)}},
	})

	w := do(t, router, "GET", "/api/v1/aircraft/PR-ABC/dashboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var summary dashboard.Summary
	decodeBody(t, w, &summary)
	if !summary.TotalEquity.Equal(d(1760000)) {
		t.Errorf("total equity = %s, want 1760000", summary.TotalEquity)
	}
	if summary.Reserve.Status != model.ReserveNormal {
		t.Errorf("reserve status = %s, want NORMAL", summary.Reserve.Status)
	}
}
