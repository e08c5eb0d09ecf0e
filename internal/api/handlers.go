// Package api exposes the finance engine over HTTP: yield calculation,
// rateio, margin reserves, investments, ownership and the dashboard.
//
// All monetary values use shopspring/decimal and travel as JSON strings.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/dashboard"
	"github.com/fleetshare/finance-engine/internal/daycount"
	"github.com/fleetshare/finance-engine/internal/investment"
	"github.com/fleetshare/finance-engine/internal/metrics"
	"github.com/fleetshare/finance-engine/internal/model"
	"github.com/fleetshare/finance-engine/internal/rateio"
	"github.com/fleetshare/finance-engine/internal/reserve"
	"github.com/fleetshare/finance-engine/internal/yield"
)

// Ownership stores ownership tables and the aircraft's book value.
type Ownership interface {
	SetShares(ctx context.Context, t *model.ShareTable) error
	GetActiveShares(ctx context.Context, aircraftID string, asOf time.Time) ([]model.Share, error)
	SetAsset(ctx context.Context, a *model.Asset) error
}

// Handler serves the HTTP API.
type Handler struct {
	Yield       *yield.Engine
	Investments *investment.Service
	Rateio      *rateio.Service
	Reserves    *reserve.Service
	Ownership   Ownership
	Dashboard   *dashboard.Loader
	Hub         *WSHub // optional
}

// Routes mounts the API under r.
func (h *Handler) Routes(r chi.Router) {
	if h.Hub != nil {
		// WebSocket endpoint for reserve movements and alerts.
		r.Get("/ws", h.Hub.HandleWS)
	}

	r.Post("/yield/calculate", h.CalculateYield)
	r.Get("/rates", h.GetRates)
	r.Put("/rates", h.SetRates)
	r.Post("/rateio/split", h.SplitRateio)
	r.Post("/rateio/validate", h.ValidateRateio)

	r.Route("/aircraft/{aircraftID}", func(r chi.Router) {
		r.Get("/reserve", h.GetReserve)
		r.Get("/reserve/movements", h.ListMovements)
		r.Post("/reserve/movements", h.ApplyMovement)

		r.Get("/investments", h.ListInvestments)
		r.Post("/investments", h.OpenInvestment)

		r.Get("/transactions", h.ListTransactions)
		r.Post("/transactions", h.RecordTransaction)

		r.Get("/shares", h.GetShares)
		r.Put("/shares", h.SetShares)
		r.Put("/asset", h.SetAsset)

		r.Get("/dashboard", h.GetDashboard)
	})

	r.Post("/investments/{positionID}/commit", h.CommitInvestment)
	r.Post("/investments/{positionID}/redeem", h.RedeemInvestment)
	r.Post("/investments/{positionID}/cancel", h.CancelInvestment)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// --- Yield ---

// YieldResponse echoes the validated position with its projection.
type YieldResponse struct {
	Position model.InvestmentPosition `json:"position"`
	Result   yield.Result             `json:"result"`
}

// CalculateYield handles POST /api/v1/yield/calculate. Nothing is stored.
func (h *Handler) CalculateYield(w http.ResponseWriter, r *http.Request) {
	var req investment.Request
	if !decode(w, r, &req) {
		return
	}
	p, err := req.Position()
	if err != nil {
		metrics.YieldCalculations.WithLabelValues(req.Type, "error").Inc()
		writeServiceError(w, r, err)
		return
	}
	res, err := h.Yield.Calculate(p)
	metrics.YieldCalculations.WithLabelValues(string(p.Type), metrics.Outcome(err)).Inc()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, YieldResponse{Position: p, Result: res})
}

// GetRates handles GET /api/v1/rates.
func (h *Handler) GetRates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Yield.Rates())
}

// SetRates handles PUT /api/v1/rates. Stored estimates follow on the next
// projection refresh.
func (h *Handler) SetRates(w http.ResponseWriter, r *http.Request) {
	var rates yield.ReferenceRates
	if !decode(w, r, &rates) {
		return
	}
	if err := h.Yield.SetRates(rates); err != nil {
		writeServiceError(w, r, err)
		return
	}
	slog.Info("reference rates updated", "cdi", rates.CDI.String(), "selic", rates.SELIC.String())
	writeJSON(w, http.StatusOK, rates)
}

// --- Rateio ---

// SplitRequest is the body of POST /rateio/split. Without shares, the
// ownership table of AircraftID in force on Date is used.
type SplitRequest struct {
	Total      decimal.Decimal `json:"total"`
	Shares     []model.Share   `json:"shares,omitempty"`
	AircraftID string          `json:"aircraft_id,omitempty"`
	Date       string          `json:"date,omitempty"`
}

// ValidateRequest is the body of POST /rateio/validate.
type ValidateRequest struct {
	Total       decimal.Decimal    `json:"total"`
	Allocations []model.Allocation `json:"allocations"`
}

// AllocationResponse carries accepted allocations.
type AllocationResponse struct {
	Total       decimal.Decimal    `json:"total"`
	Allocations []model.Allocation `json:"allocations"`
}

// SplitRateio handles POST /api/v1/rateio/split.
func (h *Handler) SplitRateio(w http.ResponseWriter, r *http.Request) {
	var req SplitRequest
	if !decode(w, r, &req) {
		return
	}
	shares := req.Shares
	if len(shares) == 0 && req.AircraftID != "" {
		asOf, err := parseDay(req.Date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if shares, err = h.Ownership.GetActiveShares(r.Context(), req.AircraftID, asOf); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	allocations, err := rateio.SplitAutomatic(req.Total, shares)
	metrics.RateioSplits.WithLabelValues("automatic", metrics.Outcome(err)).Inc()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AllocationResponse{Total: req.Total, Allocations: allocations})
}

// ValidateRateio handles POST /api/v1/rateio/validate.
func (h *Handler) ValidateRateio(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	allocations, err := rateio.ValidateManual(req.Total, req.Allocations)
	metrics.RateioSplits.WithLabelValues("manual", metrics.Outcome(err)).Inc()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AllocationResponse{Total: req.Total, Allocations: allocations})
}

// RecordTransaction handles POST /api/v1/aircraft/{aircraftID}/transactions.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req rateio.Request
	if !decode(w, r, &req) {
		return
	}
	req.AircraftID = chi.URLParam(r, "aircraftID")
	tx, err := h.Rateio.Record(r.Context(), req)
	mode := "manual"
	if req.Automatic {
		mode = "automatic"
	}
	metrics.RateioSplits.WithLabelValues(mode, metrics.Outcome(err)).Inc()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ListTransactions handles GET /api/v1/aircraft/{aircraftID}/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Rateio.List(r.Context(), chi.URLParam(r, "aircraftID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// --- Ownership ---

// SharesRequest is the body of PUT /aircraft/{id}/shares.
type SharesRequest struct {
	EffectiveFrom string        `json:"effective_from"` // YYYY-MM-DD, defaults to today
	Shares        []model.Share `json:"shares"`
}

// SetShares handles PUT /api/v1/aircraft/{aircraftID}/shares.
func (h *Handler) SetShares(w http.ResponseWriter, r *http.Request) {
	var req SharesRequest
	if !decode(w, r, &req) {
		return
	}
	from, err := parseDay(req.EffectiveFrom)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := rateio.ValidateShares(req.Shares); err != nil {
		writeServiceError(w, r, err)
		return
	}
	table := model.ShareTable{
		AircraftID:    chi.URLParam(r, "aircraftID"),
		EffectiveFrom: from,
		Shares:        req.Shares,
	}
	if err := h.Ownership.SetShares(r.Context(), &table); err != nil {
		writeServiceError(w, r, err)
		return
	}
	slog.Info("ownership updated",
		"aircraft", table.AircraftID,
		"effective_from", from.Format(time.DateOnly),
		"members", len(table.Shares),
	)
	writeJSON(w, http.StatusOK, table)
}

// GetShares handles GET /api/v1/aircraft/{aircraftID}/shares?as_of=YYYY-MM-DD.
func (h *Handler) GetShares(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDay(r.URL.Query().Get("as_of"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	aircraftID := chi.URLParam(r, "aircraftID")
	shares, err := h.Ownership.GetActiveShares(r.Context(), aircraftID, asOf)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ShareTable{AircraftID: aircraftID, EffectiveFrom: asOf, Shares: shares})
}

// AssetRequest is the body of PUT /aircraft/{id}/asset.
type AssetRequest struct {
	BookValue decimal.Decimal `json:"book_value"`
}

// SetAsset handles PUT /api/v1/aircraft/{aircraftID}/asset.
func (h *Handler) SetAsset(w http.ResponseWriter, r *http.Request) {
	var req AssetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.BookValue.IsNegative() {
		writeError(w, "book value must not be negative", http.StatusUnprocessableEntity)
		return
	}
	a := model.Asset{
		AircraftID: chi.URLParam(r, "aircraftID"),
		BookValue:  req.BookValue,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := h.Ownership.SetAsset(r.Context(), &a); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Reserve ---

// MovementResponse is returned after a movement is applied.
type MovementResponse struct {
	Reserve  reserve.Snapshot      `json:"reserve"`
	Movement model.ReserveMovement `json:"movement"`
}

// GetReserve handles GET /api/v1/aircraft/{aircraftID}/reserve.
func (h *Handler) GetReserve(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Reserves.Get(r.Context(), chi.URLParam(r, "aircraftID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ApplyMovement handles POST /api/v1/aircraft/{aircraftID}/reserve/movements.
func (h *Handler) ApplyMovement(w http.ResponseWriter, r *http.Request) {
	var req reserve.MovementRequest
	if !decode(w, r, &req) {
		return
	}
	snap, m, err := h.Reserves.Apply(r.Context(), chi.URLParam(r, "aircraftID"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MovementResponse{Reserve: snap, Movement: m})
}

// ListMovements handles GET /api/v1/aircraft/{aircraftID}/reserve/movements.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.Reserves.History(r.Context(), chi.URLParam(r, "aircraftID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if movements == nil {
		movements = []model.ReserveMovement{}
	}
	writeJSON(w, http.StatusOK, movements)
}

// --- Investments ---

// RedeemRequest is the body of POST /investments/{id}/redeem.
type RedeemRequest struct {
	RealizedValue decimal.Decimal `json:"realized_value"`
}

// OpenInvestment handles POST /api/v1/aircraft/{aircraftID}/investments.
func (h *Handler) OpenInvestment(w http.ResponseWriter, r *http.Request) {
	var req investment.Request
	if !decode(w, r, &req) {
		return
	}
	req.AircraftID = chi.URLParam(r, "aircraftID")
	p, err := h.Investments.Open(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListInvestments handles GET /api/v1/aircraft/{aircraftID}/investments.
func (h *Handler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	positions, err := h.Investments.List(r.Context(), chi.URLParam(r, "aircraftID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if positions == nil {
		positions = []model.InvestmentPosition{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// CommitInvestment handles POST /api/v1/investments/{positionID}/commit.
func (h *Handler) CommitInvestment(w http.ResponseWriter, r *http.Request) {
	h.respondPosition(w, r)(h.Investments.Commit(r.Context(), chi.URLParam(r, "positionID")))
}

// RedeemInvestment handles POST /api/v1/investments/{positionID}/redeem.
func (h *Handler) RedeemInvestment(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	h.respondPosition(w, r)(h.Investments.Redeem(r.Context(), chi.URLParam(r, "positionID"), req.RealizedValue))
}

// CancelInvestment handles POST /api/v1/investments/{positionID}/cancel.
func (h *Handler) CancelInvestment(w http.ResponseWriter, r *http.Request) {
	h.respondPosition(w, r)(h.Investments.Cancel(r.Context(), chi.URLParam(r, "positionID")))
}

func (h *Handler) respondPosition(w http.ResponseWriter, r *http.Request) func(*model.InvestmentPosition, error) {
	return func(p *model.InvestmentPosition, err error) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// --- Dashboard ---

// GetDashboard handles GET /api/v1/aircraft/{aircraftID}/dashboard.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Dashboard.Summary(r.Context(), chi.URLParam(r, "aircraftID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// parseDay parses YYYY-MM-DD; empty means today (UTC).
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return daycount.Date(time.Now()), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", daycount.ErrInvalidRange, s)
	}
	return t, nil
}
