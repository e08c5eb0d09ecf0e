// Package reserve implements the margin reserve state machine: a segregated
// minimum balance per aircraft whose status is derived from its balance on
// every read.
//
// The reserve never blocks a movement for producing a deficit. It reports
// LIQUIDITY_RISK instead; only the justification of an emergency use is
// enforced.
package reserve

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

var (
	// ErrMissingJustification is returned for an EMERGENCY_USE movement
	// without a justification.
	ErrMissingJustification = errors.New("reserve: emergency use requires a justification")

	// ErrUnknownMovementType is returned for a movement type outside the ledger's vocabulary.
	ErrUnknownMovementType = errors.New("reserve: unknown movement type")

	// ErrAircraftMismatch is returned when a movement targets another aircraft's reserve.
	ErrAircraftMismatch = errors.New("reserve: movement belongs to another aircraft")

	// ErrEmergencyUseSign is returned for an EMERGENCY_USE movement whose
	// amount does not decrease the balance.
	ErrEmergencyUseSign = errors.New("reserve: emergency use amount must be negative")
)

var (
	// DefaultRequiredMinimum is the required minimum of a new reserve.
	DefaultRequiredMinimum = decimal.NewFromInt(200000)

	// DefaultAlertThresholdPercent is the comfort buffer, as a percentage of
	// the required minimum, below which a sufficient reserve needs attention.
	DefaultAlertThresholdPercent = decimal.NewFromInt(110)
)

var hundred = decimal.NewFromInt(100)

// NewReserve creates a reserve for an aircraft. Zero minimum or threshold
// values take the package defaults.
func NewReserve(aircraftID string, requiredMinimum, alertThreshold, balance decimal.Decimal, at time.Time) model.MarginReserve {
	if requiredMinimum.IsZero() {
		requiredMinimum = DefaultRequiredMinimum
	}
	if alertThreshold.IsZero() {
		alertThreshold = DefaultAlertThresholdPercent
	}
	return model.MarginReserve{
		AircraftID:            aircraftID,
		CurrentBalance:        balance,
		RequiredMinimum:       requiredMinimum,
		AlertThresholdPercent: alertThreshold,
		CreatedAt:             at,
		UpdatedAt:             at,
	}
}

// AlertLevel is the balance below which a sufficient reserve is in ATTENTION.
func AlertLevel(r model.MarginReserve) decimal.Decimal {
	return r.RequiredMinimum.Mul(r.AlertThresholdPercent).Div(hundred)
}

// DeriveStatus classifies a reserve:
//
//	LIQUIDITY_RISK  balance < requiredMinimum
//	ATTENTION       requiredMinimum <= balance < requiredMinimum * threshold/100
//	NORMAL          otherwise
func DeriveStatus(r model.MarginReserve) model.ReserveStatus {
	switch {
	case r.CurrentBalance.LessThan(r.RequiredMinimum):
		return model.ReserveLiquidityRisk
	case r.CurrentBalance.LessThan(AlertLevel(r)):
		return model.ReserveAttention
	default:
		return model.ReserveNormal
	}
}

// PercentFill is balance / requiredMinimum * 100, rounded to two places.
// A zero minimum reports 100.
func PercentFill(r model.MarginReserve) decimal.Decimal {
	if r.RequiredMinimum.IsZero() {
		return hundred
	}
	return r.CurrentBalance.Div(r.RequiredMinimum).Mul(hundred).Round(2)
}

// Shortfall is how much is missing to reach the required minimum, or zero.
func Shortfall(r model.MarginReserve) decimal.Decimal {
	gap := r.RequiredMinimum.Sub(r.CurrentBalance)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}

// ParseMovementType normalises a movement type.
func ParseMovementType(s string) (model.MovementType, error) {
	switch t := model.MovementType(strings.ToUpper(strings.TrimSpace(s))); t {
	case model.MovementContribution, model.MovementEmergencyUse, model.MovementAdjustment, model.MovementYield:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMovementType, s)
	}
}

// ApplyMovement returns the reserve after m and the completed ledger entry.
// The input reserve is not modified. m.Amount is signed and applied as
// given: the entry's BalanceAfter is r.CurrentBalance + m.Amount and its
// Sequence is the new reserve version.
func ApplyMovement(r model.MarginReserve, m model.ReserveMovement) (model.MarginReserve, model.ReserveMovement, error) {
	t, err := ParseMovementType(string(m.Type))
	if err != nil {
		return r, m, err
	}
	m.Type = t
	if m.AircraftID != "" && m.AircraftID != r.AircraftID {
		return r, m, fmt.Errorf("%w: %s vs %s", ErrAircraftMismatch, m.AircraftID, r.AircraftID)
	}
	if m.Type == model.MovementEmergencyUse && strings.TrimSpace(m.Justification) == "" {
		return r, m, ErrMissingJustification
	}
	if m.Type == model.MovementEmergencyUse && !m.Amount.IsNegative() {
		return r, m, fmt.Errorf("%w: got %s", ErrEmergencyUseSign, m.Amount)
	}

	next := r
	next.CurrentBalance = r.CurrentBalance.Add(m.Amount)
	next.Version = r.Version + 1
	if !m.CreatedAt.IsZero() {
		next.UpdatedAt = m.CreatedAt
	}

	m.AircraftID = r.AircraftID
	m.BalanceAfter = next.CurrentBalance
	m.Sequence = next.Version
	return next, m, nil
}
