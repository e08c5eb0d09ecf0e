package investment

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

var (
	// ErrImmutable is returned for any transition out of REDEEMED or CANCELED.
	ErrImmutable = errors.New("investment: position is closed and immutable")

	// ErrInvalidTransition is returned when the current status does not allow
	// the requested transition.
	ErrInvalidTransition = errors.New("investment: invalid status transition")

	// ErrNegativeRealizedValue is returned when redeeming below zero.
	ErrNegativeRealizedValue = errors.New("investment: realized value must not be negative")
)

func checkOpen(p model.InvestmentPosition) error {
	if p.Status == model.StatusRedeemed || p.Status == model.StatusCanceled {
		return fmt.Errorf("%w: %s is %s", ErrImmutable, p.ID, p.Status)
	}
	return nil
}

// Commit turns a simulation into a real application against operating cash.
func Commit(p model.InvestmentPosition) (model.InvestmentPosition, error) {
	if err := checkOpen(p); err != nil {
		return p, err
	}
	if p.Status != model.StatusSimulated {
		return p, fmt.Errorf("%w: cannot commit %s position", ErrInvalidTransition, p.Status)
	}
	p.Status = model.StatusActive
	p.IsSimulation = false
	return p, nil
}

// Redeem closes an active position with the value actually received, which
// may differ from the projection.
func Redeem(p model.InvestmentPosition, realized decimal.Decimal, at time.Time) (model.InvestmentPosition, error) {
	if err := checkOpen(p); err != nil {
		return p, err
	}
	if p.Status != model.StatusActive {
		return p, fmt.Errorf("%w: cannot redeem %s position", ErrInvalidTransition, p.Status)
	}
	if realized.IsNegative() {
		return p, fmt.Errorf("%w: got %s", ErrNegativeRealizedValue, realized)
	}
	p.Status = model.StatusRedeemed
	p.RealizedValue = decimal.NewNullDecimal(realized)
	closed := at.UTC()
	p.ClosedAt = &closed
	return p, nil
}

// Cancel abandons an active or simulated position.
func Cancel(p model.InvestmentPosition, at time.Time) (model.InvestmentPosition, error) {
	if err := checkOpen(p); err != nil {
		return p, err
	}
	p.Status = model.StatusCanceled
	closed := at.UTC()
	p.ClosedAt = &closed
	return p, nil
}
