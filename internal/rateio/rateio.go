// Package rateio splits expenses and revenues across aircraft members,
// either automatically by ownership share or by validating a manual split.
//
// Both operations are pure. Automatic splits always sum exactly to the total;
// manual splits are never corrected, only accepted or rejected.
package rateio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

var (
	// ErrSumMismatch is returned when a manual split differs from the total
	// by more than Tolerance. The concrete error is *SumMismatchError.
	ErrSumMismatch = errors.New("rateio: manual split does not sum to total")

	// ErrEmptyEntry is returned when a manual entry amount is <= 0.
	ErrEmptyEntry = errors.New("rateio: allocation amount must be positive")

	// ErrDuplicateMember is returned when a member appears more than once.
	ErrDuplicateMember = errors.New("rateio: member appears more than once")

	// ErrNoShares is returned when an automatic split has no usable shares.
	ErrNoShares = errors.New("rateio: no ownership shares to split by")

	// ErrNonPositiveTotal is returned when the transaction total is <= 0.
	ErrNonPositiveTotal = errors.New("rateio: total must be positive")

	// ErrMissingMember is returned for an allocation without a member id.
	ErrMissingMember = errors.New("rateio: allocation has no member id")

	// ErrShareTable is returned when an ownership table does not add up to 100%.
	ErrShareTable = errors.New("rateio: ownership shares must sum to 100")

	// Tolerance is the maximum accepted difference between a manual split
	// and its total.
	Tolerance = decimal.NewFromFloat(0.01)

	// CurrencyScale is the number of decimal places of an automatic share.
	CurrencyScale int32 = 2
)

var hundred = decimal.NewFromInt(100)

// SumMismatchError reports the exact amounts of a rejected manual split.
type SumMismatchError struct {
	Total      decimal.Decimal
	Sum        decimal.Decimal
	Difference decimal.Decimal // Sum - Total
}

func (e *SumMismatchError) Error() string {
	return fmt.Sprintf("%s: sum %s, total %s, difference %s",
		ErrSumMismatch, e.Sum, e.Total, e.Difference)
}

// Unwrap lets errors.Is match ErrSumMismatch.
func (e *SumMismatchError) Unwrap() error {
	return ErrSumMismatch
}

// SplitAutomatic divides total in proportion to shares. Every member but the
// first is rounded down to CurrencyScale and the first member absorbs the
// residual, so the result sums exactly to total and the first amount is never
// below its exact share.
//
// Shares must be positive. They are normalised by their own sum, so a table
// adding up to 99.99% still splits the whole total.
func SplitAutomatic(total decimal.Decimal, shares []model.Share) ([]model.Allocation, error) {
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrNonPositiveTotal, total)
	}

	shareSum := decimal.Zero
	seen := make(map[string]bool, len(shares))
	for _, s := range shares {
		id := strings.TrimSpace(s.MemberID)
		if id == "" {
			return nil, ErrMissingMember
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, id)
		}
		seen[id] = true
		if !s.Percent.IsPositive() {
			return nil, fmt.Errorf("%w: member %s has share %s", ErrNoShares, id, s.Percent)
		}
		shareSum = shareSum.Add(s.Percent)
	}
	if len(shares) == 0 {
		return nil, ErrNoShares
	}

	allocations := make([]model.Allocation, len(shares))
	allocated := decimal.Zero
	for i := 1; i < len(shares); i++ {
		amount := total.Mul(shares[i].Percent).Div(shareSum).RoundDown(CurrencyScale)
		allocations[i] = model.Allocation{MemberID: strings.TrimSpace(shares[i].MemberID), Amount: amount}
		allocated = allocated.Add(amount)
	}
	allocations[0] = model.Allocation{MemberID: strings.TrimSpace(shares[0].MemberID), Amount: total.Sub(allocated)}
	return allocations, nil
}

// ValidateManual accepts a manual split when every entry is positive, no
// member repeats and the amounts sum to total within Tolerance. The
// allocations are returned unchanged.
func ValidateManual(total decimal.Decimal, allocations []model.Allocation) ([]model.Allocation, error) {
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrNonPositiveTotal, total)
	}

	sum := decimal.Zero
	seen := make(map[string]bool, len(allocations))
	for _, a := range allocations {
		id := strings.TrimSpace(a.MemberID)
		if id == "" {
			return nil, ErrMissingMember
		}
		if !a.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: member %s has %s", ErrEmptyEntry, id, a.Amount)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, id)
		}
		seen[id] = true
		sum = sum.Add(a.Amount)
	}

	diff := sum.Sub(total)
	if diff.Abs().GreaterThan(Tolerance) {
		return nil, &SumMismatchError{Total: total, Sum: sum, Difference: diff}
	}
	return allocations, nil
}

// Sum adds up allocation amounts.
func Sum(allocations []model.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// ValidateShares checks an ownership table before it is stored: members are
// unique, every share is positive and the shares sum to 100 within Tolerance.
func ValidateShares(shares []model.Share) error {
	if len(shares) == 0 {
		return ErrNoShares
	}
	sum := decimal.Zero
	seen := make(map[string]bool, len(shares))
	for _, s := range shares {
		id := strings.TrimSpace(s.MemberID)
		if id == "" {
			return ErrMissingMember
		}
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, id)
		}
		seen[id] = true
		if !s.Percent.IsPositive() {
			return fmt.Errorf("%w: member %s has %s", ErrShareTable, id, s.Percent)
		}
		sum = sum.Add(s.Percent)
	}
	if sum.Sub(hundred).Abs().GreaterThan(Tolerance) {
		return fmt.Errorf("%w: got %s", ErrShareTable, sum)
	}
	return nil
}
