// Package yield projects the value of Brazilian fixed-income cash
// applications: CDI/SELIC-indexed, pre- and post-fixed (CDB, LCI, LCA),
// inflation-plus and savings accounts.
//
// All monetary values use shopspring/decimal, never float64.
// Fractional powers are evaluated in float64 and the resulting factor is
// immediately converted back to decimal at FactorScale.
package yield

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/daycount"
	"github.com/fleetshare/finance-engine/internal/investment"
	"github.com/fleetshare/finance-engine/internal/model"
)

var (
	// ErrNonPositivePrincipal is returned when principal <= 0.
	ErrNonPositivePrincipal = investment.ErrNonPositivePrincipal

	// ErrMissingParameter is returned when a required rate parameter is
	// absent for the declared investment type.
	ErrMissingParameter = investment.ErrMissingParameter

	// ErrInvalidRange is returned when end date is not after start date.
	ErrInvalidRange = daycount.ErrInvalidRange

	// ErrOverflow is returned when the compound factor is not finite.
	ErrOverflow = errors.New("yield: compound factor overflow")

	// ErrNegativeRate is returned when a reference index rate is negative.
	ErrNegativeRate = errors.New("yield: negative reference rate")
)

var (
	// FactorScale is the number of decimal places kept for compound factors.
	FactorScale int32 = 12

	// ResultScale is the number of decimal places kept for money results.
	// Fractional cents are preserved.
	ResultScale int32 = 6

	// PercentScale is the number of decimal places kept for percentages.
	PercentScale int32 = 6

	// SavingsSelicThreshold is the SELIC level above which savings pay the
	// fixed monthly rate.
	SavingsSelicThreshold = decimal.NewFromFloat(8.5)

	// SavingsFixedMonthlyRate is the monthly savings rate (percent) when
	// SELIC is above SavingsSelicThreshold.
	SavingsFixedMonthlyRate = decimal.NewFromFloat(0.5)

	// SavingsSelicShare is the share of SELIC paid when SELIC is at or below
	// SavingsSelicThreshold.
	SavingsSelicShare = decimal.NewFromFloat(0.7)
)

var hundred = decimal.NewFromInt(100)

// ReferenceRates are the externally supplied annual index rates, in percent.
type ReferenceRates struct {
	CDI   decimal.Decimal `json:"cdi"`
	SELIC decimal.Decimal `json:"selic"`
}

// Result is the outcome of a yield calculation.
type Result struct {
	FinalValue                    decimal.Decimal `json:"final_value"`
	InterestEarned                decimal.Decimal `json:"interest_earned"`
	PeriodReturnPercent           decimal.Decimal `json:"period_return_percent"`
	AnnualEquivalentReturnPercent decimal.Decimal `json:"annual_equivalent_return_percent"`
	DaysElapsed                   int             `json:"days_elapsed"`
	BusinessDaysEstimated         int             `json:"business_days_estimated"`
	CompoundFactor                decimal.Decimal `json:"compound_factor"`
}

// Validate rejects negative index rates.
func (r ReferenceRates) Validate() error {
	if r.CDI.IsNegative() || r.SELIC.IsNegative() {
		return fmt.Errorf("%w: cdi %s, selic %s", ErrNegativeRate, r.CDI, r.SELIC)
	}
	return nil
}

// Engine computes yields. Its only state is the reference rates, which can
// be replaced while it serves; each calculation uses one consistent pair.
type Engine struct {
	mu    sync.RWMutex
	rates ReferenceRates
}

// NewEngine creates an engine using the given reference index rates.
func NewEngine(rates ReferenceRates) *Engine {
	return &Engine{rates: rates}
}

// Rates returns the reference index rates.
func (e *Engine) Rates() ReferenceRates {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rates
}

// SetRates replaces the reference index rates used by later calculations.
func (e *Engine) SetRates(rates ReferenceRates) error {
	if err := rates.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.rates = rates
	e.mu.Unlock()
	return nil
}

// Calculate projects a position from its start date to its end date.
func (e *Engine) Calculate(p model.InvestmentPosition) (Result, error) {
	if err := investment.Validate(p); err != nil {
		return Result{}, err
	}

	days, err := daycount.CalendarDays(p.StartDate, p.EndDate)
	if err != nil {
		return Result{}, err
	}
	units, err := daycount.ElapsedUnits(p.StartDate, p.EndDate, p.DayCountBase)
	if err != nil {
		return Result{}, err
	}

	factor, err := e.Rates().compoundFactor(p, days, units)
	if err != nil {
		return Result{}, err
	}

	finalValue := p.Principal.Mul(factor).Round(ResultScale)
	interest := finalValue.Sub(p.Principal)
	periodReturn := interest.Div(p.Principal).Mul(hundred).Round(PercentScale)

	annual, err := annualize(factor, units, p.DayCountBase)
	if err != nil {
		return Result{}, err
	}

	return Result{
		FinalValue:                    finalValue,
		InterestEarned:                interest,
		PeriodReturnPercent:           periodReturn,
		AnnualEquivalentReturnPercent: annual,
		DaysElapsed:                   days,
		BusinessDaysEstimated:         daycount.EstimateBusinessDays(days),
		CompoundFactor:                factor,
	}, nil
}

// Project returns only the projected final value.
func (e *Engine) Project(p model.InvestmentPosition) (decimal.Decimal, error) {
	r, err := e.Calculate(p)
	if err != nil {
		return decimal.Zero, err
	}
	return r.FinalValue, nil
}

// compoundFactor selects the formula for the position's rate variant.
func (r ReferenceRates) compoundFactor(p model.InvestmentPosition, days, units int) (decimal.Decimal, error) {
	var f float64
	switch v := p.Params.(type) {
	case model.PercentOfIndex:
		index := r.CDI
		if investment.IndexOf(p.Type) == "SELIC" {
			index = r.SELIC
		}
		annual := index.Mul(v.Percent).Div(hundred).Div(hundred).InexactFloat64()
		switch {
		case p.Capitalization == model.CapitalizeMonthly:
			f = monthlyFactor(annual, p.StartDate, p.EndDate)
		case p.DayCountBase == model.Base252:
			f = math.Pow(1+annual, float64(units)/252)
		default:
			// Simple proration over calendar days.
			f = 1 + annual*float64(days)/365
		}

	case model.AnnualRate:
		f = fixedFactor(v.Rate.Div(hundred).InexactFloat64(), p, units)

	case model.InflationPlus:
		one := decimal.NewFromInt(1)
		combined := one.Add(v.ExpectedInflation.Div(hundred)).
			Mul(one.Add(v.Spread.Div(hundred))).
			Sub(one)
		f = fixedFactor(combined.InexactFloat64(), p, units)

	case model.SavingsRule:
		months, _ := daycount.WholeMonths(p.StartDate, p.EndDate)
		f = math.Pow(1+r.savingsMonthlyRate(), float64(months))

	default:
		return decimal.Zero, fmt.Errorf("%w: unknown parameter variant %T", ErrMissingParameter, p.Params)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, ErrOverflow
	}
	return decimal.NewFromFloat(f).Round(FactorScale), nil
}

// fixedFactor compounds a flat annual rate: (1 + r) ^ (units / base), or in
// whole-month steps under monthly capitalization.
func fixedFactor(annual float64, p model.InvestmentPosition, units int) float64 {
	if p.Capitalization == model.CapitalizeMonthly {
		return monthlyFactor(annual, p.StartDate, p.EndDate)
	}
	return math.Pow(1+annual, float64(units)/float64(p.DayCountBase))
}

// savingsMonthlyRate returns the legal monthly savings rate as a fraction:
// 0.5% a month while SELIC is above 8.5%, otherwise 70% of SELIC converted
// to a monthly rate. The reference-rate (TR) component is taken as zero.
func (r ReferenceRates) savingsMonthlyRate() float64 {
	if r.SELIC.GreaterThan(SavingsSelicThreshold) {
		return SavingsFixedMonthlyRate.Div(hundred).InexactFloat64()
	}
	annual := r.SELIC.Mul(SavingsSelicShare).Div(hundred).InexactFloat64()
	return math.Pow(1+annual, 1.0/12) - 1
}

// monthlyFactor compounds the monthly equivalent of an annual rate over the
// whole months elapsed and prorates the partial final month linearly.
func monthlyFactor(annual float64, start, end time.Time) float64 {
	monthly := math.Pow(1+annual, 1.0/12) - 1
	months, last := daycount.WholeMonths(start, end)
	f := math.Pow(1+monthly, float64(months))

	remaining := daycount.Date(end).Sub(last).Hours() / 24
	if remaining > 0 {
		// Anniversaries are always offsets from start so month-end starts
		// do not drift (Jan 31 → Feb 29 → Mar 31).
		next := daycount.AddMonths(daycount.Date(start), months+1)
		periodDays := next.Sub(last).Hours() / 24
		f *= 1 + monthly*remaining/periodDays
	}
	return f
}

// annualize converts a period factor into an annual-equivalent return in
// percent: (factor ^ (base / units) - 1) * 100.
func annualize(factor decimal.Decimal, units int, base model.DayCountBase) (decimal.Decimal, error) {
	if units <= 0 {
		return decimal.Zero, nil
	}
	a := math.Pow(factor.InexactFloat64(), float64(base)/float64(units))
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return decimal.Zero, ErrOverflow
	}
	return decimal.NewFromFloat(a - 1).Mul(hundred).Round(PercentScale), nil
}
