// Package investment handles investment type parsing, construction of the
// tagged rate parameters each type requires, and the position lifecycle.
package investment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/daycount"
	"github.com/fleetshare/finance-engine/internal/model"
)

var (
	ErrUnknownType           = errors.New("investment: unsupported investment type")
	ErrMissingParameter      = errors.New("investment: required rate parameter missing")
	ErrInvalidParameter      = errors.New("investment: invalid rate parameter")
	ErrNonPositivePrincipal  = errors.New("investment: principal must be positive")
	ErrUnknownBase           = errors.New("investment: day-count base must be 252 or 365")
	ErrUnknownCapitalization = errors.New("investment: capitalization mode must be DAILY or MONTHLY")
)

// validTypes maps accepted spellings to canonical investment types.
var validTypes = map[string]model.InvestmentType{
	"CDI":            model.TypeCDI,
	"SELIC":          model.TypeSELIC,
	"POST_FIXED":     model.TypePostFixed,
	"POS_FIXADO":     model.TypePostFixed,
	"PRE_FIXED":      model.TypePreFixed,
	"PRE_FIXADO":     model.TypePreFixed,
	"IPCA_PLUS":      model.TypeInflationPlus,
	"IPCA+":          model.TypeInflationPlus,
	"INFLATION_PLUS": model.TypeInflationPlus,
	"SAVINGS":        model.TypeSavings,
	"POUPANCA":       model.TypeSavings,
	"CDB":            model.TypeCDB,
	"LCI":            model.TypeLCI,
	"LCA":            model.TypeLCA,
}

// ParseType validates and canonicalises an investment type string.
func ParseType(s string) (model.InvestmentType, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	t, ok := validTypes[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// ParseBase validates a day-count base. Zero defaults to 252.
func ParseBase(n int) (model.DayCountBase, error) {
	switch n {
	case 0, 252:
		return model.Base252, nil
	case 365:
		return model.Base365, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownBase, n)
	}
}

// ParseCapitalization validates a capitalization mode. Empty defaults to DAILY.
func ParseCapitalization(s string) (model.CapitalizationMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DAILY":
		return model.CapitalizeDaily, nil
	case "MONTHLY":
		return model.CapitalizeMonthly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCapitalization, s)
	}
}

var hundred = decimal.NewFromInt(100)

// NewParams builds the rate-parameter variant required by t from the flat
// representation. SELIC-indexed positions default to 100% of SELIC; CDB, LCI
// and LCA take either a percent of CDI (post-fixed) or an annual rate
// (pre-fixed).
func NewParams(t model.InvestmentType, raw model.RawParams) (model.RateParams, error) {
	var p model.RateParams
	switch t {
	case model.TypeCDI:
		if !raw.PercentOfIndex.Valid {
			return nil, fmt.Errorf("%w: %s requires percent_of_index", ErrMissingParameter, t)
		}
		p = model.PercentOfIndex{Percent: raw.PercentOfIndex.Decimal}
	case model.TypeSELIC:
		percent := hundred
		if raw.PercentOfIndex.Valid {
			percent = raw.PercentOfIndex.Decimal
		}
		p = model.PercentOfIndex{Percent: percent}
	case model.TypePreFixed, model.TypePostFixed:
		if !raw.AnnualRate.Valid {
			return nil, fmt.Errorf("%w: %s requires annual_rate", ErrMissingParameter, t)
		}
		p = model.AnnualRate{Rate: raw.AnnualRate.Decimal}
	case model.TypeCDB, model.TypeLCI, model.TypeLCA:
		switch {
		case raw.AnnualRate.Valid:
			p = model.AnnualRate{Rate: raw.AnnualRate.Decimal}
		case raw.PercentOfIndex.Valid:
			p = model.PercentOfIndex{Percent: raw.PercentOfIndex.Decimal}
		default:
			return nil, fmt.Errorf("%w: %s requires annual_rate or percent_of_index", ErrMissingParameter, t)
		}
	case model.TypeInflationPlus:
		if !raw.ExpectedInflation.Valid || !raw.Spread.Valid {
			return nil, fmt.Errorf("%w: %s requires expected_inflation and spread", ErrMissingParameter, t)
		}
		p = model.InflationPlus{ExpectedInflation: raw.ExpectedInflation.Decimal, Spread: raw.Spread.Decimal}
	case model.TypeSavings:
		p = model.SavingsRule{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if err := CheckParams(t, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CheckParams verifies that p is the variant t requires and that its values
// are usable. Positions decoded from storage or built by hand go through this
// before any calculation.
func CheckParams(t model.InvestmentType, p model.RateParams) error {
	if p == nil {
		return fmt.Errorf("%w: %s has no rate parameters", ErrMissingParameter, t)
	}
	minusHundred := hundred.Neg()
	switch v := p.(type) {
	case model.PercentOfIndex:
		if !acceptsPercentOfIndex(t) {
			return fmt.Errorf("%w: %s does not take a percent of index", ErrMissingParameter, t)
		}
		if v.Percent.IsNegative() {
			return fmt.Errorf("%w: percent of index %s is negative", ErrInvalidParameter, v.Percent)
		}
	case model.AnnualRate:
		if !acceptsAnnualRate(t) {
			return fmt.Errorf("%w: %s does not take an annual rate", ErrMissingParameter, t)
		}
		if v.Rate.LessThanOrEqual(minusHundred) {
			return fmt.Errorf("%w: annual rate %s must exceed -100", ErrInvalidParameter, v.Rate)
		}
	case model.InflationPlus:
		if t != model.TypeInflationPlus {
			return fmt.Errorf("%w: %s does not take inflation parameters", ErrMissingParameter, t)
		}
		if v.ExpectedInflation.LessThanOrEqual(minusHundred) || v.Spread.LessThanOrEqual(minusHundred) {
			return fmt.Errorf("%w: inflation and spread must exceed -100", ErrInvalidParameter)
		}
	case model.SavingsRule:
		if t != model.TypeSavings {
			return fmt.Errorf("%w: %s requires rate parameters", ErrMissingParameter, t)
		}
	default:
		return fmt.Errorf("%w: unknown parameter variant %T", ErrInvalidParameter, p)
	}
	return nil
}

func acceptsPercentOfIndex(t model.InvestmentType) bool {
	switch t {
	case model.TypeCDI, model.TypeSELIC, model.TypeCDB, model.TypeLCI, model.TypeLCA:
		return true
	}
	return false
}

func acceptsAnnualRate(t model.InvestmentType) bool {
	switch t {
	case model.TypePreFixed, model.TypePostFixed, model.TypeCDB, model.TypeLCI, model.TypeLCA:
		return true
	}
	return false
}

// IndexOf returns the reference index a percent-of-index position tracks.
func IndexOf(t model.InvestmentType) string {
	if t == model.TypeSELIC {
		return "SELIC"
	}
	return "CDI"
}

// Request is the wire form of a new cash application.
type Request struct {
	AircraftID     string          `json:"aircraft_id"`
	Principal      decimal.Decimal `json:"principal"`
	StartDate      string          `json:"start_date"` // YYYY-MM-DD
	EndDate        string          `json:"end_date"`
	Type           string          `json:"investment_type"`
	Params         model.RawParams `json:"rate_parameters"`
	DayCountBase   int             `json:"day_count_base"`
	Capitalization string          `json:"capitalization_mode"`
	IsSimulation   bool            `json:"is_simulation"`
}

// Position validates the request and builds a SIMULATED position.
func (r Request) Position() (model.InvestmentPosition, error) {
	start, err := time.Parse(time.DateOnly, r.StartDate)
	if err != nil {
		return model.InvestmentPosition{}, fmt.Errorf("%w: start_date %q", daycount.ErrInvalidRange, r.StartDate)
	}
	end, err := time.Parse(time.DateOnly, r.EndDate)
	if err != nil {
		return model.InvestmentPosition{}, fmt.Errorf("%w: end_date %q", daycount.ErrInvalidRange, r.EndDate)
	}
	t, err := ParseType(r.Type)
	if err != nil {
		return model.InvestmentPosition{}, err
	}
	params, err := NewParams(t, r.Params)
	if err != nil {
		return model.InvestmentPosition{}, err
	}
	base, err := ParseBase(r.DayCountBase)
	if err != nil {
		return model.InvestmentPosition{}, err
	}
	mode, err := ParseCapitalization(r.Capitalization)
	if err != nil {
		return model.InvestmentPosition{}, err
	}
	return NewPosition(r.AircraftID, r.Principal, start, end, t, params, base, mode)
}

// NewPosition validates every field and returns a SIMULATED position.
func NewPosition(
	aircraftID string,
	principal decimal.Decimal,
	start, end time.Time,
	t model.InvestmentType,
	params model.RateParams,
	base model.DayCountBase,
	mode model.CapitalizationMode,
) (model.InvestmentPosition, error) {
	if err := Validate(model.InvestmentPosition{
		Principal: principal, StartDate: start, EndDate: end,
		Type: t, Params: params, DayCountBase: base, Capitalization: mode,
	}); err != nil {
		return model.InvestmentPosition{}, err
	}
	return model.InvestmentPosition{
		AircraftID:     aircraftID,
		Principal:      principal,
		StartDate:      daycount.Date(start),
		EndDate:        daycount.Date(end),
		Type:           t,
		Params:         params,
		DayCountBase:   base,
		Capitalization: mode,
		Status:         model.StatusSimulated,
		IsSimulation:   true,
	}, nil
}

// Validate checks the calculation inputs of a position.
func Validate(p model.InvestmentPosition) error {
	if !p.Principal.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrNonPositivePrincipal, p.Principal)
	}
	if _, err := daycount.CalendarDays(p.StartDate, p.EndDate); err != nil {
		return err
	}
	if _, ok := validTypes[string(p.Type)]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
	}
	if p.DayCountBase != model.Base252 && p.DayCountBase != model.Base365 {
		return fmt.Errorf("%w: %d", ErrUnknownBase, p.DayCountBase)
	}
	if p.Capitalization != model.CapitalizeDaily && p.Capitalization != model.CapitalizeMonthly {
		return fmt.Errorf("%w: %q", ErrUnknownCapitalization, p.Capitalization)
	}
	return CheckParams(p.Type, p.Params)
}
