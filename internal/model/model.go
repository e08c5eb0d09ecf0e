// Package model defines the core domain types shared across the finance engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestmentType identifies the yield convention of a cash application.
type InvestmentType string

const (
	TypeCDI           InvestmentType = "CDI"
	TypeSELIC         InvestmentType = "SELIC"
	TypePostFixed     InvestmentType = "POST_FIXED"
	TypePreFixed      InvestmentType = "PRE_FIXED"
	TypeInflationPlus InvestmentType = "IPCA_PLUS"
	TypeSavings       InvestmentType = "SAVINGS"
	TypeCDB           InvestmentType = "CDB"
	TypeLCI           InvestmentType = "LCI"
	TypeLCA           InvestmentType = "LCA"
)

// DayCountBase is the number of periods in a year: 252 business days or
// 365 calendar days.
type DayCountBase int

const (
	Base252 DayCountBase = 252
	Base365 DayCountBase = 365
)

// CapitalizationMode selects daily or whole-month compounding.
type CapitalizationMode string

const (
	CapitalizeDaily   CapitalizationMode = "DAILY"
	CapitalizeMonthly CapitalizationMode = "MONTHLY"
)

// PositionStatus is the lifecycle state of an InvestmentPosition.
type PositionStatus string

const (
	StatusActive    PositionStatus = "ACTIVE"
	StatusRedeemed  PositionStatus = "REDEEMED"
	StatusCanceled  PositionStatus = "CANCELED"
	StatusSimulated PositionStatus = "SIMULATED"
)

// RateParams is the tagged union of rate parameters. Each variant carries
// exactly the fields its formula needs.
type RateParams interface {
	rateParams()
}

// PercentOfIndex scales a reference index (CDI or SELIC), e.g. 110 = 110% of CDI.
type PercentOfIndex struct {
	Percent decimal.Decimal `json:"percent_of_index"`
}

// AnnualRate is a flat nominal annual rate in percent.
type AnnualRate struct {
	Rate decimal.Decimal `json:"annual_rate"`
}

// InflationPlus is an inflation expectation plus a real spread, both in
// annual percent.
type InflationPlus struct {
	ExpectedInflation decimal.Decimal `json:"expected_inflation"`
	Spread            decimal.Decimal `json:"spread"`
}

// SavingsRule carries no parameters; the legal savings formula applies.
type SavingsRule struct{}

func (PercentOfIndex) rateParams() {}
func (AnnualRate) rateParams()     {}
func (InflationPlus) rateParams()  {}
func (SavingsRule) rateParams()    {}

// RawParams is the flat, nullable representation of RateParams used on the
// wire and in storage columns.
type RawParams struct {
	PercentOfIndex    decimal.NullDecimal `json:"percent_of_index"`
	AnnualRate        decimal.NullDecimal `json:"annual_rate"`
	ExpectedInflation decimal.NullDecimal `json:"expected_inflation"`
	Spread            decimal.NullDecimal `json:"spread"`
}

// Flatten converts a variant into its nullable column form.
func Flatten(p RateParams) RawParams {
	var raw RawParams
	switch v := p.(type) {
	case PercentOfIndex:
		raw.PercentOfIndex = decimal.NewNullDecimal(v.Percent)
	case AnnualRate:
		raw.AnnualRate = decimal.NewNullDecimal(v.Rate)
	case InflationPlus:
		raw.ExpectedInflation = decimal.NewNullDecimal(v.ExpectedInflation)
		raw.Spread = decimal.NewNullDecimal(v.Spread)
	}
	return raw
}

// Params rebuilds the variant from stored columns. Callers that need type
// checking go through investment.NewParams instead.
func (r RawParams) Params() RateParams {
	switch {
	case r.PercentOfIndex.Valid:
		return PercentOfIndex{Percent: r.PercentOfIndex.Decimal}
	case r.AnnualRate.Valid:
		return AnnualRate{Rate: r.AnnualRate.Decimal}
	case r.ExpectedInflation.Valid:
		return InflationPlus{ExpectedInflation: r.ExpectedInflation.Decimal, Spread: r.Spread.Decimal}
	default:
		return SavingsRule{}
	}
}

// InvestmentPosition is one cash application of an aircraft's operating cash.
// Immutable once REDEEMED or CANCELED.
type InvestmentPosition struct {
	ID                  string              `json:"id"`
	AircraftID          string              `json:"aircraft_id"`
	Principal           decimal.Decimal     `json:"principal"`
	StartDate           time.Time           `json:"start_date"`
	EndDate             time.Time           `json:"end_date"`
	Type                InvestmentType      `json:"investment_type"`
	Params              RateParams          `json:"rate_parameters"`
	DayCountBase        DayCountBase        `json:"day_count_base"`
	Capitalization      CapitalizationMode  `json:"capitalization_mode"`
	Status              PositionStatus      `json:"status"`
	IsSimulation        bool                `json:"is_simulation"`
	EstimatedFinalValue decimal.Decimal     `json:"estimated_final_value"`
	RealizedValue       decimal.NullDecimal `json:"realized_value"`
	CreatedAt           time.Time           `json:"created_at"`
	ClosedAt            *time.Time          `json:"closed_at,omitempty"`
}

// ReserveStatus is derived from a reserve's balance on every read.
type ReserveStatus string

const (
	ReserveNormal        ReserveStatus = "NORMAL"
	ReserveAttention     ReserveStatus = "ATTENTION"
	ReserveLiquidityRisk ReserveStatus = "LIQUIDITY_RISK"
)

// MarginReserve is the segregated minimum-balance account of one aircraft.
// Balance changes only through ReserveMovement application; Version is
// bumped on every applied movement for optimistic concurrency.
type MarginReserve struct {
	AircraftID            string          `json:"aircraft_id"`
	CurrentBalance        decimal.Decimal `json:"current_balance"` // signed: negative = deficit
	RequiredMinimum       decimal.Decimal `json:"required_minimum"`
	AlertThresholdPercent decimal.Decimal `json:"alert_threshold_percent"`
	Version               int64           `json:"version"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// MovementType classifies reserve ledger entries.
type MovementType string

const (
	MovementContribution MovementType = "CONTRIBUTION"
	MovementEmergencyUse MovementType = "EMERGENCY_USE"
	MovementAdjustment   MovementType = "ADJUSTMENT"
	MovementYield        MovementType = "YIELD"
)

// ReserveMovement is an immutable reserve ledger entry.
// Once created, these are never modified or deleted.
type ReserveMovement struct {
	ID            string          `json:"id"`
	AircraftID    string          `json:"aircraft_id"`
	Type          MovementType    `json:"type"`
	Amount        decimal.Decimal `json:"amount"` // signed: +increase, -decrease
	Date          time.Time       `json:"date"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Justification string          `json:"justification,omitempty"`
	Sequence      int64           `json:"sequence"` // reserve version after this movement
	CreatedAt     time.Time       `json:"created_at"`
}

// Share is one member's ownership share of an aircraft, in percent.
type Share struct {
	MemberID string          `json:"member_id"`
	Percent  decimal.Decimal `json:"percent"`
}

// ShareTable is the ownership table of an aircraft in force from
// EffectiveFrom until the next table.
type ShareTable struct {
	AircraftID    string    `json:"aircraft_id"`
	EffectiveFrom time.Time `json:"effective_from"`
	Shares        []Share   `json:"shares"`
}

// Allocation is one member's part of a transaction total.
type Allocation struct {
	MemberID string          `json:"member_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// TransactionKind distinguishes expenses from revenues.
type TransactionKind string

const (
	KindExpense TransactionKind = "EXPENSE"
	KindRevenue TransactionKind = "REVENUE"
)

// Transaction is a rateio allocation: one expense or revenue split either
// automatically by ownership share or by an explicit manual split.
type Transaction struct {
	ID          string          `json:"id"`
	AircraftID  string          `json:"aircraft_id"`
	Kind        TransactionKind `json:"kind"`
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
	Date        time.Time       `json:"date"`
	Automatic   bool            `json:"automatic"`
	ManualSplit []Allocation    `json:"manual_split,omitempty"`
	Allocations []Allocation    `json:"allocations"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CashAccount is the operating cash of one aircraft.
type CashAccount struct {
	AircraftID string          `json:"aircraft_id"`
	Balance    decimal.Decimal `json:"balance"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Asset is the book value of the aircraft itself.
type Asset struct {
	AircraftID string          `json:"aircraft_id"`
	BookValue  decimal.Decimal `json:"book_value"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
