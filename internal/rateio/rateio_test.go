package rateio

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fleetshare/finance-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func shares(pcts ...float64) []model.Share {
	out := make([]model.Share, len(pcts))
	for i, p := range pcts {
		out[i] = model.Share{MemberID: string(rune('A' + i)), Percent: d(p)}
	}
	return out
}

func TestSplitAutomatic_ThreeWayResidualToFirst(t *testing.T) {
	got, err := SplitAutomatic(d(1000), shares(33.33, 33.33, 33.34))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Sum(got).Equal(d(1000)) {
		t.Errorf("sum = %s, want 1000", Sum(got))
	}
	if !got[1].Amount.Equal(d(333.3)) || !got[2].Amount.Equal(d(333.4)) {
		t.Errorf("allocations = %+v", got)
	}
}

func TestSplitAutomatic_EqualThirds(t *testing.T) {
	third := decimal.NewFromInt(100).Div(decimal.NewFromInt(3))
	sh := []model.Share{
		{MemberID: "A", Percent: third},
		{MemberID: "B", Percent: third},
		{MemberID: "C", Percent: third},
	}
	got, err := SplitAutomatic(d(100), sh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got[0].Amount.Equal(d(33.34)) {
		t.Errorf("first member = %s, want 33.34 (absorbs residual)", got[0].Amount)
	}
	if !got[1].Amount.Equal(d(33.33)) || !got[2].Amount.Equal(d(33.33)) {
		t.Errorf("allocations = %+v", got)
	}
	if !Sum(got).Equal(d(100)) {
		t.Errorf("sum = %s, want 100", Sum(got))
	}
}

func TestSplitAutomatic_Completeness(t *testing.T) {
	tables := [][]model.Share{
		shares(100),
		shares(50, 50),
		shares(12.5, 37.5, 50),
		shares(10, 20, 30, 40),
		shares(14.29, 14.29, 14.29, 14.29, 14.28, 14.28, 14.28),
		shares(1, 1, 1, 97),
	}
	totals := []float64{0.01, 0.07, 1, 99.99, 1234.56, 1000000.01, 7777.77}

	for _, sh := range tables {
		for _, total := range totals {
			got, err := SplitAutomatic(d(total), sh)
			if err != nil {
				t.Fatalf("total %v shares %v: %v", total, sh, err)
			}
			if !Sum(got).Equal(d(total)) {
				t.Errorf("total %v shares %v: sum %s", total, sh, Sum(got))
			}
			if len(got) != len(sh) {
				t.Errorf("got %d allocations, want %d", len(got), len(sh))
			}
		}
	}
}

func TestSplitAutomatic_NormalisesIncompleteTable(t *testing.T) {
	got, err := SplitAutomatic(d(1000), shares(49.995, 49.995))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got[0].Amount.Equal(d(500)) || !got[1].Amount.Equal(d(500)) {
		t.Errorf("allocations = %+v", got)
	}
}

func TestSplitAutomatic_ZeroShareRejected(t *testing.T) {
	_, err := SplitAutomatic(d(0.01), shares(0, 50, 50))
	if !errors.Is(err, ErrNoShares) {
		t.Errorf("err = %v, want ErrNoShares", err)
	}
}

func TestSplitAutomatic_FirstMemberNeverNegative(t *testing.T) {
	tables := [][]model.Share{
		shares(4, 32, 32, 32),
		shares(1, 49.5, 49.5),
		shares(0.5, 33.5, 33, 33),
		shares(10, 10, 10, 10, 10, 10, 10, 10, 10, 10),
	}
	for _, sh := range tables {
		for _, total := range []float64{0.01, 0.02, 0.03, 0.05, 0.99, 10.01} {
			got, err := SplitAutomatic(d(total), sh)
			if err != nil {
				t.Fatalf("total %v shares %v: %v", total, sh, err)
			}
			if !got[0].Amount.IsPositive() {
				t.Errorf("total %v shares %v: first member gets %s", total, sh, got[0].Amount)
			}
			for _, a := range got {
				if a.Amount.IsNegative() {
					t.Errorf("total %v shares %v: negative allocation %+v", total, sh, a)
				}
			}
			if !Sum(got).Equal(d(total)) {
				t.Errorf("total %v shares %v: sum %s", total, sh, Sum(got))
			}
		}
	}
}

func TestSplitAutomatic_Errors(t *testing.T) {
	tests := []struct {
		name   string
		total  decimal.Decimal
		shares []model.Share
		want   error
	}{
		{"zero total", decimal.Zero, shares(100), ErrNonPositiveTotal},
		{"negative total", d(-10), shares(100), ErrNonPositiveTotal},
		{"no shares", d(10), nil, ErrNoShares},
		{"zero shares", d(10), shares(0, 0), ErrNoShares},
		{"negative share", d(10), shares(120, -20), ErrNoShares},
		{"duplicate", d(10), []model.Share{{MemberID: "A", Percent: d(50)}, {MemberID: "A", Percent: d(50)}}, ErrDuplicateMember},
		{"blank member", d(10), []model.Share{{MemberID: " ", Percent: d(100)}}, ErrMissingMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitAutomatic(tt.total, tt.shares)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateManual_ExactSplit(t *testing.T) {
	in := []model.Allocation{
		{MemberID: "A", Amount: d(333.33)},
		{MemberID: "B", Amount: d(333.33)},
		{MemberID: "C", Amount: d(333.34)},
	}
	got, err := ValidateManual(d(1000), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if got[i].MemberID != in[i].MemberID || !got[i].Amount.Equal(in[i].Amount) {
			t.Errorf("allocation %d changed: %+v", i, got[i])
		}
	}
}

func TestValidateManual_SumMismatch(t *testing.T) {
	_, err := ValidateManual(d(1000), []model.Allocation{
		{MemberID: "A", Amount: d(500)},
		{MemberID: "B", Amount: d(400)},
	})
	if !errors.Is(err, ErrSumMismatch) {
		t.Fatalf("err = %v, want ErrSumMismatch", err)
	}
	var mismatch *SumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err is %T, want *SumMismatchError", err)
	}
	if !mismatch.Difference.Equal(d(-100)) {
		t.Errorf("difference = %s, want -100", mismatch.Difference)
	}
	if !mismatch.Sum.Equal(d(900)) {
		t.Errorf("sum = %s, want 900", mismatch.Sum)
	}
}

func TestValidateManual_MismatchMessageKeepsSubCents(t *testing.T) {
	_, err := ValidateManual(d(1000), []model.Allocation{
		{MemberID: "A", Amount: d(500)},
		{MemberID: "B", Amount: d(499.985)},
	})
	var mismatch *SumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want *SumMismatchError", err)
	}
	if !strings.Contains(err.Error(), "difference -0.015") {
		t.Errorf("message %q does not carry the exact difference", err.Error())
	}
}

func TestValidateManual_Tolerance(t *testing.T) {
	tests := []struct {
		amounts []float64
		ok      bool
	}{
		{[]float64{500, 499.99}, true},
		{[]float64{500, 500.01}, true},
		{[]float64{500, 499.98}, false},
		{[]float64{500, 500.02}, false},
	}
	for _, tt := range tests {
		allocs := make([]model.Allocation, len(tt.amounts))
		for i, a := range tt.amounts {
			allocs[i] = model.Allocation{MemberID: string(rune('A' + i)), Amount: d(a)}
		}
		_, err := ValidateManual(d(1000), allocs)
		if tt.ok && err != nil {
			t.Errorf("%v: unexpected error %v", tt.amounts, err)
		}
		if !tt.ok && !errors.Is(err, ErrSumMismatch) {
			t.Errorf("%v: err = %v, want ErrSumMismatch", tt.amounts, err)
		}
	}
}

func TestValidateManual_EntryErrors(t *testing.T) {
	tests := []struct {
		name   string
		allocs []model.Allocation
		want   error
	}{
		{"zero entry", []model.Allocation{{MemberID: "A", Amount: d(1000)}, {MemberID: "B", Amount: decimal.Zero}}, ErrEmptyEntry},
		{"negative entry", []model.Allocation{{MemberID: "A", Amount: d(1100)}, {MemberID: "B", Amount: d(-100)}}, ErrEmptyEntry},
		{"duplicate", []model.Allocation{{MemberID: "A", Amount: d(500)}, {MemberID: "A", Amount: d(500)}}, ErrDuplicateMember},
		{"missing member", []model.Allocation{{MemberID: "", Amount: d(1000)}}, ErrMissingMember},
		{"empty split", nil, ErrSumMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateManual(d(1000), tt.allocs)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMemberTotals(t *testing.T) {
	txs := []model.Transaction{
		{Kind: model.KindExpense, Allocations: []model.Allocation{{MemberID: "A", Amount: d(60)}, {MemberID: "B", Amount: d(40)}}},
		{Kind: model.KindRevenue, Allocations: []model.Allocation{{MemberID: "B", Amount: d(100)}}},
	}
	got := MemberTotals(txs)
	if len(got) != 2 || got[0].MemberID != "A" || got[1].MemberID != "B" {
		t.Fatalf("totals = %+v", got)
	}
	if !got[0].Net.Equal(d(-60)) {
		t.Errorf("A net = %s, want -60", got[0].Net)
	}
	if !got[1].Expenses.Equal(d(40)) || !got[1].Revenues.Equal(d(100)) || !got[1].Net.Equal(d(60)) {
		t.Errorf("B = %+v", got[1])
	}
}

func TestValidateShares(t *testing.T) {
	tests := []struct {
		name   string
		shares []model.Share
		want   error
	}{
		{"complete", shares(50, 30, 20), nil},
		{"rounded thirds", shares(33.33, 33.33, 33.33), nil},
		{"short", shares(50, 40), ErrShareTable},
		{"zero member", shares(100, 0), ErrShareTable},
		{"empty", nil, ErrNoShares},
		{"duplicate", []model.Share{{MemberID: "A", Percent: d(50)}, {MemberID: "A", Percent: d(50)}}, ErrDuplicateMember},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateShares(tt.shares)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
