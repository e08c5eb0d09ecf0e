package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateParams_EchoDecodesAsRequestParams(t *testing.T) {
	cases := []struct {
		name   string
		params RateParams
	}{
		{"percent of index", PercentOfIndex{Percent: decimal.NewFromInt(110)}},
		{"annual rate", AnnualRate{Rate: decimal.NewFromFloat(12.5)}},
		{"inflation plus", InflationPlus{ExpectedInflation: decimal.NewFromFloat(4.5), Spread: decimal.NewFromInt(6)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(InvestmentPosition{ID: "pos-1", Params: tc.params})
			require.NoError(t, err)

			var echoed struct {
				Params RawParams `json:"rate_parameters"`
			}
			require.NoError(t, json.Unmarshal(data, &echoed))

			got := echoed.Params.Params()
			assert.IsType(t, tc.params, got)
			assert.JSONEq(t, mustJSON(t, tc.params), mustJSON(t, got))
		})
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
