package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fleetshare/finance-engine/internal/daycount"
	"github.com/fleetshare/finance-engine/internal/investment"
	"github.com/fleetshare/finance-engine/internal/rateio"
	"github.com/fleetshare/finance-engine/internal/reserve"
	"github.com/fleetshare/finance-engine/internal/store"
	"github.com/fleetshare/finance-engine/internal/yield"
)

// errorBody is the JSON error response. Mismatch fields are set only for a
// rejected manual split.
type errorBody struct {
	Error      string `json:"error"`
	Total      string `json:"total,omitempty"`
	Sum        string `json:"sum,omitempty"`
	Difference string `json:"difference,omitempty"`
}

var validationErrors = []error{
	daycount.ErrInvalidRange,
	daycount.ErrUnsupportedBase,
	investment.ErrUnknownType,
	investment.ErrMissingParameter,
	investment.ErrInvalidParameter,
	investment.ErrNonPositivePrincipal,
	investment.ErrUnknownBase,
	investment.ErrUnknownCapitalization,
	investment.ErrNegativeRealizedValue,
	yield.ErrOverflow,
	yield.ErrNegativeRate,
	rateio.ErrSumMismatch,
	rateio.ErrEmptyEntry,
	rateio.ErrDuplicateMember,
	rateio.ErrNoShares,
	rateio.ErrNonPositiveTotal,
	rateio.ErrMissingMember,
	rateio.ErrShareTable,
	rateio.ErrUnknownKind,
	reserve.ErrMissingJustification,
	reserve.ErrUnknownMovementType,
	reserve.ErrAircraftMismatch,
	reserve.ErrEmergencyUseSign,
}

var conflictErrors = []error{
	store.ErrVersionConflict,
	store.ErrAlreadyExists,
	investment.ErrImmutable,
	investment.ErrInvalidTransition,
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return http.StatusConflict
		}
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

// writeServiceError maps a domain error to its status. Internal errors are
// logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}

	body := errorBody{Error: err.Error()}
	var mismatch *rateio.SumMismatchError
	if errors.As(err, &mismatch) {
		body.Total = mismatch.Total.String()
		body.Sum = mismatch.Sum.String()
		body.Difference = mismatch.Difference.String()
	}
	writeJSON(w, status, body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
