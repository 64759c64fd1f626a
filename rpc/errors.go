package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"paygate/core/runtime"
	"paygate/core/state"
	"paygate/indexer"
	"paygate/native/gateway"
	"paygate/native/token"
)

// statusFor maps a runtime or query error to the HTTP status reported to
// clients.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, runtime.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrInvalidAmount),
		errors.Is(err, token.ErrSupplyOverflow),
		errors.Is(err, token.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, token.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, gateway.ErrAccountNotFound),
		errors.Is(err, token.ErrAccountNotFound),
		errors.Is(err, token.ErrMintNotFound),
		errors.Is(err, indexer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runtime.ErrNonceMismatch),
		errors.Is(err, gateway.ErrAlreadyPaid),
		errors.Is(err, gateway.ErrPaymentAlreadyProcessed),
		errors.Is(err, state.ErrAccountAlreadyInitialized),
		errors.Is(err, token.ErrMintExists):
		return http.StatusConflict
	case errors.Is(err, runtime.ErrUnknownInstruction),
		errors.Is(err, runtime.ErrInvalidPayload),
		errors.Is(err, gateway.ErrInvalidToken),
		errors.Is(err, gateway.ErrInvalidAuthority),
		errors.Is(err, gateway.ErrInvalidMerchant),
		errors.Is(err, gateway.ErrInvalidPlatform),
		errors.Is(err, gateway.ErrPlatformNotConfigured),
		errors.Is(err, gateway.ErrInvalidDestination),
		errors.Is(err, gateway.ErrMerchantIDTooLong),
		errors.Is(err, gateway.ErrPaymentIDTooLong),
		errors.Is(err, gateway.ErrMetadataTooLong),
		errors.Is(err, gateway.ErrEmptyID),
		errors.Is(err, gateway.ErrAccountOwner),
		errors.Is(err, gateway.ErrAccountDiscriminator),
		errors.Is(err, gateway.ErrConstraintSeeds),
		errors.Is(err, gateway.ErrConstraintAssociated),
		errors.Is(err, token.ErrOwnerMismatch),
		errors.Is(err, token.ErrMintMismatch),
		errors.Is(err, token.ErrMintAuthority):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
