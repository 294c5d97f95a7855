package httppresentation

import (
	"errors"
	"net/http"

	"github.com/Zhima-Mochi/minishop-fulfillment/internal/application/fulfillment"
	domainInventory "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/inventory"
	domainOrder "github.com/Zhima-Mochi/minishop-fulfillment/internal/domain/order"
)

// Callback messages are part of the gateway contract.
const (
	msgMissingFields      = "Missing required fields"
	msgInvalidSignature   = "Invalid payment signature"
	msgOrderNotFound      = "Order not found"
	msgOrderNotPayable    = "Order is not awaiting payment"
	msgConfirmationFailed = "Payment confirmation failed"
	msgInternal           = "internal error"
)

func writeError(w http.ResponseWriter, status int, err error) {
	writeMessage(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeCallbackError maps the callback taxonomy. The gateway only ever sees
// 400 or 500; an unknown order is a bad request, never a 404.
func writeCallbackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fulfillment.ErrMissingFields):
		writeMessage(w, http.StatusBadRequest, msgMissingFields)
	case errors.Is(err, fulfillment.ErrVerificationFailed):
		writeMessage(w, http.StatusBadRequest, msgInvalidSignature)
	case errors.Is(err, fulfillment.ErrOrderNotFound):
		writeMessage(w, http.StatusBadRequest, msgOrderNotFound)
	case errors.Is(err, fulfillment.ErrOrderNotPayable):
		writeMessage(w, http.StatusBadRequest, msgOrderNotPayable)
	default:
		writeMessage(w, http.StatusInternalServerError, msgConfirmationFailed)
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainOrder.ErrNotFound),
		errors.Is(err, domainInventory.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domainOrder.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, domainOrder.ErrInvalidReference),
		errors.Is(err, domainOrder.ErrNoItems),
		errors.Is(err, domainOrder.ErrInvalidQuantity),
		errors.Is(err, domainOrder.ErrInvalidUnitPrice),
		errors.Is(err, domainOrder.ErrInvalidProduct),
		errors.Is(err, domainInventory.ErrNegativeStock),
		errors.Is(err, domainInventory.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeMessage(w, http.StatusInternalServerError, msgInternal)
	}
}
