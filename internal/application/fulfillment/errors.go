package fulfillment

import "errors"

// Callback failures. Item level stock failures are not errors; they are
// reported in Result.Items.
var (
	ErrMissingFields      = errors.New("fulfillment: missing required fields")
	ErrVerificationFailed = errors.New("fulfillment: invalid payment signature")
	ErrOrderNotFound      = errors.New("fulfillment: order not found")
	ErrOrderNotPayable    = errors.New("fulfillment: order is not awaiting payment")
	ErrLedgerConflict     = errors.New("fulfillment: ledger conflict")
	ErrStoreUnavailable   = errors.New("fulfillment: store unavailable")
)
