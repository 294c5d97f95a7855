package payment

import (
	"errors"
	"strings"
)

var ErrMissingFields = errors.New("payment: missing required fields")

// Callback is the gateway's payment confirmation. It is never persisted.
type Callback struct {
	OrderRef   string
	PaymentRef string
	Signature  string
}

// Validate reports ErrMissingFields when any field is blank.
func (c Callback) Validate() error {
	if strings.TrimSpace(c.OrderRef) == "" ||
		strings.TrimSpace(c.PaymentRef) == "" ||
		strings.TrimSpace(c.Signature) == "" {
		return ErrMissingFields
	}
	return nil
}
