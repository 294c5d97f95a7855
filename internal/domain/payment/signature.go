// Package payment holds the payment gateway's callback contract.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Delimiter joins the order and payment references in the signed message.
const Delimiter = "|"

// CanonicalMessage is the exact byte string the gateway signs.
func CanonicalMessage(orderRef, paymentRef string) string {
	return orderRef + Delimiter + paymentRef
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical message.
func Sign(orderRef, paymentRef, secret string) string {
	return hex.EncodeToString(digest(orderRef, paymentRef, secret))
}

// Verify reports whether signature is the gateway's signature for the given
// references. Comparison is constant time over the decoded digest. Any
// malformed or missing input verifies as false.
func Verify(orderRef, paymentRef, signature, secret string) bool {
	if orderRef == "" || paymentRef == "" || signature == "" || secret == "" {
		return false
	}
	given, err := hex.DecodeString(signature)
	if err != nil || len(given) != sha256.Size {
		return false
	}
	return hmac.Equal(given, digest(orderRef, paymentRef, secret))
}

func digest(orderRef, paymentRef, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalMessage(orderRef, paymentRef)))
	return mac.Sum(nil)
}

// Verifier checks callbacks against one process-wide shared secret.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Verify(c Callback) bool {
	if v == nil {
		return false
	}
	return Verify(c.OrderRef, c.PaymentRef, c.Signature, v.secret)
}
