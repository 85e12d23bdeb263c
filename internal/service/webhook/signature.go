package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Header names carried by every delivery.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
)

// Sign returns the lower-case hex HMAC-SHA256 of payload keyed by secret.
func Sign(secret []byte, payload []byte) string {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil))
}

// ValidateSignature checks a received signature. Receivers use it to verify deliveries.
func ValidateSignature(payload []byte, secret []byte, provided string) error {
	if provided == "" {
		return errors.New("missing webhook signature")
	}
	expected := Sign(secret, payload)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return errors.New("invalid webhook signature")
	}
	return nil
}
