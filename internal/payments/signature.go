package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/imrishuroy/storefront-fulfillment/internal/apperr"
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature with the HMAC of payload in constant time.
func VerifySignature(secret string, payload []byte, signature string) error {
	if secret == "" || signature == "" {
		return apperr.ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return apperr.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.ErrInvalidSignature
	}
	return nil
}

// CallbackPayload is the string signed by the gateway for checkout callbacks.
func CallbackPayload(gatewayOrderID, paymentID string) []byte {
	return []byte(gatewayOrderID + "|" + paymentID)
}
