package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns hex(HMAC-SHA256(secret, message)).
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckoutSignature is what the gateway hands the client after a successful
// payment: the signed "orderID|paymentID" pair.
func CheckoutSignature(secret, orderID, paymentID string) string {
	return Sign(secret, []byte(orderID+"|"+paymentID))
}

func verify(secret string, message []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}
