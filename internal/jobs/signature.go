package jobs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Callback request headers
const (
	HeaderSignature = "X-Signature"
	HeaderEventType = "X-Event-Type"
	HeaderTraceID   = "X-Trace-Id"
)

// VerifyHMAC checks an HMAC-SHA256 signature over the raw body using the shared secret.
// Receivers of trace callbacks can use it to authenticate deliveries.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(sign(secret, body), b)
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers
func SignHMAC(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
