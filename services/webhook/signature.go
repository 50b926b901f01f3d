package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Sign computes the hex HMAC-SHA256 of "<ts>.<body>" with the subscription
// secret. The timestamp binds the signature to the request so receivers can
// reject replays.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders the x-webhook-signature value.
func SignatureHeader(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, Sign(secret, ts, body))
}

// VerifySignature checks a v1 signature in constant time.
func VerifySignature(secret string, ts int64, body []byte, signature string) bool {
	expected := Sign(secret, ts, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
