package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// okxTimestampLayout is the ISO-8601 millisecond format OKX requires in the
// OK-ACCESS-TIMESTAMP header and in the signature prehash.
const okxTimestampLayout = "2006-01-02T15:04:05.000Z"

// HMACAuth holds the credentials for HMAC-authenticated venue requests.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret (raw HMAC key)
	Passphrase string // API passphrase
}

// OKXHeaders returns the HTTP headers for an OKX v5 API request. The
// signature is HMAC-SHA256(secret, timestamp+method+requestPath+body)
// encoded as base64, where requestPath includes the query string.
//
// Returned header keys:
//   - OK-ACCESS-KEY
//   - OK-ACCESS-SIGN
//   - OK-ACCESS-TIMESTAMP
//   - OK-ACCESS-PASSPHRASE
func (h *HMACAuth) OKXHeaders(method, requestPath, body string) map[string]string {
	return h.OKXHeadersAt(method, requestPath, body, time.Now().UTC())
}

// OKXHeadersAt is like OKXHeaders but lets the caller supply the timestamp
// (useful for deterministic testing).
func (h *HMACAuth) OKXHeadersAt(method, requestPath, body string, at time.Time) map[string]string {
	ts := at.UTC().Format(okxTimestampLayout)

	message := ts + method + requestPath + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"OK-ACCESS-KEY":        h.Key,
		"OK-ACCESS-SIGN":       sig,
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": h.Passphrase,
	}
}

// Sign computes the raw base64 HMAC-SHA256 signature over
// timestamp+method+requestPath+body without building headers.
func (h *HMACAuth) Sign(timestamp, method, requestPath, body string) string {
	return hmacSHA256Base64([]byte(h.Secret), timestamp+method+requestPath+body)
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
