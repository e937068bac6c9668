// Package crypto provides request-signing primitives for exchange REST
// clients in internal/adapter.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// RequestSigner signs an exchange REST request body using HMAC-SHA256 over
// the API secret, the scheme most spot/futures exchanges (Binance among
// them) use for private endpoints: the signature covers the exact
// query-string/body that will be sent, with a recvWindow and timestamp
// appended before signing.
type RequestSigner struct {
	APIKey    string
	Secret    string
	RecvWindowMS int64
}

// NewRequestSigner creates a RequestSigner for the given key/secret pair.
// recvWindowMS of 0 defaults to 5000, matching Binance's own default.
func NewRequestSigner(apiKey, secret string, recvWindowMS int64) *RequestSigner {
	if recvWindowMS <= 0 {
		recvWindowMS = 5000
	}
	return &RequestSigner{APIKey: apiKey, Secret: secret, RecvWindowMS: recvWindowMS}
}

// Sign appends timestamp and recvWindow to params, computes the HMAC-SHA256
// signature over the resulting query string, and returns the final encoded
// query string (including the "signature" parameter) ready to send as a
// request body or URL query.
func (s *RequestSigner) Sign(params url.Values) string {
	return s.SignAt(params, time.Now())
}

// SignAt is like Sign but lets the caller supply the timestamp, for
// deterministic testing.
func (s *RequestSigner) SignAt(params url.Values, at time.Time) string {
	q := cloneValues(params)
	q.Set("timestamp", strconv.FormatInt(at.UnixMilli(), 10))
	if s.RecvWindowMS > 0 {
		q.Set("recvWindow", strconv.FormatInt(s.RecvWindowMS, 10))
	}

	encoded := q.Encode()
	sig := hmacSHA256Hex([]byte(s.Secret), encoded)
	return encoded + "&signature=" + sig
}

// AuthHeader returns the header name and value an exchange expects the API
// key to be carried under. Binance-style exchanges use X-MBX-APIKEY.
func (s *RequestSigner) AuthHeader() (string, string) {
	return "X-MBX-APIKEY", s.APIKey
}

// String returns a redacted representation suitable for logging.
func (s *RequestSigner) String() string {
	return fmt.Sprintf("RequestSigner{key=%s}", redact(s.APIKey))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		cp := make([]string, len(vals))
		copy(cp, vals)
		out[k] = cp
	}
	return out
}

func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
