// Package crypto provides request signing and encrypted-at-rest credential
// storage for the exchange API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignQuery returns the lowercase hex HMAC-SHA256 signature of the query
// string, as appended to every signed REST request.
func SignQuery(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
