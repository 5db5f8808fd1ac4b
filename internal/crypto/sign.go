// Package crypto provides request signing and API-secret key management for
// the Bitunix futures API.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Auth holds the credentials for signed Bitunix REST and stream requests.
type Auth struct {
	Key    string // API key
	Secret string // API secret
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SignREST computes the double SHA-256 signature for a REST request:
// sha256(sha256(nonce + timestamp + key + queryParams + body) + secret).
// For GET requests queryParams is the sorted, concatenated, alnum-stripped
// query string and body is empty; for POST the compact JSON body is used.
func (a *Auth) SignREST(nonce, timestamp, queryParams, body string) string {
	digest := sha256.Sum256([]byte(nonce + timestamp + a.Key + queryParams + body))
	sign := sha256.Sum256([]byte(hex.EncodeToString(digest[:]) + a.Secret))
	return hex.EncodeToString(sign[:])
}

// SignStream computes the login signature for the private stream:
// sha256(sha256(nonce + timestamp + key) + secret), with the timestamp in
// whole seconds.
func (a *Auth) SignStream(nonce string, unixTS int64) string {
	pre := sha256.Sum256([]byte(nonce + strconv.FormatInt(unixTS, 10) + a.Key))
	sign := sha256.Sum256([]byte(hex.EncodeToString(pre[:]) + a.Secret))
	return hex.EncodeToString(sign[:])
}

// CanonicalQuery flattens GET parameters into the form the exchange signs:
// keys sorted, joined as k=v with '&', then stripped of every
// non-alphanumeric character.
func CanonicalQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return nonAlnum.ReplaceAllString(strings.Join(pairs, "&"), "")
}

// Nonce returns a 32-byte random nonce, base64 standard-encoded.
func Nonce() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; panicking here
		// beats signing with a predictable nonce.
		panic(fmt.Sprintf("crypto: nonce: %v", err))
	}
	return base64.StdEncoding.EncodeToString(b)
}

// TimestampMillis returns the current time as a millisecond string.
func TimestampMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// String returns a redacted representation suitable for logging.
func (a *Auth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Auth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}
