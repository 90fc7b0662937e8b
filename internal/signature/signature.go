// Package signature implements the webhook signature schemes of the payment
// providers. Every check compares digests in constant time; a payload that
// fails here must never reach the ledger.
package signature

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// equalHex compares two hex digests in constant time, ignoring case.
func equalHex(want, got string) bool {
	return subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(want)),
		[]byte(strings.ToLower(got)),
	) == 1
}

// HMACSHA256JSON computes an HMAC-SHA256 over the canonical form of a JSON
// body: the body is decoded, the signature field removed, and re-encoded
// with lexicographically sorted keys before signing.
func HMACSHA256JSON(secret string, body []byte, signField string) (string, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode body for signing: %w", err)
	}
	delete(payload, signField)

	// encoding/json sorts map keys, which yields the canonical form.
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize body: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyHMACSHA256JSON verifies a canonical-JSON HMAC-SHA256 signature.
func VerifyHMACSHA256JSON(secret string, body []byte, signField, provided string) bool {
	want, err := HMACSHA256JSON(secret, body, signField)
	if err != nil {
		return false
	}
	return equalHex(want, provided)
}

// MD5Base64 computes md5(base64(body) + secret) as a hex digest.
func MD5Base64(secret string, body []byte) string {
	encoded := base64.StdEncoding.EncodeToString(body)
	sum := md5.Sum([]byte(encoded + secret))
	return hex.EncodeToString(sum[:])
}

// VerifyMD5Base64 verifies an md5(base64(body)+secret) signature.
func VerifyMD5Base64(secret string, body []byte, provided string) bool {
	return equalHex(MD5Base64(secret, body), provided)
}

// SHA1Joined computes a SHA1 digest over an ordered, &-joined concatenation
// of fields. The shared secret must occupy its provider-documented slot in
// the field list.
func SHA1Joined(fields ...string) string {
	sum := sha1.Sum([]byte(strings.Join(fields, "&")))
	return hex.EncodeToString(sum[:])
}

// VerifySHA1Joined verifies an ordered &-joined SHA1 signature.
func VerifySHA1Joined(provided string, fields ...string) bool {
	return equalHex(SHA1Joined(fields...), provided)
}

// VerifyHeaderToken compares a shared-secret header value in constant time.
// An empty configured secret always fails: missing configuration must not
// open the endpoint.
func VerifyHeaderToken(secret, provided string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) == 1
}
