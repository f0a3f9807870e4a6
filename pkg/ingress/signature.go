package ingress

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// verifySignature checks an "<algo>=<hex>" header against the HMAC of body.
// Only sha256 and sha1 are accepted.
func verifySignature(body []byte, header string, secret string) bool {
	algorithm, _, ok := strings.Cut(header, "=")
	if !ok {
		return false
	}

	var expected string
	switch algorithm {
	case "sha256":
		expected = computeHMAC(sha256.New, "sha256", body, secret)
	case "sha1":
		expected = computeHMAC(sha1.New, "sha1", body, secret)
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}

func computeHMAC(fn func() hash.Hash, prefix string, body []byte, secret string) string {
	h := hmac.New(fn, []byte(secret))
	h.Write(body)
	return prefix + "=" + hex.EncodeToString(h.Sum(nil))
}

// Sign returns the sha256 signature header value for body.
func Sign(body []byte, secret string) string {
	return computeHMAC(sha256.New, "sha256", body, secret)
}
