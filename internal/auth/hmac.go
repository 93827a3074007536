// Package auth verifies experience and admin credentials.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// ComputeSignature returns the lowercase hex HMAC-SHA256 of body.
func ComputeSignature(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

// VerifySignature checks a hex signature, optionally prefixed with "sha256=".
func VerifySignature(secret string, body []byte, candidate string) bool {
	candidate = strings.TrimPrefix(strings.TrimSpace(candidate), signaturePrefix)
	got, err := hex.DecodeString(candidate)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(sign(secret, body), got)
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
