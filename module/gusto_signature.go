package module

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// GustoSignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const GustoSignatureHeader = "X-Gusto-Signature"

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// SignGustoPayload returns the hex-encoded HMAC-SHA256 of body.
func SignGustoPayload(secret string, body []byte) string {
	return hex.EncodeToString(computeHMACSHA256([]byte(secret), body))
}

// VerifyGustoSignature checks signature against the HMAC of body. An
// optional "sha256=" prefix is accepted.
func VerifyGustoSignature(secret string, body []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	signature = strings.ToLower(strings.TrimPrefix(signature, "sha256="))
	expected := SignGustoPayload(secret, body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func computeHMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
