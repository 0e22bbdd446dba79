package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns n random bytes as an uppercase hex string. Used for
// fallback ticket reference codes and device key provisioning.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateFallbackRef returns a short human-quotable reference for a locally
// synthesized ticket, e.g. FB-3A9C7E. The gatekeeper can read it back over
// the phone when a fallback ticket needs manual verification.
func GenerateFallbackRef() (string, error) {
	code, err := GenerateCode(3)
	if err != nil {
		return "", err
	}
	return "FB-" + code, nil
}
