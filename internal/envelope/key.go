package envelope

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"

	"submission_service/internal/errdefs"
)

const KeySize = 32

var hexKeyPattern = regexp.MustCompile(`^[A-Fa-f0-9]{64}$`)

// ParseKey accepts a 64 character hex string, base64 of 32 bytes or a raw
// 32 byte string.
func ParseKey(raw string) ([]byte, error) {
	if hexKeyPattern.MatchString(raw) {
		return hex.DecodeString(raw)
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == KeySize {
		return decoded, nil
	}
	if len(raw) == KeySize {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("encryption key must represent %d bytes (hex/base64/raw): %w", KeySize, errdefs.ErrValidation)
}

type KeySource struct {
	Raw         string
	Environment string
	// AllowInsecureZeroKey permits an all-zero key when Raw is empty.
	// Refused in production.
	AllowInsecureZeroKey bool
}

// ResolveKey returns the master key and whether it is the insecure zero key.
func ResolveKey(src KeySource) ([]byte, bool, error) {
	if src.Raw != "" {
		key, err := ParseKey(src.Raw)
		return key, false, err
	}
	if src.Environment == "production" {
		return nil, false, fmt.Errorf("FILE_ENCRYPTION_KEY is required in production: %w", errdefs.ErrDependency)
	}
	if !src.AllowInsecureZeroKey {
		return nil, false, fmt.Errorf("FILE_ENCRYPTION_KEY is not set and the zero key is not allowed: %w", errdefs.ErrDependency)
	}
	return make([]byte, KeySize), true, nil
}
