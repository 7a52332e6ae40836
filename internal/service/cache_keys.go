package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// normalizeToken makes a value safe for use inside a colon-delimited
// redis key.
func normalizeToken(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.NewReplacer(":", "_", " ", "_").Replace(value)
}

// hashToken keeps raw identifiers (emails, tokens) out of redis keys.
func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
