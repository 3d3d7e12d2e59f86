package tenant

import (
	"crypto/rand"
	"regexp"
)

// Tenant identifiers are the platform's opaque cuid-style tokens: 25 characters,
// a leading 'c' followed by 24 lowercase base36 characters. Anything else
// (wrong length, uppercase, quotes, SQL fragments, path separators) fails the
// character-class check and is rejected.
var idPattern = regexp.MustCompile(`^c[a-z0-9]{24}$`)

// IDLength is the fixed length of a tenant identifier.
const IDLength = 25

// IsValidID reports whether s is a well-formed tenant identifier.
// It is total and side-effect free: safe to call on arbitrary untrusted input.
func IsValidID(s string) bool {
	return len(s) == IDLength && idPattern.MatchString(s)
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID generates a fresh tenant identifier in the platform scheme.
func NewID() string {
	buf := make([]byte, IDLength)
	if _, err := rand.Read(buf); err != nil {
		panic("tenant: read random bytes: " + err.Error())
	}
	buf[0] = 'c'
	for i := 1; i < IDLength; i++ {
		buf[i] = idAlphabet[int(buf[i])%len(idAlphabet)]
	}
	return string(buf)
}
