// Package idgen provides pluggable ID generation, adapted from the
// teacher's pkg/idgen. DoubleAgent uses it for ids that are internal
// bookkeeping tokens rather than vendor-shaped resource ids; today that
// is webhook delivery ids only. Resource ids
// inside the state overlay are a different concern (spec §3's
// integer auto-increment scheme) and never go through this package.
package idgen

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator producing base-36 IDs of the given length —
// shorter and cheaper than a UUID where full RFC 9562 verbosity isn't
// needed (e.g. short-lived test fixture ids).
func NanoID(length int) Generator {
	if length <= 0 {
		panic("idgen: NanoID length must be positive")
	}
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		out := make([]byte, length)
		for i, b := range buf {
			out[i] = alphabet[int(b)%len(alphabet)]
		}
		return string(out)
	}
}

// UUIDv7 returns a Generator producing RFC 9562 UUIDv7 strings —
// time-sortable and globally unique, the default everywhere an id needs
// no further structure.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps gen, prepending a fixed prefix to every generated id —
// useful for type-scoped ids ("whk_", "conn_", "ns_").
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the package-wide default generator: UUIDv7.
var Default Generator = UUIDv7()

// New produces an id using Default.
func New() string {
	return Default()
}
