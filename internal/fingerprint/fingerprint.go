// Package fingerprint computes the dedup digests used by the capture monitor.
package fingerprint

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Size is the length in characters of every digest returned by Hash.
const Size = 16

// Hash returns the lowercase hex xxhash64 digest of b.
// It is deterministic across processes and not meant for security use.
func Hash(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// HashString is Hash for string payloads without an extra copy.
func HashString(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}
