package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier suitable for storage keys.
// Entropy comes from crypto/rand via ulid.Make.
func New() string {
	return ulid.Make().String()
}
