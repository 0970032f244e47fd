package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier suitable for storage
// keys. The shared monotonic entropy source keeps ids ordered even within
// the same millisecond.
func New() string {
	return ulid.Make().String()
}
