package model

import "github.com/oklog/ulid/v2"

// NewID returns a fresh ULID for a node or run. ULIDs sort by creation
// time, which keeps the nodes table roughly in derivation order even
// without the explicit seq column.
func NewID() string {
	return ulid.Make().String()
}
