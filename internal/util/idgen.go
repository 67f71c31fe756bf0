package util

import "github.com/google/uuid"

// NewID returns an opaque 8-character lowercase hex id. Callers that need
// collision-freedom against an existing set should use NewUniqueID.
func NewID() string {
	return uuid.New().String()[:8]
}

// NewUniqueID generates ids via NewID until one is absent from taken,
// mirroring the collision-aware retry loop used for sequence generation:
// regenerate on collision rather than fail.
func NewUniqueID(taken map[string]bool) string {
	for {
		id := NewID()
		if !taken[id] {
			return id
		}
	}
}
