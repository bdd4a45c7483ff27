// Package uuid issues request identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// Generator issues time-ordered UUIDv7 request IDs.
type Generator struct{}

// New creates a Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string. A random v4 ID is used when the v7 clock
// sequence cannot be read, so a request never goes untagged.
func (Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
