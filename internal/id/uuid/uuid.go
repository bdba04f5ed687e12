// Package uuid generates product request and browser session identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings. v7 IDs sort by creation time, which
// keeps product runs listed in submission order.
type Generator struct {
	prefix string
}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewPrefixed returns a Generator whose IDs read "<prefix>-<uuid>".
func NewPrefixed(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a UUIDv7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "-" + id.String(), nil
}

// Valid reports whether id is a plain UUID.
func Valid(id string) bool {
	return uuid.Validate(id) == nil
}
