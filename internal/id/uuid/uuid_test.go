package uuid

import (
	"strings"
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if !Valid(id2) {
		t.Fatalf("expected %s to be valid", id2)
	}
}

func TestPrefixedGenerator(t *testing.T) {
	t.Parallel()

	id, err := NewPrefixed("sess").NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	rest, ok := strings.CutPrefix(id, "sess-")
	if !ok {
		t.Fatalf("expected sess- prefix, got %s", id)
	}
	if !Valid(rest) {
		t.Fatalf("expected uuid after prefix, got %s", rest)
	}
	if Valid(id) {
		t.Fatalf("prefixed id should not validate as a bare uuid")
	}
}
