package document

import "github.com/google/uuid"

// IDGenerator mints identifiers for runs and documents.
// Implemented by UUIDv7Generator (production) and the fixed generator in
// internal/testutil (deterministic tests and golden traces).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// UUIDv7 embeds a timestamp in the most significant bits, making run and
// document IDs sortable by creation time - helpful when scanning an
// archive by eye.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
