// Package storage persists compiled rules.
package storage

import (
	"context"
	"errors"
	"time"
)

// Store persists rule records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts a record, or replaces the record with the same ID.
	// CreatedAt of an existing record is kept.
	Save(ctx context.Context, rec Record) error

	// Get returns ErrNotFound if no record has the given ID.
	Get(ctx context.Context, id string) (Record, error)

	// List returns all records, newest first.
	// Returns an empty slice (not error) if the store is empty.
	// Records that cannot be read back are logged and skipped.
	List(ctx context.Context) ([]Record, error)

	// Delete returns ErrNotFound if no record has the given ID.
	Delete(ctx context.Context, id string) error

	// Close releases the underlying resources. It is safe to call more than once.
	Close() error
}

// Record is a stored rule. AST holds the serialized tree as JSON.
type Record struct {
	ID         string
	Name       string
	RuleString string
	AST        []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Sentinel errors for storage operations.
var (
	// ErrNotFound indicates a rule doesn't exist.
	ErrNotFound = errors.New("rule not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("rule store closed")

	// ErrInvalidHeader indicates a stored AST blob was not written by BlobCodec.
	ErrInvalidHeader = errors.New("invalid ast blob header")

	// ErrCorruptRecord indicates a stored row whose blob or timestamps cannot be read.
	ErrCorruptRecord = errors.New("corrupt rule record")
)
