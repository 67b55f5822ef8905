// Package storage defines the medium that holds the users document: a single
// opaque byte blob with an atomic read-modify-write primitive. Backends live
// in the file, memory and redis subpackages.
package storage

import (
	"context"
	"errors"
)

// Document is a single persisted blob.
type Document interface {
	// Load returns the current content. A document that was never written
	// yields (nil, nil); only failures of the medium itself are errors.
	Load(ctx context.Context) ([]byte, error)

	// Update runs fn against the current content and stores its result as
	// one atomic replacement. When fn returns an error nothing is written and
	// that error is returned unchanged. Concurrent Updates never interleave:
	// each observes the result of the one committed before it.
	Update(ctx context.Context, fn UpdateFunc) error

	// Close releases resources held by the backend.
	Close() error
}

// UpdateFunc receives the current content (nil when absent) and returns the
// replacement.
type UpdateFunc func(current []byte) ([]byte, error)

// Watcher is implemented by backends that can report changes made outside
// this process (or by other Document values over the same medium).
type Watcher interface {
	// Watch blocks until ctx is done, invoking onChange whenever the stored
	// content may have changed. Bursts may be coalesced into one call.
	Watch(ctx context.Context, onChange func()) error
}

var (
	// ErrClosed is returned by operations on a closed Document.
	ErrClosed = errors.New("storage: document closed")

	// ErrConflict is returned when an optimistic update kept losing races
	// with concurrent writers and gave up.
	ErrConflict = errors.New("storage: too many concurrent update conflicts")
)
