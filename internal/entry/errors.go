package entry

import (
	"errors"
	"fmt"

	"github.com/atinyakov/stripekeeper/internal/chunk"
)

// Errors surfaced by Entry operations. Callers match them with errors.Is.
var (
	// ErrNotFound indicates no secret is stored under the identity.
	ErrNotFound = chunk.ErrNotFound
	// ErrLimitTooSmall indicates MaxEntryBytes cannot hold a header and one byte.
	ErrLimitTooSmall = chunk.ErrLimitTooSmall
	// ErrTooManyChunks indicates the secret needs more than MaxChunkCount entries.
	ErrTooManyChunks = chunk.ErrTooManyChunks
	// ErrCorruptHeader indicates an entry exists but its header does not parse.
	ErrCorruptHeader = chunk.ErrCorruptHeader
	// ErrInconsistent indicates a partial or interleaved chunk sequence;
	// DeleteCredential clears it.
	ErrInconsistent = chunk.ErrInconsistent

	// ErrInvalidArgument indicates an empty service or user.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrBadEncoding indicates the stored secret is not valid UTF-8.
	ErrBadEncoding = errors.New("secret is not valid UTF-8")
	// ErrOrphanCleanup indicates the new secret was written but trailing
	// chunks of a previous secret could not be removed.
	ErrOrphanCleanup = errors.New("orphan chunk cleanup failed")
)

// StoreError annotates a backend failure with the chunk it happened on.
type StoreError struct {
	// Op is "set", "get" or "delete".
	Op string
	// Index is the 1-based chunk index.
	Index uint32
	// Key is the store account name that was addressed.
	Key string
	// Err is the backend error.
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s chunk %d (%s): %v", e.Op, e.Index, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
