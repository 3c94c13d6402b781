// Package entry stores secrets of any size under one (service, user)
// identity by striping them across several credential store entries.
//
// Chunk i of an identity lives under the account name "user.i" and holds
// "i/total|payload". The store is the only state: an Entry keeps nothing
// between calls, and every operation tolerates the partial states left by
// an interrupted write or delete.
package entry

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/atinyakov/stripekeeper/internal/chunk"
	"github.com/atinyakov/stripekeeper/internal/models"
)

// Store is the credential backend an Entry stripes over. Get and Delete
// return models.ErrEntryNotFound when the entry is absent.
type Store interface {
	Set(ctx context.Context, service, user string, data []byte) error
	Get(ctx context.Context, service, user string) ([]byte, error)
	Delete(ctx context.Context, service, user string) error
}

// Entry is a logical secret addressed by (service, user).
//
// Writes are not atomic and no locking is done; concurrent writers to the
// same identity must be serialized by the caller.
type Entry struct {
	store  Store
	id     models.Identity
	limits Limits
	log    *zap.Logger
}

// New creates an Entry for the given service and user. Zero fields in
// limits take their defaults. A nil logger disables logging.
func New(store Store, service, user string, limits Limits, log *zap.Logger) (*Entry, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is nil", ErrInvalidArgument)
	}
	if service == "" {
		return nil, fmt.Errorf("%w: service cannot be empty", ErrInvalidArgument)
	}
	if user == "" {
		return nil, fmt.Errorf("%w: user cannot be empty", ErrInvalidArgument)
	}
	if log == nil {
		log = zap.NewNop()
	}
	id := models.Identity{Service: service, User: user}
	return &Entry{
		store:  store,
		id:     id,
		limits: limits.withDefaults(),
		log:    log.With(zap.String("service", service), zap.String("user", user)),
	}, nil
}

// Identity returns the identity this entry addresses.
func (e *Entry) Identity() models.Identity {
	return e.id
}

// SetPassword stores a UTF-8 password.
func (e *Entry) SetPassword(ctx context.Context, password string) error {
	return e.SetSecret(ctx, []byte(password))
}

// GetPassword returns the stored secret as a string. It fails with
// ErrBadEncoding when the secret is not valid UTF-8.
func (e *Entry) GetPassword(ctx context.Context) (string, error) {
	secret, err := e.GetSecret(ctx)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(secret) {
		return "", ErrBadEncoding
	}
	return string(secret), nil
}

// SetSecret stores secret, overwriting any previous one.
//
// Chunks are written in ascending order, so a reader racing the write sees
// either the old secret or a sequence that fails consistency checks. Once
// every new chunk is written, chunks left over from a longer previous
// secret are deleted; if that fails the new secret is still in place and
// the returned error wraps ErrOrphanCleanup.
func (e *Entry) SetSecret(ctx context.Context, secret []byte) error {
	frames, err := chunk.Split(secret, e.limits.MaxEntryBytes, e.limits.MaxChunkCount)
	if err != nil {
		return err
	}

	oldTotal := e.probeTotal(ctx)

	for _, f := range frames {
		key := e.id.ChunkKey(f.Part)
		if err := e.store.Set(ctx, e.id.Service, key, chunk.Encode(f.Part, f.Total, f.Payload)); err != nil {
			return &StoreError{Op: "set", Index: f.Part, Key: key, Err: err}
		}
	}
	newTotal := uint32(len(frames))
	e.log.Debug("secret written",
		zap.Int("bytes", len(secret)),
		zap.Uint32("chunks", newTotal),
		zap.Uint32("previous_chunks", oldTotal),
	)

	removed, err := e.removeOrphans(ctx, newTotal+1, oldTotal)
	if removed > 0 {
		e.log.Debug("orphan chunks removed", zap.Int("removed", removed))
	}
	if err != nil {
		e.log.Warn("orphan chunks left in store", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrOrphanCleanup, err)
	}
	return nil
}

// GetSecret reassembles the stored secret. It returns ErrNotFound when
// nothing is stored, ErrCorruptHeader for undecodable chunks and
// ErrInconsistent for partial sequences; backend failures come back as
// *StoreError.
func (e *Entry) GetSecret(ctx context.Context) ([]byte, error) {
	return chunk.Assemble(func(part uint32) ([]byte, error) {
		return e.get(ctx, part)
	})
}

// DeleteCredential removes every chunk of the secret. Absent chunks are not
// an error, so it is safe to call on a missing, complete or half-deleted
// secret, and to retry after any failure.
//
// When chunk 1 is readable, chunks total..1 are deleted from the back so
// an interrupted delete still leaves chunk 1 to learn the total from.
// Indices past that are then probed until NotFoundConfirmationCount
// consecutive misses.
func (e *Entry) DeleteCredential(ctx context.Context) error {
	total := min(e.probeTotal(ctx), e.limits.maxIndex())

	removed := 0
	for i := total; i >= 1; i-- {
		found, err := e.delete(ctx, i)
		if err != nil {
			return err
		}
		if found {
			removed++
		}
	}

	err := e.walk(total+1, 0, func(i uint32) (bool, error) {
		found, err := e.delete(ctx, i)
		if found {
			removed++
		}
		return found, err
	})
	e.log.Debug("credential deleted", zap.Int("removed", removed), zap.Uint32("recorded_total", total))
	return err
}

// removeOrphans deletes chunks from index from upward, continuing past
// failures so one stuck chunk does not hide the rest. Past through, a run
// of NotFoundConfirmationCount failed deletes ends the sweep like a run of
// misses does.
func (e *Entry) removeOrphans(ctx context.Context, from, through uint32) (int, error) {
	var (
		removed  int
		failures int
		errs     error
	)
	_ = e.walk(from, through, func(i uint32) (bool, error) {
		found, err := e.delete(ctx, i)
		if err != nil {
			errs = multierr.Append(errs, err)
			failures++
			if i >= through && failures >= e.limits.NotFoundConfirmationCount {
				return false, err
			}
			return true, nil
		}
		failures = 0
		if found {
			removed++
		}
		return found, nil
	})
	return removed, errs
}

// walk visits indices from `from` upward. It stops once the index is at
// least through and NotFoundConfirmationCount consecutive visits reported
// a miss, or at the index bound.
func (e *Entry) walk(from, through uint32, visit func(i uint32) (bool, error)) error {
	misses := 0
	for i := from; i >= 1 && i <= e.limits.maxIndex(); i++ {
		found, err := visit(i)
		if err != nil {
			return err
		}
		if found {
			misses = 0
			continue
		}
		misses++
		if misses >= e.limits.NotFoundConfirmationCount && i >= through {
			return nil
		}
	}
	return nil
}

// probeTotal returns the total recorded by chunk 1, or 0 when it cannot be
// read or decoded.
func (e *Entry) probeTotal(ctx context.Context) uint32 {
	raw, err := e.get(ctx, 1)
	if err != nil {
		if !errors.Is(err, models.ErrEntryNotFound) {
			e.log.Debug("probe of chunk 1 failed", zap.Error(err))
		}
		return 0
	}
	frame, err := chunk.Decode(raw)
	if err != nil {
		e.log.Debug("chunk 1 has no usable header", zap.Error(err))
		return 0
	}
	return frame.Total
}

// get returns models.ErrEntryNotFound unwrapped so callers can match it
// cheaply; other failures are annotated.
func (e *Entry) get(ctx context.Context, i uint32) ([]byte, error) {
	key := e.id.ChunkKey(i)
	raw, err := e.store.Get(ctx, e.id.Service, key)
	if err != nil {
		if errors.Is(err, models.ErrEntryNotFound) {
			return nil, models.ErrEntryNotFound
		}
		return nil, &StoreError{Op: "get", Index: i, Key: key, Err: err}
	}
	return raw, nil
}

// delete reports whether an entry was present.
func (e *Entry) delete(ctx context.Context, i uint32) (bool, error) {
	key := e.id.ChunkKey(i)
	err := e.store.Delete(ctx, e.id.Service, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrEntryNotFound):
		return false, nil
	default:
		return false, &StoreError{Op: "delete", Index: i, Key: key, Err: err}
	}
}
