package entry_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/atinyakov/stripekeeper/internal/chunk"
	"github.com/atinyakov/stripekeeper/internal/entry"
	"github.com/atinyakov/stripekeeper/internal/models"
	"github.com/atinyakov/stripekeeper/internal/storage"
)

const service = "stripekeeper-test"

// mockStore wraps a LocalStorage and lets tests inject failures.
type mockStore struct {
	*storage.LocalStorage
	SetFunc    func(ctx context.Context, service, user string, data []byte) error
	GetFunc    func(ctx context.Context, service, user string) ([]byte, error)
	DeleteFunc func(ctx context.Context, service, user string) error

	sets    []string
	deletes []string
}

func newMockStore(limit int) *mockStore {
	return &mockStore{LocalStorage: &storage.LocalStorage{MaxEntryBytes: limit}}
}

func (m *mockStore) Set(ctx context.Context, service, user string, data []byte) error {
	m.sets = append(m.sets, user)
	if m.SetFunc != nil {
		if err := m.SetFunc(ctx, service, user, data); err != nil {
			return err
		}
	}
	return m.LocalStorage.Set(ctx, service, user, data)
}

func (m *mockStore) Get(ctx context.Context, service, user string) ([]byte, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, service, user)
	}
	return m.LocalStorage.Get(ctx, service, user)
}

func (m *mockStore) Delete(ctx context.Context, service, user string) error {
	m.deletes = append(m.deletes, user)
	if m.DeleteFunc != nil {
		if err := m.DeleteFunc(ctx, service, user); err != nil {
			return err
		}
	}
	return m.LocalStorage.Delete(ctx, service, user)
}

func newEntry(t *testing.T, store entry.Store, limit int) *entry.Entry {
	t.Helper()
	e, err := entry.New(store, service, "alice", entry.Limits{MaxEntryBytes: limit}, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestNew_InvalidArguments(t *testing.T) {
	store := &storage.LocalStorage{}
	cases := []struct {
		name    string
		store   entry.Store
		service string
		user    string
	}{
		{"empty service", store, "", "alice"},
		{"empty user", store, service, ""},
		{"nil store", nil, service, "alice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := entry.New(tc.store, tc.service, tc.user, entry.Limits{}, nil)
			assert.ErrorIs(t, err, entry.ErrInvalidArgument)
		})
	}
}

func TestRoundTrip_LengthsAndLimits(t *testing.T) {
	ctx := context.Background()
	lengths := []int{0, 1, 15, 16, 17, 44, 45, 100, 999, 4096, 10000}
	limits := []int{5, 6, 20, 64, 257, 2048}

	for _, limit := range limits {
		for _, n := range lengths {
			t.Run(fmt.Sprintf("limit=%d/len=%d", limit, n), func(t *testing.T) {
				store := &storage.LocalStorage{MaxEntryBytes: limit}
				e, err := entry.New(store, service, "alice", entry.Limits{MaxEntryBytes: limit, MaxChunkCount: 20000}, nil)
				require.NoError(t, err)

				secret := strings.Repeat("x", n)
				err = e.SetPassword(ctx, secret)
				if errors.Is(err, entry.ErrLimitTooSmall) {
					// Tiny limits cannot hold a multi-digit header.
					require.Less(t, limit, 10)
					return
				}
				require.NoError(t, err)

				got, err := e.GetPassword(ctx)
				require.NoError(t, err)
				assert.Equal(t, secret, got)
			})
		}
	}
}

func TestRoundTrip_BinarySecret(t *testing.T) {
	ctx := context.Background()
	store := &storage.LocalStorage{MaxEntryBytes: 100}
	e := newEntry(t, store, 100)

	secret := make([]byte, 3000)
	for i := range secret {
		secret[i] = byte(i % 256)
	}
	require.NoError(t, e.SetSecret(ctx, secret))

	got, err := e.GetSecret(ctx)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(secret, got))

	_, err = e.GetPassword(ctx)
	assert.ErrorIs(t, err, entry.ErrBadEncoding)
}

func TestConcreteScenario(t *testing.T) {
	ctx := context.Background()
	store := &storage.LocalStorage{MaxEntryBytes: 20}
	e := newEntry(t, store, 20)

	secret := "The quick brown fox jumps over the lazy dog!!"
	require.Len(t, secret, 45)
	require.NoError(t, e.SetPassword(ctx, secret))

	assert.Equal(t, []string{"alice.1", "alice.2", "alice.3"}, store.Keys(service))
	for i, size := range []int{16, 16, 13} {
		raw, err := store.Get(ctx, service, fmt.Sprintf("alice.%d", i+1))
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(raw, []byte(fmt.Sprintf("%d/3|", i+1))))
		assert.Len(t, raw, 4+size)
	}

	got, err := e.GetPassword(ctx)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestMinimalOverhead(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(0)
	e := newEntry(t, store, 2048)

	require.NoError(t, e.SetPassword(ctx, strings.Repeat("p", entry.MaxChunkPayload(entry.Limits{MaxEntryBytes: 2048}))))
	assert.Equal(t, []string{"alice.1"}, store.sets)
	assert.Equal(t, []string{"alice.1"}, store.Keys(service))

	raw, err := store.LocalStorage.Get(ctx, service, "alice.1")
	require.NoError(t, err)
	assert.Len(t, raw, 2048)
}

func TestWritesAscending(t *testing.T) {
	store := newMockStore(0)
	e := newEntry(t, store, 10)

	require.NoError(t, e.SetPassword(context.Background(), strings.Repeat("a", 20)))
	assert.Equal(t, []string{"alice.1", "alice.2", "alice.3", "alice.4"}, store.sets)
}

func TestGet_NotFound(t *testing.T) {
	e := newEntry(t, &storage.LocalStorage{}, 100)
	_, err := e.GetPassword(context.Background())
	assert.ErrorIs(t, err, entry.ErrNotFound)
}

func TestIdempotentDelete(t *testing.T) {
	ctx := context.Background()
	store := &storage.LocalStorage{}
	e := newEntry(t, store, 20)

	require.NoError(t, e.DeleteCredential(ctx))

	require.NoError(t, e.SetPassword(ctx, strings.Repeat("s", 100)))
	require.NoError(t, e.DeleteCredential(ctx))
	require.NoError(t, e.DeleteCredential(ctx))

	assert.Empty(t, store.Keys(service))
	_, err := e.GetPassword(ctx)
	assert.ErrorIs(t, err, entry.ErrNotFound)
}

func TestDelete_ResumesAfterInterruption(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(0)
	e := newEntry(t, store, 20)
	require.NoError(t, e.SetPassword(ctx, strings.Repeat("s", 80)))
	require.Len(t, store.Keys(service), 5)

	boom := errors.New("backend unavailable")
	store.DeleteFunc = func(_ context.Context, _, user string) error {
		if user == "alice.3" {
			return boom
		}
		return nil
	}
	err := e.DeleteCredential(ctx)
	var serr *entry.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "delete", serr.Op)
	assert.Equal(t, uint32(3), serr.Index)
	assert.ErrorIs(t, err, boom)

	// chunk 1 survives so a retry still knows the total.
	assert.Equal(t, []string{"alice.1", "alice.2", "alice.3"}, store.Keys(service))

	store.DeleteFunc = nil
	require.NoError(t, e.DeleteCredential(ctx))
	assert.Empty(t, store.Keys(service))
}

func TestDelete_ToleratesGap(t *testing.T) {
	ctx := context.Background()
	store := &storage.LocalStorage{}
	for _, k := range []string{"alice.2", "alice.4", "alice.5"} {
		require.NoError(t, store.Set(ctx, service, k, []byte("x/y|")))
	}
	e := newEntry(t, store, 20)

	require.NoError(t, e.DeleteCredential(ctx))
	assert.Empty(t, store.Keys(service))
}

func TestShrinkCleanup(t *testing.T) {
	ctx := context.Background()
	store := &storage.LocalStorage{}
	e := newEntry(t, store, 20)

	long := strings.Repeat("L", 80)
	require.NoError(t, e.SetPassword(ctx, long))
	raw, err := store.Get(ctx, service, "alice.1")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte("1/5|")))

	require.NoError(t, e.SetPassword(ctx, "short"))
	for i := 2; i <= 5; i++ {
		_, err := store.Get(ctx, service, fmt.Sprintf("alice.%d", i))
		assert.ErrorIs(t, err, models.ErrEntryNotFound, "alice.%d", i)
	}

	got, err := e.GetPassword(ctx)
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestShrinkCleanup_FailureKeepsNewSecret(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	store := newMockStore(0)
	e, err := entry.New(store, service, "alice", entry.Limits{MaxEntryBytes: 20}, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, e.SetPassword(ctx, strings.Repeat("L", 80)))

	boom := errors.New("locked")
	store.DeleteFunc = func(_ context.Context, _, user string) error {
		if user == "alice.3" {
			return boom
		}
		return nil
	}
	err = e.SetPassword(ctx, "short")
	assert.ErrorIs(t, err, entry.ErrOrphanCleanup)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, logs.FilterMessage("orphan chunks left in store").Len())

	// the rest of the orphans were still removed
	assert.Equal(t, []string{"alice.1", "alice.3"}, store.Keys(service))

	got, err := e.GetPassword(ctx)
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestShrinkCleanup_StoreDownStopsSweep(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(0)
	e := newEntry(t, store, 20)

	require.NoError(t, e.SetPassword(ctx, strings.Repeat("L", 80)))

	store.deletes = nil
	store.DeleteFunc = func(context.Context, string, string) error {
		return errors.New("backend unavailable")
	}
	err := e.SetPassword(ctx, "short")
	assert.ErrorIs(t, err, entry.ErrOrphanCleanup)

	// only the recorded orphans are attempted; the sweep does not run on
	// to the index bound against a dead backend
	assert.Equal(t, []string{"alice.2", "alice.3", "alice.4", "alice.5"}, store.deletes)

	got, err := e.GetPassword(ctx)
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestCorruptionDetection(t *testing.T) {
	ctx := context.Background()
	store := &storage.LocalStorage{}
	require.NoError(t, store.Set(ctx, service, "alice.1", []byte("3/x|data")))
	e := newEntry(t, store, 20)

	got, err := e.GetPassword(ctx)
	assert.Empty(t, got)
	assert.ErrorIs(t, err, entry.ErrCorruptHeader)

	// delete clears foreign data too
	require.NoError(t, e.DeleteCredential(ctx))
	assert.Empty(t, store.Keys(service))
}

func TestInterruptedWriteDetection(t *testing.T) {
	ctx := context.Background()
	store := newMockStore(0)
	e := newEntry(t, store, 20)

	boom := errors.New("crash")
	store.SetFunc = func(_ context.Context, _, user string, _ []byte) error {
		if user == "alice.2" {
			return boom
		}
		return nil
	}
	err := e.SetPassword(ctx, strings.Repeat("i", 40))
	var serr *entry.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "set", serr.Op)
	assert.Equal(t, uint32(2), serr.Index)

	raw, err := store.Get(ctx, service, "alice.1")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte("1/3|")))

	_, err = e.GetPassword(ctx)
	assert.ErrorIs(t, err, entry.ErrInconsistent)

	require.NoError(t, e.DeleteCredential(ctx))
	_, err = e.GetPassword(ctx)
	assert.ErrorIs(t, err, entry.ErrNotFound)
}

func TestSet_SplitFailureWritesNothing(t *testing.T) {
	store := newMockStore(0)
	e, err := entry.New(store, service, "alice", entry.Limits{MaxEntryBytes: 10, MaxChunkCount: 2}, nil)
	require.NoError(t, err)

	err = e.SetPassword(context.Background(), strings.Repeat("x", 100))
	assert.ErrorIs(t, err, entry.ErrTooManyChunks)
	assert.Empty(t, store.sets)

	e, err = entry.New(store, service, "alice", entry.Limits{MaxEntryBytes: 4}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, e.SetPassword(context.Background(), "x"), entry.ErrLimitTooSmall)
}

func TestGet_StoreErrorAnnotated(t *testing.T) {
	boom := errors.New("dbus timeout")
	store := newMockStore(0)
	store.GetFunc = func(context.Context, string, string) ([]byte, error) { return nil, boom }
	e := newEntry(t, store, 20)

	_, err := e.GetPassword(context.Background())
	var serr *entry.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "get", serr.Op)
	assert.Equal(t, uint32(1), serr.Index)
	assert.Equal(t, "alice.1", serr.Key)
	assert.ErrorIs(t, err, boom)
}

// stuckStore reports every delete as successful but never holds data,
// like a backend that silently ignores deletes.
type stuckStore struct{ deletes int }

func (s *stuckStore) Set(context.Context, string, string, []byte) error { return nil }
func (s *stuckStore) Get(context.Context, string, string) ([]byte, error) {
	return nil, models.ErrEntryNotFound
}
func (s *stuckStore) Delete(context.Context, string, string) error {
	s.deletes++
	return nil
}

func TestDelete_StopsAtBound(t *testing.T) {
	store := &stuckStore{}
	e, err := entry.New(store, service, "alice", entry.Limits{MaxEntryBytes: 20, MaxChunkCount: 10, NotFoundConfirmationCount: 3}, nil)
	require.NoError(t, err)

	require.NoError(t, e.DeleteCredential(context.Background()))
	assert.Equal(t, 13, store.deletes)
}

func TestNotFoundConfirmationCountFloor(t *testing.T) {
	store := newMockStore(0)
	e, err := entry.New(store, service, "alice", entry.Limits{NotFoundConfirmationCount: 1}, nil)
	require.NoError(t, err)

	require.NoError(t, e.DeleteCredential(context.Background()))
	assert.Equal(t, []string{"alice.1", "alice.2"}, store.deletes)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := &storage.LocalStorage{}
	e := newEntry(t, store, 20)

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.StateAbsent, snap.State())

	require.NoError(t, e.SetPassword(ctx, strings.Repeat("s", 40)))
	snap, err = e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.StatePresent, snap.State())
	require.Len(t, snap.Chunks, 3)
	assert.Equal(t, uint32(3), snap.Chunks[2].Total)
	assert.Empty(t, snap.Orphans())

	require.NoError(t, store.Set(ctx, service, "alice.5", chunk.Encode(5, 6, []byte("old"))))
	snap, err = e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.StatePresent, snap.State())
	assert.Equal(t, []uint32{5}, snap.Orphans())

	require.NoError(t, store.Delete(ctx, service, "alice.2"))
	snap, err = e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.StatePartial, snap.State())

	require.NoError(t, store.Set(ctx, service, "alice.1", []byte("junk")))
	snap, err = e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, entry.StateCorrupt, snap.State())
}

func TestMaxChunkPayload(t *testing.T) {
	assert.Equal(t, 16, entry.MaxChunkPayload(entry.Limits{MaxEntryBytes: 20}))
	assert.Equal(t, entry.DefaultMaxEntryBytes()-4, entry.MaxChunkPayload(entry.Limits{}))
}
