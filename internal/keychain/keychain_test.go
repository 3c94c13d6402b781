package keychain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/atinyakov/stripekeeper/internal/entry"
	"github.com/atinyakov/stripekeeper/internal/models"
)

func TestStore_SetGetDelete(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	s := New()

	if _, err := s.Get(ctx, "svc", "alice.1"); !errors.Is(err, models.ErrEntryNotFound) {
		t.Fatalf("Get on empty keyring = %v; want ErrEntryNotFound", err)
	}
	if err := s.Set(ctx, "svc", "alice.1", []byte("1/1|pw")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "svc", "alice.1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "1/1|pw" {
		t.Errorf("Get = %q; want %q", got, "1/1|pw")
	}
	if err := s.Delete(ctx, "svc", "alice.1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "svc", "alice.1"); !errors.Is(err, models.ErrEntryNotFound) {
		t.Errorf("second Delete = %v; want ErrEntryNotFound", err)
	}
}

func TestStore_BackendError(t *testing.T) {
	boom := errors.New("keychain locked")
	keyring.MockInitWithError(boom)
	s := New()

	err := s.Set(context.Background(), "svc", "alice.1", []byte("x"))
	if !errors.Is(err, boom) {
		t.Fatalf("Set = %v; want wrapped %v", err, boom)
	}
	if !strings.Contains(err.Error(), "keyring set") {
		t.Errorf("Set error = %q; want keyring set prefix", err)
	}
}

func TestStore_WithEntry(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	e, err := entry.New(New(), "svc", "bob", entry.Limits{MaxEntryBytes: 64}, nil)
	if err != nil {
		t.Fatalf("entry.New failed: %v", err)
	}
	secret := strings.Repeat("0123456789", 50)
	if err := e.SetPassword(ctx, secret); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	got, err := e.GetPassword(ctx)
	if err != nil {
		t.Fatalf("GetPassword failed: %v", err)
	}
	if got != secret {
		t.Errorf("GetPassword returned %d bytes; want %d", len(got), len(secret))
	}
	if err := e.DeleteCredential(ctx); err != nil {
		t.Fatalf("DeleteCredential failed: %v", err)
	}
	if _, err := keyring.Get("svc", "bob.1"); !errors.Is(err, keyring.ErrNotFound) {
		t.Errorf("chunk 1 still present after delete: %v", err)
	}
}

func TestMaxEntryBytes(t *testing.T) {
	tests := map[string]int{"darwin": 2048, "ios": 2048, "windows": 2560, "linux": 0}
	for goos, want := range tests {
		if got := maxEntryBytes(goos); got != want {
			t.Errorf("maxEntryBytes(%q) = %d; want %d", goos, got, want)
		}
	}
	if limit := MaxEntryBytes(); limit > 0 && entry.DefaultMaxEntryBytes() > limit {
		t.Errorf("default entry size %d exceeds the keychain cap %d", entry.DefaultMaxEntryBytes(), limit)
	}
}

func TestStore_DataTooBigKeepsSentinel(t *testing.T) {
	keyring.MockInitWithError(keyring.ErrSetDataTooBig)
	defer keyring.MockInit()

	err := New().Set(context.Background(), "svc", "alice.1", []byte("x"))
	if !errors.Is(err, ErrDataTooBig) {
		t.Errorf("Set = %v; want ErrDataTooBig", err)
	}
}
