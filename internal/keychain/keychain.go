// Package keychain adapts the operating system credential store (macOS
// Keychain, Windows Credential Manager, Secret Service on Linux) to the
// store interface used by entry.Entry.
package keychain

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/zalando/go-keyring"

	"github.com/atinyakov/stripekeeper/internal/models"
)

var (
	// ErrUnsupported is returned when the platform has no credential store.
	ErrUnsupported = keyring.ErrUnsupportedPlatform
	// ErrDataTooBig is returned when the OS store rejects an entry's size.
	ErrDataTooBig = keyring.ErrSetDataTooBig
)

// MaxEntryBytes returns the largest entry the OS store accepts through
// go-keyring on this platform, or 0 when there is no practical cap.
func MaxEntryBytes() int {
	return maxEntryBytes(runtime.GOOS)
}

// maxEntryBytes leaves room on macOS for the base64 expansion, the
// "go-keyring-base64:" prefix and the service and account names inside
// the 4096-byte command go-keyring hands to /usr/bin/security. Windows
// credential blobs are capped at 2560 bytes.
func maxEntryBytes(goos string) int {
	switch goos {
	case "darwin", "ios":
		return 2048
	case "windows":
		return 2560
	default:
		return 0
	}
}

// Store talks to the OS credential store through go-keyring.
//
// go-keyring deals in strings; chunk bytes are passed through unchanged.
type Store struct{}

// New returns an OS keyring store.
func New() *Store {
	return &Store{}
}

// Set writes data under (service, user).
func (s *Store) Set(ctx context.Context, service, user string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Set(service, user, string(data)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

// Get reads the entry, mapping a missing item to models.ErrEntryNotFound.
func (s *Store) Get(ctx context.Context, service, user string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	secret, err := keyring.Get(service, user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, models.ErrEntryNotFound
		}
		return nil, fmt.Errorf("keyring get: %w", err)
	}
	return []byte(secret), nil
}

// Delete removes the entry, mapping a missing item to models.ErrEntryNotFound.
func (s *Store) Delete(ctx context.Context, service, user string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyring.Delete(service, user); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return models.ErrEntryNotFound
		}
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
