// Package storage provides a local credential store kept in memory and,
// when a path is set, persisted as a JSON file. It backs the "file" and
// "memory" backends and serves as the store fake in tests.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/atinyakov/stripekeeper/internal/models"
)

// ErrEntryTooLarge is returned by Set when data exceeds MaxEntryBytes.
var ErrEntryTooLarge = errors.New("entry exceeds store size limit")

// LocalStorage maps service -> user -> data. The zero value is an empty,
// memory-only store. It is safe for concurrent use.
type LocalStorage struct {
	Entries map[string]map[string][]byte `json:"entries"`

	// Path is the JSON file the store is saved to; empty keeps it in memory.
	Path string `json:"-"`
	// MaxEntryBytes rejects larger entries like a platform store would.
	// Zero disables the check.
	MaxEntryBytes int `json:"-"`

	mu sync.Mutex
}

// NewLocalStorage returns a store bound to path and loads it if the file
// exists.
func NewLocalStorage(path string, maxEntryBytes int) (*LocalStorage, error) {
	ls := &LocalStorage{Path: path, MaxEntryBytes: maxEntryBytes}
	if err := ls.Load(); err != nil {
		return nil, err
	}
	return ls, nil
}

// Load reads the file at Path. A missing file leaves the store empty.
func (ls *LocalStorage) Load() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.Entries = make(map[string]map[string][]byte)
	if ls.Path == "" {
		return nil
	}
	f, err := os.Open(ls.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open storage: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(ls); err != nil {
		return fmt.Errorf("decode storage: %w", err)
	}
	if ls.Entries == nil {
		ls.Entries = make(map[string]map[string][]byte)
	}
	return nil
}

// Save writes the store to Path. It is a no-op for memory-only stores.
func (ls *LocalStorage) Save() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.save()
}

func (ls *LocalStorage) save() error {
	if ls.Path == "" {
		return nil
	}
	f, err := os.OpenFile(ls.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(ls)
}

// Set stores a copy of data under (service, user).
func (ls *LocalStorage) Set(ctx context.Context, service, user string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ls.MaxEntryBytes > 0 && len(data) > ls.MaxEntryBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, len(data), ls.MaxEntryBytes)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.Entries == nil {
		ls.Entries = make(map[string]map[string][]byte)
	}
	users, ok := ls.Entries[service]
	if !ok {
		users = make(map[string][]byte)
		ls.Entries[service] = users
	}
	users[user] = append([]byte(nil), data...)
	return ls.save()
}

// Get returns a copy of the entry, or models.ErrEntryNotFound.
func (ls *LocalStorage) Get(ctx context.Context, service, user string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	data, ok := ls.Entries[service][user]
	if !ok {
		return nil, models.ErrEntryNotFound
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the entry, or returns models.ErrEntryNotFound.
func (ls *LocalStorage) Delete(ctx context.Context, service, user string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	users := ls.Entries[service]
	if _, ok := users[user]; !ok {
		return models.ErrEntryNotFound
	}
	delete(users, user)
	if len(users) == 0 {
		delete(ls.Entries, service)
	}
	return ls.save()
}

// Keys lists the user names stored for service in sorted order.
func (ls *LocalStorage) Keys(service string) []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	keys := make([]string, 0, len(ls.Entries[service]))
	for k := range ls.Entries[service] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
