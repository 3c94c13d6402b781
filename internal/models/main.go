// Package models defines the core data structures shared by the striping
// protocol and the credential store backends.
package models

import (
	"errors"
	"strconv"
)

// ErrEntryNotFound is returned by credential store backends when no entry
// exists under the requested (service, user) key.
var ErrEntryNotFound = errors.New("credential entry not found")

// Identity addresses one logical secret.
type Identity struct {
	// Service is the credential store service name.
	Service string `json:"service"`
	// User is the account name the chunk keys are derived from.
	User string `json:"user"`
}

// ChunkKey returns the store account name for chunk index i (1-based).
func (id Identity) ChunkKey(i uint32) string {
	return id.User + "." + strconv.FormatUint(uint64(i), 10)
}

// Frame is the parsed form of a single chunk entry.
type Frame struct {
	// Part is the 1-based position of this chunk.
	Part uint32 `json:"part"`
	// Total is the number of chunks written together with this one.
	Total uint32 `json:"total"`
	// Payload is the slice of the secret carried by this chunk.
	Payload []byte `json:"-"`
}
