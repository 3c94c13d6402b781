package entry

import (
	"cmp"
	"runtime"

	"github.com/atinyakov/stripekeeper/internal/chunk"
)

const (
	// DefaultMaxChunkCount bounds how many entries a single secret may use.
	DefaultMaxChunkCount = 1024
	// DefaultNotFoundConfirmationCount is how many consecutive misses end a
	// delete probe.
	DefaultNotFoundConfirmationCount = 2
)

// Limits configures how secrets are striped over the store.
type Limits struct {
	// MaxEntryBytes caps one encoded entry, header included.
	MaxEntryBytes int `json:"max_entry_bytes"`
	// MaxChunkCount caps the number of entries per secret.
	MaxChunkCount int `json:"max_chunk_count"`
	// NotFoundConfirmationCount is the consecutive-miss threshold that ends
	// a delete probe. Values below 2 are raised to 2.
	NotFoundConfirmationCount int `json:"not_found_confirmation_count"`
}

// DefaultMaxEntryBytes returns the per-entry size used when none is
// configured. Real backend limits vary by version, so these are
// conservative.
func DefaultMaxEntryBytes() int {
	return defaultMaxEntryBytes(runtime.GOOS)
}

// defaultMaxEntryBytes sizes entries for the OS keyring of goos. The macOS
// keychain is reached through go-keyring, which base64-encodes the value
// into a 4096-byte "security -i" command line, so 2048 raw bytes is the
// most that fits alongside the service and account names.
func defaultMaxEntryBytes(goos string) int {
	switch goos {
	case "windows":
		return 2048
	case "darwin", "ios":
		return 2048
	case "linux":
		return 8192
	default:
		return 2048
	}
}

// DefaultLimits returns the platform defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxEntryBytes:             DefaultMaxEntryBytes(),
		MaxChunkCount:             DefaultMaxChunkCount,
		NotFoundConfirmationCount: DefaultNotFoundConfirmationCount,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	l.MaxEntryBytes = cmp.Or(l.MaxEntryBytes, d.MaxEntryBytes)
	l.MaxChunkCount = cmp.Or(l.MaxChunkCount, d.MaxChunkCount)
	l.NotFoundConfirmationCount = max(l.NotFoundConfirmationCount, d.NotFoundConfirmationCount)
	return l
}

// maxIndex is the highest chunk index a delete probe will visit.
func (l Limits) maxIndex() uint32 {
	return uint32(l.MaxChunkCount + l.NotFoundConfirmationCount)
}

// MaxChunkPayload reports how many secret bytes fit into a single entry.
// Secrets up to this size are stored with one entry.
func MaxChunkPayload(l Limits) int {
	l = l.withDefaults()
	return max(chunk.PayloadCapacity(l.MaxEntryBytes, 1), 0)
}
