package chunk

import (
	"errors"
	"fmt"

	"github.com/atinyakov/stripekeeper/internal/models"
)

var (
	// ErrNotFound indicates that part 1 is absent, so nothing is stored.
	ErrNotFound = errors.New("secret not found")
	// ErrCorruptHeader indicates a present entry whose header does not decode.
	ErrCorruptHeader = errors.New("corrupt chunk header")
	// ErrInconsistent indicates chunks that do not form a complete 1..total
	// sequence, typically after an interrupted write or delete.
	ErrInconsistent = errors.New("inconsistent chunk sequence")
)

// FetchFunc returns the raw entry for a part, or models.ErrEntryNotFound.
type FetchFunc func(part uint32) ([]byte, error)

// Assemble reads parts 1..total through fetch and returns the concatenated
// payloads. The total recorded by part 1 bounds the read; entries past it
// are never requested.
func Assemble(fetch FetchFunc) ([]byte, error) {
	first, err := fetchFrame(fetch, 1)
	if err != nil {
		if errors.Is(err, models.ErrEntryNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if first.Part != 1 {
		return nil, fmt.Errorf("%w: entry 1 holds part %d/%d", ErrInconsistent, first.Part, first.Total)
	}
	if first.Total == 1 {
		return first.Payload, nil
	}

	total := first.Total
	// total comes from untrusted store data; don't let it size the buffer alone.
	secret := make([]byte, 0, len(first.Payload)*int(min(total, 1024)))
	secret = append(secret, first.Payload...)

	for i := uint32(2); i <= total; i++ {
		frame, err := fetchFrame(fetch, i)
		if err != nil {
			if errors.Is(err, models.ErrEntryNotFound) {
				return nil, fmt.Errorf("%w: entry %d of %d is missing", ErrInconsistent, i, total)
			}
			return nil, err
		}
		if frame.Total != total {
			return nil, fmt.Errorf("%w: entry %d records total %d, expected %d", ErrInconsistent, i, frame.Total, total)
		}
		if frame.Part != i {
			return nil, fmt.Errorf("%w: entry %d holds part %d", ErrInconsistent, i, frame.Part)
		}
		secret = append(secret, frame.Payload...)
	}
	return secret, nil
}

func fetchFrame(fetch FetchFunc, i uint32) (models.Frame, error) {
	raw, err := fetch(i)
	if err != nil {
		return models.Frame{}, err
	}
	frame, err := Decode(raw)
	if err != nil {
		return models.Frame{}, fmt.Errorf("%w: entry %d: %w", ErrCorruptHeader, i, err)
	}
	return frame, nil
}
