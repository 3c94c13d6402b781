package chunk

import (
	"errors"
	"fmt"

	"github.com/atinyakov/stripekeeper/internal/models"
)

// minHeaderLen is the length of "1/1|".
const minHeaderLen = 4

var (
	// ErrLimitTooSmall indicates the entry limit cannot hold a header plus at
	// least one payload byte.
	ErrLimitTooSmall = errors.New("entry limit too small for chunk header")
	// ErrTooManyChunks indicates the payload would need more chunks than allowed.
	ErrTooManyChunks = errors.New("secret needs too many chunks")
)

// Split cuts payload into frames whose encoded size never exceeds limit.
// Frame payloads alias the input slice.
func Split(payload []byte, limit, maxChunks int) ([]models.Frame, error) {
	if limit < minHeaderLen+1 {
		return nil, fmt.Errorf("%w: limit %d", ErrLimitTooSmall, limit)
	}
	if maxChunks < 1 {
		return nil, fmt.Errorf("%w: max chunk count %d", ErrTooManyChunks, maxChunks)
	}

	n := len(payload)
	if n+minHeaderLen <= limit {
		return []models.Frame{{Part: 1, Total: 1, Payload: payload}}, nil
	}

	total, size, err := chunkCount(n, limit, maxChunks)
	if err != nil {
		return nil, err
	}

	frames := make([]models.Frame, 0, total)
	for part := 1; part <= total; part++ {
		start := (part - 1) * size
		end := min(start+size, n)
		frames = append(frames, models.Frame{
			Part:    uint32(part),
			Total:   uint32(total),
			Payload: payload[start:end],
		})
	}
	return frames, nil
}

// PayloadCapacity returns how many payload bytes fit into one entry when the
// secret is split into total chunks.
func PayloadCapacity(limit, total int) int {
	if total < 1 {
		total = 1
	}
	return limit - HeaderLen(uint32(total), uint32(total))
}

// chunkCount resolves the circular dependency between the header length and
// the number of chunks. The header only grows in whole digits, so the loop
// settles after a handful of rounds.
func chunkCount(n, limit, maxChunks int) (total, size int, err error) {
	total = ceilDiv(n, limit-minHeaderLen)
	for {
		if total > maxChunks {
			return 0, 0, fmt.Errorf("%w: need %d, max %d", ErrTooManyChunks, total, maxChunks)
		}
		size = PayloadCapacity(limit, total)
		if size < 1 {
			return 0, 0, fmt.Errorf("%w: limit %d leaves no room for payload at %d chunks", ErrLimitTooSmall, limit, total)
		}
		next := ceilDiv(n, size)
		if next == total {
			return total, size, nil
		}
		total = next
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
