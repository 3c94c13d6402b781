package entry

import (
	"context"
	"errors"

	"github.com/atinyakov/stripekeeper/internal/chunk"
	"github.com/atinyakov/stripekeeper/internal/models"
)

// State classifies what a Snapshot found in the store.
type State string

const (
	// StateAbsent means no chunk was found.
	StateAbsent State = "absent"
	// StatePresent means chunks 1..total form a readable secret.
	StatePresent State = "present"
	// StatePartial means chunks exist but do not form a readable secret,
	// as left by an interrupted write or delete.
	StatePartial State = "partial"
	// StateCorrupt means at least one chunk header does not decode.
	StateCorrupt State = "corrupt"
)

// ChunkInfo describes one entry found while probing.
type ChunkInfo struct {
	Index   uint32 `json:"index"`
	Part    uint32 `json:"part,omitempty"`
	Total   uint32 `json:"total,omitempty"`
	Size    int    `json:"size"`
	Corrupt bool   `json:"corrupt,omitempty"`
}

// Snapshot is a probed view of which chunk indices currently exist.
type Snapshot struct {
	Identity models.Identity `json:"identity"`
	Chunks   []ChunkInfo     `json:"chunks"`
}

// Snapshot probes the store without modifying it. Payloads are not kept.
func (e *Entry) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Identity: e.id, Chunks: []ChunkInfo{}}
	through := e.probeTotal(ctx)

	err := e.walk(1, min(through, e.limits.maxIndex()), func(i uint32) (bool, error) {
		raw, err := e.get(ctx, i)
		if errors.Is(err, models.ErrEntryNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		info := ChunkInfo{Index: i, Size: len(raw)}
		if frame, err := chunk.Decode(raw); err != nil {
			info.Corrupt = true
		} else {
			info.Part, info.Total = frame.Part, frame.Total
		}
		snap.Chunks = append(snap.Chunks, info)
		return true, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// State reports whether the probed chunks form a readable secret. Chunks
// past the recorded total are orphans and do not affect the result.
func (s Snapshot) State() State {
	if len(s.Chunks) == 0 {
		return StateAbsent
	}
	first := s.Chunks[0]
	if first.Corrupt && first.Index == 1 {
		return StateCorrupt
	}
	if first.Index != 1 || first.Part != 1 {
		return StatePartial
	}
	total := first.Total
	if uint32(len(s.Chunks)) < total {
		return StatePartial
	}
	for i, c := range s.Chunks[:total] {
		if c.Corrupt {
			return StateCorrupt
		}
		if c.Index != uint32(i+1) || c.Part != c.Index || c.Total != total {
			return StatePartial
		}
	}
	return StatePresent
}

// Orphans returns the indices past the recorded total.
func (s Snapshot) Orphans() []uint32 {
	var total uint32
	if len(s.Chunks) > 0 && s.Chunks[0].Index == 1 && !s.Chunks[0].Corrupt {
		total = s.Chunks[0].Total
	}
	var out []uint32
	for _, c := range s.Chunks {
		if c.Index > total {
			out = append(out, c.Index)
		}
	}
	return out
}
