package dwarfsmeta

import (
	"fmt"

	"github.com/CrazyForks/dwarfs/lib/codec"
)

// HistoryEntry records one build event, persisted in the history
// section named by spec.md Section 6's section-type list. Build writes
// a history holding one entry; Recompress copies the source image's
// history section unchanged and appends no entry.
type HistoryEntry struct {
	Timestamp int64  `cbor:"timestamp"`
	Command   string `cbor:"command"`
	Options   string `cbor:"options"`
}

// History is the full history-section payload: every build event that
// has touched this image, oldest first.
type History struct {
	Entries []HistoryEntry `cbor:"entries"`
}

// EncodeHistory serializes a History to CBOR using Core Deterministic
// Encoding, matching EncodeSchema/EncodeMetadata.
func EncodeHistory(h History) ([]byte, error) {
	data, err := codec.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encoding history: %w", err)
	}
	return data, nil
}

// DecodeHistory parses a history-section payload.
func DecodeHistory(data []byte) (History, error) {
	var h History
	if err := codec.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("decoding history: %w", err)
	}
	return h, nil
}
