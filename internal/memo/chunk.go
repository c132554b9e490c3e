package memo

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	// ChunkThreshold is the payload byte size above which a memo is split
	// across transactions.
	ChunkThreshold = 760

	// MaxMemoData caps a single on-chain memo_data, chunk label included.
	MaxMemoData = 900

	// chunkLabelReserve holds room for the chunk_N__ label in each piece.
	chunkLabelReserve = 12
)

var chunkPattern = regexp.MustCompile(`^chunk_(\d+)__`)

// IsChunked reports whether data carries a chunk_N__ label.
func IsChunked(data string) bool {
	return chunkPattern.MatchString(data)
}

// ChunkIndex extracts the chunk number from a labelled payload and returns
// the remainder after the label. ok is false when no label is present.
func ChunkIndex(data string) (n int, rest string, ok bool) {
	m := chunkPattern.FindStringSubmatch(data)
	if m == nil {
		return 0, data, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, data, false
	}
	return n, data[len(m[0]):], true
}

// StripChunkLabel removes a leading chunk_N__ label if present.
func StripChunkLabel(data string) string {
	_, rest, _ := ChunkIndex(data)
	return rest
}

// SplitChunks splits data into chunk_N__-labelled pieces, numbered from 1,
// each at most MaxMemoData bytes on the wire. Payloads at or under
// ChunkThreshold come back as a single unlabelled element. Split points fall
// on byte boundaries; concatenating the stripped pieces in ascending N
// restores the original bytes regardless of rune alignment.
func SplitChunks(data string) []string {
	raw := []byte(data)
	if len(raw) <= ChunkThreshold {
		return []string{data}
	}
	size := MaxMemoData - chunkLabelReserve
	chunks := make([]string, 0, (len(raw)+size-1)/size)
	for i, n := 0, 1; i < len(raw); i, n = i+size, n+1 {
		end := i + size
		if end > len(raw) {
			end = len(raw)
		}
		chunks = append(chunks, fmt.Sprintf("chunk_%d__%s", n, raw[i:end]))
	}
	return chunks
}
