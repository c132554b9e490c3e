package memo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitChunksSmallPayloadUnlabelled(t *testing.T) {
	chunks := SplitChunks("short payload")
	require.Equal(t, []string{"short payload"}, chunks)

	exact := strings.Repeat("x", ChunkThreshold)
	chunks = SplitChunks(exact)
	require.Equal(t, []string{exact}, chunks)
}

func TestSplitChunksLargePayload(t *testing.T) {
	payload := strings.Repeat("abcde", 500) // 2500 bytes

	chunks := SplitChunks(payload)
	require.Len(t, chunks, 3)

	var rebuilt strings.Builder
	for i, chunk := range chunks {
		require.LessOrEqual(t, len(chunk), MaxMemoData)
		n, rest, ok := ChunkIndex(chunk)
		require.True(t, ok)
		require.Equal(t, i+1, n)
		rebuilt.WriteString(rest)
	}
	require.Equal(t, payload, rebuilt.String())
}

func TestSplitChunksMidRuneBoundary(t *testing.T) {
	// Multi-byte runes may straddle a split point; the bytes must still
	// reassemble exactly.
	payload := strings.Repeat("héllo wörld ", 200)

	chunks := SplitChunks(payload)
	require.Greater(t, len(chunks), 1)

	var rebuilt strings.Builder
	for _, chunk := range chunks {
		rebuilt.WriteString(StripChunkLabel(chunk))
	}
	require.Equal(t, payload, rebuilt.String())
}

func TestChunkIndex(t *testing.T) {
	testcases := []struct {
		name     string
		data     string
		wantN    int
		wantRest string
		wantOK   bool
	}{
		{name: "first chunk", data: "chunk_1__hello", wantN: 1, wantRest: "hello", wantOK: true},
		{name: "double digit", data: "chunk_12__payload", wantN: 12, wantRest: "payload", wantOK: true},
		{name: "no label", data: "plain text", wantN: 0, wantRest: "plain text", wantOK: false},
		{name: "label without index", data: "chunk___x", wantN: 0, wantRest: "chunk___x", wantOK: false},
		{name: "label mid-string", data: "x chunk_1__y", wantN: 0, wantRest: "x chunk_1__y", wantOK: false},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			n, rest, ok := ChunkIndex(tc.data)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantN, n)
			require.Equal(t, tc.wantRest, rest)
		})
	}
}

func TestIsChunked(t *testing.T) {
	require.True(t, IsChunked("chunk_3__data"))
	require.False(t, IsChunked("COMPRESSED__data"))
	require.False(t, IsChunked("chunk_x__data"))
}
