package memo

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// CompressedPrefix marks brotli-compressed payloads.
const CompressedPrefix = "COMPRESSED__"

// IsCompressed reports whether data carries the compression envelope.
func IsCompressed(data string) bool {
	return strings.HasPrefix(data, CompressedPrefix)
}

// Compress brotli-compresses data and wraps it in the COMPRESSED__ envelope.
// The compressed bytes travel base64-url encoded.
func Compress(data string) (string, error) {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write([]byte(data)); err != nil {
		return "", fmt.Errorf("brotli compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("brotli compress: %w", err)
	}
	return CompressedPrefix + base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress reverses Compress.
func Decompress(data string) (string, error) {
	if !strings.HasPrefix(data, CompressedPrefix) {
		return "", fmt.Errorf("%w: missing %s envelope", ErrDecompressFailed, CompressedPrefix)
	}
	raw, err := base64.URLEncoding.DecodeString(strings.TrimPrefix(data, CompressedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return string(out), nil
}
