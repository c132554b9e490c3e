package credstore

import (
	"fmt"
	"sync"

	"github.com/pierrec/lz4"
)

// Compressor compresses credential plaintext before it is sealed.
type Compressor interface {
	// Name identifies the algorithm; it is recorded with each entry.
	Name() string

	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)

	// Decompress restores data compressed by this algorithm.
	// originalSize is the plaintext size recorded with the entry.
	Decompress(data []byte, originalSize int) ([]byte, error)
}

type compressorFactory func() Compressor

var (
	compressorsMu sync.RWMutex
	compressors   = make(map[string]compressorFactory)
)

func registerCompressor(name string, factory compressorFactory) {
	compressorsMu.Lock()
	defer compressorsMu.Unlock()
	compressors[name] = factory
}

func getCompressor(name string) (Compressor, error) {
	compressorsMu.RLock()
	factory, ok := compressors[name]
	compressorsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown compressor: %s", name)
	}
	return factory(), nil
}

func init() {
	registerCompressor("none", func() Compressor { return &NoCompressor{} })
	registerCompressor("lz4", func() Compressor { return &LZ4Compressor{} })
}

// NoCompressor passes data through unchanged.
type NoCompressor struct{}

// Name returns the name of the compressor.
func (c *NoCompressor) Name() string { return "none" }

// Compress returns a copy of the data unchanged.
func (c *NoCompressor) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Decompress returns a copy of the data unchanged.
func (c *NoCompressor) Decompress(data []byte, originalSize int) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// LZ4Compressor compresses entries with LZ4 block compression.
type LZ4Compressor struct{}

// Name returns the name of the compressor.
func (c *LZ4Compressor) Name() string { return "lz4" }

// Compress compresses data using LZ4. The returned slice is empty when the
// input is incompressible; callers fall back to storing the raw bytes.
func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compression failed: %w", err)
	}
	return buf[:n], nil
}

// Decompress decompresses LZ4 data into a buffer of the recorded size.
func (c *LZ4Compressor) Decompress(data []byte, originalSize int) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	if originalSize <= 0 {
		return nil, fmt.Errorf("lz4 decompression failed: missing original size")
	}

	out := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompression failed: %w", err)
	}
	return out[:n], nil
}
