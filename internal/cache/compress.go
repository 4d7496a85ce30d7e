package cache

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// DefaultCompressionThreshold is the text size, in bytes, above which
// entries are compressed before durable storage.
const DefaultCompressionThreshold = 1_000_000

// EncodeAll/DecodeAll are safe for concurrent use, so one of each is shared.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// Compression decides whether text is compressed before it is persisted.
// It never affects the in-process tier, which always holds plain text.
type Compression struct {
	Threshold int
}

// NewCompression returns a policy with the given threshold (default when <= 0).
func NewCompression(threshold int) Compression {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	return Compression{Threshold: threshold}
}

// ShouldCompress reports whether text's byte length exceeds the threshold.
func (c Compression) ShouldCompress(text string) bool {
	return len(text) > c.Threshold
}

// Compress encodes text losslessly.
func Compress(text string) []byte {
	return encoder.EncodeAll([]byte(text), nil)
}

// Decompress reverses Compress.
func Decompress(data []byte) (string, error) {
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return "", fmt.Errorf("zstd decode: %w", err)
	}
	return string(out), nil
}
