package chunking

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionAlgorithm identifies a compression strategy
type CompressionAlgorithm string

const (
	CompressionZstd CompressionAlgorithm = "zstd"
)

// Compressor compresses and decompresses object bodies before they are
// framed into a pack. Every phase but the garbage phase runs bodies
// through one of these (spec §4.3: garbage-phase writers disable it and
// store objects whole, to keep that pass cheap and reversible).
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionAlgorithm
	Level() int
}

// ZstdCompressor implements Compressor using zstd
type ZstdCompressor struct {
	level       int
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	encoderOnce sync.Once
	decoderOnce sync.Once
	encoderErr  error
	decoderErr  error
}

// NewZstdCompressor creates a new zstd compressor
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	if level < 1 || level > 19 {
		return nil, fmt.Errorf("zstd level must be 1-19, got %d", level)
	}
	return &ZstdCompressor{level: level}, nil
}

// DefaultZstdCompressor creates a compressor with default settings (level 3)
func DefaultZstdCompressor() (*ZstdCompressor, error) {
	return NewZstdCompressor(3)
}

func (c *ZstdCompressor) getEncoder() (*zstd.Encoder, error) {
	c.encoderOnce.Do(func() {
		var opts []zstd.EOption
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)))
		opts = append(opts, zstd.WithEncoderConcurrency(1))
		c.encoder, c.encoderErr = zstd.NewWriter(nil, opts...)
	})
	return c.encoder, c.encoderErr
}

func (c *ZstdCompressor) getDecoder() (*zstd.Decoder, error) {
	c.decoderOnce.Do(func() {
		c.decoder, c.decoderErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(256*1024*1024),
		)
	})
	return c.decoder, c.decoderErr
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	encoder, err := c.getEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to get encoder: %w", err)
	}
	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	decoder, err := c.getDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to get decoder: %w", err)
	}
	return decoder.DecodeAll(data, nil)
}

func (c *ZstdCompressor) Algorithm() CompressionAlgorithm {
	return CompressionZstd
}

func (c *ZstdCompressor) Level() int {
	return c.level
}
