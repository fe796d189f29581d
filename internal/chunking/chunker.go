package chunking

import (
	"crypto/sha256"
	"fmt"
	"io"

	resticchunker "github.com/restic/chunker"

	"github.com/packgc/packgc/internal/oid"
)

// ChunkingAlgorithm identifies a chunking strategy
type ChunkingAlgorithm string

const (
	ChunkingFastCDC ChunkingAlgorithm = "fastcdc"
)

// Chunk is one content-defined slice of an object body being packed. Its
// ObjectHash is addressed the same way any other object in the store is
// (oid.OID over SHA-256), so a chunk that recurs across objects in the
// same pack - a large blob re-added with a one-line change, say - is
// recognizable as the same content without re-hashing through a
// separate identifier space.
type Chunk struct {
	Data    []byte  // The chunk data
	Hash    oid.OID // Content hash of Data
	Size    int     // Size in bytes
	Offset  int64   // Offset within the object's body
	Index   int     // Chunk index (0-based)
	IsFinal bool    // True if this is the last chunk
}

// Chunker splits an object body into content-defined chunks.
type Chunker interface {
	// Chunk splits a reader into content-defined chunks
	// Returns a channel that yields chunks as they're produced
	Chunk(r io.Reader) (<-chan ChunkResult, error)

	// ChunkBytes splits an object's body into chunks (convenience method)
	ChunkBytes(data []byte) ([]Chunk, error)

	// Algorithm returns the chunking algorithm name
	Algorithm() ChunkingAlgorithm
}

// ChunkResult wraps a chunk or error from async chunking
type ChunkResult struct {
	Chunk Chunk
	Err   error
}

// FastCDCChunker implements content-defined chunking using FastCDC algorithm
type FastCDCChunker struct {
	minSize int
	avgSize int
	maxSize int
	pol     resticchunker.Pol
}

// NewFastCDCChunker creates a new FastCDC chunker. avgSize is validated
// against minSize and maxSize but is not passed to the underlying restic
// chunker, which cuts boundaries at its own default average.
func NewFastCDCChunker(minSize, avgSize, maxSize int) (*FastCDCChunker, error) {
	if minSize <= 0 || avgSize <= 0 || maxSize <= 0 {
		return nil, fmt.Errorf("chunk sizes must be positive")
	}
	if minSize > avgSize || avgSize > maxSize {
		return nil, fmt.Errorf("chunk sizes must be: min <= avg <= max")
	}

	// Use a randomly generated polynomial: chunk boundaries are stable for
	// this chunker instance only. NewFastCDCChunkerWithPol gives boundaries
	// that agree across instances.
	pol, err := resticchunker.RandomPolynomial()
	if err != nil {
		return nil, fmt.Errorf("failed to generate polynomial: %w", err)
	}

	return &FastCDCChunker{
		minSize: minSize,
		avgSize: avgSize,
		maxSize: maxSize,
		pol:     pol,
	}, nil
}

// NewFastCDCChunkerWithPol creates a chunker with a specific polynomial.
// Two packers that must agree on chunk boundaries for the same object
// body - e.g. comparing a freshly written pack against one written by an
// earlier GC run - use this instead of a randomly generated polynomial.
func NewFastCDCChunkerWithPol(minSize, avgSize, maxSize int, pol uint64) (*FastCDCChunker, error) {
	if minSize <= 0 || avgSize <= 0 || maxSize <= 0 {
		return nil, fmt.Errorf("chunk sizes must be positive")
	}
	if minSize > avgSize || avgSize > maxSize {
		return nil, fmt.Errorf("chunk sizes must be: min <= avg <= max")
	}

	return &FastCDCChunker{
		minSize: minSize,
		avgSize: avgSize,
		maxSize: maxSize,
		pol:     resticchunker.Pol(pol),
	}, nil
}

// DefaultFastCDCChunker creates a chunker with default settings (1MB min,
// 16MB max; the 4MB avg argument does not steer the boundaries, see
// NewFastCDCChunker)
func DefaultFastCDCChunker() (*FastCDCChunker, error) {
	return NewFastCDCChunker(
		1*1024*1024,  // 1MB min
		4*1024*1024,  // 4MB avg
		16*1024*1024, // 16MB max
	)
}

// Algorithm returns the chunking algorithm name
func (c *FastCDCChunker) Algorithm() ChunkingAlgorithm {
	return ChunkingFastCDC
}

// Polynomial returns the polynomial used for chunking (for persistence)
func (c *FastCDCChunker) Polynomial() uint64 {
	return uint64(c.pol)
}

// Chunk splits a reader into content-defined chunks
func (c *FastCDCChunker) Chunk(r io.Reader) (<-chan ChunkResult, error) {
	ch := make(chan ChunkResult, 10) // Buffer for smooth streaming

	go func() {
		defer close(ch)

		chunker := resticchunker.NewWithBoundaries(r, c.pol, uint(c.minSize), uint(c.maxSize))
		buf := make([]byte, c.maxSize)

		var offset int64
		index := 0

		for {
			chunk, err := chunker.Next(buf)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- ChunkResult{Err: fmt.Errorf("chunking failed at offset %d: %w", offset, err)}
				return
			}

			// Copy data (chunker reuses buffer)
			data := make([]byte, chunk.Length)
			copy(data, chunk.Data)

			ch <- ChunkResult{
				Chunk: Chunk{
					Data:   data,
					Hash:   oid.FromBytes(hashChunk(data)),
					Size:   int(chunk.Length),
					Offset: offset,
					Index:  index,
				},
			}

			offset += int64(chunk.Length)
			index++
		}

		// Note: The channel is already closed by defer, so we can't modify sent chunks
		// Instead, consumers should check for channel close as the "final" signal
	}()

	return ch, nil
}

// ChunkBytes splits an object's body into chunks (synchronous convenience method)
func (c *FastCDCChunker) ChunkBytes(data []byte) ([]Chunk, error) {
	if len(data) == 0 {
		return nil, nil
	}

	chunker := resticchunker.NewWithBoundaries(
		&byteReader{data: data},
		c.pol,
		uint(c.minSize),
		uint(c.maxSize),
	)

	buf := make([]byte, c.maxSize)
	var chunks []Chunk
	var offset int64
	index := 0

	for {
		chunk, err := chunker.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chunking failed at offset %d: %w", offset, err)
		}

		chunkData := make([]byte, chunk.Length)
		copy(chunkData, chunk.Data)

		chunks = append(chunks, Chunk{
			Data:   chunkData,
			Hash:   oid.FromBytes(hashChunk(chunkData)),
			Size:   int(chunk.Length),
			Offset: offset,
			Index:  index,
		})

		offset += int64(chunk.Length)
		index++
	}

	if len(chunks) > 0 {
		chunks[len(chunks)-1].IsFinal = true
	}

	return chunks, nil
}

func hashChunk(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// byteReader wraps []byte to implement io.Reader
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (n int, err error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n = copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
