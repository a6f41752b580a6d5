package fileserver

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// DefaultChunkSize is the scratch buffer size and thus the largest chunk
	// sent per read.
	DefaultChunkSize = 8192
	// MaxScratchSize bounds the scratch allocation.
	MaxScratchSize = 1 << 20
)

// ErrScratchSize is returned by NewContext for an unusable scratch size.
var ErrScratchSize = errors.New("invalid scratch buffer size")

// ServerContext is the per-start state shared by every file request: the
// base path and one reusable scratch buffer. The buffer is held by one
// transfer at a time.
type ServerContext struct {
	basePath      string
	maxPathLength int

	mu      sync.Mutex
	scratch []byte
}

// NewContext allocates the scratch buffer. maxPathLength is the capacity of
// the buffer paths are resolved into, terminator included.
func NewContext(basePath string, scratchSize, maxPathLength int) (*ServerContext, error) {
	if scratchSize <= 0 || scratchSize > MaxScratchSize {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrScratchSize, scratchSize, MaxScratchSize)
	}
	if maxPathLength <= len(basePath) {
		return nil, fmt.Errorf("max path length %d leaves no room after base path %q", maxPathLength, basePath)
	}
	return &ServerContext{
		basePath:      basePath,
		maxPathLength: maxPathLength,
		scratch:       make([]byte, scratchSize),
	}, nil
}

func (c *ServerContext) BasePath() string { return c.basePath }

func (c *ServerContext) MaxPathLength() int { return c.maxPathLength }

// ChunkSize is the scratch buffer length. Embedded resources are chunked to
// the same size without holding the buffer.
func (c *ServerContext) ChunkSize() int { return len(c.scratch) }

// acquireScratch locks the scratch buffer until release is called. A
// transfer holds it for at most one send timeout per chunk.
func (c *ServerContext) acquireScratch() (buf []byte, release func()) {
	c.mu.Lock()
	return c.scratch, c.mu.Unlock
}
