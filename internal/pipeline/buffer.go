package pipeline

import "sync"

// ChunkBuffer is a bounded FIFO of raw audio chunks with ring-buffer
// eviction: adding to a full buffer drops the oldest chunk. It tracks the
// total buffered byte count incrementally. Safe for concurrent use.
type ChunkBuffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	capacity int
	bytes    int
}

// NewChunkBuffer creates a buffer holding at most capacity chunks.
func NewChunkBuffer(capacity int) *ChunkBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChunkBuffer{capacity: capacity}
}

// Add appends chunk, evicting the oldest entry when the buffer is full.
func (b *ChunkBuffer) Add(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.chunks) >= b.capacity {
		b.bytes -= len(b.chunks[0])
		b.chunks = b.chunks[1:]
	}
	b.chunks = append(b.chunks, chunk)
	b.bytes += len(chunk)
}

// TakeAll removes and returns all buffered chunks in one atomic swap.
func (b *ChunkBuffer) TakeAll() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.chunks
	b.chunks = nil
	b.bytes = 0
	return out
}

// Len returns the number of buffered chunks.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Bytes returns the total buffered byte count.
func (b *ChunkBuffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// Snapshot returns a copy of the buffered chunk slice headers in order,
// oldest first. The underlying byte slices are shared, not copied.
func (b *ChunkBuffer) Snapshot() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]byte, len(b.chunks))
	copy(out, b.chunks)
	return out
}
