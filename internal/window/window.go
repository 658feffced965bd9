// Package window keeps the most recent feature vectors for temporal classification.
package window

import "github.com/ayusman/fingerspell/internal/features"

// DefaultLength is the number of frames the classifier looks at.
const DefaultLength = 30

// Buffer is a bounded FIFO of feature vectors, oldest first.
// It is not safe for concurrent use; the recognition pipeline owns it.
type Buffer struct {
	items []features.Vector
	cap   int
}

// New returns an empty buffer holding at most length vectors.
func New(length int) *Buffer {
	if length <= 0 {
		length = DefaultLength
	}
	return &Buffer{
		items: make([]features.Vector, 0, length),
		cap:   length,
	}
}

// Push appends v and evicts the oldest vector once the buffer is over capacity.
func (b *Buffer) Push(v features.Vector) {
	if len(b.items) >= b.cap {
		// Shift left by 1, dropping the oldest vector
		copy(b.items, b.items[1:])
		b.items = b.items[:b.cap-1]
	}
	b.items = append(b.items, v)
}

// IsFull reports whether the buffer holds exactly Cap vectors.
func (b *Buffer) IsFull() bool {
	return len(b.items) == b.cap
}

// Len returns the number of buffered vectors.
func (b *Buffer) Len() int {
	return len(b.items)
}

// Cap returns the window length.
func (b *Buffer) Cap() int {
	return b.cap
}

// Snapshot returns a copy of the buffered vectors, oldest first. The buffer
// is left untouched and keeps aging on later pushes.
func (b *Buffer) Snapshot() []features.Vector {
	out := make([]features.Vector, len(b.items))
	for i, v := range b.items {
		c := make(features.Vector, len(v))
		copy(c, v)
		out[i] = c
	}
	return out
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	for i := range b.items {
		b.items[i] = nil
	}
	b.items = b.items[:0]
}
