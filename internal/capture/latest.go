package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Latest keeps the most recent frame as JPEG so viewers never touch the
// device themselves. Seq increases with every stored frame.
type Latest struct {
	mu      sync.Mutex
	jpeg    []byte
	seq     uint64
	updated chan struct{}
}

func NewLatest() *Latest {
	return &Latest{updated: make(chan struct{})}
}

// Store encodes frame and replaces the held image.
func (l *Latest) Store(frame *gocv.Mat) error {
	if frame == nil || frame.Empty() {
		return ErrEmptyFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := append([]byte(nil), buf.GetBytes()...)

	l.mu.Lock()
	l.jpeg = data
	l.seq++
	close(l.updated)
	l.updated = make(chan struct{})
	l.mu.Unlock()
	return nil
}

// Load returns the current JPEG and its sequence number. Seq 0 means no
// frame has been stored yet.
func (l *Latest) Load() ([]byte, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.jpeg, l.seq
}

// Updated returns a channel closed by the next Store.
func (l *Latest) Updated() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updated
}
