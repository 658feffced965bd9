// Package features turns hand landmarks into normalized classifier inputs.
package features

import (
	"errors"
	"fmt"

	"github.com/ayusman/fingerspell/internal/detector"
)

// ErrLandmarkCount is returned when a landmark set does not have the
// cardinality the extractor was configured for.
var ErrLandmarkCount = detector.ErrLandmarkCount

// ErrConfigMismatch is returned when a vector and the normalization
// statistics disagree on length.
var ErrConfigMismatch = errors.New("config mismatch")

// Vector is one frame's flattened feature vector: x0, y0, x1, y1, ...
type Vector []float64

// Extractor flattens landmarks into interleaved x,y features.
type Extractor struct {
	numLandmarks int
}

// NewExtractor returns an extractor for hands of n landmarks.
func NewExtractor(n int) *Extractor {
	if n <= 0 {
		n = detector.NumLandmarks
	}
	return &Extractor{numLandmarks: n}
}

// Dim is the length of every vector the extractor produces.
func (e *Extractor) Dim() int {
	return 2 * e.numLandmarks
}

// Extract emits x and y for each landmark in index order. Z is dropped.
func (e *Extractor) Extract(points []detector.Point3D) (Vector, error) {
	if len(points) != e.numLandmarks {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrLandmarkCount, len(points), e.numLandmarks)
	}

	v := make(Vector, 0, 2*len(points))
	for _, p := range points {
		v = append(v, p.X, p.Y)
	}
	return v, nil
}

// ExtractHand is Extract for a detector hand.
func (e *Extractor) ExtractHand(h *detector.HandLandmarks) (Vector, error) {
	return e.Extract(h.Slice())
}
