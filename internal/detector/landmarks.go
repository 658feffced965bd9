// Package detector provides hand landmark types and the detectors that produce them.
package detector

import (
	"errors"
	"fmt"
	"math"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// ErrLandmarkCount is returned when a hand does not carry exactly NumLandmarks points.
var ErrLandmarkCount = errors.New("unexpected landmark count")

// ErrInvalidPoint is returned when a landmark coordinate is NaN or infinite.
var ErrInvalidPoint = errors.New("invalid landmark coordinate")

// Point3D is one landmark in normalized image coordinates.
// X and Y are in [0,1] for points inside the frame; Z is relative depth and
// is not used for recognition.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// HandLandmarks represents the 21 hand landmarks detected by MediaPipe.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// FromPoints builds a HandLandmarks from a point slice.
// The slice must hold exactly NumLandmarks finite points; anything else is
// rejected rather than truncated or padded.
func FromPoints(points []Point3D, handedness string, score float64) (HandLandmarks, error) {
	h := HandLandmarks{Handedness: handedness, Score: score}
	if len(points) != NumLandmarks {
		return h, fmt.Errorf("%w: got %d, want %d", ErrLandmarkCount, len(points), NumLandmarks)
	}
	copy(h.Points[:], points)
	if err := h.Validate(); err != nil {
		return h, err
	}
	return h, nil
}

// Validate reports whether every landmark has finite coordinates.
func (h *HandLandmarks) Validate() error {
	if h == nil {
		return fmt.Errorf("%w: nil hand", ErrLandmarkCount)
	}
	for i, p := range h.Points {
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("%w: landmark %d (%v, %v)", ErrInvalidPoint, i, p.X, p.Y)
		}
	}
	return nil
}

// Slice returns the landmarks as a slice in index order.
func (h *HandLandmarks) Slice() []Point3D {
	if h == nil {
		return nil
	}
	return h.Points[:]
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
