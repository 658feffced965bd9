package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu       sync.Mutex
	hands    []HandLandmarks
	sequence [][]HandLandmarks
	err      error
	calls    int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by every Detect call.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
	m.sequence = nil
}

// SetSequence makes Detect return the given results one call at a time.
// Once the sequence is exhausted Detect returns no hands.
func (m *MockDetector) SetSequence(seq [][]HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence = seq
	m.hands = nil
}

// SetError sets the error that will be returned by Detect, alongside any
// hands set with SetHands.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return m.hands, m.err
	}
	if m.sequence != nil {
		if len(m.sequence) == 0 {
			return nil, nil
		}
		next := m.sequence[0]
		m.sequence = m.sequence[1:]
		return next, nil
	}
	return m.hands, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// FistLandmarks returns a right hand closed into a fist with the thumb resting
// against the side of the index finger, the handshape of the letter A.
func FistLandmarks() HandLandmarks {
	h := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	h.Points[Wrist] = Point3D{X: 0.50, Y: 0.80}

	// Thumb upright along the index finger
	h.Points[ThumbCMC] = Point3D{X: 0.56, Y: 0.76, Z: -0.01}
	h.Points[ThumbMCP] = Point3D{X: 0.60, Y: 0.70, Z: -0.02}
	h.Points[ThumbIP] = Point3D{X: 0.61, Y: 0.64, Z: -0.02}
	h.Points[ThumbTip] = Point3D{X: 0.61, Y: 0.59, Z: -0.02}

	// Fingers curled into the palm
	h.Points[IndexMCP] = Point3D{X: 0.56, Y: 0.66, Z: -0.02}
	h.Points[IndexPIP] = Point3D{X: 0.57, Y: 0.60, Z: -0.05}
	h.Points[IndexDIP] = Point3D{X: 0.55, Y: 0.64, Z: -0.06}
	h.Points[IndexTip] = Point3D{X: 0.54, Y: 0.68, Z: -0.04}

	h.Points[MiddleMCP] = Point3D{X: 0.51, Y: 0.65, Z: -0.02}
	h.Points[MiddlePIP] = Point3D{X: 0.51, Y: 0.59, Z: -0.05}
	h.Points[MiddleDIP] = Point3D{X: 0.50, Y: 0.63, Z: -0.06}
	h.Points[MiddleTip] = Point3D{X: 0.49, Y: 0.67, Z: -0.04}

	h.Points[RingMCP] = Point3D{X: 0.46, Y: 0.66, Z: -0.02}
	h.Points[RingPIP] = Point3D{X: 0.46, Y: 0.60, Z: -0.05}
	h.Points[RingDIP] = Point3D{X: 0.45, Y: 0.64, Z: -0.06}
	h.Points[RingTip] = Point3D{X: 0.45, Y: 0.68, Z: -0.04}

	h.Points[PinkyMCP] = Point3D{X: 0.42, Y: 0.68, Z: -0.02}
	h.Points[PinkyPIP] = Point3D{X: 0.42, Y: 0.63, Z: -0.04}
	h.Points[PinkyDIP] = Point3D{X: 0.41, Y: 0.66, Z: -0.05}
	h.Points[PinkyTip] = Point3D{X: 0.41, Y: 0.69, Z: -0.04}

	return h
}

// FlatHandLandmarks returns a right hand with all four fingers extended and
// held together while the thumb folds across the palm, the letter B.
func FlatHandLandmarks() HandLandmarks {
	h := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}

	h.Points[Wrist] = Point3D{X: 0.50, Y: 0.80}

	// Thumb folded across the palm
	h.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.76, Z: -0.01}
	h.Points[ThumbMCP] = Point3D{X: 0.57, Y: 0.71, Z: -0.03}
	h.Points[ThumbIP] = Point3D{X: 0.53, Y: 0.68, Z: -0.05}
	h.Points[ThumbTip] = Point3D{X: 0.49, Y: 0.67, Z: -0.06}

	// Fingers extended upward, side by side
	h.Points[IndexMCP] = Point3D{X: 0.55, Y: 0.66}
	h.Points[IndexPIP] = Point3D{X: 0.55, Y: 0.54}
	h.Points[IndexDIP] = Point3D{X: 0.55, Y: 0.46}
	h.Points[IndexTip] = Point3D{X: 0.55, Y: 0.39}

	h.Points[MiddleMCP] = Point3D{X: 0.51, Y: 0.65}
	h.Points[MiddlePIP] = Point3D{X: 0.51, Y: 0.52}
	h.Points[MiddleDIP] = Point3D{X: 0.51, Y: 0.43}
	h.Points[MiddleTip] = Point3D{X: 0.51, Y: 0.35}

	h.Points[RingMCP] = Point3D{X: 0.47, Y: 0.66}
	h.Points[RingPIP] = Point3D{X: 0.47, Y: 0.54}
	h.Points[RingDIP] = Point3D{X: 0.47, Y: 0.46}
	h.Points[RingTip] = Point3D{X: 0.47, Y: 0.39}

	h.Points[PinkyMCP] = Point3D{X: 0.43, Y: 0.68}
	h.Points[PinkyPIP] = Point3D{X: 0.43, Y: 0.59}
	h.Points[PinkyDIP] = Point3D{X: 0.43, Y: 0.53}
	h.Points[PinkyTip] = Point3D{X: 0.43, Y: 0.47}

	return h
}
