package classifier

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockModel is a test implementation of Model that returns a fixed
// distribution and records what it was given.
type MockModel struct {
	mu        sync.Mutex
	output    []float32
	rows      int
	err       error
	panicWith any
	gate      chan struct{}
	entered   chan struct{}
	calls     int
	lastShape []int
	lastInput [][]float32
	closed    bool
}

// NewMockModel returns a model that answers every call with probs.
func NewMockModel(probs ...float32) *MockModel {
	return &MockModel{output: probs, rows: 1}
}

// SetOutput replaces the returned distribution.
func (m *MockModel) SetOutput(probs ...float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.output = probs
	m.rows = 1
}

// SetRows makes the output a rows x len(probs)/rows matrix instead of a
// single row, to simulate a malformed model.
func (m *MockModel) SetRows(rows int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = rows
}

// SetError makes Forward fail.
func (m *MockModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPanic makes Forward panic with v.
func (m *MockModel) SetPanic(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicWith = v
}

// Hold makes every Forward call block until Release is called. The returned
// channel receives once per call that has started waiting.
func (m *MockModel) Hold() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.entered = make(chan struct{}, 16)
	return m.entered
}

// Release unblocks calls held by Hold.
func (m *MockModel) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
}

// Calls returns the number of Forward invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastShape returns the dimensions of the most recent input blob.
func (m *MockModel) LastShape() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastShape
}

// LastInput returns the most recent input as [time][feature].
func (m *MockModel) LastInput() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInput
}

// Closed reports whether Close was called.
func (m *MockModel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Forward implements Model.
func (m *MockModel) Forward(input gocv.Mat) (gocv.Mat, error) {
	m.mu.Lock()
	m.calls++
	m.capture(input)
	gate, entered := m.gate, m.entered
	err, panicWith := m.err, m.panicWith
	probs := append([]float32(nil), m.output...)
	rows := m.rows
	m.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	if panicWith != nil {
		panic(panicWith)
	}
	if err != nil {
		return gocv.NewMat(), err
	}

	if rows <= 0 {
		rows = 1
	}
	cols := len(probs) / rows
	out := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.SetFloatAt(r, c, probs[r*cols+c])
		}
	}
	return out, nil
}

// Close implements Model.
func (m *MockModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockModel) capture(input gocv.Mat) {
	dims := input.Size()
	m.lastShape = dims
	if len(dims) != 3 {
		m.lastInput = nil
		return
	}
	in := make([][]float32, dims[1])
	for t := range in {
		in[t] = make([]float32, dims[2])
		for f := range in[t] {
			in[t][f] = input.GetFloatAt3(0, t, f)
		}
	}
	m.lastInput = in
}
