// Package classifier runs the sequence classifier over a full temporal window.
package classifier

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// ErrAssetLoad is returned when the model file is missing or unreadable.
var ErrAssetLoad = errors.New("model load failed")

// Model is the external classifier. Forward receives a CV_32F blob shaped
// (1, L, F) and returns the class probabilities. The caller owns the
// returned Mat and must close it.
type Model interface {
	Forward(input gocv.Mat) (gocv.Mat, error)
	Close() error
}

var supportedModelExts = map[string]bool{
	".onnx":   true,
	".pb":     true,
	".tflite": true,
}

// DNNModel runs a serialized network through OpenCV's dnn module.
type DNNModel struct {
	path string
	mu   sync.Mutex // gocv.Net is not safe for concurrent use
	net  gocv.Net
}

// LoadModel reads the network at path. Failure here is fatal to startup.
func LoadModel(path string) (*DNNModel, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if !supportedModelExts[ext] {
		return nil, fmt.Errorf("%w: unsupported model format %q", ErrAssetLoad, ext)
	}
	if _, err := os.Stat(cleanPath); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetLoad, err)
	}

	net := gocv.ReadNet(cleanPath, "")
	if net.Empty() {
		net.Close()
		return nil, fmt.Errorf("%w: error reading network %s", ErrAssetLoad, cleanPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set backend: %w", ErrAssetLoad, err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("%w: set target: %w", ErrAssetLoad, err)
	}

	return &DNNModel{path: cleanPath, net: net}, nil
}

// Path returns the file the network was loaded from.
func (m *DNNModel) Path() string {
	return m.path
}

// Forward runs one inference.
func (m *DNNModel) Forward(input gocv.Mat) (gocv.Mat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.net.SetInput(input, "")
	out := m.net.Forward("")
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("network returned an empty output")
	}
	return out, nil
}

// Close releases the network.
func (m *DNNModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
