package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/fingerspell/internal/features"
)

// ErrInference is returned when a single classifier call fails. It is
// recoverable: the next frame may be classified normally.
var ErrInference = errors.New("inference failed")

// ErrConfigMismatch is shared with the features package so callers can test
// for either kind of misconfiguration with one sentinel.
var ErrConfigMismatch = features.ErrConfigMismatch

// Distribution is one probability per class, in class-name order.
type Distribution []float64

// sumTolerance bounds how far a distribution may stray from summing to 1.
const sumTolerance = 1e-3

// Adapter shapes a temporal window into the model's input tensor and
// validates what comes back.
type Adapter struct {
	model      Model
	classNames []string
	length     int
	dim        int
}

// NewAdapter returns an adapter for windows of length vectors of dim
// features, classifying into classNames.
func NewAdapter(model Model, classNames []string, length, dim int) (*Adapter, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: nil model", ErrAssetLoad)
	}
	if length <= 0 || dim <= 0 {
		return nil, fmt.Errorf("%w: window %dx%d", ErrConfigMismatch, length, dim)
	}
	if len(classNames) == 0 {
		return nil, fmt.Errorf("%w: no class names", ErrConfigMismatch)
	}
	names := make([]string, len(classNames))
	copy(names, classNames)
	return &Adapter{model: model, classNames: names, length: length, dim: dim}, nil
}

// ClassNames returns the labels indexed like every Distribution.
func (a *Adapter) ClassNames() []string {
	return a.classNames
}

// Shape returns the (1, L, F) input tensor shape.
func (a *Adapter) Shape() []int {
	return []int{1, a.length, a.dim}
}

// Classify runs the model on a full window, oldest vector first.
//
// The input and output blobs are released before Classify returns on every
// path, including a panicking model. A distribution whose length differs
// from the class names matches both ErrInference and ErrConfigMismatch.
func (a *Adapter) Classify(ctx context.Context, window []features.Vector) (dist Distribution, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if len(window) != a.length {
		return nil, fmt.Errorf("%w: window has %d frames, want %d", ErrInference, len(window), a.length)
	}

	input := gocv.NewMatWithSizes(a.Shape(), gocv.MatTypeCV32F)
	defer input.Close()

	for t, v := range window {
		if len(v) != a.dim {
			return nil, fmt.Errorf("%w: %w: frame %d has %d features, want %d",
				ErrInference, ErrConfigMismatch, t, len(v), a.dim)
		}
		for f, x := range v {
			input.SetFloatAt3(0, t, f, float32(x))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			dist = nil
			err = fmt.Errorf("%w: model panicked: %v", ErrInference, r)
		}
	}()

	output, ferr := a.model.Forward(input)
	defer output.Close()
	if ferr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, ferr)
	}

	return a.readDistribution(output)
}

// Probe classifies an all-zero window so that a model whose output does not
// line up with the class names is caught before the first real frame.
func (a *Adapter) Probe(ctx context.Context) error {
	window := make([]features.Vector, a.length)
	for i := range window {
		window[i] = make(features.Vector, a.dim)
	}
	_, err := a.Classify(ctx, window)
	return err
}

func (a *Adapter) readDistribution(output gocv.Mat) (Distribution, error) {
	if output.Empty() {
		return nil, fmt.Errorf("%w: empty output", ErrInference)
	}
	if output.Type() != gocv.MatTypeCV32F {
		return nil, fmt.Errorf("%w: output type %v, want CV_32F", ErrInference, output.Type())
	}

	// Accept (C), (1, C), (1, 1, C): every leading dimension must be 1.
	dims := output.Size()
	if len(dims) == 0 {
		return nil, fmt.Errorf("%w: output has no dimensions", ErrInference)
	}
	for _, d := range dims[:len(dims)-1] {
		if d != 1 {
			return nil, fmt.Errorf("%w: unexpected output dims %v", ErrInference, dims)
		}
	}
	if n := dims[len(dims)-1]; n != len(a.classNames) {
		return nil, fmt.Errorf("%w: %w: model returned %d classes, have %d class names",
			ErrInference, ErrConfigMismatch, n, len(a.classNames))
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", ErrInference, err)
	}
	if len(data) != len(a.classNames) {
		return nil, fmt.Errorf("%w: %w: output holds %d values, have %d class names",
			ErrInference, ErrConfigMismatch, len(data), len(a.classNames))
	}

	dist := make(Distribution, len(data))
	for i, p := range data {
		v := float64(p)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: probability %d is %v", ErrInference, i, v)
		}
		dist[i] = v
	}
	// Logits or unnormalized scores are not a distribution.
	if sum := floats.Sum(dist); math.Abs(sum-1) > sumTolerance {
		return nil, fmt.Errorf("%w: probabilities sum to %v", ErrInference, sum)
	}
	return dist, nil
}
