package features

import (
	"sync/atomic"

	"gonum.org/v1/gonum/floats"
)

// DefaultEpsilon guards against zero-variance features.
const DefaultEpsilon = 1e-8

// Normalizer standardizes feature vectors as (f - mean) / (std + eps).
//
// Statistics may be attached after construction. Until then vectors pass
// through unchanged so frames arriving before assets finish loading are
// still buffered.
type Normalizer struct {
	eps   float64
	stats atomic.Pointer[normParams]
}

type normParams struct {
	stats *Stats
	mean  []float64
	denom []float64 // std + eps
}

// NewNormalizer returns a normalizer. stats may be nil.
func NewNormalizer(stats *Stats, eps float64) *Normalizer {
	if eps < 0 {
		eps = DefaultEpsilon
	}
	n := &Normalizer{eps: eps}
	n.SetStats(stats)
	return n
}

// SetStats swaps in new statistics. Passing nil restores pass-through.
func (n *Normalizer) SetStats(stats *Stats) {
	if stats == nil {
		n.stats.Store(nil)
		return
	}
	denom := make([]float64, len(stats.Std))
	copy(denom, stats.Std)
	floats.AddConst(n.eps, denom)
	n.stats.Store(&normParams{stats: stats, mean: stats.Mean, denom: denom})
}

// Stats returns the current statistics, or nil.
func (n *Normalizer) Stats() *Stats {
	p := n.stats.Load()
	if p == nil {
		return nil
	}
	return p.stats
}

// Epsilon returns the stabilizing constant added to each std.
func (n *Normalizer) Epsilon() float64 {
	return n.eps
}

// Normalize returns a new standardized vector. It fails with
// ErrConfigMismatch when v and the loaded statistics differ in length and
// never touches a misaligned vector.
func (n *Normalizer) Normalize(v Vector) (Vector, error) {
	p := n.stats.Load()
	if p == nil {
		out := make(Vector, len(v))
		copy(out, v)
		return out, nil
	}
	if err := p.stats.CheckDim(len(v)); err != nil {
		return nil, err
	}

	out := make(Vector, len(v))
	floats.SubTo(out, v, p.mean)
	floats.Div(out, p.denom)
	return out, nil
}
