// Package decision turns a class distribution into an accepted letter or
// no decision.
package decision

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the minimum confidence a letter must exceed.
const DefaultThreshold = 0.7

// Prediction is an accepted letter.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func (p Prediction) String() string {
	return fmt.Sprintf("%s (%.0f%%)", p.Label, p.Confidence*100)
}

// Policy accepts the most probable class when its probability is strictly
// greater than Threshold.
type Policy struct {
	Threshold float64
}

// NewPolicy returns a policy with the given threshold. Values outside [0,1)
// fall back to DefaultThreshold.
func NewPolicy(threshold float64) Policy {
	if threshold < 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	return Policy{Threshold: threshold}
}

// Decide picks the arg-max of dist; on ties the lowest index wins. It
// returns false when the distribution is empty, does not line up with
// classNames, or the winning probability is at or below the threshold.
func (p Policy) Decide(dist []float64, classNames []string) (Prediction, bool) {
	if len(dist) == 0 || len(dist) != len(classNames) {
		return Prediction{}, false
	}

	// floats.MaxIdx returns the first index holding the maximum.
	idx := floats.MaxIdx(dist)
	conf := dist[idx]
	if !(conf > p.Threshold) {
		return Prediction{}, false
	}
	return Prediction{Label: classNames[idx], Confidence: conf}, true
}
