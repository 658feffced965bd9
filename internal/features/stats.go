package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// ErrAssetLoad is returned when the normalization document is missing or malformed.
var ErrAssetLoad = errors.New("asset load failed")

// maxStatsSize bounds the normalization document; a real one is a few KB.
const maxStatsSize = 1 << 20

// Stats holds per-feature normalization statistics and the classifier labels.
// It is immutable once loaded.
type Stats struct {
	Mean       []float64 `json:"mean"`
	Std        []float64 `json:"std"`
	ClassNames []string  `json:"class_names"`
}

// LoadStats reads a normalization document of the form
// {"mean": [...], "std": [...], "class_names": [...]}.
func LoadStats(path string) (*Stats, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: stats file must have .json extension, got %q", ErrAssetLoad, ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetLoad, err)
	}
	if info.Size() > maxStatsSize {
		return nil, fmt.Errorf("%w: stats file too large: %d bytes (max %d)", ErrAssetLoad, info.Size(), maxStatsSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssetLoad, err)
	}

	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrAssetLoad, cleanPath, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the document is internally consistent.
func (s *Stats) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil stats", ErrAssetLoad)
	}
	if len(s.Mean) == 0 {
		return fmt.Errorf("%w: mean is empty", ErrAssetLoad)
	}
	if len(s.Mean) != len(s.Std) {
		return fmt.Errorf("%w: mean has %d entries, std has %d", ErrConfigMismatch, len(s.Mean), len(s.Std))
	}
	if len(s.ClassNames) == 0 {
		return fmt.Errorf("%w: class_names is empty", ErrAssetLoad)
	}
	for i := range s.Mean {
		if math.IsNaN(s.Mean[i]) || math.IsNaN(s.Std[i]) || s.Std[i] < 0 {
			return fmt.Errorf("%w: bad statistics at feature %d", ErrAssetLoad, i)
		}
	}
	return nil
}

// Dim is the feature length the statistics describe.
func (s *Stats) Dim() int {
	return len(s.Mean)
}

// CheckDim fails with ErrConfigMismatch unless the statistics match a
// feature vector of length dim.
func (s *Stats) CheckDim(dim int) error {
	if len(s.Mean) != dim || len(s.Std) != dim {
		return fmt.Errorf("%w: features have %d values, stats have mean=%d std=%d",
			ErrConfigMismatch, dim, len(s.Mean), len(s.Std))
	}
	return nil
}
