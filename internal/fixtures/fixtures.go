// Package fixtures holds recorded landmark sequences and normalization
// statistics for tests.
package fixtures

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/features"
)

//go:embed testdata/stats.json testdata/sequences/*.json
var fixturesFS embed.FS

const statsFile = "testdata/stats.json"

// Hand is one hand as it is sent on the landmarks websocket.
type Hand struct {
	Points     []detector.Point3D `json:"points"`
	Handedness string             `json:"handedness"`
	Score      float64            `json:"score"`
}

// Frame is the detector output for one video frame.
type Frame struct {
	Hands []Hand `json:"hands"`
}

// Sequence is a recorded run of frames. Label is the letter being signed,
// empty when the sequence is not a single letter.
type Sequence struct {
	Label  string  `json:"label"`
	Frames []Frame `json:"frames"`
}

// StatsJSON returns the raw statistics document. Its class names are
// A, B, C and D and it describes 21 landmarks.
func StatsJSON() []byte {
	data, err := fixturesFS.ReadFile(statsFile)
	if err != nil {
		panic(err)
	}
	return data
}

// WriteStats writes the statistics document into dir and returns its path,
// for code that loads statistics from disk.
func WriteStats(dir string) (string, error) {
	path := filepath.Join(dir, "normalization_params.json")
	if err := os.WriteFile(path, StatsJSON(), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Stats parses the statistics document.
func Stats() (*features.Stats, error) {
	var s features.Stats
	if err := json.Unmarshal(StatsJSON(), &s); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSequence loads a recorded sequence by name, e.g. "letter_a".
func LoadSequence(name string) (*Sequence, error) {
	data, err := fixturesFS.ReadFile("testdata/sequences/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("load sequence %s: %w", name, err)
	}

	var seq Sequence
	if err := json.Unmarshal(data, &seq); err != nil {
		return nil, fmt.Errorf("decode sequence %s: %w", name, err)
	}
	return &seq, nil
}

// Sequences lists the recorded sequence names.
func Sequences() ([]string, error) {
	entries, err := fixturesFS.ReadDir("testdata/sequences")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name()[:len(entry.Name())-len(filepath.Ext(entry.Name()))])
	}
	return names, nil
}

// Landmarks converts every frame into detector hands.
func (s *Sequence) Landmarks() ([][]detector.HandLandmarks, error) {
	out := make([][]detector.HandLandmarks, 0, len(s.Frames))
	for i, f := range s.Frames {
		hands := make([]detector.HandLandmarks, 0, len(f.Hands))
		for _, h := range f.Hands {
			hl, err := detector.FromPoints(h.Points, h.Handedness, h.Score)
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", i, err)
			}
			hands = append(hands, hl)
		}
		out = append(out, hands)
	}
	return out, nil
}
