package fixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/features"
)

func TestStats(t *testing.T) {
	s, err := Stats()
	require.NoError(t, err)
	assert.Equal(t, 2*detector.NumLandmarks, s.Dim())
	assert.Equal(t, []string{"A", "B", "C", "D"}, s.ClassNames)

	path, err := WriteStats(t.TempDir())
	require.NoError(t, err)
	loaded, err := features.LoadStats(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestSequences(t *testing.T) {
	names, err := Sequences()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hand_lost", "letter_a", "letter_b"}, names)

	for _, name := range names {
		seq, err := LoadSequence(name)
		require.NoError(t, err, name)

		frames, err := seq.Landmarks()
		require.NoError(t, err, name)
		assert.Len(t, frames, len(seq.Frames), name)
	}
}

func TestLoadSequence(t *testing.T) {
	seq, err := LoadSequence("hand_lost")
	require.NoError(t, err)
	assert.Empty(t, seq.Label)

	frames, err := seq.Landmarks()
	require.NoError(t, err)
	require.Len(t, frames, 5)
	assert.Empty(t, frames[2], "hand leaves the frame")
	assert.Len(t, frames[4], 1)

	seq, err = LoadSequence("letter_a")
	require.NoError(t, err)
	assert.Equal(t, "A", seq.Label)

	_, err = LoadSequence("letter_z")
	assert.Error(t, err)
}
