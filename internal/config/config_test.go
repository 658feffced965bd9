package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	c, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, 30, c.SequenceLength)
	assert.Equal(t, 21, c.NumLandmarks)
	assert.Equal(t, 0.7, c.Threshold)
	assert.Equal(t, 1e-8, c.Epsilon)
	assert.Equal(t, 20, c.HistoryLimit)
	assert.Equal(t, time.Second, c.MetricsInterval)
	assert.Equal(t, ":8080", c.Addr)
	assert.Empty(t, c.MQTTBroker)
	assert.Equal(t, filepath.Join(c.DataDir, "plugins"), c.PluginDir)
	assert.Equal(t, filepath.Join(c.DataDir, "fingerspell.log"), c.LogFile)
	assert.Equal(t, filepath.Join(c.DataDir, "fingerspell.db"), c.DBPath())
}

func TestFromEnv_Overrides(t *testing.T) {
	c, err := FromEnv(envMap(map[string]string{
		"FINGERSPELL_THRESHOLD":        "0.6",
		"FINGERSPELL_SEQUENCE_LENGTH":  "15",
		"FINGERSPELL_DATA_DIR":         "/var/lib/fs",
		"FINGERSPELL_METRICS_INTERVAL": "500ms",
		"FINGERSPELL_HEADLESS":         "true",
		"FINGERSPELL_MQTT_BROKER":      "tcp://localhost:1883",
	}))
	require.NoError(t, err)

	assert.Equal(t, 0.6, c.Threshold)
	assert.Equal(t, 15, c.SequenceLength)
	assert.Equal(t, "/var/lib/fs/plugins", c.PluginDir)
	assert.Equal(t, 500*time.Millisecond, c.MetricsInterval)
	assert.True(t, c.Headless)
	assert.Equal(t, "tcp://localhost:1883", c.MQTTBroker)
}

func TestFromEnv_Errors(t *testing.T) {
	tests := map[string]map[string]string{
		"unparsable int":       {"FINGERSPELL_CAMERA_ID": "front"},
		"unparsable duration":  {"FINGERSPELL_METRICS_INTERVAL": "soon"},
		"threshold of one":     {"FINGERSPELL_THRESHOLD": "1"},
		"negative epsilon":     {"FINGERSPELL_EPSILON": "-1e-8"},
		"zero epsilon":         {"FINGERSPELL_EPSILON": "0"},
		"zero sequence length": {"FINGERSPELL_SEQUENCE_LENGTH": "0"},
		"zero history":         {"FINGERSPELL_HISTORY_LIMIT": "0"},
		"unparsable bool":      {"FINGERSPELL_HEADLESS": "sometimes"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(envMap(env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FINGERSPELL_ADDR=:9090\nFINGERSPELL_HISTORY_LIMIT=50\n"), 0o600))

	// Variables already in the environment win over the file.
	t.Setenv("FINGERSPELL_HISTORY_LIMIT", "5")
	t.Setenv("FINGERSPELL_ADDR", "")
	os.Unsetenv("FINGERSPELL_ADDR")

	c, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.Addr)
	assert.Equal(t, 5, c.HistoryLimit)
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.NoError(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), expandHome("~/data"))
	assert.Equal(t, "/abs", expandHome("/abs"))
}
