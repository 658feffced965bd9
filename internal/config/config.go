// Package config loads runtime settings from an optional .env file and
// FINGERSPELL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Prefix is prepended to every variable name.
const Prefix = "FINGERSPELL_"

// Config holds every tunable of the application.
type Config struct {
	ModelPath       string
	StatsPath       string
	SequenceLength  int
	NumLandmarks    int
	Threshold       float64
	Epsilon         float64
	CameraID        int
	Addr            string
	DataDir         string
	PluginDir       string
	WebDir          string
	LogLevel        string
	LogFile         string
	HistoryLimit    int
	MetricsInterval time.Duration
	ActionCooldown  time.Duration
	MQTTBroker      string
	MQTTTopic       string
	MQTTClientID    string
	Headless        bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	dataDir := ".fingerspell"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".fingerspell")
	}
	return Config{
		ModelPath:       "models/fingerspell.onnx",
		StatsPath:       "models/normalization_params.json",
		SequenceLength:  30,
		NumLandmarks:    21,
		Threshold:       0.7,
		Epsilon:         1e-8,
		CameraID:        0,
		Addr:            ":8080",
		DataDir:         dataDir,
		LogLevel:        "info",
		HistoryLimit:    20,
		MetricsInterval: time.Second,
		ActionCooldown:  time.Second,
		MQTTTopic:       "fingerspell",
		MQTTClientID:    "fingerspell",
	}
}

// Load reads envFiles (missing files are ignored) into the process
// environment without overriding variables that are already set, then
// builds a Config from the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function, starting from Default.
func FromEnv(getenv func(string) string) (Config, error) {
	c := Default()
	p := parser{getenv: getenv}

	p.str("MODEL_PATH", &c.ModelPath)
	p.str("STATS_PATH", &c.StatsPath)
	p.integer("SEQUENCE_LENGTH", &c.SequenceLength)
	p.integer("NUM_LANDMARKS", &c.NumLandmarks)
	p.float("THRESHOLD", &c.Threshold)
	p.float("EPSILON", &c.Epsilon)
	p.integer("CAMERA_ID", &c.CameraID)
	p.str("ADDR", &c.Addr)
	p.str("DATA_DIR", &c.DataDir)
	p.str("PLUGIN_DIR", &c.PluginDir)
	p.str("WEB_DIR", &c.WebDir)
	p.str("LOG_LEVEL", &c.LogLevel)
	p.str("LOG_FILE", &c.LogFile)
	p.integer("HISTORY_LIMIT", &c.HistoryLimit)
	p.duration("METRICS_INTERVAL", &c.MetricsInterval)
	p.duration("ACTION_COOLDOWN", &c.ActionCooldown)
	p.str("MQTT_BROKER", &c.MQTTBroker)
	p.str("MQTT_TOPIC", &c.MQTTTopic)
	p.str("MQTT_CLIENT_ID", &c.MQTTClientID)
	p.boolean("HEADLESS", &c.Headless)

	if p.err != nil {
		return Config{}, p.err
	}

	c.DataDir = expandHome(c.DataDir)
	if c.PluginDir == "" {
		c.PluginDir = filepath.Join(c.DataDir, "plugins")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "fingerspell.log")
	}
	return c, c.Validate()
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.SequenceLength <= 0 {
		errs = append(errs, fmt.Errorf("sequence length must be positive, got %d", c.SequenceLength))
	}
	if c.NumLandmarks <= 0 {
		errs = append(errs, fmt.Errorf("landmark count must be positive, got %d", c.NumLandmarks))
	}
	if c.Threshold < 0 || c.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("threshold must be in [0, 1), got %v", c.Threshold))
	}
	if c.Epsilon <= 0 {
		errs = append(errs, fmt.Errorf("epsilon must be positive, got %v", c.Epsilon))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit))
	}
	if c.MetricsInterval <= 0 {
		errs = append(errs, fmt.Errorf("metrics interval must be positive, got %v", c.MetricsInterval))
	}
	if c.ModelPath == "" || c.StatsPath == "" {
		errs = append(errs, errors.New("model and stats paths are required"))
	}
	return errors.Join(errs...)
}

// DBPath is the SQLite database location.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "fingerspell.db")
}

type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) lookup(key string) (string, bool) {
	v := strings.TrimSpace(p.getenv(Prefix + key))
	return v, v != ""
}

func (p *parser) fail(key, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s%s=%q: %w", Prefix, key, v, err)
	}
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	if v, ok := p.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (p *parser) float(key string, dst *float64) {
	if v, ok := p.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (p *parser) boolean(key string, dst *bool) {
	if v, ok := p.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
