// Package config loads the application configuration. Values omitted from
// the file fall back to the documented defaults; invalid combinations are
// rejected at load time, before any test work starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shakilofficial0/advspeedtest/internal/engine"
)

const (
	defaultConcurrency  = 4
	defaultChunkSize    = 64 * 1024
	defaultTickInterval = 250 * time.Millisecond
	defaultProbeCount   = 10
	defaultProbeTimeout = 5 * time.Second
	defaultLatencyRate  = 2

	defaultControlAddr = "127.0.0.1:8091"
	defaultHistoryPath = "advspeedtest.db"
)

// Duration parses either a bare number of seconds or a Go duration string.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Debug    bool           `yaml:"debug"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Test     TestConfig     `yaml:"test"`
	Download DownloadConfig `yaml:"download"`
	Upload   UploadConfig   `yaml:"upload"`
	Control  ControlConfig  `yaml:"control"`
	History  HistoryConfig  `yaml:"history"`
}

type CatalogConfig struct {
	// Path is a local YAML endpoint list; URL a remote JSON catalog.
	// Path wins when both are set.
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
	// GeoDB is an optional MaxMind database used to rank endpoints by
	// distance from ClientIP.
	GeoDB    string `yaml:"geodb"`
	ClientIP string `yaml:"client_ip"`
	// IPURL is an optional plain-text echo service that reports the
	// client's public address when ClientIP is unset.
	IPURL string `yaml:"ip_url"`
}

type TestConfig struct {
	Concurrency   int      `yaml:"concurrency"`
	ChunkSize     int      `yaml:"chunk_size"`
	TickInterval  Duration `yaml:"tick_interval"`
	ProbeCount    int      `yaml:"probe_count"`
	ProbeTimeout  Duration `yaml:"probe_timeout"`
	ICMP          bool     `yaml:"icmp"`
	LoadedLatency bool     `yaml:"loaded_latency"`
	LatencyRate   int      `yaml:"latency_rate"`
}

type DownloadConfig struct {
	SkipOffset    Duration            `yaml:"skip_offset"`
	MinDuration   Duration            `yaml:"min_duration"`
	MaxDuration   Duration            `yaml:"max_duration"`
	Stabilization StabilizationConfig `yaml:"stabilization"`
}

type StabilizationConfig struct {
	Lookback    int     `yaml:"lookback"`
	Deltas      int     `yaml:"deltas"`
	MaxCV       float64 `yaml:"max_cv"`
	StableTicks int     `yaml:"stable_ticks"`
}

type UploadConfig struct {
	WindowStart Duration `yaml:"window_start"`
	WindowEnd   Duration `yaml:"window_end"`
	Total       Duration `yaml:"total_duration"`
}

type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Test.Concurrency == 0 {
		c.Test.Concurrency = defaultConcurrency
	}
	if c.Test.ChunkSize == 0 {
		c.Test.ChunkSize = defaultChunkSize
	}
	if c.Test.TickInterval == 0 {
		c.Test.TickInterval = Duration(defaultTickInterval)
	}
	if c.Test.ProbeCount == 0 {
		c.Test.ProbeCount = defaultProbeCount
	}
	if c.Test.ProbeTimeout == 0 {
		c.Test.ProbeTimeout = Duration(defaultProbeTimeout)
	}
	if c.Test.LatencyRate == 0 {
		c.Test.LatencyRate = defaultLatencyRate
	}

	win := engine.DownloadWindow()
	if c.Download.SkipOffset == 0 {
		c.Download.SkipOffset = Duration(win.SkipOffset)
	}
	if c.Download.MinDuration == 0 {
		c.Download.MinDuration = Duration(win.MinDuration)
	}
	if c.Download.MaxDuration == 0 {
		c.Download.MaxDuration = Duration(win.MaxDuration)
	}
	stab := engine.DefaultStabilization()
	if c.Download.Stabilization.Lookback == 0 {
		c.Download.Stabilization.Lookback = stab.Lookback
	}
	if c.Download.Stabilization.Deltas == 0 {
		c.Download.Stabilization.Deltas = stab.Deltas
	}
	if c.Download.Stabilization.MaxCV == 0 {
		c.Download.Stabilization.MaxCV = stab.MaxCV
	}
	if c.Download.Stabilization.StableTicks == 0 {
		c.Download.Stabilization.StableTicks = stab.StableTicks
	}

	up := engine.UploadWindow()
	if c.Upload.WindowStart == 0 {
		c.Upload.WindowStart = Duration(up.WindowStart)
	}
	if c.Upload.WindowEnd == 0 {
		c.Upload.WindowEnd = Duration(up.WindowEnd)
	}
	if c.Upload.Total == 0 {
		c.Upload.Total = Duration(up.MaxDuration)
	}

	if c.Control.Addr == "" {
		c.Control.Addr = defaultControlAddr
	}
	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath
	}
}

// Validate rejects configurations the engine would refuse anyway, so the
// failure surfaces at startup instead of mid-test.
func (c *Config) Validate() error {
	if c.Test.Concurrency < 1 || c.Test.Concurrency > engine.MaxConcurrency {
		return fmt.Errorf("config: concurrency %d out of range [1,%d]", c.Test.Concurrency, engine.MaxConcurrency)
	}
	if c.Test.TickInterval.Duration() <= 0 {
		return errors.New("config: tick_interval must be > 0")
	}
	if c.Download.SkipOffset.Duration() >= c.Download.MaxDuration.Duration() {
		return errors.New("config: download skip_offset must be < max_duration")
	}
	if c.Download.MinDuration.Duration() > c.Download.MaxDuration.Duration() {
		return errors.New("config: download min_duration must be <= max_duration")
	}
	if c.Upload.WindowStart.Duration() >= c.Upload.WindowEnd.Duration() {
		return errors.New("config: upload window_start must be < window_end")
	}
	if c.Upload.WindowEnd.Duration() > c.Upload.Total.Duration() {
		return errors.New("config: upload window_end must be <= total_duration")
	}
	return nil
}

// DownloadWindow converts the download section to engine terms.
func (c *Config) DownloadWindow() engine.WindowConfig {
	return engine.WindowConfig{
		SkipOffset:  c.Download.SkipOffset.Duration(),
		WindowStart: c.Download.SkipOffset.Duration(),
		WindowEnd:   c.Download.MaxDuration.Duration(),
		MinDuration: c.Download.MinDuration.Duration(),
		MaxDuration: c.Download.MaxDuration.Duration(),
	}
}

// UploadWindow converts the upload section to engine terms.
func (c *Config) UploadWindow() engine.WindowConfig {
	return engine.WindowConfig{
		WindowStart: c.Upload.WindowStart.Duration(),
		WindowEnd:   c.Upload.WindowEnd.Duration(),
		MinDuration: c.Upload.Total.Duration(),
		MaxDuration: c.Upload.Total.Duration(),
	}
}

// Stabilization converts the stabilization section to engine terms.
func (c *Config) Stabilization() engine.StabilizationConfig {
	return engine.StabilizationConfig{
		Lookback:    c.Download.Stabilization.Lookback,
		Deltas:      c.Download.Stabilization.Deltas,
		MaxCV:       c.Download.Stabilization.MaxCV,
		StableTicks: c.Download.Stabilization.StableTicks,
	}
}
