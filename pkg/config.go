package speedtest

import (
	"time"

	"github.com/shakilofficial0/advspeedtest/internal/engine"
	"github.com/shakilofficial0/advspeedtest/internal/server"
	"github.com/shakilofficial0/advspeedtest/internal/util"
)

const (
	DefaultProbeCount   = 10
	DefaultProbeTimeout = 5 * time.Second
	DefaultLatencyRate  = 2
)

// Config defines parameters for a full test run.
type Config struct {
	// Endpoint is the target test server, supplied by server selection.
	Endpoint server.Endpoint
	// Token is an optional session token forwarded opaquely to the
	// endpoint on every worker connection.
	Token string

	// Concurrency is the number of parallel streams per transfer phase.
	Concurrency int
	// ChunkSize is the per-worker transfer chunk in bytes.
	ChunkSize int
	// TickInterval is the aggregation tick.
	TickInterval time.Duration

	// ProbeCount and ProbeTimeout tune the latency prober.
	ProbeCount   int
	ProbeTimeout time.Duration
	// ICMP switches the prober to ICMP echo instead of the endpoint's
	// TCP echo service.
	ICMP bool

	// DownloadWindow and UploadWindow override the per-role measurement
	// windows; zero values select the documented defaults.
	DownloadWindow engine.WindowConfig
	UploadWindow   engine.WindowConfig
	// Stabilization tunes early completion of the download phase.
	Stabilization engine.StabilizationConfig

	// LoadedLatency runs an independent RTT sampler alongside the
	// transfer phases.
	LoadedLatency bool
	// LatencyRate is the loaded-latency sample rate per second.
	LatencyRate int

	// SkipDownload / SkipUpload drop the respective phase.
	SkipDownload bool
	SkipUpload   bool

	// Observer receives engine lifecycle callbacks (metrics).
	Observer engine.Observer
	// Logger defaults to a silent logger.
	Logger util.Logger
}

func (c *Config) normalize() {
	if c.Concurrency == 0 {
		c.Concurrency = engine.DefaultConcurrency
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = engine.DefaultChunkSize
	}
	if c.TickInterval == 0 {
		c.TickInterval = engine.DefaultTickInterval
	}
	if c.ProbeCount == 0 {
		c.ProbeCount = DefaultProbeCount
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.LatencyRate == 0 {
		c.LatencyRate = DefaultLatencyRate
	}
	if c.DownloadWindow == (engine.WindowConfig{}) {
		c.DownloadWindow = engine.DownloadWindow()
	}
	if c.UploadWindow == (engine.WindowConfig{}) {
		c.UploadWindow = engine.UploadWindow()
	}
	if c.Stabilization == (engine.StabilizationConfig{}) {
		c.Stabilization = engine.DefaultStabilization()
	}
	if c.Logger == nil {
		c.Logger = util.NopLogger()
	}
}
