package engine

import "time"

// Role describes traffic flow relative to the client.
type Role int

const (
	RoleDownload Role = iota
	RoleUpload
)

func (r Role) String() string {
	switch r {
	case RoleUpload:
		return "upload"
	default:
		return "download"
	}
}

const (
	// MaxConcurrency bounds the number of parallel workers per phase.
	MaxConcurrency = 64

	DefaultConcurrency  = 4
	DefaultChunkSize    = 64 * 1024
	DefaultTickInterval = 250 * time.Millisecond
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 200 * time.Millisecond
)

// WindowConfig bounds the measurement window of one transfer phase. Only
// bytes inside [WindowStart, WindowEnd] count toward the reported figure;
// SkipOffset is the ramp-up ignored by the download calculation.
type WindowConfig struct {
	SkipOffset  time.Duration
	WindowStart time.Duration
	WindowEnd   time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration
}

// DownloadWindow returns the default adaptive download window: early finish
// permitted after 10s once throughput stabilizes, hard stop at 30s.
func DownloadWindow() WindowConfig {
	return WindowConfig{
		SkipOffset:  2 * time.Second,
		WindowStart: 2 * time.Second,
		WindowEnd:   30 * time.Second,
		MinDuration: 10 * time.Second,
		MaxDuration: 30 * time.Second,
	}
}

// UploadWindow returns the default fixed upload window: 15s total with
// bytes counted between 3s and 12s.
func UploadWindow() WindowConfig {
	return WindowConfig{
		SkipOffset:  0,
		WindowStart: 3 * time.Second,
		WindowEnd:   12 * time.Second,
		MinDuration: 15 * time.Second,
		MaxDuration: 15 * time.Second,
	}
}

// StabilizationConfig tunes the heuristic that declares a download
// measurement reliable. Exact thresholds are deployment-tunable; the
// defaults below are starting points, not calibrated constants.
type StabilizationConfig struct {
	// Lookback is the number of retained throughput samples.
	Lookback int
	// Deltas is the number of recent per-tick rates examined.
	Deltas int
	// MaxCV is the coefficient-of-variation threshold across those rates.
	MaxCV float64
	// StableTicks is how many consecutive ticks must pass the threshold.
	StableTicks int
}

func DefaultStabilization() StabilizationConfig {
	return StabilizationConfig{
		Lookback:    20,
		Deltas:      8,
		MaxCV:       0.08,
		StableTicks: 3,
	}
}

// PoolConfig defines one transfer phase.
type PoolConfig struct {
	Role          Role
	Concurrency   int
	ChunkSize     int
	TickInterval  time.Duration
	Window        WindowConfig
	Stabilization StabilizationConfig
	MaxRetries    int
	RetryBackoff  time.Duration
	// Grace bounds how long workers may take to acknowledge the stop
	// signal; zero means one tick interval.
	Grace time.Duration
}

// ThroughputSample is one point-in-time aggregate across all workers.
type ThroughputSample struct {
	Timestamp time.Time
	Elapsed   time.Duration
	// Bytes is the cumulative byte count across all workers.
	Bytes int64
	// InstantBps is the rate since the previous tick, in bits per second.
	InstantBps float64
}

// InstantMbps returns the instantaneous rate in Mbps.
func (s ThroughputSample) InstantMbps() float64 {
	return s.InstantBps / 1e6
}

// Result is the outcome of one transfer phase. Bytes and Duration describe
// the counted measurement window; TotalBytes and Elapsed the whole phase.
type Result struct {
	Role          Role
	Bytes         int64
	Duration      time.Duration
	Mbps          float64
	TotalBytes    int64
	Elapsed       time.Duration
	Stable        bool
	Workers       int
	FailedWorkers int
	Samples       int
	// Retransmits is the TCP retransmit total across worker connections,
	// when the platform exposes it.
	Retransmits uint64
}
