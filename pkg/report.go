package speedtest

import (
	"time"

	"github.com/shakilofficial0/advspeedtest/internal/engine"
	"github.com/shakilofficial0/advspeedtest/internal/latency"
	"github.com/shakilofficial0/advspeedtest/internal/server"
)

// Phase identifies one stage of a full run.
type Phase string

const (
	PhasePing     Phase = "ping"
	PhaseDownload Phase = "download"
	PhaseUpload   Phase = "upload"
)

// Report is the composite result of a full test run. Phase results are nil
// when the phase failed or was skipped; the corresponding error, if any,
// is retained in Errors.
type Report struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	Endpoint  server.Endpoint

	Latency *latency.Stats
	// LoadedLatency is RTT measured while the transfer phases were
	// saturating the link, when enabled.
	LoadedLatency *latency.Stats

	Download *engine.Result
	Upload   *engine.Result

	// Errors records per-phase failures; best-effort composition means a
	// failed phase never aborts the ones after it.
	Errors map[Phase]error

	// Success is true when at least one phase produced a usable
	// statistic.
	Success bool
}

// DownloadMbps returns the download figure or zero.
func (r *Report) DownloadMbps() float64 {
	if r.Download == nil {
		return 0
	}
	return r.Download.Mbps
}

// UploadMbps returns the upload figure or zero.
func (r *Report) UploadMbps() float64 {
	if r.Upload == nil {
		return 0
	}
	return r.Upload.Mbps
}

// PingMillis returns the average RTT in milliseconds or zero.
func (r *Report) PingMillis() float64 {
	if r.Latency == nil {
		return 0
	}
	return float64(r.Latency.Avg) / float64(time.Millisecond)
}

// JitterMillis returns the RTT standard deviation in milliseconds or zero.
func (r *Report) JitterMillis() float64 {
	if r.Latency == nil {
		return 0
	}
	return float64(r.Latency.Jitter) / float64(time.Millisecond)
}

func (r *Report) evaluate() {
	usable := r.Latency != nil && r.Latency.Samples > 0
	if r.Download != nil && r.Download.Bytes > 0 {
		usable = true
	}
	if r.Upload != nil && r.Upload.Bytes > 0 {
		usable = true
	}
	r.Success = usable
}
