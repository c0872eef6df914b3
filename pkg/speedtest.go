// Package speedtest exposes the measurement engine to the surrounding
// application: a latency test, per-role transfer tests with a live progress
// stream, and a full run composing the phases best-effort.
package speedtest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/shakilofficial0/advspeedtest/internal/engine"
	"github.com/shakilofficial0/advspeedtest/internal/latency"
	"github.com/shakilofficial0/advspeedtest/internal/server"
)

// Re-exported sentinels so callers do not need to import the internal
// packages to classify failures.
var (
	ErrProbeConnection   = latency.ErrProbeConnection
	ErrTransferExhausted = engine.ErrTransferExhausted
	ErrConfiguration     = engine.ErrConfiguration
	ErrCanceled          = engine.ErrCanceled
)

// ProgressFunc is called for every throughput sample of a transfer phase.
type ProgressFunc func(phase Phase, sample engine.ThroughputSample)

// RunLatencyTest probes the endpoint's echo service and returns round-trip
// statistics. A connection failure yields ErrProbeConnection and no stats.
func RunLatencyTest(ctx context.Context, cfg Config) (*latency.Stats, error) {
	cfg.normalize()
	if cfg.ICMP {
		ip, err := resolveIP(cfg.Endpoint.Host)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProbeConnection, err)
		}
		return latency.ProbeICMP(ctx, ip, cfg.ProbeCount, cfg.ProbeTimeout)
	}
	prober := latency.NewProber(latency.Config{
		Host:    cfg.Endpoint.Host,
		Count:   cfg.ProbeCount,
		Timeout: cfg.ProbeTimeout,
	}, cfg.Logger)
	return prober.Run(ctx)
}

// RunTransferTest executes one transfer phase against the endpoint. The
// optional progress channel receives one sample per aggregation tick;
// sends are non-blocking, so a slow consumer only loses samples.
func RunTransferTest(ctx context.Context, cfg Config, role engine.Role, progress chan<- engine.ThroughputSample) (engine.Result, error) {
	cfg.normalize()
	pool, err := newPool(cfg, role, progress)
	if err != nil {
		return engine.Result{}, err
	}
	return pool.Run(ctx)
}

// Run executes a full test: ping, then download, then upload. A phase
// failure is recorded and the remaining phases still execute; cancellation
// stops the run gracefully with partial statistics retained.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	return RunWithProgress(ctx, cfg, nil)
}

// RunWithProgress is Run with a progress callback.
func RunWithProgress(ctx context.Context, cfg Config, progress ProgressFunc) (*Report, error) {
	cfg.normalize()
	report := &Report{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Endpoint:  cfg.Endpoint,
		Errors:    make(map[Phase]error),
	}

	stats, err := RunLatencyTest(ctx, cfg)
	if err != nil {
		report.Errors[PhasePing] = err
		cfg.Logger.Warn("ping phase failed", "endpoint", cfg.Endpoint.Label(), "error", err)
	} else {
		report.Latency = stats
	}

	var sampler *latency.Sampler
	var pinger *latency.Pinger
	if cfg.LoadedLatency && !cfg.ICMP {
		pinger = latency.NewPinger(cfg.Endpoint.Host, cfg.ProbeTimeout)
		sampler = latency.NewSampler(cfg.LatencyRate)
		sampler.Start(pinger.Ping)
	}

	phases := []struct {
		phase Phase
		role  engine.Role
		skip  bool
		slot  **engine.Result
	}{
		{PhaseDownload, engine.RoleDownload, cfg.SkipDownload, &report.Download},
		{PhaseUpload, engine.RoleUpload, cfg.SkipUpload, &report.Upload},
	}
	for _, ph := range phases {
		if ph.skip || ctx.Err() != nil {
			continue
		}
		result, err := runPhase(ctx, cfg, ph.phase, ph.role, progress)
		if err != nil && !errors.Is(err, engine.ErrCanceled) {
			report.Errors[ph.phase] = err
			cfg.Logger.Warn("phase failed", "phase", string(ph.phase), "error", err)
			continue
		}
		res := result
		*ph.slot = &res
		if err != nil {
			// Canceled: keep the partial statistics, stop the run.
			report.Errors[ph.phase] = err
			break
		}
	}

	if sampler != nil {
		sampler.Stop()
		_ = pinger.Close()
		if loaded := sampler.Stats(); loaded.Samples > 0 {
			report.LoadedLatency = loaded
		}
	}

	report.Duration = time.Since(report.StartedAt)
	report.evaluate()
	return report, nil
}

func runPhase(ctx context.Context, cfg Config, phase Phase, role engine.Role, progress ProgressFunc) (engine.Result, error) {
	var ch chan engine.ThroughputSample
	var done chan struct{}
	if progress != nil {
		ch = make(chan engine.ThroughputSample, 16)
		done = make(chan struct{})
		go func() {
			defer close(done)
			for sample := range ch {
				progress(phase, sample)
			}
		}()
	}
	pool, err := newPool(cfg, role, ch)
	if err != nil {
		if ch != nil {
			close(ch)
			<-done
		}
		return engine.Result{}, err
	}
	result, err := pool.Run(ctx)
	if ch != nil {
		close(ch)
		<-done
	}
	return result, err
}

func newPool(cfg Config, role engine.Role, progress chan<- engine.ThroughputSample) (*engine.Pool, error) {
	window := cfg.DownloadWindow
	if role == engine.RoleUpload {
		window = cfg.UploadWindow
	}
	poolCfg := engine.PoolConfig{
		Role:          role,
		Concurrency:   cfg.Concurrency,
		ChunkSize:     cfg.ChunkSize,
		TickInterval:  cfg.TickInterval,
		Window:        window,
		Stabilization: cfg.Stabilization,
	}
	streamer := engine.NewHTTPStreamer(engine.HTTPConfig{
		DownloadURL: cfg.Endpoint.DownloadURL(),
		UploadURL:   cfg.Endpoint.UploadURL(),
		Token:       cfg.Token,
	})
	opts := []engine.Option{engine.WithLogger(cfg.Logger)}
	if progress != nil {
		opts = append(opts, engine.WithProgress(progress))
	}
	if cfg.Observer != nil {
		opts = append(opts, engine.WithObserver(cfg.Observer))
	}
	return engine.NewPool(poolCfg, streamer, opts...)
}

func resolveIP(host string) (net.IP, error) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.New("no addresses")
	}
	return ips[0], nil
}

// Endpoints re-exports the catalog types the CLI needs.
type Endpoint = server.Endpoint
