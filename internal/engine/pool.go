// Package engine implements the adaptive throughput measurement core: a
// pool of parallel connection workers, a tick-driven aggregator that turns
// their byte counters into throughput samples, and the stabilization and
// windowing policies that produce the reported Mbps figure.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shakilofficial0/advspeedtest/internal/clock"
	"github.com/shakilofficial0/advspeedtest/internal/util"
)

// Pool supervises the connection workers of one transfer phase.
type Pool struct {
	cfg      PoolConfig
	streamer Streamer
	clk      clock.Clock
	logger   util.Logger
	progress chan<- ThroughputSample
	observer Observer
}

// Observer receives pool lifecycle callbacks. All methods may be nil-safe
// no-ops; the metrics package provides a prometheus-backed implementation.
type Observer interface {
	WorkerFailed(role Role)
	SampleTaken(role Role, sample ThroughputSample)
}

// Option configures optional pool collaborators.
type Option func(*Pool)

// WithClock substitutes the tick source. Tests drive a manual clock.
func WithClock(clk clock.Clock) Option {
	return func(p *Pool) { p.clk = clk }
}

// WithProgress attaches a progress stream. Samples are published with a
// non-blocking send so a slow consumer never stalls aggregation.
func WithProgress(ch chan<- ThroughputSample) Option {
	return func(p *Pool) { p.progress = ch }
}

// WithLogger attaches a logger.
func WithLogger(logger util.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithObserver attaches lifecycle callbacks.
func WithObserver(obs Observer) Option {
	return func(p *Pool) { p.observer = obs }
}

// NewPool validates the configuration and builds a pool. Configuration
// errors are rejected here, before any worker exists.
func NewPool(cfg PoolConfig, streamer Streamer, opts ...Option) (*Pool, error) {
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if streamer == nil {
		return nil, fmt.Errorf("%w: streamer is required", ErrConfiguration)
	}
	p := &Pool{cfg: cfg, streamer: streamer, logger: util.NopLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func normalize(cfg *PoolConfig) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Grace == 0 {
		cfg.Grace = cfg.TickInterval
	}
	if cfg.Window == (WindowConfig{}) {
		if cfg.Role == RoleUpload {
			cfg.Window = UploadWindow()
		} else {
			cfg.Window = DownloadWindow()
		}
	}
	if cfg.Stabilization == (StabilizationConfig{}) {
		cfg.Stabilization = DefaultStabilization()
	}
}

func validate(cfg PoolConfig) error {
	if cfg.Concurrency < 1 || cfg.Concurrency > MaxConcurrency {
		return fmt.Errorf("%w: concurrency %d out of range [1,%d]", ErrConfiguration, cfg.Concurrency, MaxConcurrency)
	}
	if cfg.ChunkSize < 0 {
		return fmt.Errorf("%w: chunk size must be > 0", ErrConfiguration)
	}
	if cfg.TickInterval < 0 {
		return fmt.Errorf("%w: tick interval must be > 0", ErrConfiguration)
	}
	win := cfg.Window
	if win.SkipOffset < 0 || win.WindowStart < 0 {
		return fmt.Errorf("%w: window offsets must be >= 0", ErrConfiguration)
	}
	if win.SkipOffset >= win.WindowEnd {
		return fmt.Errorf("%w: skip offset %v must be < window end %v", ErrConfiguration, win.SkipOffset, win.WindowEnd)
	}
	if win.WindowStart >= win.WindowEnd {
		return fmt.Errorf("%w: window start %v must be < window end %v", ErrConfiguration, win.WindowStart, win.WindowEnd)
	}
	if win.WindowEnd > win.MaxDuration {
		return fmt.Errorf("%w: window end %v exceeds total duration %v", ErrConfiguration, win.WindowEnd, win.MaxDuration)
	}
	if win.MinDuration > win.MaxDuration {
		return fmt.Errorf("%w: min duration %v exceeds max duration %v", ErrConfiguration, win.MinDuration, win.MaxDuration)
	}
	if cfg.Stabilization.MaxCV < 0 {
		return fmt.Errorf("%w: stabilization threshold must be >= 0", ErrConfiguration)
	}
	return nil
}

// Run executes the phase: spawn exactly Concurrency workers, aggregate
// their counters on each tick, apply the role's windowing policy, and join
// every worker before finalizing. On external cancellation the partial
// result is returned together with ErrCanceled.
func (p *Pool) Run(ctx context.Context) (Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := make([]*worker, p.cfg.Concurrency)
	var wg sync.WaitGroup
	for i := range workers {
		workers[i] = newWorker(i, p.cfg, p.streamer, p.logger)
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.run(runCtx)
		}(workers[i])
	}

	clk := p.clk
	if clk == nil {
		clk = clock.NewWall(p.cfg.TickInterval)
		defer clk.Stop()
	}

	start := clk.Now()
	win := newSampleWindow(p.cfg.Stabilization, p.marks())
	win.add(start, 0, 0)

	prevFailed := 0
	stable := false
	canceled := false

loop:
	for {
		select {
		case <-ctx.Done():
			canceled = true
			break loop
		case now := <-clk.Ticks():
			elapsed := now.Sub(start)
			if elapsed <= win.last.Elapsed {
				continue
			}
			sample := win.add(now, elapsed, p.totalBytes(workers))
			p.publish(sample)

			failed := p.failedWorkers(workers)
			for ; prevFailed < failed; prevFailed++ {
				if p.observer != nil {
					p.observer.WorkerFailed(p.cfg.Role)
				}
			}
			if failed == len(workers) {
				if elapsed < p.cfg.Window.MinDuration {
					cancel()
					p.join(&wg)
					return Result{Role: p.cfg.Role, Workers: len(workers), FailedWorkers: failed},
						fmt.Errorf("%w: %d/%d workers failed at %v", ErrTransferExhausted, failed, len(workers), elapsed.Round(time.Millisecond))
				}
				break loop
			}

			if p.cfg.Role == RoleDownload {
				if elapsed >= p.cfg.Window.MaxDuration {
					break loop
				}
				if win.Stable() && elapsed >= p.cfg.Window.MinDuration {
					stable = true
					break loop
				}
			} else if elapsed >= p.cfg.Window.MaxDuration {
				break loop
			}
		}
	}

	cancel()
	p.join(&wg)

	// One final aggregation point after every worker reached a terminal
	// state, so the closing bytes are part of the record.
	now := clk.Now()
	elapsed := now.Sub(start)
	total := p.totalBytes(workers)
	if elapsed > win.last.Elapsed {
		p.publish(win.add(now, elapsed, total))
	} else {
		elapsed = win.last.Elapsed
		total = win.last.Bytes
	}

	result := p.finalize(win, elapsed, total, stable, workers)
	if canceled {
		return result, fmt.Errorf("%w: %v", ErrCanceled, context.Cause(ctx))
	}
	return result, nil
}

// marks lists the boundary offsets whose byte counts the finalization
// formula needs.
func (p *Pool) marks() []time.Duration {
	win := p.cfg.Window
	if p.cfg.Role == RoleUpload {
		return []time.Duration{win.WindowStart, win.WindowEnd}
	}
	return []time.Duration{win.SkipOffset}
}

func (p *Pool) finalize(win *sampleWindow, elapsed time.Duration, total int64, stable bool, workers []*worker) Result {
	result := Result{
		Role:          p.cfg.Role,
		TotalBytes:    total,
		Elapsed:       elapsed,
		Stable:        stable,
		Workers:       len(workers),
		FailedWorkers: p.failedWorkers(workers),
		Samples:       win.Len(),
		Retransmits:   p.retransmits(),
	}

	if p.cfg.Role == RoleUpload {
		winCfg := p.cfg.Window
		end := winCfg.WindowEnd
		endBytes, ok := win.BytesAt(end)
		if !ok {
			// Phase cut short before the window closed; count what the
			// truncated window actually saw.
			end = elapsed
			endBytes = total
		}
		startBytes, ok := win.BytesAt(winCfg.WindowStart)
		if !ok {
			startBytes = total
		}
		counted := endBytes - startBytes
		dur := end - winCfg.WindowStart
		if counted < 0 {
			counted = 0
		}
		if dur > 0 && counted > 0 {
			result.Bytes = counted
			result.Duration = dur
			result.Mbps = mbps(counted, dur)
		}
		return result
	}

	skip := p.cfg.Window.SkipOffset
	skipBytes, ok := win.BytesAt(skip)
	if !ok {
		skip = 0
		skipBytes = 0
	}
	counted := total - skipBytes
	dur := elapsed - skip
	if counted < 0 {
		counted = 0
	}
	if dur > 0 && counted > 0 {
		result.Bytes = counted
		result.Duration = dur
		result.Mbps = mbps(counted, dur)
	}
	return result
}

func (p *Pool) totalBytes(workers []*worker) int64 {
	var total int64
	for _, w := range workers {
		total += w.Bytes()
	}
	return total
}

func (p *Pool) failedWorkers(workers []*worker) int {
	failed := 0
	for _, w := range workers {
		if w.State() == StateFailed {
			failed++
		}
	}
	return failed
}

func (p *Pool) publish(sample ThroughputSample) {
	if p.observer != nil {
		p.observer.SampleTaken(p.cfg.Role, sample)
	}
	if p.progress == nil {
		return
	}
	select {
	case p.progress <- sample:
	default:
	}
}

// join waits for all workers, bounded by the grace period. Workers blocked
// on I/O are already unblocked by the canceled context; the bound keeps the
// reported duration honest if a close hangs.
func (p *Pool) join(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(p.cfg.Grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("workers did not drain within grace period", "role", p.cfg.Role.String())
	}
}

func (p *Pool) retransmits() uint64 {
	type retransCounter interface {
		Retransmits() uint64
	}
	if rc, ok := p.streamer.(retransCounter); ok {
		return rc.Retransmits()
	}
	return 0
}

func mbps(bytes int64, dur time.Duration) float64 {
	return float64(bytes) * 8 / dur.Seconds() / 1e6
}
