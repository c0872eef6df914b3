package engine

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shakilofficial0/advspeedtest/internal/clock"
)

// feedStreamer hands workers streams whose transfer sizes the test
// dictates. Every value sent on feeds moves that many bytes through one
// worker; a zero value is a barrier: once its send completes, all byte
// counts fed before it are committed to the worker counters.
type feedStreamer struct {
	feeds chan int
	opens atomic.Int64
}

func newFeedStreamer() *feedStreamer {
	return &feedStreamer{feeds: make(chan int)}
}

func (s *feedStreamer) OpenDownload(ctx context.Context) (io.ReadCloser, error) {
	s.opens.Add(1)
	return &feedStream{feeds: s.feeds, ctx: ctx}, nil
}

func (s *feedStreamer) OpenUpload(ctx context.Context) (io.WriteCloser, error) {
	s.opens.Add(1)
	return &feedStream{feeds: s.feeds, ctx: ctx}, nil
}

// feed pushes sizes followed by a zero barrier.
func (s *feedStreamer) feed(sizes ...int) {
	for _, n := range sizes {
		s.feeds <- n
	}
	s.feeds <- 0
}

type feedStream struct {
	feeds chan int
	ctx   context.Context
}

func (f *feedStream) Read(p []byte) (int, error) {
	select {
	case n := <-f.feeds:
		if n > len(p) {
			n = len(p)
		}
		return n, nil
	case <-f.ctx.Done():
		return 0, f.ctx.Err()
	}
}

func (f *feedStream) Write(p []byte) (int, error) {
	select {
	case n := <-f.feeds:
		if n > len(p) {
			n = len(p)
		}
		return n, nil
	case <-f.ctx.Done():
		return 0, f.ctx.Err()
	}
}

func (f *feedStream) Close() error { return nil }

// blockingStreamer opens streams that sit idle until canceled.
type blockingStreamer struct {
	opens atomic.Int64
}

func (s *blockingStreamer) OpenDownload(ctx context.Context) (io.ReadCloser, error) {
	s.opens.Add(1)
	return &blockedStream{ctx: ctx}, nil
}

func (s *blockingStreamer) OpenUpload(ctx context.Context) (io.WriteCloser, error) {
	s.opens.Add(1)
	return &blockedStream{ctx: ctx}, nil
}

type blockedStream struct {
	ctx context.Context
}

func (b *blockedStream) Read(p []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockedStream) Write(p []byte) (int, error) {
	<-b.ctx.Done()
	return 0, b.ctx.Err()
}

func (b *blockedStream) Close() error { return nil }

// failingStreamer never produces a stream.
type failingStreamer struct{}

func (failingStreamer) OpenDownload(ctx context.Context) (io.ReadCloser, error) {
	return nil, fmt.Errorf("connection refused")
}

func (failingStreamer) OpenUpload(ctx context.Context) (io.WriteCloser, error) {
	return nil, fmt.Errorf("connection refused")
}

type runOutcome struct {
	result Result
	err    error
}

func startPool(t *testing.T, p *Pool, ctx context.Context) chan runOutcome {
	t.Helper()
	done := make(chan runOutcome, 1)
	go func() {
		result, err := p.Run(ctx)
		done <- runOutcome{result, err}
	}()
	return done
}

func waitOutcome(t *testing.T, done chan runOutcome) runOutcome {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(5 * time.Second):
		t.Fatalf("pool did not finish")
		return runOutcome{}
	}
}

func TestNewPoolRejectsBadConfig(t *testing.T) {
	base := PoolConfig{
		Role:        RoleDownload,
		Concurrency: 2,
		Window:      DownloadWindow(),
	}

	cases := []struct {
		name   string
		mutate func(*PoolConfig)
	}{
		{"negative concurrency", func(c *PoolConfig) { c.Concurrency = -1 }},
		{"concurrency above cap", func(c *PoolConfig) { c.Concurrency = MaxConcurrency + 1 }},
		{"skip offset past window end", func(c *PoolConfig) {
			c.Window.SkipOffset = c.Window.WindowEnd
		}},
		{"window start past window end", func(c *PoolConfig) {
			c.Window.WindowStart = c.Window.WindowEnd + time.Second
		}},
		{"window end past total duration", func(c *PoolConfig) {
			c.Window.WindowEnd = c.Window.MaxDuration + time.Second
		}},
		{"min duration past max duration", func(c *PoolConfig) {
			c.Window.MinDuration = c.Window.MaxDuration + time.Second
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := NewPool(cfg, &blockingStreamer{})
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}

	_, err := NewPool(base, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = NewPool(base, &blockingStreamer{})
	require.NoError(t, err)
}

func TestPoolSpawnsExactlyConcurrencyWorkers(t *testing.T) {
	streamer := &blockingStreamer{}
	cfg := PoolConfig{
		Role:        RoleDownload,
		Concurrency: 7,
		Grace:       50 * time.Millisecond,
	}
	manual := clock.NewManual(time.Unix(0, 0))
	pool, err := NewPool(cfg, streamer, WithClock(manual))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := startPool(t, pool, ctx)

	require.Eventually(t, func() bool {
		return streamer.opens.Load() == 7
	}, 2*time.Second, 5*time.Millisecond, "expected one open per worker")

	cancel()
	out := waitOutcome(t, done)
	require.ErrorIs(t, out.err, ErrCanceled)
	require.Equal(t, 7, out.result.Workers)
	require.Equal(t, int64(7), streamer.opens.Load(), "no extra streams may be opened")
}

func TestDownloadSkipOffsetExcludedFromFigure(t *testing.T) {
	streamer := newFeedStreamer()
	cfg := PoolConfig{
		Role:         RoleDownload,
		Concurrency:  1,
		TickInterval: time.Second,
		Window: WindowConfig{
			SkipOffset:  time.Second,
			WindowStart: time.Second,
			WindowEnd:   4 * time.Second,
			MinDuration: 2 * time.Second,
			MaxDuration: 4 * time.Second,
		},
		// Deltas larger than the tick count keeps stabilization out of
		// this test's way.
		Stabilization: StabilizationConfig{Lookback: 20, Deltas: 10, MaxCV: 0.5, StableTicks: 3},
		Grace:         50 * time.Millisecond,
	}
	manual := clock.NewManual(time.Unix(0, 0))
	pool, err := NewPool(cfg, streamer, WithClock(manual))
	require.NoError(t, err)

	done := startPool(t, pool, context.Background())

	feeds := []int{1000, 5000, 500, 2000}
	for _, n := range feeds {
		streamer.feed(n)
		manual.Advance(time.Second)
	}

	out := waitOutcome(t, done)
	require.NoError(t, out.err)

	result := out.result
	require.Equal(t, int64(8500), result.TotalBytes)
	require.Equal(t, 4*time.Second, result.Elapsed)
	require.Equal(t, int64(7500), result.Bytes, "first second of bytes must be skipped")
	require.Equal(t, 3*time.Second, result.Duration)
	require.InDelta(t, 7500.0*8/3/1e6, result.Mbps, 1e-9)
	require.False(t, result.Stable)
	require.Equal(t, 5, result.Samples)
	require.Zero(t, result.FailedWorkers)
}

func TestDownloadFinishesEarlyOnceStable(t *testing.T) {
	streamer := newFeedStreamer()
	cfg := PoolConfig{
		Role:         RoleDownload,
		Concurrency:  1,
		TickInterval: time.Second,
		Window: WindowConfig{
			WindowStart: 0,
			WindowEnd:   10 * time.Second,
			MinDuration: 2 * time.Second,
			MaxDuration: 10 * time.Second,
		},
		Stabilization: StabilizationConfig{Lookback: 5, Deltas: 2, MaxCV: 0.05, StableTicks: 2},
		Grace:         50 * time.Millisecond,
	}
	manual := clock.NewManual(time.Unix(0, 0))
	pool, err := NewPool(cfg, streamer, WithClock(manual))
	require.NoError(t, err)

	done := startPool(t, pool, context.Background())

	// Constant per-tick rate: two deltas under the threshold after three
	// ticks, so the phase may end at the third tick.
	for i := 0; i < 3; i++ {
		streamer.feed(1000)
		manual.Advance(time.Second)
	}

	out := waitOutcome(t, done)
	require.NoError(t, out.err)
	require.True(t, out.result.Stable)
	require.Equal(t, 3*time.Second, out.result.Elapsed, "phase must end before the hard cap")
	require.Equal(t, int64(3000), out.result.Bytes)
	require.InDelta(t, 3000.0*8/3/1e6, out.result.Mbps, 1e-9)
}

func TestDownloadWaitsForMinimumDuration(t *testing.T) {
	streamer := newFeedStreamer()
	cfg := PoolConfig{
		Role:         RoleDownload,
		Concurrency:  1,
		TickInterval: time.Second,
		Window: WindowConfig{
			WindowStart: 0,
			WindowEnd:   10 * time.Second,
			MinDuration: 5 * time.Second,
			MaxDuration: 10 * time.Second,
		},
		// Stability latches on the second tick, well before the minimum.
		Stabilization: StabilizationConfig{Lookback: 5, Deltas: 2, MaxCV: 0.05, StableTicks: 1},
		Grace:         50 * time.Millisecond,
	}
	manual := clock.NewManual(time.Unix(0, 0))
	pool, err := NewPool(cfg, streamer, WithClock(manual))
	require.NoError(t, err)

	done := startPool(t, pool, context.Background())

	for i := 0; i < 5; i++ {
		streamer.feed(1000)
		manual.Advance(time.Second)
	}

	out := waitOutcome(t, done)
	require.NoError(t, out.err)
	require.True(t, out.result.Stable)
	require.Equal(t, 5*time.Second, out.result.Elapsed, "early stability must not beat the minimum duration")
}

func TestUploadCountsOnlyWindowBytes(t *testing.T) {
	streamer := newFeedStreamer()
	cfg := PoolConfig{
		Role:         RoleUpload,
		Concurrency:  1,
		TickInterval: time.Second,
		Window: WindowConfig{
			WindowStart: time.Second,
			WindowEnd:   3 * time.Second,
			MinDuration: 4 * time.Second,
			MaxDuration: 4 * time.Second,
		},
		Grace: 50 * time.Millisecond,
	}
	manual := clock.NewManual(time.Unix(0, 0))
	pool, err := NewPool(cfg, streamer, WithClock(manual))
	require.NoError(t, err)

	done := startPool(t, pool, context.Background())

	for _, n := range []int{1000, 2000, 3000, 1000} {
		streamer.feed(n)
		manual.Advance(time.Second)
	}

	out := waitOutcome(t, done)
	require.NoError(t, out.err)

	result := out.result
	require.Equal(t, int64(7000), result.TotalBytes)
	require.Equal(t, 4*time.Second, result.Elapsed)
	require.Equal(t, int64(5000), result.Bytes, "only bytes between 1s and 3s count")
	require.Equal(t, 2*time.Second, result.Duration)
	require.InDelta(t, 5000.0*8/2/1e6, result.Mbps, 1e-9)
}

func TestAllWorkersFailedBeforeMinDuration(t *testing.T) {
	cfg := PoolConfig{
		Role:         RoleDownload,
		Concurrency:  2,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		Window: WindowConfig{
			WindowStart: 0,
			WindowEnd:   time.Hour,
			MinDuration: time.Hour,
			MaxDuration: time.Hour,
		},
		Grace: 50 * time.Millisecond,
	}
	manual := clock.NewManual(time.Unix(0, 0))
	pool, err := NewPool(cfg, failingStreamer{}, WithClock(manual))
	require.NoError(t, err)

	done := startPool(t, pool, context.Background())

	// Ticks are delivered until the pool observes both workers in the
	// failed state; the accumulated elapsed time stays far below the
	// minimum duration.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case out := <-done:
			require.ErrorIs(t, out.err, ErrTransferExhausted)
			require.Equal(t, 2, out.result.Workers)
			require.Equal(t, 2, out.result.FailedWorkers)
			require.Zero(t, out.result.Bytes)
			return
		case <-deadline:
			t.Fatalf("pool did not report exhaustion")
		default:
			manual.TryAdvance(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestCancellationKeepsPartialResult(t *testing.T) {
	streamer := newFeedStreamer()
	cfg := PoolConfig{
		Role:         RoleDownload,
		Concurrency:  1,
		TickInterval: time.Second,
		Window: WindowConfig{
			WindowStart: 0,
			WindowEnd:   10 * time.Second,
			MinDuration: 5 * time.Second,
			MaxDuration: 10 * time.Second,
		},
		Grace: 50 * time.Millisecond,
	}
	manual := clock.NewManual(time.Unix(0, 0))
	pool, err := NewPool(cfg, streamer, WithClock(manual))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := startPool(t, pool, ctx)

	streamer.feed(1000)
	manual.Advance(time.Second)
	cancel()

	out := waitOutcome(t, done)
	require.ErrorIs(t, out.err, ErrCanceled)
	require.Equal(t, int64(1000), out.result.Bytes, "partial bytes must survive cancellation")
	require.Equal(t, time.Second, out.result.Duration)
}

func TestObserverSeesSamplesAndFailures(t *testing.T) {
	obs := &countingObserver{}
	cfg := PoolConfig{
		Role:         RoleDownload,
		Concurrency:  1,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
		Window: WindowConfig{
			WindowStart: 0,
			WindowEnd:   time.Hour,
			MinDuration: time.Hour,
			MaxDuration: time.Hour,
		},
		Grace: 50 * time.Millisecond,
	}
	manual := clock.NewManual(time.Unix(0, 0))
	pool, err := NewPool(cfg, failingStreamer{}, WithClock(manual), WithObserver(obs))
	require.NoError(t, err)

	done := startPool(t, pool, context.Background())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case out := <-done:
			require.Error(t, out.err)
			require.Equal(t, int64(1), obs.failures.Load())
			require.Positive(t, obs.samples.Load())
			return
		case <-deadline:
			t.Fatalf("pool did not finish")
		default:
			manual.TryAdvance(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

type countingObserver struct {
	failures atomic.Int64
	samples  atomic.Int64
}

func (o *countingObserver) WorkerFailed(Role) { o.failures.Add(1) }

func (o *countingObserver) SampleTaken(Role, ThroughputSample) { o.samples.Add(1) }
