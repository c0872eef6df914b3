package engine

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/shakilofficial0/advspeedtest/internal/util"
)

// WorkerState is the lifecycle state of one connection worker.
type WorkerState int32

const (
	StateConnecting WorkerState = iota
	StateActive
	StateDraining
	StateClosed
	StateFailed
)

func (s WorkerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Streamer opens the data streams workers transfer over. The HTTP
// implementation lives in http.go; tests substitute synthetic streams.
type Streamer interface {
	OpenDownload(ctx context.Context) (io.ReadCloser, error)
	OpenUpload(ctx context.Context) (io.WriteCloser, error)
}

// worker is one parallel data stream. It owns its stream lifecycle and a
// monotonic byte counter read concurrently by the aggregator.
type worker struct {
	id         int
	role       Role
	streamer   Streamer
	chunkSize  int
	maxRetries int
	backoff    time.Duration
	logger     util.Logger

	bytes atomic.Int64
	state atomic.Int32
}

func newWorker(id int, cfg PoolConfig, streamer Streamer, logger util.Logger) *worker {
	return &worker{
		id:         id,
		role:       cfg.Role,
		streamer:   streamer,
		chunkSize:  cfg.ChunkSize,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		logger:     logger,
	}
}

// Bytes returns the cumulative byte count. It only ever grows.
func (w *worker) Bytes() int64 {
	return w.bytes.Load()
}

func (w *worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker) setState(s WorkerState) {
	w.state.Store(int32(s))
}

// run transfers chunks until the context is canceled or retries exhaust.
// A stream ending normally (download body consumed) is reopened without
// consuming a retry; connection and IO errors back off and retry.
func (w *worker) run(ctx context.Context) {
	retries := 0
	backoff := w.backoff
	buf := make([]byte, w.chunkSize)
	if w.role == RoleUpload {
		fillPattern(buf)
	}

	for {
		if ctx.Err() != nil {
			w.setState(StateClosed)
			return
		}
		w.setState(StateConnecting)

		var rc io.ReadCloser
		var wc io.WriteCloser
		var err error
		if w.role == RoleDownload {
			rc, err = w.streamer.OpenDownload(ctx)
		} else {
			wc, err = w.streamer.OpenUpload(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				w.setState(StateClosed)
				return
			}
			retries++
			if retries > w.maxRetries {
				w.logger.Debug("worker failed", "worker", w.id, "error", err)
				w.setState(StateFailed)
				return
			}
			if !sleepCtx(ctx, backoff) {
				w.setState(StateClosed)
				return
			}
			backoff *= 2
			continue
		}

		w.setState(StateActive)
		var done bool
		if w.role == RoleDownload {
			done, err = w.drainDownload(ctx, rc, buf)
		} else {
			done, err = w.pumpUpload(ctx, wc, buf)
		}
		if done {
			// Stop signal observed; the current chunk is finished and
			// the stream closed, so the counter is final.
			w.setState(StateClosed)
			return
		}
		if err == nil {
			// Stream exhausted normally: reopen and keep saturating.
			retries = 0
			backoff = w.backoff
			continue
		}
		retries++
		if retries > w.maxRetries {
			w.logger.Debug("worker failed", "worker", w.id, "error", err)
			w.setState(StateFailed)
			return
		}
		if !sleepCtx(ctx, backoff) {
			w.setState(StateClosed)
			return
		}
		backoff *= 2
	}
}

// drainDownload reads the stream in fixed-size chunks, crediting the byte
// counter per chunk. Returns done=true when the stop signal fired.
func (w *worker) drainDownload(ctx context.Context, rc io.ReadCloser, buf []byte) (bool, error) {
	defer rc.Close()
	for {
		select {
		case <-ctx.Done():
			w.setState(StateDraining)
			return true, nil
		default:
		}
		n, err := rc.Read(buf)
		if n > 0 {
			w.bytes.Add(int64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			if ctx.Err() != nil {
				w.setState(StateDraining)
				return true, nil
			}
			return false, err
		}
	}
}

// pumpUpload writes pattern chunks until told to stop. The stream never
// ends on its own; a nil-error return only happens via the stop signal.
func (w *worker) pumpUpload(ctx context.Context, wc io.WriteCloser, buf []byte) (bool, error) {
	defer wc.Close()
	for {
		select {
		case <-ctx.Done():
			w.setState(StateDraining)
			return true, nil
		default:
		}
		n, err := wc.Write(buf)
		if n > 0 {
			w.bytes.Add(int64(n))
		}
		if err != nil {
			if ctx.Err() != nil {
				w.setState(StateDraining)
				return true, nil
			}
			return false, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func fillPattern(buf []byte) {
	for i := range buf {
		buf[i] = byte('A' + i%26)
	}
}
