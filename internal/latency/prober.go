// Package latency measures round-trip time against a test endpoint's echo
// service. The prober holds one persistent connection and sends sequential
// newline-framed probes; a timeout counts as a failed sample rather than
// aborting the run.
package latency

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shakilofficial0/advspeedtest/internal/util"
)

// ErrProbeConnection indicates the echo connection could not be established.
// The run continues without latency statistics.
var ErrProbeConnection = errors.New("latency: echo connection failed")

const (
	DefaultCount   = 10
	DefaultTimeout = 5 * time.Second

	dialTimeout = 3 * time.Second
)

// DialFunc opens the echo connection. Tests substitute in-memory pipes.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Config defines parameters for one prober run.
type Config struct {
	// Host is the host:port of the endpoint echo service.
	Host string
	// Count is the number of sequential probes to send.
	Count int
	// Timeout bounds each probe round trip.
	Timeout time.Duration
	// Dial overrides connection establishment.
	Dial DialFunc
}

// Prober sends sequential echo probes over a persistent connection.
type Prober struct {
	cfg    Config
	logger util.Logger
}

func NewProber(cfg Config, logger util.Logger) *Prober {
	if cfg.Count <= 0 {
		cfg.Count = DefaultCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dial == nil {
		host := cfg.Host
		cfg.Dial = func(ctx context.Context) (net.Conn, error) {
			dialer := net.Dialer{Timeout: dialTimeout}
			return dialer.DialContext(ctx, "tcp", host)
		}
	}
	if logger == nil {
		logger = util.NopLogger()
	}
	return &Prober{cfg: cfg, logger: logger}
}

// Run sends cfg.Count probes one at a time, waiting for the matching reply
// or the per-probe timeout before sending the next. It returns
// ErrProbeConnection if the initial dial fails.
func (p *Prober) Run(ctx context.Context) (*Stats, error) {
	conn, err := p.cfg.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeConnection, err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	rtts := make([]time.Duration, 0, p.cfg.Count)
	failures := 0

	for seq := 1; seq <= p.cfg.Count; seq++ {
		if ctx.Err() != nil {
			break
		}
		rtt, ok := p.probe(conn, reader, seq)
		if !ok {
			failures++
			continue
		}
		rtts = append(rtts, rtt)
	}

	stats := computeStats(rtts, failures)
	p.logger.Debug("prober finished",
		"samples", stats.Samples, "failures", stats.Failures,
		"avg", stats.Avg, "jitter", stats.Jitter)
	return stats, nil
}

// probe performs one echo round trip. Replies carrying an older sequence
// number are drained; they belong to probes that already timed out.
func (p *Prober) probe(conn net.Conn, reader *bufio.Reader, seq int) (time.Duration, bool) {
	deadline := time.Now().Add(p.cfg.Timeout)
	_ = conn.SetWriteDeadline(deadline)
	start := time.Now()
	if _, err := fmt.Fprintf(conn, "PING %d %d\n", seq, start.UnixNano()); err != nil {
		return 0, false
	}

	_ = conn.SetReadDeadline(deadline)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, false
		}
		replySeq, ok := parseReply(line)
		if !ok {
			continue
		}
		if replySeq < seq {
			continue
		}
		if replySeq != seq {
			return 0, false
		}
		return time.Since(start), true
	}
}

func parseReply(line string) (int, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 2 || fields[0] != "PONG" {
		return 0, false
	}
	seq, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return seq, true
}
