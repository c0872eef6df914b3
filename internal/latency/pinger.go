package latency

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Pinger issues single echo round trips over a persistent connection,
// re-dialing after a failure. It backs the Sampler during loaded-latency
// measurement and never shares connections with transfer workers.
type Pinger struct {
	dial    DialFunc
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	seq    int
}

func NewPinger(host string, timeout time.Duration) *Pinger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pinger{
		dial: func(ctx context.Context) (net.Conn, error) {
			dialer := net.Dialer{Timeout: dialTimeout}
			return dialer.DialContext(ctx, "tcp", host)
		},
		timeout: timeout,
	}
}

// NewPingerFunc builds a Pinger around a custom dialer. Used by tests.
func NewPingerFunc(dial DialFunc, timeout time.Duration) *Pinger {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pinger{dial: dial, timeout: timeout}
}

// Ping performs one echo round trip.
func (p *Pinger) Ping() (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := p.dial(context.Background())
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrProbeConnection, err)
		}
		p.conn = conn
		p.reader = bufio.NewReader(conn)
	}

	p.seq++
	deadline := time.Now().Add(p.timeout)
	_ = p.conn.SetDeadline(deadline)
	start := time.Now()
	if _, err := fmt.Fprintf(p.conn, "PING %d %d\n", p.seq, start.UnixNano()); err != nil {
		p.reset()
		return 0, err
	}
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			p.reset()
			return 0, err
		}
		replySeq, ok := parseReply(line)
		if !ok || replySeq < p.seq {
			continue
		}
		return time.Since(start), nil
	}
}

// Close releases the persistent connection.
func (p *Pinger) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.reader = nil
	return err
}

func (p *Pinger) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = nil
	p.reader = nil
}
