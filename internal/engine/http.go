package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultDownloadBytes is the size hint sent per download request.
	// Workers reopen the stream when the body is consumed, so the value
	// only controls request granularity, not test length.
	DefaultDownloadBytes int64 = 25 * 1000 * 1000

	dialTimeout       = 5 * time.Second
	responseTimeout   = 10 * time.Second
	keepAliveInterval = 30 * time.Second
)

// HTTPConfig describes the endpoint transfer URLs.
type HTTPConfig struct {
	DownloadURL string
	UploadURL   string
	// Token is the opaque session token forwarded to the server. The
	// engine never inspects it.
	Token         string
	DownloadBytes int64
}

// HTTPStreamer opens HTTP data streams for connection workers: GET bodies
// for download, POST pipes for upload. Every open is cache-busted so
// intermediaries cannot serve the payload.
type HTTPStreamer struct {
	cfg    HTTPConfig
	client *http.Client

	mu    sync.Mutex
	conns []*net.TCPConn
}

func NewHTTPStreamer(cfg HTTPConfig) *HTTPStreamer {
	if cfg.DownloadBytes <= 0 {
		cfg.DownloadBytes = DefaultDownloadBytes
	}
	s := &HTTPStreamer{cfg: cfg}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: keepAliveInterval}
	s.client = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				conn, err := dialer.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				if tcpConn, ok := conn.(*net.TCPConn); ok {
					s.track(tcpConn)
				}
				return conn, nil
			},
			// One TCP stream per worker; HTTP/2 would multiplex them
			// onto a single connection and defeat the parallelism.
			ForceAttemptHTTP2:     false,
			MaxIdleConnsPerHost:   MaxConcurrency,
			DisableCompression:    true,
			ResponseHeaderTimeout: responseTimeout,
		},
	}
	return s
}

func (s *HTTPStreamer) OpenDownload(ctx context.Context) (io.ReadCloser, error) {
	u, err := url.Parse(s.cfg.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("download url: %w", err)
	}
	q := u.Query()
	q.Set("size", strconv.FormatInt(s.cfg.DownloadBytes, 10))
	q.Set("r", uuid.NewString())
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	s.auth(req)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

func (s *HTTPStreamer) OpenUpload(ctx context.Context) (io.WriteCloser, error) {
	u, err := url.Parse(s.cfg.UploadURL)
	if err != nil {
		return nil, fmt.Errorf("upload url: %w", err)
	}
	q := u.Query()
	q.Set("r", uuid.NewString())
	u.RawQuery = q.Encode()

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), pr)
	if err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/octet-stream")
	s.auth(req)

	go func() {
		resp, err := s.client.Do(req)
		if err != nil {
			pr.CloseWithError(err)
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		pr.Close()
	}()
	return pw, nil
}

// Retransmits sums TCP retransmit counters across every connection the
// streamer dialed. Zero on platforms without TCP_INFO.
func (s *HTTPStreamer) Retransmits() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, conn := range s.conns {
		if n, ok := tcpRetransmits(conn); ok {
			total += n
		}
	}
	return total
}

func (s *HTTPStreamer) auth(req *http.Request) {
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
}

func (s *HTTPStreamer) track(conn *net.TCPConn) {
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
}
