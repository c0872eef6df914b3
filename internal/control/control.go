// Package control serves the optional observation surface: a JSON status
// endpoint, Prometheus metrics, and a websocket stream of live throughput
// samples. It consumes the engine's progress events; it never reaches into
// the engine itself.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shakilofficial0/advspeedtest/internal/engine"
	"github.com/shakilofficial0/advspeedtest/internal/metrics"
	"github.com/shakilofficial0/advspeedtest/internal/util"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
	sendBuffer   = 32
)

// Status is the snapshot served at /status.
type Status struct {
	State     string    `json:"state"`
	Server    string    `json:"server,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// liveSample is the frame broadcast to /live subscribers.
type liveSample struct {
	Phase      string    `json:"phase"`
	Timestamp  time.Time `json:"timestamp"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	Bytes      int64     `json:"cumulative_bytes"`
	InstantMbs float64   `json:"instantaneous_mbps"`
}

// Server is the control HTTP server.
type Server struct {
	addr    string
	logger  util.Logger
	hub     *hub
	metrics *metrics.Metrics

	mu     sync.Mutex
	status Status

	httpServer *http.Server
}

func NewServer(addr string, m *metrics.Metrics, logger util.Logger) *Server {
	if logger == nil {
		logger = util.NopLogger()
	}
	s := &Server{
		addr:    addr,
		logger:  logger,
		hub:     newHub(),
		metrics: m,
		status:  Status{State: "idle", UpdatedAt: time.Now()},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/live", s.handleLive)
	if m != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	}
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start serves until the context is canceled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server stopped", "error", err)
		}
	}()
	s.logger.Info("control server listening", "addr", s.addr)
}

// SetStatus updates the snapshot served at /status.
func (s *Server) SetStatus(state, server, phase string) {
	s.mu.Lock()
	s.status = Status{State: state, Server: server, Phase: phase, UpdatedAt: time.Now()}
	s.mu.Unlock()
}

// PublishSample broadcasts one throughput sample to live subscribers.
func (s *Server) PublishSample(phase string, sample engine.ThroughputSample) {
	data, err := json.Marshal(liveSample{
		Phase:      phase,
		Timestamp:  sample.Timestamp,
		ElapsedMs:  sample.Elapsed.Milliseconds(),
		Bytes:      sample.Bytes,
		InstantMbs: sample.InstantMbps(),
	})
	if err != nil {
		return
	}
	s.hub.broadcast(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{send: make(chan []byte, sendBuffer)}
	s.hub.register(c)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Reader only drains control frames; subscribers never send data.
	go func() {
		defer func() {
			s.hub.unregister(c)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer func() {
			ticker.Stop()
			_ = conn.Close()
		}()
		for {
			select {
			case data, ok := <-c.send:
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, nil)
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()
}
