// Package app wires the collaborators around the measurement engine: an
// explicit state machine drives server selection, authentication, and test
// execution, while rendering stays a thin consumer of progress events.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/shakilofficial0/advspeedtest/internal/config"
	"github.com/shakilofficial0/advspeedtest/internal/control"
	"github.com/shakilofficial0/advspeedtest/internal/engine"
	"github.com/shakilofficial0/advspeedtest/internal/metrics"
	"github.com/shakilofficial0/advspeedtest/internal/server"
	"github.com/shakilofficial0/advspeedtest/internal/session"
	"github.com/shakilofficial0/advspeedtest/internal/store"
	"github.com/shakilofficial0/advspeedtest/internal/util"
	speedtest "github.com/shakilofficial0/advspeedtest/pkg"
)

// State is the application lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAuthenticating
	StateSelectingServer
	StateTesting
	StateReportingResults
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateSelectingServer:
		return "selecting_server"
	case StateTesting:
		return "testing"
	case StateReportingResults:
		return "reporting_results"
	default:
		return "idle"
	}
}

// App composes the engine with its collaborators.
type App struct {
	cfg      *config.Config
	logger   util.Logger
	sessions *session.Manager
	metrics  *metrics.Metrics
	control  *control.Server
	history  *store.Store

	mu    sync.Mutex
	state State
}

func New(cfg *config.Config, logger util.Logger) (*App, error) {
	if logger == nil {
		logger = util.NopLogger()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		sessions: session.NewManager(nil),
		metrics:  metrics.New(),
	}
	if cfg.Control.Enabled {
		a.control = control.NewServer(cfg.Control.Addr, a.metrics, logger)
	}
	if cfg.History.Enabled {
		history, err := store.Open(cfg.History.Path)
		if err != nil {
			return nil, err
		}
		a.history = history
	}
	return a, nil
}

// Start brings up the optional control server.
func (a *App) Start(ctx context.Context) {
	if a.control != nil {
		a.control.Start(ctx)
	}
}

func (a *App) Close() error {
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}

// State returns the current lifecycle state.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History exposes the run store, when enabled.
func (a *App) History() *store.Store {
	return a.history
}

func (a *App) transition(state State, serverLabel, phase string) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	a.logger.Debug("state change", "state", state.String())
	if a.control != nil {
		a.control.SetStatus(state.String(), serverLabel, phase)
	}
}

// Login authenticates and installs the session whose token is forwarded
// to the endpoint during tests.
func (a *App) Login(user, password string) error {
	a.transition(StateAuthenticating, "", "")
	defer a.transition(StateIdle, "", "")
	_, err := a.sessions.Login(user, password)
	if err != nil {
		return err
	}
	a.logger.Info("logged in", "user", user)
	return nil
}

// Logout drops the session.
func (a *App) Logout() {
	a.sessions.Logout()
}

// Catalog loads the configured endpoint catalog.
func (a *App) Catalog(ctx context.Context) (*server.Catalog, error) {
	switch {
	case a.cfg.Catalog.Path != "":
		return server.LoadFile(a.cfg.Catalog.Path)
	case a.cfg.Catalog.URL != "":
		return server.Fetch(ctx, a.cfg.Catalog.URL)
	default:
		return nil, errors.New("app: no endpoint catalog configured")
	}
}

// SelectEndpoint picks the test server: an explicit catalog ID, or the
// nearest endpoint when the client location can be resolved, or the first
// catalog entry.
func (a *App) SelectEndpoint(ctx context.Context, serverID int) (server.Endpoint, error) {
	a.transition(StateSelectingServer, "", "")
	defer a.transition(StateIdle, "", "")

	catalog, err := a.Catalog(ctx)
	if err != nil {
		return server.Endpoint{}, err
	}
	if serverID != 0 {
		endpoint, ok := catalog.ByID(serverID)
		if !ok {
			return server.Endpoint{}, fmt.Errorf("app: no endpoint with id %d", serverID)
		}
		return endpoint, nil
	}

	if lat, lon, ok := a.locate(ctx); ok {
		endpoint, err := catalog.Nearest(lat, lon)
		if err == nil {
			a.logger.Info("auto-picked nearest endpoint",
				"endpoint", endpoint.Label(), "distance_km", fmt.Sprintf("%.0f", endpoint.DistanceKm))
			return endpoint, nil
		}
	}

	all := catalog.All()
	if len(all) == 0 {
		return server.Endpoint{}, server.ErrNoEndpoints
	}
	return all[0], nil
}

// RankedEndpoints lists the catalog, by distance when possible.
func (a *App) RankedEndpoints(ctx context.Context) ([]server.Endpoint, error) {
	catalog, err := a.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if lat, lon, ok := a.locate(ctx); ok {
		return catalog.Rank(lat, lon), nil
	}
	return catalog.All(), nil
}

// locate resolves the client's coordinates from the configured MaxMind
// database. Best effort: any gap simply disables distance ranking.
func (a *App) locate(ctx context.Context) (lat, lon float64, ok bool) {
	if a.cfg.Catalog.GeoDB == "" {
		return 0, 0, false
	}
	raw := a.cfg.Catalog.ClientIP
	if raw == "" && a.cfg.Catalog.IPURL != "" {
		resp, err := resty.New().R().SetContext(ctx).Get(a.cfg.Catalog.IPURL)
		if err != nil || resp.IsError() {
			return 0, 0, false
		}
		raw = strings.TrimSpace(resp.String())
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return 0, 0, false
	}
	locator, err := server.OpenLocator(a.cfg.Catalog.GeoDB)
	if err != nil {
		a.logger.Warn("geo database unavailable", "error", err)
		return 0, 0, false
	}
	defer locator.Close()
	lat, lon, err = locator.Lookup(ip)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// RunTest executes a full test against the endpoint and reports the
// composite result. Progress events feed the renderer and the control
// server's live stream.
func (a *App) RunTest(ctx context.Context, endpoint server.Endpoint, render *ProgressRenderer, skipDownload, skipUpload bool) (*speedtest.Report, error) {
	a.transition(StateTesting, endpoint.Label(), "")

	cfg := speedtest.Config{
		Endpoint:       endpoint,
		Token:          a.sessions.Token(),
		Concurrency:    a.cfg.Test.Concurrency,
		ChunkSize:      a.cfg.Test.ChunkSize,
		TickInterval:   a.cfg.Test.TickInterval.Duration(),
		ProbeCount:     a.cfg.Test.ProbeCount,
		ProbeTimeout:   a.cfg.Test.ProbeTimeout.Duration(),
		ICMP:           a.cfg.Test.ICMP,
		DownloadWindow: a.cfg.DownloadWindow(),
		UploadWindow:   a.cfg.UploadWindow(),
		Stabilization:  a.cfg.Stabilization(),
		LoadedLatency:  a.cfg.Test.LoadedLatency,
		LatencyRate:    a.cfg.Test.LatencyRate,
		SkipDownload:   skipDownload,
		SkipUpload:     skipUpload,
		Observer:       a.metrics,
		Logger:         a.logger,
	}

	progress := func(phase speedtest.Phase, sample engine.ThroughputSample) {
		if a.control != nil {
			a.control.PublishSample(string(phase), sample)
		}
		if render != nil {
			render.Update(phase, sample)
		}
	}

	report, err := speedtest.RunWithProgress(ctx, cfg, progress)
	if render != nil {
		render.Finish()
	}
	if err != nil {
		a.transition(StateIdle, "", "")
		return nil, err
	}

	a.transition(StateReportingResults, endpoint.Label(), "")
	a.metrics.RecordRun(report.Success, report.PingMillis(), report.Download, report.Upload)
	if a.history != nil {
		if err := a.history.Save(ctx, report); err != nil {
			a.logger.Warn("could not persist run", "error", err)
		}
	}
	a.transition(StateIdle, "", "")
	return report, nil
}
