package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shakilofficial0/advspeedtest/internal/app"
	"github.com/shakilofficial0/advspeedtest/internal/config"
	"github.com/shakilofficial0/advspeedtest/internal/engine"
	"github.com/shakilofficial0/advspeedtest/internal/util"
	speedtest "github.com/shakilofficial0/advspeedtest/pkg"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	serverID := flag.Int("server", 0, "Endpoint catalog ID (0 = auto-pick)")
	listServers := flag.Bool("list-servers", false, "List catalog endpoints and exit")
	history := flag.Int("history", 0, "Show the last N runs and exit")
	jsonOut := flag.Bool("json", false, "Emit the report as JSON")
	concurrency := flag.Int("concurrency", 0, "Override parallel connection count")
	noDownload := flag.Bool("no-download", false, "Skip the download phase")
	noUpload := flag.Bool("no-upload", false, "Skip the upload phase")
	icmp := flag.Bool("icmp", false, "Probe latency with ICMP instead of TCP echo")
	user := flag.String("user", "", "Username for authenticated endpoints")
	pass := flag.String("pass", "", "Password for authenticated endpoints")
	noProgress := flag.Bool("no-progress", false, "Disable the live progress bar")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}
	if *concurrency != 0 {
		cfg.Test.Concurrency = *concurrency
	}
	if *icmp {
		cfg.Test.ICMP = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Debug)
	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *listServers:
		endpoints, err := application.RankedEndpoints(ctx)
		if err != nil {
			logger.Error("catalog unavailable", "error", err)
			os.Exit(1)
		}
		app.PrintServers(os.Stdout, endpoints)
		return
	case *history > 0:
		showHistory(ctx, application, *history)
		return
	}

	application.Start(ctx)

	if *user != "" {
		if err := application.Login(*user, *pass); err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
	}

	endpoint, err := application.SelectEndpoint(ctx, *serverID)
	if err != nil {
		logger.Error("no endpoint", "error", err)
		os.Exit(1)
	}

	var renderer *app.ProgressRenderer
	if !*noProgress && !*jsonOut {
		fmt.Printf("Testing against %s\n", endpoint.Label())
		renderer = app.NewProgressRenderer(os.Stdout,
			cfg.Download.MaxDuration.Duration(), cfg.Upload.Total.Duration())
	}

	report, err := application.RunTest(ctx, endpoint, renderer, *noDownload, *noUpload)
	if err != nil {
		logger.Error("test failed", "error", err)
		os.Exit(1)
	}

	if *jsonOut {
		printJSON(report)
	} else {
		app.PrintReport(os.Stdout, report)
	}
	if !report.Success {
		os.Exit(1)
	}
}

func showHistory(ctx context.Context, application *app.App, limit int) {
	history := application.History()
	if history == nil {
		fmt.Fprintln(os.Stderr, "history is disabled; enable it in the config file")
		os.Exit(1)
	}
	rows, err := history.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history unavailable: %v\n", err)
		os.Exit(1)
	}
	app.PrintHistory(os.Stdout, rows)
}

type jsonReport struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMs int64             `json:"duration_ms"`
	Server     string            `json:"server"`
	Host       string            `json:"host"`
	PingMs     float64           `json:"ping_ms"`
	JitterMs   float64           `json:"jitter_ms"`
	Download   *jsonPhase        `json:"download,omitempty"`
	Upload     *jsonPhase        `json:"upload,omitempty"`
	LoadedMs   float64           `json:"loaded_ping_ms,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	Success    bool              `json:"success"`
}

type jsonPhase struct {
	Mbps        float64 `json:"mbps"`
	WindowBytes int64   `json:"window_bytes"`
	DurationMs  int64   `json:"duration_ms"`
	TotalBytes  int64   `json:"total_bytes"`
	ElapsedMs   int64   `json:"elapsed_ms"`
	Stable      bool    `json:"stable"`
	Retransmits uint64  `json:"retransmits,omitempty"`
}

func printJSON(report *speedtest.Report) {
	out := jsonReport{
		ID:         report.ID,
		StartedAt:  report.StartedAt,
		DurationMs: report.Duration.Milliseconds(),
		Server:     report.Endpoint.Label(),
		Host:       report.Endpoint.Host,
		PingMs:     report.PingMillis(),
		JitterMs:   report.JitterMillis(),
		Success:    report.Success,
	}
	if report.LoadedLatency != nil {
		out.LoadedMs = float64(report.LoadedLatency.Avg) / float64(time.Millisecond)
	}
	if report.Download != nil {
		out.Download = phaseJSON(report.Download)
	}
	if report.Upload != nil {
		out.Upload = phaseJSON(report.Upload)
	}
	if len(report.Errors) > 0 {
		out.Errors = make(map[string]string, len(report.Errors))
		for phase, err := range report.Errors {
			out.Errors[string(phase)] = err.Error()
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func phaseJSON(result *engine.Result) *jsonPhase {
	return &jsonPhase{
		Mbps:        result.Mbps,
		WindowBytes: result.Bytes,
		DurationMs:  result.Duration.Milliseconds(),
		TotalBytes:  result.TotalBytes,
		ElapsedMs:   result.Elapsed.Milliseconds(),
		Stable:      result.Stable,
		Retransmits: result.Retransmits,
	}
}
