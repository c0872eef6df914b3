package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/shakilofficial0/advspeedtest/internal/engine"
	"github.com/shakilofficial0/advspeedtest/internal/server"
	"github.com/shakilofficial0/advspeedtest/internal/store"
	"github.com/shakilofficial0/advspeedtest/internal/util"
	speedtest "github.com/shakilofficial0/advspeedtest/pkg"
)

const barWidth = 30

// ProgressRenderer draws a single-line progress bar from throughput
// samples. It is purely cosmetic; dropping it changes nothing about the
// measurement.
type ProgressRenderer struct {
	out         io.Writer
	downloadMax time.Duration
	uploadMax   time.Duration
	active      bool
}

func NewProgressRenderer(out io.Writer, downloadMax, uploadMax time.Duration) *ProgressRenderer {
	return &ProgressRenderer{out: out, downloadMax: downloadMax, uploadMax: uploadMax}
}

// Update redraws the bar for the latest sample.
func (r *ProgressRenderer) Update(phase speedtest.Phase, sample engine.ThroughputSample) {
	max := r.downloadMax
	if phase == speedtest.PhaseUpload {
		max = r.uploadMax
	}
	frac := 0.0
	if max > 0 {
		frac = float64(sample.Elapsed) / float64(max)
		if frac > 1 {
			frac = 1
		}
	}
	filled := int(frac * barWidth)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)
	fmt.Fprintf(r.out, "\r%-8s [%s] %5.1fs  %8s  %s   ",
		string(phase), bar, sample.Elapsed.Seconds(),
		humanize.IBytes(uint64(sample.Bytes)),
		util.FormatMbps(sample.InstantMbps()))
	r.active = true
}

// Finish terminates the bar line, if one was drawn.
func (r *ProgressRenderer) Finish() {
	if r.active {
		fmt.Fprintln(r.out)
		r.active = false
	}
}

// PrintReport writes the human-readable summary of a run.
func PrintReport(w io.Writer, report *speedtest.Report) {
	fmt.Fprintf(w, "\nServer:   %s (%s)\n", report.Endpoint.Label(), report.Endpoint.Host)
	if report.Latency != nil {
		fmt.Fprintf(w, "Ping:     %.1f ms (jitter %.1f ms, %d/%d replies)\n",
			report.PingMillis(), report.JitterMillis(),
			report.Latency.Samples, report.Latency.Samples+report.Latency.Failures)
	}
	if report.LoadedLatency != nil {
		fmt.Fprintf(w, "Loaded:   %.1f ms under transfer load\n",
			float64(report.LoadedLatency.Avg)/float64(time.Millisecond))
	}
	printPhase(w, "Download", report.Download)
	printPhase(w, "Upload", report.Upload)
	for phase, err := range report.Errors {
		fmt.Fprintf(w, "Error:    %s phase: %v\n", string(phase), err)
	}
	outcome := "FAILED"
	if report.Success {
		outcome = "ok"
	}
	fmt.Fprintf(w, "Result:   %s in %s\n", outcome, util.FormatSeconds(report.Duration.Seconds()))
}

func printPhase(w io.Writer, label string, result *engine.Result) {
	if result == nil {
		return
	}
	note := ""
	if result.Role == engine.RoleDownload && !result.Stable {
		note = " (did not stabilize)"
	}
	if result.FailedWorkers > 0 {
		note += fmt.Sprintf(" (%d/%d workers failed)", result.FailedWorkers, result.Workers)
	}
	fmt.Fprintf(w, "%s: %s  %s over %s%s\n", label,
		util.FormatMbps(result.Mbps),
		humanize.IBytes(uint64(result.Bytes)),
		util.FormatSeconds(result.Duration.Seconds()), note)
	if result.Retransmits > 0 {
		fmt.Fprintf(w, "          %d TCP retransmits observed\n", result.Retransmits)
	}
}

// PrintServers lists the catalog, distances included when ranked.
func PrintServers(w io.Writer, endpoints []server.Endpoint) {
	for _, ep := range endpoints {
		if ep.DistanceKm > 0 {
			fmt.Fprintf(w, "%5d  %-40s %-20s %6.0f km\n", ep.ID, ep.Label(), ep.Country, ep.DistanceKm)
		} else {
			fmt.Fprintf(w, "%5d  %-40s %-20s\n", ep.ID, ep.Label(), ep.Country)
		}
	}
}

// PrintHistory lists persisted runs, newest first.
func PrintHistory(w io.Writer, rows []store.Row) {
	for _, row := range rows {
		outcome := "ok"
		if !row.Success {
			outcome = "failed"
		}
		fmt.Fprintf(w, "%s  %-30s  ping %6.1f ms  down %8s  up %8s  %s\n",
			row.StartedAt.Format("2006-01-02 15:04"),
			row.ServerName,
			row.PingMs,
			util.FormatMbps(row.DownloadMbps),
			util.FormatMbps(row.UploadMbps),
			outcome)
	}
}
