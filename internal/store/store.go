// Package store persists test reports in a local sqlite database so past
// runs can be listed and compared.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	speedtest "github.com/shakilofficial0/advspeedtest/pkg"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	started_at     INTEGER NOT NULL,
	duration_ms    INTEGER NOT NULL,
	server_name    TEXT NOT NULL,
	server_sponsor TEXT NOT NULL,
	server_host    TEXT NOT NULL,
	ping_ms        REAL,
	jitter_ms      REAL,
	download_mbps  REAL,
	download_bytes INTEGER,
	upload_mbps    REAL,
	upload_bytes   INTEGER,
	success        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at DESC);
`

// Row is one persisted run.
type Row struct {
	ID            string
	StartedAt     time.Time
	Duration      time.Duration
	ServerName    string
	ServerSponsor string
	ServerHost    string
	PingMs        float64
	JitterMs      float64
	DownloadMbps  float64
	DownloadBytes int64
	UploadMbps    float64
	UploadBytes   int64
	Success       bool
}

// Store is a sqlite-backed run history.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save records a finished report.
func (s *Store) Save(ctx context.Context, report *speedtest.Report) error {
	var downloadBytes, uploadBytes int64
	if report.Download != nil {
		downloadBytes = report.Download.Bytes
	}
	if report.Upload != nil {
		uploadBytes = report.Upload.Bytes
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, started_at, duration_ms,
			server_name, server_sponsor, server_host,
			ping_ms, jitter_ms,
			download_mbps, download_bytes,
			upload_mbps, upload_bytes,
			success
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.StartedAt.UnixMilli(),
		report.Duration.Milliseconds(),
		report.Endpoint.Name,
		report.Endpoint.Sponsor,
		report.Endpoint.Host,
		report.PingMillis(),
		report.JitterMillis(),
		report.DownloadMbps(),
		downloadBytes,
		report.UploadMbps(),
		uploadBytes,
		boolToInt(report.Success),
	)
	if err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, duration_ms,
			server_name, server_sponsor, server_host,
			ping_ms, jitter_ms,
			download_mbps, download_bytes,
			upload_mbps, upload_bytes,
			success
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		var startedAt, durationMs int64
		var success int
		if err := rows.Scan(
			&row.ID, &startedAt, &durationMs,
			&row.ServerName, &row.ServerSponsor, &row.ServerHost,
			&row.PingMs, &row.JitterMs,
			&row.DownloadMbps, &row.DownloadBytes,
			&row.UploadMbps, &row.UploadBytes,
			&success,
		); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		row.StartedAt = time.UnixMilli(startedAt)
		row.Duration = time.Duration(durationMs) * time.Millisecond
		row.Success = success != 0
		out = append(out, row)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
