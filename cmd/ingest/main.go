// Command ingest pulls playlists from the catalog API and materializes
// them into tracks and features tables.
//
// Each source is given as label=playlistID; the label drives region
// derivation and snapshot naming:
//
//	ingest -env .env UK_top50_tracks=37i9dQZEVXbLnolsZ8PSNw
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"spotifyetl/internal/config"
	"spotifyetl/internal/metrics"
	"spotifyetl/internal/metrics/datadog"
	"spotifyetl/internal/pipeline"
	"spotifyetl/internal/snapshot"
	"spotifyetl/internal/spotify"
	"spotifyetl/internal/storage"

	_ "spotifyetl/internal/storage/postgres"
	_ "spotifyetl/internal/storage/sqlite"
)

// runSummary is emitted as one JSON line per source to stdout, intended
// for machine parsing. Additive changes are safe; renames are breaking
// for downstream consumers.
type runSummary struct {
	Source         string   `json:"source"`
	Tracks         int64    `json:"tracks"`
	Features       int64    `json:"features"`
	Warnings       []string `json:"warnings,omitempty"`
	SkippedBatches int      `json:"skipped_batches,omitempty"`
	DroppedIDs     int      `json:"dropped_ids,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// backendCloser is the minimal interface used by this command to manage a
// metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	LoadConfig     func(envFile string) (config.Config, error)
	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	NewStore       func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
}

// runConfig holds the parsed flags for a run.
type runConfig struct {
	EnvFile     string
	JobName     string
	StorageKind string
	StorageDSN  string
	DataDir     string
	Metrics     string
	DDTagsCSV   string
	MaxAttempts int
	Timeout     time.Duration

	Sources []source
}

type source struct {
	Label      string
	PlaylistID string
}

func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		LoadConfig: config.Load,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		NewStore: storage.New,
	})
	os.Exit(code)
}

// run executes the ingest command and returns an exit code.
//
// Exit codes:
//   - 0: every source loaded with no drops.
//   - 1: at least one source was skipped, dropped batches, or errored.
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.LoadConfig == nil {
		d.LoadConfig = config.Load
	}
	if d.NewStore == nil {
		d.NewStore = storage.New
	}
	if d.BackendFactory == nil {
		fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
		return 2
	}

	rc, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	cfg, err := d.LoadConfig(rc.EnvFile)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	applyOverrides(&cfg, rc)

	if issues := cfg.Validate(); len(issues) > 0 {
		for _, i := range issues {
			fmt.Fprintln(d.Stderr, i.String())
		}
		if config.HasErrors(issues) {
			return 2
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics == "datadog" {
		tags := append(datadog.ParseTagsCSV(rc.DDTagsCSV), "tool:ingest")
		backend, err := d.BackendFactory(ctx, rc.JobName, tags, cfg.MetricsFlush)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			_ = metrics.Flush()
			_ = backend.Close()
		}()
	}

	store, err := d.NewStore(ctx, storage.Config{Kind: cfg.StorageKind, DSN: cfg.StorageDSN})
	if err != nil {
		fmt.Fprintf(d.Stderr, "storage init failed: %v\n", err)
		return 2
	}
	defer store.Close()

	snaps, err := snapshot.NewWriter(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(d.Stderr, "snapshot dir init failed: %v\n", err)
		return 2
	}

	client, err := spotify.NewClient(spotify.Options{
		Host:        cfg.APIHost,
		Token:       cfg.Token,
		MaxAttempts: cfg.MaxAttempts,
		Job:         rc.JobName,
		HTTPClient:  newHTTPClient(rc.Timeout),
	})
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	p := &pipeline.Pipeline{Fetcher: client, Store: store, Snapshots: snaps, Job: rc.JobName}

	enc := json.NewEncoder(d.Stdout)
	incomplete := false
	for _, src := range rc.Sources {
		report, err := p.ProcessPlaylist(ctx, src.PlaylistID, src.Label)

		s := runSummary{Source: src.Label}
		if report != nil {
			s.Tracks = report.Tracks
			s.Features = report.Features
			s.Warnings = report.Warnings
			s.SkippedBatches = len(report.SkippedBatches)
			for _, f := range report.SkippedBatches {
				s.DroppedIDs += len(f.IDs)
			}
		}
		if err != nil {
			s.Error = err.Error()
		}
		_ = enc.Encode(s)

		if err != nil || s.SkippedBatches > 0 || len(s.Warnings) > 0 {
			incomplete = true
		}
		if ctx.Err() != nil {
			fmt.Fprintln(d.Stderr, "canceled")
			return 1
		}
	}

	if incomplete {
		return 1
	}
	return 0
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var rc runConfig
	fs.StringVar(&rc.EnvFile, "env", ".env", "env file merged into the environment if present")
	fs.StringVar(&rc.JobName, "job", "spotify_ingest", "job name for metrics")
	fs.StringVar(&rc.StorageKind, "storage-kind", "", "override storage backend kind")
	fs.StringVar(&rc.StorageDSN, "dsn", "", "override storage DSN")
	fs.StringVar(&rc.DataDir, "data-dir", "", "override snapshot data directory")
	fs.StringVar(&rc.Metrics, "metrics", "", "override metrics backend (none|datadog)")
	fs.StringVar(&rc.DDTagsCSV, "dd-tags", "", "extra datadog tags, comma separated k:v")
	fs.IntVar(&rc.MaxAttempts, "max-attempts", 0, "override retry budget per rate-limited batch")
	fs.DurationVar(&rc.Timeout, "timeout", 30*time.Second, "per-request HTTP timeout")

	if err := fs.Parse(args); err != nil {
		return rc, fmt.Errorf("usage: ingest [flags] label=playlistID ...: %w", err)
	}

	sources, err := parseSources(fs.Args())
	if err != nil {
		return rc, err
	}
	rc.Sources = sources
	return rc, nil
}

// parseSources parses trailing label=playlistID arguments. Labels must be
// unique: they name snapshot files, so a duplicate would silently
// overwrite an earlier source's raw data.
func parseSources(args []string) ([]source, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no sources given; expected label=playlistID arguments")
	}

	seen := make(map[string]bool, len(args))
	out := make([]source, 0, len(args))
	for _, a := range args {
		label, id, ok := strings.Cut(a, "=")
		if !ok || label == "" || id == "" {
			return nil, fmt.Errorf("bad source %q; expected label=playlistID", a)
		}
		if seen[label] {
			return nil, fmt.Errorf("duplicate source label %q", label)
		}
		seen[label] = true
		out = append(out, source{Label: label, PlaylistID: id})
	}
	return out, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func applyOverrides(cfg *config.Config, rc runConfig) {
	if rc.StorageKind != "" {
		cfg.StorageKind = rc.StorageKind
	}
	if rc.StorageDSN != "" {
		cfg.StorageDSN = rc.StorageDSN
	}
	if rc.DataDir != "" {
		cfg.DataDir = rc.DataDir
	}
	if rc.Metrics != "" {
		cfg.Metrics = rc.Metrics
	}
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
}
