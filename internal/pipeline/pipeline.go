// Package pipeline orchestrates one playlist's journey from the API to a
// materialized table pair: tracks, then the features keyed to them.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"spotifyetl/internal/metrics"
	"spotifyetl/internal/normalize"
	"spotifyetl/internal/snapshot"
	"spotifyetl/internal/spotify"
	"spotifyetl/internal/storage"
)

// Fetcher is the retrieval surface the pipeline needs. *spotify.Client
// satisfies it; tests substitute fakes.
type Fetcher interface {
	FetchPlaylistTracks(ctx context.Context, playlistID string) (*spotify.PlaylistPayload, error)
	FetchAudioFeatures(ctx context.Context, trackIDs []string) ([]spotify.AudioFeature, *spotify.FetchReport, error)
}

// Pipeline wires retrieval to storage. Snapshots is optional; when nil no
// raw payloads are written.
type Pipeline struct {
	Fetcher   Fetcher
	Store     storage.Repository
	Snapshots *snapshot.Writer
	Job       string
}

// RunReport summarizes one ProcessPlaylist run. Warnings cover dropped
// records; SkippedBatches lists feature batches that produced no data.
type RunReport struct {
	SourceLabel    string
	Tracks         int64
	Features       int64
	Warnings       []string
	SkippedBatches []spotify.BatchFailure
}

// ProcessPlaylist runs the full flow for one playlist: fetch, snapshot,
// normalize, infer schema, materialize, load.
//
// A playlist whose fetch fails upstream is skipped with a warning in the
// report, not an error: one broken source must not abort a multi-playlist
// run. Errors are reserved for local failures (storage, cancellation,
// undecodable payloads).
func (p *Pipeline) ProcessPlaylist(ctx context.Context, playlistID, sourceLabel string) (*RunReport, error) {
	report := &RunReport{SourceLabel: sourceLabel}
	label := normalize.PlaylistLabel(sourceLabel)

	payload, err := step(ctx, p, "fetch_tracks", func(ctx context.Context) (*spotify.PlaylistPayload, error) {
		return p.Fetcher.FetchPlaylistTracks(ctx, playlistID)
	})
	if err != nil {
		return report, err
	}
	if payload == nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: playlist fetch failed upstream, skipped", sourceLabel))
		return report, nil
	}
	p.snapshot(report, label, "tracks", payload)

	trackRecords, ids, warnings := normalize.Playlist(payload, sourceLabel)
	report.Warnings = append(report.Warnings, warnings...)
	metrics.RecordRecords("tracks", len(trackRecords))
	if len(trackRecords) == 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: no usable tracks, nothing to persist", sourceLabel))
		return report, nil
	}

	features, err := step(ctx, p, "fetch_features", func(ctx context.Context) ([]spotify.AudioFeature, error) {
		feats, fr, err := p.Fetcher.FetchAudioFeatures(ctx, ids)
		if fr != nil {
			report.SkippedBatches = fr.Failures
		}
		return feats, err
	})
	if err != nil {
		return report, err
	}
	for _, f := range report.SkippedBatches {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: feature batch %d dropped (%d ids, status %d)", sourceLabel, f.Batch, len(f.IDs), f.Status))
	}
	p.snapshot(report, label, "features", spotify.FeaturesSnapshot{AudioFeatures: features})

	featureRecords, warnings := normalize.Features(features)
	report.Warnings = append(report.Warnings, warnings...)
	metrics.RecordRecords("features", len(featureRecords))

	report.Tracks, err = p.persist(ctx, "load_tracks", normalize.TracksTable(trackRecords), nil)
	if err != nil {
		return report, err
	}

	if len(featureRecords) == 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: no usable features, features table untouched", sourceLabel))
		return report, nil
	}
	fk := &storage.ForeignKey{Column: storage.TrackIDColumn, Table: "tracks", ReferencedColumn: storage.TrackIDColumn}
	report.Features, err = p.persist(ctx, "load_features", normalize.FeaturesTable(featureRecords), fk)
	if err != nil {
		return report, err
	}

	return report, nil
}

// persist derives the table's schema from its data, ensures the table, and
// replaces its contents.
func (p *Pipeline) persist(ctx context.Context, stepName string, table normalize.Table, fk *storage.ForeignKey) (int64, error) {
	return step(ctx, p, stepName, func(ctx context.Context) (int64, error) {
		spec, err := storage.SpecFromTable(table, fk)
		if err != nil {
			return 0, err
		}
		if err := p.Store.EnsureTable(ctx, spec); err != nil {
			return 0, err
		}
		n, err := p.Store.ReplaceRows(ctx, table.Name, table.Columns, table.Rows)
		if err != nil {
			return 0, err
		}
		log.Printf("pipeline: loaded %d rows into %s", n, table.Name)
		return n, nil
	})
}

// step times fn and records step metrics under the pipeline's job name.
func step[T any](ctx context.Context, p *Pipeline, name string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(ctx)
	metrics.RecordStep(p.Job, name, err, time.Since(start))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func (p *Pipeline) snapshot(report *RunReport, label, kind string, v any) {
	if p.Snapshots == nil {
		return
	}
	if _, err := p.Snapshots.WriteJSON(label, kind, v); err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: snapshot %s failed: %v", label, kind, err))
	}
}
