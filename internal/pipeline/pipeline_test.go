package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spotifyetl/internal/snapshot"
	"spotifyetl/internal/spotify"
	"spotifyetl/internal/storage"
	_ "spotifyetl/internal/storage/sqlite"
)

// TestProcessPlaylistEndToEnd drives the full flow against a fake API and
// a real embedded database: a 3-track playlist whose feature fetch is rate
// limited once (Retry-After: 0) and then succeeds. All three feature rows
// must land, rounded to 3 decimals everywhere except Mode.
func TestProcessPlaylistEndToEnd(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	featureCalls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/playlists/pl1/tracks":
			fmt.Fprint(w, `{"items":[
				{"track":{"id":"a","name":"Alpha","popularity":80}},
				{"track":{"id":"b","name":"Beta","popularity":55}},
				{"track":{"id":"c","name":"Gamma","popularity":10}}
			]}`)
		case "/v1/audio-features":
			mu.Lock()
			featureCalls++
			first := featureCalls == 1
			mu.Unlock()
			if first {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, `{"audio_features":[
				{"id":"a","energy":0.12345,"tempo":120.9876,"danceability":0.55555,"mode":1,"acousticness":0.0004},
				{"id":"b","energy":0.5,"tempo":98.4,"danceability":0.3,"mode":0,"acousticness":0.25},
				{"id":"c","energy":0.9999,"tempo":140.0006,"danceability":0.7,"mode":1,"acousticness":0.5}
			]}`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := spotify.NewClient(spotify.Options{
		Host:  srv.URL,
		Token: "tok",
		Sleep: func(context.Context, time.Duration) bool { return true },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	dataDir := t.TempDir()
	dsn := filepath.Join(t.TempDir(), "spotify.db")

	store, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer store.Close()

	snaps, err := snapshot.NewWriter(dataDir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	p := &Pipeline{Fetcher: client, Store: store, Snapshots: snaps, Job: "test"}

	report, err := p.ProcessPlaylist(context.Background(), "pl1", "UK_top50_tracks")
	if err != nil {
		t.Fatalf("ProcessPlaylist: %v", err)
	}
	if report.Tracks != 3 || report.Features != 3 {
		t.Errorf("report loaded %d tracks, %d features, want 3 and 3", report.Tracks, report.Features)
	}
	if len(report.SkippedBatches) != 0 {
		t.Errorf("skipped batches = %+v, want none (429 must be retried)", report.SkippedBatches)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT Track_ID, Energy, Tempo, Danceability, Mode, Acousticness FROM features ORDER BY Track_ID`)
	if err != nil {
		t.Fatalf("query features: %v", err)
	}
	defer rows.Close()

	type featRow struct {
		id                              string
		energy, tempo, dance, acoustics float64
		mode                            int
	}
	var got []featRow
	for rows.Next() {
		var r featRow
		if err := rows.Scan(&r.id, &r.energy, &r.tempo, &r.dance, &r.mode, &r.acoustics); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	want := []featRow{
		{id: "a", energy: 0.123, tempo: 120.988, dance: 0.556, mode: 1, acoustics: 0},
		{id: "b", energy: 0.5, tempo: 98.4, dance: 0.3, mode: 0, acoustics: 0.25},
		{id: "c", energy: 1, tempo: 140.001, dance: 0.7, mode: 1, acoustics: 0.5},
	}
	if len(got) != len(want) {
		t.Fatalf("features table has %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	var region, playlist string
	if err := db.QueryRow(`SELECT Region, Playlist FROM tracks WHERE Track_ID = 'a'`).Scan(&region, &playlist); err != nil {
		t.Fatalf("query tracks: %v", err)
	}
	if region != "UK" || playlist != "UK_top50" {
		t.Errorf("track a has Region=%q Playlist=%q", region, playlist)
	}

	for _, name := range []string{"UK_top50_tracks.json", "UK_top50_features.json"} {
		if _, err := os.Stat(filepath.Join(dataDir, "raw", name)); err != nil {
			t.Errorf("snapshot %s missing: %v", name, err)
		}
	}
}

type fakeFetcher struct {
	payload    *spotify.PlaylistPayload
	payloadErr error
	features   []spotify.AudioFeature
	report     *spotify.FetchReport
}

func (f *fakeFetcher) FetchPlaylistTracks(context.Context, string) (*spotify.PlaylistPayload, error) {
	return f.payload, f.payloadErr
}

func (f *fakeFetcher) FetchAudioFeatures(context.Context, []string) ([]spotify.AudioFeature, *spotify.FetchReport, error) {
	return f.features, f.report, nil
}

type recordingStore struct {
	ensured  []string
	replaced []string
}

func (recordingStore) Close() {}
func (s *recordingStore) EnsureTable(_ context.Context, spec storage.TableSpec) error {
	s.ensured = append(s.ensured, spec.Name)
	return nil
}
func (s *recordingStore) ReplaceRows(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	s.replaced = append(s.replaced, table)
	return int64(len(rows)), nil
}

// TestProcessPlaylistUpstreamFailure verifies a failed playlist fetch skips
// the source with a warning instead of failing the run.
func TestProcessPlaylistUpstreamFailure(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	p := &Pipeline{Fetcher: &fakeFetcher{payload: nil}, Store: store, Job: "test"}

	report, err := p.ProcessPlaylist(context.Background(), "pl1", "USA_top50_tracks")
	if err != nil {
		t.Fatalf("ProcessPlaylist: %v", err)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("warnings = %v, want one skip warning", report.Warnings)
	}
	if len(store.ensured) != 0 || len(store.replaced) != 0 {
		t.Errorf("storage touched for a skipped source: %v %v", store.ensured, store.replaced)
	}
}

// TestProcessPlaylistTransportError verifies a transport-level fetch error
// aborts the run with a wrapped error.
func TestProcessPlaylistTransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	p := &Pipeline{Fetcher: &fakeFetcher{payloadErr: boom}, Store: &recordingStore{}, Job: "test"}

	_, err := p.ProcessPlaylist(context.Background(), "pl1", "UK_top50_tracks")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped transport error", err)
	}
}

// TestProcessPlaylistSkippedBatches verifies feature batch failures surface
// in the report and the tracks table still loads.
func TestProcessPlaylistSkippedBatches(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		payload: &spotify.PlaylistPayload{Items: []spotify.PlaylistItem{
			{Track: spotify.Track{ID: "a", Name: "Alpha", Popularity: 80}},
		}},
		report: &spotify.FetchReport{
			Batches:  1,
			Failures: []spotify.BatchFailure{{Batch: 0, IDs: []string{"a"}, Status: 429, Err: spotify.ErrRateLimited}},
		},
	}
	store := &recordingStore{}
	p := &Pipeline{Fetcher: fetcher, Store: store, Job: "test"}

	report, err := p.ProcessPlaylist(context.Background(), "pl1", "UK_top50_tracks")
	if err != nil {
		t.Fatalf("ProcessPlaylist: %v", err)
	}

	if len(report.SkippedBatches) != 1 {
		t.Fatalf("skipped batches = %+v, want one", report.SkippedBatches)
	}
	if report.Tracks != 1 {
		t.Errorf("tracks loaded = %d, want 1", report.Tracks)
	}
	if report.Features != 0 {
		t.Errorf("features loaded = %d, want 0", report.Features)
	}

	// tracks persisted, features untouched when no feature rows survived
	if len(store.replaced) != 1 || store.replaced[0] != "tracks" {
		t.Errorf("replaced tables = %v, want [tracks]", store.replaced)
	}
}
