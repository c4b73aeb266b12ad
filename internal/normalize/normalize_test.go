package normalize

import (
	"reflect"
	"testing"

	"spotifyetl/internal/spotify"
)

// TestRegionFromLabel covers the fixed marker set and the Global fallback,
// including the case-sensitive miss on a lowercase "global" label.
func TestRegionFromLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  string
	}{
		{label: "UK_top50_tracks", want: "UK"},
		{label: "USA_top50_features", want: "USA"},
		{label: "Singapore_viral50_tracks", want: "Singapore"},
		{label: "global_viral50_features", want: "Global"},
		{label: "", want: "Global"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.label, func(t *testing.T) {
			t.Parallel()

			if got := RegionFromLabel(tc.label); got != tc.want {
				t.Errorf("RegionFromLabel(%q) = %q, want %q", tc.label, got, tc.want)
			}
		})
	}
}

// TestPlaylistLabel verifies known suffixes are stripped and unknown ones
// pass through.
func TestPlaylistLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		label string
		want  string
	}{
		{label: "UK_top50_tracks", want: "UK_top50"},
		{label: "UK_top50_features", want: "UK_top50"},
		{label: "UK_top50", want: "UK_top50"},
		{label: "tracks", want: "tracks"},
	}

	for _, tc := range tests {
		tc := tc
		if got := PlaylistLabel(tc.label); got != tc.want {
			t.Errorf("PlaylistLabel(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

// TestPlaylist verifies projection, metadata columns, 1-based renumbering
// across a skipped malformed item, and the returned id list.
func TestPlaylist(t *testing.T) {
	t.Parallel()

	payload := &spotify.PlaylistPayload{Items: []spotify.PlaylistItem{
		{Track: spotify.Track{ID: "a", Name: "Alpha", Popularity: 80}},
		{Track: spotify.Track{}}, // unavailable track, decoded from null
		{Track: spotify.Track{ID: "b", Name: "Beta", Popularity: 55}},
	}}

	records, ids, warnings := Playlist(payload, "UK_top50_tracks")

	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one for the empty-id item", warnings)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("ids = %v, want [a b]", ids)
	}

	want := []TrackRecord{
		{Index: 1, TrackName: "Alpha", TrackID: "a", Popularity: 80, Playlist: "UK_top50", Region: "UK"},
		{Index: 2, TrackName: "Beta", TrackID: "b", Popularity: 55, Playlist: "UK_top50", Region: "UK"},
	}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("records = %+v, want %+v", records, want)
	}
}

// TestPlaylistNilPayload verifies a missing payload normalizes to nothing.
func TestPlaylistNilPayload(t *testing.T) {
	t.Parallel()

	records, ids, warnings := Playlist(nil, "UK_top50_tracks")
	if records != nil || ids != nil || warnings != nil {
		t.Errorf("Playlist(nil) = %v, %v, %v, want all nil", records, ids, warnings)
	}
}

// TestFeatures verifies rounding to 3 decimals everywhere except Mode and
// first-wins deduplication by track id.
func TestFeatures(t *testing.T) {
	t.Parallel()

	entries := []spotify.AudioFeature{
		{ID: "a", Energy: 0.12345, Tempo: 120.9876, Danceability: 0.5, Mode: 1, Acousticness: 0.0004},
		{ID: "a", Energy: 0.9},
		{ID: "b", Energy: 0.5555, Tempo: 98.7654, Danceability: 0.333333, Mode: 0, Acousticness: 0.25},
	}

	records, warnings := Features(entries)

	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one for the duplicate", warnings)
	}

	want := []FeatureRecord{
		{Index: 1, TrackID: "a", Energy: 0.123, Tempo: 120.988, Danceability: 0.5, Mode: 1, Acousticness: 0},
		{Index: 2, TrackID: "b", Energy: 0.556, Tempo: 98.765, Danceability: 0.333, Mode: 0, Acousticness: 0.25},
	}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("records = %+v\nwant      %+v", records, want)
	}
}

// TestFeaturesDedupeIdempotent verifies running already-deduplicated
// records through again changes nothing.
func TestFeaturesDedupeIdempotent(t *testing.T) {
	t.Parallel()

	entries := []spotify.AudioFeature{
		{ID: "a", Energy: 0.1, Tempo: 100, Danceability: 0.2, Mode: 1, Acousticness: 0.3},
		{ID: "a", Energy: 0.9},
		{ID: "b", Energy: 0.4, Tempo: 110, Danceability: 0.5, Mode: 0, Acousticness: 0.6},
	}

	once, _ := Features(entries)

	again := make([]spotify.AudioFeature, 0, len(once))
	for _, r := range once {
		again = append(again, spotify.AudioFeature{
			ID: r.TrackID, Energy: r.Energy, Tempo: r.Tempo,
			Danceability: r.Danceability, Mode: r.Mode, Acousticness: r.Acousticness,
		})
	}
	twice, warnings := Features(again)

	if len(warnings) != 0 {
		t.Errorf("second pass produced warnings: %v", warnings)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("dedupe not idempotent:\nonce  %+v\ntwice %+v", once, twice)
	}
}

// TestFeaturesSkipsNullEntries verifies zero-value entries decoded from
// JSON nulls are dropped, and the surviving rows renumber from 1.
func TestFeaturesSkipsNullEntries(t *testing.T) {
	t.Parallel()

	entries := []spotify.AudioFeature{
		{},
		{ID: "b", Energy: 0.4, Tempo: 110, Danceability: 0.5, Mode: 0, Acousticness: 0.6},
	}

	records, warnings := Features(entries)
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one", warnings)
	}
	if len(records) != 1 || records[0].Index != 1 || records[0].TrackID != "b" {
		t.Errorf("records = %+v, want single record for b with index 1", records)
	}
}

// TestTables verifies both layouts keep the record field order and carry
// one value per column.
func TestTables(t *testing.T) {
	t.Parallel()

	tracks := TracksTable([]TrackRecord{
		{Index: 1, TrackName: "Alpha", TrackID: "a", Popularity: 80, Playlist: "UK_top50", Region: "UK"},
	})
	if tracks.Name != "tracks" {
		t.Errorf("tracks table name = %q", tracks.Name)
	}
	wantCols := []string{"Track_Name", "Track_ID", "Popularity", "Playlist", "Region"}
	if !reflect.DeepEqual(tracks.Columns, wantCols) {
		t.Errorf("tracks columns = %v", tracks.Columns)
	}
	if len(tracks.Rows) != 1 || !reflect.DeepEqual(tracks.Rows[0], []any{"Alpha", "a", 80, "UK_top50", "UK"}) {
		t.Errorf("tracks rows = %v", tracks.Rows)
	}

	features := FeaturesTable([]FeatureRecord{
		{Index: 1, TrackID: "a", Energy: 0.1, Tempo: 120.0, Danceability: 0.2, Mode: 1, Acousticness: 0.3},
	})
	if features.Name != "features" {
		t.Errorf("features table name = %q", features.Name)
	}
	wantCols = []string{"Track_ID", "Energy", "Tempo", "Danceability", "Mode", "Acousticness"}
	if !reflect.DeepEqual(features.Columns, wantCols) {
		t.Errorf("features columns = %v", features.Columns)
	}
	if len(features.Rows) != 1 || !reflect.DeepEqual(features.Rows[0], []any{"a", 0.1, 120.0, 0.2, 1, 0.3}) {
		t.Errorf("features rows = %v", features.Rows)
	}
}
