// Package normalize flattens raw API payloads into uniform tabular records.
//
// Both record kinds are renumbered from 1 after filtering so that row
// position is stable regardless of how many raw entries were dropped.
package normalize

import (
	"fmt"
	"math"
	"strings"

	"spotifyetl/internal/spotify"
)

// Region values attached to every track record. Derivation scans the
// source label for the first match in regionMarkers; anything else is
// Global.
const (
	RegionUK        = "UK"
	RegionUSA       = "USA"
	RegionSingapore = "Singapore"
	RegionGlobal    = "Global"
)

var regionMarkers = []string{RegionUK, RegionUSA, RegionSingapore}

// labelSuffixes are stripped from source labels to produce the playlist
// name shared by a tracks file and its features file.
var labelSuffixes = []string{"_tracks", "_features"}

// TrackRecord is one playlist entry flattened for storage. Index is the
// 1-based row position and is not persisted.
type TrackRecord struct {
	Index      int
	TrackName  string
	TrackID    string
	Popularity int
	Playlist   string
	Region     string
}

// FeatureRecord is one audio-features entry flattened for storage. All
// float fields are rounded to 3 decimals; Mode stays untouched because it
// is a 0/1 flag, not a measurement.
type FeatureRecord struct {
	Index        int
	TrackID      string
	Energy       float64
	Tempo        float64
	Danceability float64
	Mode         int
	Acousticness float64
}

// PlaylistLabel strips the known file-kind suffixes from a source label.
func PlaylistLabel(sourceLabel string) string {
	for _, s := range labelSuffixes {
		if strings.HasSuffix(sourceLabel, s) {
			return strings.TrimSuffix(sourceLabel, s)
		}
	}
	return sourceLabel
}

// RegionFromLabel derives the region for a source label. Matching is
// case sensitive: "global_viral50" does not contain any marker and maps
// to Global.
func RegionFromLabel(sourceLabel string) string {
	for _, m := range regionMarkers {
		if strings.Contains(sourceLabel, m) {
			return m
		}
	}
	return RegionGlobal
}

// Playlist projects a raw playlist payload into track records and returns
// the bare id list for use as feature fetch keys. Items without a track id
// are skipped and reported as warnings rather than failing the run.
func Playlist(payload *spotify.PlaylistPayload, sourceLabel string) (records []TrackRecord, ids []string, warnings []string) {
	if payload == nil {
		return nil, nil, nil
	}

	playlist := PlaylistLabel(sourceLabel)
	region := RegionFromLabel(sourceLabel)

	for i, item := range payload.Items {
		if item.Track.ID == "" {
			warnings = append(warnings, fmt.Sprintf("%s: item %d has no track id, skipped", sourceLabel, i))
			continue
		}
		records = append(records, TrackRecord{
			Index:      len(records) + 1,
			TrackName:  item.Track.Name,
			TrackID:    item.Track.ID,
			Popularity: item.Track.Popularity,
			Playlist:   playlist,
			Region:     region,
		})
		ids = append(ids, item.Track.ID)
	}
	return records, ids, warnings
}

// Features projects raw audio-feature entries into feature records,
// dropping duplicate track ids (first occurrence wins) and rounding every
// float field to 3 decimals. Entries without an id, which is how the API
// reports unknown tracks, are skipped with a warning.
func Features(entries []spotify.AudioFeature) (records []FeatureRecord, warnings []string) {
	seen := make(map[string]bool, len(entries))

	for i, e := range entries {
		if e.ID == "" {
			warnings = append(warnings, fmt.Sprintf("feature entry %d has no track id, skipped", i))
			continue
		}
		if seen[e.ID] {
			warnings = append(warnings, fmt.Sprintf("duplicate track id %s, kept first occurrence", e.ID))
			continue
		}
		seen[e.ID] = true

		records = append(records, FeatureRecord{
			Index:        len(records) + 1,
			TrackID:      e.ID,
			Energy:       round3(e.Energy),
			Tempo:        round3(e.Tempo),
			Danceability: round3(e.Danceability),
			Mode:         e.Mode,
			Acousticness: round3(e.Acousticness),
		})
	}
	return records, warnings
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
