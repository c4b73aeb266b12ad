package normalize

// Table is the columnar form consumed by schema inference and storage.
// Columns keeps the source record field order; Rows hold one value per
// column in the same order.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// TracksTable lays track records out as a table named "tracks".
func TracksTable(records []TrackRecord) Table {
	t := Table{
		Name:    "tracks",
		Columns: []string{"Track_Name", "Track_ID", "Popularity", "Playlist", "Region"},
		Rows:    make([][]any, 0, len(records)),
	}
	for _, r := range records {
		t.Rows = append(t.Rows, []any{r.TrackName, r.TrackID, r.Popularity, r.Playlist, r.Region})
	}
	return t
}

// FeaturesTable lays feature records out as a table named "features".
func FeaturesTable(records []FeatureRecord) Table {
	t := Table{
		Name:    "features",
		Columns: []string{"Track_ID", "Energy", "Tempo", "Danceability", "Mode", "Acousticness"},
		Rows:    make([][]any, 0, len(records)),
	}
	for _, r := range records {
		t.Rows = append(t.Rows, []any{r.TrackID, r.Energy, r.Tempo, r.Danceability, r.Mode, r.Acousticness})
	}
	return t
}
