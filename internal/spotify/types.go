package spotify

// Wire types for the two catalog endpoints we consume. Fields not listed
// here are ignored during decoding; the normalizer never sees raw JSON.

// PlaylistPayload is the response body of GET /v1/playlists/{id}/tracks.
type PlaylistPayload struct {
	Items []PlaylistItem `json:"items"`
}

// PlaylistItem wraps one track entry of a playlist.
type PlaylistItem struct {
	Track Track `json:"track"`
}

// Track is the subset of track metadata the pipeline persists.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Popularity int    `json:"popularity"`
}

// AudioFeature is one entry of the audio-features endpoint.
//
// The upstream returns null array entries for unknown ids; those decode to
// a zero value with an empty ID and are dropped by the normalizer.
type AudioFeature struct {
	ID           string  `json:"id"`
	Energy       float64 `json:"energy"`
	Tempo        float64 `json:"tempo"`
	Danceability float64 `json:"danceability"`
	Mode         int     `json:"mode"`
	Acousticness float64 `json:"acousticness"`
}

// featuresEnvelope is the response body of GET /v1/audio-features.
type featuresEnvelope struct {
	AudioFeatures []AudioFeature `json:"audio_features"`
}

// FeaturesSnapshot mirrors the audio-features response body so raw
// snapshots keep the upstream wire shape.
type FeaturesSnapshot struct {
	AudioFeatures []AudioFeature `json:"audio_features"`
}
