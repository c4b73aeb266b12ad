// Package spotify fetches playlist and audio-feature data from the catalog
// API with batching and rate-limit backoff.
//
// Failure policy:
//   - non-2xx on a playlist fetch is logged and returns no data (callers
//     must check for a nil payload before normalizing)
//   - HTTP 429 on a feature batch sleeps for Retry-After and retries the
//     same batch, up to a bounded attempt budget
//   - any other failure skips the batch; skipped batches are reported in a
//     structured FetchReport instead of being dropped silently
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"spotifyetl/internal/metrics"
)

// DefaultHost is the production catalog API host.
const DefaultHost = "https://api.spotify.com"

// featureBatchSize is the API limit on ids per audio-features request.
const featureBatchSize = 20

// maxLoggedBody caps how much of an error response body reaches the logs.
const maxLoggedBody = 2048

// ErrRateLimited marks a feature batch that exhausted its retry budget on
// HTTP 429 responses.
var ErrRateLimited = errors.New("spotify: rate limited")

// Options configures a Client. Token is required; everything else has a
// usable default.
type Options struct {
	// Host is the API base URL, e.g. "https://api.spotify.com".
	Host string

	// Token is the bearer token attached to every request. The token is
	// scoped to the client, not to the process: construct a new Client per
	// pipeline run.
	Token string

	// MaxAttempts bounds retries per feature batch, including the first
	// attempt. Defaults to 5.
	MaxAttempts int

	// Job tags emitted HTTP metrics. Defaults to "spotify_ingest".
	Job string

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client

	// Sleep is the backoff seam; tests inject a recorder. The default
	// sleeps but aborts early when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Client issues catalog API requests. Safe for concurrent use; it holds no
// mutable state across calls.
type Client struct {
	host        string
	token       string
	job         string
	maxAttempts int
	httpc       *http.Client
	sleep       func(ctx context.Context, d time.Duration) bool
}

// NewClient validates opts and builds a Client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("spotify: missing bearer token")
	}

	host := strings.TrimRight(opts.Host, "/")
	if host == "" {
		host = DefaultHost
	}
	job := opts.Job
	if job == "" {
		job = "spotify_ingest"
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Client{
		host:        host,
		token:       opts.Token,
		job:         job,
		maxAttempts: maxAttempts,
		httpc:       httpc,
		sleep:       sleep,
	}, nil
}

// BatchFailure describes one feature batch that produced no data.
type BatchFailure struct {
	// Batch is the zero-based batch index within the request sequence.
	Batch int

	// IDs are the track ids the batch carried.
	IDs []string

	// Status is the last HTTP status observed (0 for transport errors).
	Status int

	// Err classifies the failure; ErrRateLimited when the retry budget ran
	// out on 429 responses.
	Err error
}

// FetchReport summarizes a FetchAudioFeatures run.
type FetchReport struct {
	Batches  int
	Failures []BatchFailure
}

// Dropped returns the ids of all failed batches, in request order.
func (r *FetchReport) Dropped() []string {
	var out []string
	for _, f := range r.Failures {
		out = append(out, f.IDs...)
	}
	return out
}

// FetchPlaylistTracks performs a single GET for a playlist's track listing.
//
// On a non-2xx response it logs the status and body and returns a nil
// payload with no error; the caller must check for nil before normalizing.
// Transport-level failures are returned as errors.
func (c *Client) FetchPlaylistTracks(ctx context.Context, playlistID string) (*PlaylistPayload, error) {
	u := fmt.Sprintf("%s/v1/playlists/%s/tracks", c.host, url.PathEscape(playlistID))

	status, body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch playlist %s: %w", playlistID, err)
	}
	if status < 200 || status >= 300 {
		log.Printf("spotify: playlist %s fetch failed: status=%d body=%s", playlistID, status, clipBody(body))
		return nil, nil
	}

	var payload PlaylistPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode playlist %s: %w", playlistID, err)
	}
	return &payload, nil
}

// FetchAudioFeatures fetches audio features for trackIDs in batches of 20.
//
// Entries are appended in the order the API returns them, which is not
// guaranteed to match trackIDs order. A 429 response delays and retries
// only its own batch; other failures skip the batch and are recorded in
// the report. The only error returned is context cancellation.
func (c *Client) FetchAudioFeatures(ctx context.Context, trackIDs []string) ([]AudioFeature, *FetchReport, error) {
	batches := Chunk(trackIDs, featureBatchSize)
	report := &FetchReport{Batches: len(batches)}

	var features []AudioFeature
	for bi, batch := range batches {
		u := fmt.Sprintf("%s/v1/audio-features?ids=%s", c.host, url.QueryEscape(strings.Join(batch, ",")))

		got, failure, err := c.fetchBatch(ctx, u, bi, batch)
		if err != nil {
			return features, report, err
		}
		if failure != nil {
			report.Failures = append(report.Failures, *failure)
			continue
		}
		features = append(features, got...)
	}

	return features, report, nil
}

// fetchBatch runs the bounded retry loop for one batch. It returns either
// decoded entries or a BatchFailure; an error only for cancellation or a
// malformed success body.
func (c *Client) fetchBatch(ctx context.Context, u string, bi int, batch []string) ([]AudioFeature, *BatchFailure, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		status, resp, err := c.getWithHeaders(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.Printf("spotify: feature batch %d request error: %v", bi, err)
			return nil, &BatchFailure{Batch: bi, IDs: batch, Status: 0, Err: err}, nil
		}

		switch {
		case status >= 200 && status < 300:
			var env featuresEnvelope
			if err := json.Unmarshal(resp.body, &env); err != nil {
				return nil, nil, fmt.Errorf("decode feature batch %d: %w", bi, err)
			}
			return env.AudioFeatures, nil, nil

		case status == http.StatusTooManyRequests:
			if attempt == c.maxAttempts {
				log.Printf("spotify: feature batch %d rate limited, retry budget exhausted after %d attempts", bi, attempt)
				return nil, &BatchFailure{Batch: bi, IDs: batch, Status: status, Err: ErrRateLimited}, nil
			}
			wait := retryAfter(resp.header)
			log.Printf("spotify: feature batch %d rate limited, retrying in %s (attempt %d/%d)", bi, wait, attempt, c.maxAttempts)
			if !c.sleep(ctx, wait) {
				return nil, nil, ctx.Err()
			}

		default:
			log.Printf("spotify: feature batch %d fetch failed: status=%d body=%s", bi, status, clipBody(resp.body))
			return nil, &BatchFailure{Batch: bi, IDs: batch, Status: status}, nil
		}
	}

	// Unreachable: the 429 arm returns on the final attempt.
	return nil, &BatchFailure{Batch: bi, IDs: batch, Status: http.StatusTooManyRequests, Err: ErrRateLimited}, nil
}

type response struct {
	body   []byte
	header http.Header
}

// get performs one authorized GET and records HTTP metrics for the attempt.
func (c *Client) get(ctx context.Context, u string) (int, []byte, error) {
	status, resp, err := c.getWithHeaders(ctx, u)
	if err != nil {
		return 0, nil, err
	}
	return status, resp.body, nil
}

func (c *Client) getWithHeaders(ctx context.Context, u string) (int, response, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		metrics.RecordHTTP(c.job, 0, err, time.Since(start), -1, -1)
		return 0, response{}, err
	}
	defer resp.Body.Close()
	reqDur := time.Since(start)

	body, readErr := io.ReadAll(resp.Body)
	respDur := time.Since(start)
	metrics.RecordHTTP(c.job, resp.StatusCode, readErr, reqDur, respDur, int64(len(body)))
	if readErr != nil {
		return resp.StatusCode, response{}, readErr
	}

	return resp.StatusCode, response{body: body, header: resp.Header}, nil
}

// retryAfter reads the Retry-After header as delta-seconds or an HTTP date.
// The API contract defaults to one second when the header is absent.
func retryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return time.Second
	}

	if secs, err := strconv.Atoi(ra); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
		return 0
	}

	return time.Second
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func clipBody(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	return string(b)
}
