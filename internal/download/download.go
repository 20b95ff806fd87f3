// Package download implements the fetch-and-upload pipeline that pulls
// an IPA from an Apple CDN URL and streams it into the blob store via a
// double-buffered multipart upload, per spec.md §4.D.
package download

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/blobstore"
	"github.com/lhbill/assppweb/internal/logging"
)

const (
	maxArtifactBytes = 8 * 1024 * 1024 * 1024 // 8 GiB
	partSize         = 25 * 1024 * 1024       // 25 MiB
	connectTimeout   = 30 * time.Second
	progressInterval = 2 * time.Second
	maxRetries       = 3
)

// stallTimeout is a var (not const) so tests can shrink it instead of
// waiting out the real 60s watchdog window.
var stallTimeout = 60 * time.Second

// RetrySchedule is the fixed 1s/2s/4s backoff spec.md §4.D requires.
// fetchWithRetry walks this literal list, sleeping with time.After in a
// select that also watches ctx, so cancellation cuts a wait short.
var RetrySchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Progress is a point-in-time report on a download's status.
type Progress struct {
	Downloaded int64
	Total      int64
	Speed      string
}

// ProgressSink receives at-most-once-per-2s progress updates.
type ProgressSink func(Progress)

// ValidateURL enforces spec.md §4.D's URL validation: https scheme,
// hostname suffix .apple.com, no literal IPv4/IPv6 address.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.BadRequest("invalid download URL: %v", err)
	}
	if u.Scheme != "https" {
		return apperr.BadRequest("download URL must use https")
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return apperr.BadRequest("download URL host must not be a literal IP")
	}
	if !strings.HasSuffix(host, ".apple.com") {
		return apperr.BadRequest("download URL host must be an apple.com subdomain")
	}
	return nil
}

// Engine runs the fetch-and-upload pipeline against a Store.
type Engine struct {
	store      blobstore.Store
	httpClient *http.Client
	log        *logging.FieldLogger
}

// NewEngine builds an Engine backed by store. httpClient may be nil to
// get a client whose dialer enforces connectTimeout on establishing the
// TCP connection only; body streaming is bounded by the stall watchdog
// instead (spec.md §4.D), not by this timeout.
func NewEngine(store blobstore.Store, httpClient *http.Client) *Engine {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		}
	}
	return &Engine{
		store:      store,
		httpClient: httpClient,
		log:        logging.Global().WithField("component", "download.engine"),
	}
}

// Run fetches downloadURL and streams it into key, reporting progress to
// sink at most once every 2s. ctx cancellation aborts the upload and
// returns context.Canceled (callers treat that as a silent pause, per
// spec.md §4.D: the task is already marked paused by the pause RPC).
func (e *Engine) Run(ctx context.Context, downloadURL, key string, sink ProgressSink) error {
	if err := ValidateURL(downloadURL); err != nil {
		return err
	}

	resp, err := e.fetchWithRetry(ctx, downloadURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.ContentLength > maxArtifactBytes {
		return apperr.TooLarge("declared content length %d exceeds %d byte limit", resp.ContentLength, maxArtifactBytes)
	}

	upload, err := e.store.Multipart(ctx, key)
	if err != nil {
		return apperr.UpstreamError(err, "begin multipart upload for %q", key)
	}

	if err := e.stream(ctx, resp.Body, resp.ContentLength, upload, sink); err != nil {
		upload.Abort(ctx)
		return err
	}

	return nil
}

// fetchWithRetry performs the HTTP GET with up to maxRetries retries on
// transient failures. Any HTTP status below 500 is treated as
// non-retryable. Cancellation during a backoff sleep propagates.
func (e *Engine) fetchWithRetry(ctx context.Context, downloadURL string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := RetrySchedule[attempt-1]
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := e.fetch(ctx, downloadURL)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = apperr.UpstreamError(nil, "upstream returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, apperr.UpstreamError(nil, "upstream returned status %d", resp.StatusCode)
		}
		return resp, nil
	}

	return nil, apperr.UpstreamError(lastErr, "download failed after %d attempts", maxRetries+1)
}

func (e *Engine) fetch(ctx context.Context, downloadURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	return e.httpClient.Do(req)
}
