package fetcher

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/pkg/errors"
	"github.com/olegeech-me/statustracker/pkg/logger"
)

// maxBodyBytes caps how much of the portal's response is retained,
// matching spec.md §9's "HTML-limited markup" characterization of the
// portal's reply.
const maxBodyBytes = 64 * 1024

// HTTPEngine is a plain net/http BrowserEngine: it issues a single GET
// against the portal URL with the application key as query parameters and
// returns the (truncated) response body as the observed status markup. A
// real headless-browser engine that executes the portal's client-side
// rendering is explicitly out of scope; this is the minimal stand-in that
// makes cmd/fetcher runnable end-to-end against a static HTML portal.
type HTTPEngine struct {
	client *http.Client
}

// NewHTTPEngine builds an HTTPEngine that fetches through client
// (http.DefaultClient when client is nil).
func NewHTTPEngine(client *http.Client) *HTTPEngine {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEngine{client: client}
}

func (e *HTTPEngine) Fetch(ctx context.Context, url string, job model.JobMessage) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build portal request")
	}
	q := req.URL.Query()
	q.Set("number", job.Number)
	q.Set("type", job.Type)
	q.Set("year", strconv.Itoa(job.Year))
	if job.Suffix != "" {
		q.Set("suffix", job.Suffix)
	}
	req.URL.RawQuery = q.Encode()

	resp, err := e.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to reach portal")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Internal("portal returned non-200 status", nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", errors.Wrap(err, "failed to read portal response")
	}
	return string(body), nil
}

// Probe times a bare GET against url, independent of any job. A non-200
// status is logged but not treated as an error: the portal answered, it
// just didn't answer 200, and the measured latency is still meaningful.
func (e *HTTPEngine) Probe(ctx context.Context, url string) (time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return time.Since(start), errors.Wrap(err, "failed to build probe request")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return time.Since(start), errors.Wrap(err, "failed to reach portal")
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		logger.L().WarnContext(ctx, "fetcher: portal latency probe got non-200 status", "status", resp.StatusCode)
	}
	return latency, nil
}

func (e *HTTPEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

var _ BrowserEngine = (*HTTPEngine)(nil)
