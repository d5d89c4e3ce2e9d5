package sources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
)

// maxFetchAttempts bounds retries for a single metadata request: cloud
// metadata services occasionally refuse connections in the first moments
// after boot (the link-local interface isn't fully up yet), so a couple
// of quick retries clear most of those without masking a genuinely
// absent source behind a long stall.
const maxFetchAttempts = 3

// DefaultTimeout bounds every metadata-service request; cloud metadata
// endpoints are link-local and normally answer in single-digit
// milliseconds, so this stays short to keep an absent source from
// stalling the collection pass.
const DefaultTimeout = 5 * time.Second

// Header is a single request header to send with a metadata-service
// fetch (e.g. Azure's "Metadata: true" or GCP's "Metadata-Flavor:
// Google").
type Header struct {
	Key   string
	Value string
}

// FetchText performs an HTTP GET against a metadata-service URL and
// returns the response body as text. A non-2xx response is an error, not
// a truncated body, so callers can use it as a Detect probe too.
func FetchText(ctx context.Context, url string, headers []Header, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body string
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(sysconfigerr.Wrap(sysconfigerr.Transport, "building metadata request", err))
		}
		for _, h := range headers {
			req.Header.Set(h.Key, h.Value)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			// Connection refused/reset is exactly the transient case
			// worth retrying; ctx expiring surfaces through err too and
			// backoff.WithContext stops retrying once that happens.
			return sysconfigerr.Wrap(sysconfigerr.Transport, "metadata request failed: "+url, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return sysconfigerr.Wrap(sysconfigerr.Transport, "reading metadata response", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// A non-2xx is the metadata service telling us definitively
			// "no such key/source" — retrying would not help.
			return backoff.Permanent(sysconfigerr.Newf(sysconfigerr.Transport, "metadata service %s returned %d", url, resp.StatusCode))
		}
		body = string(raw)
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newFetchBackOff(), maxFetchAttempts-1), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return "", err
	}
	return body, nil
}

// newFetchBackOff returns a short exponential backoff suited to a
// link-local metadata request: the default cenkalti/backoff interval
// (500ms initial, 1.5x growth, 50% jitter) is tuned for remote-service
// retries and would spend up to about two seconds of a 5s metadata
// timeout on just two retries.
func newFetchBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// FetchJSON fetches url and parses the body as a JSON object.
func FetchJSON(ctx context.Context, url string, headers []Header, timeout time.Duration) (map[string]interface{}, error) {
	text, err := FetchText(ctx, url, headers, timeout)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "metadata response was not a JSON object: "+url, err)
	}
	return doc, nil
}

// Probe reports whether a GET against url succeeds within timeout,
// without caring about the body. Used by Detect implementations that
// have no cheaper local signal (DMI string, marker file) to check first.
func Probe(ctx context.Context, url string, headers []Header, timeout time.Duration) bool {
	_, err := FetchText(ctx, url, headers, timeout)
	return err == nil
}
