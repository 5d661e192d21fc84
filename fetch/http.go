package fetch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// httpClient is used for the small probing requests this package issues
// itself; the Scheduler uses its own client for the bulk transfer.
// Overridable in tests, matching bclientapi/bendoapi.go's Connection.client
// field.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// probeRange issues a HEAD request against url and reports whether the
// server advertises Range support (an Accept-Ranges: bytes header) and
// the declared Content-Length, so the Fetcher can decide whether to ask
// for start_offset bytes to be skipped server-side (spec.md §4.5 step 3)
// or fall back to a full download. Adapted from bclientapi/bendoapi.go's
// `do` request-building shape.
func probeRange(url string) (supportsRange bool, size int64, err error) {
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return false, 0, errors.Wrap(err, "fetch: building HEAD request")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return false, 0, errors.Wrap(err, "fetch: HEAD probe")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through
	default:
		return false, 0, errors.Errorf("fetch: HEAD probe: unexpected status %d for %s", resp.StatusCode, url)
	}

	supportsRange = resp.Header.Get("Accept-Ranges") == "bytes"
	size = resp.ContentLength
	return supportsRange, size, nil
}

// ErrSizeMismatch is returned when a downloaded archive's byte count
// does not match its declared size (spec.md §4.5 step 5).
type ErrSizeMismatch struct {
	URL      string
	Expected int64
	Actual   int64
}

func (e *ErrSizeMismatch) Error() string {
	return fmt.Sprintf("fetch: size mismatch for %s: expected %d, got %d", e.URL, e.Expected, e.Actual)
}
