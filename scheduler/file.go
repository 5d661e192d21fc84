package scheduler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/ndlib/zeroinstall-store/resumedb"
	"github.com/ndlib/zeroinstall-store/util"
)

// httpClient is overridable in tests.
var httpClient = &http.Client{}

// ErrRangeUnsupported means a server ignored a mandatory Range request.
// Retrying will not help: the server's behavior will not change between
// attempts, so runTransferWithRetry treats it as permanent.
var ErrRangeUnsupported = errors.New("scheduler: server does not support required Range")

// statusError is a non-2xx/206 HTTP response, carrying the status code
// so isTransientTransferError can tell a rate limit or server hiccup
// (worth retrying) from a client error (not).
type statusError struct {
	URL  string
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("scheduler: unexpected status %d for %s", e.Code, e.URL)
}

// isTransientTransferError reports whether err is worth retrying:
// connection failures, rate limiting (429), server errors (5xx), and
// size mismatches (spec.md §7) are transient; a malformed request, a
// server that won't honor a mandatory Range, and non-429 4xx responses
// are permanent. Adapted from bureau-daemon/retry.go's
// isTransientError, generalized from Matrix status codes to plain HTTP.
func isTransientTransferError(err error) bool {
	if err == nil {
		return false
	}
	cause := errors.Cause(err)
	if cause == ErrRangeUnsupported {
		return false
	}
	if se, ok := cause.(*statusError); ok {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if ue, ok := cause.(*url.Error); ok && ue.Op == "parse" {
		return false
	}
	return true
}

// runTransfer performs f's download to completion or failure, honoring
// resume (spec.md §4.4 "Resume") and cancellation via ctx. rate may be
// nil. db, if non-nil, is consulted and kept up to date so a resumable
// transfer survives a restart even if the destination file itself is
// lost (e.g. TempDir is on tmpfs); the local file's own size remains
// authoritative whenever it is available and larger. timeout, if
// greater than zero, bounds this single attempt end to end (spec.md
// §4.5's network_timeout); it does not span retries.
//
// f.RangeStart, if set, is a fixed prefix of the URL's content that is
// always skipped server-side (spec.md §4.5 step 3's archive
// start_offset), on top of whatever resume offset applies. The two
// compose into a single Range request: reqOffset = RangeStart + offset,
// where offset is the resume-only progress made past RangeStart.
func runTransfer(ctx context.Context, f *File, rate *util.RateCounter, db resumedb.DB, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	offset := int64(0)
	flags := os.O_WRONLY | os.O_CREATE
	if f.SupportsResume {
		if fi, err := os.Stat(f.Dest); err == nil {
			offset = fi.Size()
		}
		if db != nil {
			if recorded, ok, err := db.Get(f.URL); err == nil && ok && recorded > offset {
				offset = recorded
			}
		}
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	reqOffset := f.RangeStart + offset

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return errors.Wrap(err, "scheduler: building request")
	}
	if reqOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", reqOffset))
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "scheduler: starting download")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// server honored our Range request; offset/flags already reflect that.
	case http.StatusOK:
		if f.RangeStart > 0 {
			// the server ignored a mandatory RangeStart: we cannot
			// silently fall back to downloading from byte zero, since
			// the caller (e.g. the archive extractor) is relying on
			// the prefix never appearing in f.Dest at all.
			return errors.Wrapf(ErrRangeUnsupported, "%s, cannot skip start offset %d", f.URL, f.RangeStart)
		}
		if f.SupportsResume && offset > 0 {
			// server ignored our resume-only Range request; restart from zero.
			offset = 0
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		}
	default:
		return &statusError{URL: f.URL, Code: resp.StatusCode}
	}

	out, err := os.OpenFile(f.Dest, flags, 0664)
	if err != nil {
		return errors.Wrap(err, "scheduler: opening destination")
	}
	defer out.Close()

	var src io.Reader = resp.Body
	if rate != nil {
		src = rate.Wrap(src)
	}

	written, err := copyCancelable(ctx, out, src)
	total := offset + written
	f.setWritten(total)
	if err != nil {
		if !f.SupportsResume {
			os.Truncate(f.Dest, 0)
			f.setWritten(0)
		} else if db != nil {
			db.Set(f.URL, total)
		}
		return err
	}
	if db != nil {
		db.Delete(f.URL)
	}
	if f.ExpectedSize > 0 && total != f.ExpectedSize {
		return errors.Errorf("scheduler: size mismatch for %s: got %d want %d", f.URL, total, f.ExpectedSize)
	}
	return nil
}

// copyCancelable copies from src to dst in chunks, checking ctx between
// each chunk so a cancelled job stops at the next I/O boundary rather
// than running an unbounded io.Copy to completion.
func copyCancelable(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		n, err := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
