// Package resumedb persists the byte offset a resumable DownloadFile
// has reached, so a restart of the whole process can continue a
// partial transfer instead of starting over (spec.md §4.4 "Resume").
//
// Three backends are provided, matching the options the teacher's
// server package offers for its own persistence needs: a default
// JSON-over-store.Store backend needing no external database, an
// embedded github.com/cznic/ql backend, and a
// github.com/go-sql-driver/mysql backend for shared deployments.
package resumedb

import "time"

// Entry is the persisted resume state for one DownloadFile, keyed by
// its URL.
type Entry struct {
	URL     string
	Offset  int64
	Updated time.Time
}

// DB persists and retrieves resume offsets. Implementations must be
// safe for concurrent use.
type DB interface {
	// Get returns the last recorded offset for url, and whether an
	// entry was found at all.
	Get(url string) (int64, bool, error)

	// Set records offset as url's current resume point.
	Set(url string, offset int64) error

	// Delete removes url's resume state, e.g. once a transfer
	// completes or is permanently abandoned.
	Delete(url string) error

	// Close releases any resources (database handles, etc).
	Close() error
}
