// Package scheduler implements the download scheduler (spec.md §4.4):
// a priority-ordered queue of jobs, each a set of files, run through a
// worker pool capped at max_simultaneous concurrent transfers, with
// pause/resume support for range-capable files.
//
// The shape follows fragment/fragment.go's organization in the teacher:
// a mutex-guarded map of named entries, each carrying a small state
// enum, rather than a channel-based actor. util.Gate supplies the
// concurrency cap the teacher's fragment cache never needed.
package scheduler

import "sync"

// FileState is a DownloadFile's current scheduling state.
type FileState int

const (
	FilePending FileState = iota
	FileRunning
	// FilePaused is set by the scheduler when a higher-priority pending
	// file preempts this one's gate slot; it is transient, always
	// followed by a transition back to FilePending once the paused
	// transfer's goroutine unwinds.
	FilePaused
	FileDone
	FileError
	FileCancelled
)

// File is one file within a Job: a URL to fetch, where to put the
// bytes, and whether the server lets us resume a partial transfer.
type File struct {
	URL            string
	Dest           string // local path the bytes are written to
	ExpectedSize   int64
	SupportsResume bool

	// RangeStart is a fixed byte offset into URL's content to always
	// skip server-side, independent of (and added to) any resume
	// offset: fetch/fetcher.go sets this to an Archive's start_offset
	// (spec.md §4.5 step 3) so a prefix-stripped archive is never
	// downloaded in full just to discard its prefix locally.
	RangeStart int64

	mu       sync.Mutex
	state    FileState
	written  int64 // bytes already on disk, for resume
	lastErr  error
	attempts int // 1 once the first transfer attempt starts; incremented on each retry
}

// NewFile describes one file to download: url is the source, dest the
// local path its bytes are written to, expectedSize its declared length
// (0 if unknown), and supportsResume whether the server honors Range
// requests for this URL.
func NewFile(url, dest string, expectedSize int64, supportsResume bool) *File {
	return &File{URL: url, Dest: dest, ExpectedSize: expectedSize, SupportsResume: supportsResume}
}

// State returns this file's current scheduling state.
func (f *File) State() FileState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *File) setState(s FileState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// Written returns the number of bytes persisted to Dest so far.
func (f *File) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

func (f *File) setWritten(n int64) {
	f.mu.Lock()
	f.written = n
	f.mu.Unlock()
}

// Err returns the error that put this file into FileError, if any.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *File) setErr(err error) {
	f.mu.Lock()
	f.state = FileError
	f.lastErr = err
	f.mu.Unlock()
}

// Attempts returns how many transfer attempts have been started for
// this file so far (1 once it first starts running, more if retried).
func (f *File) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *File) setAttempts(n int) {
	f.mu.Lock()
	f.attempts = n
	f.mu.Unlock()
}

// Job is a priority-ordered set of Files, added to the Scheduler as a
// unit (spec.md §3's DownloadJob). Files within a job start in
// insertion order (spec.md §4.4 "Ordering guarantees").
type Job struct {
	id       int64
	Priority int
	files    []*File

	mu        sync.Mutex
	cancelled bool
}

// Files returns this job's files, in insertion order. The returned
// slice must not be modified.
func (j *Job) Files() []*File {
	return j.files
}

// Cancelled reports whether Cancel has been called on this job.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}
