package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"

	"github.com/ndlib/zeroinstall-store/resumedb"
	"github.com/ndlib/zeroinstall-store/util"
)

// Scheduler runs DownloadJobs through a worker pool capped at
// MaxSimultaneous concurrent file transfers (spec.md §4.4). All queue
// mutation happens under one lock; the lock is never held across I/O —
// the scheduler decides what to start, releases the lock, then starts
// it, the way spec.md §4.4's "Queue operations" require.
type Scheduler struct {
	gate util.Gate
	rate *util.RateCounter // optional; nil if no bandwidth cap configured

	// ResumeDB, if set before a file's first transfer attempt, records
	// resume offsets across process restarts in addition to relying on
	// the partial destination file's own size (spec.md §4.4 "Resume").
	// Safe to leave nil; resume then depends solely on the local file.
	ResumeDB resumedb.DB

	// MaxRetries is the number of attempts a transient I/O/network
	// failure gets before the file is surfaced as FileError (spec.md
	// §5 "resumable-retry state", §7). 0 uses DefaultMaxRetries.
	MaxRetries int

	// NetworkTimeout bounds each individual attempt (spec.md §4.5's
	// network_timeout); 0 means no per-attempt deadline.
	NetworkTimeout time.Duration

	// RetryBaseDelay scales the exponential backoff between attempts:
	// attempt N waits RetryBaseDelay*2^(N-1) plus jitter. 0 uses
	// DefaultRetryBaseDelay. Tests shrink this to keep backoff tests fast.
	RetryBaseDelay time.Duration

	// Clock supplies the backoff sleep between retry attempts; defaults
	// to the real wall clock. A clock.NewMock() can be substituted to
	// drive retries without sleeping.
	Clock clock.Clock

	// Rand supplies the jitter added to each backoff delay. Defaults to
	// a time-seeded source; tests substitute a fixed-seed
	// rand.New(rand.NewSource(n)) for deterministic backoff timing
	// (spec.md §5 "deterministic seed for tests"). Guarded by randMu
	// since multiple files retry concurrently and *rand.Rand is not
	// safe for concurrent use on its own.
	Rand   *rand.Rand
	randMu sync.Mutex

	mu      sync.Mutex
	jobs    []*Job
	nextID  int64
	running map[*File]*runningFile

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// runningFile tracks one file's worker goroutine while it holds a gate
// slot, so dispatch can find it again to preempt it. cancel is nil
// until the goroutine has actually entered the gate and built its
// per-file context; paused is set by dispatch to tell the goroutine,
// once its cancelled transfer unwinds, to requeue the file as pending
// rather than treat the cancellation as a job-level Cancel. Both fields
// are only ever read or written while holding Scheduler.mu.
type runningFile struct {
	job    *Job
	cancel context.CancelFunc
	paused bool
}

// DefaultMaxSimultaneous is the default concurrency cap (spec.md §4.4).
const DefaultMaxSimultaneous = 2

// DefaultMaxRetries is the default number of attempts a transient
// transfer failure gets before being surfaced (spec.md §5, §7).
const DefaultMaxRetries = 3

// DefaultRetryBaseDelay is the default backoff unit: attempt N waits
// DefaultRetryBaseDelay*2^(N-1), matching
// bureau-daemon/retry.go's 1s/2s progression.
const DefaultRetryBaseDelay = 1 * time.Second

// New creates a Scheduler with the given concurrency cap. A
// maxSimultaneous of 0 uses DefaultMaxSimultaneous. rate may be nil.
func New(maxSimultaneous int, rate *util.RateCounter) *Scheduler {
	if maxSimultaneous <= 0 {
		maxSimultaneous = DefaultMaxSimultaneous
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		gate:    util.NewGate(maxSimultaneous),
		rate:    rate,
		running: make(map[*File]*runningFile),
		ctx:     ctx,
		cancel:  cancel,
		Clock:   clock.New(),
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddJob enqueues files as a new Job at the given priority and starts
// dispatching its files. Files start in the order given, per spec.md
// §4.4's ordering guarantee.
func (s *Scheduler) AddJob(priority int, files []*File) *Job {
	s.mu.Lock()
	s.nextID++
	job := &Job{id: s.nextID, Priority: priority, files: files}
	s.jobs = append(s.jobs, job)
	s.sortJobsLocked()
	s.mu.Unlock()

	s.dispatch()
	return job
}

// RemoveJob removes job from the queue. Files already running are left
// to finish; no new files from this job will be started.
func (s *Scheduler) RemoveJob(job *Job) {
	s.mu.Lock()
	for i, j := range s.jobs {
		if j == job {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// UpdateJob changes job's priority and re-sorts the queue.
func (s *Scheduler) UpdateJob(job *Job, priority int) {
	s.mu.Lock()
	job.Priority = priority
	s.sortJobsLocked()
	s.mu.Unlock()
	s.dispatch()
}

// sortJobsLocked orders jobs by (priority, insertion order), with ties
// broken by id (spec.md §4.4 "Ordering guarantees"). Caller must hold
// s.mu.
func (s *Scheduler) sortJobsLocked() {
	sort.SliceStable(s.jobs, func(i, j int) bool {
		if s.jobs[i].Priority != s.jobs[j].Priority {
			return s.jobs[i].Priority > s.jobs[j].Priority
		}
		return s.jobs[i].id < s.jobs[j].id
	})
}

// Cancel marks job cancelled; its running files stop at their next I/O
// boundary (spec.md §4.4 "Cancellation"). Partial bytes are discarded
// unless the file supports resume.
func (s *Scheduler) Cancel(job *Job) {
	job.mu.Lock()
	job.cancelled = true
	job.mu.Unlock()
	var toCancel []context.CancelFunc
	s.mu.Lock()
	for _, f := range job.Files() {
		if f.State() == FileRunning || f.State() == FilePending {
			f.setState(FileCancelled)
			if rf := s.running[f]; rf != nil && rf.cancel != nil {
				toCancel = append(toCancel, rf.cancel)
			}
		}
	}
	s.mu.Unlock()
	for _, cancel := range toCancel {
		cancel()
	}
}

// Wait blocks until every file across every currently-queued job has
// reached a terminal state (Done, Error, or Cancelled).
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// WaitJob blocks until every file in job has reached a terminal state,
// letting a caller that only cares about one job avoid waiting on the
// whole scheduler. Polling rather than a per-job channel keeps Job
// itself free of scheduler-internal synchronization state.
func (s *Scheduler) WaitJob(job *Job) {
	for {
		done := true
		for _, f := range job.Files() {
			switch f.State() {
			case FileDone, FileError, FileCancelled:
			default:
				done = false
			}
		}
		if done {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// Shutdown cancels all in-flight transfers and waits for workers to
// exit.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

// dispatch picks the highest-priority pending files it can start
// without exceeding the concurrency cap, and starts them. It only ever
// hands out as many files as there are free gate slots, so files queue
// for a slot in (priority, insertion-order) per spec.md §4.4's
// "Ordering guarantees" rather than in whatever order dispatch happened
// to be called.
//
// If every slot is taken and a pending file still outranks some running
// resumable transfer, dispatch preempts the lowest-priority such victim
// (spec.md §4.4 "Priority ordering") rather than leaving the higher-
// priority file queued behind it, the one explicit exception being a
// non-resumable blocker, which is never a preemption candidate. Pausing
// only cancels the victim's per-file context; the gate slot itself is
// freed by the victim's own goroutine once runTransfer unwinds, which
// re-invokes dispatch to actually start the waiting file. It never
// holds s.mu while doing network I/O.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	avail := cap(s.gate) - s.gate.Len()
	var toStart []*File
	var toPause []context.CancelFunc

	for _, job := range s.jobs {
		if job.Cancelled() {
			continue
		}
		for _, f := range job.Files() {
			if f.State() != FilePending || s.running[f] != nil {
				continue
			}
			if avail > 0 {
				s.running[f] = &runningFile{job: job}
				toStart = append(toStart, f)
				avail--
				continue
			}
			if victim, rf := s.lowestPriorityVictimLocked(job.Priority); victim != nil {
				rf.paused = true
				victim.setState(FilePaused)
				toPause = append(toPause, rf.cancel)
			}
		}
	}
	s.mu.Unlock()

	for _, cancel := range toPause {
		cancel()
	}
	for _, f := range toStart {
		s.startFile(f)
	}
}

// lowestPriorityVictimLocked finds the lowest-priority file currently
// running whose job priority is strictly below minPriority, is not
// already being paused, supports resume, and has actually entered the
// gate (rf.cancel set). Caller must hold s.mu.
func (s *Scheduler) lowestPriorityVictimLocked(minPriority int) (*File, *runningFile) {
	var victim *File
	var victimRF *runningFile
	for f, rf := range s.running {
		if rf.paused || rf.cancel == nil || !f.SupportsResume {
			continue
		}
		if rf.job.Priority >= minPriority {
			continue
		}
		if victimRF == nil || rf.job.Priority < victimRF.job.Priority {
			victim, victimRF = f, rf
		}
	}
	return victim, victimRF
}

// startFile blocks on the concurrency gate (a file that does not
// support resume, once started, is allowed to run past the cap rather
// than be preempted — spec.md §4.4), then runs the transfer in its own
// goroutine under a per-file context so dispatch can cancel just this
// transfer to preempt it without tearing down the whole Scheduler.
// Once the transfer releases its slot, dispatch runs again so the
// next-highest-priority pending file can claim it.
func (s *Scheduler) startFile(f *File) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.gate.EnterContext(s.ctx); err != nil {
			s.mu.Lock()
			delete(s.running, f)
			s.mu.Unlock()
			f.setState(FileCancelled)
			return
		}

		fctx, cancel := context.WithCancel(s.ctx)
		s.mu.Lock()
		if rf := s.running[f]; rf != nil {
			rf.cancel = cancel
		}
		s.mu.Unlock()

		f.setState(FileRunning)
		err := s.runTransferWithRetry(fctx, f)
		cancel()
		s.gate.Leave()

		s.mu.Lock()
		wasPaused := s.running[f] != nil && s.running[f].paused
		delete(s.running, f)
		s.mu.Unlock()

		defer s.dispatch()
		if wasPaused {
			// preempted, not finished: requeue and skip the completion count.
			f.setState(FilePending)
			return
		}
		switch {
		case s.ctx.Err() != nil || f.State() == FileCancelled:
			f.setState(FileCancelled)
		case err != nil:
			f.setErr(err)
			log.Println("scheduler: download failed for", f.URL, ":", err)
			raven.CaptureError(err, map[string]string{"url": f.URL})
		default:
			f.setState(FileDone)
		}
		atomic.AddInt64(&completedCounter, 1)
	}()
}

// runTransferWithRetry runs runTransfer for f, retrying transient
// failures with exponential backoff for up to s.MaxRetries attempts in
// total, the first one included (spec.md
// §5 "resumable-retry state", §7's "retried up to N times then
// surfaced"). Because f.SupportsResume files already write their
// partial bytes to f.Dest, a retry attempt picks up wherever the
// previous one left off rather than restarting cold — the retry loop
// itself adds no extra state beyond calling runTransfer again.
// Preemption and cancellation both show up as ctx.Err() != nil, which
// this loop treats as terminal rather than retryable, leaving
// Scheduler.startFile's caller to tell the two apart exactly as before.
func (s *Scheduler) runTransferWithRetry(ctx context.Context, f *File) error {
	maxAttempts := s.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxRetries
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.Clock.After(delay):
			}
			log.Println("scheduler: retrying", f.URL, "attempt", attempt, "of", maxAttempts)
		}
		f.setAttempts(attempt)

		err = runTransfer(ctx, f, s.rate, s.ResumeDB, s.NetworkTimeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !isTransientTransferError(err) {
			return err
		}
	}
	return err
}

// backoff computes the delay before retry attempt n (1-indexed: the
// delay before the 2nd overall attempt is backoff(1)), following
// bureau-daemon/retry.go's 2^(n-1) progression scaled by
// s.RetryBaseDelay, plus jitter of up to half that scaled delay so that
// concurrent retries of many files don't all wake in lockstep. Jitter
// comes from s.Rand, which tests seed deterministically.
func (s *Scheduler) backoff(n int) time.Duration {
	base := s.RetryBaseDelay
	if base <= 0 {
		base = DefaultRetryBaseDelay
	}
	delay := base * time.Duration(int64(1)<<uint(n-1))

	s.randMu.Lock()
	jitter := time.Duration(s.Rand.Int63n(int64(delay)/2 + 1))
	s.randMu.Unlock()

	return delay + jitter
}

// completedCounter is exposed for tests to assert forward progress
// without racing on individual file state.
var completedCounter int64

// CompletedCount returns the number of file transfers that have reached
// a terminal state across every Scheduler in the process, for wiring
// into an expvar.Func by the status server.
func CompletedCount() int64 {
	return atomic.LoadInt64(&completedCounter)
}
