package fetch

import (
	"io/ioutil"
	"os"

	"github.com/pkg/errors"

	"github.com/ndlib/zeroinstall-store/scheduler"
	"github.com/ndlib/zeroinstall-store/store"
)

// smallArchiveThreshold is the size, in bytes, below which a single
// direct Archive is preferred over a Recipe even when both are offered
// (spec.md §4.5 step 2's "small"). Above it, a Recipe (if any) is tried
// first on the theory that its component archives are more likely to
// already be cached/mirrored individually.
const smallArchiveThreshold = 64 << 20 // 64 MiB

// FetcherError reports a failure fetching one implementation, carrying
// its digest and the underlying cause (spec.md §4.5 steps 5-6).
type FetcherError struct {
	Digest string
	Cause  error
}

func (e *FetcherError) Error() string {
	return "fetch: " + e.Digest + ": " + e.Cause.Error()
}

func (e *FetcherError) Unwrap() error { return e.Cause }

// Fetcher orchestrates retrieval of Implementations into a
// store.DirectoryStore, following spec.md §4.5's algorithm: skip what's
// already present, plan archive-vs-recipe retrieval, drive a
// scheduler.Scheduler to pull bytes, hand the result to the store.
type Fetcher struct {
	Store     *store.DirectoryStore
	Scheduler *scheduler.Scheduler
	Progress  *Registry
	TempDir   string // scratch directory for in-flight downloads; same filesystem as Store.Root

	flights singleflight
}

// NewFetcher builds a Fetcher over st, driving downloads through sched
// and reporting progress into a fresh Registry. tempDir should live on
// the same filesystem as st.Root so the final install rename (inside
// store.AddArchive) stays a same-filesystem, truly atomic rename.
func NewFetcher(st *store.DirectoryStore, sched *scheduler.Scheduler, tempDir string) *Fetcher {
	return &Fetcher{
		Store:     st,
		Scheduler: sched,
		Progress:  NewRegistry(),
		TempDir:   tempDir,
	}
}

// Fetch retrieves every implementation in req not already present in
// the store, skipping any that already are (spec.md §4.5 step 1,
// "Idempotence"). Implementations are fetched concurrently; at most one
// in-flight fetch per digest runs at a time regardless of how many
// times it appears across overlapping calls to Fetch.
func (f *Fetcher) Fetch(req FetchRequest) []error {
	var errsCh = make(chan error, len(req.Implementations))
	done := make(chan struct{}, len(req.Implementations))
	for _, impl := range req.Implementations {
		impl := impl
		go func() {
			errsCh <- f.fetchGuarded(impl)
			done <- struct{}{}
		}()
	}
	for range req.Implementations {
		<-done
	}
	close(errsCh)
	var errs []error
	for err := range errsCh {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// fetchGuarded ensures at most one fetch for impl.Digest runs at a time.
func (f *Fetcher) fetchGuarded(impl Implementation) error {
	key := impl.Digest.String()
	return f.flights.Do(key, func() error {
		return f.fetchOne(impl)
	})
}

// fetchOne implements spec.md §4.5's per-implementation algorithm.
func (f *Fetcher) fetchOne(impl Implementation) error {
	digestStr := impl.Digest.String()
	if digestStr == "" {
		return errors.New("fetch: implementation has no usable digest")
	}
	progress := f.Progress.start(digestStr)

	if f.Store.Contains(impl.Digest) {
		progress.setStatus(StatusFinished)
		return nil
	}

	plan, err := selectPlan(impl)
	if err != nil {
		progress.setErr(err)
		return &FetcherError{Digest: digestStr, Cause: err}
	}

	progress.setStatus(StatusDownloading)
	infos, err := f.downloadPlan(plan, progress)
	if err != nil {
		progress.setErr(err)
		for _, info := range infos {
			os.Remove(info.Path)
		}
		return &FetcherError{Digest: digestStr, Cause: err}
	}

	progress.setStatus(StatusExtracting)
	var installErr error
	if len(infos) == 1 {
		installErr = f.Store.AddArchive(infos[0], impl.Digest, func(string) {})
	} else {
		installErr = f.Store.AddMultipleArchives(infos, impl.Digest, func(string) {})
	}
	for _, info := range infos {
		os.Remove(info.Path)
	}
	if installErr != nil {
		if installErr == store.ErrAlreadyInStore {
			progress.setStatus(StatusFinished)
			return nil
		}
		progress.setErr(installErr)
		return &FetcherError{Digest: digestStr, Cause: installErr}
	}

	progress.setStatus(StatusFinished)
	return nil
}

// plan is the resolved retrieval method for one implementation: either
// a single archive or a full recipe, always represented as an ordered
// list of Archives (spec.md §4.5 step 2).
type plan []Archive

// selectPlan implements spec.md §4.5 step 2's selection policy: prefer
// a single small Archive; otherwise the first Recipe; falling back to
// whatever single option remains. The policy is total given valid input.
func selectPlan(impl Implementation) (plan, error) {
	if len(impl.Archives) > 0 {
		best := impl.Archives[0]
		for _, a := range impl.Archives[1:] {
			if a.Size < best.Size {
				best = a
			}
		}
		if best.Size <= smallArchiveThreshold || len(impl.Recipes) == 0 {
			return plan{best}, nil
		}
	}
	if len(impl.Recipes) > 0 {
		return plan(impl.Recipes[0]), nil
	}
	if len(impl.Archives) > 0 {
		return plan{impl.Archives[0]}, nil
	}
	return nil, errors.New("fetch: implementation has no retrieval method")
}

// downloadPlan pulls every archive in p to a temporary file within
// f.TempDir, via the scheduler, and returns a store.ArchiveInfo per
// archive ready to hand to AddArchive/AddMultipleArchives.
func (f *Fetcher) downloadPlan(p plan, progress *Progress) ([]store.ArchiveInfo, error) {
	var infos []store.ArchiveInfo
	var files []*scheduler.File
	for _, a := range p {
		dest, err := tempPath(f.TempDir)
		if err != nil {
			return infos, err
		}
		startOffset := a.StartOffset
		supportsRange, _, perr := probeRange(a.URL)
		if perr != nil {
			supportsRange = false
		}

		// spec.md §4.5 step 3: if the server supports Range, skip
		// start_offset bytes server-side rather than downloading the
		// archive's prefix only to discard it in the extractor. A
		// server that does not support Range falls back to the full
		// download, with the extractor doing the skip locally as before.
		extractOffset := startOffset
		rangeStart := int64(0)
		expectedSize := a.Size + startOffset
		if supportsRange && startOffset > 0 {
			rangeStart = startOffset
			extractOffset = 0
			expectedSize = a.Size
		}

		sf := scheduler.NewFile(a.URL, dest, expectedSize, supportsRange)
		sf.RangeStart = rangeStart
		files = append(files, sf)
		infos = append(infos, store.ArchiveInfo{
			Path:        dest,
			MIMEType:    a.MIMEType,
			StartOffset: extractOffset,
			SubDir:      a.SubDir,
		})
	}

	job := f.Scheduler.AddJob(0, files)
	f.Scheduler.WaitJob(job)

	for _, sf := range files {
		if err := sf.Err(); err != nil {
			return infos, err
		}
		written := sf.Written()
		want := sf.ExpectedSize
		if want > 0 && written != want {
			return infos, &ErrSizeMismatch{URL: sf.URL, Expected: want, Actual: written}
		}
		progress.setWritten(written, want)
	}
	return infos, nil
}

func tempPath(dir string) (string, error) {
	f, err := ioutil.TempFile(dir, "fetch-")
	if err != nil {
		return "", errors.Wrap(err, "fetch: creating temp file")
	}
	name := f.Name()
	f.Close()
	return name, nil
}
