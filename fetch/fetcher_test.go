package fetch

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ndlib/zeroinstall-store/manifest"
	"github.com/ndlib/zeroinstall-store/scheduler"
	"github.com/ndlib/zeroinstall-store/store"
)

// testModTime is the fixed modification time given to every zip entry
// built by buildNamedArchiveZip and, via chtimesTree, to a reference
// tree being digested against one. manifest.Serialize embeds each
// file's mtime in its line (spec.md §4.1's format), and
// archive/zip.go's extractor sets an extracted file's mtime from its
// zip entry, so a tree compared against zip-extracted content must be
// pinned to the same mtime rather than left at the zip format's
// zero-value default; a tree compared only against another directory
// copy (no archive involved) does not need this.
var testModTime = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0664); err != nil {
			t.Fatal(err)
		}
	}
}

// chtimesTree pins every named file directly under dir to testModTime,
// for a reference tree that will be digested against zip-extracted
// content built by buildNamedArchiveZip.
func chtimesTree(t *testing.T, dir string, names []string) {
	t.Helper()
	for _, name := range names {
		if err := os.Chtimes(filepath.Join(dir, filepath.FromSlash(name)), testModTime, testModTime); err != nil {
			t.Fatal(err)
		}
	}
}

func buildArchiveZip(t *testing.T, content string) []byte {
	t.Helper()
	return buildNamedArchiveZip(t, "payload.txt", content)
}

func buildNamedArchiveZip(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: testModTime})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func digestOfTree(t *testing.T, dir string) manifest.Digest {
	t.Helper()
	m, err := manifest.Generate(dir, manifest.FormatSha256New)
	if err != nil {
		t.Fatal(err)
	}
	s, err := m.Digest()
	if err != nil {
		t.Fatal(err)
	}
	d, err := manifest.NewDigest(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func newFetcher(t *testing.T) (*Fetcher, *store.DirectoryStore) {
	t.Helper()
	storeRoot := t.TempDir()
	tmp := t.TempDir()
	ds, err := store.NewDirectoryStore(storeRoot, false)
	if err != nil {
		t.Fatal(err)
	}
	sched := scheduler.New(2, nil)
	return NewFetcher(ds, sched, tmp), ds
}

func TestFetcherFetchSingleArchive(t *testing.T) {
	data := buildArchiveZip(t, "hello world")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "0")
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	f, ds := newFetcher(t)

	// build the expected digest independently via manifest.Generate over
	// a tree with the same single file the zip contains.
	refDir := t.TempDir()
	writeTree(t, refDir, map[string]string{"payload.txt": "hello world"})
	chtimesTree(t, refDir, []string{"payload.txt"})
	digest := digestOfTree(t, refDir)

	req := FetchRequest{Implementations: []Implementation{
		{
			Digest: digest,
			Archives: []Archive{
				{URL: srv.URL, MIMEType: "application/zip", Size: int64(len(data))},
			},
		},
	}}

	errs := f.Fetch(req)
	if len(errs) != 0 {
		t.Fatalf("Fetch errors: %v", errs)
	}
	if !ds.Contains(digest) {
		t.Error("store does not contain fetched digest")
	}

	p := f.Progress.Lookup(digest.String())
	if p == nil {
		t.Fatal("no progress entry recorded")
	}
	if p.Status() != StatusFinished {
		t.Errorf("status = %v, want finished", p.Status())
	}
}

// TestFetcherRangeSkipsStartOffset covers spec.md §4.5 step 3's "if"
// branch: when the server advertises Range support, an Archive's
// start_offset must be skipped server-side via a Range request, not
// downloaded in full and discarded by the extractor.
func TestFetcherRangeSkipsStartOffset(t *testing.T) {
	const prefix = "JUNK-HEADER"
	archiveBytes := buildArchiveZip(t, "ranged content")
	full := append([]byte(prefix), archiveBytes...)

	var sawRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", strconv.Itoa(len(full)))
			return
		}
		rng := r.Header.Get("Range")
		sawRange = rng
		if rng == "" {
			w.Write(full)
			return
		}
		var start int
		fmt.Sscanf(strings.TrimPrefix(rng, "bytes="), "%d-", &start)
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(full[start:])
	}))
	defer srv.Close()

	f, ds := newFetcher(t)

	refDir := t.TempDir()
	writeTree(t, refDir, map[string]string{"payload.txt": "ranged content"})
	chtimesTree(t, refDir, []string{"payload.txt"})
	digest := digestOfTree(t, refDir)

	req := FetchRequest{Implementations: []Implementation{
		{
			Digest: digest,
			Archives: []Archive{
				{URL: srv.URL, MIMEType: "application/zip", Size: int64(len(archiveBytes)), StartOffset: int64(len(prefix))},
			},
		},
	}}

	errs := f.Fetch(req)
	if len(errs) != 0 {
		t.Fatalf("Fetch errors: %v", errs)
	}
	if !ds.Contains(digest) {
		t.Error("store does not contain fetched digest")
	}
	if sawRange != fmt.Sprintf("bytes=%d-", len(prefix)) {
		t.Errorf("Range header = %q, want bytes=%d-", sawRange, len(prefix))
	}
}

func TestFetcherSkipsAlreadyPresent(t *testing.T) {
	f, ds := newFetcher(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	digest := digestOfTree(t, src)
	if err := ds.AddDirectory(src, digest, nil); err != nil {
		t.Fatal(err)
	}

	req := FetchRequest{Implementations: []Implementation{{Digest: digest}}}
	errs := f.Fetch(req)
	if len(errs) != 0 {
		t.Fatalf("Fetch errors: %v", errs)
	}

	p := f.Progress.Lookup(digest.String())
	if p == nil || p.Status() != StatusFinished {
		t.Errorf("progress = %v, want finished", p)
	}
}

func TestFetcherSizeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "0")
			return
		}
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	f, ds := newFetcher(t)
	digest := manifest.Digest{manifest.FormatSha256New: "deadbeef00000000000000000000000000000000000000000000000000beef"}

	req := FetchRequest{Implementations: []Implementation{
		{
			Digest: digest,
			Archives: []Archive{
				{URL: srv.URL, MIMEType: "application/zip", Size: 999999},
			},
		},
	}}

	errs := f.Fetch(req)
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want exactly one", errs)
	}
	if ds.Contains(digest) {
		t.Error("store should not contain digest after a failed fetch")
	}
}

// TestFetcherRecipeOverlaysMultipleArchives covers spec.md §3's "later
// archives overlay earlier" and the §8 scenario 5 boundary case: a
// Recipe of part1={FILE1:"a"} and part2={FILE2:"b"} must install a
// merged tree containing both files, driven end to end through
// Fetcher.Fetch (selectPlan's Recipe branch, downloadPlan's multi-file
// job, and store.AddMultipleArchives's overlay extraction).
func TestFetcherRecipeOverlaysMultipleArchives(t *testing.T) {
	part1 := buildNamedArchiveZip(t, "FILE1", "a")
	part2 := buildNamedArchiveZip(t, "FILE2", "b")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "0")
			return
		}
		switch r.URL.Path {
		case "/part1.zip":
			w.Write(part1)
		case "/part2.zip":
			w.Write(part2)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f, ds := newFetcher(t)

	refDir := t.TempDir()
	writeTree(t, refDir, map[string]string{"FILE1": "a", "FILE2": "b"})
	chtimesTree(t, refDir, []string{"FILE1", "FILE2"})
	digest := digestOfTree(t, refDir)

	req := FetchRequest{Implementations: []Implementation{
		{
			Digest: digest,
			Recipes: []Recipe{
				{
					{URL: srv.URL + "/part1.zip", MIMEType: "application/zip", Size: int64(len(part1))},
					{URL: srv.URL + "/part2.zip", MIMEType: "application/zip", Size: int64(len(part2))},
				},
			},
		},
	}}

	errs := f.Fetch(req)
	if len(errs) != 0 {
		t.Fatalf("Fetch errors: %v", errs)
	}
	if !ds.Contains(digest) {
		t.Fatal("store does not contain the merged recipe digest")
	}

	p := f.Progress.Lookup(digest.String())
	if p == nil || p.Status() != StatusFinished {
		t.Errorf("progress = %v, want finished", p)
	}
}

func TestFetcherNoRetrievalMethod(t *testing.T) {
	f, _ := newFetcher(t)
	digest := manifest.Digest{manifest.FormatSha256New: "aaaa0000000000000000000000000000000000000000000000000000aaaa"}
	req := FetchRequest{Implementations: []Implementation{{Digest: digest}}}

	// no Archives or Recipes at all but also no pre-existing content in
	// the store: selectPlan must fail.
	errs := f.Fetch(req)
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want exactly one", errs)
	}
}
