package store

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"

	"github.com/ndlib/zeroinstall-store/manifest"
)

// DirectoryStore is a content-addressed cache of implementation
// directories rooted at Root. Every immediate sub-directory's name is an
// implementation digest string ("<prefix>=<encoded>"); its contents are
// guaranteed (by the verify-and-install protocol below) to hash to that
// digest under the named algorithm.
//
// DirectoryStore plays the role FileSystem plays for the generic Store
// interface, but it understands manifests and digests instead of opaque
// keys, and its mutation path always goes through staging (spec.md §4.2).
type DirectoryStore struct {
	Root string
}

// NotFound is returned by Path when no sub-directory matches a digest.
var NotFound = errors.New("store: digest not found")

// ErrAlreadyInStore is returned when the install target for a digest
// already exists.
var ErrAlreadyInStore = errors.New("store: digest already installed")

// ErrNoKnownDigest is returned when a digest has no algorithm this
// store knows how to verify.
var ErrNoKnownDigest = errors.New("store: digest names no known algorithm")

// ErrInsufficientTimeAccuracy is returned by NewDirectoryStore when the
// backing filesystem cannot preserve mtimes to 1-second accuracy.
var ErrInsufficientTimeAccuracy = errors.New("store: filesystem mtime accuracy is insufficient")

// DigestMismatchError is returned when a staged tree's recomputed digest
// does not match what was expected.
type DigestMismatchError struct {
	Expected string
	Actual   string
}

func (e *DigestMismatchError) Error() string {
	return "store: digest mismatch: expected " + e.Expected + ", got " + e.Actual
}

// NewDirectoryStore opens (and if necessary creates) a DirectoryStore
// rooted at root. Unless readOnly is true, it probes the filesystem for
// 1-second mtime accuracy, per spec.md §4.2's precondition.
func NewDirectoryStore(root string, readOnly bool) (*DirectoryStore, error) {
	if err := os.MkdirAll(root, 0775); err != nil {
		return nil, errors.Wrap(err, "store: creating root")
	}
	ds := &DirectoryStore{Root: root}
	if readOnly {
		return ds, nil
	}
	if err := ds.probeTimeAccuracy(); err != nil {
		return nil, err
	}
	return ds, nil
}

// probeTimeAccuracy writes a scratch file, sets its mtime to a value
// truncated to the second, and checks that reading it back yields the
// exact same value.
func (ds *DirectoryStore) probeTimeAccuracy() error {
	f, err := ioutil.TempFile(ds.Root, "probe-")
	if err != nil {
		return errors.Wrap(err, "store: mtime accuracy probe")
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)

	want := time.Now().Truncate(time.Second)
	if err := os.Chtimes(name, want, want); err != nil {
		return errors.Wrap(err, "store: mtime accuracy probe")
	}
	fi, err := os.Stat(name)
	if err != nil {
		return errors.Wrap(err, "store: mtime accuracy probe")
	}
	if !fi.ModTime().Truncate(time.Second).Equal(want) {
		return ErrInsufficientTimeAccuracy
	}
	return nil
}

// Contains reports whether some algorithm in digest names an existing
// sub-directory of the store.
func (ds *DirectoryStore) Contains(digest manifest.Digest) bool {
	_, err := ds.Path(digest)
	return err == nil
}

// Path returns the first existing sub-directory matching any algorithm
// in digest, or NotFound.
func (ds *DirectoryStore) Path(digest manifest.Digest) (string, error) {
	for f, s := range digest {
		candidate := filepath.Join(ds.Root, f.Prefix()+"="+s)
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return candidate, nil
		}
	}
	return "", NotFound
}

// ListAll enumerates every installed digest string, sorted byte-wise.
// Names that don't contain "=" (i.e. aren't digest strings) and
// dot-prefixed names (scratch/probe artifacts) are skipped.
func (ds *DirectoryStore) ListAll() ([]string, error) {
	entries, err := ioutil.ReadDir(ds.Root)
	if err != nil {
		return nil, errors.Wrap(err, "store: listing root")
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.Contains(name, "=") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ProgressFunc is called periodically during a long-running store
// operation (install, verify) to report status upward. It is never
// called concurrently by the same operation.
type ProgressFunc func(msg string)

// AddDirectory copies source into a fresh temporary sub-directory of the
// store and then verify-and-installs it under expected.
func (ds *DirectoryStore) AddDirectory(source string, expected manifest.Digest, progress ProgressFunc) error {
	staging, err := ds.newStagingDir()
	if err != nil {
		return err
	}
	if err := copyTree(source, staging); err != nil {
		os.RemoveAll(staging)
		return errors.Wrap(err, "store: copying into staging")
	}
	return ds.verifyAndInstall(staging, expected, progress)
}

// verifyAndInstall implements spec.md §4.2's six-step protocol. staging
// is removed on every failure path; on success it no longer exists at
// its original location (it has been renamed into the store).
func (ds *DirectoryStore) verifyAndInstall(staging string, expected manifest.Digest, progress ProgressFunc) error {
	f, _, ok := expected.Best()
	if !ok {
		os.RemoveAll(staging)
		return ErrNoKnownDigest
	}

	report(progress, "computing manifest")
	m, err := manifest.Generate(staging, f)
	if err != nil {
		os.RemoveAll(staging)
		return errors.Wrap(err, "store: generating manifest")
	}
	serialized, err := m.Serialize()
	if err != nil {
		os.RemoveAll(staging)
		return errors.Wrap(err, "store: serializing manifest")
	}
	if err := ioutil.WriteFile(filepath.Join(staging, manifestFileName), serialized, 0664); err != nil {
		os.RemoveAll(staging)
		return errors.Wrap(err, "store: writing .manifest")
	}

	actual, err := m.Digest()
	if err != nil {
		os.RemoveAll(staging)
		return errors.Wrap(err, "store: digesting manifest")
	}
	wantStr := f.Prefix() + "=" + expected[f]
	if actual != wantStr {
		os.RemoveAll(staging)
		return &DigestMismatchError{Expected: wantStr, Actual: actual}
	}

	target := filepath.Join(ds.Root, actual)
	if _, err := os.Stat(target); err == nil {
		os.RemoveAll(staging)
		return ErrAlreadyInStore
	}

	report(progress, "installing")
	if err := os.Rename(staging, target); err != nil {
		if _, statErr := os.Stat(target); statErr == nil {
			os.RemoveAll(staging)
			return ErrAlreadyInStore
		}
		os.RemoveAll(staging)
		return errors.Wrap(err, "store: renaming staging into place")
	}

	if err := writeProtect(target); err != nil {
		log.Println("store: write-protect failed for", target, ":", err)
		raven.CaptureError(err, map[string]string{"target": target})
	}
	return nil
}

// manifestFileName is the name a generated manifest is persisted under
// inside an installed implementation directory (spec.md §4.1).
const manifestFileName = ".manifest"

// newStagingDir allocates a fresh, uniquely-named directory directly
// under the store root to stage a not-yet-verified implementation in.
func (ds *DirectoryStore) newStagingDir() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", errors.Wrap(err, "store: generating staging name")
	}
	name := ".staging-" + hex.EncodeToString(b[:])
	dir := filepath.Join(ds.Root, name)
	if err := os.Mkdir(dir, 0775); err != nil {
		return "", errors.Wrap(err, "store: creating staging dir")
	}
	return dir, nil
}

// Remove disables write protection on the implementation named by
// digest, renames it to a fresh temporary name (the atomic commit of
// the removal), then deletes it recursively.
func (ds *DirectoryStore) Remove(digest manifest.Digest) error {
	target, err := ds.Path(digest)
	if err != nil {
		return err
	}
	if err := removeWriteProtect(target); err != nil {
		log.Println("store: removing write-protect from", target, ":", err)
	}
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return errors.Wrap(err, "store: generating removal name")
	}
	tmp := filepath.Join(ds.Root, ".removing-"+hex.EncodeToString(b[:]))
	if err := os.Rename(target, tmp); err != nil {
		return errors.Wrap(err, "store: renaming for removal")
	}
	return os.RemoveAll(tmp)
}

// Verify recomputes the manifest of every installed implementation and
// compares it against its own name, reporting any mismatches found.
func (ds *DirectoryStore) Verify(progress ProgressFunc) ([]string, error) {
	names, err := ds.ListAll()
	if err != nil {
		return nil, err
	}
	var bad []string
	for _, name := range names {
		report(progress, "verifying "+name)
		f := manifest.FormatByPrefix(prefixOf(name))
		if f == manifest.FormatUnknown {
			bad = append(bad, name)
			continue
		}
		m, err := manifest.Generate(filepath.Join(ds.Root, name), f)
		if err != nil {
			bad = append(bad, name)
			continue
		}
		got, err := m.Digest()
		if err != nil || got != name {
			bad = append(bad, name)
		}
	}
	return bad, nil
}

func prefixOf(digestString string) string {
	i := strings.IndexByte(digestString, '=')
	if i < 0 {
		return ""
	}
	return digestString[:i]
}

// Optimise walks every installed implementation's .manifest and hard
// links files with identical content hashes together, reclaiming space.
// This is optional per spec.md §9's Open Question; it is implemented
// here as a straightforward sweep rather than left a stub.
func (ds *DirectoryStore) Optimise() error {
	names, err := ds.ListAll()
	if err != nil {
		return err
	}
	seen := make(map[string]string) // content hash -> first file path found
	for _, name := range names {
		dir := filepath.Join(ds.Root, name)
		data, err := ioutil.ReadFile(filepath.Join(dir, manifestFileName))
		if err != nil {
			continue
		}
		f := manifest.FormatByPrefix(prefixOf(name))
		if f == manifest.FormatUnknown {
			continue
		}
		m, err := manifest.Parse(f, data)
		if err != nil {
			continue
		}
		if err := hardLinkDuplicates(dir, m, seen); err != nil {
			log.Println("store: optimise", name, ":", err)
		}
	}
	return nil
}

func hardLinkDuplicates(dir string, m *manifest.Manifest, seen map[string]string) error {
	path := ""
	for _, n := range m.Nodes {
		if n.Kind != manifest.KindFile && n.Kind != manifest.KindExecutable {
			continue
		}
		_ = path
		full := filepath.Join(dir, filepath.FromSlash(n.Name))
		key := n.Hash
		if first, ok := seen[key]; ok {
			if first == full {
				continue
			}
			tmp := full + ".optimise-tmp"
			if err := os.Link(first, tmp); err != nil {
				continue // different filesystem, or link limit; skip
			}
			if err := os.Rename(tmp, full); err != nil {
				os.Remove(tmp)
			}
		} else {
			seen[key] = full
		}
	}
	return nil
}

func report(progress ProgressFunc, msg string) {
	if progress != nil {
		progress(msg)
	}
}

// copyTree recursively copies src into dst, which may already exist as an
// empty directory (AddDirectory passes a freshly created staging dir).
// Used by AddDirectory; archive-backed installs instead extract
// directly into the staging directory via archive.Extractor.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		}
		in, err := os.Open(p)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
