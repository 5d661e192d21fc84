package store

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ndlib/zeroinstall-store/manifest"
)

// archiveModTime is the fixed modification time given to every zip
// entry buildZip builds and, via chtimesTree, to the reference trees
// these tests digest independently. manifest.Serialize embeds each
// file's mtime (spec.md §4.1), and archive/zip.go's extractor sets an
// extracted file's mtime from its zip entry, so both sides of a digest
// comparison must agree on it rather than leaving it at the zip
// format's zero-value default.
var archiveModTime = time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)

// chtimesTree pins every file directly under dir to archiveModTime, so
// a reference tree built with writeTree (which stamps "now") digests
// the same way as a tree extracted from a buildZip archive.
func chtimesTree(t *testing.T, dir string, names []string) {
	t.Helper()
	for _, name := range names {
		if err := os.Chtimes(filepath.Join(dir, filepath.FromSlash(name)), archiveModTime, archiveModTime); err != nil {
			t.Fatal(err)
		}
	}
}

func buildZip(t *testing.T, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: archiveModTime})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), name+".zip")
	if err := os.WriteFile(path, buf.Bytes(), 0664); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestAddMultipleArchivesOverlay covers the boundary case named by
// spec.md §8 scenario 5: a Recipe of two archives, part1={FILE1:"a"}
// and part2={FILE2:"b"}, must install a single merged tree containing
// both files, not just the last archive's contents.
func TestAddMultipleArchivesOverlay(t *testing.T) {
	ds := newTestStore(t)

	part1 := buildZip(t, "FILE1", "a")
	part2 := buildZip(t, "FILE2", "b")

	refDir := t.TempDir()
	writeTree(t, refDir, map[string]string{"FILE1": "a", "FILE2": "b"})
	chtimesTree(t, refDir, []string{"FILE1", "FILE2"})
	digest := refDigest(t, refDir)

	infos := []ArchiveInfo{
		{Path: part1, MIMEType: "application/zip"},
		{Path: part2, MIMEType: "application/zip"},
	}
	if err := ds.AddMultipleArchives(infos, digest, nil); err != nil {
		t.Fatalf("AddMultipleArchives: %v", err)
	}
	if !ds.Contains(digest) {
		t.Error("store does not contain the merged recipe digest")
	}
}

// TestAddMultipleArchivesOverlayOverwrites covers the other half of
// "later archives may create, overwrite, or add files beside earlier
// ones": a second archive writing the same path as the first must win.
func TestAddMultipleArchivesOverlayOverwrites(t *testing.T) {
	ds := newTestStore(t)

	part1 := buildZip(t, "SHARED", "old")
	part2 := buildZip(t, "SHARED", "new")

	refDir := t.TempDir()
	writeTree(t, refDir, map[string]string{"SHARED": "new"})
	chtimesTree(t, refDir, []string{"SHARED"})
	digest := refDigest(t, refDir)

	infos := []ArchiveInfo{
		{Path: part1, MIMEType: "application/zip"},
		{Path: part2, MIMEType: "application/zip"},
	}
	if err := ds.AddMultipleArchives(infos, digest, nil); err != nil {
		t.Fatalf("AddMultipleArchives: %v", err)
	}
	if !ds.Contains(digest) {
		t.Error("store does not contain the overwritten-overlay digest")
	}
}

func refDigest(t *testing.T, dir string) manifest.Digest {
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
