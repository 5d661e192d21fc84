package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ndlib/zeroinstall-store/manifest"
)

func newTestStore(t *testing.T) *DirectoryStore {
	t.Helper()
	root := t.TempDir()
	ds, err := NewDirectoryStore(root, false)
	if err != nil {
		t.Fatalf("NewDirectoryStore: %v", err)
	}
	return ds
}

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

func TestAddDirectoryInstallAndVerify(t *testing.T) {
	ds := newTestStore(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"hello.txt": "hello world"})

	m, err := manifest.Generate(src, manifest.FormatSha256New)
	if err != nil {
		t.Fatal(err)
	}
	digestStr, err := m.Digest()
	if err != nil {
		t.Fatal(err)
	}
	digest, err := manifest.NewDigest(digestStr)
	if err != nil {
		t.Fatal(err)
	}

	if err := ds.AddDirectory(src, digest, nil); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if !ds.Contains(digest) {
		t.Error("store does not contain installed digest")
	}

	path, err := ds.Path(digest)
	if err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(filepath.Join(path, "hello.txt")); err != nil || fi.Mode().Perm()&0222 != 0 {
		t.Errorf("installed file not write-protected: %v mode=%v", err, fi.Mode())
	}

	bad, err := ds.Verify(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 0 {
		t.Errorf("Verify found bad entries in freshly-installed store: %v", bad)
	}
}

func TestAddDirectoryDigestMismatch(t *testing.T) {
	ds := newTestStore(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"hello.txt": "hello world"})

	wrong := manifest.Digest{manifest.FormatSha256New: "0000000000000000000000000000000000000000000000000000000000000"}
	err := ds.AddDirectory(src, wrong, nil)
	if err == nil {
		t.Fatal("expected digest mismatch error")
	}
	if _, ok := err.(*DigestMismatchError); !ok {
		t.Errorf("got %T, want *DigestMismatchError", err)
	}
}

func TestAddDirectoryAlreadyInStore(t *testing.T) {
	ds := newTestStore(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"hello.txt": "hello world"})

	m, _ := manifest.Generate(src, manifest.FormatSha256New)
	digestStr, _ := m.Digest()
	digest, _ := manifest.NewDigest(digestStr)

	if err := ds.AddDirectory(src, digest, nil); err != nil {
		t.Fatalf("first AddDirectory: %v", err)
	}

	src2 := t.TempDir()
	writeTree(t, src2, map[string]string{"hello.txt": "hello world"})
	err := ds.AddDirectory(src2, digest, nil)
	if err != ErrAlreadyInStore {
		t.Errorf("second AddDirectory: got %v, want ErrAlreadyInStore", err)
	}
}

func TestRemove(t *testing.T) {
	ds := newTestStore(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"hello.txt": "hello world"})
	m, _ := manifest.Generate(src, manifest.FormatSha256New)
	digestStr, _ := m.Digest()
	digest, _ := manifest.NewDigest(digestStr)

	if err := ds.AddDirectory(src, digest, nil); err != nil {
		t.Fatal(err)
	}
	if err := ds.Remove(digest); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ds.Contains(digest) {
		t.Error("store still contains digest after Remove")
	}
}

func TestListAllSkipsScratchEntries(t *testing.T) {
	ds := newTestStore(t)

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	m, _ := manifest.Generate(src, manifest.FormatSha256New)
	digestStr, _ := m.Digest()
	digest, _ := manifest.NewDigest(digestStr)
	if err := ds.AddDirectory(src, digest, nil); err != nil {
		t.Fatal(err)
	}

	names, err := ds.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != digestStr {
		t.Errorf("ListAll: got %v, want [%s]", names, digestStr)
	}
}
