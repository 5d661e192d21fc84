package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0664); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateEmptyRoot(t *testing.T) {
	dir := t.TempDir()
	m, err := Generate(dir, FormatSha256New)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Nodes) != 1 || m.Nodes[0].Kind != KindDir || m.Nodes[0].FullPath != "/" {
		t.Fatalf("empty root: got %+v, want single D / node", m.Nodes)
	}
}

func TestGenerateOrdering(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0775); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "c")

	m, err := Generate(dir, FormatSha256New)
	if err != nil {
		t.Fatal(err)
	}

	var kinds []string
	for _, n := range m.Nodes {
		if n.Kind == KindDir {
			kinds = append(kinds, "D:"+n.FullPath)
		} else {
			kinds = append(kinds, "F:"+n.Name)
		}
	}
	want := []string{"F:a.txt", "F:b.txt", "D:/sub", "F:c.txt"}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("node %d: got %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestGenerateIdempotentDigest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hello.txt"), "hello world")

	m1, err := Generate(dir, FormatSha256New)
	if err != nil {
		t.Fatal(err)
	}
	d1, err := m1.Digest()
	if err != nil {
		t.Fatal(err)
	}

	m2, err := Generate(dir, FormatSha256New)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := m2.Digest()
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Errorf("digest not idempotent: %s != %s", d1, d2)
	}
	if !strings.HasPrefix(d1, "sha256new=") {
		t.Errorf("digest %q missing sha256new= prefix", d1)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "file with spaces.txt"), "spacey")
	writeFile(t, filepath.Join(dir, "empty.txt"), "")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0775); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "sub", "nested.txt"), "nested")

	for _, f := range []Format{FormatSha1, FormatSha1New, FormatSha256, FormatSha256New} {
		m, err := Generate(dir, f)
		if err != nil {
			t.Fatalf("%v: Generate: %v", f, err)
		}
		b, err := m.Serialize()
		if err != nil {
			t.Fatalf("%v: Serialize: %v", f, err)
		}
		parsed, err := Parse(f, b)
		if err != nil {
			t.Fatalf("%v: Parse: %v", f, err)
		}
		b2, err := parsed.Serialize()
		if err != nil {
			t.Fatalf("%v: re-Serialize: %v", f, err)
		}
		if string(b) != string(b2) {
			t.Errorf("%v: round trip not byte-exact", f)
		}
	}
}

func TestGenerateExecutableAndSymlink(t *testing.T) {
	dir := t.TempDir()
	exePath := filepath.Join(dir, "run.sh")
	writeFile(t, exePath, "#!/bin/sh\n")
	if err := os.Chmod(exePath, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("run.sh", filepath.Join(dir, "link")); err != nil {
		t.Fatal(err)
	}

	m, err := Generate(dir, FormatSha256New)
	if err != nil {
		t.Fatal(err)
	}
	var gotExec, gotSymlink bool
	for _, n := range m.Nodes {
		switch {
		case n.Kind == KindExecutable && n.Name == "run.sh":
			gotExec = true
		case n.Kind == KindSymlink && n.Name == "link":
			gotSymlink = true
			if n.Size != int64(len("run.sh")) {
				t.Errorf("symlink size = %d, want %d", n.Size, len("run.sh"))
			}
		}
	}
	if !gotExec {
		t.Error("run.sh not classified as executable")
	}
	if !gotSymlink {
		t.Error("link not classified as symlink")
	}
}

// TestGenerateDirModTime guards against a regression where subdirectory
// nodes always carried a zero ModTime: the old format's "D <mtime>
// <path>" line needs a real mtime or a re-Verify of a legacy store entry
// containing a subdirectory spuriously fails to match.
func TestGenerateDirModTime(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0775); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "sub", "f.txt"), "x")

	m, err := Generate(dir, FormatSha1)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, n := range m.Nodes {
		if n.Kind == KindDir && n.FullPath == "/sub" {
			found = true
			if n.ModTime == 0 {
				t.Error("subdirectory ModTime = 0, want the directory's real mtime")
			}
		}
	}
	if !found {
		t.Fatal("no D node for /sub")
	}

	b, err := m.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(FormatSha1, b)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := parsed.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != string(b2) {
		t.Error("round trip not byte-exact with a populated dir ModTime")
	}
}

func TestGenerateZeroByteFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "empty.txt"), "")

	m, err := Generate(dir, FormatSha256New)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Nodes) != 1 || m.Nodes[0].Size != 0 {
		t.Fatalf("zero-byte file: got %+v", m.Nodes)
	}
}
