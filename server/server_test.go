package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ndlib/zeroinstall-store/fetch"
	"github.com/ndlib/zeroinstall-store/manifest"
	"github.com/ndlib/zeroinstall-store/scheduler"
	"github.com/ndlib/zeroinstall-store/store"
)

func newTestServer(t *testing.T) (*Server, manifest.Digest) {
	t.Helper()
	storeRoot := t.TempDir()
	ds, err := store.NewDirectoryStore(storeRoot, false)
	if err != nil {
		t.Fatal(err)
	}

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "hello.txt"), []byte("hi"), 0664); err != nil {
		t.Fatal(err)
	}
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
		t.Fatal(err)
	}

	sched := scheduler.New(2, nil)
	f := fetch.NewFetcher(ds, sched, t.TempDir())

	return &Server{Store: ds, Fetcher: f, Progress: f.Progress}, digest
}

func TestListStoreHandler(t *testing.T) {
	s, digest := newTestServer(t)
	srv := httptest.NewServer(s.addRoutes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/store")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != digest.String() {
		t.Errorf("names = %v, want [%s]", names, digest.String())
	}
}

func TestStoreDigestHandler(t *testing.T) {
	s, digest := newTestServer(t)
	srv := httptest.NewServer(s.addRoutes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/store/" + digest.String())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out struct {
		Digest  string `json:"digest"`
		Present bool   `json:"present"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Present {
		t.Error("expected installed digest to be reported present")
	}
}

func TestFetchProgressHandlerNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.addRoutes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/fetch/sha256new=0000")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestVarHandler(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.addRoutes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/vars")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["fetchd.completed_transfers"]; !ok {
		t.Error("expected fetchd.completed_transfers in /debug/vars output")
	}
}
