package fetch

import (
	"errors"
	"testing"
)

func TestProgressLifecycle(t *testing.T) {
	p := newProgress("sha256new=abc")
	if p.Status() != StatusPlanning {
		t.Errorf("initial status = %v, want planning", p.Status())
	}

	p.setStatus(StatusDownloading)
	p.setWritten(50, 100)
	written, total := p.Written()
	if written != 50 || total != 100 {
		t.Errorf("Written() = %d, %d, want 50, 100", written, total)
	}
	if p.Status() != StatusDownloading {
		t.Errorf("status = %v, want downloading", p.Status())
	}

	failure := errors.New("boom")
	p.setErr(failure)
	if p.Status() != StatusError {
		t.Errorf("status after setErr = %v, want error", p.Status())
	}
	if p.Err() != failure {
		t.Errorf("Err() = %v, want %v", p.Err(), failure)
	}

	p.setStatus(StatusFinished)
	if p.Status() != StatusFinished {
		t.Errorf("status = %v, want finished", p.Status())
	}
	if p.Digest() != "sha256new=abc" {
		t.Errorf("Digest() = %q", p.Digest())
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusUnknown:     "unknown",
		StatusPlanning:    "planning",
		StatusDownloading: "downloading",
		StatusExtracting:  "extracting",
		StatusVerifying:   "verifying",
		StatusFinished:    "finished",
		StatusError:       "error",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestRegistryLookupAndList(t *testing.T) {
	r := NewRegistry()
	if r.Lookup("missing") != nil {
		t.Error("Lookup on empty registry should return nil")
	}

	p1 := r.start("sha256new=one")
	p2 := r.start("sha256new=two")

	if r.Lookup("sha256new=one") != p1 {
		t.Error("Lookup did not return the started Progress for one")
	}
	if r.Lookup("sha256new=two") != p2 {
		t.Error("Lookup did not return the started Progress for two")
	}

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List() = %v, want 2 entries", names)
	}
}
