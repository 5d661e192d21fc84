package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fetchd.toml")
	const doc = `
[store]
root = "/var/lib/fetchd/store"

[scheduler]
max_simultaneous = 4
resume_db = "/var/lib/fetchd/resume.ql"

[fetch]
temp_dir = "/var/lib/fetchd/tmp"
network_timeout = 30
retry_count = 3

[server]
port_number = "8080"
`
	if err := os.WriteFile(path, []byte(doc), 0664); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Store.Root != "/var/lib/fetchd/store" {
		t.Errorf("Store.Root = %q", c.Store.Root)
	}
	if c.Scheduler.MaxSimultaneous != 4 {
		t.Errorf("Scheduler.MaxSimultaneous = %d, want 4", c.Scheduler.MaxSimultaneous)
	}
	if c.Fetch.RetryCount != 3 {
		t.Errorf("Fetch.RetryCount = %d, want 3", c.Fetch.RetryCount)
	}
	if c.Server.PortNumber != "8080" {
		t.Errorf("Server.PortNumber = %q", c.Server.PortNumber)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error loading a nonexistent config file")
	}
}
