// Package config loads the TOML configuration a fetch daemon is started
// with. It plays the role server.RESTServer's exported fields play for
// the teacher: the one place every other package's tunables come from,
// except here they arrive from a file rather than command-line flags,
// since a standalone fetch daemon has more knobs than fit comfortably on
// a command line.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// StoreConfig configures the on-disk DirectoryStore.
type StoreConfig struct {
	Root     string `toml:"root"` // directory holding installed implementations
	ReadOnly bool   `toml:"read_only"`
}

// SchedulerConfig configures the Download Scheduler (spec.md §4.4).
type SchedulerConfig struct {
	MaxSimultaneous int    `toml:"max_simultaneous"` // concurrency cap; 0 uses scheduler.DefaultMaxSimultaneous
	RateLimitBytes  int64  `toml:"rate_limit_bytes"` // optional bandwidth cap, 0 means unlimited
	ResumeDB        string `toml:"resume_db"`        // dial string or file path for resume-offset persistence
	MySQL           string `toml:"mysql"`            // if set, ResumeDB is ignored and MySQL is dialed instead
}

// FetchConfig configures the Fetcher (spec.md §4.5).
type FetchConfig struct {
	TempDir          string `toml:"temp_dir"`
	NetworkTimeout   int    `toml:"network_timeout"` // seconds
	RetryCount       int    `toml:"retry_count"`
	SmallArchiveSize int64  `toml:"small_archive_size"` // bytes; not read by fetch, which always uses its built-in 64 MiB threshold
}

// ServerConfig configures the read-only status HTTP surface (SPEC_FULL §2A).
type ServerConfig struct {
	PortNumber string `toml:"port_number"`
	PProfPort  string `toml:"pprof_port"`
}

// Config is the top-level TOML document a fetch daemon is started with.
type Config struct {
	Store     StoreConfig
	Scheduler SchedulerConfig
	Fetch     FetchConfig
	Server    ServerConfig
}

// Load decodes the TOML file at path into a Config.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, errors.Wrapf(err, "config: loading %s", path)
	}
	return &c, nil
}
