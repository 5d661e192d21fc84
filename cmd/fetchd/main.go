// fetchd is the long-running status daemon: it loads a TOML config,
// opens the implementation store and a resume database, and serves the
// read-only introspection routes in the server package. It is deliberately
// thin, the way cmd/bendo/main.go just wires server.Items and calls
// http.ListenAndServe — the real work lives in the config, store,
// scheduler, resumedb, fetch, and server packages themselves.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ndlib/zeroinstall-store/config"
	"github.com/ndlib/zeroinstall-store/fetch"
	"github.com/ndlib/zeroinstall-store/resumedb"
	"github.com/ndlib/zeroinstall-store/scheduler"
	"github.com/ndlib/zeroinstall-store/server"
	"github.com/ndlib/zeroinstall-store/store"
	"github.com/ndlib/zeroinstall-store/util"
)

var configPath = flag.String("c", "fetchd.toml", "path to the TOML configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetchd:", err)
		os.Exit(1)
	}

	ds, err := store.NewDirectoryStore(cfg.Store.Root, cfg.Store.ReadOnly)
	if err != nil {
		log.Fatalln("fetchd:", err)
	}

	var rate *util.RateCounter
	if cfg.Scheduler.RateLimitBytes > 0 {
		rate = util.NewRateCounter(float64(cfg.Scheduler.RateLimitBytes))
	}
	sched := scheduler.New(cfg.Scheduler.MaxSimultaneous, rate)
	sched.MaxRetries = cfg.Fetch.RetryCount
	sched.NetworkTimeout = time.Duration(cfg.Fetch.NetworkTimeout) * time.Second

	db, err := openResumeDB(cfg.Scheduler, cfg.Fetch.TempDir)
	if err != nil {
		log.Fatalln("fetchd:", err)
	}
	sched.ResumeDB = db
	defer db.Close()

	f := fetch.NewFetcher(ds, sched, cfg.Fetch.TempDir)

	srv := &server.Server{
		PortNumber: cfg.Server.PortNumber,
		PProfPort:  cfg.Server.PProfPort,
		Store:      ds,
		Fetcher:    f,
		Progress:   f.Progress,
	}
	log.Fatalln("fetchd:", srv.Run())
}

// openResumeDB picks a resumedb.DB backend the way server.RESTServer.Run
// picks between MySQL and its embedded ql database: MySQL first if a
// dial string is configured, then the explicit ql database file, and
// otherwise a zero-config default that keeps resume offsets as small
// JSON files under the fetch scratch directory rather than an
// in-memory database that forgets everything on restart.
func openResumeDB(cfg config.SchedulerConfig, tempDir string) (resumedb.DB, error) {
	if cfg.MySQL != "" {
		return resumedb.NewMySQL(cfg.MySQL)
	}
	if cfg.ResumeDB != "" {
		return resumedb.NewQL(cfg.ResumeDB)
	}
	fs := store.NewFileSystem(filepath.Join(tempDir, "resumedb"))
	return resumedb.NewJSON(store.NewWithPrefix(fs, "url-")), nil
}
