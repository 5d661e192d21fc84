// storeutil inspects and manipulates a DirectoryStore directly from the
// command line, grounded on cmd/butil's structure: a single store root
// flag, then a sub-command and its arguments.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ndlib/zeroinstall-store/manifest"
	"github.com/ndlib/zeroinstall-store/store"
)

var (
	storeDir = flag.String("s", ".", "location of the storage directory")
	readOnly = flag.Bool("ro", false, "open the store read-only")
	usage    = `
storeutil <command> <command arguments>

Possible commands:
    list                 list every installed digest
    contains <digest>    report whether digest is installed
    verify               verify every installed digest against its manifest (arguments are ignored)
    remove <digest>      remove an installed digest
    optimise             hard-link duplicate content across installed digests
`
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Print(usage)
		return
	}

	ds, err := store.NewDirectoryStore(*storeDir, *readOnly)
	if err != nil {
		fmt.Fprintln(os.Stderr, "storeutil:", err)
		os.Exit(1)
	}

	switch args[0] {
	case "list":
		dolist(ds)
	case "contains":
		docontains(ds, args[1:])
	case "verify":
		doverify(ds, args[1:])
	case "remove":
		doremove(ds, args[1:])
	case "optimise":
		dooptimise(ds)
	default:
		fmt.Fprintln(os.Stderr, "storeutil: unknown command", args[0])
		fmt.Print(usage)
		os.Exit(1)
	}
}

func dolist(ds *store.DirectoryStore) {
	names, err := ds.ListAll()
	if err != nil {
		fmt.Fprintln(os.Stderr, "storeutil:", err)
		os.Exit(1)
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func docontains(ds *store.DirectoryStore, args []string) {
	for _, s := range args {
		d, err := manifest.NewDigest(s)
		if err != nil {
			fmt.Printf("%s: %s\n", s, err)
			continue
		}
		fmt.Printf("%s: %v\n", s, ds.Contains(d))
	}
}

func doverify(ds *store.DirectoryStore, args []string) {
	bad, err := ds.Verify(func(msg string) { fmt.Println(msg) })
	if err != nil {
		fmt.Fprintln(os.Stderr, "storeutil:", err)
		os.Exit(1)
	}
	if len(bad) == 0 {
		fmt.Println("all installed digests verified OK")
		return
	}
	for _, name := range bad {
		fmt.Println("BAD:", name)
	}
	os.Exit(1)
}

func doremove(ds *store.DirectoryStore, args []string) {
	for _, s := range args {
		d, err := manifest.NewDigest(s)
		if err != nil {
			fmt.Printf("%s: %s\n", s, err)
			continue
		}
		if err := ds.Remove(d); err != nil {
			fmt.Printf("%s: %s\n", s, err)
		}
	}
}

func dooptimise(ds *store.DirectoryStore) {
	if err := ds.Optimise(); err != nil {
		fmt.Fprintln(os.Stderr, "storeutil:", err)
		os.Exit(1)
	}
}
