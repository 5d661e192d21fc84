// fetchctl drives a fetch.Fetcher from a JSON descriptor file naming the
// implementations to retrieve, standing in for the out-of-scope feed
// parser and CLI front-end. Reads the descriptor with
// github.com/antonholmquist/jason, the way bclientapi/bendoapi.go reads
// bendo's JSON API responses.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/antonholmquist/jason"

	"github.com/ndlib/zeroinstall-store/fetch"
	"github.com/ndlib/zeroinstall-store/manifest"
	"github.com/ndlib/zeroinstall-store/scheduler"
	"github.com/ndlib/zeroinstall-store/store"
)

var (
	storeDir        = flag.String("s", ".", "location of the storage directory")
	tempDir         = flag.String("tmp", os.TempDir(), "scratch directory for in-flight downloads")
	maxSimultaneous = flag.Int("j", scheduler.DefaultMaxSimultaneous, "maximum simultaneous downloads")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: fetchctl [flags] <descriptor.json>")
		os.Exit(1)
	}

	req, err := loadDescriptor(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetchctl:", err)
		os.Exit(1)
	}

	ds, err := store.NewDirectoryStore(*storeDir, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fetchctl:", err)
		os.Exit(1)
	}
	sched := scheduler.New(*maxSimultaneous, nil)
	f := fetch.NewFetcher(ds, sched, *tempDir)

	errs := f.Fetch(req)
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, "fetchctl:", e)
	}
	if len(errs) > 0 {
		os.Exit(1)
	}
}

// loadDescriptor reads a FetchRequest out of a JSON file shaped as:
//
//	{"implementations": [
//	  {"digest": "sha256new=...",
//	   "archives": [{"url": "...", "mime_type": "...", "size": N}],
//	   "recipes": [{"archives": [...]}]}
//	]}
func loadDescriptor(path string) (fetch.FetchRequest, error) {
	file, err := os.Open(path)
	if err != nil {
		return fetch.FetchRequest{}, err
	}
	defer file.Close()

	root, err := jason.NewObjectFromReader(file)
	if err != nil {
		return fetch.FetchRequest{}, err
	}
	implObjs, err := root.GetObjectArray("implementations")
	if err != nil {
		return fetch.FetchRequest{}, err
	}

	var req fetch.FetchRequest
	for _, implObj := range implObjs {
		impl, err := parseImplementation(implObj)
		if err != nil {
			return req, err
		}
		req.Implementations = append(req.Implementations, impl)
	}
	return req, nil
}

func parseImplementation(o *jason.Object) (fetch.Implementation, error) {
	digestStr, err := o.GetString("digest")
	if err != nil {
		return fetch.Implementation{}, err
	}
	digest, err := manifest.NewDigest(digestStr)
	if err != nil {
		return fetch.Implementation{}, err
	}
	impl := fetch.Implementation{Digest: digest}

	if archiveObjs, aerr := o.GetObjectArray("archives"); aerr == nil {
		for _, ao := range archiveObjs {
			a, err := parseArchive(ao)
			if err != nil {
				return impl, err
			}
			impl.Archives = append(impl.Archives, a)
		}
	}
	if recipeObjs, rerr := o.GetObjectArray("recipes"); rerr == nil {
		for _, ro := range recipeObjs {
			archiveObjs, err := ro.GetObjectArray("archives")
			if err != nil {
				return impl, err
			}
			var recipe fetch.Recipe
			for _, ao := range archiveObjs {
				a, err := parseArchive(ao)
				if err != nil {
					return impl, err
				}
				recipe = append(recipe, a)
			}
			impl.Recipes = append(impl.Recipes, recipe)
		}
	}
	return impl, nil
}

func parseArchive(o *jason.Object) (fetch.Archive, error) {
	url, err := o.GetString("url")
	if err != nil {
		return fetch.Archive{}, err
	}
	mimeType, _ := o.GetString("mime_type")
	size, _ := o.GetInt64("size")
	startOffset, _ := o.GetInt64("start_offset")
	subDir, _ := o.GetString("sub_dir")
	return fetch.Archive{
		URL:         url,
		MIMEType:    mimeType,
		Size:        size,
		StartOffset: startOffset,
		SubDir:      subDir,
	}, nil
}
