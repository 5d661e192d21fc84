// Package fetch orchestrates acquiring implementations not yet present
// in a DirectoryStore: planning archive-or-recipe retrieval, driving the
// scheduler package to pull bytes, and handing the result to store.
//
// The shape follows bclientapi/bendoapi.go's Connection — a thin client
// type wrapping an http.Client and a handful of request-building
// helpers — generalized from a single remote bendo server to arbitrary
// archive URLs, and with the "upload a transaction" half dropped
// entirely since this module is fetch-only.
package fetch

import (
	"github.com/ndlib/zeroinstall-store/manifest"
)

// Archive describes one retrievable byte range: a URL to GET, its MIME
// type (used to pick an archive.Extractor), its declared size, and an
// optional leading offset of non-archive bytes to skip (spec.md §3).
type Archive struct {
	URL         string
	MIMEType    string
	Size        int64
	StartOffset int64
	SubDir      string
}

// Recipe is an ordered, non-empty list of Archives, later ones layered
// over earlier ones (spec.md §3 "later archives overlay earlier").
type Recipe []Archive

// Implementation is one thing the Fetcher may need to retrieve: its
// expected digest, plus zero or more ways to obtain it.
type Implementation struct {
	Digest    manifest.Digest
	Archives  []Archive
	Recipes   []Recipe
}

// FetchRequest is the input to Fetcher.Fetch: every implementation that
// should end up present in the store when it returns.
type FetchRequest struct {
	Implementations []Implementation
}
