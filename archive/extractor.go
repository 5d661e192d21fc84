// Package archive streams the content of a downloaded archive file onto
// disk, preserving modification times, executable bits, and symlinks
// (spec.md §4.3). It is polymorphic over archive MIME type: each
// supported type registers a constructor with create_extractor's
// factory, the way items/zip.go wrapped archive/zip for one MIME type
// in the teacher and left room for others.
package archive

import (
	"io"

	"github.com/pkg/errors"
)

// ErrUnsupportedType is returned by New when no Extractor is registered
// for the requested MIME type.
var ErrUnsupportedType = errors.New("archive: unsupported archive MIME type")

// Source is what an Extractor reads its archive bytes from. Archive
// formats with a trailing central directory (zip) need random access,
// so this is a ReaderAt rather than a plain Reader; a downloaded archive
// is normally an *os.File, which satisfies this directly.
type Source interface {
	io.ReaderAt
	io.Closer
}

// Extractor streams one archive's entries onto disk. Run does the
// actual extraction; SetSubDir configures it beforehand and must not be
// called after Run starts.
type Extractor interface {
	// SetSubDir restricts extraction to entries whose archive path
	// begins with prefix, rerooting them at the destination (the
	// prefix is stripped). An empty prefix extracts everything.
	SetSubDir(prefix string)

	// Run extracts every selected entry of src into destination,
	// which must already exist. size is the total byte length of src.
	// Run closes src before returning, regardless of outcome
	// (spec.md §4.3 "Failure").
	Run(src Source, size int64, destination string) error
}

// constructor builds a fresh Extractor for one archive MIME type.
// startOffset bytes of src are skipped before archive parsing begins
// (spec.md §4.3 "Start-offset semantics"); the constructor only records
// the offset, and the returned Extractor's Run does the skip before
// handing the remainder to its format-specific reader.
type constructor func(startOffset int64) Extractor

var registry = map[string]constructor{
	"application/zip": func(startOffset int64) Extractor {
		return &zipExtractor{startOffset: startOffset}
	},
	"application/x-tar+gzip": func(startOffset int64) Extractor {
		return &targzExtractor{startOffset: startOffset}
	},
	"application/gzip": func(startOffset int64) Extractor {
		return &targzExtractor{startOffset: startOffset}
	},
}

// New is create_extractor: it returns the Extractor registered for
// mimeType, or ErrUnsupportedType.
func New(mimeType string, startOffset int64) (Extractor, error) {
	ctor, ok := registry[mimeType]
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedType, mimeType)
	}
	return ctor(startOffset), nil
}
