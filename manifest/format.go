// Package manifest implements the canonical, byte-exact serialization of a
// directory tree used to identify an implementation: the same tree, walked
// and hashed under the same format, always produces the same bytes, and the
// hash of those bytes is the implementation's digest.
//
// All four format variants can be generated, serialized and parsed. The
// package name deliberately avoids "bagit" or any other
// teacher-specific term: this is a different, simpler, single-file wire
// format, not BagIt.
package manifest

import (
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// Format identifies one of the four supported manifest serializations. Each
// knows its hash function, its digest-string prefix, and whether its
// directory lines carry an mtime.
type Format int

const (
	// FormatUnknown is the zero Format; never valid on a Manifest.
	FormatUnknown Format = iota
	FormatSha1
	FormatSha1New
	FormatSha256
	FormatSha256New
)

// Prefix returns the algorithm identifier used in digest strings
// ("sha1", "sha1new", "sha256", "sha256new") and as this format's name.
func (f Format) Prefix() string {
	switch f {
	case FormatSha1:
		return "sha1"
	case FormatSha1New:
		return "sha1new"
	case FormatSha256:
		return "sha256"
	case FormatSha256New:
		return "sha256new"
	default:
		return ""
	}
}

// FormatByPrefix returns the Format named by prefix, or FormatUnknown if
// prefix does not name one of the four supported variants.
func FormatByPrefix(prefix string) Format {
	switch prefix {
	case "sha1":
		return FormatSha1
	case "sha1new":
		return FormatSha1New
	case "sha256":
		return FormatSha256
	case "sha256new":
		return FormatSha256New
	default:
		return FormatUnknown
	}
}

// IsNew reports whether this is one of the "new" format variants, whose
// directory lines omit the mtime (spec.md §4.1).
func (f Format) IsNew() bool {
	return f == FormatSha1New || f == FormatSha256New
}

// newHash returns a fresh hash.Hash for this format's algorithm.
func (f Format) newHash() hash.Hash {
	switch f {
	case FormatSha1, FormatSha1New:
		return sha1.New()
	case FormatSha256, FormatSha256New:
		return sha256.New()
	default:
		return nil
	}
}

// rank orders formats from weakest to strongest, the same preference
// order allFormats encodes (sha256new > sha256 > sha1new > sha1). Best
// walks allFormats rather than calling rank.
func (f Format) rank() int {
	switch f {
	case FormatSha1:
		return 0
	case FormatSha1New:
		return 1
	case FormatSha256:
		return 2
	case FormatSha256New:
		return 3
	default:
		return -1
	}
}

// allFormats lists every supported variant, strongest first, used when
// picking the "best" populated algorithm out of a Digest.
var allFormats = []Format{FormatSha256New, FormatSha256, FormatSha1New, FormatSha1}
