package manifest

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Digest is a mapping from algorithm identifier to the encoded digest
// string for that algorithm (spec.md §3's ManifestDigest). At least one
// algorithm must be populated for a Digest to be usable.
type Digest map[Format]string

// NewDigest builds a Digest from a "<prefix>=<encoded>" string, the form
// used both as a store directory name and inside a feed's implementation
// description.
func NewDigest(s string) (Digest, error) {
	prefix, encoded, ok := strings.Cut(s, "=")
	if !ok {
		return nil, errors.Errorf("manifest: %q is not a digest string (missing '=')", s)
	}
	f := FormatByPrefix(prefix)
	if f == FormatUnknown {
		return nil, errors.Errorf("manifest: %q names an unknown digest algorithm", prefix)
	}
	if encoded == "" {
		return nil, errors.Errorf("manifest: %q has an empty digest value", s)
	}
	return Digest{f: encoded}, nil
}

// Best returns the strongest populated algorithm in d and its digest
// string, preferring sha256new > sha256 > sha1new > sha1 per spec.md §3.
// ok is false if d is empty.
func (d Digest) Best() (f Format, digestString string, ok bool) {
	for _, cand := range allFormats {
		if s, present := d[cand]; present {
			return cand, s, true
		}
	}
	return FormatUnknown, "", false
}

// String renders the best-known entry as "<prefix>=<encoded>", the form
// used as the store directory name.
func (d Digest) String() string {
	f, s, ok := d.Best()
	if !ok {
		return ""
	}
	return f.Prefix() + "=" + s
}

// Empty reports whether no algorithm is populated.
func (d Digest) Empty() bool {
	return len(d) == 0
}

// Equal reports whether d and other agree on every algorithm they both
// have an opinion about. Two implementations named by digests computed
// under different algorithm sets are still the "same" implementation if
// the algorithms they share agree.
func (d Digest) Equal(other Digest) bool {
	agree := false
	for f, s := range d {
		if os, ok := other[f]; ok {
			if s != os {
				return false
			}
			agree = true
		}
	}
	return agree
}

// Merge returns a new Digest containing the union of d and other's
// entries. Used when a recomputed single-format Digest is folded back
// into an Implementation's full multi-algorithm Digest.
func (d Digest) Merge(other Digest) Digest {
	out := make(Digest, len(d)+len(other))
	for f, s := range d {
		out[f] = s
	}
	for f, s := range other {
		out[f] = s
	}
	return out
}

// Kind discriminates the variants of ManifestNode (spec.md §3).
type Kind int

const (
	KindFile Kind = iota
	KindExecutable
	KindSymlink
	KindDir
)

// Node is one line's worth of manifest content: a file, executable,
// symlink, or directory entry. Regular/executable files and symlinks
// carry a Name (their basename within their parent directory);
// directories carry a slash-rooted FullPath instead.
type Node struct {
	Kind Kind

	// File, Executable, Symlink
	Hash string // hex-encoded content hash under the manifest's Format
	Size int64
	Name string // no '/' or '\n'

	// File, Executable only
	ModTime int64 // seconds since epoch

	// Dir only (and, for the legacy old format, carries ModTime too)
	FullPath string
}

// sortKey is the byte-wise sort key used at each directory level
// (spec.md §4.1: "sort entries by name using byte-wise (C locale) ordering").
func (n Node) sortKey() string {
	if n.Kind == KindDir {
		return n.FullPath
	}
	return n.Name
}

// SortNodes sorts a slice of sibling Nodes by their byte-wise name, in
// place. Exported so archive extractors and tests can confirm ordering
// independently of the Generate traversal.
func SortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].sortKey() < nodes[j].sortKey()
	})
}

// Manifest is the canonical, ordered serialization of a directory tree
// under one Format. Its ordering is part of the digest's definition:
// two Manifests with the same nodes in different orders hash differently.
type Manifest struct {
	Format Format
	Nodes  []Node
}

// Digest computes this manifest's digest string, i.e. hashes its
// serialized bytes under its own Format and encodes the result.
func (m *Manifest) Digest() (string, error) {
	b, err := m.Serialize()
	if err != nil {
		return "", err
	}
	h := m.Format.newHash()
	if h == nil {
		return "", errors.Errorf("manifest: format %v has no hash function", m.Format)
	}
	h.Write(b)
	return m.Format.Prefix() + "=" + encodeDigest(m.Format, h.Sum(nil)), nil
}
