package manifest

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/zeroinstall-store/util"
)

// Generate walks root and produces its canonical Manifest under format f.
//
// Ordering follows spec.md §4.1 exactly: within a directory, every
// non-directory entry (files, executables, symlinks) is emitted first,
// sorted byte-wise by name; then a "D <path>" line is emitted for every
// subdirectory of that directory, also sorted; only after that does the
// walk recurse into each subdirectory, in the same sorted order. This is
// not a naive single-pass depth-first walk: a directory's own D line (if
// any) is announced by its *parent*, not by itself, so a populated root
// never announces itself. The one exception is an entirely empty root,
// which has no parent to announce it; Generate then emits a single
// synthetic "D /" node so the manifest is not zero bytes (spec.md §8); a
// root holding nothing but sidecars or a persisted .manifest gets the
// same node.
//
// The .xbit/.symlink sidecars and a ".manifest" file directly under root
// (the copy a DirectoryStore persists at install time) are never listed,
// so regenerating the manifest of an installed implementation reproduces
// the digest it was installed under.
func Generate(root string, f Format) (*Manifest, error) {
	entries, err := readDirSorted(root)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest: reading %s", root)
	}
	if len(entries) == 0 {
		return &Manifest{Format: f, Nodes: []Node{{Kind: KindDir, FullPath: "/"}}}, nil
	}

	xbits, err := loadSidecar(root, XbitName)
	if err != nil {
		return nil, err
	}
	symlinks, err := loadSidecar(root, SymlinkName)
	if err != nil {
		return nil, err
	}

	nodes, err := appendDir(nil, root, "", f, xbits, symlinks)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		nodes = []Node{{Kind: KindDir, FullPath: "/"}}
	}
	return &Manifest{Format: f, Nodes: nodes}, nil
}

// appendDir appends the nodes for one directory level (dirPath on disk,
// relPrefix the slash-rooted path of dirPath relative to the manifest
// root, "" for the root itself) and then recurses into its subdirectories,
// in the files-then-dir-markers-then-recurse order described on Generate.
func appendDir(nodes []Node, dirPath, relPrefix string, f Format, xbits, symlinks sidecarSet) ([]Node, error) {
	entries, err := readDirSorted(dirPath)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest: reading %s", dirPath)
	}

	var subdirs []os.DirEntry
	for _, entry := range entries {
		if entry.Name() == XbitName || entry.Name() == SymlinkName {
			continue
		}
		if relPrefix == "" && entry.Name() == ".manifest" {
			continue
		}
		if entry.IsDir() {
			subdirs = append(subdirs, entry)
			continue
		}
		n, err := nodeFor(dirPath, relPrefix, entry, f, xbits, symlinks)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}

	for _, sub := range subdirs {
		info, err := sub.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "manifest: stat %s", sub.Name())
		}
		nodes = append(nodes, Node{
			Kind:     KindDir,
			FullPath: relPrefix + "/" + sub.Name(),
			ModTime:  info.ModTime().Unix(),
		})
	}

	for _, sub := range subdirs {
		subRel := relPrefix + "/" + sub.Name()
		nodes, err = appendDir(nodes, filepath.Join(dirPath, sub.Name()), subRel, f, xbits, symlinks)
		if err != nil {
			return nil, err
		}
	}

	return nodes, nil
}

// nodeFor builds the Node for one non-directory entry, hashing its
// content (or, for a symlink, its target string) under f and classifying
// it as a plain file, an executable, or a symlink using native filesystem
// bits where available and the .xbit/.symlink sidecars otherwise.
func nodeFor(dirPath, relPrefix string, entry os.DirEntry, f Format, xbits, symlinks sidecarSet) (Node, error) {
	info, err := entry.Info()
	if err != nil {
		return Node{}, errors.Wrapf(err, "manifest: stat %s", entry.Name())
	}
	slashPath := relPrefix + "/" + entry.Name()

	isSymlink := info.Mode()&os.ModeSymlink != 0
	if hasNativeExecBits {
		isSymlink = isSymlink || nativeIsSymlink(info)
	} else {
		isSymlink = isSymlink || symlinks[slashPath]
	}
	if isSymlink {
		return symlinkNode(dirPath, entry.Name(), f)
	}

	isExec := false
	if hasNativeExecBits {
		isExec = nativeIsExecutable(info)
	} else {
		isExec = xbits[slashPath]
	}

	full := filepath.Join(dirPath, entry.Name())
	fh, err := os.Open(full)
	if err != nil {
		return Node{}, errors.Wrapf(err, "manifest: opening %s", full)
	}
	defer fh.Close()

	sum, size, err := hashUnder(f, fh)
	if err != nil {
		return Node{}, errors.Wrapf(err, "manifest: hashing %s", full)
	}

	kind := KindFile
	if isExec {
		kind = KindExecutable
	}
	return Node{
		Kind:    kind,
		Hash:    sum,
		Size:    size,
		Name:    entry.Name(),
		ModTime: info.ModTime().Unix(),
	}, nil
}

// symlinkNode hashes exactly the UTF-8 bytes of the link's target string,
// with no terminator (spec.md §9's resolution of the symlink-hashing
// Open Question).
func symlinkNode(dirPath, name string, f Format) (Node, error) {
	full := filepath.Join(dirPath, name)
	target, err := os.Readlink(full)
	if err != nil {
		return Node{}, errors.Wrapf(err, "manifest: reading symlink %s", full)
	}
	sum, size, err := hashUnder(f, strings.NewReader(target))
	if err != nil {
		return Node{}, err
	}
	return Node{
		Kind: KindSymlink,
		Hash: sum,
		Size: size,
		Name: name,
	}, nil
}

// hashUnder streams r through f's hash function and returns the
// hex-encoded sum (manifest content hashes are always hex, regardless of
// whether f's digest string itself uses hex or base32) plus the byte
// count read.
func hashUnder(f Format, r io.Reader) (sum string, size int64, err error) {
	hw := util.NewManifestHasher()
	size, err = io.Copy(hw, r)
	if err != nil {
		return "", 0, err
	}
	switch {
	case f == FormatSha1 || f == FormatSha1New:
		sum = hex.EncodeToString(hw.Sum1())
	case f == FormatSha256 || f == FormatSha256New:
		sum = hex.EncodeToString(hw.Sum256())
	default:
		return "", 0, errors.Errorf("manifest: format %v has no hash function", f)
	}
	return sum, size, nil
}

// readDirSorted reads a directory's entries and sorts them byte-wise by
// name (spec.md §4.1).
func readDirSorted(dirPath string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}
