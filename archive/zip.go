package archive

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// zipExtractor extracts application/zip archives. Generalized from
// items/zip.go's OpenBundle (which opened a single named stream out of
// a zip-as-bundle file) into "extract every selected entry to disk."
type zipExtractor struct {
	startOffset int64
	subDir      string
}

func (z *zipExtractor) SetSubDir(prefix string) {
	z.subDir = strings.TrimSuffix(prefix, "/")
}

func (z *zipExtractor) Run(src Source, size int64, destination string) error {
	defer src.Close()

	section := io.NewSectionReader(src, z.startOffset, size-z.startOffset)
	r, err := zip.NewReader(section, size-z.startOffset)
	if err != nil {
		return errors.Wrap(err, "archive: opening zip")
	}

	var xbitPaths, symlinkPaths []string
	for _, f := range r.File {
		slashPath, isExec, isSymlink, err := z.extractEntry(f, destination)
		if err != nil {
			return errors.Wrapf(err, "archive: extracting %s", f.Name)
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
	if err := appendSidecar(destination, ".symlink", symlinkPaths); err != nil {
		return errors.Wrap(err, "archive: writing .symlink sidecar")
	}
	return nil
}

// extractEntry writes one zip entry to disk and reports its final
// slash-rooted path (relative to destination, after sub_dir rerooting)
// along with whether it is executable or a symlink.
func (z *zipExtractor) extractEntry(f *zip.File, destination string) (slashPath string, isExec, isSymlink bool, err error) {
	entryPath := f.Name
	if z.subDir != "" {
		prefix := z.subDir + "/"
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

	mode := f.Mode()
	if mode&os.ModeSymlink != 0 {
		err = z.extractSymlink(f, target)
		return entryPath, false, true, err
	}
	if strings.HasSuffix(f.Name, "/") {
		return entryPath, false, false, os.MkdirAll(target, 0775)
	}

	if err = os.MkdirAll(filepath.Dir(target), 0775); err != nil {
		return entryPath, false, false, err
	}
	rc, err := f.Open()
	if err != nil {
		return entryPath, false, false, err
	}
	defer rc.Close()

	isExec = mode&0100 != 0
	perm := os.FileMode(0664)
	if isExec {
		perm = 0775
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return entryPath, isExec, false, err
	}
	_, err = io.Copy(out, rc)
	closeErr := out.Close()
	if err != nil {
		return entryPath, isExec, false, err
	}
	if closeErr != nil {
		return entryPath, isExec, false, closeErr
	}
	return entryPath, isExec, false, os.Chtimes(target, f.Modified, f.Modified)
}

func (z *zipExtractor) extractSymlink(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	buf := make([]byte, f.UncompressedSize64)
	if _, err := io.ReadFull(rc, buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0775); err != nil {
		return err
	}
	os.Remove(target)
	return os.Symlink(string(buf), target)
}
