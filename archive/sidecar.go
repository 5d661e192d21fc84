package archive

import (
	"bufio"
	"os"
	"path/filepath"
)

// appendSidecar records paths (already slash-rooted, relative to the
// extraction destination) into a newline-separated sidecar file such as
// .xbit or .symlink, so the manifest engine's non-Unix fallback path
// (spec.md §4.3 "Executable bits") can find them later. Writing this
// unconditionally, even on platforms with native exec bits, is harmless:
// the manifest engine only consults the sidecar when it has no native
// bits of its own to trust.
func appendSidecar(destination, name string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(destination, name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, p := range paths {
		w.WriteString(p)
		w.WriteByte('\n')
	}
	return w.Flush()
}
