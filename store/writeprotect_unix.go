//go:build unix

package store

import (
	"os"
	"path/filepath"
)

// writeProtect makes every file under dir read-only and every directory
// read+execute-only, recursively (spec.md §4.2 step 6). Unix has no
// separate ACL-deny concept to reach for here, so a chmod sweep is the
// whole of it.
func writeProtect(dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Chmod(p, 0555)
		}
		return os.Chmod(p, 0444)
	})
}

// removeWriteProtect reverses writeProtect so the tree can be renamed
// away and deleted.
func removeWriteProtect(dir string) error {
	return filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.Chmod(p, 0755)
		}
		return os.Chmod(p, 0644)
	})
}
