package manifest

import (
	"bufio"
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
)

// XbitName and SymlinkName are the sidecar file names at the root of an
// implementation directory, each a newline-separated list of slash-rooted
// paths (spec.md §6).
const (
	XbitName    = ".xbit"
	SymlinkName = ".symlink"
)

// sidecarSet is the parsed contents of a .xbit or .symlink file: the set
// of slash-rooted paths it lists.
type sidecarSet map[string]bool

// loadSidecar reads the sidecar file named by relName at the root dir, if
// it exists. A missing file is not an error; it just yields an empty set.
func loadSidecar(root, relName string) (sidecarSet, error) {
	f, err := os.Open(path.Join(root, relName))
	if err != nil {
		if os.IsNotExist(err) {
			return sidecarSet{}, nil
		}
		return nil, errors.Wrapf(err, "manifest: reading %s", relName)
	}
	defer f.Close()

	set := sidecarSet{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		set[line] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "manifest: reading %s", relName)
	}
	return set, nil
}
