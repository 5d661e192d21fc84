//go:build unix

package manifest

import "os"

// hasNativeExecBits is true on platforms where the filesystem itself
// records the executable bit and symlink-ness, so the .xbit/.symlink
// sidecars are unnecessary (spec.md §4.1).
const hasNativeExecBits = true

func nativeIsExecutable(info os.FileInfo) bool {
	return info.Mode().Perm()&0100 != 0
}

func nativeIsSymlink(info os.FileInfo) bool {
	return info.Mode()&os.ModeSymlink != 0
}
