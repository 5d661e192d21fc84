//go:build !unix

package manifest

import "os"

// hasNativeExecBits is false here: this platform has no reliable notion of
// a Unix execute bit or native symlink, so the .xbit/.symlink sidecars
// carry that information instead (spec.md §4.1).
const hasNativeExecBits = false

func nativeIsExecutable(info os.FileInfo) bool {
	return false
}

func nativeIsSymlink(info os.FileInfo) bool {
	return false
}
