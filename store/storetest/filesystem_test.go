package storetest

import (
	"testing"

	"github.com/ndlib/zeroinstall-store/store"
)

// TestFileSystemStress exercises store.FileSystem, the module's only
// writable Store backend, through the shared contract suite. S3 is
// read-only in this module (store.S3 implements only ROStore) so it
// cannot be stressed here the way the teacher's S3 store once was.
func TestFileSystemStress(t *testing.T) {
	s := store.NewFileSystem(t.TempDir())
	Stress(t, s, 20*1000*1000)
}
