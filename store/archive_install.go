package store

import (
	"os"

	"github.com/pkg/errors"

	"github.com/ndlib/zeroinstall-store/archive"
	"github.com/ndlib/zeroinstall-store/manifest"
)

// ArchiveInfo is the minimal description of a downloaded archive that
// AddArchive / AddMultipleArchives need: where its bytes live on disk,
// what kind they are, and how the Extractor should be configured.
type ArchiveInfo struct {
	Path        string // local path to the already-downloaded archive file
	MIMEType    string
	StartOffset int64
	SubDir      string // optional; "" extracts everything
}

// AddArchive extracts info into a fresh temporary staging sub-directory
// using the archive.Extractor registered for info.MIMEType, then
// verify-and-installs the result under expected.
func (ds *DirectoryStore) AddArchive(info ArchiveInfo, expected manifest.Digest, progress ProgressFunc) error {
	staging, err := ds.newStagingDir()
	if err != nil {
		return err
	}
	if err := extractOne(info, staging); err != nil {
		os.RemoveAll(staging)
		return err
	}
	return ds.verifyAndInstall(staging, expected, progress)
}

// AddMultipleArchives extracts each of infos in order over the same
// staging directory ("overlay" semantics: later archives may create,
// overwrite, or add files beside earlier ones), then verify-and-installs
// the composed result under expected.
func (ds *DirectoryStore) AddMultipleArchives(infos []ArchiveInfo, expected manifest.Digest, progress ProgressFunc) error {
	staging, err := ds.newStagingDir()
	if err != nil {
		return err
	}
	for _, info := range infos {
		report(progress, "extracting "+info.Path)
		if err := extractOne(info, staging); err != nil {
			os.RemoveAll(staging)
			return err
		}
	}
	return ds.verifyAndInstall(staging, expected, progress)
}

func extractOne(info ArchiveInfo, staging string) error {
	f, err := os.Open(info.Path)
	if err != nil {
		return errors.Wrapf(err, "store: opening archive %s", info.Path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "store: stat archive %s", info.Path)
	}

	ex, err := archive.New(info.MIMEType, info.StartOffset)
	if err != nil {
		f.Close()
		return err
	}
	if info.SubDir != "" {
		ex.SetSubDir(info.SubDir)
	}
	// ex.Run takes ownership of f and closes it, even on error.
	return ex.Run(f, fi.Size(), staging)
}
