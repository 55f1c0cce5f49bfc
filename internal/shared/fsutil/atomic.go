// Package fsutil holds the file helpers shared by the on-disk logs.
package fsutil

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// AtomicWrite writes data to a temporary file next to path, fsyncs it and
// renames it over path. Readers see either the old or the new content.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	builder := oops.In("fsutil").With("path", path)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wikiscan-tmp-*")
	if err != nil {
		return builder.With("context", "atomic write create tmp").Wrap(err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return builder.With("context", "atomic write").Wrap(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return builder.With("context", "atomic write chmod").Wrap(err)
	}
	if err := tmp.Sync(); err != nil {
		return builder.With("context", "atomic write fsync").Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return builder.With("context", "atomic write close").Wrap(err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return builder.With("context", "atomic write rename").Wrap(err)
	}
	if err := FsyncDir(dir); err != nil {
		return builder.With("context", "atomic write fsync dir").Wrap(err)
	}

	success = true
	return nil
}

// FsyncDir fsyncs a directory so a rename inside it is durable
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return oops.In("fsutil").With("dir", dirPath).Wrap(err)
	}
	defer d.Close()
	return d.Sync()
}
