package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	flagDomain "github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/samber/oops"
)

// Repository stores the full context of a match
type Repository interface {
	Init() error
	Archive(dayKey, filename, content string) (flagDomain.Location, error)
}

// FileArchiver writes one file per match into a directory per calendar day
type FileArchiver struct {
	root string
}

// NewFileArchiver creates an archiver rooted at root
func NewFileArchiver(root string) *FileArchiver {
	return &FileArchiver{root: root}
}

func (a *FileArchiver) Root() string {
	return a.root
}

// Init creates the archive root
func (a *FileArchiver) Init() error {
	if err := os.MkdirAll(a.root, 0755); err != nil {
		return oops.In("archive").With("root", a.root, "context", "failed to create archive directory").Wrap(err)
	}
	return nil
}

// Archive writes content to root/dayKey/filename. An existing file is never
// overwritten; ErrArchiveExists is returned instead. dayKey and filename
// must be single path elements so nothing is written outside root.
func (a *FileArchiver) Archive(dayKey, filename, content string) (flagDomain.Location, error) {
	for _, elem := range []string{dayKey, filename} {
		if !isPlainName(elem) {
			return flagDomain.Location{}, oops.In("archive").
				With("root", a.root, "day", dayKey, "file", filename).
				Wrap(errors.ErrInvalidArchivePath)
		}
	}

	folder := filepath.Join(a.root, dayKey)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return flagDomain.Location{}, oops.In("archive").With("folder", folder, "context", "failed to create day directory").Wrap(err)
	}

	path := filepath.Join(folder, filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return flagDomain.Location{}, oops.In("archive").
				Code(errors.CodeArchiveExists).
				With("path", path).
				Wrap(errors.ErrArchiveExists)
		}
		return flagDomain.Location{}, oops.In("archive").With("path", path, "context", "failed to create archive file").Wrap(err)
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return flagDomain.Location{}, oops.In("archive").With("path", path, "context", "failed to write archive file").Wrap(err)
	}
	if err := f.Sync(); err != nil {
		return flagDomain.Location{}, oops.In("archive").With("path", path).Wrap(err)
	}

	return flagDomain.Location{Folder: folder, File: filename}, nil
}

var filenameReplacer = strings.NewReplacer(":", "-", "/", "-", "\\", "-")

// FileName derives the archive file name {user}_{revision} of a change
func FileName(c *changeDomain.Change) string {
	return filenameReplacer.Replace(fmt.Sprintf("%s_%d", c.User, c.NewRevision()))
}

func isPlainName(elem string) bool {
	return elem != "" && elem != "." && elem != ".." && !strings.ContainsAny(elem, `/\`)
}
