package repository

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/samber/oops"
)

// Repository records the revision IDs of flagged changes
type Repository interface {
	Init() error
	Append(revid int64) error
}

// FileLedger appends one revision ID per line to a text file
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger creates a ledger backed by path
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

func (l *FileLedger) Path() string {
	return l.path
}

// Init creates the ledger file without truncating it
func (l *FileLedger) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return oops.In("ledger").With("path", l.path, "context", "failed to create log directory").Wrap(err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return oops.In("ledger").With("path", l.path, "context", "failed to create revision log").Wrap(err)
	}
	return f.Close()
}

func (l *FileLedger) Append(revid int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return oops.In("ledger").With("path", l.path, "revid", revid).Wrap(err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.FormatInt(revid, 10) + "\n"); err != nil {
		return oops.In("ledger").With("path", l.path, "revid", revid, "context", "failed to append revision").Wrap(err)
	}
	return nil
}
