package repository

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/reshetovitsme/wikiscan/internal/shared/fsutil"
	"github.com/samber/oops"
)

var emptyDocument = []byte("[]")

// FileStorage implements flag.Repository as a single JSON document that is
// rewritten on every append
type FileStorage struct {
	path string
	mu   sync.RWMutex
}

// NewFileStorage creates a flagged changes log backed by path
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) Path() string {
	return s.path
}

// Init creates the log if needed and writes an empty list into an empty file.
// Existing content is never overwritten.
func (s *FileStorage) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return oops.In("flaglog").With("path", s.path, "context", "failed to create log directory").Wrap(err)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return oops.In("flaglog").With("path", s.path, "context", "failed to open flagged changes log").Wrap(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return oops.In("flaglog").With("path", s.path).Wrap(err)
	}
	if info.Size() > 0 {
		return nil
	}

	if _, err := f.Write(emptyDocument); err != nil {
		return oops.In("flaglog").With("path", s.path, "context", "failed to initialize flagged changes log").Wrap(err)
	}
	return f.Sync()
}

// Read loads every entry. A missing or empty log is an empty list; content
// that does not parse as a list of entries is reported as ErrStoreCorrupt.
func (s *FileStorage) Read() ([]domain.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readLocked()
}

func (s *FileStorage) readLocked() ([]domain.Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []domain.Entry{}, nil
		}
		return nil, oops.In("flaglog").With("path", s.path, "context", "failed to read flagged changes log").Wrap(err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []domain.Entry{}, nil
	}

	var entries []domain.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, oops.In("flaglog").
			Code(errors.CodeStoreCorrupt).
			With("path", s.path, "cause", err.Error()).
			Wrap(errors.ErrStoreCorrupt)
	}
	// "null" decodes without error but is not a list
	if entries == nil {
		return nil, oops.In("flaglog").
			Code(errors.CodeStoreCorrupt).
			With("path", s.path, "cause", "document is not a list").
			Wrap(errors.ErrStoreCorrupt)
	}

	return entries, nil
}

// Append adds one entry to the end of the log. On ErrStoreCorrupt the file
// is left untouched; the caller decides whether to Reset.
func (s *FileStorage) Append(entry domain.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readLocked()
	if err != nil {
		return err
	}

	return s.writeLocked(append(entries, entry))
}

// Reset replaces the log with an empty list
func (s *FileStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeDocumentLocked(emptyDocument)
}

func (s *FileStorage) writeLocked(entries []domain.Entry) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return oops.In("flaglog").With("path", s.path, "entries", len(entries), "context", "failed to marshal flagged changes").Wrap(err)
	}

	return s.writeDocumentLocked(data)
}

func (s *FileStorage) writeDocumentLocked(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return oops.In("flaglog").With("path", s.path, "context", "failed to create log directory").Wrap(err)
	}
	if err := fsutil.AtomicWrite(s.path, data, 0644); err != nil {
		return oops.In("flaglog").With("path", s.path, "context", "failed to write flagged changes log").Wrap(err)
	}
	return nil
}
