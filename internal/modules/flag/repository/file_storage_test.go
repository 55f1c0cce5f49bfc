package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	"github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Repository = (*FileStorage)(nil)

func entry(title string, rev int64) domain.Entry {
	return domain.Entry{
		Filter: "userboxes",
		Change: changeDomain.Change{
			Title:      title,
			User:       "Alice",
			ServerName: "en.wikipedia.org",
			Revision:   &changeDomain.Revision{New: rev},
			Meta:       changeDomain.Meta{DT: "2024-05-01T12:00:00Z"},
		},
	}
}

func newStorage(t *testing.T) *FileStorage {
	t.Helper()
	return NewFileStorage(filepath.Join(t.TempDir(), "logs", "flagged_changes.json"))
}

func TestInitCreatesEmptyList(t *testing.T) {
	s := newStorage(t)
	require.NoError(t, s.Init())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	entries, err := s.Read()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInitKeepsExistingEntries(t *testing.T) {
	s := newStorage(t)
	require.NoError(t, s.Append(entry("User:Alice", 1)))

	require.NoError(t, s.Init())

	entries, err := s.Read()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "User:Alice", entries[0].Change.Title)
}

func TestReadMissingOrBlank(t *testing.T) {
	s := newStorage(t)
	entries, err := s.Read()
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("  \n"), 0644))
	entries, err = s.Read()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendKeepsOrder(t *testing.T) {
	s := newStorage(t)
	require.NoError(t, s.Init())

	for i := range 5 {
		require.NoError(t, s.Append(entry(fmt.Sprintf("Page %d", i), int64(i))))
	}

	entries, err := s.Read()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, fmt.Sprintf("Page %d", i), e.Change.Title)
		assert.Equal(t, int64(i), e.Change.NewRevision())
	}

	again, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, entries, again, "reads must not modify the log")
}

func TestAppendWritesIndentedJSON(t *testing.T) {
	s := newStorage(t)
	e := entry("User:Alice", 555)
	e.Log = &domain.Location{Folder: "logs/changes/2024-05-01", File: "Alice_555"}
	require.NoError(t, s.Append(e))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n    {\n        \"filter\": \"userboxes\"")

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw, 1)
	assert.Equal(t, map[string]any{"folder": "logs/changes/2024-05-01", "file": "Alice_555"}, raw[0]["log"])
}

func TestAppendOmitsMissingLocation(t *testing.T) {
	s := newStorage(t)
	require.NoError(t, s.Append(entry("User:Alice", 555)))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"log"`)
}

func TestCorruptLog(t *testing.T) {
	for name, content := range map[string]string{
		"truncated": `[{"filter": "userboxes"`,
		"not a list": `{"filter": "userboxes"}`,
		"null":       `null`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newStorage(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
			require.NoError(t, os.WriteFile(s.Path(), []byte(content), 0644))

			_, err := s.Read()
			require.ErrorIs(t, err, errors.ErrStoreCorrupt)
			oopsErr, ok := oops.AsOops(err)
			require.True(t, ok)
			assert.Equal(t, errors.CodeStoreCorrupt, oopsErr.Code())

			err = s.Append(entry("User:Alice", 1))
			require.ErrorIs(t, err, errors.ErrStoreCorrupt)

			data, err := os.ReadFile(s.Path())
			require.NoError(t, err)
			assert.Equal(t, content, string(data), "a failed append must leave the file untouched")
		})
	}
}

func TestReset(t *testing.T) {
	s := newStorage(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("garbage"), 0644))

	require.NoError(t, s.Reset())

	entries, err := s.Read()
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.Append(entry("User:Alice", 1)))
	entries, err = s.Read()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
