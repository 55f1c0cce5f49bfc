package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	flagDomain "github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFlags struct {
	entries []flagDomain.Entry
	err     error
}

func (s stubFlags) Read() ([]flagDomain.Entry, error) {
	return s.entries, s.err
}

func flagged(i int) flagDomain.Entry {
	return flagDomain.Entry{
		Filter: "userboxes",
		Change: changeDomain.Change{
			Title:      fmt.Sprintf("Page %d", i),
			User:       "Alice",
			Type:       "edit",
			ServerName: "en.wikipedia.org",
			Revision:   &changeDomain.Revision{New: int64(i)},
			Meta: changeDomain.Meta{
				URI: fmt.Sprintf("https://en.wikipedia.org/wiki/Page_%d", i),
				DT:  time.Date(2024, 5, 1, 0, i, 0, 0, time.UTC).Format(time.RFC3339),
			},
		},
	}
}

func TestGenerateFeedNewestFirst(t *testing.T) {
	entries := []flagDomain.Entry{flagged(1), flagged(2), flagged(3)}
	entries[2].Log = &flagDomain.Location{Folder: "logs/changes/2024-05-01", File: "Alice_3"}

	feed, err := New(stubFlags{entries: entries}).GenerateFeed("http://localhost:8080")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/flagged.rss", feed.Link.Href)
	require.Len(t, feed.Items, 3)
	assert.Equal(t, "[userboxes] Page 3", feed.Items[0].Title)
	assert.Equal(t, "en.wikipedia.org-3", feed.Items[0].Id)
	assert.Contains(t, feed.Items[0].Description, "Archived: logs/changes/2024-05-01/Alice_3")
	assert.Equal(t, "[userboxes] Page 1", feed.Items[2].Title)
	assert.Equal(t, feed.Items[0].Created, feed.Updated)

	rss, err := feed.ToRss()
	require.NoError(t, err)
	assert.Contains(t, rss, "https://en.wikipedia.org/wiki/Page_3")
}

func TestGenerateFeedLimit(t *testing.T) {
	entries := make([]flagDomain.Entry, 0, DefaultLimit+10)
	for i := range DefaultLimit + 10 {
		entries = append(entries, flagged(i))
	}

	feed, err := New(stubFlags{entries: entries}).GenerateFeed("")
	require.NoError(t, err)
	require.Len(t, feed.Items, DefaultLimit)
	assert.Equal(t, fmt.Sprintf("en.wikipedia.org-%d", DefaultLimit+9), feed.Items[0].Id)
	assert.Equal(t, "en.wikipedia.org-10", feed.Items[DefaultLimit-1].Id)
}

func TestGenerateFeedEmpty(t *testing.T) {
	feed, err := New(stubFlags{entries: []flagDomain.Entry{}}).GenerateFeed("")
	require.NoError(t, err)
	assert.Empty(t, feed.Items)
}

func TestGenerateFeedReadError(t *testing.T) {
	_, err := New(stubFlags{err: errors.New("boom")}).GenerateFeed("")
	assert.Error(t, err)
}

func TestEntryTimeFallsBackToTimestamp(t *testing.T) {
	e := flagged(1)
	e.Change.Meta.DT = "not a date"
	e.Change.Timestamp = 1714564800
	assert.Equal(t, time.Unix(1714564800, 0).UTC(), entryTime(e))
}
