package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	flagDomain "github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// DefaultLimit is how many flagged changes a feed carries
const DefaultLimit = 50

// FlagReader gives read access to the flagged changes log
type FlagReader interface {
	Read() ([]flagDomain.Entry, error)
}

// Service builds RSS and Atom feeds of flagged changes
type Service struct {
	flags FlagReader
	limit int
}

// New creates a new feed service
func New(flags FlagReader) *Service {
	return &Service{
		flags: flags,
		limit: DefaultLimit,
	}
}

// GenerateFeed builds a feed of the most recent flagged changes, newest first
func (s *Service) GenerateFeed(baseURL string) (*feeds.Feed, error) {
	entries, err := s.flags.Read()
	if err != nil {
		return nil, oops.In("feed").With("context", "failed to read flagged changes").Wrap(err)
	}

	recent := lo.Reverse(lo.Subset(entries, -s.limit, uint(s.limit)))

	feed := &feeds.Feed{
		Title:       "wikiscan - flagged changes",
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/flagged.rss", baseURL)},
		Description: "Wiki edits that matched a wikiscan filter",
		Created:     time.Now(),
	}
	if len(recent) > 0 {
		feed.Updated = entryTime(recent[0])
	}

	feed.Items = lo.Map(recent, func(e flagDomain.Entry, _ int) *feeds.Item {
		return entryToFeedItem(e)
	})

	return feed, nil
}

func entryToFeedItem(e flagDomain.Entry) *feeds.Item {
	c := e.Change

	var description strings.Builder
	fmt.Fprintf(&description, "%s\n\nFilter: %s\nSite: %s\n", c.Summary(), e.Filter, c.ServerName)
	if c.Comment != "" {
		fmt.Fprintf(&description, "Comment: %s\n", c.Comment)
	}
	if e.Log != nil {
		fmt.Fprintf(&description, "Archived: %s/%s\n", e.Log.Folder, e.Log.File)
	}

	return &feeds.Item{
		Title:       fmt.Sprintf("[%s] %s", e.Filter, c.Title),
		Link:        &feeds.Link{Href: c.Meta.URI},
		Description: description.String(),
		Author:      &feeds.Author{Name: c.User},
		Created:     entryTime(e),
		Id:          fmt.Sprintf("%s-%d", c.ServerName, c.NewRevision()),
	}
}

func entryTime(e flagDomain.Entry) time.Time {
	if t, err := time.Parse(time.RFC3339, e.Change.Meta.DT); err == nil {
		return t
	}
	return time.Unix(e.Change.Timestamp, 0).UTC()
}
