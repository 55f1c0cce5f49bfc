package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Meta is the EventStreams envelope attached to every change
type Meta struct {
	URI       string `json:"uri"`
	RequestID string `json:"request_id"`
	ID        string `json:"id"`
	DT        string `json:"dt"`
	Domain    string `json:"domain"`
	Stream    string `json:"stream"`
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

// Length is the page size in bytes before and after the change
type Length struct {
	Old int `json:"old"`
	New int `json:"new"`
}

// Revision holds the old and new revision IDs of a change
type Revision struct {
	Old int64 `json:"old"`
	New int64 `json:"new"`
}

// Change represents one recentchange event
type Change struct {
	ID               int64     `json:"id"`
	Type             string    `json:"type"`
	Namespace        int       `json:"namespace"`
	Title            string    `json:"title"`
	Comment          string    `json:"comment"`
	Timestamp        int64     `json:"timestamp"`
	User             string    `json:"user"`
	Bot              bool      `json:"bot"`
	Minor            bool      `json:"minor"`
	Patrolled        bool      `json:"patrolled"`
	ServerURL        string    `json:"server_url"`
	ServerName       string    `json:"server_name"`
	ServerScriptPath string    `json:"server_script_path"`
	Wiki             string    `json:"wiki"`
	Length           *Length   `json:"length,omitempty"`
	Revision         *Revision `json:"revision,omitempty"`
	Meta             Meta      `json:"meta"`
}

// Validate checks the fields the pipeline relies on
func (c *Change) Validate() error {
	missing := make([]string, 0, 4)
	if c.ServerName == "" {
		missing = append(missing, "server_name")
	}
	if c.Title == "" {
		missing = append(missing, "title")
	}
	if c.User == "" {
		missing = append(missing, "user")
	}
	if len(c.Meta.DT) < 10 {
		missing = append(missing, "meta.dt")
	}
	if len(missing) > 0 {
		return oops.In("change").With("meta_id", c.Meta.ID, "missing", missing).Errorf("change is missing required fields")
	}
	// Day() becomes a directory name in the content archive
	if _, err := time.Parse(time.DateOnly, c.Day()); err != nil {
		return oops.In("change").With("meta_id", c.Meta.ID, "dt", c.Meta.DT).Errorf("meta.dt does not start with a calendar date")
	}
	return nil
}

// Day returns the calendar day of the event, e.g. 2024-05-01
func (c *Change) Day() string {
	if len(c.Meta.DT) < 10 {
		return c.Meta.DT
	}
	return c.Meta.DT[:10]
}

// NewRevision returns the revision created by the change, or 0
func (c *Change) NewRevision() int64 {
	if c.Revision == nil {
		return 0
	}
	return c.Revision.New
}

// Verb turns the change type into a past-tense verb ("edit" -> "edited")
func (c *Change) Verb() string {
	return strings.TrimSuffix(c.Type, "e") + "ed"
}

// Summary is the one-line description printed for every reported change
func (c *Change) Summary() string {
	return fmt.Sprintf("%s %s %q at %s.", c.User, c.Verb(), c.Title, c.Meta.DT)
}
