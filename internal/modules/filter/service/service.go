package service

import (
	"context"
	"fmt"
	"strings"

	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	"github.com/reshetovitsme/wikiscan/internal/modules/filter/domain"
	flagDomain "github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// LookupClient queries a site's API
type LookupClient interface {
	EditCount(ctx context.Context, api, username string) (int, error)
	RevisionText(ctx context.Context, api string, revid int64) (string, error)
}

// FlagReader gives read access to previously flagged changes
type FlagReader interface {
	Read() ([]flagDomain.Entry, error)
}

// SkipReason says why a change was not matched against the regexes
type SkipReason int

const (
	SkipNone SkipReason = iota
	// SkipOutOfScope: the change's site is not one of the rule's sites
	SkipOutOfScope
	// SkipFiltered: the change fails the rule's stream filter
	SkipFiltered
	SkipEditCount
	SkipRepeat
)

func (r SkipReason) String() string {
	switch r {
	case SkipNone:
		return "none"
	case SkipOutOfScope:
		return "site out of scope"
	case SkipFiltered:
		return "stream filter"
	case SkipEditCount:
		return "over edit-count limit"
	case SkipRepeat:
		return "repeat page"
	default:
		return "unknown"
	}
}

// Result is the outcome of evaluating one change
type Result struct {
	Skip SkipReason
	// EditCount is -1 when the change was rejected before the user lookup
	EditCount int
	Text      string
	Hits      []domain.Pattern
}

// Matched reports whether at least one regex matched
func (r Result) Matched() bool {
	return r.Skip == SkipNone && len(r.Hits) > 0
}

// Message renders the match announcement for change
func (r Result) Message(c *changeDomain.Change) string {
	label := "regex "
	if len(r.Hits) > 1 {
		label = "regexes "
	}
	patterns := lo.Map(r.Hits, func(p domain.Pattern, _ int) string {
		return "`" + p.Source + "`"
	})
	return "***MATCH*** with " + label + strings.Join(patterns, ", ") + ": " + c.Meta.URI
}

// SkipMessage describes a skipped change for verbose output
func (r Result) SkipMessage(rule *domain.Rule) string {
	switch r.Skip {
	case SkipEditCount:
		return fmt.Sprintf("Skipping - edit count was %d > %d", r.EditCount, *rule.MaxEdits)
	case SkipRepeat:
		return "Skipping - page already flagged"
	default:
		return "Skipping - " + r.Skip.String()
	}
}

// Evaluator applies one rule to incoming changes
type Evaluator struct {
	rule   *domain.Rule
	lookup LookupClient
	flags  FlagReader
}

// New creates an evaluator. flags may be nil when the rule does not skip repeats.
func New(rule *domain.Rule, lookup LookupClient, flags FlagReader) *Evaluator {
	return &Evaluator{
		rule:   rule,
		lookup: lookup,
		flags:  flags,
	}
}

func (e *Evaluator) Rule() *domain.Rule {
	return e.rule
}

// Evaluate runs the gates in order: site, stream filter, edit count, repeat,
// content fetch, regex search. Lookup race conditions are returned as errors
// wrapping ErrQueryRaceCondition.
func (e *Evaluator) Evaluate(ctx context.Context, c *changeDomain.Change) (Result, error) {
	result := Result{EditCount: -1}

	api, ok := e.rule.Endpoint(c.ServerName)
	if !ok {
		result.Skip = SkipOutOfScope
		return result, nil
	}

	if !e.rule.StreamFilter.Match(c) {
		result.Skip = SkipFiltered
		return result, nil
	}

	// The user lookup runs for every change: a user that vanished since the
	// event is a race condition even when the rule has no ceiling.
	count, err := e.lookup.EditCount(ctx, api, c.User)
	if err != nil {
		return result, oops.In("evaluator").With("user", c.User, "site", c.ServerName).Wrap(err)
	}
	result.EditCount = count
	if !e.rule.CountUnderMax(count) {
		result.Skip = SkipEditCount
		return result, nil
	}

	if e.rule.SkipRepeats {
		repeat, err := e.isRepeat(c.Title)
		if err != nil {
			return result, err
		}
		if repeat {
			result.Skip = SkipRepeat
			return result, nil
		}
	}

	text, err := e.lookup.RevisionText(ctx, api, c.NewRevision())
	if err != nil {
		return result, oops.In("evaluator").With("revid", c.NewRevision(), "site", c.ServerName).Wrap(err)
	}
	result.Text = text
	result.Hits = e.rule.Search(text)

	return result, nil
}

func (e *Evaluator) isRepeat(title string) (bool, error) {
	if e.flags == nil {
		return false, nil
	}
	entries, err := e.flags.Read()
	if err != nil {
		return false, err
	}
	return lo.ContainsBy(entries, func(entry flagDomain.Entry) bool {
		return entry.Change.Title == title
	}), nil
}
