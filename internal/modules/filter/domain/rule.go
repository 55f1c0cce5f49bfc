package domain

import (
	"fmt"
	"strconv"
	"strings"

	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	"github.com/reshetovitsme/wikiscan/internal/shared/config"
	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// StreamFilter selects which changes of the subscribed streams are
// considered at all. Empty constraints accept everything.
type StreamFilter struct {
	Sites      []string
	Types      []string
	Namespaces []int
	Bot        *bool
}

// Match reports whether the change satisfies every constraint
func (f StreamFilter) Match(c *changeDomain.Change) bool {
	if len(f.Sites) > 0 && !lo.Contains(f.Sites, c.ServerName) {
		return false
	}
	if len(f.Types) > 0 && !lo.Contains(f.Types, c.Type) {
		return false
	}
	if len(f.Namespaces) > 0 && !lo.Contains(f.Namespaces, c.Namespace) {
		return false
	}
	if f.Bot != nil && *f.Bot != c.Bot {
		return false
	}
	return true
}

func (f StreamFilter) String() string {
	parts := make([]string, 0, 3)
	if len(f.Types) > 0 {
		parts = append(parts, "type="+strings.Join(f.Types, "|"))
	}
	if len(f.Namespaces) > 0 {
		parts = append(parts, "namespace="+strings.Join(lo.Map(f.Namespaces, func(n int, _ int) string {
			return strconv.Itoa(n)
		}), "|"))
	}
	if f.Bot != nil {
		parts = append(parts, fmt.Sprintf("bot=%t", *f.Bot))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Rule is an immutable filter rule. One rule is selected per run.
type Rule struct {
	Name string
	// Sites maps a server name to its Action API endpoint
	Sites        map[string]string
	Streams      []string
	StreamFilter StreamFilter
	// MaxEdits is nil when edit counts are not limited
	MaxEdits    *int
	Patterns    []Pattern
	SkipRepeats bool
}

var defaultStreams = []string{"recentchange"}

// NewRule builds a rule from its configuration. tier is the logging tier of
// the run; repeat suppression needs the flag store and so tier >= 2.
func NewRule(fc config.FilterConfig, tier config.LogTier) (*Rule, error) {
	builder := oops.In("filter").Code(errors.CodeConfig).With("filter", fc.Name)

	if len(fc.Sites) == 0 {
		return nil, builder.Wrap(errors.ErrNoSites)
	}
	if len(fc.Regexes) == 0 {
		return nil, builder.Wrap(errors.ErrNoPatterns)
	}

	skipRepeats := tier.LogsFlags()
	if fc.SkipRepeats != nil {
		skipRepeats = *fc.SkipRepeats
	}
	if skipRepeats && !tier.LogsFlags() {
		return nil, builder.With("log_level", int(tier)).Wrap(errors.ErrSkipRepeatsTier)
	}

	patterns := make([]Pattern, 0, len(fc.Regexes))
	for _, rc := range fc.Regexes {
		p, err := CompilePattern(rc.Pattern, rc.Flags)
		if err != nil {
			return nil, builder.Wrap(err)
		}
		patterns = append(patterns, p)
	}

	sites := lo.Uniq(fc.Sites)
	streams := fc.Streams
	if len(streams) == 0 {
		streams = defaultStreams
	}

	return &Rule{
		Name: fc.Name,
		Sites: lo.SliceToMap(sites, func(site string) (string, string) {
			return site, APIEndpoint(site)
		}),
		Streams: streams,
		StreamFilter: StreamFilter{
			Sites:      sites,
			Types:      fc.Types,
			Namespaces: fc.Namespaces,
			Bot:        fc.Bot,
		},
		MaxEdits:    fc.MaxEdits,
		Patterns:    patterns,
		SkipRepeats: skipRepeats,
	}, nil
}

// APIEndpoint returns the Action API URL of a site, e.g. en.wikipedia.org
func APIEndpoint(site string) string {
	return "https://" + site + "/w/api.php"
}

// Endpoint resolves the API endpoint for a change's site
func (r *Rule) Endpoint(site string) (string, bool) {
	api, ok := r.Sites[site]
	return api, ok
}

// CountUnderMax reports whether an edit count passes the ceiling.
// A count equal to the ceiling passes.
func (r *Rule) CountUnderMax(editCount int) bool {
	return r.MaxEdits == nil || editCount <= *r.MaxEdits
}

// Search returns every pattern that matches text, in declaration order
func (r *Rule) Search(text string) []Pattern {
	return lo.Filter(r.Patterns, func(p Pattern, _ int) bool {
		return p.MatchString(text)
	})
}

func (r *Rule) String() string {
	maxEdits := "None"
	if r.MaxEdits != nil {
		maxEdits = strconv.Itoa(*r.MaxEdits)
	}
	patterns := lo.Map(r.Patterns, func(p Pattern, _ int) string { return p.String() })
	return fmt.Sprintf("Filter(%q, %v, %s, %v, %s, %q, %t)",
		r.Name, r.StreamFilter.Sites, r.StreamFilter, r.Streams, maxEdits, patterns, r.SkipRepeats)
}
