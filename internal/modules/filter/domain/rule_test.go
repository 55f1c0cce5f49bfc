package domain

import (
	"testing"

	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	"github.com/reshetovitsme/wikiscan/internal/shared/config"
	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userboxConfig() config.FilterConfig {
	return config.FilterConfig{
		Name:     "userboxes",
		Sites:    []string{"en.wikipedia.org"},
		MaxEdits: lo.ToPtr(10),
		Regexes: []config.RegexConfig{
			{Pattern: "userbox"},
			{Pattern: "page"},
		},
	}
}

func TestNewRule(t *testing.T) {
	rule, err := NewRule(userboxConfig(), config.TierContent)
	require.NoError(t, err)

	assert.Equal(t, "userboxes", rule.Name)
	assert.Equal(t, map[string]string{"en.wikipedia.org": "https://en.wikipedia.org/w/api.php"}, rule.Sites)
	assert.Equal(t, []string{"recentchange"}, rule.Streams)
	assert.True(t, rule.SkipRepeats, "repeats are skipped by default once flags are logged")
	assert.Len(t, rule.Patterns, 2)
}

func TestNewRuleSkipRepeatsTier(t *testing.T) {
	tests := []struct {
		name        string
		skipRepeats *bool
		tier        config.LogTier
		want        bool
		wantErr     error
	}{
		{"default below flags tier", nil, config.TierRevisions, false, nil},
		{"default at flags tier", nil, config.TierFlags, true, nil},
		{"explicit off at content tier", lo.ToPtr(false), config.TierContent, false, nil},
		{"explicit on at flags tier", lo.ToPtr(true), config.TierFlags, true, nil},
		{"explicit on below flags tier", lo.ToPtr(true), config.TierRevisions, false, errors.ErrSkipRepeatsTier},
		{"explicit on at tier zero", lo.ToPtr(true), config.TierNone, false, errors.ErrSkipRepeatsTier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := userboxConfig()
			fc.SkipRepeats = tt.skipRepeats

			rule, err := NewRule(fc, tt.tier)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, errors.IsConfigError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.SkipRepeats)
		})
	}
}

func TestNewRuleInvalid(t *testing.T) {
	fc := userboxConfig()
	fc.Sites = nil
	_, err := NewRule(fc, config.TierContent)
	assert.ErrorIs(t, err, errors.ErrNoSites)

	fc = userboxConfig()
	fc.Regexes = nil
	_, err = NewRule(fc, config.TierContent)
	assert.ErrorIs(t, err, errors.ErrNoPatterns)

	fc = userboxConfig()
	fc.Regexes = []config.RegexConfig{{Pattern: "("}}
	_, err = NewRule(fc, config.TierContent)
	assert.ErrorIs(t, err, errors.ErrInvalidPattern)

	fc = userboxConfig()
	fc.Regexes = []config.RegexConfig{{Pattern: "x", Flags: "u"}}
	_, err = NewRule(fc, config.TierContent)
	assert.ErrorIs(t, err, errors.ErrInvalidPattern)
}

func TestCountUnderMax(t *testing.T) {
	rule, err := NewRule(userboxConfig(), config.TierContent)
	require.NoError(t, err)

	assert.True(t, rule.CountUnderMax(0))
	assert.True(t, rule.CountUnderMax(10), "a count equal to the ceiling passes")
	assert.False(t, rule.CountUnderMax(11))

	rule.MaxEdits = nil
	assert.True(t, rule.CountUnderMax(1_000_000))
}

func TestSearch(t *testing.T) {
	rule, err := NewRule(userboxConfig(), config.TierContent)
	require.NoError(t, err)

	hits := rule.Search("this page has a userbox")
	require.Len(t, hits, 2)
	assert.Equal(t, "userbox", hits[0].Source)
	assert.Equal(t, "page", hits[1].Source)

	assert.Empty(t, rule.Search("nothing to see"))
}

func TestPatternFlags(t *testing.T) {
	p := MustCompilePattern("^userbox$", "im")
	assert.True(t, p.MatchString("intro\nUserBox\noutro"))
	assert.Equal(t, "(?im)^userbox$", p.String())

	plain := MustCompilePattern("UserBox", "")
	assert.False(t, plain.MatchString("userbox"))
	assert.Equal(t, "UserBox", plain.String())

	assert.False(t, Pattern{}.MatchString("anything"))
	assert.Panics(t, func() { MustCompilePattern("[", "") })
}

func TestStreamFilterMatch(t *testing.T) {
	change := &changeDomain.Change{
		ServerName: "en.wikipedia.org",
		Type:       "edit",
		Namespace:  2,
		Bot:        false,
	}

	tests := []struct {
		name   string
		filter StreamFilter
		want   bool
	}{
		{"empty accepts all", StreamFilter{}, true},
		{"site matches", StreamFilter{Sites: []string{"en.wikipedia.org"}}, true},
		{"site differs", StreamFilter{Sites: []string{"de.wikipedia.org"}}, false},
		{"type matches", StreamFilter{Types: []string{"new", "edit"}}, true},
		{"type differs", StreamFilter{Types: []string{"log"}}, false},
		{"namespace matches", StreamFilter{Namespaces: []int{2, 3}}, true},
		{"namespace differs", StreamFilter{Namespaces: []int{0}}, false},
		{"humans only", StreamFilter{Bot: lo.ToPtr(false)}, true},
		{"bots only", StreamFilter{Bot: lo.ToPtr(true)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(change))
		})
	}
}

func TestRuleString(t *testing.T) {
	fc := userboxConfig()
	fc.Types = []string{"edit"}
	rule, err := NewRule(fc, config.TierRevisions)
	require.NoError(t, err)

	assert.Equal(t,
		`Filter("userboxes", [en.wikipedia.org], {type=edit}, [recentchange], 10, ["userbox" "page"], false)`,
		rule.String())
}

func TestExampleConfigRules(t *testing.T) {
	cfg, err := config.Load("../../../../config.example.yaml")
	require.NoError(t, err)

	for _, name := range cfg.FilterNames() {
		fc, err := cfg.Filter(name)
		require.NoError(t, err)
		_, err = NewRule(fc, cfg.LogLevel)
		assert.NoError(t, err, name)
	}

	fc, err := cfg.Filter("userboxes")
	require.NoError(t, err)
	rule, err := NewRule(fc, cfg.LogLevel)
	require.NoError(t, err)
	assert.Len(t, rule.Search("{{ UserBox | likes cats }}"), 1)
}
