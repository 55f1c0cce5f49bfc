package domain

import (
	"regexp"
	"strings"

	"github.com/reshetovitsme/wikiscan/internal/shared/errors"
	"github.com/samber/oops"
)

// Pattern is a compiled regex together with the text it was written as
type Pattern struct {
	Source string
	Flags  string
	re     *regexp.Regexp
}

// CompilePattern compiles source with the given flags (any of "i", "m", "s")
func CompilePattern(source, flags string) (Pattern, error) {
	for _, f := range flags {
		if !strings.ContainsRune("ims", f) {
			return Pattern{}, oops.In("filter").
				Code(errors.CodeConfig).
				With("pattern", source, "flags", flags).
				Wrapf(errors.ErrInvalidPattern, "unsupported flag %q", f)
		}
	}

	expr := source
	if flags != "" {
		expr = "(?" + flags + ")" + source
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, oops.In("filter").
			Code(errors.CodeConfig).
			With("pattern", source, "flags", flags, "cause", err.Error()).
			Wrap(errors.ErrInvalidPattern)
	}

	return Pattern{Source: source, Flags: flags, re: re}, nil
}

// MustCompilePattern is like CompilePattern but panics on error
func MustCompilePattern(source, flags string) Pattern {
	p, err := CompilePattern(source, flags)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) MatchString(text string) bool {
	return p.re != nil && p.re.MatchString(text)
}

func (p Pattern) String() string {
	if p.Flags == "" {
		return p.Source
	}
	return "(?" + p.Flags + ")" + p.Source
}
