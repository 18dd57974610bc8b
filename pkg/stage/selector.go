package stage

import (
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
)

// MatchAll is the pattern used when the caller gives none.
const MatchAll = StagePrefix + "*"

// Selection is the outcome of resolving patterns against a registry.
type Selection struct {
	// Names are the selected stages in declaration order.
	Names []string
	// Unmatched are explicit patterns that selected nothing.
	Unmatched []string
}

type selectOptions struct {
	strict bool
}

// SelectOption configures Select.
type SelectOption func(*selectOptions)

// WithStrict turns unmatched explicit patterns into an *UnknownPatternError.
func WithStrict() SelectOption {
	return func(o *selectOptions) { o.strict = true }
}

// Select resolves glob patterns into the stages to run. Patterns decide which
// stages run; declaration order decides when.
func Select(reg *Registry, patterns []string, opts ...SelectOption) (*Selection, error) {
	var o selectOptions
	for _, opt := range opts {
		opt(&o)
	}

	explicit := len(patterns) > 0
	if !explicit {
		patterns = []string{MatchAll}
	}

	selected := make(map[string]struct{})
	sel := &Selection{}

	for _, pattern := range patterns {
		glob := translateGlob(pattern)
		if _, err := path.Match(glob, ""); err != nil {
			return nil, fmt.Errorf("invalid stage pattern %q: %w", pattern, err)
		}

		matched := false
		for name := range reg.Names() {
			ok, _ := path.Match(glob, name)
			if ok {
				selected[name] = struct{}{}
				matched = true
			}
		}
		if !matched && explicit {
			sel.Unmatched = append(sel.Unmatched, pattern)
		}
	}

	for name := range reg.Names() {
		if _, ok := selected[name]; ok {
			sel.Names = append(sel.Names, name)
		}
	}

	if len(sel.Unmatched) > 0 {
		if o.strict {
			return nil, &UnknownPatternError{Patterns: slices.Clone(sel.Unmatched)}
		}
		slog.Warn("stage_pattern_unmatched", "patterns", sel.Unmatched)
	}

	return sel, nil
}

// translateGlob rewrites fnmatch-style negated classes ([!...]) into the
// [^...] form understood by path.Match.
func translateGlob(pattern string) string {
	if !strings.Contains(pattern, "[!") {
		return pattern
	}
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case !inClass && c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '!' {
				b.WriteByte('^')
				i++
			}
		case inClass && c == ']':
			inClass = false
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
