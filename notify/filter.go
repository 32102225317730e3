package notify

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters events by target and type using glob patterns
type GlobFilter struct {
	targetGlobs []glob.Glob
	typeGlobs   []glob.Glob
	patterns    []string
}

// NewGlobFilter creates a new glob-based filter
// Empty patterns match everything
func NewGlobFilter(targetPatterns, typePatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		targetGlobs: make([]glob.Glob, 0, len(targetPatterns)),
		typeGlobs:   make([]glob.Glob, 0, len(typePatterns)),
		patterns:    append([]string(nil), targetPatterns...),
	}

	for _, pattern := range targetPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid target pattern %q: %w", pattern, err)
		}
		filter.targetGlobs = append(filter.targetGlobs, g)
	}

	for _, pattern := range typePatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid type pattern %q: %w", pattern, err)
		}
		filter.typeGlobs = append(filter.typeGlobs, g)
	}

	return filter, nil
}

// Match returns true if the event type and target match the configured patterns
func (f *GlobFilter) Match(eventType, target string) bool {
	if f == nil {
		return true
	}
	return matchAny(f.typeGlobs, eventType) && matchAny(f.targetGlobs, target)
}

// Accepts reports whether the event passes the filter
func (f *GlobFilter) Accepts(e Event) bool {
	return f.Match(string(e.Type), e.Target)
}

// Patterns returns the target patterns the filter was built from
func (f *GlobFilter) Patterns() []string {
	if f == nil {
		return nil
	}
	return f.patterns
}

func matchAny(globs []glob.Glob, value string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(value) {
			return true
		}
	}
	return false
}
