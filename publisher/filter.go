package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter matches table names against glob patterns. No patterns means
// every table matches.
type GlobFilter struct {
	globs []glob.Glob
}

// NewGlobFilter compiles patterns into a filter.
func NewGlobFilter(patterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{globs: make([]glob.Glob, 0, len(patterns))}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}
	return filter, nil
}

// Match implements Filter.
func (f *GlobFilter) Match(table string) bool {
	if len(f.globs) == 0 {
		return true
	}
	for _, g := range f.globs {
		if g.Match(table) {
			return true
		}
	}
	return false
}
