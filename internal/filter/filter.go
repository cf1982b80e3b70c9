// Package filter decides which interfaces the daemon acts on.
package filter

import (
	"fmt"
	"path"
	"strings"
)

// NameFilter is an ordered list of shell glob patterns. An empty filter
// matches every name.
type NameFilter struct {
	patterns []string // as written
	compiled []string // path.Match syntax
}

// New builds a filter from patterns, rejecting any that are malformed.
func New(patterns ...string) (*NameFilter, error) {
	f := &NameFilter{}
	for _, p := range patterns {
		if err := f.Add(p); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Add appends pattern. fnmatch-style negated classes ("[!0-9]") are
// accepted alongside "[^0-9]".
func (f *NameFilter) Add(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("filter: empty pattern")
	}
	p := translate(pattern)
	if _, err := path.Match(p, ""); err != nil {
		return fmt.Errorf("filter: bad pattern %q: %w", pattern, err)
	}
	f.patterns = append(f.patterns, pattern)
	f.compiled = append(f.compiled, p)
	return nil
}

// Matches reports whether name is of interest.
func (f *NameFilter) Matches(name string) bool {
	if f == nil || len(f.compiled) == 0 {
		return true
	}
	for _, p := range f.compiled {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Patterns returns the patterns as they were given, in match order.
func (f *NameFilter) Patterns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.patterns...)
}

func (f *NameFilter) String() string {
	if f == nil || len(f.patterns) == 0 {
		return "*"
	}
	return strings.Join(f.patterns, " ")
}

func translate(pattern string) string {
	if !strings.Contains(pattern, "[!") {
		return pattern
	}
	var b strings.Builder
	inClass := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			i++
			b.WriteByte(pattern[i])
			continue
		case c == '[' && !inClass:
			inClass = true
			b.WriteByte(c)
			if i+1 < len(pattern) && pattern[i+1] == '!' {
				b.WriteByte('^')
				i++
			}
			continue
		case c == ']' && inClass:
			inClass = false
		}
		b.WriteByte(c)
	}
	return b.String()
}
