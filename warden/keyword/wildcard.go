package keyword

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// A single match pattern. A '*' in the raw pattern matches any run of characters
// (non-greedy); everything else matches literally. Patterns without any '*' are padded
// substring matches, so " cons " only hits the standalone word.
type Pattern struct {
	Raw string
	re  *regexp.Regexp
}

func CompilePattern(raw string) (Pattern, error) {
	norm := Normalize(raw)
	if strings.Trim(norm, "* ") == "" {
		return Pattern{}, fmt.Errorf("empty pattern: %q", raw)
	}
	var expr string
	if strings.Contains(norm, "*") {
		expr = strings.ReplaceAll(regexp.QuoteMeta(norm), `\*`, `.*?`)
	} else {
		// keep the leading/trailing spaces of "exact" patterns
		expr = regexp.QuoteMeta(norm)
		if strings.HasPrefix(raw, " ") {
			expr = " " + expr
		}
		if strings.HasSuffix(raw, " ") {
			expr = expr + " "
		}
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compiling pattern %q: %w", raw, err)
	}
	return Pattern{Raw: raw, re: re}, nil
}

// Matches against text that has already been through Normalize.
func (p Pattern) MatchNormalized(norm string) bool {
	return p.re.MatchString(" " + norm + " ")
}

// An ordered, mutable list of patterns, safe for concurrent use.
type PatternSet struct {
	mu       sync.RWMutex
	patterns []Pattern
}

func NewPatternSet(raw []string) (*PatternSet, error) {
	ps := &PatternSet{}
	for _, r := range raw {
		if err := ps.Add(r); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// Adds a pattern. Adding a pattern already in the set is a no-op.
func (ps *PatternSet) Add(raw string) error {
	p, err := CompilePattern(raw)
	if err != nil {
		return err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, existing := range ps.patterns {
		if strings.EqualFold(existing.Raw, raw) {
			return nil
		}
	}
	ps.patterns = append(ps.patterns, p)
	return nil
}

// Returns true if a pattern was removed.
func (ps *PatternSet) Remove(raw string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	before := len(ps.patterns)
	ps.patterns = slices.DeleteFunc(ps.patterns, func(p Pattern) bool {
		return strings.EqualFold(p.Raw, raw)
	})
	return len(ps.patterns) != before
}

func (ps *PatternSet) List() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]string, len(ps.patterns))
	for i, p := range ps.patterns {
		out[i] = p.Raw
	}
	return out
}

func (ps *PatternSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.patterns)
}

// Returns the raw form of the first pattern matching text, in insertion order.
func (ps *PatternSet) Match(text string) (string, bool) {
	norm := Normalize(text)
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for _, p := range ps.patterns {
		if p.MatchNormalized(norm) {
			return p.Raw, true
		}
	}
	return "", false
}
