package classify

import (
	"regexp"
)

// A weighted group of regular expressions. Expressions are written against text that has
// been through keyword.Normalize (lower case, accents folded).
type ruleGroup struct {
	Name   string
	Weight float64
	Exprs  []*regexp.Regexp
}

func mustGroup(name string, weight float64, exprs ...string) ruleGroup {
	g := ruleGroup{Name: name, Weight: weight}
	for _, e := range exprs {
		g.Exprs = append(g.Exprs, regexp.MustCompile(e))
	}
	return g
}

// Number of expressions in the group matching text.
func (g ruleGroup) count(text string) int {
	n := 0
	for _, re := range g.Exprs {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

// First sub-match of any expression, for log context.
func (g ruleGroup) first(text string) string {
	for _, re := range g.Exprs {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}
