package classify

import (
	"context"
	"fmt"

	"github.com/ircwarden/warden/warden/engine"
	"github.com/ircwarden/warden/warden/keyword"
)

// Default bad word patterns. '*' matches any run of characters; patterns without a '*'
// and with surrounding spaces only match the standalone word.
var DefaultBadWords = []string{
	"*fuck*",
	"*encul*",
	"*grosse*merd*",
	"*fil*pute*",
	"*te*baise*",
	"*faire foutre*",
	"*gros*lard*",
	"*bougnoule*",
	"*connard*",
	"*conar*",
	"*enfoir*",
	"*abruti*",
	"*salaud*",
	"*connasse*",
	"*branle*",
	"*bouffon*",
	"*baise ta*",
	"*baise ton*",
	"*sodomise*",
	"*sperme*",
	"*ta gueule*",
	"*salop*",
	"*suceu*",
	"*va baiser ta mere*",
	"*faire sucer*",
	" cons ",
	" pute ",
	" nique ",
	" pd ",
	" tamer ",
	" couille ",
}

// Flags messages matching any pattern in a runtime-editable list as CategoryProfanity.
type BadWordClassifier struct {
	Patterns *keyword.PatternSet
}

var _ engine.Classifier = (*BadWordClassifier)(nil)

func NewBadWordClassifier(patterns []string) (*BadWordClassifier, error) {
	ps, err := keyword.NewPatternSet(patterns)
	if err != nil {
		return nil, err
	}
	return &BadWordClassifier{Patterns: ps}, nil
}

func (c *BadWordClassifier) Name() string { return "badwords" }

func (c *BadWordClassifier) Classify(ctx context.Context, text string) (engine.ModerationResult, error) {
	pat, ok := c.Patterns.Match(text)
	if !ok {
		return engine.ModerationResult{}, nil
	}
	return engine.ModerationResult{
		IsViolation: true,
		Categories:  []engine.Category{engine.CategoryProfanity},
		Score:       10,
		Severity:    int(engine.TierModerate),
		Reason:      fmt.Sprintf("forbidden word (%s)", pat),
	}, nil
}
