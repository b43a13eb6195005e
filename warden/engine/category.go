package engine

import (
	"slices"
	"strings"
)

// A classification label for a detected violation.
type Category string

const (
	CategorySexual                Category = "sexual"
	CategorySexualMinors          Category = "sexual/minors"
	CategoryHarassment            Category = "harassment"
	CategoryHarassmentThreatening Category = "harassment/threatening"
	CategoryHate                  Category = "hate"
	CategoryHateThreatening       Category = "hate/threatening"
	CategoryViolence              Category = "violence"
	CategoryViolenceGraphic       Category = "violence/graphic"
	CategoryIllicit               Category = "illicit"
	CategoryIllicitViolent        Category = "illicit/violent"
	CategorySelfHarm              Category = "self-harm"
	CategorySelfHarmIntent        Category = "self-harm/intent"
	CategorySelfHarmInstructions  Category = "self-harm/instructions"
	CategoryProfanity             Category = "profanity"
	CategoryDrugTrafficking       Category = "drug-trafficking"
	CategoryPhoneNumber           Category = "phone-number"
	CategoryNickname              Category = "nickname"
)

// Severity level; determines the default escalation path of a category.
type Tier int

const (
	TierNone     Tier = 0
	TierLight    Tier = 1
	TierModerate Tier = 2
	TierSevere   Tier = 3
)

func clampTier(v int) Tier {
	if v < int(TierLight) {
		return TierLight
	}
	if v > int(TierSevere) {
		return TierSevere
	}
	return Tier(v)
}

// Output of a single classifier, or the merge of several.
type ModerationResult struct {
	IsViolation bool
	// sorted, no duplicates
	Categories []Category
	// 0..10
	Score float64
	// 0..3, as reported by the classifier. Policy tiers take precedence for known categories.
	Severity int
	Reason   string
}

// Combines results from independent classifiers: union of categories, maximum score and
// severity. Any single flagging classifier makes the merged result a violation.
func MergeResults(results ...ModerationResult) ModerationResult {
	var out ModerationResult
	var reasons []string
	for _, r := range results {
		if !r.IsViolation {
			continue
		}
		out.IsViolation = true
		out.Categories = append(out.Categories, r.Categories...)
		out.Score = max(out.Score, r.Score)
		out.Severity = max(out.Severity, r.Severity)
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		}
	}
	slices.Sort(out.Categories)
	out.Categories = slices.Compact(out.Categories)
	out.Score = min(out.Score, 10)
	out.Reason = strings.Join(reasons, "; ")
	return out
}

// IRC nicknames compare case-insensitively, with the rfc1459 mapping of []\~ to {}|^.
func NormalizeNick(nick string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '[':
			return '{'
		case ']':
			return '}'
		case '\\':
			return '|'
		case '~':
			return '^'
		}
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, strings.TrimSpace(nick))
}
