package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func violation(cats ...Category) ModerationResult {
	return ModerationResult{IsViolation: true, Categories: cats, Score: 7}
}

func historyWith(warnings, kicks int, cats ...Category) ViolationHistory {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h := ViolationHistory{ByCategory: map[Category][]time.Time{}}
	for i := 0; i < warnings; i++ {
		h.Warnings = append(h.Warnings, t0)
	}
	for i := 0; i < kicks; i++ {
		h.Kicks = append(h.Kicks, t0)
	}
	for _, c := range cats {
		h.ByCategory[c] = append(h.ByCategory[c], t0)
	}
	return h
}

func TestMergeResults(t *testing.T) {
	assert := assert.New(t)

	merged := MergeResults(
		ModerationResult{IsViolation: true, Categories: []Category{CategorySexual}, Score: 4, Severity: 1, Reason: "keywords"},
		ModerationResult{IsViolation: false, Categories: []Category{CategoryViolence}, Score: 9.9, Severity: 3},
		ModerationResult{IsViolation: true, Categories: []Category{CategoryIllicit, CategorySexual}, Score: 6.5, Severity: 2, Reason: "drugs"},
	)
	assert.True(merged.IsViolation)
	assert.Equal([]Category{CategoryIllicit, CategorySexual}, merged.Categories)
	assert.Equal(6.5, merged.Score)
	assert.Equal(2, merged.Severity)
	assert.Equal("keywords; drugs", merged.Reason)

	assert.False(MergeResults().IsViolation)
	assert.False(MergeResults(ModerationResult{}).IsViolation)
}

func TestResolveTiers(t *testing.T) {
	assert := assert.New(t)
	r := &SeverityResolver{Policy: DefaultSeverityPolicy()}
	clean := ViolationHistory{}

	// tier 3 bans regardless of history
	for _, h := range []ViolationHistory{clean, historyWith(3, 2, CategorySexual)} {
		d := r.Resolve(violation(CategorySexualMinors), h, "bob", "#francophonie")
		assert.Equal(ActionBan, d.Action)
		assert.Equal(TierSevere, d.Tier)
		assert.Equal(time.Duration(0), d.BanDuration)
		assert.Equal(BanMaskPreferHost, d.BanMask)
	}

	// tier 2: warn, then kick, then temporary ban
	d := r.Resolve(violation(CategoryHarassment), clean, "eve", "#francophonie")
	assert.Equal(ActionWarn, d.Action)
	d = r.Resolve(violation(CategoryHarassment), historyWith(1, 0, CategoryHarassment), "eve", "#francophonie")
	assert.Equal(ActionKick, d.Action)
	d = r.Resolve(violation(CategoryHarassment), historyWith(1, 1, CategoryHarassment), "eve", "#francophonie")
	assert.Equal(ActionBan, d.Action)
	assert.Equal(10*time.Minute, d.BanDuration)

	// tier 1 sexual: warn, then redirect
	d = r.Resolve(violation(CategorySexual), clean, "alice", "#francophonie")
	assert.Equal(ActionWarn, d.Action)
	d = r.Resolve(violation(CategorySexual), historyWith(1, 0, CategorySexual), "alice", "#francophonie")
	assert.Equal(ActionRedirect, d.Action)
	assert.Equal(BanMaskNick, d.BanMask)
	assert.Equal(10*time.Minute, d.BanDuration)

	// tier 1 but not redirectable: kick
	d = r.Resolve(violation(CategorySelfHarm), historyWith(1, 0, CategorySelfHarm), "sam", "#francophonie")
	assert.Equal(ActionKick, d.Action)
}

func TestResolvePerCategoryRepeat(t *testing.T) {
	assert := assert.New(t)
	r := &SeverityResolver{Policy: DefaultSeverityPolicy()}

	// no warnings in the window, but a prior hate entry: counts as a repeat
	d := r.Resolve(violation(CategoryHate), historyWith(0, 0, CategoryHate), "x", "#francophonie")
	assert.Equal(ActionKick, d.Action)

	// unrelated prior category and no warnings: first offense
	d = r.Resolve(violation(CategoryHate), historyWith(0, 0, CategoryNickname), "x", "#francophonie")
	assert.Equal(ActionWarn, d.Action)
}

func TestResolveHighestTierWins(t *testing.T) {
	assert := assert.New(t)
	r := &SeverityResolver{Policy: DefaultSeverityPolicy()}

	d := r.Resolve(violation(CategorySexual, CategoryHate), historyWith(1, 0, CategorySexual), "x", "#francophonie")
	assert.Equal(TierModerate, d.Tier)
	// tier 2 wins, so no redirect even though sexual is present
	assert.Equal(ActionKick, d.Action)
	assert.Equal([]Category{CategorySexual, CategoryHate}, d.Categories)

	d = r.Resolve(violation(CategorySexual, CategoryHateThreatening), ViolationHistory{}, "x", "#francophonie")
	assert.Equal(ActionBan, d.Action)
	assert.Equal(2, len(d.Categories))
}

func TestResolveChannelSuppression(t *testing.T) {
	assert := assert.New(t)
	r := &SeverityResolver{Policy: DefaultSeverityPolicy()}

	for _, c := range []Category{CategorySexual, CategorySexualMinors, CategoryViolence, CategoryHarassment} {
		d := r.Resolve(violation(c), historyWith(3, 3, c), "x", "#Adultes")
		assert.Equal(ActionNone, d.Action, "category %s", c)
	}

	// suppressed categories don't contribute, others still do
	d := r.Resolve(violation(CategorySexualMinors, CategoryHate), ViolationHistory{}, "x", "#adultes")
	assert.Equal(ActionWarn, d.Action)
	assert.Equal([]Category{CategoryHate}, d.Categories)

	// no redirect from the redirect channel itself
	p := DefaultSeverityPolicy()
	p.ChannelSuppressions = nil
	r = &SeverityResolver{Policy: p}
	d = r.Resolve(violation(CategorySexual), historyWith(1, 0, CategorySexual), "x", "#adultes")
	assert.Equal(ActionKick, d.Action)
}

func TestResolveUnknownCategory(t *testing.T) {
	assert := assert.New(t)
	r := &SeverityResolver{Policy: DefaultSeverityPolicy()}

	res := ModerationResult{IsViolation: true, Categories: []Category{"spam"}, Severity: 3}
	assert.Equal(ActionBan, r.Resolve(res, ViolationHistory{}, "x", "#francophonie").Action)
	res.Severity = 0
	assert.Equal(TierLight, r.TierOf(res))
}

func TestResolveEscalationMonotonic(t *testing.T) {
	assert := assert.New(t)
	r := &SeverityResolver{Policy: DefaultSeverityPolicy()}

	for _, c := range []Category{CategorySexual, CategorySelfHarm, CategoryHarassment, CategoryProfanity, CategoryDrugTrafficking} {
		h := ViolationHistory{}
		prev := 0
		for i := 0; i < 6; i++ {
			d := r.Resolve(violation(c), h, "x", "#francophonie")
			assert.GreaterOrEqual(d.Action.Rank(), prev, "category %s step %d", c, i)
			prev = d.Action.Rank()
			// apply the outcome the way the executor records it
			switch d.Action {
			case ActionWarn:
				h.Warnings = append(h.Warnings, time.Time{})
			default:
				h.Kicks = append(h.Kicks, time.Time{})
			}
			if h.ByCategory == nil {
				h.ByCategory = map[Category][]time.Time{}
			}
			h.ByCategory[c] = append(h.ByCategory[c], time.Time{})
		}
		assert.Equal(ActionBan.Rank(), prev)
	}
}

func TestPolicyValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(DefaultSeverityPolicy().Validate())

	p := DefaultSeverityPolicy()
	p.CategoryTiers = nil
	assert.ErrorIs(p.Validate(), ErrInvalidPolicy)

	p = DefaultSeverityPolicy()
	p.CategoryTiers[CategoryHate] = 7
	assert.ErrorIs(p.Validate(), ErrInvalidPolicy)

	p = DefaultSeverityPolicy()
	p.RedirectChannel = ""
	assert.ErrorIs(p.Validate(), ErrInvalidPolicy)

	p = DefaultSeverityPolicy()
	p.TempBanDuration = 0
	assert.ErrorIs(p.Validate(), ErrInvalidPolicy)
}
