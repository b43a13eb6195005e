package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

type Action string

const (
	ActionNone     Action = "none"
	ActionWarn     Action = "warn"
	ActionKick     Action = "kick"
	ActionRedirect Action = "redirect"
	ActionBan      Action = "ban"
)

// Orders actions by severity. Kick and Redirect share a rank.
func (a Action) Rank() int {
	switch a {
	case ActionWarn:
		return 1
	case ActionKick, ActionRedirect:
		return 2
	case ActionBan:
		return 3
	default:
		return 0
	}
}

type BanMaskStrategy string

const (
	// *!*@host when the host is known, otherwise nick!*@*
	BanMaskPreferHost BanMaskStrategy = "prefer-host"
	BanMaskNick       BanMaskStrategy = "nick"
)

// Which path produced a decision. Only message and nickname decisions touch the general
// ledger and cooldown.
type Source string

const (
	SourceMessage  Source = "message"
	SourcePhone    Source = "phone"
	SourceNickname Source = "nickname"
	SourceAdmin    Source = "admin"
)

type Decision struct {
	Action     Action
	TargetUser string
	Channel    string
	// every contributing category, recorded in the ledger
	Categories []Category
	Tier       Tier
	Reason     string
	BanMask    BanMaskStrategy
	// for Ban: 0 is permanent. For Redirect: how long the origin channel stays closed.
	BanDuration time.Duration
	Source      Source
	// optional replacement for the redirect welcome message
	WelcomeText string
}

var ErrInvalidPolicy = errors.New("invalid moderation policy")

type SeverityPolicy struct {
	CategoryTiers map[Category]Tier
	// light-tier categories that send the user to RedirectChannel on the second offense
	RedirectCategories []Category
	RedirectChannel    string
	// categories ignored entirely on a channel, keyed by lower-cased channel name
	ChannelSuppressions map[string][]Category
	// after this many kick/redirect/ban entries in the window, further tier 1 and 2
	// offenses become a temporary ban. Zero disables.
	TempBanAfterKicks int
	TempBanDuration   time.Duration
	// zero means permanent
	SevereBanDuration   time.Duration
	RedirectBanDuration time.Duration
	NicknameBanDuration time.Duration
}

func DefaultCategoryTiers() map[Category]Tier {
	return map[Category]Tier{
		CategorySexual:                TierLight,
		CategorySelfHarm:              TierLight,
		CategoryHarassment:            TierModerate,
		CategoryHate:                  TierModerate,
		CategoryViolence:              TierModerate,
		CategoryViolenceGraphic:       TierModerate,
		CategoryIllicit:               TierModerate,
		CategorySelfHarmIntent:        TierModerate,
		CategoryProfanity:             TierModerate,
		CategoryNickname:              TierModerate,
		CategoryPhoneNumber:           TierModerate,
		CategorySexualMinors:          TierSevere,
		CategoryHarassmentThreatening: TierSevere,
		CategoryHateThreatening:       TierSevere,
		CategoryIllicitViolent:        TierSevere,
		CategorySelfHarmInstructions:  TierSevere,
		CategoryDrugTrafficking:       TierSevere,
	}
}

func DefaultSeverityPolicy() SeverityPolicy {
	return SeverityPolicy{
		CategoryTiers:      DefaultCategoryTiers(),
		RedirectCategories: []Category{CategorySexual},
		RedirectChannel:    "#adultes",
		ChannelSuppressions: map[string][]Category{
			"#adultes": {
				CategorySexual,
				CategorySexualMinors,
				CategoryViolence,
				CategoryViolenceGraphic,
				CategoryHarassment,
				CategoryHarassmentThreatening,
			},
		},
		TempBanAfterKicks:   1,
		TempBanDuration:     10 * time.Minute,
		SevereBanDuration:   0,
		RedirectBanDuration: 10 * time.Minute,
		NicknameBanDuration: 30 * time.Second,
	}
}

func (p SeverityPolicy) Validate() error {
	if len(p.CategoryTiers) == 0 {
		return fmt.Errorf("%w: no category tiers configured", ErrInvalidPolicy)
	}
	for c, t := range p.CategoryTiers {
		if t < TierLight || t > TierSevere {
			return fmt.Errorf("%w: category %s has tier %d (want 1..3)", ErrInvalidPolicy, c, t)
		}
	}
	if len(p.RedirectCategories) > 0 && p.RedirectChannel == "" {
		return fmt.Errorf("%w: redirect categories configured without a redirect channel", ErrInvalidPolicy)
	}
	if p.TempBanAfterKicks < 0 || p.TempBanDuration < 0 || p.SevereBanDuration < 0 {
		return fmt.Errorf("%w: negative ban threshold or duration", ErrInvalidPolicy)
	}
	if p.TempBanAfterKicks > 0 && p.TempBanDuration == 0 {
		return fmt.Errorf("%w: temporary ban enabled with zero duration", ErrInvalidPolicy)
	}
	return nil
}

// Policy tier for a category. Unknown categories use the classifier-reported severity,
// clamped to 1..3.
func (p SeverityPolicy) TierOf(c Category, reported int) Tier {
	if t, ok := p.CategoryTiers[c]; ok {
		return t
	}
	return clampTier(reported)
}

func (p SeverityPolicy) Suppressed(channel string, c Category) bool {
	return slices.Contains(p.ChannelSuppressions[strings.ToLower(channel)], c)
}

func (p SeverityPolicy) IsRedirectChannel(channel string) bool {
	return p.RedirectChannel != "" && strings.EqualFold(channel, p.RedirectChannel)
}

// Number of light-tier category entries in a history; feeds the two-strike override.
func (p SeverityPolicy) LowSeverityCount(h ViolationHistory) int {
	n := 0
	for c, l := range h.ByCategory {
		if p.TierOf(c, 0) == TierLight {
			n += len(l)
		}
	}
	return n
}

// The escalation state machine. Stateless itself: all state comes in as the user's history.
type SeverityResolver struct {
	Policy SeverityPolicy
}

// Drops categories suppressed on channel. If none remain the result is no longer a
// violation.
func (r *SeverityResolver) Filter(res ModerationResult, channel string) ModerationResult {
	if !res.IsViolation {
		return res
	}
	out := res
	out.Categories = slices.DeleteFunc(slices.Clone(res.Categories), func(c Category) bool {
		return r.Policy.Suppressed(channel, c)
	})
	if len(out.Categories) == 0 {
		out.IsViolation = false
		out.Severity = 0
		out.Score = 0
	}
	return out
}

// Highest policy tier among the result's categories.
func (r *SeverityResolver) TierOf(res ModerationResult) Tier {
	tier := TierNone
	for _, c := range res.Categories {
		tier = max(tier, r.Policy.TierOf(c, res.Severity))
	}
	return tier
}

// Maps a (filtered) result plus the user's pruned history to an action. The highest tier
// wins; all categories are carried on the decision.
func (r *SeverityResolver) Resolve(res ModerationResult, hist ViolationHistory, user, channel string) Decision {
	d := Decision{
		Action:     ActionNone,
		TargetUser: user,
		Channel:    channel,
		BanMask:    BanMaskPreferHost,
	}
	res = r.Filter(res, channel)
	if !res.IsViolation {
		return d
	}
	d.Categories = slices.Clone(res.Categories)
	d.Tier = r.TierOf(res)
	d.Reason = res.Reason
	if d.Reason == "" {
		d.Reason = joinCategories(d.Categories)
	}

	if d.Tier >= TierSevere {
		d.Action = ActionBan
		d.BanDuration = r.Policy.SevereBanDuration
		return d
	}

	// repeat offense: any warning in the window, or prior entries for a contributing category
	repeat := len(hist.Warnings) > 0
	for _, c := range d.Categories {
		if hist.CategoryCount(c) > 0 {
			repeat = true
		}
	}
	if !repeat {
		d.Action = ActionWarn
		return d
	}

	if r.Policy.TempBanAfterKicks > 0 && len(hist.Kicks) >= r.Policy.TempBanAfterKicks {
		d.Action = ActionBan
		d.BanDuration = r.Policy.TempBanDuration
		return d
	}

	if d.Tier == TierLight && r.redirectable(d.Categories, channel) {
		d.Action = ActionRedirect
		d.BanMask = BanMaskNick
		d.BanDuration = r.Policy.RedirectBanDuration
		return d
	}

	d.Action = ActionKick
	return d
}

func (r *SeverityResolver) redirectable(cats []Category, channel string) bool {
	if r.Policy.RedirectChannel == "" || r.Policy.IsRedirectChannel(channel) {
		return false
	}
	for _, c := range cats {
		if slices.Contains(r.Policy.RedirectCategories, c) {
			return true
		}
	}
	return false
}

func joinCategories(cats []Category) string {
	s := make([]string, len(cats))
	for i, c := range cats {
		s[i] = string(c)
	}
	return strings.Join(s, ", ")
}
