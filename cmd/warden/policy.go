package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ircwarden/warden/warden/classify"
	"github.com/ircwarden/warden/warden/engine"

	"github.com/spf13/viper"
)

// Everything tunable about moderation behavior. Compiled-in defaults, optionally overridden
// by a policy file.
type Policy struct {
	Severity          engine.SeverityPolicy
	Timing            engine.Timing
	Phone             engine.PhonePolicy
	Exemptions        engine.ExemptionPolicy
	TwoStrike         engine.TwoStrikeOverride
	Cooldown          time.Duration
	ResetWindow       time.Duration
	MonitoredChannels []string
	ContentThreshold  float64
	DrugSensitivity   float64

	// snapshot persistence
	SnapshotInterval time.Duration
	SnapshotMaxAge   time.Duration
	HistoryMaxAge    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Severity:         engine.DefaultSeverityPolicy(),
		Timing:           engine.DefaultTiming(),
		Phone:            engine.DefaultPhonePolicy(),
		Exemptions:       engine.DefaultExemptionPolicy(),
		TwoStrike:        engine.DefaultTwoStrikeOverride(),
		Cooldown:         2 * time.Minute,
		ResetWindow:      24 * time.Hour,
		ContentThreshold: classify.DefaultContentThreshold,
		DrugSensitivity:  classify.DefaultDrugSensitivity,
		SnapshotInterval: 5 * time.Minute,
		SnapshotMaxAge:   24 * time.Hour,
		HistoryMaxAge:    48 * time.Hour,
	}
}

func (p Policy) Validate() error {
	if err := p.Severity.Validate(); err != nil {
		return err
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("%w: negative cooldown", engine.ErrInvalidPolicy)
	}
	if p.ResetWindow <= 0 {
		return fmt.Errorf("%w: reset window must be positive", engine.ErrInvalidPolicy)
	}
	if p.ContentThreshold <= 0 || p.DrugSensitivity <= 0 {
		return fmt.Errorf("%w: detector thresholds must be positive", engine.ErrInvalidPolicy)
	}
	if p.Phone.WarningThreshold < 0 || p.Phone.BanDuration <= 0 || p.Phone.ResetWindow <= 0 {
		return fmt.Errorf("%w: phone policy needs a non-negative threshold and positive durations", engine.ErrInvalidPolicy)
	}
	if p.TwoStrike.PriorWarnings < 0 || p.TwoStrike.MaxLowSeverity < 0 {
		return fmt.Errorf("%w: two-strike limits must not be negative", engine.ErrInvalidPolicy)
	}
	if p.SnapshotInterval <= 0 {
		return fmt.Errorf("%w: snapshot interval must be positive", engine.ErrInvalidPolicy)
	}
	return nil
}

// Reads a policy file (any format viper understands) over the defaults. Only keys present
// in the file change anything. An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, p.Validate()
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return p, fmt.Errorf("reading policy file: %w", err)
	}
	applyPolicy(v, &p)
	return p, p.Validate()
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}

func categories(vals []string) []engine.Category {
	out := make([]engine.Category, 0, len(vals))
	for _, s := range vals {
		out = append(out, engine.Category(strings.ToLower(strings.TrimSpace(s))))
	}
	return out
}

func applyPolicy(v *viper.Viper, p *Policy) {
	sev := &p.Severity
	if v.IsSet("category_tiers") {
		for name := range v.GetStringMap("category_tiers") {
			tier := v.GetInt("category_tiers." + name)
			// a tier of 0 removes the category
			if tier == 0 {
				delete(sev.CategoryTiers, engine.Category(name))
				continue
			}
			sev.CategoryTiers[engine.Category(name)] = engine.Tier(tier)
		}
	}
	if v.IsSet("redirect_categories") {
		sev.RedirectCategories = categories(v.GetStringSlice("redirect_categories"))
	}
	if v.IsSet("redirect_channel") {
		sev.RedirectChannel = v.GetString("redirect_channel")
	}
	if v.IsSet("channel_suppressions") {
		sev.ChannelSuppressions = make(map[string][]engine.Category)
		for ch, cats := range v.GetStringMapStringSlice("channel_suppressions") {
			sev.ChannelSuppressions[strings.ToLower(ch)] = categories(cats)
		}
	}
	if v.IsSet("temp_ban_after_kicks") {
		sev.TempBanAfterKicks = v.GetInt("temp_ban_after_kicks")
	}
	setDuration(v, "temp_ban_duration", &sev.TempBanDuration)
	setDuration(v, "severe_ban_duration", &sev.SevereBanDuration)
	setDuration(v, "redirect_ban_duration", &sev.RedirectBanDuration)
	setDuration(v, "nickname_ban_duration", &sev.NicknameBanDuration)

	setDuration(v, "cooldown", &p.Cooldown)
	setDuration(v, "reset_window", &p.ResetWindow)
	if v.IsSet("monitored_channels") {
		p.MonitoredChannels = v.GetStringSlice("monitored_channels")
	}
	if v.IsSet("content_threshold") {
		p.ContentThreshold = v.GetFloat64("content_threshold")
	}
	if v.IsSet("drug_sensitivity") {
		p.DrugSensitivity = v.GetFloat64("drug_sensitivity")
	}

	setDuration(v, "timing.kick_delay", &p.Timing.KickDelay)
	setDuration(v, "timing.ban_delay", &p.Timing.BanDelay)
	setDuration(v, "timing.phone_ban_delay", &p.Timing.PhoneBanDelay)
	setDuration(v, "timing.move_delay", &p.Timing.MoveDelay)
	setDuration(v, "timing.welcome_delay", &p.Timing.WelcomeDelay)

	if v.IsSet("phone.warning_threshold") {
		p.Phone.WarningThreshold = v.GetInt("phone.warning_threshold")
	}
	setDuration(v, "phone.reset_window", &p.Phone.ResetWindow)
	setDuration(v, "phone.ban_duration", &p.Phone.BanDuration)

	if v.IsSet("exemptions.operators") {
		p.Exemptions.ExemptElevated = v.GetBool("exemptions.operators")
	}
	if v.IsSet("exemptions.half_operators") {
		p.Exemptions.ExemptSubElevated = v.GetBool("exemptions.half_operators")
	}
	if v.IsSet("exemptions.voiced") {
		p.Exemptions.ExemptVoiced = v.GetBool("exemptions.voiced")
	}

	if v.IsSet("two_strike.enabled") {
		p.TwoStrike.Enabled = v.GetBool("two_strike.enabled")
	}
	if v.IsSet("two_strike.prior_warnings") {
		p.TwoStrike.PriorWarnings = v.GetInt("two_strike.prior_warnings")
	}
	if v.IsSet("two_strike.max_low_severity") {
		p.TwoStrike.MaxLowSeverity = v.GetInt("two_strike.max_low_severity")
	}

	setDuration(v, "snapshot.interval", &p.SnapshotInterval)
	setDuration(v, "snapshot.max_age", &p.SnapshotMaxAge)
	setDuration(v, "snapshot.history_max_age", &p.HistoryMaxAge)
}
