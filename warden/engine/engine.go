package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ircwarden/warden/warden/countstore"
	"github.com/ircwarden/warden/warden/setstore"

	"github.com/spaolacci/murmur3"
)

const DefaultTrustedSet = "trusted-users"

// users hash onto this many locks
const userLockStripes = 256

type Config struct {
	// ledger entries older than this are pruned
	ResetWindow time.Duration
	// channels evaluated; empty means every channel
	MonitoredChannels []string
	// name of the set of nicknames exempt from enforcement
	TrustedSet string
}

func DefaultConfig() Config {
	return Config{
		ResetWindow: 24 * time.Hour,
		TrustedSet:  DefaultTrustedSet,
	}
}

// Moderation orchestrator: runs exemption, phone, cooldown, classification, resolution and
// execution for each event. Careful when initializing: some fields are optional (Phones,
// Nicknames, Sets), the rest are required.
//
// Events for the same user are serialized; events for different users may be handled
// concurrently.
type Engine struct {
	Logger      *slog.Logger
	Ledger      *ViolationLedger
	Cooldowns   *CooldownGate
	Exemptions  ExemptionPolicy
	Roles       RoleLookup
	Sets        setstore.SetStore
	Classifiers []Classifier
	Phones      *PhoneModerator
	Nicknames   NicknameDetector
	Resolver    *SeverityResolver
	Executor    *Executor
	Config      Config

	userLocks [userLockStripes]sync.Mutex
}

// Serializes everything that reads and then writes a user's ledger or phone record. Users
// share a fixed set of striped locks, so nicknames seen once cost nothing afterwards. Never
// hold two user locks at the same time.
func (e *Engine) lockUser(user string) func() {
	mu := &e.userLocks[murmur3.Sum32([]byte(NormalizeNick(user)))%userLockStripes]
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) IsMonitored(channel string) bool {
	if len(e.Config.MonitoredChannels) == 0 {
		return true
	}
	return slices.ContainsFunc(e.Config.MonitoredChannels, func(c string) bool {
		return strings.EqualFold(c, channel)
	})
}

func (e *Engine) isTrusted(ctx context.Context, user string) bool {
	if e.Sets == nil || e.Config.TrustedSet == "" {
		return false
	}
	ok, err := e.Sets.InSet(ctx, e.Config.TrustedSet, NormalizeNick(user))
	if err != nil {
		e.Logger.Warn("trusted set lookup failed", "user", user, "err", err)
		return false
	}
	return ok
}

// Role lookup failures count as "no roles": the user is evaluated.
func (e *Engine) isExempt(ctx context.Context, channel, user string) bool {
	if e.isTrusted(ctx, user) {
		return true
	}
	if e.Roles == nil {
		return false
	}
	flags, err := e.Roles.RoleFlags(ctx, channel, user)
	if err != nil {
		e.Logger.Warn("role lookup failed", "user", user, "channel", channel, "err", err)
		return false
	}
	return e.Exemptions.IsExempt(flags)
}

func (e *Engine) recoverPanic(eventType, user, channel string, err *error) {
	if r := recover(); r != nil {
		e.Logger.Error("moderation event execution exception", "err", r, "type", eventType, "user", user, "channel", channel)
		eventErrorCount.WithLabelValues(eventType).Inc()
		*err = fmt.Errorf("recovered from panic: %v", r)
	}
}

// Evaluates one chat message. Returns an error only for storage failures and for the
// immediate transport step of a sanction; bookkeeping is complete either way.
func (e *Engine) HandleMessage(ctx context.Context, sender, channel, text string, now time.Time) (err error) {
	defer e.recoverPanic("message", sender, channel, &err)
	start := time.Now()
	defer func() {
		eventProcessDuration.WithLabelValues("message").Observe(time.Since(start).Seconds())
	}()
	eventProcessCount.WithLabelValues("message").Inc()

	if !e.IsMonitored(channel) {
		return nil
	}
	logger := e.Logger.With("user", sender, "channel", channel)

	unlock := e.lockUser(sender)
	defer unlock()

	if e.isExempt(ctx, channel, sender) {
		eventSkippedCount.WithLabelValues("exempt").Inc()
		logger.Debug("user exempt from moderation")
		return nil
	}

	// phone numbers first, independent of cooldown and history
	if e.Phones != nil {
		pv, found, err := e.Phones.Check(ctx, sender, text, now)
		if err != nil {
			eventErrorCount.WithLabelValues("message").Inc()
			return err
		}
		if found && pv.Action != ActionNone {
			d := Decision{
				Action:      pv.Action,
				TargetUser:  sender,
				Channel:     channel,
				Categories:  []Category{CategoryPhoneNumber},
				Tier:        e.Resolver.Policy.TierOf(CategoryPhoneNumber, int(TierModerate)),
				Reason:      fmt.Sprintf("phone number (%d warnings)", pv.Warnings),
				BanMask:     BanMaskPreferHost,
				BanDuration: pv.BanDuration,
				Source:      SourcePhone,
			}
			return e.Executor.Execute(ctx, d, now)
		}
	}

	hist, _, err := e.Ledger.History(ctx, sender)
	if err != nil {
		eventErrorCount.WithLabelValues("message").Inc()
		return err
	}
	hist.Prune(now, e.Config.ResetWindow)
	verdict := e.Cooldowns.Check(sender, now, len(hist.Warnings), e.Resolver.Policy.LowSeverityCount(hist))
	if verdict == CooldownBlocked {
		eventSkippedCount.WithLabelValues("cooldown").Inc()
		logger.Debug("user in cooldown")
		return nil
	}

	res := e.Resolver.Filter(e.classify(ctx, logger, text), channel)
	if !res.IsViolation {
		return nil
	}
	if verdict == CooldownOverride && e.Resolver.TierOf(res) > TierLight {
		eventSkippedCount.WithLabelValues("cooldown").Inc()
		logger.Debug("user in cooldown, two-strike override does not cover tier", "categories", res.Categories)
		return nil
	}

	if _, err := e.Ledger.Prune(ctx, sender, now, e.Config.ResetWindow); err != nil {
		eventErrorCount.WithLabelValues("message").Inc()
		return err
	}
	hist, _, err = e.Ledger.History(ctx, sender)
	if err != nil {
		eventErrorCount.WithLabelValues("message").Inc()
		return err
	}
	d := e.Resolver.Resolve(res, hist, sender, channel)
	if d.Action == ActionNone {
		return nil
	}
	d.Source = SourceMessage
	logger.Info("violation detected", "categories", d.Categories, "tier", d.Tier, "action", d.Action, "score", res.Score, "override", verdict == CooldownOverride)
	return e.Executor.Execute(ctx, d, now)
}

// Runs every classifier concurrently and merges the results. A failing classifier is
// logged and skipped.
func (e *Engine) classify(ctx context.Context, logger *slog.Logger, text string) ModerationResult {
	results := make([]ModerationResult, len(e.Classifiers))
	var wg sync.WaitGroup
	for i, c := range e.Classifiers {
		wg.Add(1)
		go func(i int, c Classifier) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					classifierErrorCount.WithLabelValues(c.Name()).Inc()
					logger.Error("classifier panic", "classifier", c.Name(), "err", r)
				}
			}()
			res, err := c.Classify(ctx, text)
			if err != nil {
				classifierErrorCount.WithLabelValues(c.Name()).Inc()
				logger.Warn("classifier failed", "classifier", c.Name(), "err", err)
				return
			}
			results[i] = res
		}(i, c)
	}
	wg.Wait()
	return MergeResults(results...)
}

// Checks a joining user's nickname. An inappropriate nickname is redirected on first
// detection (or kicked, without a redirect channel).
func (e *Engine) HandleJoin(ctx context.Context, user, channel string, now time.Time) (err error) {
	defer e.recoverPanic("join", user, channel, &err)
	eventProcessCount.WithLabelValues("join").Inc()
	return e.checkNickname(ctx, user, channel, now)
}

// A nickname change is checked like a join on each monitored channel the user is in.
func (e *Engine) HandleNickChange(ctx context.Context, oldNick, newNick string, channels []string, now time.Time) (err error) {
	defer e.recoverPanic("nick", newNick, strings.Join(channels, ","), &err)
	eventProcessCount.WithLabelValues("nick").Inc()
	for _, ch := range channels {
		if err := e.checkNickname(ctx, newNick, ch, now); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) checkNickname(ctx context.Context, user, channel string, now time.Time) error {
	if e.Nicknames == nil || !e.IsMonitored(channel) || e.Resolver.Policy.IsRedirectChannel(channel) {
		return nil
	}
	match, ok := e.Nicknames.DetectNickname(user)
	if !ok {
		return nil
	}

	unlock := e.lockUser(user)
	defer unlock()

	if e.isExempt(ctx, channel, user) {
		eventSkippedCount.WithLabelValues("exempt").Inc()
		return nil
	}
	d := Decision{
		Action:      ActionRedirect,
		TargetUser:  user,
		Channel:     channel,
		Categories:  []Category{CategoryNickname},
		Tier:        e.Resolver.Policy.TierOf(CategoryNickname, int(TierModerate)),
		Reason:      fmt.Sprintf("inappropriate nickname (%s)", match.Pattern),
		BanMask:     BanMaskNick,
		BanDuration: e.Resolver.Policy.NicknameBanDuration,
		Source:      SourceNickname,
		WelcomeText: match.Welcome,
	}
	if e.Resolver.Policy.RedirectChannel == "" {
		d.Action = ActionKick
	}
	e.Logger.Info("inappropriate nickname", "user", user, "channel", channel, "pattern", match.Pattern)
	return e.Executor.Execute(ctx, d, now)
}

type UserStatus struct {
	User       string       `json:"user"`
	Warnings   int          `json:"warnings"`
	Kicks      int          `json:"kicks"`
	Categories []Category   `json:"categories"`
	LastAction *time.Time   `json:"last_action,omitempty"`
	Phone      *PhoneRecord `json:"phone,omitempty"`
}

// Current (pruned) status for a user. The bool is false when nothing is known about them,
// which is a normal result, not an error.
func (e *Engine) GetUserStatus(ctx context.Context, user string, now time.Time) (UserStatus, bool, error) {
	st := UserStatus{User: user, Categories: []Category{}}
	hist, found, err := e.Ledger.History(ctx, user)
	if err != nil {
		return st, false, err
	}
	hist.Prune(now, e.Config.ResetWindow)
	if hist.IsEmpty() {
		found = false
	}
	st.Warnings = len(hist.Warnings)
	st.Kicks = len(hist.Kicks)
	st.Categories = hist.CategoriesActive()
	if t, ok := e.Cooldowns.LastAction(user); ok {
		st.LastAction = &t
	}
	if e.Phones != nil {
		rec, ok, err := e.Phones.Record(ctx, user)
		if err != nil {
			return st, false, err
		}
		if ok {
			st.Phone = &rec
			found = true
		}
	}
	return st, found, nil
}

// Forgets a user's history, cooldown and phone record. Returns false if there was nothing
// to clear.
func (e *Engine) ClearUserHistory(ctx context.Context, user string) (bool, error) {
	unlock := e.lockUser(user)
	defer unlock()

	cleared, err := e.Ledger.Clear(ctx, user)
	if err != nil {
		return false, err
	}
	if _, ok := e.Cooldowns.LastAction(user); ok {
		cleared = true
	}
	e.Cooldowns.Clear(user)
	if e.Phones != nil {
		ok, err := e.Phones.Clear(ctx, user)
		if err != nil {
			return cleared, err
		}
		cleared = cleared || ok
	}
	e.Logger.Info("cleared user history", "user", user, "found", cleared)
	return cleared, nil
}

func (e *Engine) ClearAllHistory(ctx context.Context) error {
	if err := e.Ledger.ClearAll(ctx); err != nil {
		return err
	}
	e.Cooldowns.ClearAll()
	if e.Phones != nil {
		if err := e.Phones.ClearAll(ctx); err != nil {
			return err
		}
	}
	e.Logger.Info("cleared all user history")
	return nil
}

// Periodic housekeeping: prunes decayed histories, phone records and elapsed cooldowns.
// Each user is pruned under their lock, so a violation recorded concurrently is kept.
func (e *Engine) Maintain(ctx context.Context, now time.Time) error {
	users, err := e.Ledger.Users(ctx)
	if err != nil {
		return fmt.Errorf("listing ledger: %w", err)
	}
	removed := 0
	for _, u := range users {
		unlock := e.lockUser(u)
		deleted, err := e.Ledger.Prune(ctx, u, now, e.Config.ResetWindow)
		unlock()
		if err != nil {
			return fmt.Errorf("pruning ledger: %w", err)
		}
		if deleted {
			removed++
		}
	}

	phones := 0
	if e.Phones != nil {
		users, err := e.Phones.Users(ctx)
		if err != nil {
			return fmt.Errorf("listing phone records: %w", err)
		}
		for _, u := range users {
			unlock := e.lockUser(u)
			deleted, err := e.Phones.Prune(ctx, u, now)
			unlock()
			if err != nil {
				return fmt.Errorf("pruning phone records: %w", err)
			}
			if deleted {
				phones++
			}
		}
	}
	swept := e.Cooldowns.Sweep(now)
	e.Logger.Debug("maintenance done", "histories_removed", removed, "phone_removed", phones, "cooldowns_swept", swept)
	return nil
}

type EngineStats struct {
	TrackedUsers    int            `json:"tracked_users"`
	OffendersToday  int            `json:"offenders_today"`
	ActionsToday    map[string]int `json:"actions_today"`
	ActionsTotal    map[string]int `json:"actions_total"`
	ViolationsToday map[string]int `json:"violations_today"`
	ViolationsTotal map[string]int `json:"violations_total"`
	Phone           *PhoneStats    `json:"phone,omitempty"`
}

var statActions = []string{string(ActionWarn), string(ActionKick), string(ActionRedirect), string(ActionBan)}

func (e *Engine) Stats(ctx context.Context, now time.Time) (EngineStats, error) {
	var st EngineStats
	n, err := e.Ledger.Len(ctx)
	if err != nil {
		return st, err
	}
	st.TrackedUsers = n

	if cs := e.Executor.Counters; cs != nil {
		cats := make([]string, 0, len(e.Resolver.Policy.CategoryTiers))
		for c := range e.Resolver.Policy.CategoryTiers {
			cats = append(cats, string(c))
		}
		slices.Sort(cats)
		if st.ActionsToday, err = countstore.GetCounts(ctx, cs, "action", statActions, countstore.PeriodDay); err != nil {
			return st, err
		}
		if st.ActionsTotal, err = countstore.GetCounts(ctx, cs, "action", statActions, countstore.PeriodTotal); err != nil {
			return st, err
		}
		if st.ViolationsToday, err = countstore.GetCounts(ctx, cs, "violation", cats, countstore.PeriodDay); err != nil {
			return st, err
		}
		if st.ViolationsTotal, err = countstore.GetCounts(ctx, cs, "violation", cats, countstore.PeriodTotal); err != nil {
			return st, err
		}
		if st.OffendersToday, err = cs.GetCountDistinct(ctx, "offenders", "all", countstore.PeriodDay); err != nil {
			return st, err
		}
	}

	if e.Phones != nil {
		ps, err := e.Phones.Stats(ctx, now)
		if err != nil {
			return st, err
		}
		st.Phone = &ps
	}
	return st, nil
}

// Bans a user on an operator's request. Not recorded in the violation ledger.
func (e *Engine) AdminBan(ctx context.Context, channel, user string, duration time.Duration, reason string, now time.Time) error {
	return e.Executor.Execute(ctx, Decision{
		Action:      ActionBan,
		TargetUser:  user,
		Channel:     channel,
		Reason:      reason,
		BanMask:     BanMaskPreferHost,
		BanDuration: duration,
		Source:      SourceAdmin,
	}, now)
}

func (e *Engine) AdminKick(ctx context.Context, channel, user, reason string, now time.Time) error {
	return e.Executor.Execute(ctx, Decision{
		Action:     ActionKick,
		TargetUser: user,
		Channel:    channel,
		Reason:     reason,
		Source:     SourceAdmin,
	}, now)
}

func (e *Engine) AdminUnban(ctx context.Context, channel, mask string) error {
	if !strings.ContainsAny(mask, "!@") {
		mask = nickMask(mask)
	}
	return e.Executor.LiftBan(ctx, channel, mask)
}
