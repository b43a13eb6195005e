package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ircwarden/warden/warden/countstore"
	"github.com/ircwarden/warden/warden/flagstore"
)

type Timing struct {
	KickDelay     time.Duration
	BanDelay      time.Duration
	PhoneBanDelay time.Duration
	MoveDelay     time.Duration
	WelcomeDelay  time.Duration
	// bound on each delayed transport call
	ActionTimeout time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		KickDelay:     2 * time.Second,
		BanDelay:      2 * time.Second,
		PhoneBanDelay: 3 * time.Second,
		MoveDelay:     3 * time.Second,
		WelcomeDelay:  5 * time.Second,
		ActionTimeout: 10 * time.Second,
	}
}

// Notice templates. Placeholders: {nick} {channel} {reason} {duration} {target}.
type Messages struct {
	Warn       string
	Kick       string
	KickNotice string
	Redirect   string
	Welcome    string
	Ban        string
	BanNotice  string
	PhoneWarn  string
	PhoneBan   string
}

func DefaultMessages() Messages {
	return Messages{
		Warn:       "{nick}: warning, this kind of message is not allowed here ({reason}). Next time you will be removed.",
		KickNotice: "{nick}: you were warned. Removing you from {channel}.",
		Kick:       "Repeated violation: {reason}",
		Redirect:   "{nick}: this conversation belongs in {target}, moving you there.",
		Welcome:    "Welcome {nick}! You were moved here from {channel}. Please read the channel rules.",
		BanNotice:  "{nick} is banned from {channel} ({duration}).",
		Ban:        "Banned: {reason}",
		PhoneWarn:  "{nick}: sharing phone numbers is not allowed here. Next time you will be banned.",
		PhoneBan:   "{nick}: phone numbers are not allowed, you are banned for {duration}.",
	}
}

func (m Messages) render(tmpl string, d Decision, target string) string {
	dur := "permanent"
	if d.BanDuration > 0 {
		dur = d.BanDuration.String()
	}
	return strings.NewReplacer(
		"{nick}", d.TargetUser,
		"{channel}", d.Channel,
		"{reason}", d.Reason,
		"{duration}", dur,
		"{target}", target,
	).Replace(tmpl)
}

// A sanction as it was executed.
type Incident struct {
	ID         string        `json:"id,omitempty"`
	At         time.Time     `json:"at"`
	User       string        `json:"user"`
	Channel    string        `json:"channel,omitempty"`
	Action     Action        `json:"action"`
	Source     Source        `json:"source"`
	Categories []Category    `json:"categories,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Mask       string        `json:"mask,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Turns decisions in to transport calls. The first notice is sent synchronously; the
// disruptive part (kick, ban, move) and any reversal are scheduled.
//
// Bookkeeping (ledger, cooldown, counters, audit) happens synchronously and exactly once
// per Execute, even when the transport fails.
type Executor struct {
	Transport ChatTransport
	Scheduler Scheduler
	Ledger    *ViolationLedger
	Cooldowns *CooldownGate
	// active ban masks per channel
	Bans            flagstore.FlagStore
	Counters        countstore.CountStore
	Incidents       IncidentRecorder
	Notifier        Notifier
	Logger          *slog.Logger
	Timing          Timing
	Messages        Messages
	RedirectChannel string

	mu     sync.Mutex
	banGen map[string]uint64
}

func (x *Executor) Execute(ctx context.Context, d Decision, now time.Time) error {
	if d.Action == ActionNone {
		return nil
	}
	logger := x.Logger.With("user", d.TargetUser, "channel", d.Channel, "action", d.Action, "source", d.Source)

	var mask string
	if d.Action == ActionBan {
		mask = x.banMask(ctx, d.TargetUser, d.BanMask)
	} else if d.Action == ActionRedirect {
		mask = nickMask(d.TargetUser)
	}

	x.bookkeeping(ctx, logger, d, mask, now)
	logger.Info("executing sanction", "categories", d.Categories, "reason", d.Reason, "mask", mask)

	var err error
	switch d.Action {
	case ActionWarn:
		tmpl := x.Messages.Warn
		if d.Source == SourcePhone {
			tmpl = x.Messages.PhoneWarn
		}
		err = x.send(ctx, d.Channel, x.Messages.render(tmpl, d, ""))
	case ActionKick:
		err = x.execKick(ctx, d)
	case ActionRedirect:
		err = x.execRedirect(ctx, d, mask)
	case ActionBan:
		err = x.execBan(ctx, d, mask)
	default:
		err = fmt.Errorf("unknown action: %s", d.Action)
	}
	if err != nil {
		logger.Error("sanction delivery failed", "err", err)
		return fmt.Errorf("executing %s against %s: %w", d.Action, d.TargetUser, err)
	}
	return nil
}

func (x *Executor) bookkeeping(ctx context.Context, logger *slog.Logger, d Decision, mask string, now time.Time) {
	sanctionCount.WithLabelValues(string(d.Action), string(d.Source)).Inc()
	for _, c := range d.Categories {
		violationCount.WithLabelValues(string(c)).Inc()
	}

	if d.Source == SourceMessage || d.Source == SourceNickname {
		if err := x.Ledger.RecordViolation(ctx, d.TargetUser, now, d.Action, d.Categories...); err != nil {
			logger.Error("failed to record violation", "err", err)
		}
		x.Cooldowns.MarkActed(d.TargetUser, now)
	}

	if x.Counters != nil {
		if err := x.Counters.Increment(ctx, "action", string(d.Action)); err != nil {
			logger.Warn("failed to increment counter", "err", err)
		}
		for _, c := range d.Categories {
			if err := x.Counters.Increment(ctx, "violation", string(c)); err != nil {
				logger.Warn("failed to increment counter", "err", err)
			}
		}
		if d.Source != SourceAdmin {
			if err := x.Counters.IncrementDistinct(ctx, "offenders", "all", NormalizeNick(d.TargetUser)); err != nil {
				logger.Warn("failed to increment counter", "err", err)
			}
		}
	}

	inc := Incident{
		At:         now,
		User:       d.TargetUser,
		Channel:    d.Channel,
		Action:     d.Action,
		Source:     d.Source,
		Categories: d.Categories,
		Reason:     d.Reason,
		Mask:       mask,
		Duration:   d.BanDuration,
	}
	if x.Incidents != nil {
		if err := x.Incidents.RecordIncident(ctx, inc); err != nil {
			logger.Warn("failed to record incident", "err", err)
		}
	}
	if x.Notifier != nil && d.Action == ActionBan {
		x.Scheduler.ScheduleAfter(0, func() {
			ctx, cancel := x.actionContext()
			defer cancel()
			if err := x.Notifier.SendIncident(ctx, inc); err != nil {
				logger.Warn("failed to send notification", "err", err)
			}
		})
	}
}

func (x *Executor) execKick(ctx context.Context, d Decision) error {
	if err := x.send(ctx, d.Channel, x.Messages.render(x.Messages.KickNotice, d, "")); err != nil {
		return err
	}
	reason := x.Messages.render(x.Messages.Kick, d, "")
	x.later(x.Timing.KickDelay, "kick", func(ctx context.Context) error {
		return x.Transport.Kick(ctx, d.Channel, d.TargetUser, reason)
	})
	return nil
}

func (x *Executor) execRedirect(ctx context.Context, d Decision, mask string) error {
	target := x.RedirectChannel
	if target == "" {
		return fmt.Errorf("no redirect channel configured")
	}
	if err := x.send(ctx, d.Channel, x.Messages.render(x.Messages.Redirect, d, target)); err != nil {
		return err
	}
	welcome := d.WelcomeText
	if welcome == "" {
		welcome = x.Messages.Welcome
	}
	welcome = x.Messages.render(welcome, d, target)
	x.later(x.Timing.MoveDelay, "move", func(ctx context.Context) error {
		// close the origin first, so the user can't bounce straight back in
		if d.BanDuration > 0 {
			if err := x.SetBan(ctx, d.Channel, mask, d.BanDuration); err != nil {
				return err
			}
		}
		if err := x.Transport.MoveUser(ctx, d.TargetUser, d.Channel, target, d.Reason); err != nil {
			return err
		}
		x.later(x.Timing.WelcomeDelay, "welcome", func(ctx context.Context) error {
			return x.Transport.SendMessage(ctx, target, welcome)
		})
		return nil
	})
	return nil
}

func (x *Executor) execBan(ctx context.Context, d Decision, mask string) error {
	tmpl := x.Messages.BanNotice
	delay := x.Timing.BanDelay
	if d.Source == SourcePhone {
		tmpl = x.Messages.PhoneBan
		delay = x.Timing.PhoneBanDelay
	}
	if err := x.send(ctx, d.Channel, x.Messages.render(tmpl, d, "")); err != nil {
		return err
	}
	reason := x.Messages.render(x.Messages.Ban, d, "")
	x.later(delay, "ban", func(ctx context.Context) error {
		if err := x.SetBan(ctx, d.Channel, mask, d.BanDuration); err != nil {
			return err
		}
		return x.Transport.Kick(ctx, d.Channel, d.TargetUser, reason)
	})
	return nil
}

func (x *Executor) send(ctx context.Context, channel, text string) error {
	if !x.Transport.IsConnected() {
		transportErrorCount.WithLabelValues("send").Inc()
		return ErrNotConnected
	}
	if err := x.Transport.SendMessage(ctx, channel, text); err != nil {
		transportErrorCount.WithLabelValues("send").Inc()
		return err
	}
	return nil
}

func (x *Executor) actionContext() (context.Context, context.CancelFunc) {
	timeout := x.Timing.ActionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Schedules a transport step. Failures are logged and dropped, never retried.
func (x *Executor) later(d time.Duration, op string, fn func(ctx context.Context) error) {
	x.Scheduler.ScheduleAfter(d, func() {
		if !x.Transport.IsConnected() {
			transportErrorCount.WithLabelValues(op).Inc()
			x.Logger.Warn("dropping delayed action, transport disconnected", "op", op)
			return
		}
		ctx, cancel := x.actionContext()
		defer cancel()
		if err := fn(ctx); err != nil {
			transportErrorCount.WithLabelValues(op).Inc()
			x.Logger.Warn("delayed action failed", "op", op, "err", err)
		}
	})
}

func nickMask(nick string) string {
	return nick + "!*@*"
}

func (x *Executor) banMask(ctx context.Context, user string, strategy BanMaskStrategy) string {
	if strategy == BanMaskPreferHost {
		if host, ok := x.Transport.ResolveHost(ctx, user); ok && host != "" {
			return "*!*@" + host
		}
	}
	return nickMask(user)
}

func banKey(channel, mask string) string {
	return strings.ToLower(channel) + " " + mask
}

// Sets a ban mask and registers it. With a positive duration an unban is scheduled; the
// unban only fires if this is still the latest ban set for the same channel and mask.
func (x *Executor) SetBan(ctx context.Context, channel, mask string, duration time.Duration) error {
	if err := x.Transport.SetBanMask(ctx, channel, mask); err != nil {
		return err
	}
	if err := x.Bans.Add(ctx, strings.ToLower(channel), []string{mask}); err != nil {
		x.Logger.Warn("failed to register ban", "channel", channel, "mask", mask, "err", err)
	}
	gen := x.bumpGen(channel, mask)
	if duration > 0 {
		x.Scheduler.ScheduleAfter(duration, func() {
			x.reverseBan(channel, mask, gen)
		})
	}
	return nil
}

func (x *Executor) bumpGen(channel, mask string) uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.banGen == nil {
		x.banGen = make(map[string]uint64)
	}
	k := banKey(channel, mask)
	x.banGen[k]++
	return x.banGen[k]
}

func (x *Executor) currentGen(channel, mask string) uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.banGen[banKey(channel, mask)]
}

func (x *Executor) reverseBan(channel, mask string, gen uint64) {
	logger := x.Logger.With("channel", channel, "mask", mask)
	if x.currentGen(channel, mask) != gen {
		banReversalCount.WithLabelValues("stale").Inc()
		logger.Debug("skipping unban, ban was overwritten")
		return
	}
	ctx, cancel := x.actionContext()
	defer cancel()
	active, err := flagstore.Contains(ctx, x.Bans, strings.ToLower(channel), mask)
	if err != nil {
		logger.Warn("failed to check ban registry", "err", err)
	} else if !active {
		banReversalCount.WithLabelValues("stale").Inc()
		logger.Debug("skipping unban, ban already lifted")
		return
	}
	if err := x.liftBan(ctx, channel, mask); err != nil {
		banReversalCount.WithLabelValues("failed").Inc()
		logger.Warn("scheduled unban failed", "err", err)
		return
	}
	banReversalCount.WithLabelValues("lifted").Inc()
	logger.Info("lifted temporary ban")
}

func (x *Executor) liftBan(ctx context.Context, channel, mask string) error {
	if !x.Transport.IsConnected() {
		return ErrNotConnected
	}
	if err := x.Transport.ClearBanMask(ctx, channel, mask); err != nil {
		transportErrorCount.WithLabelValues("unban").Inc()
		return err
	}
	return x.Bans.Remove(ctx, strings.ToLower(channel), []string{mask})
}

// Lifts a ban right away (admin unban). Any pending scheduled unban for the same mask
// becomes a no-op.
func (x *Executor) LiftBan(ctx context.Context, channel, mask string) error {
	x.bumpGen(channel, mask)
	err := x.liftBan(ctx, channel, mask)
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	if err != nil {
		return fmt.Errorf("lifting ban %s on %s: %w", mask, channel, err)
	}
	return nil
}

// Active ban masks registered for a channel.
func (x *Executor) ActiveBans(ctx context.Context, channel string) ([]string, error) {
	return x.Bans.Get(ctx, strings.ToLower(channel))
}
