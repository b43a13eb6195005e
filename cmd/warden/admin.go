package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ircwarden/warden/warden/auditlog"
	"github.com/ircwarden/warden/warden/classify"
	"github.com/ircwarden/warden/warden/engine"
	"github.com/ircwarden/warden/warden/setstore"

	"github.com/rivo/uniseg"
)

// IRC lines are limited to 512 bytes including the command and target.
const maxReplyBytes = 400

// !ban durations above this are rejected; larger values overflow time.Duration
const maxBanMinutes = 366 * 24 * 60

const helpText = "commands: !status <nick> | !clear <nick|all> | !stats | !health | !whitelist add|remove|list [nick] | " +
	"!badword add|remove|list [pattern] | !ban <nick> [minutes] | !unban <mask> | !kick <nick> [reason] | !phonestats | !history <nick>"

// Chat admin commands. Accepted from channel operators and half-operators on the channel
// they are typed in, or in private from users logged in to a services account that is in
// the admins set. Nicknames alone are never trusted in private.
type Commands struct {
	Engine   *engine.Engine
	Roles    engine.RoleLookup
	Sets     setstore.SetStore
	BadWords *classify.BadWordClassifier
	// nil disables !history
	Audit  *auditlog.Log
	Reply  func(ctx context.Context, target, text string) error
	Health func() string
	Now    func() time.Time
	Logger *slog.Logger
	// set of services accounts allowed to use commands in private
	AdminsSet string
}

func isChannelName(target string) bool {
	return strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&")
}

// Cuts s to at most max bytes, ending on a grapheme cluster boundary.
func truncateReply(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	limit := maxBytes - len("...")
	cut := 0
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		n := len(gr.Str())
		if cut+n > limit {
			break
		}
		cut += n
	}
	return s[:cut] + "..."
}

func (c *Commands) authorized(ctx context.Context, sender, account, replyTo string) bool {
	if isChannelName(replyTo) {
		f, err := c.Roles.RoleFlags(ctx, replyTo, sender)
		if err != nil {
			c.Logger.Warn("role lookup for admin command failed", "user", sender, "err", err)
			return false
		}
		return f.IsAdmin()
	}
	if c.Sets == nil || c.AdminsSet == "" || account == "" {
		return false
	}
	ok, err := c.Sets.InSet(ctx, c.AdminsSet, engine.NormalizeNick(account))
	if err != nil {
		c.Logger.Warn("admins set lookup failed", "user", sender, "account", account, "err", err)
		return false
	}
	return ok
}

// Entry point for ircconn. Replies go to replyTo. Returns false when the line was not run,
// so a channel message falls through to moderation.
func (c *Commands) Handle(ctx context.Context, sender, account, replyTo, line string) bool {
	reply, ok := c.Run(ctx, sender, account, replyTo, line)
	if !ok {
		return false
	}
	if reply == "" {
		return true
	}
	if err := c.Reply(ctx, replyTo, truncateReply(reply, maxReplyBytes)); err != nil {
		c.Logger.Warn("failed to send command reply", "target", replyTo, "err", err)
	}
	return true
}

// Executes a command line and returns the reply. The bool is false for unknown commands and
// unauthorized senders, which get no reply at all. account is the sender's services account,
// or empty.
func (c *Commands) Run(ctx context.Context, sender, account, replyTo, line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return "", false
	}
	cmd, args := strings.ToLower(fields[0][1:]), fields[1:]
	if !knownCommand(cmd) {
		return "", false
	}
	if !c.authorized(ctx, sender, account, replyTo) {
		c.Logger.Info("ignoring command from unauthorized user", "user", sender, "account", account, "target", replyTo, "command", cmd)
		return "", false
	}
	c.Logger.Info("admin command", "user", sender, "target", replyTo, "command", cmd, "args", args)

	reply, err := c.dispatch(ctx, cmd, args, sender, replyTo)
	if err != nil {
		c.Logger.Error("admin command failed", "command", cmd, "err", err)
		return fmt.Sprintf("!%s failed: %v", cmd, err), true
	}
	return reply, true
}

var commandNames = []string{"help", "status", "clear", "stats", "health", "whitelist", "badword", "ban", "unban", "kick", "phonestats", "history"}

func knownCommand(cmd string) bool {
	return slices.Contains(commandNames, cmd)
}

func usage(cmd string) string {
	switch cmd {
	case "status", "history":
		return fmt.Sprintf("usage: !%s <nick>", cmd)
	case "clear":
		return "usage: !clear <nick|all>"
	case "whitelist":
		return "usage: !whitelist add|remove <nick>, or !whitelist list"
	case "badword":
		return "usage: !badword add|remove <pattern>, or !badword list"
	case "ban":
		return "usage: !ban <nick> [minutes]"
	case "unban":
		return "usage: !unban <mask>"
	case "kick":
		return "usage: !kick <nick> [reason]"
	}
	return helpText
}

func (c *Commands) dispatch(ctx context.Context, cmd string, args []string, sender, replyTo string) (string, error) {
	now := c.Now()
	switch cmd {
	case "help":
		return helpText, nil
	case "status":
		if len(args) != 1 {
			return usage(cmd), nil
		}
		return c.status(ctx, args[0], now)
	case "clear":
		if len(args) != 1 {
			return usage(cmd), nil
		}
		if strings.EqualFold(args[0], "all") {
			if err := c.Engine.ClearAllHistory(ctx); err != nil {
				return "", err
			}
			return "cleared all user history", nil
		}
		cleared, err := c.Engine.ClearUserHistory(ctx, args[0])
		if err != nil {
			return "", err
		}
		if !cleared {
			return fmt.Sprintf("no history for %s", args[0]), nil
		}
		return fmt.Sprintf("cleared history for %s", args[0]), nil
	case "stats":
		return c.stats(ctx, now)
	case "health":
		if c.Health == nil {
			return "ok", nil
		}
		return c.Health(), nil
	case "whitelist":
		return c.whitelist(ctx, args)
	case "badword":
		return c.badword(args)
	case "ban":
		if !isChannelName(replyTo) {
			return "use !ban on the channel", nil
		}
		if len(args) < 1 || len(args) > 2 {
			return usage(cmd), nil
		}
		var dur time.Duration
		if len(args) == 2 {
			mins, err := strconv.Atoi(args[1])
			if err != nil || mins < 0 || mins > maxBanMinutes {
				return usage(cmd), nil
			}
			dur = time.Duration(mins) * time.Minute
		}
		if err := c.Engine.AdminBan(ctx, replyTo, args[0], dur, "banned by "+sender, now); err != nil {
			return "", err
		}
		if dur == 0 {
			return fmt.Sprintf("banned %s", args[0]), nil
		}
		return fmt.Sprintf("banned %s for %s", args[0], dur), nil
	case "unban":
		if !isChannelName(replyTo) {
			return "use !unban on the channel", nil
		}
		if len(args) != 1 {
			return usage(cmd), nil
		}
		if err := c.Engine.AdminUnban(ctx, replyTo, args[0]); err != nil {
			return "", err
		}
		return fmt.Sprintf("unbanned %s", args[0]), nil
	case "kick":
		if !isChannelName(replyTo) {
			return "use !kick on the channel", nil
		}
		if len(args) < 1 {
			return usage(cmd), nil
		}
		reason := "kicked by " + sender
		if len(args) > 1 {
			reason = strings.Join(args[1:], " ")
		}
		if err := c.Engine.AdminKick(ctx, replyTo, args[0], reason, now); err != nil {
			return "", err
		}
		return "", nil
	case "phonestats":
		if c.Engine.Phones == nil {
			return "phone moderation disabled", nil
		}
		st, err := c.Engine.Phones.Stats(ctx, now)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("phone: %d tracked, %d banned, %d warnings, %d numbers", st.TrackedUsers, st.ActiveBans, st.TotalWarnings, st.TotalNumbers), nil
	case "history":
		if len(args) != 1 {
			return usage(cmd), nil
		}
		return c.history(ctx, args[0])
	}
	return helpText, nil
}

func joinCategories(cats []engine.Category) string {
	s := make([]string, len(cats))
	for i, c := range cats {
		s[i] = string(c)
	}
	return strings.Join(s, ",")
}

func (c *Commands) status(ctx context.Context, nick string, now time.Time) (string, error) {
	st, found, err := c.Engine.GetUserStatus(ctx, nick, now)
	if err != nil {
		return "", err
	}
	if !found {
		return fmt.Sprintf("no history for %s", nick), nil
	}
	out := fmt.Sprintf("%s: %d warning(s), %d kick(s)", nick, st.Warnings, st.Kicks)
	if len(st.Categories) > 0 {
		out += ", categories: " + joinCategories(st.Categories)
	}
	if st.LastAction != nil {
		out += fmt.Sprintf(", last action %s ago", now.Sub(*st.LastAction).Round(time.Second))
	}
	if st.Phone != nil {
		out += fmt.Sprintf(", phone warnings: %d", st.Phone.Warnings)
		if now.Before(st.Phone.BannedUntil) {
			out += ", phone-banned until " + st.Phone.BannedUntil.UTC().Format("01-02 15:04")
		}
	}
	return out, nil
}

func formatCounts(m map[string]int) string {
	parts := make([]string, 0, 4)
	for _, a := range []engine.Action{engine.ActionWarn, engine.ActionKick, engine.ActionRedirect, engine.ActionBan} {
		parts = append(parts, fmt.Sprintf("%s=%d", a, m[string(a)]))
	}
	return strings.Join(parts, " ")
}

func (c *Commands) stats(ctx context.Context, now time.Time) (string, error) {
	st, err := c.Engine.Stats(ctx, now)
	if err != nil {
		return "", err
	}
	out := fmt.Sprintf("tracked users: %d, offenders today: %d", st.TrackedUsers, st.OffendersToday)
	if st.ActionsToday != nil {
		out += fmt.Sprintf(", today: %s, total: %s", formatCounts(st.ActionsToday), formatCounts(st.ActionsTotal))
	}
	return out, nil
}

func (c *Commands) whitelist(ctx context.Context, args []string) (string, error) {
	set := c.Engine.Config.TrustedSet
	if len(args) == 1 && args[0] == "list" {
		members, err := c.Sets.Members(ctx, set)
		if err != nil {
			return "", err
		}
		if len(members) == 0 {
			return "whitelist is empty", nil
		}
		return "whitelist: " + strings.Join(members, ", "), nil
	}
	if len(args) != 2 {
		return usage("whitelist"), nil
	}
	nick := engine.NormalizeNick(args[1])
	switch args[0] {
	case "add":
		if err := c.Sets.AddToSet(ctx, set, nick); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s added to whitelist", args[1]), nil
	case "remove":
		if err := c.Sets.RemoveFromSet(ctx, set, nick); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s removed from whitelist", args[1]), nil
	}
	return usage("whitelist"), nil
}

func (c *Commands) badword(args []string) (string, error) {
	if c.BadWords == nil {
		return "badword filter disabled", nil
	}
	ps := c.BadWords.Patterns
	if len(args) == 1 && args[0] == "list" {
		return fmt.Sprintf("%d patterns: %s", ps.Len(), strings.Join(ps.List(), ", ")), nil
	}
	if len(args) < 2 {
		return usage("badword"), nil
	}
	pattern := strings.Join(args[1:], " ")
	switch args[0] {
	case "add":
		if err := ps.Add(pattern); err != nil {
			return fmt.Sprintf("invalid pattern: %v", err), nil
		}
		return fmt.Sprintf("added pattern %q", pattern), nil
	case "remove":
		if !ps.Remove(pattern) {
			return fmt.Sprintf("no such pattern %q", pattern), nil
		}
		return fmt.Sprintf("removed pattern %q", pattern), nil
	}
	return usage("badword"), nil
}

func (c *Commands) history(ctx context.Context, nick string) (string, error) {
	if c.Audit == nil {
		return "audit log disabled", nil
	}
	incidents, err := c.Audit.ByUser(ctx, nick, 5)
	if err != nil {
		return "", err
	}
	if len(incidents) == 0 {
		return fmt.Sprintf("no incidents for %s", nick), nil
	}
	parts := make([]string, 0, len(incidents))
	for _, inc := range incidents {
		p := fmt.Sprintf("%s %s", inc.At.UTC().Format("01-02 15:04"), inc.Action)
		if inc.Channel != "" {
			p += " " + inc.Channel
		}
		if len(inc.Categories) > 0 {
			p += " (" + joinCategories(inc.Categories) + ")"
		}
		parts = append(parts, p)
	}
	return nick + ": " + strings.Join(parts, " | "), nil
}
