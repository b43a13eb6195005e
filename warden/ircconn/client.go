package ircconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ircwarden/warden/warden/cachestore"
	"github.com/ircwarden/warden/warden/engine"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
)

// cachestore name for nick → host entries
const HostCacheName = "irc-host"

type Config struct {
	// host:port, tried in order
	Servers      []string
	UseTLS       bool
	InsecureTLS  bool
	Nick         string
	User         string
	RealName     string
	Password     string
	OperName     string
	OperPassword string
	Channels     []string
	KeepAlive    time.Duration
	// connect retries wait attempt*ReconnectStep, up to MaxBackoff
	ReconnectStep time.Duration
	MaxBackoff    time.Duration
	// event handling concurrency
	Workers int
}

func DefaultConfig() Config {
	return Config{
		Nick:          "warden",
		User:          "warden",
		RealName:      "channel warden",
		KeepAlive:     4 * time.Minute,
		ReconnectStep: 10 * time.Second,
		MaxBackoff:    5 * time.Minute,
		Workers:       8,
	}
}

// What the client feeds incoming events to. Implemented by *engine.Engine.
type EventHandler interface {
	HandleMessage(ctx context.Context, sender, channel, text string, now time.Time) error
	HandleJoin(ctx context.Context, user, channel string, now time.Time) error
	HandleNickChange(ctx context.Context, oldNick, newNick string, channels []string, now time.Time) error
}

// Handles a "!command" line. replyTo is the channel, or the sender's nick for a private
// message. account is the sender's services account from the account-tag capability, empty
// when they are not logged in. Returns false if the line was not a command the sender may
// run; on a channel the line is then moderated like any other message.
type CommandFunc func(ctx context.Context, sender, account, replyTo, line string) bool

// The parts of *ircevent.Connection that transport operations use.
type sender interface {
	Send(command string, params ...string) error
	Connected() bool
	CurrentNick() string
}

// Implements engine.ChatTransport and engine.RoleLookup.
type Client struct {
	Config    Config
	Handler   EventHandler
	OnCommand CommandFunc
	Hosts     cachestore.CacheStore
	Logger    *slog.Logger
	Now       func() time.Time

	state    *networkState
	isOper   atomic.Bool
	dispatch *dispatcher

	mu   sync.RWMutex
	conn sender
	// context for handling events; the one given to Run
	baseCtx context.Context
}

func NewClient(cfg Config, handler EventHandler, hosts cachestore.CacheStore, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Config:  cfg,
		Handler: handler,
		Hosts:   hosts,
		Logger:  logger.With("system", "ircconn"),
		Now:     time.Now,
		state:   newNetworkState(),
	}
}

func (c *Client) sender() sender {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setSender(s sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = s
}

func (c *Client) ctx() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.baseCtx == nil {
		return context.Background()
	}
	return c.baseCtx
}

func (c *Client) IsConnected() bool {
	s := c.sender()
	return s != nil && s.Connected()
}

func (c *Client) IsOper() bool {
	return c.isOper.Load()
}

// Channels we are currently in.
func (c *Client) Channels() []string {
	return c.state.Channels()
}

func (c *Client) send(command string, params ...string) error {
	s := c.sender()
	if s == nil || !s.Connected() {
		return fmt.Errorf("%s: %w", command, engine.ErrNotConnected)
	}
	if err := s.Send(command, params...); err != nil {
		return fmt.Errorf("sending %s: %w", command, err)
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, channel, text string) error {
	return c.send("PRIVMSG", channel, text)
}

func (c *Client) SendNotice(ctx context.Context, target, text string) error {
	return c.send("NOTICE", target, text)
}

func (c *Client) Kick(ctx context.Context, channel, user, reason string) error {
	return c.send("KICK", channel, user, reason)
}

func (c *Client) SetBanMask(ctx context.Context, channel, mask string) error {
	return c.send("MODE", channel, "+b", mask)
}

func (c *Client) ClearBanMask(ctx context.Context, channel, mask string) error {
	return c.send("MODE", channel, "-b", mask)
}

// With oper privileges the user is force-parted and force-joined. Otherwise they are
// invited to toChannel, told about it, and kicked from fromChannel.
func (c *Client) MoveUser(ctx context.Context, user, fromChannel, toChannel, reason string) error {
	if c.IsOper() {
		if err := c.send("SAPART", user, fromChannel, reason); err != nil {
			return err
		}
		return c.send("SAJOIN", user, toChannel)
	}
	if err := c.send("INVITE", user, toChannel); err != nil {
		return err
	}
	if err := c.send("NOTICE", user, fmt.Sprintf("You have been invited to %s, please continue there: /join %s", toChannel, toChannel)); err != nil {
		return err
	}
	return c.send("KICK", fromChannel, user, fmt.Sprintf("%s (-> %s)", reason, toChannel))
}

// Cached host of user. On a miss a WHO is sent so a later lookup can succeed.
func (c *Client) ResolveHost(ctx context.Context, user string) (string, bool) {
	if c.Hosts == nil {
		return "", false
	}
	host, ok, err := c.Hosts.Get(ctx, HostCacheName, engine.NormalizeNick(user))
	if err != nil {
		c.Logger.Warn("host cache lookup failed", "user", user, "err", err)
	}
	if ok && host != "" {
		return host, true
	}
	if c.IsConnected() {
		_ = c.send("WHO", user)
	}
	return "", false
}

func (c *Client) RoleFlags(ctx context.Context, channel, user string) (engine.RoleFlags, error) {
	prefixes, _ := c.state.prefixes(channel, user)
	return roleFlags(prefixes), nil
}

func (c *Client) rememberHost(nick, host string) {
	if c.Hosts == nil || nick == "" || host == "" {
		return
	}
	if err := c.Hosts.Set(c.ctx(), HostCacheName, engine.NormalizeNick(nick), host); err != nil {
		c.Logger.Warn("host cache write failed", "user", nick, "err", err)
	}
}

func (c *Client) currentNick() string {
	if s := c.sender(); s != nil {
		if n := s.CurrentNick(); n != "" {
			return n
		}
	}
	return c.Config.Nick
}

func (c *Client) isSelf(nick string) bool {
	return engine.NormalizeNick(nick) == engine.NormalizeNick(c.currentNick())
}

// Runs fn for the given nick in order with that nick's other events. Without a running
// dispatcher (tests) it runs inline.
func (c *Client) enqueue(nick string, fn func(context.Context)) {
	d := c.dispatch
	if d == nil {
		fn(c.ctx())
		return
	}
	if err := d.AddWork(c.ctx(), engine.NormalizeNick(nick), fn); err != nil {
		c.Logger.Warn("dropping irc event", "user", nick, "err", err)
	}
}

func linearBackoff(attempt int, step, max time.Duration) time.Duration {
	d := time.Duration(attempt) * step
	if d > max || d <= 0 {
		return max
	}
	return d
}

func (c *Client) newConnection(server string) *ircevent.Connection {
	cfg := c.Config
	conn := &ircevent.Connection{
		Server:      server,
		Nick:        cfg.Nick,
		User:        cfg.User,
		RealName:    cfg.RealName,
		Password:    cfg.Password,
		UseTLS:      cfg.UseTLS,
		KeepAlive:   cfg.KeepAlive,
		QuitMessage: "warden shutting down",
		RequestCaps: []string{"account-tag"},
		Log:         slog.NewLogLogger(c.Logger.Handler(), slog.LevelDebug),
	}
	if cfg.UseTLS {
		host, _, err := net.SplitHostPort(server)
		if err != nil {
			host = server
		}
		conn.TLSConfig = &tls.Config{ServerName: host, InsecureSkipVerify: cfg.InsecureTLS}
	}
	c.registerCallbacks(conn)
	return conn
}

func (c *Client) registerCallbacks(conn *ircevent.Connection) {
	on := func(code string, fn func(ircmsg.Message)) {
		conn.AddCallback(code, func(msg ircmsg.Message) {
			eventsReceived.WithLabelValues(code).Inc()
			fn(msg)
		})
	}
	on("001", c.onWelcome)
	on("381", c.onYoureOper)
	on("PRIVMSG", c.onPrivmsg)
	on("JOIN", c.onJoin)
	on("PART", c.onPart)
	on("KICK", c.onKick)
	on("QUIT", c.onQuit)
	on("NICK", c.onNick)
	on("MODE", c.onMode)
	on("353", c.onNames)
	on("352", c.onWhoReply)
}

// Connects and keeps a connection up until ctx is done. Servers are tried in rotation;
// consecutive failures back off linearly.
func (c *Client) Run(ctx context.Context) error {
	if len(c.Config.Servers) == 0 {
		return errors.New("no IRC servers configured")
	}
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	c.dispatch = newDispatcher(ctx, c.Config.Workers, c.Logger)
	defer c.dispatch.Shutdown()

	failures := 0
	for i := 0; ; i++ {
		server := c.Config.Servers[i%len(c.Config.Servers)]
		logger := c.Logger.With("server", server)

		conn := c.newConnection(server)
		c.state.reset()
		c.isOper.Store(false)
		c.setSender(conn)

		logger.Info("connecting to irc server")
		if err := conn.Connect(); err != nil {
			failures++
			connectFailures.WithLabelValues(server).Inc()
			delay := linearBackoff(failures, c.Config.ReconnectStep, c.Config.MaxBackoff)
			logger.Warn("irc connect failed", "err", err, "attempt", failures, "retry_in", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		failures = 0

		if !c.watch(ctx, conn) {
			return nil
		}
		connectedGauge.Set(0)
		logger.Warn("irc connection lost, moving to next server")
	}
}

// Blocks while conn is up. Returns false when ctx was cancelled (and the connection closed).
func (c *Client) watch(ctx context.Context, conn *ircevent.Connection) bool {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	// give registration a chance before treating "not connected" as a drop
	grace := time.Now().Add(30 * time.Second)
	for {
		select {
		case <-ctx.Done():
			conn.Quit()
			connectedGauge.Set(0)
			return false
		case <-ticker.C:
			if !conn.Connected() && time.Now().After(grace) {
				return true
			}
		}
	}
}

func (c *Client) onWelcome(msg ircmsg.Message) {
	connectedGauge.Set(1)
	c.Logger.Info("registered with irc server", "nick", c.currentNick())
	if c.Config.OperName != "" {
		if err := c.send("OPER", c.Config.OperName, c.Config.OperPassword); err != nil {
			c.Logger.Error("failed to send OPER", "err", err)
		}
	}
	for _, ch := range c.Config.Channels {
		if err := c.send("JOIN", ch); err != nil {
			c.Logger.Error("failed to join channel", "channel", ch, "err", err)
		}
	}
}

func (c *Client) onYoureOper(msg ircmsg.Message) {
	c.isOper.Store(true)
	c.Logger.Info("irc operator privileges granted")
	me := c.currentNick()
	for _, ch := range c.state.Channels() {
		_ = c.send("MODE", ch, "+o", me)
	}
}

func (c *Client) onPrivmsg(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	nuh, err := ircmsg.ParseNUH(msg.Source)
	if err != nil || nuh.Name == "" || c.isSelf(nuh.Name) {
		return
	}
	c.rememberHost(nuh.Name, nuh.Host)
	target, text := msg.Params[0], msg.Params[1]
	nick := nuh.Name
	_, account := msg.GetTag("account")
	isCommand := c.OnCommand != nil && strings.HasPrefix(text, "!")

	if !isChannel(target) {
		if isCommand {
			c.enqueue(nick, func(ctx context.Context) { c.OnCommand(ctx, nick, account, nick, text) })
		}
		return
	}
	if c.Handler == nil && !isCommand {
		return
	}
	now := c.Now()
	c.enqueue(nick, func(ctx context.Context) {
		if isCommand && c.OnCommand(ctx, nick, account, target, text) {
			return
		}
		if c.Handler == nil {
			return
		}
		if err := c.Handler.HandleMessage(ctx, nick, target, text, now); err != nil {
			c.Logger.Error("message handling failed", "user", nick, "channel", target, "err", err)
		}
	})
}

func (c *Client) onJoin(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	nuh, err := ircmsg.ParseNUH(msg.Source)
	if err != nil || nuh.Name == "" {
		return
	}
	channel := msg.Params[0]
	if c.isSelf(nuh.Name) {
		c.state.addChannel(channel)
		// fills the host cache for everyone already there
		_ = c.send("WHO", channel)
		if c.IsOper() {
			_ = c.send("MODE", channel, "+o", nuh.Name)
		}
		return
	}
	c.state.join(channel, nuh.Name, "")
	c.rememberHost(nuh.Name, nuh.Host)
	if c.Handler == nil {
		return
	}
	nick, now := nuh.Name, c.Now()
	c.enqueue(nick, func(ctx context.Context) {
		if err := c.Handler.HandleJoin(ctx, nick, channel, now); err != nil {
			c.Logger.Error("join handling failed", "user", nick, "channel", channel, "err", err)
		}
	})
}

func (c *Client) leave(channel, nick string) {
	if c.isSelf(nick) {
		c.state.dropChannel(channel)
		return
	}
	c.state.part(channel, nick)
}

func (c *Client) onPart(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	if nuh, err := ircmsg.ParseNUH(msg.Source); err == nil {
		c.leave(msg.Params[0], nuh.Name)
	}
}

func (c *Client) onKick(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	channel, target := msg.Params[0], msg.Params[1]
	c.leave(channel, target)
	if c.isSelf(target) {
		c.Logger.Warn("kicked from channel, rejoining", "channel", channel)
		_ = c.send("JOIN", channel)
	}
}

func (c *Client) onQuit(msg ircmsg.Message) {
	if nuh, err := ircmsg.ParseNUH(msg.Source); err == nil {
		c.state.quit(nuh.Name)
	}
}

func (c *Client) onNick(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	nuh, err := ircmsg.ParseNUH(msg.Source)
	if err != nil || nuh.Name == "" {
		return
	}
	oldNick, newNick := nuh.Name, msg.Params[0]
	channels := c.state.rename(oldNick, newNick)
	if c.Hosts != nil {
		if err := cachestore.Move(c.ctx(), c.Hosts, HostCacheName, engine.NormalizeNick(oldNick), engine.NormalizeNick(newNick)); err != nil {
			c.Logger.Warn("failed to move host cache entry", "old", oldNick, "new", newNick, "err", err)
		}
	}
	c.rememberHost(newNick, nuh.Host)
	if c.isSelf(newNick) || c.Handler == nil || len(channels) == 0 {
		return
	}
	now := c.Now()
	// keyed on the new nick: later events arrive under it
	c.enqueue(newNick, func(ctx context.Context) {
		if err := c.Handler.HandleNickChange(ctx, oldNick, newNick, channels, now); err != nil {
			c.Logger.Error("nick change handling failed", "old", oldNick, "new", newNick, "err", err)
		}
	})
}

// MODE #chan +ov-b alice bob *!*@x
func (c *Client) onMode(msg ircmsg.Message) {
	if len(msg.Params) < 2 || !isChannel(msg.Params[0]) {
		return
	}
	channel, modes, args := msg.Params[0], msg.Params[1], msg.Params[2:]
	adding := true
	for i := 0; i < len(modes); i++ {
		m := modes[i]
		switch {
		case m == '+':
			adding = true
		case m == '-':
			adding = false
		default:
			if p, ok := modePrefix(m); ok {
				if len(args) == 0 {
					return
				}
				c.state.setPrefix(channel, args[0], p, adding)
				args = args[1:]
			} else if modeTakesArg(m, adding) && len(args) > 0 {
				args = args[1:]
			}
		}
	}
}

// RPL_NAMREPLY: <me> <symbol> <channel> :<names>
func (c *Client) onNames(msg ircmsg.Message) {
	if len(msg.Params) < 4 {
		return
	}
	channel := msg.Params[2]
	for _, entry := range strings.Fields(msg.Params[3]) {
		prefixes, nick, host := splitName(entry)
		if nick == "" {
			continue
		}
		c.state.join(channel, nick, prefixes)
		c.rememberHost(nick, host)
	}
}

// RPL_WHOREPLY: <me> <channel> <user> <host> <server> <nick> <flags> :<hops> <realname>
func (c *Client) onWhoReply(msg ircmsg.Message) {
	if len(msg.Params) < 7 {
		return
	}
	host, nick, flags := msg.Params[3], msg.Params[5], msg.Params[6]
	c.rememberHost(nick, host)
	if channel := msg.Params[1]; isChannel(channel) {
		// flags look like "H@" or "G*+"; the prefix chars are the membership
		var prefixes strings.Builder
		for _, r := range flags {
			if strings.ContainsRune(prefixChars, r) {
				prefixes.WriteRune(r)
			}
		}
		c.state.join(channel, nick, prefixes.String())
	}
}
