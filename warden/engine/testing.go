package engine

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ircwarden/warden/warden/countstore"
	"github.com/ircwarden/warden/warden/flagstore"
	"github.com/ircwarden/warden/warden/ledgerstore"
	"github.com/ircwarden/warden/warden/setstore"
)

type TransportCall struct {
	Op      string
	Channel string
	User    string
	Arg     string
}

// Records every call. Safe for concurrent use.
type FakeTransport struct {
	mu        sync.Mutex
	Calls     []TransportCall
	Connected bool
	Hosts     map[string]string
}

var _ ChatTransport = (*FakeTransport)(nil)

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		Connected: true,
		Hosts:     make(map[string]string),
	}
}

func (t *FakeTransport) record(c TransportCall) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.Connected {
		return ErrNotConnected
	}
	t.Calls = append(t.Calls, c)
	return nil
}

func (t *FakeTransport) SetConnected(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connected = v
}

func (t *FakeTransport) SendMessage(ctx context.Context, channel, text string) error {
	return t.record(TransportCall{Op: "send", Channel: channel, Arg: text})
}

func (t *FakeTransport) Kick(ctx context.Context, channel, user, reason string) error {
	return t.record(TransportCall{Op: "kick", Channel: channel, User: user, Arg: reason})
}

func (t *FakeTransport) SetBanMask(ctx context.Context, channel, mask string) error {
	return t.record(TransportCall{Op: "ban", Channel: channel, Arg: mask})
}

func (t *FakeTransport) ClearBanMask(ctx context.Context, channel, mask string) error {
	return t.record(TransportCall{Op: "unban", Channel: channel, Arg: mask})
}

func (t *FakeTransport) MoveUser(ctx context.Context, user, fromChannel, toChannel, reason string) error {
	return t.record(TransportCall{Op: "move", Channel: fromChannel, User: user, Arg: toChannel})
}

func (t *FakeTransport) ResolveHost(ctx context.Context, user string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.Hosts[NormalizeNick(user)]
	return h, ok
}

func (t *FakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Connected
}

func (t *FakeTransport) CallsOf(op string) []TransportCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TransportCall
	for _, c := range t.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (t *FakeTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

type FakeRoles struct {
	mu    sync.Mutex
	Flags map[string]RoleFlags
	Err   error
}

func NewFakeRoles() *FakeRoles {
	return &FakeRoles{Flags: make(map[string]RoleFlags)}
}

func (r *FakeRoles) Set(channel, user string, f RoleFlags) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Flags[strings.ToLower(channel)+" "+NormalizeNick(user)] = f
}

func (r *FakeRoles) RoleFlags(ctx context.Context, channel, user string) (RoleFlags, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return RoleFlags{}, r.Err
	}
	return r.Flags[strings.ToLower(channel)+" "+NormalizeNick(user)], nil
}

var testTagRegex = regexp.MustCompile(`\[([a-z/-]+)\]`)

// Flags every "[category]" tag in the text, eg "[sexual]" or "[hate/threatening]".
type TagClassifier struct{}

func (TagClassifier) Name() string { return "tags" }

func (TagClassifier) Classify(ctx context.Context, text string) (ModerationResult, error) {
	var res ModerationResult
	for _, m := range testTagRegex.FindAllStringSubmatch(text, -1) {
		res.IsViolation = true
		res.Categories = append(res.Categories, Category(m[1]))
		res.Score = 8
	}
	if res.IsViolation {
		res.Reason = fmt.Sprintf("tagged %v", res.Categories)
	}
	return res, nil
}

// Classifier backed by a function, for one-off test behavior.
type FuncClassifier struct {
	ClassifierName string
	Fn             func(ctx context.Context, text string) (ModerationResult, error)
}

func (c FuncClassifier) Name() string { return c.ClassifierName }

func (c FuncClassifier) Classify(ctx context.Context, text string) (ModerationResult, error) {
	return c.Fn(ctx, text)
}

var testPhoneRegex = regexp.MustCompile(`tel:(\d+)`)

// Detects "tel:NNNN" tokens.
type TagPhoneDetector struct{}

func (TagPhoneDetector) DetectPhone(text string) (PhoneMatch, bool) {
	var m PhoneMatch
	for _, sm := range testPhoneRegex.FindAllStringSubmatch(text, -1) {
		m.Numbers = append(m.Numbers, sm[1])
	}
	return m, len(m.Numbers) > 0
}

// Flags any nickname containing "sexy".
type TagNicknameDetector struct{}

func (TagNicknameDetector) DetectNickname(nick string) (NicknameMatch, bool) {
	if strings.Contains(strings.ToLower(nick), "sexy") {
		return NicknameMatch{Pattern: "*sexy*", Welcome: "Hi {nick}, pick a nickname that fits {channel} next time."}, true
	}
	return NicknameMatch{}, false
}

type EngineFixture struct {
	Engine    *Engine
	Transport *FakeTransport
	Roles     *FakeRoles
	Scheduler *ManualScheduler
	Sets      *setstore.MemSetStore
}

// Current fixture time; advance it with Scheduler.Advance.
func (f EngineFixture) Now() time.Time {
	return f.Scheduler.Now()
}

// Builds an engine over memory stores and fakes: monitored channels #francophonie and
// #adultes, default policy, tag-driven classifiers, a manual scheduler starting at noon on
// 2024-01-01 UTC.
func EngineTestFixture() EngineFixture {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sched := NewManualScheduler(start)
	transport := NewFakeTransport()
	roles := NewFakeRoles()
	sets := setstore.NewMemSetStore()
	policy := DefaultSeverityPolicy()

	ledger := NewViolationLedger(ledgerstore.NewMemStore[ViolationHistory]())
	cooldowns := NewCooldownGate(2*time.Minute, DefaultTwoStrikeOverride())
	counters := countstore.NewMemCountStore()
	counters.Now = sched.Now

	exec := &Executor{
		Transport:       transport,
		Scheduler:       sched,
		Ledger:          ledger,
		Cooldowns:       cooldowns,
		Bans:            flagstore.NewMemFlagStore(),
		Counters:        counters,
		Logger:          slog.Default(),
		Timing:          DefaultTiming(),
		Messages:        DefaultMessages(),
		RedirectChannel: policy.RedirectChannel,
	}
	eng := &Engine{
		Logger:      slog.Default(),
		Ledger:      ledger,
		Cooldowns:   cooldowns,
		Exemptions:  DefaultExemptionPolicy(),
		Roles:       roles,
		Sets:        sets,
		Classifiers: []Classifier{TagClassifier{}},
		Phones:      NewPhoneModerator(ledgerstore.NewMemStore[PhoneRecord](), TagPhoneDetector{}, DefaultPhonePolicy()),
		Nicknames:   TagNicknameDetector{},
		Resolver:    &SeverityResolver{Policy: policy},
		Executor:    exec,
		Config: Config{
			ResetWindow:       24 * time.Hour,
			MonitoredChannels: []string{"#francophonie", "#adultes"},
			TrustedSet:        DefaultTrustedSet,
		},
	}
	return EngineFixture{
		Engine:    eng,
		Transport: transport,
		Roles:     roles,
		Scheduler: sched,
		Sets:      sets,
	}
}
