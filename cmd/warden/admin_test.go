package main

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ircwarden/warden/warden/auditlog"
	"github.com/ircwarden/warden/warden/classify"
	"github.com/ircwarden/warden/warden/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	target string
	text   string
}

func testCommands(t *testing.T) (*Commands, engine.EngineFixture, *[]reply) {
	f := engine.EngineTestFixture()
	badwords, err := classify.NewBadWordClassifier([]string{"*crapule*"})
	require.NoError(t, err)
	audit, err := auditlog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	var replies []reply
	c := &Commands{
		Engine:   f.Engine,
		Roles:    f.Roles,
		Sets:     f.Sets,
		BadWords: badwords,
		Audit:    audit,
		Reply: func(ctx context.Context, target, text string) error {
			replies = append(replies, reply{target, text})
			return nil
		},
		Health:    func() string { return "irc connected" },
		Now:       f.Now,
		Logger:    slog.Default(),
		AdminsSet: adminUserSet,
	}
	f.Roles.Set("#francophonie", "Oper", engine.RoleFlags{IsElevated: true})
	f.Roles.Set("#francophonie", "Halfop", engine.RoleFlags{IsSubElevated: true})
	f.Roles.Set("#francophonie", "Voiced", engine.RoleFlags{IsVoiced: true})
	return c, f, &replies
}

func TestCommandsAuthorization(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, f, _ := testCommands(t)

	_, ok := c.Run(ctx, "Oper", "", "#francophonie", "!help")
	assert.True(ok)
	_, ok = c.Run(ctx, "Halfop", "", "#francophonie", "!help")
	assert.True(ok)
	_, ok = c.Run(ctx, "Voiced", "", "#francophonie", "!help")
	assert.False(ok)
	_, ok = c.Run(ctx, "Nobody", "", "#francophonie", "!help")
	assert.False(ok)

	// privately, only a logged-in account in the admins set counts
	_, ok = c.Run(ctx, "Oper", "OperAccount", "warden", "!help")
	assert.False(ok)
	assert.NoError(f.Sets.AddToSet(ctx, adminUserSet, "operaccount"))
	_, ok = c.Run(ctx, "Oper", "OperAccount", "warden", "!help")
	assert.True(ok)
	_, ok = c.Run(ctx, "SomeoneElse", "OperAccount", "warden", "!help")
	assert.True(ok)

	// unknown commands and plain chat are ignored, even for operators
	_, ok = c.Run(ctx, "Oper", "", "#francophonie", "!dance")
	assert.False(ok)
	_, ok = c.Run(ctx, "Oper", "", "#francophonie", "hello")
	assert.False(ok)
}

func TestCommandsPrivateNickSpoofing(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, f, _ := testCommands(t)
	assert.NoError(f.Sets.AddToSet(ctx, adminUserSet, "oper"))
	assert.NoError(f.Engine.HandleMessage(ctx, "Mallory", "#francophonie", "[hate]", f.Now()))

	// someone using an admin's nickname without being logged in to their account
	_, ok := c.Run(ctx, "Oper", "", "Oper", "!whitelist add Mallory")
	assert.False(ok)
	_, ok = c.Run(ctx, "Oper", "mallory", "Oper", "!clear all")
	assert.False(ok)

	trusted, err := f.Sets.InSet(ctx, engine.DefaultTrustedSet, "mallory")
	assert.NoError(err)
	assert.False(trusted)
	n, _ := f.Engine.Ledger.Len(ctx)
	assert.Equal(1, n)
}

func TestCommandsStatusAndClear(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, f, _ := testCommands(t)

	out, ok := c.Run(ctx, "Oper", "", "#francophonie", "!status Alice")
	assert.True(ok)
	assert.Equal("no history for Alice", out)

	assert.NoError(f.Engine.HandleMessage(ctx, "Alice", "#francophonie", "hey [sexual]", f.Now()))
	f.Scheduler.Advance(30 * time.Second)
	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!status alice")
	assert.Contains(out, "1 warning(s), 0 kick(s)")
	assert.Contains(out, "categories: sexual")
	assert.Contains(out, "last action 30s ago")

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!clear Alice")
	assert.Equal("cleared history for Alice", out)
	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!clear Alice")
	assert.Equal("no history for Alice", out)

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!clear all")
	assert.Equal("cleared all user history", out)

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!status")
	assert.Equal("usage: !status <nick>", out)
}

func TestCommandsWhitelist(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, f, _ := testCommands(t)

	out, _ := c.Run(ctx, "Oper", "", "#francophonie", "!whitelist list")
	assert.Equal("whitelist is empty", out)

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!whitelist add Carol")
	assert.Equal("Carol added to whitelist", out)
	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!whitelist list")
	assert.Equal("whitelist: carol", out)

	// trusted users are not moderated
	assert.NoError(f.Engine.HandleMessage(ctx, "Carol", "#francophonie", "[hate]", f.Now()))
	assert.Empty(f.Transport.Calls)

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!whitelist remove carol")
	assert.Equal("carol removed from whitelist", out)
	assert.NoError(f.Engine.HandleMessage(ctx, "Carol", "#francophonie", "[hate]", f.Now()))
	assert.NotEmpty(f.Transport.Calls)

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!whitelist add")
	assert.Contains(out, "usage")
}

func TestCommandsBadword(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, _, _ := testCommands(t)

	res, err := c.BadWords.Classify(ctx, "espece de zigoto")
	assert.NoError(err)
	assert.False(res.IsViolation)

	out, _ := c.Run(ctx, "Oper", "", "#francophonie", "!badword add *zigoto*")
	assert.Equal(`added pattern "*zigoto*"`, out)
	res, err = c.BadWords.Classify(ctx, "espece de zigoto")
	assert.NoError(err)
	assert.True(res.IsViolation)

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!badword list")
	assert.True(strings.HasPrefix(out, "2 patterns: "))

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!badword remove *zigoto*")
	assert.Equal(`removed pattern "*zigoto*"`, out)
	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!badword remove *zigoto*")
	assert.Equal(`no such pattern "*zigoto*"`, out)
}

func TestCommandsBanKickUnban(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, f, _ := testCommands(t)

	out, _ := c.Run(ctx, "Oper", "", "#francophonie", "!ban Mallory 15")
	assert.Equal("banned Mallory for 15m0s", out)
	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!ban Mallory soon")
	assert.Equal("usage: !ban <nick> [minutes]", out)
	// would overflow into a negative, and so permanent, ban
	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!ban Mallory 9223372036854775807")
	assert.Equal("usage: !ban <nick> [minutes]", out)
	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!ban Mallory 153722867280912930")
	assert.Equal("usage: !ban <nick> [minutes]", out)
	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!kick Trudy stop that")
	assert.Equal("", out)
	f.Scheduler.Advance(10 * time.Second)

	bans := f.Transport.CallsOf("ban")
	assert.Equal(1, len(bans))
	assert.Equal("#francophonie", bans[0].Channel)
	kicked := map[string]string{}
	for _, k := range f.Transport.CallsOf("kick") {
		kicked[k.User] = k.Arg
	}
	assert.Equal("Banned: banned by Oper", kicked["Mallory"])
	assert.Equal("Repeated violation: stop that", kicked["Trudy"])

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!unban Mallory")
	assert.Equal("unbanned Mallory", out)
	unbans := f.Transport.CallsOf("unban")
	assert.Equal(1, len(unbans))
	assert.Equal("Mallory!*@*", unbans[0].Arg)

	// channel operations need a channel
	assert.NoError(f.Sets.AddToSet(ctx, adminUserSet, "operaccount"))
	out, _ = c.Run(ctx, "Oper", "OperAccount", "warden", "!ban Mallory")
	assert.Equal("use !ban on the channel", out)
}

func TestCommandsStatsAndHistory(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, f, _ := testCommands(t)
	f.Engine.Executor.Incidents = c.Audit

	assert.NoError(f.Engine.HandleMessage(ctx, "Dave", "#francophonie", "[hate]", f.Now()))
	f.Scheduler.Advance(time.Minute)

	out, _ := c.Run(ctx, "Oper", "", "#francophonie", "!stats")
	assert.Contains(out, "tracked users: 1, offenders today: 1")
	assert.Contains(out, "today: warn=1")

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!history Dave")
	assert.Contains(out, "Dave: ")
	assert.Contains(out, "warn #francophonie (hate)")

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!history Erin")
	assert.Equal("no incidents for Erin", out)

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!phonestats")
	assert.Equal("phone: 0 tracked, 0 banned, 0 warnings, 0 numbers", out)

	out, _ = c.Run(ctx, "Oper", "", "#francophonie", "!health")
	assert.Equal("irc connected", out)
}

func TestCommandsHandleReplies(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, _, replies := testCommands(t)

	assert.True(c.Handle(ctx, "Oper", "", "#francophonie", "!help"))
	assert.False(c.Handle(ctx, "Nobody", "", "#francophonie", "!help"))
	assert.False(c.Handle(ctx, "Oper", "", "#francophonie", "!lol [sexual]"))
	assert.True(c.Handle(ctx, "Oper", "", "#francophonie", "!kick Trudy"))
	assert.Equal(1, len(*replies))
	assert.Equal("#francophonie", (*replies)[0].target)
	assert.LessOrEqual(len((*replies)[0].text), maxReplyBytes)
}

func TestTruncateReply(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("short", truncateReply("short", 10))
	assert.Equal("abcd...", truncateReply("abcdefghijk", 7))
	// never splits a multi-byte rune
	assert.Equal("éé...", truncateReply("ééééé", 7))
	// or a base letter from its combining accent
	assert.Equal("e\u0301...", truncateReply("e\u0301e\u0301e\u0301", 7))
}
