package auditlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ircwarden/warden/warden/engine"

	"github.com/stretchr/testify/assert"
)

func TestRecordAndQuery(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	l, err := Open(filepath.Join(t.TempDir(), "audit", "warden.db"))
	assert.NoError(err)
	defer l.Close()

	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.NoError(l.RecordIncident(ctx, engine.Incident{
		At:         t0,
		User:       "Alice",
		Channel:    "#francophonie",
		Action:     engine.ActionWarn,
		Source:     engine.SourceMessage,
		Categories: []engine.Category{engine.CategorySexual},
		Reason:     "sexual content",
	}))
	assert.NoError(l.RecordIncident(ctx, engine.Incident{
		At:         t0.Add(time.Minute),
		User:       "bob",
		Channel:    "#francophonie",
		Action:     engine.ActionBan,
		Source:     engine.SourceMessage,
		Categories: []engine.Category{engine.CategoryHate, engine.CategoryHateThreatening},
		Mask:       "*!*@10.0.0.7",
		Duration:   24 * time.Hour,
	}))
	assert.NoError(l.RecordIncident(ctx, engine.Incident{
		At:     t0.Add(2 * time.Minute),
		User:   "ALICE",
		Action: engine.ActionRedirect,
		Source: engine.SourceMessage,
	}))

	all, err := l.Recent(ctx, 10)
	assert.NoError(err)
	assert.Len(all, 3)
	assert.Equal(engine.ActionRedirect, all[0].Action)
	assert.Equal(engine.ActionWarn, all[2].Action)
	assert.True(all[2].At.Equal(t0))
	assert.NotEmpty(all[2].ID)

	ban := all[1]
	assert.Equal("bob", ban.User)
	assert.Equal("*!*@10.0.0.7", ban.Mask)
	assert.Equal(24*time.Hour, ban.Duration)
	assert.Equal([]engine.Category{engine.CategoryHate, engine.CategoryHateThreatening}, ban.Categories)
	assert.Nil(all[0].Categories)

	alice, err := l.ByUser(ctx, "alice", 10)
	assert.NoError(err)
	assert.Len(alice, 2)

	one, err := l.Recent(ctx, 1)
	assert.NoError(err)
	assert.Len(one, 1)

	n, err := l.Purge(ctx, t0.Add(90*time.Second))
	assert.NoError(err)
	assert.Equal(int64(2), n)
	all, err = l.Recent(ctx, 0)
	assert.NoError(err)
	assert.Len(all, 1)
}

func TestMemoryDB(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	l, err := Open(":memory:")
	assert.NoError(err)
	defer l.Close()

	assert.NoError(l.RecordIncident(ctx, engine.Incident{User: "x", Action: engine.ActionKick}))
	got, err := l.ByUser(ctx, "X", 5)
	assert.NoError(err)
	assert.Len(got, 1)
	assert.False(got[0].At.IsZero())
}

func TestClampLimit(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(20, clampLimit(0))
	assert.Equal(7, clampLimit(7))
	assert.Equal(500, clampLimit(10000))
}
