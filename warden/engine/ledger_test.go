package engine

import (
	"context"
	"testing"
	"time"

	"github.com/ircwarden/warden/warden/ledgerstore"

	"github.com/stretchr/testify/assert"
)

func TestLedgerRecordAndCount(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	l := NewViolationLedger(ledgerstore.NewMemStore[ViolationHistory]())
	assert.NoError(l.RecordViolation(ctx, "Alice", now, ActionWarn, CategorySexual))
	// same instant, counted twice
	assert.NoError(l.RecordViolation(ctx, "alice", now, ActionKick, CategorySexual, CategoryHate))
	assert.NoError(l.RecordViolation(ctx, "ALICE", now, ActionBan))

	w, err := l.CountWarnings(ctx, "alice")
	assert.NoError(err)
	assert.Equal(1, w)
	k, err := l.CountKicks(ctx, "Alice")
	assert.NoError(err)
	assert.Equal(2, k)
	cats, err := l.CategoriesActive(ctx, "alice")
	assert.NoError(err)
	assert.Equal([]Category{CategoryHate, CategorySexual}, cats)

	h, ok, err := l.History(ctx, "alice")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(2, h.CategoryCount(CategorySexual))
	assert.Equal(now, h.LastActivity())

	// returned history is a copy
	h.Warnings = append(h.Warnings, now)
	w, _ = l.CountWarnings(ctx, "alice")
	assert.Equal(1, w)
}

func TestLedgerNickCaseMapping(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Now()

	l := NewViolationLedger(ledgerstore.NewMemStore[ViolationHistory]())
	assert.NoError(l.RecordViolation(ctx, "[Bob]", now, ActionWarn, CategoryHate))
	w, err := l.CountWarnings(ctx, "{bob}")
	assert.NoError(err)
	assert.Equal(1, w)
}

func TestLedgerPrune(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	l := NewViolationLedger(ledgerstore.NewMemStore[ViolationHistory]())
	assert.NoError(l.RecordViolation(ctx, "carl", t0, ActionWarn, CategorySexual))
	assert.NoError(l.RecordViolation(ctx, "carl", t0.Add(12*time.Hour), ActionKick, CategoryHate))

	// exactly at the window edge nothing is dropped
	deleted, err := l.Prune(ctx, "carl", t0.Add(window), window)
	assert.NoError(err)
	assert.False(deleted)
	w, _ := l.CountWarnings(ctx, "carl")
	assert.Equal(1, w)

	now := t0.Add(window + time.Second)
	_, err = l.Prune(ctx, "carl", now, window)
	assert.NoError(err)
	h1, ok, err := l.History(ctx, "carl")
	assert.NoError(err)
	assert.True(ok)
	assert.Empty(h1.Warnings)
	assert.Equal(1, len(h1.Kicks))
	assert.Equal([]Category{CategoryHate}, h1.CategoriesActive())

	// pruning again with the same now changes nothing
	_, err = l.Prune(ctx, "carl", now, window)
	assert.NoError(err)
	h2, _, _ := l.History(ctx, "carl")
	assert.Equal(h1, h2)

	// fully decayed histories are deleted
	deleted, err = l.Prune(ctx, "carl", t0.Add(48*time.Hour), window)
	assert.NoError(err)
	assert.True(deleted)
	_, ok, err = l.History(ctx, "carl")
	assert.NoError(err)
	assert.False(ok)

	// pruning an unknown user is fine
	deleted, err = l.Prune(ctx, "nobody", now, window)
	assert.NoError(err)
	assert.False(deleted)
}

func TestLedgerUsersAndClear(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l := NewViolationLedger(ledgerstore.NewMemStore[ViolationHistory]())
	assert.NoError(l.RecordViolation(ctx, "old", t0, ActionWarn, CategorySexual))
	assert.NoError(l.RecordViolation(ctx, "new", t0.Add(20*time.Hour), ActionWarn, CategorySexual))

	users, err := l.Users(ctx)
	assert.NoError(err)
	assert.ElementsMatch([]string{"old", "new"}, users)
	for _, u := range users {
		_, err := l.Prune(ctx, u, t0.Add(25*time.Hour), 24*time.Hour)
		assert.NoError(err)
	}
	n, _ := l.Len(ctx)
	assert.Equal(1, n)

	ok, err := l.Clear(ctx, "new")
	assert.NoError(err)
	assert.True(ok)
	ok, err = l.Clear(ctx, "new")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(l.RecordViolation(ctx, "x", t0, ActionWarn))
	assert.NoError(l.ClearAll(ctx))
	n, _ = l.Len(ctx)
	assert.Equal(0, n)
}

func TestLedgerExportImport(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l := NewViolationLedger(ledgerstore.NewMemStore[ViolationHistory]())
	assert.NoError(l.RecordViolation(ctx, "stale", t0, ActionWarn, CategorySexual))
	assert.NoError(l.RecordViolation(ctx, "fresh", t0.Add(40*time.Hour), ActionKick, CategoryHate))

	snap, err := l.Export(ctx, t0.Add(50*time.Hour), 48*time.Hour)
	assert.NoError(err)
	assert.Equal(1, len(snap))
	assert.Contains(snap, "fresh")

	l2 := NewViolationLedger(ledgerstore.NewMemStore[ViolationHistory]())
	assert.NoError(l2.Import(ctx, snap))
	k, err := l2.CountKicks(ctx, "Fresh")
	assert.NoError(err)
	assert.Equal(1, k)
}
