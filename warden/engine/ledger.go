package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ircwarden/warden/warden/ledgerstore"
)

// Per-user violation history. Each sequence is in chronological (append) order.
type ViolationHistory struct {
	Warnings   []time.Time              `json:"warnings"`
	Kicks      []time.Time              `json:"kicks"`
	ByCategory map[Category][]time.Time `json:"violations_by_type"`
}

func (h ViolationHistory) Clone() ViolationHistory {
	out := ViolationHistory{
		Warnings: slices.Clone(h.Warnings),
		Kicks:    slices.Clone(h.Kicks),
	}
	if h.ByCategory != nil {
		out.ByCategory = make(map[Category][]time.Time, len(h.ByCategory))
		for c, l := range h.ByCategory {
			out.ByCategory[c] = slices.Clone(l)
		}
	}
	return out
}

func (h ViolationHistory) IsEmpty() bool {
	if len(h.Warnings) > 0 || len(h.Kicks) > 0 {
		return false
	}
	for _, l := range h.ByCategory {
		if len(l) > 0 {
			return false
		}
	}
	return true
}

func (h ViolationHistory) CategoryCount(c Category) int {
	return len(h.ByCategory[c])
}

// Categories with at least one entry, sorted.
func (h ViolationHistory) CategoriesActive() []Category {
	out := []Category{}
	for c, l := range h.ByCategory {
		if len(l) > 0 {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return out
}

// Most recent timestamp anywhere in the history; zero if empty.
func (h ViolationHistory) LastActivity() time.Time {
	var last time.Time
	for _, l := range append([][]time.Time{h.Warnings, h.Kicks}, mapValues(h.ByCategory)...) {
		if len(l) > 0 && l[len(l)-1].After(last) {
			last = l[len(l)-1]
		}
	}
	return last
}

func mapValues(m map[Category][]time.Time) [][]time.Time {
	out := make([][]time.Time, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	return out
}

func pruneTimes(l []time.Time, now time.Time, window time.Duration) []time.Time {
	return slices.DeleteFunc(l, func(ts time.Time) bool {
		return now.Sub(ts) > window
	})
}

// Drops every timestamp older than window, in place. Empty categories are removed.
func (h *ViolationHistory) Prune(now time.Time, window time.Duration) {
	h.Warnings = pruneTimes(h.Warnings, now, window)
	h.Kicks = pruneTimes(h.Kicks, now, window)
	for c, l := range h.ByCategory {
		l = pruneTimes(l, now, window)
		if len(l) == 0 {
			delete(h.ByCategory, c)
		} else {
			h.ByCategory[c] = l
		}
	}
}

// Keyed by normalized nickname. Concurrent readers are fine; writers for the same user
// must be serialized by the caller (the Engine holds a per-user lock).
type ViolationLedger struct {
	Store ledgerstore.Store[ViolationHistory]
}

func NewViolationLedger(store ledgerstore.Store[ViolationHistory]) *ViolationLedger {
	return &ViolationLedger{Store: store}
}

// Returns a copy of the user's history, safe to mutate.
func (l *ViolationLedger) History(ctx context.Context, user string) (ViolationHistory, bool, error) {
	h, ok, err := l.Store.Get(ctx, NormalizeNick(user))
	if err != nil {
		return ViolationHistory{}, false, fmt.Errorf("reading violation history: %w", err)
	}
	return h.Clone(), ok, nil
}

// Appends now to each category sequence, and to the warnings (for Warn) or kicks (for Kick,
// Redirect and Ban) sequence. Never deduplicates.
func (l *ViolationLedger) RecordViolation(ctx context.Context, user string, now time.Time, outcome Action, cats ...Category) error {
	h, _, err := l.History(ctx, user)
	if err != nil {
		return err
	}
	switch outcome {
	case ActionWarn:
		h.Warnings = append(h.Warnings, now)
	case ActionKick, ActionRedirect, ActionBan:
		h.Kicks = append(h.Kicks, now)
	}
	if len(cats) > 0 && h.ByCategory == nil {
		h.ByCategory = make(map[Category][]time.Time)
	}
	for _, c := range cats {
		h.ByCategory[c] = append(h.ByCategory[c], now)
	}
	if err := l.Store.Put(ctx, NormalizeNick(user), h); err != nil {
		return fmt.Errorf("recording violation: %w", err)
	}
	return nil
}

// Removes entries older than window. A history left empty is deleted outright, and true is
// returned.
func (l *ViolationLedger) Prune(ctx context.Context, user string, now time.Time, window time.Duration) (bool, error) {
	h, ok, err := l.History(ctx, user)
	if err != nil || !ok {
		return false, err
	}
	h.Prune(now, window)
	if h.IsEmpty() {
		return true, l.Store.Delete(ctx, NormalizeNick(user))
	}
	return false, l.Store.Put(ctx, NormalizeNick(user), h)
}

// Normalized nickname of every user with a stored history.
func (l *ViolationLedger) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := l.Store.Iterate(ctx, func(key string, h ViolationHistory) error {
		users = append(users, key)
		return nil
	})
	return users, err
}

func (l *ViolationLedger) CountWarnings(ctx context.Context, user string) (int, error) {
	h, _, err := l.History(ctx, user)
	return len(h.Warnings), err
}

func (l *ViolationLedger) CountKicks(ctx context.Context, user string) (int, error) {
	h, _, err := l.History(ctx, user)
	return len(h.Kicks), err
}

func (l *ViolationLedger) CategoriesActive(ctx context.Context, user string) ([]Category, error) {
	h, _, err := l.History(ctx, user)
	return h.CategoriesActive(), err
}

// Deletes the user's history. Returns false if there was none.
func (l *ViolationLedger) Clear(ctx context.Context, user string) (bool, error) {
	_, ok, err := l.Store.Get(ctx, NormalizeNick(user))
	if err != nil || !ok {
		return false, err
	}
	return true, l.Store.Delete(ctx, NormalizeNick(user))
}

func (l *ViolationLedger) ClearAll(ctx context.Context) error {
	return l.Store.Clear(ctx)
}

func (l *ViolationLedger) Len(ctx context.Context) (int, error) {
	return l.Store.Len(ctx)
}

// Copies out every history with activity newer than maxAge, pruned to that age.
func (l *ViolationLedger) Export(ctx context.Context, now time.Time, maxAge time.Duration) (map[string]ViolationHistory, error) {
	out := make(map[string]ViolationHistory)
	err := l.Store.Iterate(ctx, func(key string, h ViolationHistory) error {
		h = h.Clone()
		h.Prune(now, maxAge)
		if !h.IsEmpty() {
			out[key] = h
		}
		return nil
	})
	return out, err
}

// Loads histories (eg, from a snapshot), replacing any existing entry for the same user.
func (l *ViolationLedger) Import(ctx context.Context, histories map[string]ViolationHistory) error {
	for user, h := range histories {
		if h.IsEmpty() {
			continue
		}
		if err := l.Store.Put(ctx, NormalizeNick(user), h.Clone()); err != nil {
			return fmt.Errorf("importing history for %s: %w", user, err)
		}
	}
	return nil
}
