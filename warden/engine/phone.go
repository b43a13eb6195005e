package engine

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/ircwarden/warden/warden/ledgerstore"
)

// Phone-number sharing has its own ledger and threshold, separate from the severity tiers.
type PhoneRecord struct {
	Warnings      int       `json:"warnings"`
	Numbers       []string  `json:"numbers"`
	LastViolation time.Time `json:"last_violation"`
	BannedUntil   time.Time `json:"banned_until,omitempty"`
}

type PhonePolicy struct {
	// warnings given before the next violation bans
	WarningThreshold int
	// records idle longer than this start over
	ResetWindow time.Duration
	BanDuration time.Duration
}

func DefaultPhonePolicy() PhonePolicy {
	return PhonePolicy{
		WarningThreshold: 1,
		ResetWindow:      48 * time.Hour,
		BanDuration:      24 * time.Hour,
	}
}

type PhoneVerdict struct {
	Action      Action
	Numbers     []string
	Warnings    int
	BanDuration time.Duration
}

type PhoneModerator struct {
	Store    ledgerstore.Store[PhoneRecord]
	Detector PhoneDetector
	Policy   PhonePolicy
}

func NewPhoneModerator(store ledgerstore.Store[PhoneRecord], detector PhoneDetector, policy PhonePolicy) *PhoneModerator {
	return &PhoneModerator{
		Store:    store,
		Detector: detector,
		Policy:   policy,
	}
}

// Runs the detector and, on a match, updates the user's phone record. Returns false when no
// number was found. A match while the user is still banned yields ActionNone.
func (p *PhoneModerator) Check(ctx context.Context, user, text string, now time.Time) (PhoneVerdict, bool, error) {
	match, ok := p.Detector.DetectPhone(text)
	if !ok {
		return PhoneVerdict{Action: ActionNone}, false, nil
	}
	key := NormalizeNick(user)
	rec, _, err := p.Store.Get(ctx, key)
	if err != nil {
		return PhoneVerdict{}, true, fmt.Errorf("reading phone record: %w", err)
	}
	rec.Numbers = slices.Clone(rec.Numbers)

	if !rec.LastViolation.IsZero() && now.Sub(rec.LastViolation) > p.Policy.ResetWindow {
		rec = PhoneRecord{}
	}
	if now.Before(rec.BannedUntil) {
		return PhoneVerdict{Action: ActionNone, Numbers: match.Numbers, Warnings: rec.Warnings}, true, nil
	}

	v := PhoneVerdict{Numbers: match.Numbers}
	if rec.Warnings >= p.Policy.WarningThreshold {
		v.Action = ActionBan
		v.BanDuration = p.Policy.BanDuration
		rec.BannedUntil = now.Add(p.Policy.BanDuration)
	} else {
		v.Action = ActionWarn
		rec.Warnings++
	}
	v.Warnings = rec.Warnings
	for _, n := range match.Numbers {
		if !slices.Contains(rec.Numbers, n) {
			rec.Numbers = append(rec.Numbers, n)
		}
	}
	rec.LastViolation = now
	if err := p.Store.Put(ctx, key, rec); err != nil {
		return PhoneVerdict{}, true, fmt.Errorf("writing phone record: %w", err)
	}
	return v, true, nil
}

func (p *PhoneModerator) Record(ctx context.Context, user string) (PhoneRecord, bool, error) {
	return p.Store.Get(ctx, NormalizeNick(user))
}

func (p *PhoneModerator) Clear(ctx context.Context, user string) (bool, error) {
	key := NormalizeNick(user)
	_, ok, err := p.Store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return true, p.Store.Delete(ctx, key)
}

func (p *PhoneModerator) ClearAll(ctx context.Context) error {
	return p.Store.Clear(ctx)
}

type PhoneStats struct {
	TrackedUsers  int `json:"tracked_users"`
	ActiveBans    int `json:"active_bans"`
	TotalWarnings int `json:"total_warnings"`
	TotalNumbers  int `json:"total_numbers"`
}

func (p *PhoneModerator) Stats(ctx context.Context, now time.Time) (PhoneStats, error) {
	var st PhoneStats
	err := p.Store.Iterate(ctx, func(key string, rec PhoneRecord) error {
		st.TrackedUsers++
		st.TotalWarnings += rec.Warnings
		st.TotalNumbers += len(rec.Numbers)
		if now.Before(rec.BannedUntil) {
			st.ActiveBans++
		}
		return nil
	})
	return st, err
}

func (p *PhoneModerator) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := p.Store.Iterate(ctx, func(key string, rec PhoneRecord) error {
		users = append(users, key)
		return nil
	})
	return users, err
}

// Drops the user's record if it has been idle for longer than the reset window and no ban
// is running. Returns true if it was dropped.
func (p *PhoneModerator) Prune(ctx context.Context, user string, now time.Time) (bool, error) {
	key := NormalizeNick(user)
	rec, ok, err := p.Store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if now.Sub(rec.LastViolation) <= p.Policy.ResetWindow || now.Before(rec.BannedUntil) {
		return false, nil
	}
	return true, p.Store.Delete(ctx, key)
}
