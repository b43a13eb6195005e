package engine

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type CooldownVerdict int

const (
	// no recent action, evaluate normally
	CooldownClear CooldownVerdict = iota
	// recently acted on, drop the event
	CooldownBlocked
	// recently acted on, but the two-strike override applies: evaluate, and only act if the
	// result resolves to a warn-tier category
	CooldownOverride
)

func (v CooldownVerdict) String() string {
	switch v {
	case CooldownClear:
		return "clear"
	case CooldownBlocked:
		return "blocked"
	case CooldownOverride:
		return "override"
	default:
		return "unknown"
	}
}

// Lets a second light-tier offense through the cooldown, so a borderline user escalates
// instead of being silently dropped.
type TwoStrikeOverride struct {
	Enabled bool
	// prior warnings must equal this
	PriorWarnings int
	// light-tier category entries must be strictly fewer than this
	MaxLowSeverity int
}

func DefaultTwoStrikeOverride() TwoStrikeOverride {
	return TwoStrikeOverride{
		Enabled:        true,
		PriorWarnings:  1,
		MaxLowSeverity: 2,
	}
}

// Tracks the last enforcement action per user. Absence of an entry means the cooldown does
// not block. Held in memory only: after a restart every user starts clear.
type CooldownGate struct {
	Duration time.Duration
	Override TwoStrikeOverride

	last *xsync.MapOf[string, time.Time]
}

func NewCooldownGate(d time.Duration, override TwoStrikeOverride) *CooldownGate {
	return &CooldownGate{
		Duration: d,
		Override: override,
		last:     xsync.NewMapOf[string, time.Time](),
	}
}

func (g *CooldownGate) CanEvaluate(user string, now time.Time) bool {
	last, ok := g.last.Load(NormalizeNick(user))
	return !ok || now.Sub(last) > g.Duration
}

// Like CanEvaluate, but considers the two-strike override given the user's current
// (pruned) warning count and number of light-tier category entries.
func (g *CooldownGate) Check(user string, now time.Time, priorWarnings, lowSeverity int) CooldownVerdict {
	if g.CanEvaluate(user, now) {
		return CooldownClear
	}
	o := g.Override
	if o.Enabled && priorWarnings == o.PriorWarnings && lowSeverity < o.MaxLowSeverity {
		return CooldownOverride
	}
	return CooldownBlocked
}

func (g *CooldownGate) MarkActed(user string, now time.Time) {
	g.last.Store(NormalizeNick(user), now)
}

func (g *CooldownGate) LastAction(user string) (time.Time, bool) {
	return g.last.Load(NormalizeNick(user))
}

func (g *CooldownGate) Clear(user string) {
	g.last.Delete(NormalizeNick(user))
}

func (g *CooldownGate) ClearAll() {
	g.last.Clear()
}

// Forgets entries whose cooldown has elapsed; they no longer affect any decision.
func (g *CooldownGate) Sweep(now time.Time) int {
	n := 0
	g.last.Range(func(u string, _ time.Time) bool {
		// re-checked under the entry lock in case MarkActed ran since Range saw it
		g.last.Compute(u, func(t time.Time, loaded bool) (time.Time, bool) {
			stale := loaded && now.Sub(t) > g.Duration
			if stale {
				n++
			}
			return t, stale
		})
		return true
	})
	return n
}
