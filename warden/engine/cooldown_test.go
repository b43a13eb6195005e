package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCooldownGate(t *testing.T) {
	assert := assert.New(t)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	g := NewCooldownGate(2*time.Minute, DefaultTwoStrikeOverride())
	assert.True(g.CanEvaluate("alice", t0))
	_, ok := g.LastAction("alice")
	assert.False(ok)

	g.MarkActed("Alice", t0)
	assert.False(g.CanEvaluate("alice", t0.Add(time.Second)))
	assert.False(g.CanEvaluate("alice", t0.Add(2*time.Minute)))
	assert.True(g.CanEvaluate("alice", t0.Add(2*time.Minute+time.Second)))
	assert.True(g.CanEvaluate("bob", t0))

	g.Clear("ALICE")
	assert.True(g.CanEvaluate("alice", t0))
}

func TestCooldownTwoStrikeOverride(t *testing.T) {
	assert := assert.New(t)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	soon := t0.Add(10 * time.Second)

	g := NewCooldownGate(2*time.Minute, DefaultTwoStrikeOverride())
	assert.Equal(CooldownClear, g.Check("alice", t0, 0, 0))

	g.MarkActed("alice", t0)
	assert.Equal(CooldownOverride, g.Check("alice", soon, 1, 1))
	assert.Equal(CooldownBlocked, g.Check("alice", soon, 1, 2))
	assert.Equal(CooldownBlocked, g.Check("alice", soon, 0, 0))
	assert.Equal(CooldownBlocked, g.Check("alice", soon, 2, 0))
	assert.Equal(CooldownClear, g.Check("alice", t0.Add(3*time.Minute), 5, 5))

	g.Override.Enabled = false
	assert.Equal(CooldownBlocked, g.Check("alice", soon, 1, 1))
}

func TestCooldownSweep(t *testing.T) {
	assert := assert.New(t)
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	g := NewCooldownGate(time.Minute, DefaultTwoStrikeOverride())
	g.MarkActed("a", t0)
	g.MarkActed("b", t0.Add(50*time.Second))
	assert.Equal(1, g.Sweep(t0.Add(90*time.Second)))
	_, ok := g.LastAction("a")
	assert.False(ok)
	_, ok = g.LastAction("b")
	assert.True(ok)

	g.ClearAll()
	_, ok = g.LastAction("b")
	assert.False(ok)
}

func TestExemptionPolicy(t *testing.T) {
	assert := assert.New(t)

	all := DefaultExemptionPolicy()
	none := ExemptionPolicy{}
	opsOnly := ExemptionPolicy{ExemptElevated: true}

	fixtures := []struct {
		flags  RoleFlags
		policy ExemptionPolicy
		exempt bool
	}{
		{RoleFlags{}, all, false},
		{RoleFlags{IsElevated: true}, all, true},
		{RoleFlags{IsSubElevated: true}, all, true},
		{RoleFlags{IsVoiced: true}, all, true},
		{RoleFlags{IsElevated: true, IsVoiced: true}, none, false},
		{RoleFlags{IsVoiced: true}, opsOnly, false},
		{RoleFlags{IsElevated: true}, opsOnly, true},
	}
	for _, fix := range fixtures {
		assert.Equal(fix.exempt, fix.policy.IsExempt(fix.flags), "flags=%+v policy=%+v", fix.flags, fix.policy)
	}

	assert.True(RoleFlags{IsSubElevated: true}.IsAdmin())
	assert.False(RoleFlags{IsVoiced: true}.IsAdmin())
}
