package engine

import (
	"context"
)

// Channel role of a user, resolved fresh per check.
type RoleFlags struct {
	// channel operator (or higher: owner, admin)
	IsElevated bool
	// half-operator
	IsSubElevated bool
	IsVoiced      bool
}

// Operators and half-operators may run admin commands.
func (f RoleFlags) IsAdmin() bool {
	return f.IsElevated || f.IsSubElevated
}

type RoleLookup interface {
	RoleFlags(ctx context.Context, channel, user string) (RoleFlags, error)
}

type ExemptionPolicy struct {
	ExemptElevated    bool
	ExemptSubElevated bool
	ExemptVoiced      bool
}

func DefaultExemptionPolicy() ExemptionPolicy {
	return ExemptionPolicy{
		ExemptElevated:    true,
		ExemptSubElevated: true,
		ExemptVoiced:      true,
	}
}

func (p ExemptionPolicy) IsExempt(f RoleFlags) bool {
	return (f.IsElevated && p.ExemptElevated) ||
		(f.IsSubElevated && p.ExemptSubElevated) ||
		(f.IsVoiced && p.ExemptVoiced)
}
