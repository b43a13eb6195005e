// Per-key string flag sets. The sanction executor keys these by channel and stores the
// ban masks it has set there, so reversals and admin unbans know what is active.
package flagstore

import (
	"context"
	"slices"
)

type FlagStore interface {
	Get(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, flags []string) error
	Remove(ctx context.Context, key string, flags []string) error
}

func Contains(ctx context.Context, fs FlagStore, key, flag string) (bool, error) {
	l, err := fs.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return slices.Contains(l, flag), nil
}
