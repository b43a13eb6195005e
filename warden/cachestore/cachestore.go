package cachestore

import (
	"context"
)

type CacheStore interface {
	// Returns the cached value and true, or "" and false on a miss or expired entry.
	Get(ctx context.Context, name, key string) (string, bool, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}

// Implemented by stores that can move an entry in one step.
type Mover interface {
	Move(ctx context.Context, name, oldKey, newKey string) error
}

// Moves a cached entry to a new key (eg, when a user changes nickname). A miss on the old
// key is not an error and leaves the new key untouched.
func Move(ctx context.Context, c CacheStore, name, oldKey, newKey string) error {
	if oldKey == newKey {
		return nil
	}
	if m, ok := c.(Mover); ok {
		return m.Move(ctx, name, oldKey, newKey)
	}
	val, ok, err := c.Get(ctx, name, oldKey)
	if err != nil || !ok {
		return err
	}
	if err := c.Set(ctx, name, newKey, val); err != nil {
		return err
	}
	return c.Purge(ctx, name, oldKey)
}
