package ledgerstore

import (
	"context"
)

type Store[V any] interface {
	// Returns the stored value and true, or the zero value and false if the key is absent.
	Get(ctx context.Context, key string) (V, bool, error)
	Put(ctx context.Context, key string, val V) error
	// does not error if the key is absent
	Delete(ctx context.Context, key string) error
	// Calls fn for every stored key. Iteration stops at the first error returned by fn. Order is unspecified.
	Iterate(ctx context.Context, fn func(key string, val V) error) error
	Len(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
