// Package ctxval keeps request-scoped values in a mutable bag attached to a
// context, so values set deep in a call chain are visible to the callers
// that wrapped the context.
package ctxval

import (
	"context"
	"sync"
)

func Wrap(ctx context.Context) context.Context {
	if _, ok := getBag(ctx); ok {
		// already wrapped
		return ctx
	}
	return context.WithValue(ctx, bagKey{}, &bag{values: make(map[any]any)})
}

func Set[K comparable, V any](ctx context.Context, k K, v V) {
	b, ok := getBag(ctx)
	if !ok {
		return
	}
	b.m.Lock()
	defer b.m.Unlock()
	b.values[k] = v
}

func Get[K comparable, V any](ctx context.Context, k K) (V, bool) {
	b, ok := getBag(ctx)
	if !ok {
		return *new(V), false
	}
	b.m.Lock()
	defer b.m.Unlock()
	v, ok := b.values[k].(V)
	return v, ok
}

// Update replaces the value under k with fn(current) while holding the bag
// lock. current is the zero value when k is unset.
func Update[K comparable, V any](ctx context.Context, k K, fn func(V) V) bool {
	b, ok := getBag(ctx)
	if !ok {
		return false
	}
	b.m.Lock()
	defer b.m.Unlock()
	cur, _ := b.values[k].(V)
	b.values[k] = fn(cur)
	return true
}

// Detach returns a background context that shares the bag of ctx but none of
// its deadline or cancellation.
func Detach(ctx context.Context) context.Context {
	b, ok := getBag(ctx)
	if !ok {
		return context.Background()
	}
	return context.WithValue(context.Background(), bagKey{}, b)
}

type bagKey struct{}

type bag struct {
	// few values and few goroutines per request, a plain mutex is enough
	m      sync.Mutex
	values map[any]any
}

func getBag(ctx context.Context) (*bag, bool) {
	b, ok := ctx.Value(bagKey{}).(*bag)
	return b, ok
}
