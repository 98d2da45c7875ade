// Package memory implements storage.Adapter over an in-process map. It is the
// adapter used by tests and by the CLI's "memory" backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/unkn0wn-root/reactkv/storage"
	"github.com/unkn0wn-root/reactkv/value"
)

// Adapter is safe for concurrent use. Values are immutable, so they are
// stored without copying.
type Adapter struct {
	mu    sync.RWMutex
	items map[string]value.Value
}

var _ storage.Adapter = (*Adapter)(nil)

// New creates an empty adapter, optionally seeded with items.
func New(seed map[string]value.Value) *Adapter {
	a := &Adapter{items: make(map[string]value.Value, len(seed))}
	for k, v := range seed {
		if !v.IsNull() {
			a.items[k] = v
		}
	}
	return a
}

func (a *Adapter) Get(ctx context.Context, key string) (value.Value, error) {
	if err := ctx.Err(); err != nil {
		return value.Null(), err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.items[key], nil
}

func (a *Adapter) MultiGet(ctx context.Context, keys []string) (map[string]value.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]value.Value, len(keys))
	for _, k := range keys {
		out[k] = a.items[k]
	}
	return out, nil
}

func (a *Adapter) Set(ctx context.Context, key string, v value.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.put(key, v)
	return nil
}

func (a *Adapter) MultiSet(ctx context.Context, items map[string]value.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range items {
		a.put(k, v)
	}
	return nil
}

func (a *Adapter) put(key string, v value.Value) {
	if v.IsNull() {
		delete(a.items, key)
		return
	}
	a.items[key] = v
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	return a.Set(ctx, key, value.Null())
}

func (a *Adapter) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	a.items = make(map[string]value.Value)
	a.mu.Unlock()
	return nil
}

// GetAllKeys returns the keys in ascending order.
func (a *Adapter) GetAllKeys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	out := make([]string, 0, len(a.items))
	for k := range a.items {
		out = append(out, k)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (a *Adapter) Close(context.Context) error { return nil }

// Len reports the number of stored keys.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}
