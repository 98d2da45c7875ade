// Package storage defines the durable storage contract consumed by the store.
//
// Every method may fail independently; callers must not assume atomicity
// across a MultiSet. A missing key reads as value.Null with a nil error.
package storage

import (
	"context"

	"github.com/unkn0wn-root/reactkv/value"
)

type Adapter interface {
	Get(ctx context.Context, key string) (value.Value, error)
	// MultiGet returns an entry for every requested key (Null when missing).
	MultiGet(ctx context.Context, keys []string) (map[string]value.Value, error)
	// Set stores v. Setting Null removes the key.
	Set(ctx context.Context, key string, v value.Value) error
	MultiSet(ctx context.Context, items map[string]value.Value) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	GetAllKeys(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}
