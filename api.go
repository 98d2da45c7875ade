package reactkv

import (
	"context"

	"github.com/unkn0wn-root/reactkv/storage"
	"github.com/unkn0wn-root/reactkv/value"
)

// ConnectionID identifies a live subscription.
type ConnectionID uint64

// Change is what a subscriber receives.
//
// For an exact-key subscription only Key and Value are set. For a collection
// subscription Members holds every cached member of the collection at
// delivery time; the initial delivery of a collection has Key set to the
// collection prefix and a Null Value.
type Change struct {
	Key     string
	Value   value.Value
	Members map[string]value.Value
}

type Callback func(Change)

// ConnectOptions describes a subscription. Exactly one of Key and
// CollectionKey must be set.
type ConnectOptions struct {
	Key           string
	CollectionKey string
	Callback      Callback
	// InitWithStoredValues delivers the current value once (loading it from
	// storage if needed) before any change notification.
	InitWithStoredValues bool
}

// Store is the reactive key-value API. All methods are safe for concurrent
// use and may be called from inside a Callback, except Sync and Close, which
// wait for callbacks to finish.
type Store interface {
	Connect(opts ConnectOptions) (ConnectionID, error)
	Disconnect(id ConnectionID)

	// Get returns the cached value or loads it (one storage read per key,
	// however many callers are waiting).
	Get(ctx context.Context, key string) (value.Value, error)
	// Peek reads the cache only. ok is false when the cache has no entry.
	Peek(key string) (v value.Value, ok bool)
	Keys(ctx context.Context) ([]string, error)

	// Mutations update the cache before returning. The returned Write settles
	// when the durable effect did.
	Set(key string, v value.Value) *Write
	MultiSet(items map[string]value.Value) *Write
	Merge(key string, partial value.Value) *Write
	Clear(keysToPreserve ...string) *Write

	// Sync waits until every write issued before the call is durable and
	// every pending notification was delivered.
	Sync(ctx context.Context) error
	Close(ctx context.Context) error
}

// Options configure a Store. Only Storage is required.
type Options struct {
	Storage storage.Adapter

	// Keys and Collections register the logical key space (name -> key or
	// prefix). When either is set, Connect rejects keys outside it.
	Keys        map[string]string
	Collections map[string]string

	// InitialKeyStates are the defaults installed on New and restored by
	// Clear. Stored values win over defaults on New.
	InitialKeyStates map[string]value.Value

	// MaxCachedKeysCount bounds the number of cached keys; 0 => unbounded.
	MaxCachedKeysCount int

	// RegisterStorageEventListener is called once by New with a function
	// that applies changes made by other processes to the shared storage.
	RegisterStorageEventListener func(onChange func(key string, v value.Value))

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

// New creates a Store. ctx bounds only the initial load of InitialKeyStates.
func New(ctx context.Context, opts Options) (Store, error) {
	return newStore(ctx, opts)
}
