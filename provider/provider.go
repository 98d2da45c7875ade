// Package provider defines the byte-level backends that storage.Encoded
// turns into durable storage adapters.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). If a store performs internal transforms
// (e.g., compression), they MUST be fully reversed so that the bytes returned by
// Get are identical to the bytes provided to Set.
package provider

import (
	"context"
	"errors"
)

// ErrRejected is returned by Set when the backend refused the write under
// memory pressure (admission policies). The write did not happen.
var ErrRejected = errors.New("provider: write rejected")

// Provider is a minimal byte store. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value durably (as durable as the backend is).
	Set(ctx context.Context, key string, value []byte) error

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Clear removes every key owned by this provider.
	Clear(ctx context.Context) error

	// Keys lists every key owned by this provider, in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Batcher is implemented by providers with native multi-key round trips.
type Batcher interface {
	// MGet returns hits only; missing keys are absent from the map.
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	MSet(ctx context.Context, items map[string][]byte) error
}
