package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/reactkv/codec"
	"github.com/unkn0wn-root/reactkv/internal/util"
	"github.com/unkn0wn-root/reactkv/internal/wire"
	pr "github.com/unkn0wn-root/reactkv/provider"
	"github.com/unkn0wn-root/reactkv/value"
)

// Encoded turns a byte provider into an Adapter. Values are serialised by
// Codec and framed by the wire format, so foreign or truncated bytes are
// detected on read instead of being decoded into garbage.
type Encoded struct {
	p     pr.Provider
	codec codec.Codec

	// OnCorrupt, if set, is called for every entry dropped on read because
	// its frame or payload could not be decoded.
	OnCorrupt func(key string, err error)
}

var _ Adapter = (*Encoded)(nil)

func NewEncoded(p pr.Provider, c codec.Codec) (*Encoded, error) {
	if p == nil {
		return nil, fmt.Errorf("storage: provider is required")
	}
	if c == nil {
		return nil, fmt.Errorf("storage: codec is required")
	}
	return &Encoded{p: p, codec: c}, nil
}

func (e *Encoded) Get(ctx context.Context, key string) (value.Value, error) {
	raw, ok, err := e.p.Get(ctx, key)
	if err != nil || !ok {
		return value.Null(), err
	}
	return e.decode(ctx, key, raw), nil
}

func (e *Encoded) MultiGet(ctx context.Context, keys []string) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(keys))
	if b, ok := e.p.(pr.Batcher); ok {
		raws, err := b.MGet(ctx, keys)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			if raw, hit := raws[k]; hit {
				out[k] = e.decode(ctx, k, raw)
			} else {
				out[k] = value.Null()
			}
		}
		return out, nil
	}
	for _, k := range keys {
		v, err := e.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("get %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (e *Encoded) Set(ctx context.Context, key string, v value.Value) error {
	if v.IsNull() {
		return e.p.Del(ctx, key)
	}
	b, err := e.encode(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return e.p.Set(ctx, key, b)
}

// MultiSet removes Null items and writes the rest, batched when the
// provider supports it.
func (e *Encoded) MultiSet(ctx context.Context, items map[string]value.Value) error {
	frames := make(map[string][]byte, len(items))
	for _, k := range util.SortedKeys(items) {
		v := items[k]
		if v.IsNull() {
			if err := e.p.Del(ctx, k); err != nil {
				return fmt.Errorf("remove %q: %w", k, err)
			}
			continue
		}
		b, err := e.encode(v)
		if err != nil {
			return fmt.Errorf("encode %q: %w", k, err)
		}
		frames[k] = b
	}
	if b, ok := e.p.(pr.Batcher); ok {
		return b.MSet(ctx, frames)
	}
	for _, k := range util.SortedKeys(frames) {
		if err := e.p.Set(ctx, k, frames[k]); err != nil {
			return fmt.Errorf("set %q: %w", k, err)
		}
	}
	return nil
}

func (e *Encoded) Remove(ctx context.Context, key string) error { return e.p.Del(ctx, key) }
func (e *Encoded) Clear(ctx context.Context) error              { return e.p.Clear(ctx) }
func (e *Encoded) GetAllKeys(ctx context.Context) ([]string, error) {
	return e.p.Keys(ctx)
}
func (e *Encoded) Close(ctx context.Context) error { return e.p.Close(ctx) }

func (e *Encoded) encode(v value.Value) ([]byte, error) {
	payload, err := e.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return wire.EncodeEntry(uint64(time.Now().UnixNano()), payload), nil
}

// decode self-heals: an undecodable entry is deleted and reads as a miss.
func (e *Encoded) decode(ctx context.Context, key string, raw []byte) value.Value {
	_, payload, err := wire.DecodeEntry(raw)
	if err == nil {
		var v value.Value
		v, err = e.codec.Decode(payload)
		if err == nil {
			return v
		}
		err = errors.Join(errCorruptPayload, err)
	}
	_ = e.p.Del(ctx, key)
	if e.OnCorrupt != nil {
		e.OnCorrupt(key, err)
	}
	return value.Null()
}

var errCorruptPayload = errors.New("storage: undecodable payload")
