package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/reactkv/internal/util"
	pr "github.com/unkn0wn-root/reactkv/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

const scanCount = 512

type Redis struct {
	rdb         goredis.UniversalClient
	ns          string
	closeClient bool
}

var (
	_ pr.Provider = (*Redis)(nil)
	_ pr.Batcher  = (*Redis)(nil)
)

type Config struct {
	Client goredis.UniversalClient
	// Namespace isolates this store's keys ("<ns>:<key>") so Clear and Keys
	// never touch foreign data. Strongly recommended on shared instances.
	Namespace   string
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, ns: cfg.Namespace, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) key(k string) string { return util.Namespaced(p.ns, k) }

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, p.key(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte) error {
	return p.rdb.Set(ctx, p.key(key), value, 0).Err()
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, p.key(key)).Err()
}

func (p *Redis) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = p.key(k)
	}
	vals, err := p.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		switch vv := v.(type) {
		case nil:
		case string:
			out[keys[i]] = []byte(vv)
		case []byte:
			out[keys[i]] = vv
		}
	}
	return out, nil
}

// MSet writes all items in one pipelined round-trip. Redis applies the
// commands in order but a failure midway leaves earlier ones applied.
func (p *Redis) MSet(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	_, err := p.rdb.Pipelined(ctx, func(pl goredis.Pipeliner) error {
		for _, k := range util.SortedKeys(items) {
			pl.Set(ctx, p.key(k), items[k], 0)
		}
		return nil
	})
	return err
}

func (p *Redis) Keys(ctx context.Context) ([]string, error) {
	var out []string
	err := p.scan(ctx, func(full string) error {
		if k, ok := util.TrimNamespace(p.ns, full); ok {
			out = append(out, k)
		}
		return nil
	})
	return out, err
}

// Clear deletes every key under the namespace. Without a namespace it
// flushes the selected database.
func (p *Redis) Clear(ctx context.Context) error {
	if p.ns == "" {
		return p.rdb.FlushDB(ctx).Err()
	}
	batch := make([]string, 0, scanCount)
	err := p.scan(ctx, func(full string) error {
		batch = append(batch, full)
		if len(batch) < scanCount {
			return nil
		}
		err := p.rdb.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		return p.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

func (p *Redis) scan(ctx context.Context, fn func(string) error) error {
	match := "*"
	if p.ns != "" {
		match = p.ns + ":*"
	}
	it := p.rdb.Scan(ctx, 0, match, scanCount).Iterator()
	for it.Next(ctx) {
		if err := fn(it.Val()); err != nil {
			return err
		}
	}
	return it.Err()
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
