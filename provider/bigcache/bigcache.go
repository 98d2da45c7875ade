package bigcache

import (
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	pr "github.com/unkn0wn-root/reactkv/provider"
)

// Provider keeps entries in bigcache's off-heap shards. Entries live in
// process memory only, so this is "durable" for the life of the process:
// useful as a bounded, GC-friendly backend for large key sets.
type Provider struct {
	c *bc.BigCache
}

var _ pr.Provider = (*Provider)(nil)

// foreverWindow stands in for "no expiry": bigcache expires everything older
// than LifeWindow, and a zero window would expire entries within a second.
const foreverWindow = 100 * 365 * 24 * time.Hour

type Config struct {
	// LifeWindow 0 keeps entries until evicted by HardMaxCacheSizeMB.
	LifeWindow         time.Duration
	// CleanWindow 0 disables the background expiry sweep.
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Provider, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = foreverWindow
	}
	conf := bc.DefaultConfig(life)
	conf.CleanWindow = cfg.CleanWindow
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.Verbose = false
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (p *Provider) Set(_ context.Context, key string, value []byte) error {
	return p.c.Set(key, value)
}

func (p *Provider) Del(_ context.Context, key string) error {
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (p *Provider) Clear(_ context.Context) error {
	return p.c.Reset()
}

func (p *Provider) Keys(ctx context.Context) ([]string, error) {
	var out []string
	it := p.c.Iterator()
	for it.SetNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := it.Value()
		if err != nil {
			// entry evicted between SetNext and Value
			continue
		}
		out = append(out, e.Key())
	}
	return out, nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}
