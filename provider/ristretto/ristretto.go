package ristretto

import (
	"context"
	"errors"
	"sync"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/reactkv/provider"
)

// Provider stores entries in a cost-bounded ristretto cache. Ristretto's
// admission policy may refuse or later evict entries, so this backend trades
// durability for a hard memory bound; refused writes surface as
// provider.ErrRejected.
//
// Ristretto cannot enumerate its keys, so the provider keeps its own index.
// The index may list keys ristretto has since evicted; Get reports those as
// misses.
type Provider struct {
	c *rc.Cache

	mu    sync.Mutex
	index map[string]struct{}
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
	// Cost computes the admission cost of an entry; nil => len(value).
	Cost func(value []byte) int64
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	p := &Provider{index: make(map[string]struct{})}
	costFn := cfg.Cost
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		Cost: func(v interface{}) int64 {
			b, _ := v.([]byte)
			if costFn != nil {
				return costFn(b)
			}
			return int64(len(b))
		},
	})
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for the write to be applied so a following Get observes it.
// Admission runs asynchronously inside ristretto, so a refused entry is only
// detectable after Wait.
func (p *Provider) Set(_ context.Context, key string, value []byte) error {
	// cost 0 defers to Config.Cost
	if !p.c.Set(key, value, 0) {
		return pr.ErrRejected
	}
	p.c.Wait()
	if _, ok := p.c.Get(key); !ok {
		return pr.ErrRejected
	}
	p.mu.Lock()
	p.index[key] = struct{}{}
	p.mu.Unlock()
	return nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	p.c.Wait()
	p.mu.Lock()
	delete(p.index, key)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Clear(_ context.Context) error {
	p.c.Clear()
	p.mu.Lock()
	p.index = make(map[string]struct{})
	p.mu.Unlock()
	return nil
}

func (p *Provider) Keys(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.index))
	for k := range p.index {
		if _, ok := p.c.Get(k); !ok {
			delete(p.index, k)
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto metrics if enabled (not part of provider.Provider).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
