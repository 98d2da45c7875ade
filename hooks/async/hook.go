// Package asynchook moves Hooks calls off the store's worker and dispatcher
// goroutines. Events are dropped when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{EvictedEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	st, _ := reactkv.New(ctx, reactkv.Options{
//	    Storage: adapter,
//	    Hooks:   hooks, // or raw if the sink is already cheap
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/reactkv"
)

type Hooks struct {
	inner   reactkv.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ reactkv.Hooks = (*Hooks)(nil)

func New(inner reactkv.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close flushes queued events. The store must be closed first.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) WriteFailed(op string, keys []string, err error) {
	keys = append([]string(nil), keys...)
	h.try(func() { h.inner.WriteFailed(op, keys, err) })
}
func (h *Hooks) CallbackFailed(err *reactkv.CallbackError) {
	h.try(func() { h.inner.CallbackFailed(err) })
}
func (h *Hooks) ReadFailed(k string, err error) { h.try(func() { h.inner.ReadFailed(k, err) }) }
func (h *Hooks) Evicted(k string)               { h.try(func() { h.inner.Evicted(k) }) }
func (h *Hooks) StorageEvent(k string)          { h.try(func() { h.inner.StorageEvent(k) }) }
