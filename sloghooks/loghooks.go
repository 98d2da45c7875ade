// Package sloghooks implements reactkv.Hooks on top of log/slog.
package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/reactkv"
	"github.com/unkn0wn-root/reactkv/internal/util"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	EvictedEvery      uint64
	StorageEventEvery uint64
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	evictedCtr      atomic.Uint64
	storageEventCtr atomic.Uint64
}

var _ reactkv.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	if opts.Redact == nil {
		opts.Redact = util.Redact
	}
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) WriteFailed(op string, keys []string, err error) {
	if h.l == nil {
		return
	}
	redacted := make([]string, len(keys))
	for i, k := range keys {
		redacted[i] = h.opts.Redact(k)
	}
	h.l.Warn("reactkv.write_failed",
		"op", op,
		"keys", redacted,
		"err", err)
}

func (h *Hooks) CallbackFailed(err *reactkv.CallbackError) {
	if h.l == nil {
		return
	}
	h.l.Error("reactkv.callback_failed",
		"connection", uint64(err.Connection),
		"key", h.opts.Redact(err.Key),
		"panic", err.Panic)
}

func (h *Hooks) ReadFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("reactkv.read_failed",
		"key", h.opts.Redact(key),
		"err", err)
}

func (h *Hooks) Evicted(key string) {
	if h.l == nil || !sample(h.opts.EvictedEvery, &h.evictedCtr) {
		return
	}
	h.l.Debug("reactkv.evicted", "key", h.opts.Redact(key))
}

func (h *Hooks) StorageEvent(key string) {
	if h.l == nil || !sample(h.opts.StorageEventEvery, &h.storageEventCtr) {
		return
	}
	h.l.Debug("reactkv.storage_event", "key", h.opts.Redact(key))
}
