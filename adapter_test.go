package reactkv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/reactkv/storage/memory"
	"github.com/unkn0wn-root/reactkv/value"
)

// recAdapter is a memory adapter that records calls and can be slowed down,
// gated or made to fail per key.
type recAdapter struct {
	*memory.Adapter

	mu      sync.Mutex
	calls   []string
	gets    map[string]int
	getGate chan struct{}
	// holdRead, when set, makes the next Get read its value, close readDone
	// and then wait for holdRead before returning.
	holdRead chan struct{}
	readDone chan struct{}
	delay    time.Duration
	failSet  map[string]error
	onClear  func()
}

func newRecAdapter(seed map[string]value.Value) *recAdapter {
	return &recAdapter{
		Adapter: memory.New(seed),
		gets:    make(map[string]int),
		failSet: make(map[string]error),
	}
}

func (a *recAdapter) record(op string) {
	a.mu.Lock()
	a.calls = append(a.calls, op)
	a.mu.Unlock()
}

func (a *recAdapter) setOnClear(f func()) {
	a.mu.Lock()
	a.onClear = f
	a.mu.Unlock()
}

func (a *recAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *recAdapter) Gets(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gets[key]
}

func (a *recAdapter) Get(ctx context.Context, key string) (value.Value, error) {
	a.mu.Lock()
	a.gets[key]++
	gate := a.getGate
	hold, done := a.holdRead, a.readDone
	a.holdRead = nil
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return value.Null(), ctx.Err()
		}
	}
	v, err := a.Adapter.Get(ctx, key)
	if hold != nil {
		close(done)
		select {
		case <-hold:
		case <-ctx.Done():
			return value.Null(), ctx.Err()
		}
	}
	return v, err
}

// holdNextRead arms holdRead and returns the channel closed once the read
// happened, plus the function that releases it.
func (a *recAdapter) holdNextRead() (<-chan struct{}, func()) {
	hold, done := make(chan struct{}), make(chan struct{})
	a.mu.Lock()
	a.holdRead, a.readDone = hold, done
	a.mu.Unlock()
	return done, func() { close(hold) }
}

func (a *recAdapter) Set(ctx context.Context, key string, v value.Value) error {
	a.mu.Lock()
	err := a.failSet[key]
	d := a.delay
	a.mu.Unlock()
	time.Sleep(d)
	if err != nil {
		a.record("set:" + key + ":failed")
		return err
	}
	a.record("set:" + key)
	return a.Adapter.Set(ctx, key, v)
}

func (a *recAdapter) MultiSet(ctx context.Context, items map[string]value.Value) error {
	a.record("multiset")
	return a.Adapter.MultiSet(ctx, items)
}

func (a *recAdapter) Remove(ctx context.Context, key string) error {
	a.record("remove:" + key)
	return a.Adapter.Remove(ctx, key)
}

func (a *recAdapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	hook := a.onClear
	a.onClear = nil
	d := a.delay
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	time.Sleep(d)
	a.record("clear")
	return a.Adapter.Clear(ctx)
}

func newTestStore(t *testing.T, opts Options) *store {
	t.Helper()
	s, err := newStore(context.Background(), opts)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s
}

func syncStore(t *testing.T, s Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func stored(t *testing.T, a *recAdapter, key string) value.Value {
	t.Helper()
	v, err := a.Adapter.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("storage Get(%q): %v", key, err)
	}
	return v
}

func indexOf(calls []string, op string) int {
	for i, c := range calls {
		if c == op {
			return i
		}
	}
	return -1
}

// recorder collects deliveries of one subscription.
type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) cb(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func (r *recorder) last(t *testing.T) Change {
	t.Helper()
	all := r.all()
	if len(all) == 0 {
		t.Fatalf("no deliveries")
	}
	return all[len(all)-1]
}
