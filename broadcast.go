package reactkv

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/reactkv/value"
)

type subscription struct {
	id   ConnectionID
	spec KeySpec
	cb   Callback

	live atomic.Bool
	// ready is false until the initial delivery ran (InitWithStoredValues);
	// change notifications are held back before that.
	ready atomic.Bool
}

// notice is one pending delivery. target != nil marks an initial delivery
// for that subscription only.
type notice struct {
	key    string
	target *subscription
}

// broadcaster delivers changes on a single dispatcher goroutine, so
// callbacks never run while the store's lock is held and may call back into
// the store. Pending keys are coalesced: a key changed several times before
// the dispatcher reached it is delivered once, with the value current at
// delivery time.
type broadcaster struct {
	read    func(key string) value.Value
	members func(prefix string) map[string]value.Value
	report  func(*CallbackError)

	mu      sync.Mutex
	subs    map[ConnectionID]*subscription
	nextID  ConnectionID
	pending []notice
	queued  map[string]struct{}
	busy    bool
	idle    []chan struct{}
	closed  bool

	wake    chan struct{}
	stopped chan struct{}
}

func newBroadcaster(read func(string) value.Value, members func(string) map[string]value.Value, report func(*CallbackError)) *broadcaster {
	b := &broadcaster{
		read:    read,
		members: members,
		report:  report,
		subs:    make(map[ConnectionID]*subscription),
		queued:  make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *broadcaster) subscribe(spec KeySpec, cb Callback, initial bool) *subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &subscription{id: b.nextID, spec: spec, cb: cb}
	s.live.Store(true)
	s.ready.Store(!initial)
	b.subs[s.id] = s
	return s
}

// unsubscribe is idempotent. Deliveries already dequeued for the
// subscription are skipped as well.
func (b *broadcaster) unsubscribe(id ConnectionID) bool {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.live.Store(false)
	}
	return ok
}

// pinned reports whether a live subscription watches key.
func (b *broadcaster) pinned(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.spec.Matches(key) {
			return true
		}
	}
	return false
}

func (b *broadcaster) notify(keys ...string) {
	if len(keys) == 0 {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	for _, k := range keys {
		if _, dup := b.queued[k]; dup {
			continue
		}
		b.queued[k] = struct{}{}
		b.pending = append(b.pending, notice{key: k})
	}
	b.busy = true
	b.mu.Unlock()
	b.signal()
}

// deliverInitial queues the first delivery of s.
func (b *broadcaster) deliverInitial(s *subscription) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, notice{key: s.spec.Key(), target: s})
	b.busy = true
	b.mu.Unlock()
	b.signal()
}

func (b *broadcaster) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// flush waits until everything queued so far was delivered.
func (b *broadcaster) flush(ctx context.Context) error {
	b.mu.Lock()
	if !b.busy {
		b.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	b.idle = append(b.idle, ch)
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close delivers what is pending and stops the dispatcher.
func (b *broadcaster) close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.signal()

	select {
	case <-b.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *broadcaster) loop() {
	defer close(b.stopped)
	for {
		batch, ok := b.take()
		if !ok {
			return
		}
		for _, n := range batch {
			b.deliver(n)
		}
	}
}

func (b *broadcaster) take() ([]notice, bool) {
	for {
		b.mu.Lock()
		if len(b.pending) > 0 {
			batch := b.pending
			b.pending = nil
			b.queued = make(map[string]struct{})
			b.mu.Unlock()
			return batch, true
		}
		b.busy = false
		for _, ch := range b.idle {
			close(ch)
		}
		b.idle = nil
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}
		b.mu.Unlock()
		<-b.wake
	}
}

func (b *broadcaster) deliver(n notice) {
	if s := n.target; s != nil {
		if !s.live.Load() {
			return
		}
		s.ready.Store(true)
		b.invoke(s, b.change(s, n.key, true))
		return
	}

	for _, s := range b.watching(n.key) {
		// re-checked per subscriber: an earlier callback may have disconnected it
		if !s.live.Load() || !s.ready.Load() {
			continue
		}
		b.invoke(s, b.change(s, n.key, false))
	}
}

func (b *broadcaster) change(s *subscription, key string, initial bool) Change {
	if !s.spec.IsCollection() {
		return Change{Key: key, Value: b.read(key)}
	}
	c := Change{Key: key, Members: b.members(s.spec.Key())}
	if !initial {
		c.Value = b.read(key)
	}
	return c
}

// watching returns the live subscriptions matching key, oldest first.
func (b *broadcaster) watching(key string) []*subscription {
	b.mu.Lock()
	out := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.spec.Matches(key) {
			out = append(out, s)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (b *broadcaster) invoke(s *subscription, c Change) {
	defer func() {
		if r := recover(); r != nil {
			b.report(&CallbackError{Connection: s.id, Key: c.Key, Panic: r})
		}
	}()
	s.cb(c)
}
