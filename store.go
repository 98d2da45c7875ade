package reactkv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/reactkv/internal/util"
	"github.com/unkn0wn-root/reactkv/storage"
	"github.com/unkn0wn-root/reactkv/value"
)

// mergeBatch collects merges on one key until its durable task starts.
type mergeBatch struct {
	key      string
	partials []value.Value
	// deferred: the key had no cache entry when the batch opened, so the
	// cache is filled from the durable result instead of updated up front.
	deferred bool
	// ver is the key's cache version after the last merge joined; the
	// deferred result is installed only if nothing was written since.
	ver uint64
	w   *Write
}

// clearMark is a Clear whose durable effect has not run yet. Keys it does
// not preserve are known to be absent (or at their default) already.
type clearMark struct {
	preserve map[string]struct{}
}

type store struct {
	storage storage.Adapter
	log     Logger
	hooks   Hooks

	// lifetime context for worker-issued storage calls
	ctx    context.Context
	cancel context.CancelFunc

	queue   *writeQueue
	bc      *broadcaster
	fetches singleflight.Group
	loads   sync.WaitGroup

	keys        map[string]struct{}
	collections []string
	defaults    map[string]value.Value

	// mu guards everything below. Lock order: mu, then the queue's or the
	// broadcaster's lock.
	mu      sync.Mutex
	cache   *memCache
	batches map[string]*mergeBatch
	pending map[string]int // queued durable writes per key
	clears  []*clearMark
	epoch   uint64 // bumped by every Clear
	closed  bool
}

var _ Store = (*store)(nil)

func newStore(ctx context.Context, opts Options) (*store, error) {
	if opts.Storage == nil {
		return nil, errors.New("reactkv: Options.Storage is required")
	}
	for name, p := range opts.Collections {
		if p == "" {
			return nil, &KeySpecError{Key: name, Reason: "empty collection prefix"}
		}
	}

	s := &store{
		storage:  opts.Storage,
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
		keys:     registered(opts.Keys),
		defaults: make(map[string]value.Value, len(opts.InitialKeyStates)),
		batches:  make(map[string]*mergeBatch),
		pending:  make(map[string]int),
	}
	for _, p := range opts.Collections {
		s.collections = append(s.collections, p)
	}
	sort.Strings(s.collections)
	for k, v := range opts.InitialKeyStates {
		s.defaults[k] = v
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cache = newMemCache(opts.MaxCachedKeysCount, s.evictable, s.evicted)
	s.queue = newWriteQueue(s.ctx, s.log, s.hooks)
	s.bc = newBroadcaster(s.current, s.members, s.callbackFailed)

	if err := s.initDefaults(ctx); err != nil {
		s.shutdown(context.Background())
		return nil, err
	}
	if opts.RegisterStorageEventListener != nil {
		opts.RegisterStorageEventListener(s.storageEvent)
	}
	return s, nil
}

// initDefaults installs InitialKeyStates. A stored value wins over the
// default; mappings are merged with the stored fields on top.
func (s *store) initDefaults(ctx context.Context) error {
	if len(s.defaults) == 0 {
		return nil
	}
	keys := util.SortedKeys(s.defaults)
	stored, err := s.storage.MultiGet(ctx, keys)
	if err != nil {
		return &AdapterError{Op: "init", Keys: keys, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	missing := make(map[string]value.Value)
	for _, k := range keys {
		v := s.defaults[k]
		if cur := stored[k]; !cur.IsNull() {
			v = value.Merge(v, cur)
		}
		s.cache.set(k, v)
		if !v.Equal(stored[k]) {
			missing[k] = v
		}
	}
	if len(missing) > 0 {
		s.enqueueLocked(taskInit, util.SortedKeys(missing), func(ctx context.Context) error {
			return s.storage.MultiSet(ctx, missing)
		}, nil)
	}
	return nil
}

func (s *store) Set(key string, v value.Value) *Write {
	if key == "" {
		return failedWrite(&KeySpecError{Reason: "empty key"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failedWrite(ErrClosed)
	}

	delete(s.batches, key)
	s.cache.set(key, v)
	s.bc.notify(key)
	return s.enqueueLocked(taskSet, []string{key}, func(ctx context.Context) error {
		if v.IsNull() {
			return s.storage.Remove(ctx, key)
		}
		return s.storage.Set(ctx, key, v)
	}, nil)
}

func (s *store) MultiSet(items map[string]value.Value) *Write {
	if _, bad := items[""]; bad {
		return failedWrite(&KeySpecError{Reason: "empty key"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failedWrite(ErrClosed)
	}

	keys := util.SortedKeys(items)
	snapshot := make(map[string]value.Value, len(items))
	for _, k := range keys {
		v := items[k]
		snapshot[k] = v
		delete(s.batches, k)
		s.cache.set(k, v)
	}
	s.bc.notify(keys...)
	return s.enqueueLocked(taskMultiSet, keys, func(ctx context.Context) error {
		if len(snapshot) == 0 {
			return nil
		}
		return s.storage.MultiSet(ctx, snapshot)
	}, nil)
}

// Merge deep-merges partial into key. Merges issued before the first of them
// reached storage share one durable read-modify-write and one Write.
//
// If the key is not cached (and no pending Clear decides its value), the
// cache is left alone until the durable result is known; reading the key in
// the meantime returns the stored value.
func (s *store) Merge(key string, partial value.Value) *Write {
	if key == "" {
		return failedWrite(&KeySpecError{Reason: "empty key"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failedWrite(ErrClosed)
	}

	if b, ok := s.batches[key]; ok {
		b.partials = append(b.partials, partial)
		if b.deferred {
			s.cache.bump(key)
			b.ver = s.cache.version(key)
		} else {
			cur, _ := s.lookupLocked(key)
			s.cache.set(key, value.Merge(cur, partial))
			s.bc.notify(key)
		}
		return b.w
	}

	b := &mergeBatch{key: key, partials: []value.Value{partial}}
	if cur, ok := s.lookupLocked(key); ok {
		s.cache.set(key, value.Merge(cur, partial))
		s.bc.notify(key)
	} else {
		b.deferred = true
		s.cache.bump(key)
		b.ver = s.cache.version(key)
	}
	b.w = s.enqueueLocked(taskMerge, []string{key}, func(ctx context.Context) error {
		return s.flushMerge(ctx, b)
	}, nil)
	s.batches[key] = b
	return b.w
}

func (s *store) flushMerge(ctx context.Context, b *mergeBatch) error {
	s.mu.Lock()
	if s.batches[b.key] == b {
		delete(s.batches, b.key)
	}
	patch := value.Fold(b.partials...)
	s.mu.Unlock()

	base, err := s.storage.Get(ctx, b.key)
	if err != nil {
		s.finishDeferred(b, value.Null(), false)
		return &AdapterError{Op: "merge", Keys: []string{b.key}, Err: err}
	}
	result := value.Merge(base, patch)
	if result.IsNull() {
		err = s.storage.Remove(ctx, b.key)
	} else {
		err = s.storage.Set(ctx, b.key, result)
	}
	s.finishDeferred(b, result, err == nil)
	return err
}

// finishDeferred installs the durable result of a deferred batch, or drops
// the version the batch created when nothing ended up cached.
func (s *store) finishDeferred(b *mergeBatch, result value.Value, ok bool) {
	if !b.deferred {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// a read may have cached the pre-merge value meanwhile; a write would
	// have moved the version
	if ok && s.cache.version(b.key) == b.ver {
		s.cache.fill(b.key, result)
		s.bc.notify(b.key)
		return
	}
	if _, open := s.batches[b.key]; !open && !s.cache.has(b.key) {
		s.cache.prune(b.key)
	}
}

// Clear resets every key except keysToPreserve to its initial state (or
// removes it). Preserved keys keep both their cached and stored values.
func (s *store) Clear(keysToPreserve ...string) *Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return failedWrite(ErrClosed)
	}

	preserve := make(map[string]struct{}, len(keysToPreserve))
	for _, k := range keysToPreserve {
		preserve[k] = struct{}{}
	}
	var affected []string
	reset := func(k string) {
		next, hasDefault := s.defaults[k]
		if !hasDefault {
			next = value.Null()
		}
		prev, _ := s.cache.peek(k)
		s.cache.set(k, next)
		if !prev.Equal(next) {
			affected = append(affected, k)
		}
	}
	for _, k := range s.cache.keys() {
		if _, keep := preserve[k]; !keep {
			reset(k)
		}
	}
	for _, k := range util.SortedKeys(s.defaults) {
		if _, keep := preserve[k]; !keep && !s.cache.has(k) {
			reset(k)
		}
	}
	// deferred merges still queued must not fill the cache after this
	for _, k := range util.SortedKeys(s.batches) {
		if _, keep := preserve[k]; !keep && !s.cache.has(k) {
			reset(k)
		}
	}
	s.batches = make(map[string]*mergeBatch)

	restore := make(map[string]value.Value)
	for k, v := range s.defaults {
		if _, keep := preserve[k]; !keep {
			restore[k] = v
		}
	}
	var unknown []string
	for _, k := range util.SortedKeys(preserve) {
		v, ok := s.cache.peek(k)
		switch {
		case !ok:
			unknown = append(unknown, k)
		case !v.IsNull():
			restore[k] = v
		default:
			delete(restore, k)
		}
	}

	s.epoch++
	mark := &clearMark{preserve: preserve}
	s.clears = append(s.clears, mark)
	s.bc.notify(affected...)

	return s.enqueueLocked(taskClear, keysToPreserve, func(ctx context.Context) error {
		return s.runClear(ctx, unknown, restore)
	}, func(error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, m := range s.clears {
			if m == mark {
				s.clears = append(s.clears[:i], s.clears[i+1:]...)
				break
			}
		}
		s.cache.trim()
	})
}

// runClear wipes storage and writes back defaults and preserved values.
// Preserved keys that were never read are fetched first and cached, so they
// are not observed as missing while storage is empty.
func (s *store) runClear(ctx context.Context, unknown []string, restore map[string]value.Value) error {
	if len(unknown) > 0 {
		stored, err := s.storage.MultiGet(ctx, unknown)
		if err != nil {
			return &AdapterError{Op: "clear", Keys: unknown, Err: err}
		}
		s.mu.Lock()
		for _, k := range unknown {
			v := stored[k]
			if cur, ok := s.cache.peek(k); ok {
				v = cur
			} else {
				s.cache.fill(k, v)
			}
			if !v.IsNull() {
				restore[k] = v
			}
		}
		s.mu.Unlock()
	}

	if err := s.storage.Clear(ctx); err != nil {
		return &AdapterError{Op: "clear", Err: err}
	}
	if len(restore) == 0 {
		return nil
	}
	if err := s.storage.MultiSet(ctx, restore); err != nil {
		return &AdapterError{Op: "clear", Keys: util.SortedKeys(restore), Err: err}
	}
	return nil
}

func (s *store) enqueueLocked(kind taskKind, keys []string, run func(context.Context) error, after func(error)) *Write {
	for _, k := range keys {
		s.pending[k]++
	}
	return s.queue.enqueue(kind, keys, run, func(err error) {
		if after != nil {
			after(err)
		}
		s.mu.Lock()
		for _, k := range keys {
			if s.pending[k]--; s.pending[k] <= 0 {
				delete(s.pending, k)
			}
		}
		s.cache.trim()
		s.mu.Unlock()
	})
}

// lookupLocked answers from the cache, or from a pending Clear that already
// decided the key is gone.
func (s *store) lookupLocked(key string) (value.Value, bool) {
	if v, ok := s.cache.get(key); ok {
		return v, true
	}
	if s.clearing(key) {
		return value.Null(), true
	}
	return value.Null(), false
}

// clearing reports whether a queued Clear will wipe key.
func (s *store) clearing(key string) bool {
	for _, m := range s.clears {
		if _, keep := m.preserve[key]; !keep {
			return true
		}
	}
	return false
}

func (s *store) Get(ctx context.Context, key string) (value.Value, error) {
	return s.load(ctx, key)
}

func (s *store) Peek(key string) (value.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.get(key)
}

// load returns the cached value or reads it. Concurrent loads of one key
// share a single storage read, which is not cancelled when one caller gives
// up.
func (s *store) load(ctx context.Context, key string) (value.Value, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return value.Null(), ErrClosed
	}
	if v, ok := s.lookupLocked(key); ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	ch := s.fetches.DoChan(key, func() (any, error) { return s.fetch(key) })
	select {
	case r := <-ch:
		if r.Err != nil {
			return value.Null(), r.Err
		}
		return r.Val.(value.Value), nil
	case <-ctx.Done():
		return value.Null(), ctx.Err()
	}
}

func (s *store) fetch(key string) (value.Value, error) {
	s.mu.Lock()
	if v, ok := s.lookupLocked(key); ok {
		s.mu.Unlock()
		return v, nil
	}
	ver, epoch := s.cache.version(key), s.epoch
	s.mu.Unlock()

	v, err := s.storage.Get(s.ctx, key)
	if err != nil {
		err = &AdapterError{Op: "get", Keys: []string{key}, Err: err}
		s.hooks.ReadFailed(key, err)
		s.log.Warn("storage read failed", Fields{"key": util.Redact(key), "error": err.Error()})
		return value.Null(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch == s.epoch && ver == s.cache.version(key) && !s.cache.has(key) {
		s.cache.fill(key, v)
		return v, nil
	}
	// a write or clear overtook the read; the cache is newer
	if cur, ok := s.lookupLocked(key); ok {
		return cur, nil
	}
	return v, nil
}

// loadCollection caches every stored member of prefix.
func (s *store) loadCollection(ctx context.Context, prefix string) error {
	all, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		return &AdapterError{Op: "keys", Err: err}
	}

	s.mu.Lock()
	var missing []string
	versions := make(map[string]uint64)
	for _, k := range all {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := s.lookupLocked(k); !ok {
			missing = append(missing, k)
			versions[k] = s.cache.version(k)
		}
	}
	epoch := s.epoch
	s.mu.Unlock()
	if len(missing) == 0 {
		return nil
	}

	vals, err := s.storage.MultiGet(ctx, missing)
	if err != nil {
		return &AdapterError{Op: "get", Keys: missing, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return nil
	}
	for _, k := range missing {
		if versions[k] == s.cache.version(k) && !s.cache.has(k) {
			s.cache.fill(k, vals[k])
		}
	}
	return nil
}

// Keys lists every key with a value, stored or only cached.
func (s *store) Keys(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stored, err := s.storage.GetAllKeys(ctx)
	if err != nil {
		return nil, &AdapterError{Op: "keys", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{}, len(stored))
	for _, k := range stored {
		if v, ok := s.lookupLocked(k); ok && v.IsNull() {
			continue
		}
		set[k] = struct{}{}
	}
	for _, k := range s.cache.keys() {
		if v, _ := s.cache.peek(k); !v.IsNull() {
			set[k] = struct{}{}
		}
	}
	return util.SortedKeys(set), nil
}

func (s *store) Connect(opts ConnectOptions) (ConnectionID, error) {
	spec, err := s.keySpec(opts)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	sub := s.bc.subscribe(spec, opts.Callback, opts.InitWithStoredValues)
	if opts.InitWithStoredValues {
		s.loads.Add(1)
	}
	s.mu.Unlock()

	if opts.InitWithStoredValues {
		go func() {
			defer s.loads.Done()
			var err error
			if spec.IsCollection() {
				err = s.loadCollection(s.ctx, spec.Key())
			} else {
				_, err = s.load(s.ctx, spec.Key())
			}
			if err != nil && !errors.Is(err, ErrClosed) {
				s.log.Warn("initial load failed", Fields{"spec": spec.String(), "error": err.Error()})
			}
			s.bc.deliverInitial(sub)
		}()
	}
	return sub.id, nil
}

func (s *store) keySpec(opts ConnectOptions) (KeySpec, error) {
	switch {
	case opts.Callback == nil:
		return KeySpec{}, &KeySpecError{Key: opts.Key + opts.CollectionKey, Reason: "nil callback"}
	case opts.Key != "" && opts.CollectionKey != "":
		return KeySpec{}, &KeySpecError{Key: opts.Key, Reason: "both key and collection key set"}
	case opts.Key != "":
		if s.keys != nil || s.collections != nil {
			if _, ok := s.keys[opts.Key]; !ok && !s.inCollection(opts.Key) {
				return KeySpec{}, &KeySpecError{Key: opts.Key, Reason: "key is not registered"}
			}
		}
		return Exact(opts.Key), nil
	case opts.CollectionKey != "":
		if s.keys != nil || s.collections != nil {
			i := sort.SearchStrings(s.collections, opts.CollectionKey)
			if i == len(s.collections) || s.collections[i] != opts.CollectionKey {
				return KeySpec{}, &KeySpecError{Key: opts.CollectionKey, Reason: "collection is not registered"}
			}
		}
		return Collection(opts.CollectionKey), nil
	default:
		return KeySpec{}, &KeySpecError{Reason: "no key given"}
	}
}

func (s *store) inCollection(key string) bool {
	for _, p := range s.collections {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (s *store) Disconnect(id ConnectionID) {
	if s.bc.unsubscribe(id) {
		s.mu.Lock()
		s.cache.trim()
		s.mu.Unlock()
	}
}

// Sync must not be called from a Callback.
func (s *store) Sync(ctx context.Context) error {
	if err := s.queue.barrier(ctx); err != nil {
		return err
	}
	if err := waitGroup(ctx, &s.loads); err != nil {
		return err
	}
	return s.bc.flush(ctx)
}

// Close drains queued writes and notifications, then closes the adapter.
// It must not be called from a Callback.
func (s *store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.shutdown(ctx)
	return errors.Join(err, s.storage.Close(ctx))
}

func (s *store) shutdown(ctx context.Context) error {
	var errs []error
	errs = append(errs, s.queue.close(ctx))
	errs = append(errs, waitGroup(ctx, &s.loads))
	errs = append(errs, s.bc.close(ctx))
	s.cancel()
	return errors.Join(errs...)
}

func (s *store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// storageEvent applies a change another process made to shared storage.
// Keys with local writes still queued ignore it; those writes land later
// and win. So does a queued Clear that does not preserve the key.
func (s *store) storageEvent(key string, v value.Value) {
	s.mu.Lock()
	if s.closed || s.pending[key] > 0 || s.clearing(key) {
		s.mu.Unlock()
		return
	}
	s.cache.set(key, v)
	s.bc.notify(key)
	s.mu.Unlock()
	s.hooks.StorageEvent(key)
}

// current and members are the broadcaster's view of the cache.
func (s *store) current(key string) value.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.cache.peek(key)
	return v
}

func (s *store) members(prefix string) map[string]value.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.members(prefix)
}

// evictable runs under s.mu.
func (s *store) evictable(key string) bool {
	return s.pending[key] == 0 && len(s.clears) == 0 && !s.bc.pinned(key)
}

func (s *store) evicted(key string) {
	s.hooks.Evicted(key)
	s.log.Debug("evicted", Fields{"key": util.Redact(key)})
}

func (s *store) callbackFailed(err *CallbackError) {
	s.hooks.CallbackFailed(err)
	s.log.Error("subscriber callback panicked", Fields{
		"connection": uint64(err.Connection),
		"key":        util.Redact(err.Key),
		"panic":      err.Panic,
	})
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
