package reactkv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/reactkv/value"
)

const defaultKey = "defaultKey"

func clearingStore(t *testing.T) (*store, *recAdapter, *recorder) {
	t.Helper()
	a := newRecAdapter(nil)
	a.delay = 20 * time.Millisecond
	s := newTestStore(t, Options{
		Storage:          a,
		Keys:             map[string]string{"DEFAULT_KEY": defaultKey},
		InitialKeyStates: map[string]value.Value{defaultKey: value.String("default")},
	})
	rec := &recorder{}
	if _, err := s.Connect(ConnectOptions{Key: defaultKey, Callback: rec.cb}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s, a, rec
}

func TestMergeDuringStorageClearPersists(t *testing.T) {
	s, a, rec := clearingStore(t)
	merged := value.String("merged")

	var mergeW *Write
	a.setOnClear(func() { mergeW = s.Merge(defaultKey, merged) })
	clearW := s.Clear()
	syncStore(t, s)

	if err := clearW.Err(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mergeW == nil || mergeW.Err() != nil {
		t.Fatalf("merge did not settle cleanly: %v", mergeW)
	}
	calls := a.Calls()
	if c, st := indexOf(calls, "clear"), indexOf(calls, "set:"+defaultKey); c < 0 || st < c {
		t.Fatalf("storage call order %v: set must follow clear", calls)
	}
	if got := rec.last(t).Value; !got.Equal(merged) {
		t.Fatalf("subscriber saw %v, want %v", got, merged)
	}
	if got, _ := s.Peek(defaultKey); !got.Equal(merged) {
		t.Fatalf("cache = %v, want %v", got, merged)
	}
	if got := stored(t, a, defaultKey); !got.Equal(merged) {
		t.Fatalf("storage = %v, want %v", got, merged)
	}
}

func TestSetDuringStorageClearPersists(t *testing.T) {
	s, a, rec := clearingStore(t)
	set := value.String("set")

	a.setOnClear(func() { s.Set(defaultKey, set) })
	s.Clear()
	syncStore(t, s)

	calls := a.Calls()
	if c, st := indexOf(calls, "clear"), indexOf(calls, "set:"+defaultKey); c < 0 || st < c {
		t.Fatalf("storage call order %v: set must follow clear", calls)
	}
	if got := rec.last(t).Value; !got.Equal(set) {
		t.Fatalf("subscriber saw %v, want %v", got, set)
	}
	if got, _ := s.Peek(defaultKey); !got.Equal(set) {
		t.Fatalf("cache = %v, want %v", got, set)
	}
	if got := stored(t, a, defaultKey); !got.Equal(set) {
		t.Fatalf("storage = %v, want %v", got, set)
	}
}

func TestSetAfterClearSurvivesSlowStorage(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{"k": value.String("old")})
	a.delay = 30 * time.Millisecond
	s := newTestStore(t, Options{Storage: a})

	s.Clear()
	s.Set("k", value.String("new"))
	syncStore(t, s)

	if got := stored(t, a, "k"); !got.Equal(value.String("new")) {
		t.Fatalf("storage = %v, want new", got)
	}
}

func TestInitialKeyStates(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{
		"stored": value.String("kept"),
		"obj":    value.Map(map[string]value.Value{"b": value.Int(2)}),
	})
	s := newTestStore(t, Options{
		Storage: a,
		InitialKeyStates: map[string]value.Value{
			"fresh":  value.Int(1),
			"stored": value.String("default"),
			"obj":    value.Map(map[string]value.Value{"a": value.Int(1), "b": value.Int(0)}),
		},
	})
	syncStore(t, s)

	want := map[string]value.Value{
		"fresh":  value.Int(1),
		"stored": value.String("kept"),
		"obj":    value.Map(map[string]value.Value{"a": value.Int(1), "b": value.Int(2)}),
	}
	for k, w := range want {
		if got, ok := s.Peek(k); !ok || !got.Equal(w) {
			t.Fatalf("cache %s = %v, want %v", k, got, w)
		}
		if got := stored(t, a, k); !got.Equal(w) {
			t.Fatalf("storage %s = %v, want %v", k, got, w)
		}
	}
}

func TestClearRestoresDefaultsAndPreserves(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{
		"session":   value.String("token"),
		"untouched": value.String("cold"),
	})
	s := newTestStore(t, Options{
		Storage:          a,
		InitialKeyStates: map[string]value.Value{"theme": value.String("light")},
	})
	s.Set("theme", value.String("dark"))
	s.Set("draft", value.String("hello"))
	s.Set("keep", value.String("me"))

	s.Clear("keep", "session")

	// synchronous effects
	if got, _ := s.Peek("theme"); !got.Equal(value.String("light")) {
		t.Fatalf("theme = %v, want default", got)
	}
	if got, ok := s.Peek("draft"); !ok || !got.IsNull() {
		t.Fatalf("draft = %v (cached %v), want known-absent", got, ok)
	}
	ctx := context.Background()
	if got, err := s.Get(ctx, "untouched"); err != nil || !got.IsNull() {
		t.Fatalf("Get(untouched) during clear = %v, %v; want Null", got, err)
	}

	syncStore(t, s)
	checks := map[string]value.Value{
		"theme":     value.String("light"),
		"draft":     value.Null(),
		"keep":      value.String("me"),
		"session":   value.String("token"),
		"untouched": value.Null(),
	}
	for k, w := range checks {
		if got := stored(t, a, k); !got.Equal(w) {
			t.Fatalf("storage %s = %v, want %v", k, got, w)
		}
		if got, err := s.Get(ctx, k); err != nil || !got.Equal(w) {
			t.Fatalf("Get(%s) = %v, %v; want %v", k, got, err, w)
		}
	}
}

func TestConcurrentGetsShareOneRead(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{"k": value.Int(7)})
	gate := make(chan struct{})
	a.getGate = gate
	s := newTestStore(t, Options{Storage: a})

	ctx := context.Background()
	const n = 8
	var wg sync.WaitGroup
	results := make([]value.Value, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.Get(ctx, "k")
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = v
		}(i)
	}
	// let every caller reach the shared read
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := a.Gets("k"); got != 1 {
		t.Fatalf("storage reads = %d, want 1", got)
	}
	for i, v := range results {
		if !v.Equal(value.Int(7)) {
			t.Fatalf("result %d = %v", i, v)
		}
	}
	if _, err := s.Get(ctx, "k"); err != nil || a.Gets("k") != 1 {
		t.Fatalf("cached Get hit storage again")
	}
}

func TestGetDoesNotOverwriteNewerWrite(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{"k": value.String("stale")})
	gate := make(chan struct{})
	a.getGate = gate
	s := newTestStore(t, Options{Storage: a})

	done := make(chan value.Value)
	go func() {
		v, _ := s.Get(context.Background(), "k")
		done <- v
	}()
	time.Sleep(20 * time.Millisecond)
	s.Set("k", value.String("fresh"))
	close(gate)

	if got := <-done; !got.Equal(value.String("fresh")) {
		t.Fatalf("Get returned %v, want fresh", got)
	}
	if got, _ := s.Peek("k"); !got.Equal(value.String("fresh")) {
		t.Fatalf("cache = %v, want fresh", got)
	}
}

func TestGetHonoursCallerContext(t *testing.T) {
	a := newRecAdapter(nil)
	a.getGate = make(chan struct{})
	s := newTestStore(t, Options{Storage: a})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Get(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	close(a.getGate)
}

func TestFailedWriteDoesNotBlockQueue(t *testing.T) {
	a := newRecAdapter(nil)
	boom := errors.New("disk full")
	a.failSet["bad"] = boom
	s := newTestStore(t, Options{Storage: a})

	w1 := s.Set("bad", value.Int(1))
	w2 := s.Set("good", value.Int(2))
	ctx := context.Background()

	err := w1.Wait(ctx)
	var ae *AdapterError
	if !errors.As(err, &ae) || !errors.Is(err, boom) || ae.Op != "set" {
		t.Fatalf("w1 err = %v, want AdapterError wrapping boom", err)
	}
	if err := w2.Wait(ctx); err != nil {
		t.Fatalf("w2: %v", err)
	}
	// cache stays optimistic
	if got, _ := s.Peek("bad"); !got.Equal(value.Int(1)) {
		t.Fatalf("cache rolled back: %v", got)
	}
	if w2.Seq() <= w1.Seq() {
		t.Fatalf("seq not increasing: %d then %d", w1.Seq(), w2.Seq())
	}
}

func TestMergesCoalesceIntoOneWrite(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{
		"r": value.Map(map[string]value.Value{"a": value.Int(1), "x": value.Int(9)}),
	})
	s := newTestStore(t, Options{Storage: a})
	ctx := context.Background()
	if _, err := s.Get(ctx, "r"); err != nil {
		t.Fatal(err)
	}

	// hold the worker so all merges join the open batch
	block := make(chan struct{})
	s.queue.enqueue(taskBarrier, nil, func(context.Context) error { <-block; return nil }, nil)

	w1 := s.Merge("r", value.Map(map[string]value.Value{"b": value.Int(2)}))
	w2 := s.Merge("r", value.Map(map[string]value.Value{"x": value.Null()}))
	w3 := s.Merge("r", value.Map(map[string]value.Value{"c": value.Int(3)}))
	if w1 != w2 || w2 != w3 {
		t.Fatalf("merges did not share a write")
	}

	want := value.Map(map[string]value.Value{"a": value.Int(1), "b": value.Int(2), "c": value.Int(3)})
	if got, _ := s.Peek("r"); !got.Equal(want) {
		t.Fatalf("cache = %v, want %v", got, want)
	}
	close(block)
	if err := w3.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	sets := 0
	for _, c := range a.Calls() {
		if c == "set:r" {
			sets++
		}
	}
	if sets != 1 {
		t.Fatalf("durable sets = %d, want 1 (%v)", sets, a.Calls())
	}
	if got := stored(t, a, "r"); !got.Equal(want) {
		t.Fatalf("storage = %v, want %v", got, want)
	}
}

func TestSetClosesMergeBatch(t *testing.T) {
	a := newRecAdapter(nil)
	s := newTestStore(t, Options{Storage: a})
	block := make(chan struct{})
	s.queue.enqueue(taskBarrier, nil, func(context.Context) error { <-block; return nil }, nil)

	s.Set("k", value.Map(nil))
	w1 := s.Merge("k", value.Map(map[string]value.Value{"a": value.Int(1)}))
	s.Set("k", value.Int(5))
	w2 := s.Merge("k", value.Map(map[string]value.Value{"b": value.Int(2)}))
	if w1 == w2 {
		t.Fatalf("merge joined a batch across a Set")
	}
	close(block)
	syncStore(t, s)

	want := value.Map(map[string]value.Value{"b": value.Int(2)})
	if got := stored(t, a, "k"); !got.Equal(want) {
		t.Fatalf("storage = %v, want %v", got, want)
	}
	if got, _ := s.Peek("k"); !got.Equal(want) {
		t.Fatalf("cache = %v, want %v", got, want)
	}
}

func TestMergeOnUncachedKeyUsesStoredBase(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{
		"r": value.Map(map[string]value.Value{"a": value.Int(1)}),
	})
	s := newTestStore(t, Options{Storage: a})

	rec := &recorder{}
	if _, err := s.Connect(ConnectOptions{Key: "r", Callback: rec.cb}); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge("r", value.Map(map[string]value.Value{"b": value.Int(2)})).Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	syncStore(t, s)

	want := value.Map(map[string]value.Value{"a": value.Int(1), "b": value.Int(2)})
	if got, _ := s.Peek("r"); !got.Equal(want) {
		t.Fatalf("cache = %v, want %v", got, want)
	}
	if got := rec.last(t).Value; !got.Equal(want) {
		t.Fatalf("subscriber saw %v, want %v", got, want)
	}
}

func TestMergeNullRemoves(t *testing.T) {
	a := newRecAdapter(nil)
	s := newTestStore(t, Options{Storage: a})
	s.Set("k", value.Int(1))
	s.Merge("k", value.Null())
	syncStore(t, s)

	if got, ok := s.Peek("k"); !ok || !got.IsNull() {
		t.Fatalf("cache = %v (%v), want known-absent", got, ok)
	}
	if got := stored(t, a, "k"); !got.IsNull() {
		t.Fatalf("storage = %v", got)
	}
}

func TestMultiSet(t *testing.T) {
	a := newRecAdapter(nil)
	s := newTestStore(t, Options{Storage: a})
	items := map[string]value.Value{"a": value.Int(1), "b": value.String("x")}
	if err := s.MultiSet(items).Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	for k, v := range items {
		if got := stored(t, a, k); !got.Equal(v) {
			t.Fatalf("storage %s = %v", k, got)
		}
	}
	keys, err := s.Keys(context.Background())
	if err != nil || len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys = %v, %v", keys, err)
	}
}

func TestConnectRejectsBadSpecs(t *testing.T) {
	s := newTestStore(t, Options{
		Storage:     newRecAdapter(nil),
		Keys:        map[string]string{"A": "a"},
		Collections: map[string]string{"REPORTS": "report_"},
	})
	cb := func(Change) {}
	bad := []ConnectOptions{
		{Callback: cb},
		{Key: "a", CollectionKey: "report_", Callback: cb},
		{Key: "nope", Callback: cb},
		{CollectionKey: "other_", Callback: cb},
		{Key: "a"},
	}
	for _, o := range bad {
		if _, err := s.Connect(o); !errors.Is(err, ErrInvalidKeySpec) {
			t.Fatalf("Connect(%+v) err = %v, want ErrInvalidKeySpec", o, err)
		}
	}
	for _, o := range []ConnectOptions{
		{Key: "a", Callback: cb},
		{Key: "report_1", Callback: cb},
		{CollectionKey: "report_", Callback: cb},
	} {
		if _, err := s.Connect(o); err != nil {
			t.Fatalf("Connect(%+v): %v", o, err)
		}
	}
}

func TestClosedStoreRejects(t *testing.T) {
	s := newTestStore(t, Options{Storage: newRecAdapter(nil)})
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", value.Int(1)).Err(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after close: %v", err)
	}
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after close: %v", err)
	}
	if _, err := s.Connect(ConnectOptions{Key: "k", Callback: func(Change) {}}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Connect after close: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestStorageEventUpdatesSubscribers(t *testing.T) {
	var emit func(string, value.Value)
	s := newTestStore(t, Options{
		Storage:                      newRecAdapter(nil),
		RegisterStorageEventListener: func(f func(string, value.Value)) { emit = f },
	})
	rec := &recorder{}
	if _, err := s.Connect(ConnectOptions{Key: "k", Callback: rec.cb}); err != nil {
		t.Fatal(err)
	}
	emit("k", value.String("remote"))
	syncStore(t, s)
	if got := rec.last(t).Value; !got.Equal(value.String("remote")) {
		t.Fatalf("subscriber saw %v", got)
	}
}

func TestStaleReadAfterEvictionIsNotCached(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{"k": value.String("old")})
	s := newTestStore(t, Options{Storage: a, MaxCachedKeysCount: 1})
	read, release := a.holdNextRead()

	got := make(chan value.Value, 1)
	go func() {
		v, _ := s.Get(context.Background(), "k")
		got <- v
	}()
	<-read

	s.Set("k", value.String("new"))
	syncStore(t, s)
	s.Set("other", value.Int(1)) // evicts k
	syncStore(t, s)
	if _, ok := s.Peek("k"); ok {
		t.Fatalf("k still cached; eviction did not happen")
	}
	release()
	<-got

	if v, ok := s.Peek("k"); ok && !v.Equal(value.String("new")) {
		t.Fatalf("cache = %v, storage holds new", v)
	}
	if v, err := s.Get(context.Background(), "k"); err != nil || !v.Equal(value.String("new")) {
		t.Fatalf("Get = %v, %v; want new", v, err)
	}
}

func TestStorageEventDuringClearIsDropped(t *testing.T) {
	var emit func(string, value.Value)
	a := newRecAdapter(nil)
	s := newTestStore(t, Options{
		Storage:                      a,
		RegisterStorageEventListener: func(f func(string, value.Value)) { emit = f },
	})
	a.setOnClear(func() { emit("x", value.Int(1)) })
	s.Clear()
	syncStore(t, s)

	if v, ok := s.Peek("x"); ok && !v.IsNull() {
		t.Fatalf("cache x = %v after clear wiped it", v)
	}
	if got := stored(t, a, "x"); !got.IsNull() {
		t.Fatalf("storage x = %v", got)
	}

	// once the clear is durable, events apply again
	emit("x", value.Int(2))
	syncStore(t, s)
	if v, _ := s.Peek("x"); !v.Equal(value.Int(2)) {
		t.Fatalf("event after clear dropped: %v", v)
	}
}

func TestConcurrentConnectsShareOneRead(t *testing.T) {
	a := newRecAdapter(map[string]value.Value{"k": value.String("stored")})
	gate := make(chan struct{})
	a.getGate = gate
	s := newTestStore(t, Options{Storage: a})

	const n = 8
	recs := make([]*recorder, n)
	for i := range recs {
		recs[i] = &recorder{}
		mustConnect(t, s, ConnectOptions{Key: "k", Callback: recs[i].cb, InitWithStoredValues: true})
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	syncStore(t, s)

	if got := a.Gets("k"); got != 1 {
		t.Fatalf("storage reads = %d, want 1", got)
	}
	for i, r := range recs {
		if got := r.all(); len(got) != 1 || !got[0].Value.Equal(value.String("stored")) {
			t.Fatalf("subscriber %d got %+v", i, got)
		}
	}
}

func TestDeferredMergeDropsUnusedVersion(t *testing.T) {
	a := newRecAdapter(nil)
	a.failSet["m"] = errors.New("read-only")
	s := newTestStore(t, Options{Storage: a})

	if err := s.Merge("m", value.Map(map[string]value.Value{"a": value.Int(1)})).Wait(context.Background()); err == nil {
		t.Fatalf("merge should have failed")
	}
	s.mu.Lock()
	_, tracked := s.cache.versions["m"]
	s.mu.Unlock()
	if tracked {
		t.Fatalf("failed deferred merge left a version entry behind")
	}
}
