package reactkv

import (
	"container/list"
	"sort"
	"strings"

	"github.com/unkn0wn-root/reactkv/value"
)

type cacheEntry struct {
	key  string
	v    value.Value
	elem *list.Element
}

// memCache is the in-memory view of the store. A Null entry means the key
// is known to be absent, which is different from having no entry.
//
// Not safe for concurrent use; the store guards it with its mutex.
type memCache struct {
	entries map[string]*cacheEntry
	lru     *list.List // front = most recently used

	// versions change on every local write intent for a key. A read started
	// at version n may fill the cache only if the version is still n.
	// Keys without an entry read as floor, which moves past every version
	// handed out so far whenever one is pruned.
	versions map[string]uint64
	clock    uint64
	floor    uint64

	max       int
	evictable func(key string) bool
	onEvict   func(key string)
}

func newMemCache(max int, evictable func(string) bool, onEvict func(string)) *memCache {
	if evictable == nil {
		evictable = func(string) bool { return true }
	}
	if onEvict == nil {
		onEvict = func(string) {}
	}
	return &memCache{
		entries:   make(map[string]*cacheEntry),
		lru:       list.New(),
		versions:  make(map[string]uint64),
		max:       max,
		evictable: evictable,
		onEvict:   onEvict,
	}
}

// get returns the entry and marks it recently used.
func (c *memCache) get(key string) (value.Value, bool) {
	e, ok := c.entries[key]
	if !ok {
		return value.Null(), false
	}
	c.lru.MoveToFront(e.elem)
	return e.v, true
}

// peek is get without touching recency.
func (c *memCache) peek(key string) (value.Value, bool) {
	e, ok := c.entries[key]
	if !ok {
		return value.Null(), false
	}
	return e.v, true
}

func (c *memCache) has(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// set records a local write.
func (c *memCache) set(key string, v value.Value) {
	c.bump(key)
	c.install(key, v)
}

// fill records a value read from storage. It does not change the version.
func (c *memCache) fill(key string, v value.Value) {
	c.install(key, v)
}

// bump invalidates reads of key that are in flight.
func (c *memCache) bump(key string) {
	c.clock++
	c.versions[key] = c.clock
}

func (c *memCache) version(key string) uint64 {
	if v, ok := c.versions[key]; ok {
		return v
	}
	return c.floor
}

// prune forgets the version of key. Every read in flight for a key without
// a version entry stops matching, so none of them can fill stale data.
func (c *memCache) prune(key string) {
	if _, ok := c.versions[key]; !ok {
		return
	}
	delete(c.versions, key)
	c.clock++
	c.floor = c.clock
}

func (c *memCache) install(key string, v value.Value) {
	if e, ok := c.entries[key]; ok {
		e.v = v
		c.lru.MoveToFront(e.elem)
		return
	}
	e := &cacheEntry{key: key, v: v}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.evict()
}

// evict drops least recently used entries until the bound holds, skipping
// keys the store pins. If everything is pinned the cache grows past max.
func (c *memCache) evict() {
	if c.max <= 0 || len(c.entries) <= c.max {
		return
	}
	for el := c.lru.Back(); el != nil && len(c.entries) > c.max; {
		prev := el.Prev()
		e := el.Value.(*cacheEntry)
		if c.evictable(e.key) {
			c.lru.Remove(el)
			delete(c.entries, e.key)
			c.prune(e.key)
			c.onEvict(e.key)
		}
		el = prev
	}
}

// trim re-applies the bound; called when pinned keys become evictable.
func (c *memCache) trim() { c.evict() }

func (c *memCache) len() int { return len(c.entries) }

// keys returns every key with an entry, sorted.
func (c *memCache) keys() []string {
	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// members returns the non-Null entries under prefix.
func (c *memCache) members(prefix string) map[string]value.Value {
	out := make(map[string]value.Value)
	for k, e := range c.entries {
		if e.v.IsNull() || !strings.HasPrefix(k, prefix) {
			continue
		}
		out[k] = e.v
	}
	return out
}
