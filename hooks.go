package reactkv

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The store calls them from its worker and dispatcher goroutines.
type Hooks interface {
	// A durable effect failed. op ∈ {"set", "multiset", "merge", "clear", "init"}.
	// The write queue carries on with the next task.
	WriteFailed(op string, keys []string, err error)

	// A subscriber callback panicked; other subscribers were still notified.
	CallbackFailed(err *CallbackError)

	// A storage read issued by Get/Connect failed.
	ReadFailed(key string, err error)

	// A key was dropped from memory by the cache bound (storage keeps it).
	Evicted(key string)

	// Another process changed key in the shared storage.
	StorageEvent(key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) WriteFailed(string, []string, error) {}
func (NopHooks) CallbackFailed(*CallbackError)       {}
func (NopHooks) ReadFailed(string, error)            {}
func (NopHooks) Evicted(string)                      {}
func (NopHooks) StorageEvent(string)                 {}
