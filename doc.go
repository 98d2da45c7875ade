// Package reactkv implements a reactive, persistent key-value store for
// client applications.
//
// An in-memory cache is the synchronous source of truth for readers. Every
// mutation is applied to the cache immediately and queued as a durable
// effect against a storage.Adapter. Subscribers are notified whenever a key
// they watch changes.
//
// Components:
//   - Cache: key -> current value, with optional LRU bound that never evicts
//     subscribed keys or keys with queued writes.
//   - Write queue: a single FIFO worker. Durable effects run strictly in the
//     order their calls were made, so a Clear followed by a Set can never
//     erase the Set, whatever the backend latency.
//   - value.Merge / value.Fold: deep-merge rules; consecutive merges on a key
//     collapse into one durable write.
//   - Broadcaster: exact-key and collection (prefix) subscriptions, delivered
//     on a dedicated goroutine.
//
// Usage:
//
//	st, _ := reactkv.New(ctx, reactkv.Options{
//	    Storage:          memory.New(nil),
//	    InitialKeyStates: map[string]value.Value{"session": value.String("anon")},
//	})
//	id, _ := st.Connect(reactkv.ConnectOptions{
//	    CollectionKey: "report_",
//	    Callback:      func(c reactkv.Change) { render(c.Members) },
//	})
//	defer st.Disconnect(id)
//	err := st.Merge("report_1", patch).Wait(ctx) // nil once durable
//
// Durable failures are returned through the Write of the call that caused
// them. The cache is not rolled back: it stays optimistic, and later writes
// still run.
package reactkv
