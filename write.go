package reactkv

import (
	"context"
)

// Write is the handle returned by every mutation. It settles once the
// mutation's durable effect has run (successfully or not). Several calls can
// share one Write when their effects were coalesced, e.g. merges on the same
// key issued before the first one reached storage.
type Write struct {
	seq  uint64
	done chan struct{}
	err  error
}

func newWrite(seq uint64) *Write {
	return &Write{seq: seq, done: make(chan struct{})}
}

// failedWrite is a Write that was rejected before it was queued.
func failedWrite(err error) *Write {
	w := newWrite(0)
	w.settle(err)
	return w
}

// settle is called exactly once, by the write worker.
func (w *Write) settle(err error) {
	w.err = err
	close(w.done)
}

// Wait blocks until the durable effect ran or ctx is done.
func (w *Write) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Write) Done() <-chan struct{} { return w.done }

// Err returns the durable error, or nil while the write is still pending.
func (w *Write) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

// Seq is the position of the write in the queue; 0 for rejected writes.
func (w *Write) Seq() uint64 { return w.seq }
