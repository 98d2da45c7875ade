package reactkv

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type taskKind uint8

const (
	taskSet taskKind = iota + 1
	taskMultiSet
	taskMerge
	taskClear
	taskInit
	taskBarrier
)

func (k taskKind) String() string {
	switch k {
	case taskSet:
		return "set"
	case taskMultiSet:
		return "multiset"
	case taskMerge:
		return "merge"
	case taskClear:
		return "clear"
	case taskInit:
		return "init"
	case taskBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("task(%d)", uint8(k))
	}
}

type writeTask struct {
	kind taskKind
	keys []string
	run  func(ctx context.Context) error
	// after runs on the worker once run returned, before the Write settles.
	after func(err error)
	w     *Write
}

// writeQueue runs durable effects one at a time, in enqueue order. A failed
// task is reported and the next one starts anyway.
type writeQueue struct {
	ctx   context.Context
	log   Logger
	hooks Hooks

	mu     sync.Mutex
	tasks  []*writeTask
	seq    uint64
	closed bool

	wake    chan struct{}
	stopped chan struct{}
}

func newWriteQueue(ctx context.Context, log Logger, hooks Hooks) *writeQueue {
	q := &writeQueue{
		ctx:     ctx,
		log:     log,
		hooks:   hooks,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *writeQueue) enqueue(kind taskKind, keys []string, run func(context.Context) error, after func(error)) *Write {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return failedWrite(ErrClosed)
	}
	q.seq++
	t := &writeTask{kind: kind, keys: keys, run: run, after: after, w: newWrite(q.seq)}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	q.signal()
	return t.w
}

func (q *writeQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// barrier waits until everything enqueued before it has settled.
func (q *writeQueue) barrier(ctx context.Context) error {
	w := q.enqueue(taskBarrier, nil, nil, nil)
	if errors.Is(w.Err(), ErrClosed) {
		// closed: wait for the drain instead
		select {
		case <-q.stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.Wait(ctx)
}

// close stops accepting tasks and waits until the queued ones ran.
func (q *writeQueue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *writeQueue) loop() {
	defer close(q.stopped)
	for {
		t, ok := q.next()
		if !ok {
			return
		}
		q.exec(t)
	}
}

func (q *writeQueue) next() (*writeTask, bool) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			t := q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return t, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *writeQueue) exec(t *writeTask) {
	var err error
	if t.run != nil {
		err = q.safeRun(t)
	}
	if err != nil {
		var ae *AdapterError
		if !errors.As(err, &ae) {
			err = &AdapterError{Op: t.kind.String(), Keys: t.keys, Err: err}
		}
		q.hooks.WriteFailed(t.kind.String(), t.keys, err)
		q.log.Warn("durable write failed", Fields{
			"op":    t.kind.String(),
			"keys":  len(t.keys),
			"seq":   t.w.seq,
			"error": err.Error(),
		})
	}
	if t.after != nil {
		t.after(err)
	}
	t.w.settle(err)
}

func (q *writeQueue) safeRun(t *writeTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in storage adapter: %v", r)
		}
	}()
	return t.run(q.ctx)
}
