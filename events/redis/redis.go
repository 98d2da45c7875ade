// Package redis propagates storage changes between processes sharing one
// backend, using Redis Pub/Sub.
//
// Sync wraps the store's storage.Adapter. After each successful Set,
// MultiSet or Remove it publishes the new value; Register subscribes and
// hands changes made by other processes to the store:
//
//	ev, _ := redis.New(adapter, redis.Config{Client: rdb, Channel: "app:kv"})
//	st, _ := reactkv.New(ctx, reactkv.Options{
//	    Storage:                      ev,
//	    RegisterStorageEventListener: ev.Register,
//	})
//
// Clear is not propagated; peers pick up the restored keys as they are
// rewritten.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/reactkv/codec"
	"github.com/unkn0wn-root/reactkv/internal/util"
	"github.com/unkn0wn-root/reactkv/storage"
	"github.com/unkn0wn-root/reactkv/value"
)

var ErrNilClient = errors.New("redis events: nil client")

const DefaultChannel = "reactkv:events"

type Config struct {
	Client goredis.UniversalClient
	// Channel every peer publishes to and subscribes on.
	Channel string
	// Codec encodes values inside events. Defaults to codec.JSON.
	Codec codec.Codec
	// OnError observes publish and decode failures. Publishing never fails
	// the write that triggered it.
	OnError func(err error)
}

// envelope is the wire form of one change.
type envelope struct {
	Origin  string `msgpack:"o"`
	Key     string `msgpack:"k"`
	Value   []byte `msgpack:"v,omitempty"`
	Deleted bool   `msgpack:"d,omitempty"`
}

type Sync struct {
	storage.Adapter

	rdb     goredis.UniversalClient
	channel string
	codec   codec.Codec
	origin  string
	onError func(error)

	mu   sync.Mutex
	subs []*goredis.PubSub
	wg   sync.WaitGroup
}

var _ storage.Adapter = (*Sync)(nil)

func New(inner storage.Adapter, cfg Config) (*Sync, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if inner == nil {
		return nil, errors.New("redis events: nil adapter")
	}
	origin, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("redis events: origin id: %w", err)
	}
	s := &Sync{
		Adapter: inner,
		rdb:     cfg.Client,
		channel: cfg.Channel,
		codec:   cfg.Codec,
		origin:  origin.String(),
		onError: cfg.OnError,
	}
	if s.channel == "" {
		s.channel = DefaultChannel
	}
	if s.codec == nil {
		s.codec = codec.JSON{}
	}
	if s.onError == nil {
		s.onError = func(error) {}
	}
	return s, nil
}

// Origin identifies this process in published events.
func (s *Sync) Origin() string { return s.origin }

func (s *Sync) Set(ctx context.Context, key string, v value.Value) error {
	if err := s.Adapter.Set(ctx, key, v); err != nil {
		return err
	}
	s.publish(ctx, key, v)
	return nil
}

func (s *Sync) MultiSet(ctx context.Context, items map[string]value.Value) error {
	if err := s.Adapter.MultiSet(ctx, items); err != nil {
		return err
	}
	for _, k := range util.SortedKeys(items) {
		s.publish(ctx, k, items[k])
	}
	return nil
}

func (s *Sync) Remove(ctx context.Context, key string) error {
	if err := s.Adapter.Remove(ctx, key); err != nil {
		return err
	}
	s.publish(ctx, key, value.Null())
	return nil
}

func (s *Sync) publish(ctx context.Context, key string, v value.Value) {
	msg, err := s.encode(key, v)
	if err == nil {
		err = s.rdb.Publish(ctx, s.channel, msg).Err()
	}
	if err != nil {
		s.onError(fmt.Errorf("redis events: publish %s: %w", util.Redact(key), err))
	}
}

func (s *Sync) encode(key string, v value.Value) ([]byte, error) {
	env := envelope{Origin: s.origin, Key: key, Deleted: v.IsNull()}
	if !env.Deleted {
		b, err := s.codec.Encode(v)
		if err != nil {
			return nil, err
		}
		env.Value = b
	}
	return msgpack.Marshal(&env)
}

// decode returns ok=false for events this process published itself.
func (s *Sync) decode(payload []byte) (key string, v value.Value, ok bool, err error) {
	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return "", value.Null(), false, err
	}
	if env.Origin == s.origin {
		return "", value.Null(), false, nil
	}
	if env.Deleted {
		return env.Key, value.Null(), true, nil
	}
	v, err = s.codec.Decode(env.Value)
	if err != nil {
		return "", value.Null(), false, err
	}
	return env.Key, v, true, nil
}

// Register subscribes to the channel and calls onChange for every change
// another process published. It has the shape of
// reactkv.Options.RegisterStorageEventListener.
func (s *Sync) Register(onChange func(key string, v value.Value)) {
	sub := s.rdb.Subscribe(context.Background(), s.channel)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for msg := range sub.Channel() {
			s.handle([]byte(msg.Payload), onChange)
		}
	}()
}

func (s *Sync) handle(payload []byte, onChange func(string, value.Value)) {
	key, v, ok, err := s.decode(payload)
	if err != nil {
		s.onError(fmt.Errorf("redis events: decode: %w", err))
		return
	}
	if ok {
		onChange(key, v)
	}
}

// Close stops the subscriptions, then closes the wrapped adapter.
func (s *Sync) Close(ctx context.Context) error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.Close())
	}
	s.wg.Wait()
	errs = append(errs, s.Adapter.Close(ctx))
	return errors.Join(errs...)
}
