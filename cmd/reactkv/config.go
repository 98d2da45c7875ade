package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/reactkv/codec"
	evredis "github.com/unkn0wn-root/reactkv/events/redis"
	pr "github.com/unkn0wn-root/reactkv/provider"
	"github.com/unkn0wn-root/reactkv/provider/bigcache"
	prredis "github.com/unkn0wn-root/reactkv/provider/redis"
	"github.com/unkn0wn-root/reactkv/provider/ristretto"
	"github.com/unkn0wn-root/reactkv/provider/sqlite"
	"github.com/unkn0wn-root/reactkv/storage"
	"github.com/unkn0wn-root/reactkv/storage/memory"
)

type config struct {
	Backend       string `env:"REACTKV_BACKEND" envDefault:"sqlite"`
	SQLitePath    string `env:"REACTKV_SQLITE_PATH" envDefault:"reactkv.db"`
	RedisAddr     string `env:"REACTKV_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	Namespace     string `env:"REACTKV_NAMESPACE" envDefault:"reactkv"`
	Codec         string `env:"REACTKV_CODEC" envDefault:"json"`
	Compress      bool   `env:"REACTKV_COMPRESS"`
	MaxValueBytes int    `env:"REACTKV_MAX_VALUE_BYTES" envDefault:"16777216"`
	MaxCachedKeys int    `env:"REACTKV_MAX_CACHED_KEYS"`
	// Publish and receive change events between processes sharing a Redis
	// backend.
	Events        bool   `env:"REACTKV_EVENTS"`
	EventsChannel string `env:"REACTKV_EVENTS_CHANNEL" envDefault:"reactkv:events"`
	LogLevel      string `env:"REACTKV_LOG_LEVEL" envDefault:"warn"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c config) logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("REACTKV_LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func (c config) codec() (codec.Codec, error) {
	var cc codec.Codec
	switch strings.ToLower(c.Codec) {
	case "json":
		cc = codec.JSON{}
	case "cbor":
		det, err := codec.NewCBOR(true)
		if err != nil {
			return nil, err
		}
		cc = det
	case "msgpack":
		cc = codec.Msgpack{}
	case "protobuf":
		cc = codec.Protobuf{}
	default:
		return nil, fmt.Errorf("REACTKV_CODEC: unknown codec %q", c.Codec)
	}
	if c.Compress {
		cc = codec.Snappy{Inner: cc}
	}
	if c.MaxValueBytes > 0 {
		cc = codec.Limit{Inner: cc, MaxDecode: c.MaxValueBytes}
	}
	return cc, nil
}

func (c config) storage(log *zap.Logger) (storage.Adapter, *evredis.Sync, error) {
	if strings.ToLower(c.Backend) == "memory" {
		return memory.New(nil), nil, nil
	}

	cc, err := c.codec()
	if err != nil {
		return nil, nil, err
	}
	var rdb *goredis.Client
	var p pr.Provider
	switch strings.ToLower(c.Backend) {
	case "sqlite":
		p, err = sqlite.Open(c.SQLitePath)
	case "bigcache":
		p, err = bigcache.New(bigcache.Config{})
	case "ristretto":
		p, err = ristretto.New(ristretto.Config{NumCounters: 1e5, MaxCost: 64 << 20, BufferItems: 64})
	case "redis":
		rdb = goredis.NewClient(&goredis.Options{Addr: c.RedisAddr})
		p, err = prredis.New(prredis.Config{Client: rdb, Namespace: c.Namespace, CloseClient: !c.Events})
	default:
		return nil, nil, fmt.Errorf("REACTKV_BACKEND: unknown backend %q", c.Backend)
	}
	if err != nil {
		return nil, nil, err
	}

	enc, err := storage.NewEncoded(p, cc)
	if err != nil {
		return nil, nil, err
	}
	enc.OnCorrupt = func(key string, err error) {
		log.Warn("dropped corrupt entry", zap.String("key", key), zap.Error(err))
	}
	if !c.Events {
		return enc, nil, nil
	}
	if rdb == nil {
		return nil, nil, fmt.Errorf("REACTKV_EVENTS requires the redis backend")
	}
	ev, err := evredis.New(enc, evredis.Config{
		Client:  rdb,
		Channel: c.EventsChannel,
		Codec:   cc,
		OnError: func(err error) { log.Warn("change event", zap.Error(err)) },
	})
	if err != nil {
		return nil, nil, err
	}
	return ev, ev, nil
}
