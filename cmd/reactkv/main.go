// Command reactkv is a small shell over a reactkv store.
//
//	reactkv get KEY
//	reactkv set KEY JSON
//	reactkv merge KEY JSON
//	reactkv clear [KEEP...]
//	reactkv keys
//	reactkv watch KEY | PREFIX*
//
// The backend and codec are configured through REACTKV_* environment
// variables (see config.go).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/reactkv"
	zaplog "github.com/unkn0wn-root/reactkv/log/zap"
	"github.com/unkn0wn-root/reactkv/value"
)

var errUsage = errors.New("usage: reactkv get|set|merge|clear|keys|watch ...")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "reactkv:", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := cfg.logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	adapter, events, err := cfg.storage(log)
	if err != nil {
		return err
	}
	opts := reactkv.Options{
		Storage:            adapter,
		MaxCachedKeysCount: cfg.MaxCachedKeys,
		Logger:             zaplog.New(log),
	}
	if events != nil {
		opts.RegisterStorageEventListener = events.Register
	}
	st, err := reactkv.New(ctx, opts)
	if err != nil {
		_ = adapter.Close(context.Background())
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := st.Close(cctx); err != nil {
			log.Warn("close", zap.Error(err))
		}
	}()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "get":
		if len(rest) != 1 {
			return errUsage
		}
		v, err := st.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		return printValue(out, v)
	case "set", "merge":
		if len(rest) != 2 {
			return errUsage
		}
		v, err := value.ParseJSON([]byte(rest[1]))
		if err != nil {
			return fmt.Errorf("value: %w", err)
		}
		if cmd == "set" {
			return st.Set(rest[0], v).Wait(ctx)
		}
		return st.Merge(rest[0], v).Wait(ctx)
	case "clear":
		return st.Clear(rest...).Wait(ctx)
	case "keys":
		keys, err := st.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(out, k)
		}
		return nil
	case "watch":
		if len(rest) != 1 {
			return errUsage
		}
		return watch(ctx, st, rest[0], out)
	default:
		return errUsage
	}
}

// watch prints every change until ctx is cancelled. A trailing '*' selects
// a collection.
func watch(ctx context.Context, st reactkv.Store, spec string, out io.Writer) error {
	co := reactkv.ConnectOptions{InitWithStoredValues: true}
	if prefix, ok := strings.CutSuffix(spec, "*"); ok {
		co.CollectionKey = prefix
	} else {
		co.Key = spec
	}
	co.Callback = func(c reactkv.Change) {
		if c.Members != nil {
			fmt.Fprintf(out, "%s\t%s\n", c.Key, value.Map(c.Members))
			return
		}
		fmt.Fprintf(out, "%s\t%s\n", c.Key, c.Value)
	}
	id, err := st.Connect(co)
	if err != nil {
		return err
	}
	defer st.Disconnect(id)
	<-ctx.Done()
	return nil
}

func printValue(out io.Writer, v value.Value) error {
	b, err := v.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", b)
	return err
}
