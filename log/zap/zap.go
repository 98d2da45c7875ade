// Package zap adapts a *zap.Logger to reactkv.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/reactkv"
)

var _ reactkv.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger "reactkv" so store events are easy to filter.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("reactkv")} }

func (z Logger) Debug(msg string, f reactkv.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f reactkv.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f reactkv.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f reactkv.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f reactkv.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			out = append(out, zap.String(k, v))
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
