package reactkv

// Fields carries structured context for a log record.
type Fields map[string]any

// Logger receives the store's diagnostics: failed durable writes and reads,
// panicking callbacks, evictions. Wrap your own stack with log/zap,
// log/logrus or log/slog. A nil Options.Logger discards everything.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type NopLogger struct{}

var _ Logger = NopLogger{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}
