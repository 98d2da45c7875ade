package reactkv

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrClosed         = errors.New("reactkv: store closed")
	ErrInvalidKeySpec = errors.New("reactkv: invalid key spec")
)

// AdapterError reports a failed storage call. Op is the operation that
// issued it ("set", "merge", "clear", "get", ...).
type AdapterError struct {
	Op   string
	Keys []string
	Err  error
}

func (e *AdapterError) Error() string {
	switch len(e.Keys) {
	case 0:
		return fmt.Sprintf("reactkv: storage %s: %v", e.Op, e.Err)
	case 1:
		return fmt.Sprintf("reactkv: storage %s %q: %v", e.Op, e.Keys[0], e.Err)
	default:
		return fmt.Sprintf("reactkv: storage %s [%s]: %v", e.Op, strings.Join(e.Keys, ","), e.Err)
	}
}

func (e *AdapterError) Unwrap() error { return e.Err }

// KeySpecError is returned by Connect (and by mutations given an empty key).
// It matches ErrInvalidKeySpec with errors.Is.
type KeySpecError struct {
	Key    string
	Reason string
}

func (e *KeySpecError) Error() string {
	return fmt.Sprintf("reactkv: invalid key spec %q: %s", e.Key, e.Reason)
}

func (e *KeySpecError) Unwrap() error { return ErrInvalidKeySpec }

// CallbackError describes a subscriber callback that panicked. It is
// reported through Hooks and Logger, never returned.
type CallbackError struct {
	Connection ConnectionID
	Key        string
	Panic      any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("reactkv: callback of connection %d for %q panicked: %v", e.Connection, e.Key, e.Panic)
}

func (e *CallbackError) Unwrap() error {
	if err, ok := e.Panic.(error); ok {
		return err
	}
	return nil
}
