package util

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Namespaced isolates key under ns ("<ns>:<key>"). An empty ns is a no-op.
func Namespaced(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + ":" + key
}

// TrimNamespace reverses Namespaced. ok is false for keys outside ns.
func TrimNamespace(ns, key string) (string, bool) {
	if ns == "" {
		return key, true
	}
	return strings.CutPrefix(key, ns+":")
}

// SortedKeys returns the keys of m in ascending order so multi-key writes
// hit backends in a deterministic order.
func SortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Redact returns a short stable digest of key (first 16 hex chars of SHA-256)
// for logs that must not leak user-controlled keys.
func Redact(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
