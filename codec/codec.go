// Package codec serialises value.Value to bytes for byte-oriented providers.
package codec

import "github.com/unkn0wn-root/reactkv/value"

// Codec encodes/decodes values for storage.
// Encode is never called with a Null value; Null means "no entry".
type Codec interface {
	Encode(value.Value) ([]byte, error)
	Decode([]byte) (value.Value, error)
}
