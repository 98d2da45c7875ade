package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/reactkv/value"
)

// Msgpack is a Codec that serializes values using vmihailenco/msgpack/v5.
// The zero value is ready to use.
//
// Numbers come back as float64 whatever width msgpack picked on the wire.
type Msgpack struct{}

var _ Codec = Msgpack{}

func (Msgpack) Encode(v value.Value) ([]byte, error) {
	return msgpack.Marshal(v.Interface())
}

func (Msgpack) Decode(b []byte) (value.Value, error) {
	var raw any
	if err := msgpack.Unmarshal(b, &raw); err != nil {
		return value.Null(), err
	}
	return value.FromAny(raw)
}
