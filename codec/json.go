package codec

import "github.com/unkn0wn-root/reactkv/value"

type JSON struct{}

var _ Codec = JSON{}

func (JSON) Encode(v value.Value) ([]byte, error) { return v.MarshalJSON() }
func (JSON) Decode(b []byte) (value.Value, error) { return value.ParseJSON(b) }
