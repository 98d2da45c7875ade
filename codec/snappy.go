package codec

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/unkn0wn-root/reactkv/value"
)

// Snappy compresses the output of Inner with snappy block encoding.
type Snappy struct {
	Inner Codec
}

var _ Codec = Snappy{}

func (c Snappy) Encode(v value.Value) ([]byte, error) {
	raw, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func (c Snappy) Decode(b []byte) (value.Value, error) {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return value.Null(), fmt.Errorf("snappy: %w", err)
	}
	return c.Inner.Decode(raw)
}
