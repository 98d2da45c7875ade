package codec

import (
	"fmt"

	"github.com/unkn0wn-root/reactkv/value"
)

// Limit wraps another codec to enforce a maximum allowed payload size
// at Decode time. Encode is forwarded to Inner unchanged.
// If MaxDecode <= 0, size limiting is disabled.
//
// Typical use: protect against oversized inputs coming from a storage
// backend shared with other processes.
type Limit struct {
	// Inner is the underlying codec being wrapped. It must be set.
	Inner Codec
	// MaxDecode is the maximum permitted length (in bytes) of the incoming
	// payload for Decode.
	MaxDecode int
}

var _ Codec = Limit{}

func (c Limit) Encode(v value.Value) ([]byte, error) { return c.Inner.Encode(v) }
func (c Limit) Decode(b []byte) (value.Value, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		return value.Null(), fmt.Errorf("payload too large: %d > %d", len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
