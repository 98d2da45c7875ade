package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/reactkv/value"
)

// Protobuf stores values as google.protobuf.Value messages, which makes the
// stored bytes readable by any protobuf-aware consumer.
type Protobuf struct{}

var _ Codec = Protobuf{}

func (Protobuf) Encode(v value.Value) ([]byte, error) {
	pv, err := structpb.NewValue(v.Interface())
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pv)
}

func (Protobuf) Decode(b []byte) (value.Value, error) {
	var pv structpb.Value
	if err := proto.Unmarshal(b, &pv); err != nil {
		return value.Null(), err
	}
	return value.FromAny(pv.AsInterface())
}
