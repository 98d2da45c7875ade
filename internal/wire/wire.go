package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version   byte = 1
	kindValue byte = 1
	hdrLen         = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("reactkv: corrupt entry")
	magic4     = [...]byte{'R', 'K', 'V', 'S'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=value) | stamp(u64 be) | vlen(u32 be) | payload(vlen)
//
// stamp is the writer's wall clock in unix nanoseconds. It is informational;
// readers never order by it.
func EncodeEntry(stamp uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindValue)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], stamp)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry validates the frame and returns the payload as a sub-slice of b.
func DecodeEntry(b []byte) (stamp uint64, payload []byte, err error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kindValue {
		return 0, nil, ErrCorrupt
	}

	off := 6

	stamp = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // no trailing bytes
		return 0, nil, ErrCorrupt
	}

	return stamp, b[off : off+vlen], nil
}
