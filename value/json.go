package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		b, err := json.Marshal(v.n)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindSequence:
		buf.WriteByte('[')
		for i, e := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		// sorted keys keep encodings stable for equal values
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.m[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("value: unknown kind %d", v.kind)
	}
	return nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := fromJSON(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// ParseJSON decodes a JSON document into a Value.
func ParseJSON(b []byte) (Value, error) {
	var v Value
	err := v.UnmarshalJSON(b)
	return v, err
}

func fromJSON(raw any) (Value, error) {
	switch t := raw.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("value: number %q: %w", t, err)
		}
		return Number(f), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromJSON(e)
			if err != nil {
				return Null(), err
			}
			out[i] = ev
		}
		return Value{kind: KindSequence, seq: out}, nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromJSON(e)
			if err != nil {
				return Null(), err
			}
			out[k] = ev
		}
		return Value{kind: KindMapping, m: out}, nil
	default:
		return FromAny(t)
	}
}
