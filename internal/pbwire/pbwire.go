// Package pbwire holds the small amount of protobuf wire plumbing shared by the
// key and envelope codecs. Messages are encoded field by field with protowire so
// the bytes stay compatible with the XMTP .proto definitions without generated
// code.
package pbwire

import (
	"errors"
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("pbwire: malformed message")

type Encoder struct {
	buf []byte
}

func (e *Encoder) Uint64(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *Encoder) Bool(num protowire.Number, v bool) {
	if !v {
		return
	}
	e.Uint64(num, 1)
}

func (e *Encoder) Bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

func (e *Encoder) String(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

// Message writes an embedded message. Unlike Bytes it is emitted even when the
// encoded submessage is empty so presence survives a round trip.
func (e *Encoder) Message(num protowire.Number, v []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

// RepeatedString writes one tag per element, including empty strings.
func (e *Encoder) RepeatedString(num protowire.Number, vs []string) {
	for _, v := range vs {
		e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
		e.buf = protowire.AppendString(e.buf, v)
	}
}

func (e *Encoder) Data() []byte {
	if e.buf == nil {
		return []byte{}
	}
	return e.buf
}

type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Bytes  []byte
}

// Parse walks b and calls fn for every varint and length-delimited field.
// Other wire types are skipped. Byte slices handed to fn are copies.
func Parse(b []byte, fn func(Field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		f := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			f.Varint = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			f.Bytes = append([]byte{}, v...)
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// StringMap helpers encode map<string,string> fields as repeated entries.
func (e *Encoder) StringMap(num protowire.Number, m map[string]string) {
	for _, k := range sortedKeys(m) {
		var entry Encoder
		entry.String(1, k)
		entry.String(2, m[k])
		e.Message(num, entry.Data())
	}
}

func ParseMapEntry(b []byte) (string, string, error) {
	var k, v string
	err := Parse(b, func(f Field) error {
		switch f.Num {
		case 1:
			k = string(f.Bytes)
		case 2:
			v = string(f.Bytes)
		}
		return nil
	})
	return k, v, err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
