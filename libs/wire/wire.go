// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package wire reads and writes protocol buffer messages field by field.
// Messages are described by their field numbers only, which keeps the
// on-disk and on-wire formats stable without generated code.
package wire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encoder appends fields to a message. Zero scalars are omitted, as
// proto3 does.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) PutUint64(n protowire.Number, v uint64) *Encoder {
	if v == 0 {
		return e
	}
	e.buf = protowire.AppendTag(e.buf, n, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
	return e
}

func (e *Encoder) PutInt64(n protowire.Number, v int64) *Encoder {
	return e.PutUint64(n, protowire.EncodeZigZag(v))
}

func (e *Encoder) PutBool(n protowire.Number, v bool) *Encoder {
	if !v {
		return e
	}
	return e.PutUint64(n, 1)
}

func (e *Encoder) PutFloat64(n protowire.Number, v float64) *Encoder {
	if v == 0 {
		return e
	}
	e.buf = protowire.AppendTag(e.buf, n, protowire.Fixed64Type)
	e.buf = protowire.AppendFixed64(e.buf, math.Float64bits(v))
	return e
}

func (e *Encoder) PutBytes(n protowire.Number, v []byte) *Encoder {
	if len(v) == 0 {
		return e
	}
	return e.PutMessage(n, v)
}

func (e *Encoder) PutString(n protowire.Number, v string) *Encoder {
	if v == "" {
		return e
	}
	e.buf = protowire.AppendTag(e.buf, n, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
	return e
}

// PutMessage always writes the field, so an empty message still marks
// presence.
func (e *Encoder) PutMessage(n protowire.Number, v []byte) *Encoder {
	e.buf = protowire.AppendTag(e.buf, n, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
	return e
}

func (e *Encoder) PutStrings(n protowire.Number, vs []string) *Encoder {
	for _, v := range vs {
		e.buf = protowire.AppendTag(e.buf, n, protowire.BytesType)
		e.buf = protowire.AppendString(e.buf, v)
	}
	return e
}

// PutUint64s writes one unpacked varint per element, zeros included.
func (e *Encoder) PutUint64s(n protowire.Number, vs []uint64) *Encoder {
	for _, v := range vs {
		e.buf = protowire.AppendTag(e.buf, n, protowire.VarintType)
		e.buf = protowire.AppendVarint(e.buf, v)
	}
	return e
}

type value struct {
	num uint64
	raw []byte
}

// Fields is a parsed message. Getters return the last occurrence of a
// field, or the zero value when absent.
type Fields struct {
	values map[protowire.Number][]value
}

// Parse splits a message into its fields. Unknown wire types such as
// groups are skipped.
func Parse(b []byte) (Fields, error) {
	f := Fields{values: map[protowire.Number][]value{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return f, protowire.ParseError(n)
		}
		b = b[n:]
		var v value
		switch typ {
		case protowire.VarintType:
			v.num, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			v.num, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var x uint32
			x, n = protowire.ConsumeFixed32(b)
			v.num = uint64(x)
		case protowire.BytesType:
			v.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return f, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return f, protowire.ParseError(n)
		}
		b = b[n:]
		f.values[num] = append(f.values[num], v)
	}
	return f, nil
}

func (f Fields) last(n protowire.Number) (value, bool) {
	vs := f.values[n]
	if len(vs) == 0 {
		return value{}, false
	}
	return vs[len(vs)-1], true
}

func (f Fields) Has(n protowire.Number) bool {
	_, ok := f.last(n)
	return ok
}

func (f Fields) Uint64(n protowire.Number) uint64 {
	v, _ := f.last(n)
	return v.num
}

func (f Fields) Int64(n protowire.Number) int64 {
	return protowire.DecodeZigZag(f.Uint64(n))
}

func (f Fields) Bool(n protowire.Number) bool {
	return f.Uint64(n) != 0
}

func (f Fields) Float64(n protowire.Number) float64 {
	return math.Float64frombits(f.Uint64(n))
}

// Bytes returns a copy of a length delimited field.
func (f Fields) Bytes(n protowire.Number) []byte {
	v, ok := f.last(n)
	if !ok || len(v.raw) == 0 {
		return nil
	}
	return append([]byte(nil), v.raw...)
}

func (f Fields) String(n protowire.Number) string {
	v, _ := f.last(n)
	return string(v.raw)
}

// Messages returns every occurrence of a repeated length delimited field.
func (f Fields) Messages(n protowire.Number) [][]byte {
	vs := f.values[n]
	out := make([][]byte, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.raw)
	}
	return out
}

func (f Fields) Strings(n protowire.Number) []string {
	vs := f.values[n]
	if len(vs) == 0 {
		return nil
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, string(v.raw))
	}
	return out
}

func (f Fields) Uint64s(n protowire.Number) []uint64 {
	vs := f.values[n]
	if len(vs) == 0 {
		return nil
	}
	out := make([]uint64, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.num)
	}
	return out
}
