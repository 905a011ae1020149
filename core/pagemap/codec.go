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

package pagemap

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrInvalidPage = errors.New("invalid encoded page")

const (
	fieldPageIndex = 1
	fieldPageData  = 2

	fieldSerBasePath   = 1
	fieldSerPageDelta  = 2
	fieldSerRoundDelta = 3
)

// MarshalDelta encodes pages as a sequence of length delimited page
// messages.
func MarshalDelta(delta []PageUpdate) []byte {
	return appendDelta(nil, fieldSerPageDelta, delta)
}

// UnmarshalDelta decodes the output of MarshalDelta.
func UnmarshalDelta(b []byte) ([]PageUpdate, error) {
	s, err := UnmarshalSerialization(b)
	if err != nil {
		return nil, err
	}
	return s.PageDelta, nil
}

// MarshalSerialization encodes a page map description for the wire.
func MarshalSerialization(s Serialization) []byte {
	var b []byte
	if s.BasePath != "" {
		b = protowire.AppendTag(b, fieldSerBasePath, protowire.BytesType)
		b = protowire.AppendString(b, s.BasePath)
	}
	b = appendDelta(b, fieldSerPageDelta, s.PageDelta)
	return appendDelta(b, fieldSerRoundDelta, s.RoundDelta)
}

// UnmarshalSerialization decodes the output of MarshalSerialization.
func UnmarshalSerialization(b []byte) (Serialization, error) {
	var s Serialization
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldSerBasePath && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			s.BasePath = v
			b = b[n:]
		case (num == fieldSerPageDelta || num == fieldSerRoundDelta) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			u, err := unmarshalPage(v)
			if err != nil {
				return s, err
			}
			if num == fieldSerPageDelta {
				s.PageDelta = append(s.PageDelta, u)
			} else {
				s.RoundDelta = append(s.RoundDelta, u)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return s, nil
}

func appendDelta(b []byte, field protowire.Number, delta []PageUpdate) []byte {
	for _, u := range delta {
		var m []byte
		m = protowire.AppendTag(m, fieldPageIndex, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(u.Index))
		m = protowire.AppendTag(m, fieldPageData, protowire.BytesType)
		m = protowire.AppendBytes(m, u.Data[:])
		b = protowire.AppendTag(b, field, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func unmarshalPage(b []byte) (PageUpdate, error) {
	var (
		u       PageUpdate
		hasData bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return u, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldPageIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return u, protowire.ParseError(n)
			}
			u.Index = PageIndex(v)
			b = b[n:]
		case num == fieldPageData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return u, protowire.ParseError(n)
			}
			if len(v) != PageSize {
				return u, fmt.Errorf("%w: page %d has %d bytes", ErrInvalidPage, u.Index, len(v))
			}
			u.Data = new(Page)
			copy(u.Data[:], v)
			hasData = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return u, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if !hasData {
		return u, fmt.Errorf("%w: missing data for page %d", ErrInvalidPage, u.Index)
	}
	return u, nil
}
