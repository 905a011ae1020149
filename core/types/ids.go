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

package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
)

// CanisterID identifies a canister. It wraps the raw id bytes in a string
// so that it is comparable and can key maps. Ordering is bytewise.
type CanisterID string

// CanisterIDFromBytes copies raw id bytes into a CanisterID.
func CanisterIDFromBytes(b []byte) CanisterID {
	return CanisterID(b)
}

// CanisterIDFromU64 builds the id of the n-th canister of a subnet: eight
// big-endian bytes followed by the 0x01 0x01 type tag.
func CanisterIDFromU64(n uint64) CanisterID {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint64(buf, n)
	buf[8], buf[9] = 0x01, 0x01
	return CanisterID(buf)
}

// CanisterIDFromHex parses the directory form produced by Hex.
func CanisterIDFromHex(s string) (CanisterID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid canister id %q: %w", s, err)
	}
	if len(b) == 0 {
		return "", fmt.Errorf("invalid canister id %q: empty", s)
	}
	return CanisterID(b), nil
}

func (c CanisterID) Bytes() []byte {
	return []byte(c)
}

// Hex returns the lowercase hex encoding of the id bytes.
func (c CanisterID) Hex() string {
	return hex.EncodeToString([]byte(c))
}

func (c CanisterID) String() string {
	return c.Hex()
}

// Height is a block height.
type Height uint64

// Hex returns the zero padded directory name of the height.
func (h Height) Hex() string {
	return fmt.Sprintf("%016x", uint64(h))
}

// HeightFromHex parses a name produced by Height.Hex.
func HeightFromHex(s string) (Height, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("invalid height %q: expected 16 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid height %q: %w", s, err)
	}
	return Height(v), nil
}

// ExecutionRound counts execution rounds.
type ExecutionRound uint64

// NumInstructions counts wasm instructions.
type NumInstructions uint64

// NumWasmPages counts 64KiB wasm pages.
type NumWasmPages uint64

// WasmPageSize is the size of a wasm page in bytes.
const WasmPageSize = 64 * 1024
