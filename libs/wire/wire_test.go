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

package wire_test

import (
	"testing"

	"code.icreplica.io/replica/libs/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	inner := wire.NewEncoder().PutString(1, "inner").Bytes()
	b := wire.NewEncoder().
		PutUint64(1, 42).
		PutInt64(2, -7).
		PutBool(3, true).
		PutFloat64(4, 0.25).
		PutBytes(5, []byte{1, 2}).
		PutStrings(6, []string{"a", "b"}).
		PutUint64s(7, []uint64{0, 9}).
		PutMessage(8, inner).
		PutMessage(9, nil).
		Bytes()

	f, err := wire.Parse(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), f.Uint64(1))
	assert.Equal(t, int64(-7), f.Int64(2))
	assert.True(t, f.Bool(3))
	assert.Equal(t, 0.25, f.Float64(4))
	assert.Equal(t, []byte{1, 2}, f.Bytes(5))
	assert.Equal(t, []string{"a", "b"}, f.Strings(6))
	assert.Equal(t, []uint64{0, 9}, f.Uint64s(7))
	require.Len(t, f.Messages(8), 1)
	assert.True(t, f.Has(9))

	in, err := wire.Parse(f.Messages(8)[0])
	require.NoError(t, err)
	assert.Equal(t, "inner", in.String(1))
}

func TestZeroValuesAreOmitted(t *testing.T) {
	b := wire.NewEncoder().PutUint64(1, 0).PutBool(2, false).PutString(3, "").PutBytes(4, nil).Bytes()
	assert.Empty(t, b)

	f, err := wire.Parse(b)
	require.NoError(t, err)
	assert.False(t, f.Has(1))
	assert.Nil(t, f.Bytes(4))
	assert.Nil(t, f.Strings(5))
}

func TestParseTruncated(t *testing.T) {
	b := wire.NewEncoder().PutString(1, "truncated").Bytes()
	_, err := wire.Parse(b[:len(b)-2])
	assert.Error(t, err)
}
