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

package types_test

import (
	"testing"

	"code.icreplica.io/replica/core/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanisterIDEncoding(t *testing.T) {
	id := types.CanisterIDFromU64(10)
	assert.Equal(t, "000000000000000a0101", id.Hex())

	back, err := types.CanisterIDFromHex(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = types.CanisterIDFromHex("zz")
	assert.Error(t, err)
	_, err = types.CanisterIDFromHex("")
	assert.Error(t, err)
}

func TestCanisterIDOrdering(t *testing.T) {
	assert.True(t, types.CanisterIDFromU64(1) < types.CanisterIDFromU64(2))
	assert.True(t, types.CanisterIDFromU64(255) < types.CanisterIDFromU64(256))
}

func TestHeightHex(t *testing.T) {
	assert.Equal(t, "000000000000002a", types.Height(42).Hex())
	h, err := types.HeightFromHex("000000000000002a")
	require.NoError(t, err)
	assert.Equal(t, types.Height(42), h)

	_, err = types.HeightFromHex("2a")
	assert.Error(t, err)
}
