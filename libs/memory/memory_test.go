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

package memory_test

import (
	"testing"

	"code.icreplica.io/replica/libs/memory"

	"github.com/stretchr/testify/assert"
)

func TestSoftLimit(t *testing.T) {
	total, err := memory.TotalMemory()
	if err != nil {
		t.Skip("host memory unavailable")
	}
	assert.Equal(t, uint64(1024), memory.SoftLimit(1024))
	assert.Equal(t, total, memory.SoftLimit(total+1))
	assert.Equal(t, total, memory.SoftLimit(0))
}
