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

package memory

import (
	"errors"

	"github.com/pbnjay/memory"
)

func TotalMemory() (uint64, error) {
	mem := memory.TotalMemory()
	if mem == 0 {
		return 0, errors.New("accessible memory size could not be determined")
	}

	return mem, nil
}

// SoftLimit caps a configured limit by the memory available on the host.
// When the host memory cannot be determined the configured limit is used.
func SoftLimit(configured uint64) uint64 {
	total, err := TotalMemory()
	if err != nil || configured == 0 {
		if configured == 0 {
			return total
		}
		return configured
	}
	if total < configured {
		return total
	}
	return configured
}
