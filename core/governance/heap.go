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
package governance

import (
	"runtime"

	"code.icreplica.io/replica/libs/memory"
)

type HeapGrowthPotential int

const (
	HeapGrowthNoIssue HeapGrowthPotential = iota
	HeapGrowthLimitedAvailability
)

// RuntimeHeapMonitor compares the live heap of the process against a
// fraction of the configured limit.
type RuntimeHeapMonitor struct {
	softLimit uint64
}

func NewRuntimeHeapMonitor(cfg Config) *RuntimeHeapMonitor {
	return &RuntimeHeapMonitor{
		softLimit: memory.SoftLimit(cfg.MaxHeapSize.Get()) / 8 * 7,
	}
}

func (h *RuntimeHeapMonitor) GrowthPotential() HeapGrowthPotential {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if h.softLimit > 0 && ms.HeapAlloc >= h.softLimit {
		return HeapGrowthLimitedAvailability
	}
	return HeapGrowthNoIssue
}
