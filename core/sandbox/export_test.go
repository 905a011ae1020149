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

package sandbox

import (
	"os"
	"time"

	"code.icreplica.io/replica/core/types"
)

func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// SlotState returns the state of the backend slot of a canister, "" when
// the canister never had one.
func (c *Controller) SlotState(id types.CanisterID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.backends[id]
	if !ok {
		return ""
	}
	return slot.state.String()
}

func LauncherExitMessage(pid int, state *os.ProcessState) string {
	return launcherExitMessage(pid, state)
}

func NewHistory(size int) interface {
	Record(string)
	Snapshot() []string
} {
	return historyView{newHistory(size)}
}

type historyView struct{ h *history }

func (v historyView) Record(e string)    { v.h.record(e) }
func (v historyView) Snapshot() []string { return v.h.snapshot() }

// ProcessPID returns the pid of the process held by an active slot.
func (c *Controller) ProcessPID(id types.CanisterID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.backends[id]
	if !ok || slot.state != slotActive {
		return 0
	}
	return slot.process.PID()
}
