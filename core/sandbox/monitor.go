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
	"context"
	"time"

	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"
)

// Start runs the eviction monitor until ctx is done.
func (c *Controller) Start(ctx context.Context) {
	interval := c.cfg.UpdateInterval.Get()
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Scavenge()
			}
		}
	}()
}

// Scavenge evicts the sandboxes idle for longer than the idle timeout and
// forgets the evicted ones that terminated.
func (c *Controller) Scavenge() {
	var (
		now     = c.now()
		timeout = c.idleTimeout.Load()
		evicted []*Process
		active  int
		weak    int
	)

	c.mu.Lock()
	for _, slot := range c.backends {
		switch slot.state {
		case slotActive:
			idle := now.Sub(slot.lastUsed)
			c.m.activeLastUsed.Observe(idle.Seconds())
			if idle <= timeout {
				active++
				continue
			}
			evicted = append(evicted, slot.process)
			slot.state, slot.process, slot.ref = slotEvicted, nil, slot.process.weak()
			weak++
		case slotEvicted:
			c.m.evictedLastUsed.Observe(now.Sub(slot.lastUsed).Seconds())
			if !slot.ref.alive() {
				slot.state, slot.ref = slotEmpty, processRef{}
				continue
			}
			weak++
		}
	}
	c.mu.Unlock()

	c.m.processes.WithLabelValues(slotActive.String()).Set(float64(active))
	c.m.processes.WithLabelValues(slotEvicted.String()).Set(float64(weak))

	for _, p := range evicted {
		c.log.Debug("evicting idle sandbox process",
			logging.CanisterID(p.CanisterID().String()),
			logging.PID(p.PID()))
		p.release()
	}
}

// SandboxExited is called by the launcher when the sandbox of a canister
// terminated without being asked to.
func (c *Controller) SandboxExited(id types.CanisterID) {
	c.mu.Lock()
	slot, ok := c.backends[id]
	if !ok {
		c.mu.Unlock()
		panic("sandbox exited for unknown canister " + id.String())
	}

	var (
		p      *Process
		active = slot.state == slotActive
	)
	switch slot.state {
	case slotActive:
		p = slot.process
	case slotEvicted:
		p = slot.ref.p
	}
	slot.state, slot.process, slot.ref = slotEmpty, nil, processRef{}
	c.mu.Unlock()

	if p == nil {
		return
	}
	p.markExited()
	if !active {
		return
	}

	c.log.Error("sandbox process exited unexpectedly",
		logging.CanisterID(id.String()),
		logging.PID(p.PID()))
	for _, entry := range p.history.snapshot() {
		c.log.Error("sandbox history",
			logging.CanisterID(id.String()),
			logging.PID(p.PID()),
			logging.String("entry", entry))
	}
	p.release()
}
