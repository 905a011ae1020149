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
	"context"
	"time"

	"code.icreplica.io/replica/logging"
)

// RunPeriodicTasks decides expired proposals, distributes voting rewards
// or follows up on a pending upgrade, and purges old proposals.
func (e *Engine) RunPeriodicTasks(ctx context.Context) {
	defer func(start time.Time) {
		e.m.periodicTasks.Observe(time.Since(start).Seconds())
	}(time.Now())

	e.mu.Lock()
	defer e.mu.Unlock()

	e.processProposals(ctx)

	if e.shouldDistributeRewards() {
		var supply uint64
		err := e.withoutLock(func() error {
			var err error
			supply, err = e.ledger.TotalSupply(ctx)
			return err
		})
		if err != nil {
			e.log.Error("could not get the total supply, rewards are not distributed", logging.Error(err))
		} else if e.shouldDistributeRewards() {
			e.distributeRewards(ctx, supply)
		}
	} else if e.state.PendingVersion != nil {
		e.checkUpgradeStatus(ctx)
	}

	e.maybeGC()
}

// Start runs the periodic tasks until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	interval := e.cfg.TickInterval.Get()
	e.mu.Unlock()
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.RunPeriodicTasks(ctx)
		}
	}
}
