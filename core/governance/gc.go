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
	"time"

	"code.icreplica.io/replica/logging"
)

// maybeGC removes the oldest proposals of each action beyond the number
// to keep, provided nothing can happen to them anymore. It runs at most
// once per interval unless many proposals were added.
func (e *Engine) maybeGC() bool {
	now := e.now()
	interval := uint64(e.cfg.GCInterval.Get() / time.Second)
	if now <= e.latestGCTimestamp+interval &&
		len(e.state.Proposals) <= e.latestGCProposalCount+e.cfg.GCProposalThreshold {
		return false
	}

	byAction := map[uint64][]uint64{}
	e.proposalOrder.Ascend(func(id uint64) bool {
		pd := e.state.Proposals[id]
		byAction[pd.Action] = append(byAction[pd.Action], id)
		return true
	})

	keep := int(val(e.params().MaxProposalsToKeepPerAction))
	purged := 0
	for _, ids := range byAction {
		if len(ids) <= keep {
			continue
		}
		for _, id := range ids[:len(ids)-keep] {
			if !e.state.Proposals[id].canBePurged(now) {
				continue
			}
			delete(e.state.Proposals, id)
			e.proposalOrder.Delete(id)
			purged++
		}
	}

	e.latestGCTimestamp = now
	e.latestGCProposalCount = len(e.state.Proposals)
	if purged > 0 {
		e.m.purged.Add(float64(purged))
		e.log.Info("old proposals purged", logging.Int("count", purged))
	}
	return true
}
