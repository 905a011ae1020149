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

	"code.icreplica.io/replica/libs/num"
	"code.icreplica.io/replica/logging"
)

func (e *Engine) shouldDistributeRewards() bool {
	vr := e.params().VotingRewardsParameters
	if vr == nil {
		return false
	}
	most := vr.mostRecentRound(e.now(), e.state.GenesisTimestampSeconds)
	return most > e.state.LatestRewardEvent.Round
}

// distributeRewards turns the purse of the rounds since the latest reward
// event into maturity of the neurons that voted on the proposals ready to
// settle, pro rata of their voting power.
func (e *Engine) distributeRewards(ctx context.Context, supply uint64) {
	vr := e.params().VotingRewardsParameters
	now := e.now()
	latest := e.state.LatestRewardEvent
	most := vr.mostRecentRound(now, e.state.GenesisTimestampSeconds)
	purse := vr.rewardsPurse(supply, latest.Round+1, most)

	var considered []*ProposalData
	e.proposalOrder.Ascend(func(id uint64) bool {
		if pd := e.state.Proposals[id]; pd.RewardStatus(now) == RewardStatusReadyToSettle {
			considered = append(considered, pd)
		}
		return true
	})

	shares := map[NeuronID]*num.Uint{}
	total := num.UintZero()
	for _, pd := range considered {
		for id, b := range pd.Ballots {
			if !b.Vote.eligibleForRewards() {
				continue
			}
			s, ok := shares[id]
			if !ok {
				s = num.UintZero()
				shares[id] = s
			}
			s.AddUint64(b.VotingPower)
			total.AddUint64(b.VotingPower)
		}
	}

	var distributed uint64
	if total.IsZero() {
		e.log.Warn("no voting power took part in the reward period, nothing is distributed",
			logging.Uint64("round", most),
			logging.String("purse-e8s", purse.String()),
		)
	} else {
		totalD := num.DecimalFromUint(total)
		for id, share := range shares {
			n, ok := e.state.Neurons[id]
			if !ok {
				continue
			}
			reward, _ := num.Uint64FloorFromDecimal(purse.Mul(num.DecimalFromUint(share)).Div(totalD))
			n.MaturityE8sEquivalent += reward
			distributed += reward
		}
	}

	settled := make([]uint64, 0, len(considered))
	for _, pd := range considered {
		e.processProposal(ctx, pd.ID)
		if pd.Status() == ProposalStatusOpen {
			e.log.Warn("proposal ready to settle is still open, deciding it", logging.ProposalID(pd.ID))
			e.decideProposal(ctx, pd, now)
		}
		pd.RewardEventRound = most
		pd.Ballots = nil
		settled = append(settled, pd.ID)
	}

	e.state.LatestRewardEvent = &RewardEvent{
		Round:                    most,
		ActualTimestampSeconds:   now,
		SettledProposals:         settled,
		DistributedE8sEquivalent: distributed,
	}
	e.m.rewards.Add(float64(distributed))
	e.log.Info("voting rewards distributed",
		logging.Uint64("round", most),
		logging.Uint64("distributed-e8s", distributed),
		logging.Int("settled-proposals", len(settled)),
	)
}
