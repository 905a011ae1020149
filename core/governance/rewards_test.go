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
package governance_test

import (
	"context"
	"math/big"
	"testing"

	"code.icreplica.io/replica/core/governance"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const round uint64 = 7 * 24 * 3600

func u32p(v uint32) *uint32 {
	return &v
}

func decidedMotion(id uint64, eligible bool, ballots map[governance.NeuronID]*governance.Ballot, tally *governance.Tally) *governance.ProposalData {
	return &governance.ProposalData{
		Action:                           governance.MotionFunctionID,
		ID:                               id,
		Proposal:                         &governance.Proposal{Title: "motion", Action: &governance.Motion{}},
		ProposalCreationTimestampSeconds: t0,
		Ballots:                          ballots,
		LatestTally:                      tally,
		DecidedTimestampSeconds:          t0 + 10,
		IsEligibleForRewards:             eligible,
		InitialVotingPeriodSeconds:       100,
		WaitForQuietState:                &governance.WaitForQuietState{CurrentDeadlineTimestampSeconds: t0 + 100},
	}
}

func TestDistributeRewards(t *testing.T) {
	const (
		supply uint64 = 1_000_000_000_000_000
		power  uint64 = 5 * e8
	)
	voter := testNeuron(alice, 1, 5*e8, oneYear)
	idle := testNeuron(bob, 1, 5*e8, oneYear)
	te := getTestEngine(t, func(s *governance.State) {
		withNeurons(voter, idle)(s)
		s.Parameters.VotingRewardsParameters = &governance.VotingRewardsParameters{
			RoundDurationSeconds:                u64p(round),
			RewardRateTransitionDurationSeconds: u64p(0),
			InitialRewardRateBasisPoints:        u64p(1000),
			FinalRewardRateBasisPoints:          u64p(1000),
		}
		s.LatestRewardEvent = &governance.RewardEvent{Round: 3, ActualTimestampSeconds: t0 + 3*round}
		pd := decidedMotion(1, true, map[governance.NeuronID]*governance.Ballot{
			voter.ID: {Vote: governance.VoteYes, VotingPower: power},
			idle.ID:  {Vote: governance.VoteUnspecified, VotingPower: power},
		}, &governance.Tally{Yes: power, Total: 2 * power})
		pd.ExecutedTimestampSeconds = t0 + 10
		s.Proposals = map[uint64]*governance.ProposalData{1: pd}
	})
	te.setNow(t0 + 8*round + 10)
	te.ledger.EXPECT().TotalSupply(gomock.Any()).Return(supply, nil)

	te.RunPeriodicTasks(context.Background())

	// five rounds at 10% a year
	want := new(big.Int).SetUint64(supply)
	want.Mul(want, big.NewInt(5*1000*int64(round)))
	want.Quo(want, big.NewInt(10_000*31_557_600))

	got, err := te.GetNeuron(voter.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Uint64(), got.MaturityE8sEquivalent)
	got, _ = te.GetNeuron(idle.ID)
	assert.Zero(t, got.MaturityE8sEquivalent)

	event := te.GetLatestRewardEvent()
	assert.Equal(t, uint64(8), event.Round)
	assert.Equal(t, []uint64{1}, event.SettledProposals)
	assert.Equal(t, want.Uint64(), event.DistributedE8sEquivalent)

	pd := te.proposal(t, 1)
	assert.Empty(t, pd.Ballots)
	assert.Equal(t, uint64(8), pd.RewardEventRound)
	assert.Equal(t, governance.RewardStatusSettled, pd.RewardStatus(te.now.Load()))
	assert.Equal(t, governance.ProposalStatusExecuted, pd.Status())

	// nothing more until the next round ends
	te.setNow(t0 + 9*round - 1)
	te.RunPeriodicTasks(context.Background())
	assert.Equal(t, uint64(8), te.GetLatestRewardEvent().Round)
}

func TestDistributeRewardsWithoutVotes(t *testing.T) {
	n := testNeuron(alice, 1, 5*e8, oneYear)
	te := getTestEngine(t, func(s *governance.State) {
		withNeurons(n)(s)
		s.Parameters.VotingRewardsParameters = &governance.VotingRewardsParameters{
			RoundDurationSeconds:                u64p(round),
			RewardRateTransitionDurationSeconds: u64p(0),
			InitialRewardRateBasisPoints:        u64p(1000),
			FinalRewardRateBasisPoints:          u64p(1000),
		}
	})
	te.setNow(t0 + round)
	te.ledger.EXPECT().TotalSupply(gomock.Any()).Return(uint64(1_000_000*e8), nil)

	te.RunPeriodicTasks(context.Background())

	event := te.GetLatestRewardEvent()
	assert.Equal(t, uint64(1), event.Round)
	assert.Zero(t, event.DistributedE8sEquivalent)
	assert.Empty(t, event.SettledProposals)
	assert.Equal(t, 1, te.logs.FilterMessage("no voting power took part in the reward period, nothing is distributed").Len())
}

func TestGarbageCollectProposals(t *testing.T) {
	n := testNeuron(alice, 1, 5*e8, oneYear)
	rejected := &governance.Tally{No: 10, Total: 10}
	te := getTestEngine(t, func(s *governance.State) {
		withNeurons(n)(s)
		s.Parameters.MaxProposalsToKeepPerAction = u32p(2)
		s.Proposals = map[uint64]*governance.ProposalData{}
		for id := uint64(1); id <= 5; id++ {
			s.Proposals[id] = decidedMotion(id, false, nil, rejected)
		}
		// still open, so never purged
		open := decidedMotion(1, false, map[governance.NeuronID]*governance.Ballot{
			n.ID: {Vote: governance.VoteUnspecified, VotingPower: 10},
		}, &governance.Tally{Total: 10})
		open.DecidedTimestampSeconds = 0
		open.WaitForQuietState.CurrentDeadlineTimestampSeconds = t0 + 1000
		s.Proposals[1] = open

		metadata := decidedMotion(6, false, nil, rejected)
		metadata.Action = governance.ManageSnsMetadataFunctionID
		metadata.Proposal.Action = &governance.ManageSnsMetadata{}
		s.Proposals[6] = metadata
	})

	te.RunPeriodicTasks(context.Background())

	ids := func(pds []*governance.ProposalData) []uint64 {
		out := make([]uint64, 0, len(pds))
		for _, pd := range pds {
			out = append(out, pd.ID)
		}
		return out
	}
	assert.Equal(t, []uint64{6, 5, 4, 1}, ids(te.ListProposals(governance.ListProposals{})))

	t.Run("list filters", func(t *testing.T) {
		assert.Equal(t, []uint64{1}, ids(te.ListProposals(governance.ListProposals{
			IncludeStatus: []governance.ProposalDecisionStatus{governance.ProposalStatusOpen},
		})))
		assert.Equal(t, []uint64{6}, ids(te.ListProposals(governance.ListProposals{
			ExcludeType: []uint64{governance.MotionFunctionID},
		})))
		assert.Equal(t, []uint64{4, 1}, ids(te.ListProposals(governance.ListProposals{BeforeProposal: u64p(5)})))
		assert.Equal(t, []uint64{6, 5}, ids(te.ListProposals(governance.ListProposals{Limit: 2})))
	})

	t.Run("not again before the interval", func(t *testing.T) {
		te.setNow(t0 + 10)
		te.RunPeriodicTasks(context.Background())
		assert.Len(t, te.ListProposals(governance.ListProposals{}), 4)
	})
}
