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
	"testing"

	"code.icreplica.io/replica/core/governance"
	"code.icreplica.io/replica/core/types"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	erin  = governance.PrincipalID("erin")
	frank = governance.PrincipalID("frank")

	testWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
)

func u64p(v uint64) *uint64 {
	return &v
}

func (te *testEngine) propose(t *testing.T, caller governance.PrincipalID, id governance.NeuronID, action governance.Action) uint64 {
	t.Helper()
	resp, err := te.manage(caller, id, &governance.MakeProposal{Proposal: &governance.Proposal{
		Title:  "test proposal",
		URL:    "https://example.com",
		Action: action,
	}})
	require.NoError(t, err)
	return resp.ProposalID
}

func (te *testEngine) vote(caller governance.PrincipalID, id governance.NeuronID, proposal uint64, v governance.Vote) error {
	_, err := te.manage(caller, id, &governance.RegisterVote{ProposalID: proposal, Vote: v})
	return err
}

func (te *testEngine) proposal(t *testing.T, id uint64) *governance.ProposalData {
	t.Helper()
	pd, err := te.GetProposal(id)
	require.NoError(t, err)
	return pd
}

func TestFollowCascade(t *testing.T) {
	a := testNeuron(alice, 1, 10*e8, oneYear)
	b := testNeuron(bob, 1, 10*e8, oneYear)
	c := testNeuron(carol, 1, 10*e8, oneYear)
	d := testNeuron(dave, 1, 10*e8, oneYear)
	x := testNeuron(erin, 1, 10*e8, oneYear)
	whale := testNeuron(frank, 1, 1000*e8, oneYear)
	te := getTestEngine(t, withNeurons(a, b, c, d, x, whale))

	follow := func(caller governance.PrincipalID, n *governance.Neuron, fn uint64, followees ...governance.NeuronID) {
		_, err := te.manage(caller, n.ID, &governance.Follow{FunctionID: fn, Followees: followees})
		require.NoError(t, err)
	}
	follow(bob, b, governance.MotionFunctionID, a.ID)
	follow(carol, c, governance.UnspecifiedFunctionID, b.ID)
	follow(dave, d, governance.MotionFunctionID, a.ID, x.ID)

	id := te.propose(t, alice, a.ID, &governance.Motion{MotionText: "go"})
	pd := te.proposal(t, id)
	assert.Equal(t, governance.VoteYes, pd.Ballots[a.ID].Vote)
	assert.Equal(t, governance.VoteYes, pd.Ballots[b.ID].Vote)
	assert.Equal(t, governance.VoteYes, pd.Ballots[c.ID].Vote)
	assert.Equal(t, governance.VoteUnspecified, pd.Ballots[d.ID].Vote)
	assert.Equal(t, governance.ProposalStatusOpen, pd.Status())

	// one yes and one no among two followees is a no
	require.NoError(t, te.vote(erin, x.ID, id, governance.VoteNo))
	pd = te.proposal(t, id)
	assert.Equal(t, governance.VoteNo, pd.Ballots[d.ID].Vote)
	assert.Equal(t, governance.VoteUnspecified, pd.Ballots[whale.ID].Vote)

	// ballots that were cast are never changed by the cascade
	err := te.vote(dave, d.ID, id, governance.VoteYes)
	assert.Equal(t, governance.ErrorTypePreconditionFailed, governance.ErrorTypeOf(err))
}

func TestFollow(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	te := getTestEngine(t, withNeurons(n))

	many := make([]governance.NeuronID, 16)
	for i := range many {
		many[i] = governance.ComputeNeuronID(bob, uint64(i))
	}
	_, err := te.manage(alice, n.ID, &governance.Follow{FunctionID: governance.MotionFunctionID, Followees: many})
	assert.Equal(t, governance.ErrorTypeInvalidCommand, governance.ErrorTypeOf(err))

	_, err = te.manage(alice, n.ID, &governance.Follow{FunctionID: 1234, Followees: many[:1]})
	assert.Equal(t, governance.ErrorTypeNotFound, governance.ErrorTypeOf(err))

	_, err = te.manage(alice, n.ID, &governance.Follow{FunctionID: governance.MotionFunctionID, Followees: many[:2]})
	require.NoError(t, err)
	_, err = te.manage(alice, n.ID, &governance.Follow{FunctionID: governance.MotionFunctionID})
	require.NoError(t, err)
	got, _ := te.GetNeuron(n.ID)
	assert.NotContains(t, got.Followees, governance.MotionFunctionID)

	_, err = te.manage(bob, n.ID, &governance.Follow{FunctionID: governance.MotionFunctionID, Followees: many[:1]})
	assert.Equal(t, governance.ErrorTypeNotAuthorized, governance.ErrorTypeOf(err))
}

func TestRegisterVote(t *testing.T) {
	a := testNeuron(alice, 1, 10*e8, oneYear)
	b := testNeuron(bob, 1, 100*e8, oneYear)
	young := testNeuron(carol, 1, 10*e8, 10)
	te := getTestEngine(t, withNeurons(a, b, young))
	id := te.propose(t, alice, a.ID, &governance.Motion{})

	err := te.vote(bob, b.ID, 99, governance.VoteYes)
	assert.Equal(t, governance.ErrorTypeNotFound, governance.ErrorTypeOf(err))

	err = te.vote(bob, b.ID, id, governance.VoteUnspecified)
	assert.Equal(t, governance.ErrorTypePreconditionFailed, governance.ErrorTypeOf(err))

	err = te.vote(carol, young.ID, id, governance.VoteYes)
	assert.Equal(t, governance.ErrorTypeNotAuthorized, governance.ErrorTypeOf(err))

	err = te.vote(alice, a.ID, id, governance.VoteNo)
	assert.Equal(t, governance.ErrorTypePreconditionFailed, governance.ErrorTypeOf(err))

	err = te.vote(alice, b.ID, id, governance.VoteNo)
	assert.Equal(t, governance.ErrorTypeNotAuthorized, governance.ErrorTypeOf(err))

	require.NoError(t, te.vote(bob, b.ID, id, governance.VoteNo))
	pd := te.proposal(t, id)
	assert.Equal(t, governance.ProposalStatusRejected, pd.Status())

	// the reject cost stays with the proposer of a rejected proposal
	got, _ := te.GetNeuron(a.ID)
	assert.Equal(t, e8, got.NeuronFeesE8s)
}

func TestMakeProposal(t *testing.T) {
	t.Run("dissolve delay too short", func(t *testing.T) {
		n := testNeuron(alice, 1, 10*e8, 10)
		te := getTestEngine(t, withNeurons(n))
		_, err := te.manage(alice, n.ID, &governance.MakeProposal{Proposal: &governance.Proposal{Title: "t", Action: &governance.Motion{}}})
		assert.Equal(t, governance.ErrorTypePreconditionFailed, governance.ErrorTypeOf(err))
	})

	t.Run("invalid proposal", func(t *testing.T) {
		n := testNeuron(alice, 1, 10*e8, oneYear)
		te := getTestEngine(t, withNeurons(n))
		_, err := te.manage(alice, n.ID, &governance.MakeProposal{Proposal: &governance.Proposal{Action: &governance.Motion{}}})
		assert.Equal(t, governance.ErrorTypeInvalidProposal, governance.ErrorTypeOf(err))

		_, err = te.manage(alice, n.ID, &governance.MakeProposal{Proposal: &governance.Proposal{
			Title:  "t",
			Action: &governance.UpgradeSnsControlledCanister{CanisterID: dappID, NewCanisterWasm: []byte("not a wasm")},
		}})
		assert.Equal(t, governance.ErrorTypeInvalidProposal, governance.ErrorTypeOf(err))
	})

	t.Run("adopted motion is executed and refunded", func(t *testing.T) {
		n := testNeuron(alice, 1, 10*e8, oneYear)
		te := getTestEngine(t, withNeurons(n))
		id := te.propose(t, alice, n.ID, &governance.Motion{MotionText: "hello"})
		te.Wait()

		pd := te.proposal(t, id)
		assert.Equal(t, governance.ProposalStatusExecuted, pd.Status())
		assert.Contains(t, pd.PayloadTextRendering, "hello")
		got, _ := te.GetNeuron(n.ID)
		assert.Zero(t, got.NeuronFeesE8s)

		second := te.propose(t, alice, n.ID, &governance.Motion{})
		assert.Equal(t, id+1, second)
	})
}

func TestWaitForQuiet(t *testing.T) {
	p := testNeuron(alice, 1, 10*e8, oneYear)
	a := testNeuron(bob, 1, 20*e8, oneYear)
	b := testNeuron(carol, 1, 30*e8, oneYear)
	c := testNeuron(dave, 1, 200*e8, oneYear)
	te := getTestEngine(t, func(s *governance.State) {
		withNeurons(p, a, b, c)(s)
		s.Parameters.InitialVotingPeriodSeconds = u64p(86400)
		s.Parameters.WaitForQuietDeadlineIncreaseSeconds = u64p(86400)
	})

	id := te.propose(t, alice, p.ID, &governance.Motion{})
	deadline := func() uint64 {
		return te.proposal(t, id).WaitForQuietState.CurrentDeadlineTimestampSeconds
	}
	assert.Equal(t, t0+86400, deadline())

	te.setNow(t0 + 86399)
	require.NoError(t, te.vote(bob, a.ID, id, governance.VoteNo))
	first := deadline()
	assert.Equal(t, t0+86399+86401, first)

	te.setNow(t0 + 86400)
	require.NoError(t, te.vote(carol, b.ID, id, governance.VoteYes))
	assert.Equal(t, t0+86400+86400, deadline())
	assert.Equal(t, governance.ProposalStatusOpen, te.proposal(t, id).Status())

	// the deadline never moves back, not even when the proposal is decided
	te.setNow(t0 + 100000)
	require.NoError(t, te.vote(dave, c.ID, id, governance.VoteNo))
	assert.GreaterOrEqual(t, deadline(), t0+86400+86400)
	assert.Equal(t, governance.ProposalStatusRejected, te.proposal(t, id).Status())
}

func TestWaitForQuietIsBounded(t *testing.T) {
	const period = 86400
	p := testNeuron(alice, 1, 10*e8, oneYear)
	// never votes, so no side reaches an absolute majority
	whale := testNeuron(bob, 1, 100_000*e8, oneYear)
	voters := []*governance.Neuron{}
	for i := uint64(0); i < 6; i++ {
		voters = append(voters, testNeuron(alice, 2+i, (20<<i)*e8, oneYear))
	}
	te := getTestEngine(t, func(s *governance.State) {
		withNeurons(append(voters, p, whale)...)(s)
		s.Parameters.InitialVotingPeriodSeconds = u64p(period)
		s.Parameters.WaitForQuietDeadlineIncreaseSeconds = u64p(period)
	})

	id := te.propose(t, alice, p.ID, &governance.Motion{})
	deadline := func() uint64 {
		return te.proposal(t, id).WaitForQuietState.CurrentDeadlineTimestampSeconds
	}

	last := deadline()
	for i, n := range voters {
		v := governance.VoteNo
		if i%2 == 1 {
			v = governance.VoteYes
		}
		te.setNow(last - 1)
		require.NoError(t, te.vote(alice, n.ID, id, v))

		next := deadline()
		assert.Greater(t, next, last)
		assert.LessOrEqual(t, next, t0+3*period)
		last = next
	}
	// t0+T+2W is approached but never passed
	assert.Greater(t, last, t0+2*period)
	assert.Equal(t, governance.ProposalStatusOpen, te.proposal(t, id).Status())
}

func TestDeadlineDecidesProposal(t *testing.T) {
	p := testNeuron(alice, 1, 10*e8, oneYear)
	c := testNeuron(bob, 1, 100*e8, oneYear)
	te := getTestEngine(t, withNeurons(p, c))
	id := te.propose(t, alice, p.ID, &governance.Motion{})

	te.RunPeriodicTasks(context.Background())
	assert.Equal(t, governance.ProposalStatusOpen, te.proposal(t, id).Status())

	te.setNow(t0 + 4*86400 + 1)
	te.RunPeriodicTasks(context.Background())
	te.Wait()
	pd := te.proposal(t, id)
	assert.Equal(t, governance.ProposalStatusExecuted, pd.Status())
	assert.Equal(t, governance.RewardStatusIneligible, pd.RewardStatus(te.now.Load()))
}

func TestManageNervousSystemParameters(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	te := getTestEngine(t, withNeurons(n))

	_, err := te.manage(alice, n.ID, &governance.MakeProposal{Proposal: &governance.Proposal{
		Title: "bad",
		Action: &governance.ManageNervousSystemParameters{Parameters: &governance.NervousSystemParameters{
			NeuronMinimumStakeE8s: u64p(fee),
		}},
	}})
	assert.Equal(t, governance.ErrorTypeInvalidProposal, governance.ErrorTypeOf(err))

	te.propose(t, alice, n.ID, &governance.ManageNervousSystemParameters{Parameters: &governance.NervousSystemParameters{
		RejectCostE8s:           u64p(0),
		MaxFolloweesPerFunction: u64p(3),
		VotingRewardsParameters: &governance.VotingRewardsParameters{
			RoundDurationSeconds:                u64p(86400),
			RewardRateTransitionDurationSeconds: u64p(0),
			InitialRewardRateBasisPoints:        u64p(100),
			FinalRewardRateBasisPoints:          u64p(100),
		},
	}})
	te.Wait()

	params := te.GetNervousSystemParameters()
	assert.Equal(t, uint64(0), *params.RejectCostE8s)
	assert.Equal(t, uint64(3), *params.MaxFolloweesPerFunction)
	assert.Equal(t, fee, *params.TransactionFeeE8s)
	require.NotNil(t, params.VotingRewardsParameters)
	assert.Equal(t, uint64(86400), *params.VotingRewardsParameters.RoundDurationSeconds)

	// new proposals are eligible for rewards
	id := te.propose(t, alice, n.ID, &governance.Motion{})
	assert.True(t, te.proposal(t, id).IsEligibleForRewards)
}

func TestGenericNervousSystemFunctions(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	te := getTestEngine(t, withNeurons(n))
	fn := &governance.NervousSystemFunction{
		ID:   1000,
		Name: "mint",
		Generic: &governance.GenericNervousSystemFunction{
			TargetCanisterID:    dappID,
			TargetMethodName:    "mint",
			ValidatorCanisterID: dappID,
			ValidatorMethodName: "validate_mint",
		},
	}

	_, err := te.manage(alice, n.ID, &governance.MakeProposal{Proposal: &governance.Proposal{
		Title: "reserved",
		Action: &governance.AddGenericNervousSystemFunction{Function: &governance.NervousSystemFunction{
			ID:   1001,
			Name: "steal",
			Generic: &governance.GenericNervousSystemFunction{
				TargetCanisterID: ledgerID, TargetMethodName: "transfer",
				ValidatorCanisterID: dappID, ValidatorMethodName: "v",
			},
		}},
	}})
	assert.Equal(t, governance.ErrorTypeInvalidProposal, governance.ErrorTypeOf(err))

	id := te.propose(t, alice, n.ID, &governance.AddGenericNervousSystemFunction{Function: fn})
	te.Wait()
	require.Equal(t, governance.ProposalStatusExecuted, te.proposal(t, id).Status())

	functions, reserved := te.ListNervousSystemFunctions()
	assert.Equal(t, uint64(1000), functions[len(functions)-1].ID)
	assert.Empty(t, reserved)

	payload := []byte{1, 2, 3}
	gomock.InOrder(
		te.env.EXPECT().CallCanister(gomock.Any(), dappID, "validate_mint", payload).Return([]byte("mint 3 tokens"), nil),
		te.env.EXPECT().CallCanister(gomock.Any(), dappID, "mint", payload).Return(nil, nil),
	)
	id = te.propose(t, alice, n.ID, &governance.ExecuteGenericNervousSystemFunction{ID: 1000, Payload: payload})
	te.Wait()
	pd := te.proposal(t, id)
	assert.Equal(t, governance.ProposalStatusExecuted, pd.Status())
	assert.Contains(t, pd.PayloadTextRendering, "mint 3 tokens")

	listed := te.ListProposals(governance.ListProposals{Limit: 1})
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Ballots)
	assert.Nil(t, listed[0].Proposal.Action.(*governance.ExecuteGenericNervousSystemFunction).Payload)

	id = te.propose(t, alice, n.ID, &governance.RemoveGenericNervousSystemFunction{ID: 1000})
	te.Wait()
	require.Equal(t, governance.ProposalStatusExecuted, te.proposal(t, id).Status())
	_, reserved = te.ListNervousSystemFunctions()
	assert.Equal(t, []uint64{1000}, reserved)

	_, err = te.manage(alice, n.ID, &governance.MakeProposal{Proposal: &governance.Proposal{
		Title:  "again",
		Action: &governance.AddGenericNervousSystemFunction{Function: fn},
	}})
	assert.Equal(t, governance.ErrorTypeInvalidProposal, governance.ErrorTypeOf(err))

	_, err = te.manage(alice, n.ID, &governance.Follow{FunctionID: 1000, Followees: []governance.NeuronID{n.ID}})
	assert.Equal(t, governance.ErrorTypeNotFound, governance.ErrorTypeOf(err))
}

func TestManageSnsMetadata(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	te := getTestEngine(t, withNeurons(n))
	name := "My Dapp"
	te.propose(t, alice, n.ID, &governance.ManageSnsMetadata{Name: &name})
	te.Wait()

	md := te.GetMetadata()
	require.NotNil(t, md.Name)
	assert.Equal(t, name, *md.Name)
	assert.Nil(t, md.URL)
}

var (
	v1 = &governance.Version{
		RootWasmHash:       []byte("root-1"),
		GovernanceWasmHash: []byte("gov-1"),
		LedgerWasmHash:     []byte("ledger-1"),
		SwapWasmHash:       []byte("swap-1"),
		ArchiveWasmHash:    []byte("archive-1"),
		IndexWasmHash:      []byte("index-1"),
	}
	v2 = &governance.Version{
		RootWasmHash:       []byte("root-1"),
		GovernanceWasmHash: []byte("gov-1"),
		LedgerWasmHash:     []byte("ledger-2"),
		SwapWasmHash:       []byte("swap-1"),
		ArchiveWasmHash:    []byte("archive-1"),
		IndexWasmHash:      []byte("index-1"),
	}
	snsCanisters = &governance.SnsCanisters{
		Root:       rootID,
		Governance: governanceID,
		Ledger:     ledgerID,
		Swap:       swapID,
		Index:      types.CanisterIDFromU64(5),
		Dapps:      []types.CanisterID{dappID},
	}
)

func TestUpgradeSnsControlledCanister(t *testing.T) {
	t.Run("dapp canister", func(t *testing.T) {
		n := testNeuron(alice, 1, 10*e8, oneYear)
		te := getTestEngine(t, withNeurons(n))
		te.env.EXPECT().ListSnsCanisters(gomock.Any()).Return(snsCanisters, nil)
		te.env.EXPECT().ChangeCanister(gomock.Any(), dappID, testWasm).Return(nil)

		id := te.propose(t, alice, n.ID, &governance.UpgradeSnsControlledCanister{CanisterID: dappID, NewCanisterWasm: testWasm})
		te.Wait()
		assert.Equal(t, governance.ProposalStatusExecuted, te.proposal(t, id).Status())
	})

	t.Run("core canister", func(t *testing.T) {
		n := testNeuron(alice, 1, 10*e8, oneYear)
		te := getTestEngine(t, withNeurons(n))
		te.env.EXPECT().ListSnsCanisters(gomock.Any()).Return(snsCanisters, nil)

		id := te.propose(t, alice, n.ID, &governance.UpgradeSnsControlledCanister{CanisterID: ledgerID, NewCanisterWasm: testWasm})
		te.Wait()
		pd := te.proposal(t, id)
		assert.Equal(t, governance.ProposalStatusFailed, pd.Status())
		assert.Equal(t, governance.ErrorTypeInvalidCommand, pd.FailureReason.Type)
	})

	t.Run("another upgrade is pending", func(t *testing.T) {
		n := testNeuron(alice, 1, 10*e8, oneYear)
		te := getTestEngine(t, func(s *governance.State) {
			withNeurons(n)(s)
			s.DeployedVersion = v1
			s.PendingVersion = &governance.UpgradeInProgress{TargetVersion: v2, MarkFailedAtSeconds: t0 + 300, ProposalID: 99}
		})

		id := te.propose(t, alice, n.ID, &governance.UpgradeSnsControlledCanister{CanisterID: dappID, NewCanisterWasm: testWasm})
		te.Wait()
		pd := te.proposal(t, id)
		assert.Equal(t, governance.ProposalStatusFailed, pd.Status())
		assert.Equal(t, governance.ErrorTypeResourceExhausted, pd.FailureReason.Type)
	})
}

func TestUpgradeSnsToNextVersion(t *testing.T) {
	setup := func(t *testing.T) (*testEngine, uint64, *governance.State) {
		t.Helper()
		n := testNeuron(alice, 1, 10*e8, oneYear)
		var st *governance.State
		te := getTestEngine(t, func(s *governance.State) {
			withNeurons(n)(s)
			s.DeployedVersion = v1
			st = s
		})
		te.env.EXPECT().NextVersion(gomock.Any(), v1).Return(v2, nil).Times(2)
		te.env.EXPECT().ListSnsCanisters(gomock.Any()).Return(snsCanisters, nil).Times(2)
		te.env.EXPECT().GetWasm(gomock.Any(), []byte("ledger-2")).Return(testWasm, nil)
		te.env.EXPECT().ChangeCanister(gomock.Any(), ledgerID, testWasm).Return(nil)

		id := te.propose(t, alice, n.ID, &governance.UpgradeSnsToNextVersion{})
		te.Wait()
		assert.Equal(t, governance.ProposalStatusAdopted, te.proposal(t, id).Status())
		deployed, pending := te.GetRunningSnsVersion()
		assert.Equal(t, v1, deployed)
		require.NotNil(t, pending)
		assert.Equal(t, v2, pending.TargetVersion)
		assert.Equal(t, id, pending.ProposalID)
		return te, id, st
	}

	t.Run("running version reaches the target", func(t *testing.T) {
		te, id, _ := setup(t)
		running := *v2
		running.ArchiveWasmHash = nil
		te.env.EXPECT().RunningVersion(gomock.Any()).Return(&running, nil)

		te.setNow(t0 + 10)
		te.RunPeriodicTasks(context.Background())
		assert.Equal(t, governance.ProposalStatusExecuted, te.proposal(t, id).Status())
		deployed, pending := te.GetRunningSnsVersion()
		assert.Equal(t, v2, deployed)
		assert.Nil(t, pending)
	})

	t.Run("upgrade times out", func(t *testing.T) {
		te, id, _ := setup(t)
		te.env.EXPECT().RunningVersion(gomock.Any()).Return(v1, nil).Times(2)

		te.setNow(t0 + 10)
		te.RunPeriodicTasks(context.Background())
		assert.Equal(t, governance.ProposalStatusAdopted, te.proposal(t, id).Status())

		te.setNow(t0 + 301)
		te.RunPeriodicTasks(context.Background())
		pd := te.proposal(t, id)
		assert.Equal(t, governance.ProposalStatusFailed, pd.Status())
		assert.Equal(t, governance.ErrorTypeExternal, pd.FailureReason.Type)
		deployed, pending := te.GetRunningSnsVersion()
		assert.Equal(t, v1, deployed)
		assert.Nil(t, pending)
	})

	t.Run("status checks that never complete abandon the upgrade", func(t *testing.T) {
		te, id, st := setup(t)
		// no proposal execution is running once setup returns
		st.PendingVersion.CheckingUpgradeLock = 1000

		te.setNow(t0 + 10)
		te.RunPeriodicTasks(context.Background())
		pd := te.proposal(t, id)
		assert.Equal(t, governance.ProposalStatusFailed, pd.Status())
		assert.Equal(t, governance.ErrorTypeExternal, pd.FailureReason.Type)
		assert.Contains(t, pd.FailureReason.Message, "Too many attempts")
		deployed, pending := te.GetRunningSnsVersion()
		assert.Equal(t, v1, deployed)
		assert.Nil(t, pending)
	})

	t.Run("a second upgrade waits for the first", func(t *testing.T) {
		te, _, _ := setup(t)
		n := testNeuron(alice, 1, 10*e8, oneYear)
		id := te.propose(t, alice, n.ID, &governance.UpgradeSnsControlledCanister{CanisterID: dappID, NewCanisterWasm: testWasm})
		te.Wait()
		pd := te.proposal(t, id)
		assert.Equal(t, governance.ProposalStatusFailed, pd.Status())
		assert.Equal(t, governance.ErrorTypeResourceExhausted, pd.FailureReason.Type)
	})
}
