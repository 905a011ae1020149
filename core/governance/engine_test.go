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
	"time"

	"code.icreplica.io/replica/core/governance"
	"code.icreplica.io/replica/core/governance/mocks"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"
	"code.icreplica.io/replica/metrics"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	t0      uint64 = 1_700_000_000
	oneYear uint64 = 366 * 24 * 3600
	e8      uint64 = 100_000_000
	fee     uint64 = 10_000
)

var (
	governanceID = types.CanisterIDFromU64(1)
	rootID       = types.CanisterIDFromU64(2)
	ledgerID     = types.CanisterIDFromU64(3)
	swapID       = types.CanisterIDFromU64(4)
	dappID       = types.CanisterIDFromU64(10)

	alice = governance.PrincipalID("alice")
	bob   = governance.PrincipalID("bob")
	carol = governance.PrincipalID("carol")
	dave  = governance.PrincipalID("dave")
)

type testEngine struct {
	*governance.Engine
	ctrl   *gomock.Controller
	env    *mocks.MockEnvironment
	ledger *mocks.MockLedger
	heap   *mocks.MockHeapMonitor
	logs   *observer.ObservedLogs
	prom   *prometheus.Registry
	now    *atomic.Uint64
}

func getTestEngine(t *testing.T, setup func(*governance.State)) *testEngine {
	t.Helper()
	ctrl := gomock.NewController(t)
	core, logs := observer.New(zapcore.DebugLevel)
	prom := prometheus.NewRegistry()
	te := &testEngine{
		ctrl:   ctrl,
		env:    mocks.NewMockEnvironment(ctrl),
		ledger: mocks.NewMockLedger(ctrl),
		heap:   mocks.NewMockHeapMonitor(ctrl),
		logs:   logs,
		prom:   prom,
		now:    atomic.NewUint64(t0),
	}
	te.env.EXPECT().Now().DoAndReturn(func() time.Time {
		return time.Unix(int64(te.now.Load()), 0)
	}).AnyTimes()
	te.env.EXPECT().CanisterID().Return(governanceID).AnyTimes()
	te.env.EXPECT().RandomUint64().Return(uint64(7)).AnyTimes()
	te.heap.EXPECT().GrowthPotential().Return(governance.HeapGrowthNoIssue).AnyTimes()

	state := &governance.State{
		RootCanisterID:          rootID,
		LedgerCanisterID:        ledgerID,
		SwapCanisterID:          swapID,
		Parameters:              governance.DefaultParameters(),
		GenesisTimestampSeconds: t0,
		Neurons:                 map[governance.NeuronID]*governance.Neuron{},
	}
	if setup != nil {
		setup(state)
	}

	e, err := governance.NewEngine(
		logging.NewLoggerForCore(core),
		governance.NewDefaultConfig(),
		state,
		te.env,
		te.ledger,
		te.heap,
		metrics.NewRegistry("replica", prom),
	)
	require.NoError(t, err)
	te.Engine = e
	t.Cleanup(e.Wait)
	return te
}

func (te *testEngine) setNow(ts uint64) {
	te.now.Store(ts)
}

func (te *testEngine) manage(caller governance.PrincipalID, id governance.NeuronID, cmd governance.Command) (*governance.ManageNeuronResponse, error) {
	return te.ManageNeuron(context.Background(), caller, &governance.ManageNeuron{
		Subaccount: id.Bytes(),
		Command:    cmd,
	})
}

func testNeuron(owner governance.PrincipalID, memo, stake, delay uint64) *governance.Neuron {
	return &governance.Neuron{
		ID: governance.ComputeNeuronID(owner, memo),
		Permissions: []governance.NeuronPermission{{
			Principal:       owner,
			PermissionTypes: governance.AllPermissions(),
		}},
		CachedNeuronStakeE8s:            stake,
		CreatedTimestampSeconds:         t0,
		AgingSinceTimestampSeconds:      t0,
		DissolveState:                   governance.NotDissolving(delay),
		VotingPowerPercentageMultiplier: 100,
	}
}

func withNeurons(neurons ...*governance.Neuron) func(*governance.State) {
	return func(s *governance.State) {
		for _, n := range neurons {
			s.Neurons[n.ID] = n
		}
	}
}

func TestNewEngine(t *testing.T) {
	t.Run("missing parameters are refused", testNewEngineMissingParameters)
	t.Run("genesis defaults to now", testNewEngineGenesis)
	t.Run("interrupted commands release their locks", testNewEngineReleasesLocks)
}

func testNewEngineMissingParameters(t *testing.T) {
	env := mocks.NewMockEnvironment(gomock.NewController(t))
	_, err := governance.NewEngine(logging.NewTestLogger(), governance.NewDefaultConfig(),
		&governance.State{RootCanisterID: rootID, LedgerCanisterID: ledgerID, SwapCanisterID: swapID},
		env, nil, nil, metrics.NewRegistry("replica", prometheus.NewRegistry()))
	assert.ErrorIs(t, err, governance.ErrMissingParameters)

	_, err = governance.NewEngine(logging.NewTestLogger(), governance.NewDefaultConfig(),
		&governance.State{Parameters: governance.DefaultParameters()},
		env, nil, nil, metrics.NewRegistry("replica", prometheus.NewRegistry()))
	assert.ErrorIs(t, err, governance.ErrMissingCanisterIDs)
}

func testNewEngineGenesis(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	n.CreatedTimestampSeconds = 0
	n.AgingSinceTimestampSeconds = 0
	te := getTestEngine(t, func(s *governance.State) {
		s.GenesisTimestampSeconds = 0
		s.Neurons[n.ID] = n
	})

	got, err := te.GetNeuron(n.ID)
	require.NoError(t, err)
	assert.Equal(t, t0, got.CreatedTimestampSeconds)
	assert.Equal(t, t0, got.AgingSinceTimestampSeconds)

	ev := te.GetLatestRewardEvent()
	assert.Equal(t, uint64(0), ev.Round)
	assert.Equal(t, t0, ev.ActualTimestampSeconds)
	assert.Equal(t, governance.ModeNormal, te.GetMode())
}

func testNewEngineReleasesLocks(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	te := getTestEngine(t, func(s *governance.State) {
		s.Neurons[n.ID] = n
		s.InFlightCommands = map[governance.NeuronID]*governance.NeuronInFlightCommand{
			n.ID: {TimestampSeconds: t0 - 10, Command: "disburse"},
		}
	})

	_, err := te.manage(alice, n.ID, &governance.Configure{Operation: &governance.StartDissolving{}})
	require.NoError(t, err)
	assert.Equal(t, 1, te.logs.FilterMessage("releasing the lock of a neuron held by an interrupted command").Len())
}

func TestClaimOrRefresh(t *testing.T) {
	t.Run("claim a neuron", testClaimNeuron)
	t.Run("claim below the minimum stake removes the neuron", testClaimNeuronInsufficientFunds)
	t.Run("refresh updates the cached stake", testRefreshNeuron)
}

func testClaimNeuron(t *testing.T) {
	te := getTestEngine(t, nil)
	id := governance.ComputeNeuronID(alice, 5)

	te.ledger.EXPECT().AccountBalance(gomock.Any(), governance.Account{
		Owner:      governance.PrincipalID(governanceID),
		Subaccount: id.Bytes(),
	}).Return(5*e8, nil)

	resp, err := te.ManageNeuron(context.Background(), alice, &governance.ManageNeuron{
		Command: &governance.ClaimOrRefresh{MemoAndController: &governance.MemoAndController{Memo: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, id, resp.RefreshedNeuronID)

	n, err := te.GetNeuron(id)
	require.NoError(t, err)
	assert.Equal(t, 5*e8, n.CachedNeuronStakeE8s)
	assert.Equal(t, governance.NotDissolving(0), n.DissolveState)
	require.Len(t, n.Permissions, 1)
	assert.Equal(t, alice, n.Permissions[0].Principal)
	assert.ElementsMatch(t, governance.DefaultParameters().NeuronClaimerPermissions.Permissions, n.Permissions[0].PermissionTypes)

	mine := te.ListNeurons(governance.ListNeurons{OfPrincipal: &alice})
	require.Len(t, mine, 1)
	assert.Equal(t, id, mine[0].ID)
}

func testClaimNeuronInsufficientFunds(t *testing.T) {
	te := getTestEngine(t, nil)
	id := governance.ComputeNeuronID(bob, 9)
	te.ledger.EXPECT().AccountBalance(gomock.Any(), gomock.Any()).Return(e8-1, nil)

	_, err := te.ManageNeuron(context.Background(), carol, &governance.ManageNeuron{
		Command: &governance.ClaimOrRefresh{MemoAndController: &governance.MemoAndController{Memo: 9, Controller: &bob}},
	})
	require.Error(t, err)
	assert.Equal(t, governance.ErrorTypeInsufficientFunds, governance.ErrorTypeOf(err))

	_, err = te.GetNeuron(id)
	assert.Equal(t, governance.ErrorTypePreconditionFailed, governance.ErrorTypeOf(err))
	assert.Empty(t, te.ListNeurons(governance.ListNeurons{OfPrincipal: &bob}))
}

func testRefreshNeuron(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	te := getTestEngine(t, withNeurons(n))
	te.setNow(t0 + 1000)

	te.ledger.EXPECT().AccountBalance(gomock.Any(), gomock.Any()).Return(20*e8, nil)
	_, err := te.manage(alice, n.ID, &governance.ClaimOrRefresh{})
	require.NoError(t, err)

	got, err := te.GetNeuron(n.ID)
	require.NoError(t, err)
	assert.Equal(t, 20*e8, got.CachedNeuronStakeE8s)
	// doubling the stake halves the age
	assert.Equal(t, t0+500, got.AgingSinceTimestampSeconds)
}

func TestSplitThenDisburse(t *testing.T) {
	parent := testNeuron(alice, 1, 100*e8, 0)
	te := getTestEngine(t, withNeurons(parent))
	childID := governance.ComputeNeuronID(alice, 42)
	recipient := governance.Account{Owner: dave}

	te.ledger.EXPECT().TransferFunds(gomock.Any(), 10*e8-fee, fee, parent.ID.Bytes(),
		governance.Account{Owner: governance.PrincipalID(governanceID), Subaccount: childID.Bytes()}, uint64(42),
	).Return(uint64(100), nil)

	resp, err := te.manage(alice, parent.ID, &governance.Split{AmountE8s: 10 * e8, Memo: 42})
	require.NoError(t, err)
	assert.Equal(t, childID, resp.CreatedNeuronID)

	p, err := te.GetNeuron(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 90*e8, p.CachedNeuronStakeE8s)
	child, err := te.GetNeuron(childID)
	require.NoError(t, err)
	assert.Equal(t, 10*e8-fee, child.CachedNeuronStakeE8s)
	assert.Equal(t, p.DissolveState, child.DissolveState)
	assert.Equal(t, p.AgingSinceTimestampSeconds, child.AgingSinceTimestampSeconds)

	te.ledger.EXPECT().TransferFunds(gomock.Any(), 10*e8-2*fee, fee, childID.Bytes(), recipient, t0).
		Return(uint64(101), nil)

	resp, err = te.manage(alice, childID, &governance.Disburse{ToAccount: &recipient})
	require.NoError(t, err)
	assert.Equal(t, uint64(101), resp.TransferBlockHeight)

	child, err = te.GetNeuron(childID)
	require.NoError(t, err)
	assert.Zero(t, child.CachedNeuronStakeE8s)
}

func TestSplit(t *testing.T) {
	t.Run("amount below the minimum", func(t *testing.T) {
		parent := testNeuron(alice, 1, 100*e8, 0)
		te := getTestEngine(t, withNeurons(parent))
		_, err := te.manage(alice, parent.ID, &governance.Split{AmountE8s: e8, Memo: 1})
		assert.Equal(t, governance.ErrorTypeInsufficientFunds, governance.ErrorTypeOf(err))
	})

	t.Run("parent left below the minimum", func(t *testing.T) {
		parent := testNeuron(alice, 1, 10*e8, 0)
		te := getTestEngine(t, withNeurons(parent))
		_, err := te.manage(alice, parent.ID, &governance.Split{AmountE8s: 10 * e8, Memo: 1})
		assert.Equal(t, governance.ErrorTypeInsufficientFunds, governance.ErrorTypeOf(err))
	})

	t.Run("failed transfer removes the child", func(t *testing.T) {
		parent := testNeuron(alice, 1, 100*e8, 0)
		te := getTestEngine(t, withNeurons(parent))
		te.ledger.EXPECT().TransferFunds(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(uint64(0), assert.AnError)

		_, err := te.manage(alice, parent.ID, &governance.Split{AmountE8s: 10 * e8, Memo: 3})
		assert.Equal(t, governance.ErrorTypeExternal, governance.ErrorTypeOf(err))

		_, err = te.GetNeuron(governance.ComputeNeuronID(alice, 3))
		assert.Error(t, err)
		p, err := te.GetNeuron(parent.ID)
		require.NoError(t, err)
		assert.Equal(t, 100*e8, p.CachedNeuronStakeE8s)
	})

	t.Run("not authorized", func(t *testing.T) {
		parent := testNeuron(alice, 1, 100*e8, 0)
		te := getTestEngine(t, withNeurons(parent))
		_, err := te.manage(bob, parent.ID, &governance.Split{AmountE8s: 10 * e8, Memo: 1})
		assert.Equal(t, governance.ErrorTypeNotAuthorized, governance.ErrorTypeOf(err))
	})
}

func TestDisburse(t *testing.T) {
	t.Run("not dissolved", func(t *testing.T) {
		n := testNeuron(alice, 1, 10*e8, oneYear)
		te := getTestEngine(t, withNeurons(n))
		_, err := te.manage(alice, n.ID, &governance.Disburse{})
		assert.Equal(t, governance.ErrorTypePreconditionFailed, governance.ErrorTypeOf(err))
	})

	t.Run("fees are burnt first", func(t *testing.T) {
		n := testNeuron(alice, 1, 10*e8, 0)
		n.NeuronFeesE8s = e8
		te := getTestEngine(t, withNeurons(n))
		minting := governance.Account{Owner: governance.PrincipalID(governanceID)}

		gomock.InOrder(
			te.ledger.EXPECT().TransferFunds(gomock.Any(), e8, uint64(0), n.ID.Bytes(), minting, t0).Return(uint64(1), nil),
			te.ledger.EXPECT().TransferFunds(gomock.Any(), 9*e8-fee, fee, n.ID.Bytes(), governance.Account{Owner: alice}, t0).
				Return(uint64(2), nil),
		)
		_, err := te.manage(alice, n.ID, &governance.Disburse{})
		require.NoError(t, err)

		got, err := te.GetNeuron(n.ID)
		require.NoError(t, err)
		assert.Zero(t, got.NeuronFeesE8s)
		assert.Zero(t, got.CachedNeuronStakeE8s)
	})
}

func TestNeuronLock(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, 0)
	te := getTestEngine(t, withNeurons(n))

	entered := make(chan struct{})
	release := make(chan struct{})
	te.ledger.EXPECT().TransferFunds(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, uint64, uint64, []byte, governance.Account, uint64) (uint64, error) {
			close(entered)
			<-release
			return 1, nil
		})

	done := make(chan error)
	go func() {
		_, err := te.manage(alice, n.ID, &governance.Disburse{})
		done <- err
	}()
	<-entered

	voteOnly := &governance.NeuronPermissionList{Permissions: []governance.PermissionType{governance.PermissionVote}}
	commands := map[string]governance.Command{
		"disburse":          &governance.Disburse{},
		"split":             &governance.Split{AmountE8s: 2 * e8, Memo: 1},
		"configure":         &governance.Configure{Operation: &governance.IncreaseDissolveDelay{AdditionalDissolveDelaySeconds: 10}},
		"merge maturity":    &governance.MergeMaturity{PercentageToMerge: 100},
		"disburse maturity": &governance.DisburseMaturity{PercentageToDisburse: 100},
		"refresh":           &governance.ClaimOrRefresh{},
		"follow":            &governance.Follow{FunctionID: 1, Followees: []governance.NeuronID{governance.ComputeNeuronID(bob, 1)}},
		"register vote":     &governance.RegisterVote{ProposalID: 1, Vote: governance.VoteYes},
		"make proposal": &governance.MakeProposal{Proposal: &governance.Proposal{
			Title:  "locked",
			URL:    "https://example.com",
			Action: &governance.Motion{MotionText: "locked"},
		}},
		"add permissions":    &governance.AddNeuronPermissions{PrincipalID: bob, PermissionsToAdd: voteOnly},
		"remove permissions": &governance.RemoveNeuronPermissions{PrincipalID: alice, PermissionsToRemove: voteOnly},
	}
	for name, cmd := range commands {
		_, err := te.manage(alice, n.ID, cmd)
		assert.Equal(t, governance.ErrorTypeNeuronLocked, governance.ErrorTypeOf(err), name)
	}

	// the neuron is untouched by the refused commands
	got, err := te.GetNeuron(n.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Followees)
	assert.Len(t, got.Permissions, 1)

	close(release)
	require.NoError(t, <-done)

	// released once the command returned
	_, err = te.manage(alice, n.ID, &governance.Configure{Operation: &governance.IncreaseDissolveDelay{AdditionalDissolveDelaySeconds: 10}})
	require.NoError(t, err)
}

func TestConfigureDissolveState(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, 1000)
	te := getTestEngine(t, withNeurons(n))
	configure := func(op governance.ConfigureOperation) error {
		_, err := te.manage(alice, n.ID, &governance.Configure{Operation: op})
		return err
	}

	err := configure(&governance.StopDissolving{})
	assert.Equal(t, governance.ErrorTypeRequiresDissolving, governance.ErrorTypeOf(err))

	require.NoError(t, configure(&governance.StartDissolving{}))
	got, _ := te.GetNeuron(n.ID)
	assert.Equal(t, governance.DissolvingAt(t0+1000), got.DissolveState)

	err = configure(&governance.StartDissolving{})
	assert.Equal(t, governance.ErrorTypeRequiresNotDissolving, governance.ErrorTypeOf(err))

	te.setNow(t0 + 400)
	require.NoError(t, configure(&governance.StopDissolving{}))
	got, _ = te.GetNeuron(n.ID)
	assert.Equal(t, governance.NotDissolving(600), got.DissolveState)
	assert.Equal(t, t0+400, got.AgingSinceTimestampSeconds)

	require.NoError(t, configure(&governance.IncreaseDissolveDelay{AdditionalDissolveDelaySeconds: 400}))
	got, _ = te.GetNeuron(n.ID)
	assert.Equal(t, governance.NotDissolving(1000), got.DissolveState)

	err = configure(&governance.SetDissolveTimestamp{DissolveTimestampSeconds: t0})
	assert.Equal(t, governance.ErrorTypeInvalidCommand, governance.ErrorTypeOf(err))

	_, err = te.manage(bob, n.ID, &governance.Configure{Operation: &governance.StartDissolving{}})
	assert.Equal(t, governance.ErrorTypeNotAuthorized, governance.ErrorTypeOf(err))
}

func TestMaturity(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	n.MaturityE8sEquivalent = 4 * e8
	te := getTestEngine(t, withNeurons(n))

	_, err := te.manage(alice, n.ID, &governance.MergeMaturity{PercentageToMerge: 101})
	assert.Equal(t, governance.ErrorTypePreconditionFailed, governance.ErrorTypeOf(err))

	te.ledger.EXPECT().TransferFunds(gomock.Any(), e8, uint64(0), []byte(nil),
		governance.Account{Owner: governance.PrincipalID(governanceID), Subaccount: n.ID.Bytes()}, uint64(7),
	).Return(uint64(5), nil)
	resp, err := te.manage(alice, n.ID, &governance.MergeMaturity{PercentageToMerge: 25})
	require.NoError(t, err)
	assert.Equal(t, e8, resp.MergedMaturityE8s)
	assert.Equal(t, 11*e8, resp.NewStakeE8s)

	te.ledger.EXPECT().TransferFunds(gomock.Any(), 3*e8, uint64(0), []byte(nil), governance.Account{Owner: bob}, uint64(7)).
		Return(uint64(6), nil)
	resp, err = te.manage(alice, n.ID, &governance.DisburseMaturity{
		PercentageToDisburse: 100,
		ToAccount:            &governance.Account{Owner: bob},
	})
	require.NoError(t, err)
	assert.Equal(t, 3*e8, resp.AmountDisbursedE8s)

	got, _ := te.GetNeuron(n.ID)
	assert.Zero(t, got.MaturityE8sEquivalent)
}

func TestNeuronPermissions(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	te := getTestEngine(t, func(s *governance.State) {
		s.Neurons[n.ID] = n
		s.Parameters.NeuronGrantablePermissions = &governance.NeuronPermissionList{
			Permissions: []governance.PermissionType{governance.PermissionVote, governance.PermissionSubmitProposal},
		}
	})
	voteOnly := &governance.NeuronPermissionList{Permissions: []governance.PermissionType{governance.PermissionVote}}

	_, err := te.manage(alice, n.ID, &governance.AddNeuronPermissions{
		PrincipalID:      bob,
		PermissionsToAdd: &governance.NeuronPermissionList{Permissions: []governance.PermissionType{governance.PermissionDisburse}},
	})
	assert.Equal(t, governance.ErrorTypeAccessControlList, governance.ErrorTypeOf(err))

	_, err = te.manage(alice, n.ID, &governance.AddNeuronPermissions{PrincipalID: bob, PermissionsToAdd: voteOnly})
	require.NoError(t, err)
	require.Len(t, te.ListNeurons(governance.ListNeurons{OfPrincipal: &bob}), 1)

	// bob can only pass on what he holds
	_, err = te.manage(bob, n.ID, &governance.AddNeuronPermissions{
		PrincipalID:      carol,
		PermissionsToAdd: &governance.NeuronPermissionList{Permissions: []governance.PermissionType{governance.PermissionSubmitProposal}},
	})
	assert.Equal(t, governance.ErrorTypeNotAuthorized, governance.ErrorTypeOf(err))

	_, err = te.manage(bob, n.ID, &governance.RemoveNeuronPermissions{PrincipalID: bob, PermissionsToRemove: voteOnly})
	require.NoError(t, err)
	assert.Empty(t, te.ListNeurons(governance.ListNeurons{OfPrincipal: &bob}))

	_, err = te.manage(alice, n.ID, &governance.RemoveNeuronPermissions{PrincipalID: bob, PermissionsToRemove: voteOnly})
	assert.Equal(t, governance.ErrorTypeAccessControlList, governance.ErrorTypeOf(err))
}

func TestMode(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, 0)
	te := getTestEngine(t, func(s *governance.State) {
		s.Neurons[n.ID] = n
		s.Mode = governance.ModePreInitializationSwap
	})

	_, err := te.manage(alice, n.ID, &governance.Disburse{})
	assert.Equal(t, governance.ErrorTypePreconditionFailed, governance.ErrorTypeOf(err))

	assert.ErrorIs(t, te.SetMode(alice, governance.ModeNormal), governance.ErrCallerNotSwapCanister)
	assert.ErrorIs(t, te.SetMode(governance.PrincipalID(swapID), governance.ModePreInitializationSwap), governance.ErrModeNotAllowed)
	require.NoError(t, te.SetMode(governance.PrincipalID(swapID), governance.ModeNormal))
	assert.Equal(t, governance.ModeNormal, te.GetMode())
}

func TestClaimSwapNeurons(t *testing.T) {
	existing := testNeuron(alice, 1, 10*e8, 0)
	te := getTestEngine(t, withNeurons(existing))

	_, err := te.ClaimSwapNeurons(context.Background(), alice, nil)
	assert.ErrorIs(t, err, governance.ErrCallerNotSwapCanister)

	resp, err := te.ClaimSwapNeurons(context.Background(), governance.PrincipalID(swapID), []governance.NeuronParameters{
		{NeuronID: governance.ComputeNeuronID(bob, 1), Controller: bob, HotKeys: []governance.PrincipalID{carol}, StakeE8s: 2 * e8, DissolveDelaySeconds: oneYear},
		{NeuronID: existing.ID, Controller: alice, StakeE8s: 2 * e8},
		{NeuronID: governance.ComputeNeuronID(carol, 1), Controller: carol, StakeE8s: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, governance.ClaimSwapNeuronsResponse{Successful: 1, Skipped: 1, Failed: 1}, *resp)

	n, err := te.GetNeuron(governance.ComputeNeuronID(bob, 1))
	require.NoError(t, err)
	assert.Equal(t, governance.NotDissolving(oneYear), n.DissolveState)
	require.Len(t, n.Permissions, 2)
	assert.Len(t, te.ListNeurons(governance.ListNeurons{OfPrincipal: &carol}), 1)
}

func TestListNeurons(t *testing.T) {
	var neurons []*governance.Neuron
	for i := uint64(0); i < 5; i++ {
		neurons = append(neurons, testNeuron(alice, i, 10*e8, 0))
	}
	te := getTestEngine(t, withNeurons(neurons...))

	first := te.ListNeurons(governance.ListNeurons{Limit: 3})
	require.Len(t, first, 3)
	assert.True(t, first[0].ID < first[1].ID && first[1].ID < first[2].ID)

	rest := te.ListNeurons(governance.ListNeurons{Limit: 3, StartPageAt: &first[2].ID})
	require.Len(t, rest, 2)
	assert.True(t, first[2].ID < rest[0].ID)
}

func TestDurationSummaries(t *testing.T) {
	n := testNeuron(alice, 1, 10*e8, oneYear)
	te := getTestEngine(t, withNeurons(n))

	_, err := te.manage(alice, n.ID, &governance.Configure{Operation: &governance.StartDissolving{}})
	require.NoError(t, err)
	_, err = te.manage(alice, n.ID, &governance.Configure{Operation: &governance.StartDissolving{}})
	require.Error(t, err)
	te.RunPeriodicTasks(context.Background())

	families, err := te.prom.Gather()
	require.NoError(t, err)
	counts := map[string]uint64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if s := m.GetSummary(); s != nil {
				counts[f.GetName()] += s.GetSampleCount()
			}
		}
	}
	// failed commands are timed too
	assert.Equal(t, uint64(2), counts["replica_governance_manage_neuron_duration_seconds"])
	assert.Equal(t, uint64(1), counts["replica_governance_periodic_tasks_duration_seconds"])
}
