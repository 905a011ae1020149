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
	"sync"
	"time"

	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"
	"code.icreplica.io/replica/metrics"

	"github.com/google/btree"
)

//go:generate go run github.com/golang/mock/mockgen -destination mocks/mocks.go -package mocks code.icreplica.io/replica/core/governance Environment,Ledger,HeapMonitor

// Environment is what governance needs from the system it runs in.
type Environment interface {
	Now() time.Time
	RandomUint64() uint64
	// CanisterID of governance itself.
	CanisterID() types.CanisterID
	CallCanister(ctx context.Context, target types.CanisterID, method string, payload []byte) ([]byte, error)
	ListSnsCanisters(ctx context.Context) (*SnsCanisters, error)
	ChangeCanister(ctx context.Context, target types.CanisterID, wasm []byte) error
	UpgradeRoot(ctx context.Context, wasm []byte) error
	NextVersion(ctx context.Context, current *Version) (*Version, error)
	GetWasm(ctx context.Context, hash []byte) ([]byte, error)
	RunningVersion(ctx context.Context) (*Version, error)
}

// Ledger moves tokens. A transfer from a nil subaccount of governance
// mints, a transfer to the minting account burns.
type Ledger interface {
	TransferFunds(ctx context.Context, amount, fee uint64, fromSubaccount []byte, to Account, memo uint64) (uint64, error)
	TotalSupply(ctx context.Context) (uint64, error)
	AccountBalance(ctx context.Context, account Account) (uint64, error)
}

type HeapMonitor interface {
	GrowthPotential() HeapGrowthPotential
}

type Engine struct {
	log *logging.Logger
	cfg Config
	m   *engineMetrics

	env    Environment
	ledger Ledger
	heap   HeapMonitor

	// mu guards everything below. It is released around calls to the
	// ledger and to other canisters, neuron locks keep those safe.
	mu    sync.Mutex
	state *State

	// function id -> followee -> followers
	followeeIndex  map[uint64]map[NeuronID]map[NeuronID]struct{}
	principalIndex map[PrincipalID]map[NeuronID]struct{}
	neuronOrder    *btree.BTreeG[NeuronID]
	proposalOrder  *btree.BTreeG[uint64]

	closestProposalDeadline uint64
	latestGCTimestamp       uint64
	latestGCProposalCount   int

	executions sync.WaitGroup
}

// NewEngine takes ownership of state.
func NewEngine(
	log *logging.Logger,
	cfg Config,
	state *State,
	env Environment,
	ledger Ledger,
	heap HeapMonitor,
	reg *metrics.Registry,
) (*Engine, error) {
	log = log.Named(namedLogger)
	log.SetLevel(cfg.Level.Get())

	if state.Parameters == nil {
		return nil, ErrMissingParameters
	}
	if state.RootCanisterID == "" || state.LedgerCanisterID == "" || state.SwapCanisterID == "" {
		return nil, ErrMissingCanisterIDs
	}
	if err := state.Parameters.validate(); err != nil {
		return nil, err
	}

	m, err := newEngineMetrics(reg)
	if err != nil {
		return nil, err
	}
	if heap == nil {
		heap = NewRuntimeHeapMonitor(cfg)
	}

	e := &Engine{
		log:            log,
		cfg:            cfg,
		m:              m,
		env:            env,
		ledger:         ledger,
		heap:           heap,
		state:          state,
		followeeIndex:  map[uint64]map[NeuronID]map[NeuronID]struct{}{},
		principalIndex: map[PrincipalID]map[NeuronID]struct{}{},
		neuronOrder:    btree.NewOrderedG[NeuronID](32),
		proposalOrder:  btree.NewOrderedG[uint64](32),
	}
	e.initialize()
	return e, nil
}

func (e *Engine) initialize() {
	st := e.state
	now := e.now()

	if st.Neurons == nil {
		st.Neurons = map[NeuronID]*Neuron{}
	}
	if st.Proposals == nil {
		st.Proposals = map[uint64]*ProposalData{}
	}
	if st.InFlightCommands == nil {
		st.InFlightCommands = map[NeuronID]*NeuronInFlightCommand{}
	}
	if st.Functions == nil {
		st.Functions = map[uint64]*NervousSystemFunction{}
	}
	if st.Mode == ModeUnspecified {
		st.Mode = ModeNormal
	}
	if st.Metadata == nil {
		st.Metadata = &SnsMetadata{}
	}

	if st.GenesisTimestampSeconds == 0 {
		st.GenesisTimestampSeconds = now
		for _, n := range st.Neurons {
			n.CreatedTimestampSeconds = now
			n.AgingSinceTimestampSeconds = now
		}
	}
	if st.LatestRewardEvent == nil {
		st.LatestRewardEvent = &RewardEvent{ActualTimestampSeconds: now}
	}

	for id, cmd := range st.InFlightCommands {
		e.log.Warn("releasing the lock of a neuron held by an interrupted command",
			logging.NeuronID(id.String()),
			logging.String("command", cmd.Command),
		)
		delete(st.InFlightCommands, id)
	}

	for _, n := range st.Neurons {
		e.indexNeuron(n)
	}
	for id := range st.Proposals {
		e.proposalOrder.ReplaceOrInsert(id)
	}
	e.m.neurons.Set(float64(len(st.Neurons)))
}

func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}

	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) now() uint64 {
	return uint64(e.env.Now().Unix())
}

func (e *Engine) params() *NervousSystemParameters {
	return e.state.Parameters
}

func (e *Engine) isSwap(caller PrincipalID) bool {
	return caller == principalOf(e.state.SwapCanisterID)
}

// withoutLock runs f with the engine mutex released. The caller must hold
// it.
func (e *Engine) withoutLock(f func() error) error {
	e.mu.Unlock()
	defer e.mu.Lock()
	return f()
}

// lockNeuron marks the neuron busy with command until the returned
// function is called, with the mutex held.
func (e *Engine) lockNeuron(id NeuronID, command string) (func(), error) {
	if _, ok := e.state.InFlightCommands[id]; ok {
		return nil, newError(ErrorTypeNeuronLocked, "Neuron has an ongoing operation.")
	}
	e.state.InFlightCommands[id] = &NeuronInFlightCommand{
		TimestampSeconds: e.now(),
		Command:          command,
	}
	return func() {
		delete(e.state.InFlightCommands, id)
	}, nil
}

func (e *Engine) checkHeapCanGrow() error {
	if e.heap.GrowthPotential() == HeapGrowthLimitedAvailability {
		return newError(ErrorTypeResourceExhausted, "Heap size too large; governance canister is running out of memory.")
	}
	return nil
}

func (e *Engine) getNeuron(id NeuronID) (*Neuron, error) {
	n, ok := e.state.Neurons[id]
	if !ok {
		return nil, newError(ErrorTypeNotFound, "Neuron not found: %s", id)
	}
	return n, nil
}

func (e *Engine) addNeuron(n *Neuron) error {
	if _, ok := e.state.Neurons[n.ID]; ok {
		return newError(ErrorTypePreconditionFailed,
			"Cannot add neuron. There is already a neuron with id: %s", n.ID)
	}
	if uint64(len(e.state.Neurons)) >= val(e.params().MaxNumberOfNeurons) {
		return newError(ErrorTypePreconditionFailed, "Cannot add neuron. Max number of neurons reached.")
	}
	e.state.Neurons[n.ID] = n
	e.indexNeuron(n)
	e.m.neurons.Set(float64(len(e.state.Neurons)))
	return nil
}

func (e *Engine) removeNeuron(id NeuronID) {
	n, ok := e.state.Neurons[id]
	if !ok {
		return
	}
	e.unindexNeuron(n)
	delete(e.state.Neurons, id)
	e.m.neurons.Set(float64(len(e.state.Neurons)))
}

func (e *Engine) indexNeuron(n *Neuron) {
	e.neuronOrder.ReplaceOrInsert(n.ID)
	for _, p := range n.Permissions {
		e.addPrincipalIndex(p.Principal, n.ID)
	}
	for fn, followees := range n.Followees {
		e.addFolloweeIndex(fn, n.ID, followees)
	}
}

func (e *Engine) unindexNeuron(n *Neuron) {
	e.neuronOrder.Delete(n.ID)
	for _, p := range n.Permissions {
		e.removePrincipalIndex(p.Principal, n.ID)
	}
	for fn, followees := range n.Followees {
		e.removeFolloweeIndex(fn, n.ID, followees)
	}
}

func (e *Engine) addPrincipalIndex(p PrincipalID, id NeuronID) {
	set, ok := e.principalIndex[p]
	if !ok {
		set = map[NeuronID]struct{}{}
		e.principalIndex[p] = set
	}
	set[id] = struct{}{}
}

func (e *Engine) removePrincipalIndex(p PrincipalID, id NeuronID) {
	set, ok := e.principalIndex[p]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(e.principalIndex, p)
	}
}

func (e *Engine) addFolloweeIndex(fn uint64, follower NeuronID, followees []NeuronID) {
	byFollowee, ok := e.followeeIndex[fn]
	if !ok {
		byFollowee = map[NeuronID]map[NeuronID]struct{}{}
		e.followeeIndex[fn] = byFollowee
	}
	for _, f := range followees {
		set, ok := byFollowee[f]
		if !ok {
			set = map[NeuronID]struct{}{}
			byFollowee[f] = set
		}
		set[follower] = struct{}{}
	}
}

func (e *Engine) removeFolloweeIndex(fn uint64, follower NeuronID, followees []NeuronID) {
	byFollowee, ok := e.followeeIndex[fn]
	if !ok {
		return
	}
	for _, f := range followees {
		if set, ok := byFollowee[f]; ok {
			delete(set, follower)
			if len(set) == 0 {
				delete(byFollowee, f)
			}
		}
	}
	if len(byFollowee) == 0 {
		delete(e.followeeIndex, fn)
	}
}

// Wait blocks until the executions of adopted proposals started so far
// have returned.
func (e *Engine) Wait() {
	e.executions.Wait()
}
