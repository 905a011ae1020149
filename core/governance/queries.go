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
	"sort"

	"code.icreplica.io/replica/logging"
)

// maxListLimit caps the size of a page of neurons or proposals.
const maxListLimit = 100

func listLimit(l uint32) int {
	if l == 0 || l > maxListLimit {
		return maxListLimit
	}
	return int(l)
}

type ListNeurons struct {
	Limit       uint32
	StartPageAt *NeuronID
	OfPrincipal *PrincipalID
}

// ListNeurons pages through neurons in id order, after StartPageAt.
func (e *Engine) ListNeurons(req ListNeurons) []*Neuron {
	e.mu.Lock()
	defer e.mu.Unlock()

	limit := listLimit(req.Limit)
	var start NeuronID
	if req.StartPageAt != nil {
		start = *req.StartPageAt
	}
	out := make([]*Neuron, 0, limit)

	if req.OfPrincipal != nil {
		ids := make([]NeuronID, 0, len(e.principalIndex[*req.OfPrincipal]))
		for id := range e.principalIndex[*req.OfPrincipal] {
			if req.StartPageAt == nil || id > start {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if len(out) == limit {
				break
			}
			out = append(out, cloneNeuron(e.state.Neurons[id]))
		}
		return out
	}

	e.neuronOrder.AscendGreaterOrEqual(start, func(id NeuronID) bool {
		if req.StartPageAt != nil && id == start {
			return true
		}
		out = append(out, cloneNeuron(e.state.Neurons[id]))
		return len(out) < limit
	})
	return out
}

type ListProposals struct {
	Limit               uint32
	BeforeProposal      *uint64
	ExcludeType         []uint64
	IncludeRewardStatus []ProposalRewardStatus
	IncludeStatus       []ProposalDecisionStatus
}

// ListProposals returns the newest proposals first, without their ballots
// or large payloads.
func (e *Engine) ListProposals(req ListProposals) []*ProposalData {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	limit := listLimit(req.Limit)
	excluded := map[uint64]struct{}{}
	for _, t := range req.ExcludeType {
		excluded[t] = struct{}{}
	}
	out := make([]*ProposalData, 0, limit)

	visit := func(id uint64) bool {
		if req.BeforeProposal != nil && id >= *req.BeforeProposal {
			return true
		}
		pd := e.state.Proposals[id]
		if _, ok := excluded[pd.Action]; ok {
			return true
		}
		if len(req.IncludeRewardStatus) > 0 && !containsStatus(req.IncludeRewardStatus, pd.RewardStatus(now)) {
			return true
		}
		if len(req.IncludeStatus) > 0 && !containsStatus(req.IncludeStatus, pd.Status()) {
			return true
		}
		out = append(out, stripProposal(pd))
		return len(out) < limit
	}
	if req.BeforeProposal != nil {
		e.proposalOrder.DescendLessOrEqual(*req.BeforeProposal, visit)
	} else {
		e.proposalOrder.Descend(visit)
	}
	return out
}

func containsStatus[T comparable](list []T, s T) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (e *Engine) GetNeuron(id NeuronID) (*Neuron, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.state.Neurons[id]
	if !ok {
		return nil, newError(ErrorTypePreconditionFailed, "No neuron for given NeuronId.")
	}
	return cloneNeuron(n), nil
}

func (e *Engine) GetProposal(id uint64) (*ProposalData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pd, ok := e.state.Proposals[id]
	if !ok {
		return nil, newError(ErrorTypePreconditionFailed, "No proposal for given ProposalId.")
	}
	c := *pd
	c.Ballots = make(map[NeuronID]*Ballot, len(pd.Ballots))
	for id, b := range pd.Ballots {
		bc := *b
		c.Ballots[id] = &bc
	}
	if pd.LatestTally != nil {
		t := *pd.LatestTally
		c.LatestTally = &t
	}
	if pd.WaitForQuietState != nil {
		w := *pd.WaitForQuietState
		c.WaitForQuietState = &w
	}
	return &c, nil
}

func nativeFunctions() []*NervousSystemFunction {
	return []*NervousSystemFunction{
		{ID: UnspecifiedFunctionID, Name: "All Topics", Description: "Catch-all w.r.t to following for all types of proposals."},
		{ID: MotionFunctionID, Name: "Motion", Description: "Side-effect-less proposals to set general governance direction."},
		{ID: ManageNervousSystemParametersFunctionID, Name: "Manage nervous system parameters", Description: "Proposal to change the core parameters of SNS governance."},
		{ID: UpgradeSnsControlledCanisterFunctionID, Name: "Upgrade SNS controlled canister", Description: "Proposal to upgrade the wasm of an SNS controlled canister."},
		{ID: AddGenericNervousSystemFunctionFunctionID, Name: "Add nervous system function", Description: "Proposal to add a new, user-defined, nervous system function."},
		{ID: RemoveGenericNervousSystemFunctionID, Name: "Remove nervous system function", Description: "Proposal to remove a user-defined nervous system function."},
		{ID: UpgradeSnsToNextVersionFunctionID, Name: "Upgrade SNS to next version", Description: "Proposal to upgrade the WASM of a core SNS canister."},
		{ID: ManageSnsMetadataFunctionID, Name: "Manage SNS metadata", Description: "Proposal to change the metadata associated with an SNS."},
	}
}

// ListNervousSystemFunctions returns the functions proposals can be made
// for, and the ids of removed functions that can not be used again.
func (e *Engine) ListNervousSystemFunctions() ([]*NervousSystemFunction, []uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	functions := nativeFunctions()
	var reserved []uint64
	ids := make([]uint64, 0, len(e.state.Functions))
	for id := range e.state.Functions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		f := e.state.Functions[id]
		if f.IsDeletionMarker() {
			reserved = append(reserved, id)
			continue
		}
		c := *f
		if f.Generic != nil {
			g := *f.Generic
			c.Generic = &g
		}
		functions = append(functions, &c)
	}
	return functions, reserved
}

func (e *Engine) GetMetadata() SnsMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()

	md := *e.state.Metadata
	return md
}

func (e *Engine) GetSnsInitializationParameters() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.InitializationParameters
}

// GetRunningSnsVersion returns the deployed version and the upgrade in
// progress, if any.
func (e *Engine) GetRunningSnsVersion() (*Version, *UpgradeInProgress) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var pending *UpgradeInProgress
	if pv := e.state.PendingVersion; pv != nil {
		c := *pv
		c.TargetVersion = pv.TargetVersion.clone()
		pending = &c
	}
	return e.state.DeployedVersion.clone(), pending
}

func (e *Engine) GetNervousSystemParameters() *NervousSystemParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params().clone()
}

func (e *Engine) GetLatestRewardEvent() RewardEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := *e.state.LatestRewardEvent
	ev.SettledProposals = append([]uint64(nil), ev.SettledProposals...)
	return ev
}

func (e *Engine) GetMode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Mode
}

// SetMode is called by the swap once the decentralization sale completed.
func (e *Engine) SetMode(caller PrincipalID, mode Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isSwap(caller) {
		return ErrCallerNotSwapCanister
	}
	if mode != ModeNormal {
		return ErrModeNotAllowed
	}
	if e.state.Mode != mode {
		e.log.Info("governance mode changed",
			logging.String("old", e.state.Mode.String()),
			logging.String("new", mode.String()),
		)
	}
	e.state.Mode = mode
	return nil
}

// NeuronParameters describe a neuron created by the swap for a buyer.
type NeuronParameters struct {
	NeuronID             NeuronID
	Controller           PrincipalID
	HotKeys              []PrincipalID
	StakeE8s             uint64
	DissolveDelaySeconds uint64
	SourceNNSNeuronID    uint64
	Followees            []NeuronID
}

type ClaimSwapNeuronsResponse struct {
	Successful uint32
	Skipped    uint32
	Failed     uint32
}

// ClaimSwapNeurons creates the neurons of the swap participants. Neurons
// that already exist are skipped.
func (e *Engine) ClaimSwapNeurons(_ context.Context, caller PrincipalID, neurons []NeuronParameters) (*ClaimSwapNeuronsResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isSwap(caller) {
		return nil, ErrCallerNotSwapCanister
	}

	now := e.now()
	params := e.params()
	resp := &ClaimSwapNeuronsResponse{}
	for _, np := range neurons {
		if err := validateNeuronParameters(&np, params); err != nil {
			e.log.Error("invalid swap neuron",
				logging.NeuronID(np.NeuronID.String()),
				logging.Error(err),
			)
			resp.Failed++
			continue
		}
		if _, ok := e.state.Neurons[np.NeuronID]; ok {
			resp.Skipped++
			continue
		}

		n := &Neuron{
			ID:                              np.NeuronID,
			Permissions:                     swapNeuronPermissions(&np, params),
			CachedNeuronStakeE8s:            np.StakeE8s,
			CreatedTimestampSeconds:         now,
			AgingSinceTimestampSeconds:      now,
			DissolveState:                   NotDissolving(np.DissolveDelaySeconds),
			VotingPowerPercentageMultiplier: DefaultVotingPowerPercentageMultiplier,
			SourceNNSNeuronID:               np.SourceNNSNeuronID,
		}
		if len(np.Followees) > 0 {
			n.Followees = map[uint64][]NeuronID{
				UnspecifiedFunctionID: append([]NeuronID(nil), np.Followees...),
			}
		}
		if err := e.addNeuron(n); err != nil {
			e.log.Error("could not add swap neuron",
				logging.NeuronID(np.NeuronID.String()),
				logging.Error(err),
			)
			resp.Failed++
			continue
		}
		resp.Successful++
	}
	return resp, nil
}

func validateNeuronParameters(np *NeuronParameters, p *NervousSystemParameters) error {
	if _, err := np.NeuronID.subaccount(); err != nil {
		return err
	}
	if np.Controller == "" {
		return newError(ErrorTypeInvalidCommand, "Neuron parameters must have a controller")
	}
	if np.StakeE8s < val(p.NeuronMinimumStakeE8s) {
		return newError(ErrorTypeInsufficientFunds, "Stake of %d e8s is below the minimum of %d e8s",
			np.StakeE8s, val(p.NeuronMinimumStakeE8s))
	}
	if np.DissolveDelaySeconds > val(p.MaxDissolveDelaySeconds) {
		return newError(ErrorTypeInvalidCommand, "Dissolve delay of %d seconds is above the maximum of %d seconds",
			np.DissolveDelaySeconds, val(p.MaxDissolveDelaySeconds))
	}
	if uint64(len(np.Followees)) > val(p.MaxFolloweesPerFunction) {
		return newError(ErrorTypeInvalidCommand, "Too many followees.")
	}
	return nil
}

// swapNeuronPermissions gives the controller the claimer permissions and
// the hot keys the permissions to take part in governance.
func swapNeuronPermissions(np *NeuronParameters, p *NervousSystemParameters) []NeuronPermission {
	perms := []NeuronPermission{{
		Principal:       np.Controller,
		PermissionTypes: append([]PermissionType(nil), p.NeuronClaimerPermissions.Permissions...),
	}}
	for _, hk := range np.HotKeys {
		if hk == np.Controller {
			continue
		}
		perms = append(perms, NeuronPermission{
			Principal:       hk,
			PermissionTypes: []PermissionType{PermissionVote, PermissionSubmitProposal},
		})
	}
	return perms
}

func cloneNeuron(n *Neuron) *Neuron {
	c := *n
	c.Permissions = clonePermissions(n.Permissions)
	c.Followees = cloneFollowees(n.Followees)
	return &c
}

// stripProposal drops what is too large to be listed.
func stripProposal(pd *ProposalData) *ProposalData {
	c := *pd
	c.Ballots = nil
	if pd.Proposal == nil {
		return &c
	}
	p := *pd.Proposal
	switch a := p.Action.(type) {
	case *ExecuteGenericNervousSystemFunction:
		p.Action = &ExecuteGenericNervousSystemFunction{ID: a.ID}
	case *UpgradeSnsControlledCanister:
		p.Action = &UpgradeSnsControlledCanister{CanisterID: a.CanisterID}
	}
	c.Proposal = &p
	return &c
}

// WithState calls fn with the whole state while the engine is locked. fn
// must neither keep nor change it.
func (e *Engine) WithState(fn func(*State) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.state)
}
