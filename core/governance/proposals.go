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
	"math"

	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/libs/num"
	"code.icreplica.io/replica/logging"

	"github.com/pkg/errors"
)

// allowsProposal reports whether a proposal with action can be submitted
// in mode. Before the swap, nothing may touch the tokens or the code of
// the nervous system.
func (e *Engine) allowsProposal(a Action) error {
	if e.state.Mode != ModePreInitializationSwap {
		return nil
	}
	disallowed := false
	switch act := a.(type) {
	case *UpgradeSnsControlledCanister, *UpgradeSnsToNextVersion:
		disallowed = true
	case *ManageNervousSystemParameters:
		disallowed = act.Parameters != nil && act.Parameters.VotingRewardsParameters != nil
	case *ExecuteGenericNervousSystemFunction:
		if f, ok := e.state.Functions[act.ID]; ok && f.Generic != nil {
			disallowed = e.isNervousSystemCanister(f.Generic.TargetCanisterID)
		}
	}
	if disallowed {
		return newError(ErrorTypePreconditionFailed,
			"Proposal with action %s is not allowed in mode %s", ActionName(a), e.state.Mode)
	}
	return nil
}

func (e *Engine) isNervousSystemCanister(id types.CanisterID) bool {
	return id == e.env.CanisterID() || id == e.state.RootCanisterID ||
		id == e.state.LedgerCanisterID || id == e.state.SwapCanisterID
}

// validateAndRenderProposal returns the text shown to voters. It may
// release the mutex to ask other canisters.
func (e *Engine) validateAndRenderProposal(ctx context.Context, p *Proposal) (string, error) {
	if err := validateProposalFields(p); err != nil {
		return "", err
	}
	switch a := p.Action.(type) {
	case *Motion:
		return renderMotion(a)
	case *ManageNervousSystemParameters:
		if a.Parameters == nil {
			return "", invalidProposal("ManageNervousSystemParameters must set parameters")
		}
		merged, err := a.Parameters.inheritFrom(e.params())
		if err != nil {
			return "", invalidProposal("Could not merge nervous system parameters: %v", err)
		}
		if err := merged.validate(); err != nil {
			return "", invalidProposal("Invalid nervous system parameters: %v", err)
		}
		return "# Proposal to change nervous system parameters:\n\n## New parameters:\n\n" + a.Parameters.render(), nil
	case *UpgradeSnsControlledCanister:
		return renderUpgradeSnsControlledCanister(a)
	case *AddGenericNervousSystemFunction:
		if err := e.checkGenericFunctionCanBeAdded(a.Function, ErrorTypeInvalidProposal); err != nil {
			return "", err
		}
		return renderAddGenericFunction(a)
	case *RemoveGenericNervousSystemFunction:
		f, ok := e.state.Functions[a.ID]
		if !ok || f.IsDeletionMarker() {
			return "", invalidProposal("NervousSystemFunction: %d doesn't exist", a.ID)
		}
		return renderRemoveGenericFunction(f), nil
	case *UpgradeSnsToNextVersion:
		up, err := e.upgradeParams(ctx)
		if err != nil {
			return "", err
		}
		return renderUpgradeSnsToNextVersion(up), nil
	case *ExecuteGenericNervousSystemFunction:
		return e.validateExecuteGeneric(ctx, a)
	case *ManageSnsMetadata:
		return renderManageSnsMetadata(a)
	}
	return "", invalidProposal("Unknown action")
}

func (e *Engine) validateExecuteGeneric(ctx context.Context, a *ExecuteGenericNervousSystemFunction) (string, error) {
	f, ok := e.state.Functions[a.ID]
	if !ok || f.IsDeletionMarker() || f.Generic == nil {
		return "", invalidProposal("There is no generic NervousSystemFunction with id: %d", a.ID)
	}
	g := *f.Generic
	var rendering []byte
	err := e.withoutLock(func() error {
		var err error
		rendering, err = e.env.CallCanister(ctx, g.ValidatorCanisterID, g.ValidatorMethodName, a.Payload)
		return err
	})
	if err != nil {
		return "", invalidProposal("Payload of ExecuteGenericNervousSystemFunction is not valid: %v", err)
	}
	return renderExecuteGeneric(f, a.Payload, string(rendering)), nil
}

// checkGenericFunctionCanBeAdded fails with errType when f can not be
// registered.
func (e *Engine) checkGenericFunctionCanBeAdded(f *NervousSystemFunction, errType ErrorType) error {
	if err := validateGenericFunction(f); err != nil {
		return newError(errType, "%s", err.(*Error).Message)
	}
	if existing, ok := e.state.Functions[f.ID]; ok {
		if existing.IsDeletionMarker() {
			return newError(errType, "Function id %d was used by a removed function and can not be reused", f.ID)
		}
		return newError(errType, "Failed to add NervousSystemFunction. There is already a NervousSystemFunction with id: %d", f.ID)
	}
	g := f.Generic
	if e.isNervousSystemCanister(g.TargetCanisterID) {
		return newError(errType, "Function targets a reserved canister: %s", g.TargetCanisterID)
	}
	if e.isNervousSystemCanister(g.ValidatorCanisterID) {
		return newError(errType, "Function validator is a reserved canister: %s", g.ValidatorCanisterID)
	}
	return nil
}

func (e *Engine) makeProposal(ctx context.Context, id NeuronID, caller PrincipalID, p *Proposal) (uint64, error) {
	rendering, err := e.validateAndRenderProposal(ctx, p)
	if err != nil {
		return 0, err
	}
	action := p.Action
	lowResourcesOK := allowedWhenResourcesAreLow(action)
	if !lowResourcesOK {
		if err := e.checkHeapCanGrow(); err != nil {
			return 0, err
		}
	}
	if err := e.allowsProposal(action); err != nil {
		return 0, err
	}

	now := e.now()
	params := e.params()
	proposer, err := e.getNeuron(id)
	if err != nil {
		return 0, err
	}
	if err := proposer.checkAuthorized(caller, PermissionSubmitProposal); err != nil {
		return 0, err
	}
	minDelay := val(params.NeuronMinimumDissolveDelayToVoteSeconds)
	if proposer.dissolveDelaySeconds(now) < minDelay {
		return 0, newError(ErrorTypePreconditionFailed, "The neuron's dissolve delay is too short.")
	}
	rejectCost := val(params.RejectCostE8s)
	if proposer.stakeE8s() < rejectCost {
		return 0, newError(ErrorTypeInsufficientFunds, "Neuron doesn't have enough stake to submit proposal.")
	}

	if !lowResourcesOK {
		withBallots := 0
		for _, pd := range e.state.Proposals {
			if len(pd.Ballots) > 0 {
				withBallots++
			}
		}
		if uint64(withBallots) >= val(params.MaxNumberOfProposalsWithBallots) {
			return 0, newError(ErrorTypeResourceExhausted, "Reached maximum number of proposals that have ballots.")
		}
	}

	ballots := map[NeuronID]*Ballot{}
	total := num.UintZero()
	for nid, n := range e.state.Neurons {
		if n.dissolveDelaySeconds(now) < minDelay {
			continue
		}
		power := n.votingPower(now, params)
		total.AddUint64(power)
		ballots[nid] = &Ballot{Vote: VoteUnspecified, VotingPower: power}
	}
	if !total.LT(num.NewUint(math.MaxUint64)) {
		return 0, newError(ErrorTypePreconditionFailed, "Voting power overflow.")
	}
	if len(ballots) == 0 {
		return 0, newError(ErrorTypePreconditionFailed, "No eligible voters.")
	}

	proposalID := uint64(1)
	if last, ok := e.proposalOrder.Max(); ok {
		proposalID = last + 1
	}

	votingPeriod := val(params.InitialVotingPeriodSeconds)
	pd := &ProposalData{
		Action:                              action.FunctionID(),
		ID:                                  proposalID,
		Proposer:                            id,
		RejectCostE8s:                       rejectCost,
		Proposal:                            p,
		ProposalCreationTimestampSeconds:    now,
		Ballots:                             ballots,
		PayloadTextRendering:                rendering,
		IsEligibleForRewards:                params.VotingRewardsParameters != nil,
		InitialVotingPeriodSeconds:          votingPeriod,
		WaitForQuietDeadlineIncreaseSeconds: val(params.WaitForQuietDeadlineIncreaseSeconds),
		WaitForQuietState: &WaitForQuietState{
			CurrentDeadlineTimestampSeconds: now + votingPeriod,
		},
	}

	proposer.NeuronFeesE8s += rejectCost
	e.state.Proposals[proposalID] = pd
	e.proposalOrder.ReplaceOrInsert(proposalID)
	if d := pd.deadline(); d < e.closestProposalDeadline {
		e.closestProposalDeadline = d
	}
	e.m.proposals.WithLabelValues(ActionName(action)).Inc()

	e.castVoteAndCascadeFollow(pd, id, VoteYes, now)
	e.processProposal(ctx, proposalID)

	e.log.Info("proposal submitted",
		logging.ProposalID(proposalID),
		logging.String("action", ActionName(action)),
		logging.NeuronID(id.String()),
	)
	return proposalID, nil
}

func (e *Engine) registerVote(ctx context.Context, id NeuronID, caller PrincipalID, c *RegisterVote) error {
	n, err := e.getNeuron(id)
	if err != nil {
		return err
	}
	if err := n.checkAuthorized(caller, PermissionVote); err != nil {
		return err
	}
	pd, ok := e.state.Proposals[c.ProposalID]
	if !ok {
		return newError(ErrorTypeNotFound, "Can't find proposal.")
	}
	if c.Vote == VoteUnspecified {
		return newError(ErrorTypePreconditionFailed, "Invalid vote specified.")
	}
	ballot, ok := pd.Ballots[id]
	if !ok {
		return newError(ErrorTypeNotAuthorized, "Neuron not eligible to vote on proposal.")
	}
	if ballot.Vote != VoteUnspecified {
		return newError(ErrorTypePreconditionFailed, "Neuron already voted on proposal.")
	}
	now := e.now()
	if !pd.acceptsVotes(now) {
		return newError(ErrorTypePreconditionFailed, "Proposal deadline has passed.")
	}

	e.castVoteAndCascadeFollow(pd, id, c.Vote, now)
	e.processProposal(ctx, c.ProposalID)
	return nil
}

// castVoteAndCascadeFollow records the vote of voter, then the votes of
// the neurons that follow it, breadth first, until no more ballot changes.
// Only unset ballots are ever changed.
func (e *Engine) castVoteAndCascadeFollow(pd *ProposalData, voter NeuronID, vote Vote, now uint64) {
	fn := pd.Action
	if fn == UnspecifiedFunctionID {
		e.log.Error("proposal has no function id, votes are not cascaded",
			logging.ProposalID(pd.ID))
		return
	}

	induction := map[NeuronID]Vote{voter: vote}
	for len(induction) > 0 {
		followers := map[NeuronID]struct{}{}
		for id, v := range induction {
			ballot, ok := pd.Ballots[id]
			if !ok || ballot.Vote != VoteUnspecified {
				continue
			}
			ballot.Vote = v
			ballot.CastTimestampSeconds = now
			for _, index := range []uint64{fn, UnspecifiedFunctionID} {
				for f := range e.followeeIndex[index][id] {
					followers[f] = struct{}{}
				}
			}
		}

		induction = map[NeuronID]Vote{}
		for f := range followers {
			n, ok := e.state.Neurons[f]
			if !ok {
				e.log.Error("follower of a neuron does not exist", logging.NeuronID(f.String()))
				continue
			}
			ballot, ok := pd.Ballots[f]
			if !ok || ballot.Vote != VoteUnspecified {
				continue
			}
			if v := n.wouldFollowBallots(fn, pd.Ballots); v != VoteUnspecified {
				induction[f] = v
			}
		}
	}
}

// processProposal decides an open proposal when its tally or its deadline
// allow it, and starts the execution of an adopted one.
func (e *Engine) processProposal(ctx context.Context, id uint64) {
	pd, ok := e.state.Proposals[id]
	if !ok || pd.Status() != ProposalStatusOpen {
		return
	}
	now := e.now()
	pd.recomputeTally(now)
	if pd.canMakeDecision(now) {
		e.decideProposal(ctx, pd, now)
	}
}

func (e *Engine) decideProposal(ctx context.Context, pd *ProposalData, now uint64) {
	if pd.LatestTally == nil {
		pd.recomputeTally(now)
	}
	pd.DecidedTimestampSeconds = now
	status := pd.Status()
	e.m.decisions.WithLabelValues(status.String()).Inc()
	e.log.Info("proposal decided",
		logging.ProposalID(pd.ID),
		logging.String("status", status.String()),
		logging.Uint64("yes", pd.LatestTally.Yes),
		logging.Uint64("no", pd.LatestTally.No),
		logging.Uint64("total", pd.LatestTally.Total),
	)
	if status != ProposalStatusAdopted {
		return
	}

	if proposer, ok := e.state.Neurons[pd.Proposer]; ok && proposer.NeuronFeesE8s >= pd.RejectCostE8s {
		proposer.NeuronFeesE8s -= pd.RejectCostE8s
	}
	e.startExecution(ctx, pd.ID, pd.Proposal.Action)
}

// processProposals decides the proposals whose deadline passed.
func (e *Engine) processProposals(ctx context.Context) {
	now := e.now()
	if now < e.closestProposalDeadline {
		return
	}

	var ids []uint64
	for id, pd := range e.state.Proposals {
		if pd.Status() == ProposalStatusOpen {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		e.processProposal(ctx, id)
	}

	closest := uint64(math.MaxUint64)
	for _, pd := range e.state.Proposals {
		if pd.Status() == ProposalStatusOpen && pd.deadline() < closest {
			closest = pd.deadline()
		}
	}
	e.closestProposalDeadline = closest
}

// startExecution runs the action of an adopted proposal in the background.
// The execution outlives the request that adopted the proposal.
func (e *Engine) startExecution(ctx context.Context, id uint64, action Action) {
	ctx = context.WithoutCancel(ctx)
	e.executions.Add(1)
	go func() {
		defer e.executions.Done()
		e.mu.Lock()
		defer e.mu.Unlock()

		done, err := e.performAction(ctx, id, action)
		if done {
			e.setProposalExecutionStatus(id, err)
		}
	}()
}

func (e *Engine) setProposalExecutionStatus(id uint64, err error) {
	pd, ok := e.state.Proposals[id]
	if !ok {
		e.log.Error("execution status of a proposal that does not exist", logging.ProposalID(id))
		return
	}
	pd.setExecutionStatus(e.now(), err)
	if err != nil {
		e.log.Error("proposal execution failed",
			logging.ProposalID(id),
			logging.String("action", ActionName(pd.Proposal.Action)),
			logging.Error(err),
		)
		return
	}
	e.log.Info("proposal executed",
		logging.ProposalID(id),
		logging.String("action", ActionName(pd.Proposal.Action)),
	)
}

// performAction returns done false when the outcome is only known later,
// as for the upgrade of the nervous system.
func (e *Engine) performAction(ctx context.Context, id uint64, action Action) (bool, error) {
	switch a := action.(type) {
	case *Motion:
		return true, nil
	case *ManageNervousSystemParameters:
		return true, e.performManageNervousSystemParameters(a)
	case *UpgradeSnsControlledCanister:
		return true, e.performUpgradeSnsControlledCanister(ctx, id, a)
	case *AddGenericNervousSystemFunction:
		return true, e.performAddGenericFunction(a)
	case *RemoveGenericNervousSystemFunction:
		return true, e.performRemoveGenericFunction(a)
	case *UpgradeSnsToNextVersion:
		if err := e.performUpgradeSnsToNextVersion(ctx, id); err != nil {
			return true, err
		}
		return false, nil
	case *ExecuteGenericNervousSystemFunction:
		return true, e.performExecuteGeneric(ctx, a)
	case *ManageSnsMetadata:
		e.performManageSnsMetadata(a)
		return true, nil
	}
	return true, newError(ErrorTypeInvalidProposal, "Unknown action")
}

func (e *Engine) performManageNervousSystemParameters(a *ManageNervousSystemParameters) error {
	merged, err := a.Parameters.inheritFrom(e.params())
	if err != nil {
		return newError(ErrorTypePreconditionFailed, "Could not merge nervous system parameters: %v", err)
	}
	if err := merged.validate(); err != nil {
		return newError(ErrorTypePreconditionFailed, "Failed to update nervous system parameters: %v", err)
	}
	e.state.Parameters = merged
	return nil
}

func (e *Engine) performAddGenericFunction(a *AddGenericNervousSystemFunction) error {
	if err := e.checkGenericFunctionCanBeAdded(a.Function, ErrorTypePreconditionFailed); err != nil {
		return err
	}
	f := *a.Function
	g := *f.Generic
	f.Generic = &g
	e.state.Functions[f.ID] = &f
	return nil
}

func (e *Engine) performRemoveGenericFunction(a *RemoveGenericNervousSystemFunction) error {
	f, ok := e.state.Functions[a.ID]
	if !ok || f.IsDeletionMarker() {
		return newError(ErrorTypeNotFound,
			"Failed to remove NervousSystemFunction. There is no NervousSystemFunction with id: %d", a.ID)
	}
	e.state.Functions[a.ID] = deletionMarker()
	return nil
}

func (e *Engine) performExecuteGeneric(ctx context.Context, a *ExecuteGenericNervousSystemFunction) error {
	f, ok := e.state.Functions[a.ID]
	if !ok || f.IsDeletionMarker() || f.Generic == nil {
		return newError(ErrorTypeNotFound, "There is no generic NervousSystemFunction with id: %d", a.ID)
	}
	g := *f.Generic
	err := e.withoutLock(func() error {
		_, err := e.env.CallCanister(ctx, g.TargetCanisterID, g.TargetMethodName, a.Payload)
		return err
	})
	if err != nil {
		return newError(ErrorTypeExternal, "Canister method call failed: %v", errors.Cause(err))
	}
	return nil
}

func (e *Engine) performManageSnsMetadata(a *ManageSnsMetadata) {
	md := e.state.Metadata
	var changed []string
	if a.Logo != nil {
		md.Logo = ptr(*a.Logo)
		changed = append(changed, "logo")
	}
	if a.URL != nil {
		md.URL = ptr(*a.URL)
		changed = append(changed, "url")
	}
	if a.Name != nil {
		md.Name = ptr(*a.Name)
		changed = append(changed, "name")
	}
	if a.Description != nil {
		md.Description = ptr(*a.Description)
		changed = append(changed, "description")
	}
	e.log.Info("sns metadata updated", logging.Strings("fields", changed))
}
