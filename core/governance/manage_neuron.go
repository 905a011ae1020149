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

// ManageNeuron runs a command of caller on a neuron.
func (e *Engine) ManageNeuron(ctx context.Context, caller PrincipalID, req *ManageNeuron) (*ManageNeuronResponse, error) {
	if req == nil || req.Command == nil {
		return nil, newError(ErrorTypeInvalidCommand, "ManageNeuron must have a command")
	}
	defer e.m.observeCommand(req.Command.commandName(), time.Now())

	e.mu.Lock()
	defer e.mu.Unlock()

	if !allowedInMode(e.state.Mode, req.Command, e.isSwap(caller)) {
		return nil, newError(ErrorTypePreconditionFailed,
			"Command %s is not allowed in mode %s", req.Command.commandName(), e.state.Mode)
	}

	// claim finds its neuron through the memo and controller
	if c, ok := req.Command.(*ClaimOrRefresh); ok && c.MemoAndController != nil {
		return e.claimOrRefreshByMemo(ctx, caller, c.MemoAndController)
	}

	if len(req.Subaccount) != subaccountLength {
		return nil, newError(ErrorTypeInvalidNeuronID, "Invalid neuron id of %d bytes", len(req.Subaccount))
	}
	id := NeuronIDFromBytes(req.Subaccount)

	// every command holds the neuron for its whole run, including the
	// stretches where the mutex is released around ledger calls
	release, err := e.lockNeuron(id, req.Command.commandName())
	if err != nil {
		return nil, err
	}
	defer release()

	resp := &ManageNeuronResponse{Command: req.Command.commandName()}
	switch c := req.Command.(type) {
	case *Configure:
		err = e.configureNeuron(id, caller, c)
	case *Disburse:
		resp.TransferBlockHeight, err = e.disburseNeuron(ctx, id, caller, c)
	case *Split:
		resp.CreatedNeuronID, err = e.splitNeuron(ctx, id, caller, c)
	case *MergeMaturity:
		resp.MergedMaturityE8s, resp.NewStakeE8s, err = e.mergeMaturity(ctx, id, caller, c)
	case *DisburseMaturity:
		resp.AmountDisbursedE8s, resp.TransferBlockHeight, err = e.disburseMaturity(ctx, id, caller, c)
	case *Follow:
		err = e.follow(id, caller, c)
	case *MakeProposal:
		resp.ProposalID, err = e.makeProposal(ctx, id, caller, c.Proposal)
	case *RegisterVote:
		err = e.registerVote(ctx, id, caller, c)
	case *ClaimOrRefresh:
		err = e.refreshNeuron(ctx, id)
		resp.RefreshedNeuronID = id
	case *AddNeuronPermissions:
		err = e.addNeuronPermissions(id, caller, c)
	case *RemoveNeuronPermissions:
		err = e.removeNeuronPermissions(id, caller, c)
	default:
		err = newError(ErrorTypeInvalidCommand, "Unknown command")
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *Engine) configureNeuron(id NeuronID, caller PrincipalID, c *Configure) error {
	n, err := e.getNeuron(id)
	if err != nil {
		return err
	}
	if err := n.checkAuthorized(caller, PermissionConfigureDissolveState); err != nil {
		return err
	}
	return n.configure(e.now(), c.Operation, val(e.params().MaxDissolveDelaySeconds))
}

func (e *Engine) mintingAccount() Account {
	return Account{Owner: principalOf(e.env.CanisterID())}
}

func (e *Engine) neuronAccount(id NeuronID) Account {
	return Account{Owner: principalOf(e.env.CanisterID()), Subaccount: id.Bytes()}
}

func (e *Engine) transfer(ctx context.Context, amount, fee uint64, from []byte, to Account, memo uint64) (uint64, error) {
	var height uint64
	err := e.withoutLock(func() error {
		var err error
		height, err = e.ledger.TransferFunds(ctx, amount, fee, from, to, memo)
		return err
	})
	if err != nil {
		return 0, externalError(err)
	}
	return height, nil
}

func (e *Engine) balanceOf(ctx context.Context, account Account) (uint64, error) {
	var balance uint64
	err := e.withoutLock(func() error {
		var err error
		balance, err = e.ledger.AccountBalance(ctx, account)
		return err
	})
	if err != nil {
		return 0, externalError(err)
	}
	return balance, nil
}

func (e *Engine) disburseNeuron(ctx context.Context, id NeuronID, caller PrincipalID, c *Disburse) (uint64, error) {
	n, err := e.getNeuron(id)
	if err != nil {
		return 0, err
	}
	if err := n.checkAuthorized(caller, PermissionDisburse); err != nil {
		return 0, err
	}
	now := e.now()
	if n.state(now) != NeuronStateDissolved {
		return 0, newError(ErrorTypePreconditionFailed, "Neuron %s is NOT dissolved. It is in state %s", id, n.state(now))
	}
	subaccount, err := id.subaccount()
	if err != nil {
		return 0, err
	}
	fee := val(e.params().TransactionFeeE8s)
	fees := n.NeuronFeesE8s
	amount := n.stakeE8s()
	if c.Amount != nil {
		amount = *c.Amount
		if amount > fees {
			amount -= fees
		} else {
			amount = 0
		}
	}
	to := Account{Owner: caller}
	if c.ToAccount != nil {
		to = *c.ToAccount
	}

	// fees below the transaction fee stay on the neuron, burning them would
	// cost more than they are worth
	if fees > fee {
		if _, err := e.transfer(ctx, fees, 0, subaccount, e.mintingAccount(), now); err != nil {
			return 0, err
		}
	}
	n.CachedNeuronStakeE8s = subSat(n.CachedNeuronStakeE8s, fees)
	n.NeuronFeesE8s = 0

	if amount > fee {
		amount -= fee
	}
	height, err := e.transfer(ctx, amount, fee, subaccount, to, now)
	if err != nil {
		return 0, err
	}
	n.CachedNeuronStakeE8s = subSat(n.CachedNeuronStakeE8s, amount+fee)

	e.log.Debug("neuron disbursed",
		logging.NeuronID(id.String()),
		logging.Uint64("amount-e8s", amount),
		logging.Uint64("block-height", height),
	)
	return height, nil
}

func (e *Engine) splitNeuron(ctx context.Context, id NeuronID, caller PrincipalID, c *Split) (NeuronID, error) {
	parent, err := e.getNeuron(id)
	if err != nil {
		return "", err
	}
	if err := e.checkHeapCanGrow(); err != nil {
		return "", err
	}
	if err := parent.checkAuthorized(caller, PermissionSplit); err != nil {
		return "", err
	}

	minStake := val(e.params().NeuronMinimumStakeE8s)
	fee := val(e.params().TransactionFeeE8s)
	if c.AmountE8s < minStake+fee {
		return "", newError(ErrorTypeInsufficientFunds,
			"Trying to split a neuron with argument %d e8s. This is too little: at the minimum, one needs the minimum neuron stake, which is %d e8s, plus the transaction fee, which is %d.",
			c.AmountE8s, minStake, fee)
	}
	if parent.stakeE8s() < minStake+c.AmountE8s {
		return "", newError(ErrorTypeInsufficientFunds,
			"Trying to split %d e8s out of neuron %s. This is not allowed, because the parent has stake %d e8s. If the requested amount was subtracted from it, there would be less than the minimum allowed stake, which is %d e8s.",
			c.AmountE8s, id, parent.stakeE8s(), minStake)
	}
	subaccount, err := id.subaccount()
	if err != nil {
		return "", err
	}

	childID := ComputeNeuronID(caller, c.Memo)
	if _, ok := e.state.Neurons[childID]; ok {
		return "", newError(ErrorTypePreconditionFailed,
			"There is already a neuron with id: %s", childID)
	}
	releaseChild, err := e.lockNeuron(childID, c.commandName())
	if err != nil {
		return "", err
	}
	defer releaseChild()

	now := e.now()
	child := &Neuron{
		ID:                              childID,
		Permissions:                     clonePermissions(parent.Permissions),
		CreatedTimestampSeconds:         now,
		AgingSinceTimestampSeconds:      parent.AgingSinceTimestampSeconds,
		Followees:                       cloneFollowees(parent.Followees),
		DissolveState:                   parent.DissolveState,
		VotingPowerPercentageMultiplier: parent.VotingPowerPercentageMultiplier,
	}
	if err := e.addNeuron(child); err != nil {
		return "", err
	}

	if _, err := e.transfer(ctx, c.AmountE8s-fee, fee, subaccount, e.neuronAccount(childID), c.Memo); err != nil {
		e.log.Error("could not transfer the stake of a split neuron",
			logging.NeuronID(id.String()),
			logging.Error(err),
		)
		e.removeNeuron(childID)
		return "", err
	}

	parent.CachedNeuronStakeE8s = subSat(parent.CachedNeuronStakeE8s, c.AmountE8s)
	child.CachedNeuronStakeE8s = c.AmountE8s - fee
	return childID, nil
}

func checkPercentage(p uint32) error {
	if p == 0 || p > 100 {
		return newError(ErrorTypePreconditionFailed, "The percentage must be between 1 and 100 (inclusive).")
	}
	return nil
}

func (e *Engine) mergeMaturity(ctx context.Context, id NeuronID, caller PrincipalID, c *MergeMaturity) (uint64, uint64, error) {
	n, err := e.getNeuron(id)
	if err != nil {
		return 0, 0, err
	}
	if err := n.checkAuthorized(caller, PermissionMergeMaturity); err != nil {
		return 0, 0, err
	}
	if err := checkPercentage(c.PercentageToMerge); err != nil {
		return 0, 0, err
	}
	fee := val(e.params().TransactionFeeE8s)
	amount := n.MaturityE8sEquivalent / 100 * uint64(c.PercentageToMerge)
	amount += n.MaturityE8sEquivalent % 100 * uint64(c.PercentageToMerge) / 100
	if amount <= fee {
		return 0, 0, newError(ErrorTypePreconditionFailed,
			"Tried to merge %d e8s, but can't merge an amount less than the transaction fee of %d e8s", amount, fee)
	}

	if _, err := e.transfer(ctx, amount, 0, nil, e.neuronAccount(id), e.env.RandomUint64()); err != nil {
		return 0, 0, err
	}
	n.MaturityE8sEquivalent -= amount
	n.updateStake(n.CachedNeuronStakeE8s+amount, e.now())
	return amount, n.CachedNeuronStakeE8s, nil
}

func (e *Engine) disburseMaturity(ctx context.Context, id NeuronID, caller PrincipalID, c *DisburseMaturity) (uint64, uint64, error) {
	n, err := e.getNeuron(id)
	if err != nil {
		return 0, 0, err
	}
	if err := n.checkAuthorized(caller, PermissionDisburseMaturity); err != nil {
		return 0, 0, err
	}
	if err := checkPercentage(c.PercentageToDisburse); err != nil {
		return 0, 0, err
	}
	fee := val(e.params().TransactionFeeE8s)
	amount := n.MaturityE8sEquivalent / 100 * uint64(c.PercentageToDisburse)
	amount += n.MaturityE8sEquivalent % 100 * uint64(c.PercentageToDisburse) / 100
	if amount < fee {
		return 0, 0, newError(ErrorTypePreconditionFailed,
			"Tried to disburse %d e8s, but can't disburse an amount less than the transaction fee of %d e8s", amount, fee)
	}
	to := Account{Owner: caller}
	if c.ToAccount != nil {
		to = *c.ToAccount
	}

	height, err := e.transfer(ctx, amount, 0, nil, to, e.env.RandomUint64())
	if err != nil {
		return 0, 0, err
	}
	n.MaturityE8sEquivalent -= amount
	return amount, height, nil
}

// isRegisteredFunction reports whether fn can be voted and followed on.
func (e *Engine) isRegisteredFunction(fn uint64) bool {
	switch fn {
	case UnspecifiedFunctionID, MotionFunctionID, ManageNervousSystemParametersFunctionID,
		UpgradeSnsControlledCanisterFunctionID, AddGenericNervousSystemFunctionFunctionID,
		RemoveGenericNervousSystemFunctionID, UpgradeSnsToNextVersionFunctionID,
		ManageSnsMetadataFunctionID:
		return true
	}
	f, ok := e.state.Functions[fn]
	return ok && !f.IsDeletionMarker()
}

func (e *Engine) follow(id NeuronID, caller PrincipalID, c *Follow) error {
	n, err := e.getNeuron(id)
	if err != nil {
		return err
	}
	if err := n.checkAuthorized(caller, PermissionVote); err != nil {
		return err
	}
	if uint64(len(c.Followees)) > val(e.params().MaxFolloweesPerFunction) {
		return newError(ErrorTypeInvalidCommand, "Too many followees.")
	}
	if !e.isRegisteredFunction(c.FunctionID) {
		return newError(ErrorTypeNotFound, "Function with id: %d is not present among the current set of functions.", c.FunctionID)
	}

	if old, ok := n.Followees[c.FunctionID]; ok {
		e.removeFolloweeIndex(c.FunctionID, id, old)
	}
	if len(c.Followees) == 0 {
		delete(n.Followees, c.FunctionID)
		return nil
	}
	if n.Followees == nil {
		n.Followees = map[uint64][]NeuronID{}
	}
	followees := append([]NeuronID(nil), c.Followees...)
	n.Followees[c.FunctionID] = followees
	e.addFolloweeIndex(c.FunctionID, id, followees)
	return nil
}

func (e *Engine) claimOrRefreshByMemo(ctx context.Context, caller PrincipalID, mc *MemoAndController) (*ManageNeuronResponse, error) {
	controller := caller
	if mc.Controller != nil {
		controller = *mc.Controller
	}
	id := ComputeNeuronID(controller, mc.Memo)

	release, err := e.lockNeuron(id, (&ClaimOrRefresh{}).commandName())
	if err != nil {
		return nil, err
	}
	defer release()

	if _, ok := e.state.Neurons[id]; ok {
		err = e.refreshNeuron(ctx, id)
	} else {
		err = e.claimNeuron(ctx, id, controller)
	}
	if err != nil {
		return nil, err
	}
	return &ManageNeuronResponse{
		Command:           (&ClaimOrRefresh{}).commandName(),
		RefreshedNeuronID: id,
	}, nil
}

func (e *Engine) claimNeuron(ctx context.Context, id NeuronID, controller PrincipalID) error {
	if err := e.checkHeapCanGrow(); err != nil {
		return err
	}
	now := e.now()
	p := e.params()
	var followees map[uint64][]NeuronID
	if p.DefaultFollowees != nil {
		followees = cloneFollowees(p.DefaultFollowees.Followees)
	}
	n := &Neuron{
		ID: id,
		Permissions: []NeuronPermission{{
			Principal:       controller,
			PermissionTypes: append([]PermissionType(nil), p.NeuronClaimerPermissions.Permissions...),
		}},
		CreatedTimestampSeconds:         now,
		AgingSinceTimestampSeconds:      now,
		Followees:                       followees,
		DissolveState:                   NotDissolving(0),
		VotingPowerPercentageMultiplier: DefaultVotingPowerPercentageMultiplier,
	}
	// the neuron is added first so that concurrent claims of the same id
	// fail, and removed again when the stake is not there
	if err := e.addNeuron(n); err != nil {
		return err
	}

	balance, err := e.balanceOf(ctx, e.neuronAccount(id))
	if err != nil {
		e.removeNeuron(id)
		return err
	}
	if minStake := val(p.NeuronMinimumStakeE8s); balance < minStake {
		e.removeNeuron(id)
		return newError(ErrorTypeInsufficientFunds,
			"Account does not have enough funds to stake a neuron. Please make sure that account has at least %d e8s (was %d e8s)", minStake, balance)
	}
	n.updateStake(balance, e.now())

	e.log.Info("neuron claimed",
		logging.NeuronID(id.String()),
		logging.String("controller", string(controller)),
		logging.Uint64("stake-e8s", balance),
	)
	return nil
}

func (e *Engine) refreshNeuron(ctx context.Context, id NeuronID) error {
	n, err := e.getNeuron(id)
	if err != nil {
		return err
	}
	balance, err := e.balanceOf(ctx, e.neuronAccount(id))
	if err != nil {
		return err
	}
	if minStake := val(e.params().NeuronMinimumStakeE8s); balance < minStake {
		return newError(ErrorTypeInsufficientFunds,
			"Account does not have enough funds to refresh a neuron. Please make sure that account has at least %d e8s (was %d e8s)", minStake, balance)
	}
	switch {
	case n.CachedNeuronStakeE8s > balance:
		e.log.Warn("the cached stake of a neuron is larger than its balance",
			logging.NeuronID(id.String()),
			logging.Uint64("cached-e8s", n.CachedNeuronStakeE8s),
			logging.Uint64("balance-e8s", balance),
		)
		n.updateStake(balance, e.now())
	case n.CachedNeuronStakeE8s < balance:
		n.updateStake(balance, e.now())
	}
	return nil
}

// authorizedToChangePermissions lets a principal with ManagePrincipals
// change anything, and others only pass on or drop permissions they hold.
func authorizedToChangePermissions(n *Neuron, caller PrincipalID, l *NeuronPermissionList) error {
	if n.isAuthorized(caller, PermissionManagePrincipals) || n.isAuthorizedWithPermissions(caller, l) {
		return nil
	}
	return newError(ErrorTypeNotAuthorized,
		"Caller %q is not authorized to change the permissions of neuron %s", caller, n.ID)
}

func (e *Engine) addNeuronPermissions(id NeuronID, caller PrincipalID, c *AddNeuronPermissions) error {
	n, err := e.getNeuron(id)
	if err != nil {
		return err
	}
	if c.PermissionsToAdd == nil || len(c.PermissionsToAdd.Permissions) == 0 {
		return newError(ErrorTypeInvalidCommand, "AddNeuronPermissions command must provide permissions to add")
	}
	if len(c.PermissionsToAdd.Permissions) > len(AllPermissions()) {
		return newError(ErrorTypeInvalidCommand, "AddNeuronPermissions command provided more permissions than exist")
	}
	if err := authorizedToChangePermissions(n, caller, c.PermissionsToAdd); err != nil {
		return err
	}
	if err := e.params().checkPermissionsAreGrantable(c.PermissionsToAdd); err != nil {
		return err
	}
	if c.PrincipalID == "" {
		return newError(ErrorTypeInvalidCommand, "AddNeuronPermissions command must provide a PrincipalId to add permissions to")
	}
	if n.permissionsOf(c.PrincipalID) == nil &&
		uint64(len(n.Permissions)) >= val(e.params().MaxNumberOfPrincipalsPerNeuron) {
		return newError(ErrorTypePreconditionFailed,
			"Cannot add permission to neuron. Max number of principals reached %d", val(e.params().MaxNumberOfPrincipalsPerNeuron))
	}

	n.addPermissionsForPrincipal(c.PrincipalID, c.PermissionsToAdd.Permissions)
	e.addPrincipalIndex(c.PrincipalID, id)
	return nil
}

func (e *Engine) removeNeuronPermissions(id NeuronID, caller PrincipalID, c *RemoveNeuronPermissions) error {
	n, err := e.getNeuron(id)
	if err != nil {
		return err
	}
	if c.PermissionsToRemove == nil || len(c.PermissionsToRemove.Permissions) == 0 {
		return newError(ErrorTypeInvalidCommand, "RemoveNeuronPermissions command must provide permissions to remove")
	}
	if c.PrincipalID == "" {
		return newError(ErrorTypeInvalidCommand, "RemoveNeuronPermissions command must provide a PrincipalId to remove permissions from")
	}
	if caller != c.PrincipalID {
		if err := n.checkAuthorized(caller, PermissionManagePrincipals); err != nil {
			return err
		}
	}

	allRemoved, err := n.removePermissionsForPrincipal(c.PrincipalID, c.PermissionsToRemove.Permissions)
	if err != nil {
		return err
	}
	if allRemoved {
		e.removePrincipalIndex(c.PrincipalID, id)
	}
	return nil
}

func subSat(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func clonePermissions(ps []NeuronPermission) []NeuronPermission {
	out := make([]NeuronPermission, 0, len(ps))
	for _, p := range ps {
		out = append(out, NeuronPermission{
			Principal:       p.Principal,
			PermissionTypes: append([]PermissionType(nil), p.PermissionTypes...),
		})
	}
	return out
}

func cloneFollowees(f map[uint64][]NeuronID) map[uint64][]NeuronID {
	if f == nil {
		return nil
	}
	out := make(map[uint64][]NeuronID, len(f))
	for fn, ids := range f {
		out[fn] = append([]NeuronID(nil), ids...)
	}
	return out
}
