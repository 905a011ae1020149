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

// ManageNeuron is a command issued by a principal on one neuron. The
// subaccount is the neuron id.
type ManageNeuron struct {
	Subaccount []byte
	Command    Command
}

type Command interface {
	commandName() string
}

type Configure struct {
	Operation ConfigureOperation
}

type ConfigureOperation interface {
	isConfigureOperation()
}

type IncreaseDissolveDelay struct {
	AdditionalDissolveDelaySeconds uint32
}

type StartDissolving struct{}

type StopDissolving struct{}

type SetDissolveTimestamp struct {
	DissolveTimestampSeconds uint64
}

// Disburse sends the stake of a dissolved neuron to an account. A nil
// amount disburses the whole stake, a nil account is the caller's.
type Disburse struct {
	Amount    *uint64
	ToAccount *Account
}

// Split moves AmountE8s of the stake into a new neuron. Memo derives the
// id of the new neuron.
type Split struct {
	AmountE8s uint64
	Memo      uint64
}

type MergeMaturity struct {
	PercentageToMerge uint32
}

type DisburseMaturity struct {
	PercentageToDisburse uint32
	ToAccount            *Account
}

// Follow replaces the followees of the neuron for one function. An empty
// list removes them.
type Follow struct {
	FunctionID uint64
	Followees  []NeuronID
}

type MakeProposal struct {
	Proposal *Proposal
}

type RegisterVote struct {
	ProposalID uint64
	Vote       Vote
}

// ClaimOrRefresh claims a neuron for a stake transferred to its
// subaccount, or updates the cached stake of an existing one. Without
// MemoAndController the neuron of ManageNeuron.Subaccount is refreshed.
type ClaimOrRefresh struct {
	MemoAndController *MemoAndController
}

// MemoAndController identifies a neuron by the memo used to stake it. A
// nil controller is the caller.
type MemoAndController struct {
	Memo       uint64
	Controller *PrincipalID
}

type AddNeuronPermissions struct {
	PrincipalID      PrincipalID
	PermissionsToAdd *NeuronPermissionList
}

type RemoveNeuronPermissions struct {
	PrincipalID         PrincipalID
	PermissionsToRemove *NeuronPermissionList
}

func (*Configure) commandName() string               { return "configure" }
func (*Disburse) commandName() string                { return "disburse" }
func (*Split) commandName() string                   { return "split" }
func (*MergeMaturity) commandName() string           { return "merge_maturity" }
func (*DisburseMaturity) commandName() string        { return "disburse_maturity" }
func (*Follow) commandName() string                  { return "follow" }
func (*MakeProposal) commandName() string            { return "make_proposal" }
func (*RegisterVote) commandName() string            { return "register_vote" }
func (*ClaimOrRefresh) commandName() string          { return "claim_or_refresh" }
func (*AddNeuronPermissions) commandName() string    { return "add_neuron_permissions" }
func (*RemoveNeuronPermissions) commandName() string { return "remove_neuron_permissions" }

func (*IncreaseDissolveDelay) isConfigureOperation() {}
func (*StartDissolving) isConfigureOperation()       {}
func (*StopDissolving) isConfigureOperation()        {}
func (*SetDissolveTimestamp) isConfigureOperation()  {}

// ManageNeuronResponse carries the outcome of a command. Only the fields
// of the executed command are set.
type ManageNeuronResponse struct {
	Command             string
	TransferBlockHeight uint64
	CreatedNeuronID     NeuronID
	RefreshedNeuronID   NeuronID
	ProposalID          uint64
	MergedMaturityE8s   uint64
	NewStakeE8s         uint64
	AmountDisbursedE8s  uint64
}

// allowedInMode reports whether cmd may run in mode. Before the
// decentralization swap completes, neurons can only take part in
// governance, and only the swap can claim them.
func allowedInMode(mode Mode, cmd Command, callerIsSwap bool) bool {
	if mode != ModePreInitializationSwap {
		return true
	}
	switch cmd.(type) {
	case *Follow, *MakeProposal, *RegisterVote, *AddNeuronPermissions, *RemoveNeuronPermissions:
		return true
	case *ClaimOrRefresh:
		return callerIsSwap
	default:
		return false
	}
}
