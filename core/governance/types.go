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
	"bytes"
	"encoding/hex"
	"fmt"

	"code.icreplica.io/replica/core/types"
)

// subaccountLength is the size of a ledger subaccount, and so of a neuron id.
const subaccountLength = 32

// Function ids of the native proposal actions. Ids of generic functions
// start at firstGenericFunctionID.
const (
	UnspecifiedFunctionID                     uint64 = 0
	MotionFunctionID                          uint64 = 1
	ManageNervousSystemParametersFunctionID   uint64 = 2
	UpgradeSnsControlledCanisterFunctionID    uint64 = 3
	AddGenericNervousSystemFunctionFunctionID uint64 = 4
	RemoveGenericNervousSystemFunctionID      uint64 = 5
	UpgradeSnsToNextVersionFunctionID         uint64 = 7
	ManageSnsMetadataFunctionID               uint64 = 8

	firstGenericFunctionID uint64 = 1000
)

// NeuronID is the ledger subaccount holding the stake of a neuron.
type NeuronID string

func NeuronIDFromBytes(b []byte) NeuronID {
	return NeuronID(b)
}

func NeuronIDFromHex(s string) (NeuronID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid neuron id %q: %w", s, err)
	}
	return NeuronID(b), nil
}

func (n NeuronID) Bytes() []byte {
	return []byte(n)
}

func (n NeuronID) String() string {
	return hex.EncodeToString([]byte(n))
}

func (n NeuronID) subaccount() ([]byte, error) {
	if len(n) != subaccountLength {
		return nil, newError(ErrorTypePreconditionFailed, "Invalid subaccount")
	}
	return []byte(n), nil
}

// PrincipalID identifies a user or a canister.
type PrincipalID string

func principalOf(c types.CanisterID) PrincipalID {
	return PrincipalID(c)
}

// Account is a ledger account. A nil subaccount is the default one.
type Account struct {
	Owner      PrincipalID
	Subaccount []byte
}

type Vote int32

const (
	VoteUnspecified Vote = iota
	VoteYes
	VoteNo
)

func (v Vote) String() string {
	switch v {
	case VoteYes:
		return "yes"
	case VoteNo:
		return "no"
	default:
		return "unspecified"
	}
}

func (v Vote) eligibleForRewards() bool {
	return v == VoteYes || v == VoteNo
}

type PermissionType int32

const (
	PermissionUnspecified PermissionType = iota
	PermissionConfigureDissolveState
	PermissionManagePrincipals
	PermissionSubmitProposal
	PermissionVote
	PermissionDisburse
	PermissionSplit
	PermissionMergeMaturity
	PermissionDisburseMaturity
)

// AllPermissions lists every permission a principal can hold on a neuron.
func AllPermissions() []PermissionType {
	return []PermissionType{
		PermissionConfigureDissolveState,
		PermissionManagePrincipals,
		PermissionSubmitProposal,
		PermissionVote,
		PermissionDisburse,
		PermissionSplit,
		PermissionMergeMaturity,
		PermissionDisburseMaturity,
	}
}

type Mode int32

const (
	ModeUnspecified Mode = iota
	ModeNormal
	ModePreInitializationSwap
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModePreInitializationSwap:
		return "pre_initialization_swap"
	default:
		return "unspecified"
	}
}

type ProposalDecisionStatus int32

const (
	ProposalStatusUnspecified ProposalDecisionStatus = iota
	ProposalStatusOpen
	ProposalStatusRejected
	ProposalStatusAdopted
	ProposalStatusExecuted
	ProposalStatusFailed
)

func (s ProposalDecisionStatus) String() string {
	switch s {
	case ProposalStatusOpen:
		return "open"
	case ProposalStatusRejected:
		return "rejected"
	case ProposalStatusAdopted:
		return "adopted"
	case ProposalStatusExecuted:
		return "executed"
	case ProposalStatusFailed:
		return "failed"
	default:
		return "unspecified"
	}
}

type ProposalRewardStatus int32

const (
	RewardStatusUnspecified ProposalRewardStatus = iota
	RewardStatusAcceptVotes
	RewardStatusReadyToSettle
	RewardStatusSettled
	RewardStatusIneligible
)

// DissolveState of a neuron. A non dissolving neuron has a dissolve delay,
// a dissolving one the time at which it becomes dissolved.
type DissolveState struct {
	Dissolving                    bool
	DissolveDelaySeconds          uint64
	WhenDissolvedTimestampSeconds uint64
}

func NotDissolving(delay uint64) DissolveState {
	return DissolveState{DissolveDelaySeconds: delay}
}

func DissolvingAt(when uint64) DissolveState {
	return DissolveState{Dissolving: true, WhenDissolvedTimestampSeconds: when}
}

type NeuronPermission struct {
	Principal       PrincipalID
	PermissionTypes []PermissionType
}

type Neuron struct {
	ID                              NeuronID
	Permissions                     []NeuronPermission
	CachedNeuronStakeE8s            uint64
	NeuronFeesE8s                   uint64
	CreatedTimestampSeconds         uint64
	AgingSinceTimestampSeconds      uint64
	Followees                       map[uint64][]NeuronID
	MaturityE8sEquivalent           uint64
	DissolveState                   DissolveState
	VotingPowerPercentageMultiplier uint64
	SourceNNSNeuronID               uint64
}

type Ballot struct {
	Vote                 Vote
	VotingPower          uint64
	CastTimestampSeconds uint64
}

type Tally struct {
	TimestampSeconds uint64
	Yes              uint64
	No               uint64
	Total            uint64
}

type WaitForQuietState struct {
	CurrentDeadlineTimestampSeconds uint64
}

type Proposal struct {
	Title   string
	Summary string
	URL     string
	Action  Action
}

type ProposalData struct {
	Action                              uint64
	ID                                  uint64
	Proposer                            NeuronID
	RejectCostE8s                       uint64
	Proposal                            *Proposal
	ProposalCreationTimestampSeconds    uint64
	Ballots                             map[NeuronID]*Ballot
	LatestTally                         *Tally
	DecidedTimestampSeconds             uint64
	ExecutedTimestampSeconds            uint64
	FailedTimestampSeconds              uint64
	FailureReason                       *Error
	RewardEventRound                    uint64
	WaitForQuietState                   *WaitForQuietState
	PayloadTextRendering                string
	IsEligibleForRewards                bool
	InitialVotingPeriodSeconds          uint64
	WaitForQuietDeadlineIncreaseSeconds uint64
}

type GenericNervousSystemFunction struct {
	TargetCanisterID    types.CanisterID
	TargetMethodName    string
	ValidatorCanisterID types.CanisterID
	ValidatorMethodName string
}

type NervousSystemFunction struct {
	ID          uint64
	Name        string
	Description string
	Generic     *GenericNervousSystemFunction
}

const deletionMarkerName = "DELETION_MARKER"

// deletionMarker replaces a removed generic function so its id is never
// handed out again.
func deletionMarker() *NervousSystemFunction {
	return &NervousSystemFunction{Name: deletionMarkerName}
}

func (f *NervousSystemFunction) IsDeletionMarker() bool {
	return f.ID == 0 && f.Name == deletionMarkerName && f.Generic == nil
}

type Version struct {
	RootWasmHash       []byte
	GovernanceWasmHash []byte
	LedgerWasmHash     []byte
	SwapWasmHash       []byte
	ArchiveWasmHash    []byte
	IndexWasmHash      []byte
}

func (v *Version) Equal(o *Version) bool {
	if v == nil || o == nil {
		return v == o
	}
	return bytes.Equal(v.RootWasmHash, o.RootWasmHash) &&
		bytes.Equal(v.GovernanceWasmHash, o.GovernanceWasmHash) &&
		bytes.Equal(v.LedgerWasmHash, o.LedgerWasmHash) &&
		bytes.Equal(v.SwapWasmHash, o.SwapWasmHash) &&
		bytes.Equal(v.ArchiveWasmHash, o.ArchiveWasmHash) &&
		bytes.Equal(v.IndexWasmHash, o.IndexWasmHash)
}

type UpgradeInProgress struct {
	TargetVersion       *Version
	MarkFailedAtSeconds uint64
	CheckingUpgradeLock uint64
	ProposalID          uint64
}

type RewardEvent struct {
	Round                    uint64
	ActualTimestampSeconds   uint64
	SettledProposals         []uint64
	DistributedE8sEquivalent uint64
}

// NeuronInFlightCommand records a command holding a neuron lock.
type NeuronInFlightCommand struct {
	TimestampSeconds uint64
	Command          string
}

type SnsMetadata struct {
	Logo        *string
	URL         *string
	Name        *string
	Description *string
}

// State is everything governance persists.
type State struct {
	RootCanisterID           types.CanisterID
	LedgerCanisterID         types.CanisterID
	SwapCanisterID           types.CanisterID
	Neurons                  map[NeuronID]*Neuron
	Proposals                map[uint64]*ProposalData
	Parameters               *NervousSystemParameters
	LatestRewardEvent        *RewardEvent
	InFlightCommands         map[NeuronID]*NeuronInFlightCommand
	GenesisTimestampSeconds  uint64
	Functions                map[uint64]*NervousSystemFunction
	Mode                     Mode
	DeployedVersion          *Version
	PendingVersion           *UpgradeInProgress
	Metadata                 *SnsMetadata
	InitializationParameters string
}
