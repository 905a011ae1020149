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
package store

import (
	"fmt"
	"sort"

	"code.icreplica.io/replica/core/governance"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/libs/wire"

	"google.golang.org/protobuf/encoding/protowire"
)

// Action kinds of an encoded proposal, numbered after their function ids.
const (
	actionMotion                    protowire.Number = 1
	actionManageParameters          protowire.Number = 2
	actionUpgradeControlledCanister protowire.Number = 3
	actionAddFunction               protowire.Number = 4
	actionRemoveFunction            protowire.Number = 5
	actionUpgradeToNextVersion      protowire.Number = 7
	actionManageMetadata            protowire.Number = 8
	actionExecuteFunction           protowire.Number = 9
)

func sortedKeys[K ~uint64 | ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func encodeState(s *governance.State) []byte {
	e := wire.NewEncoder().
		PutString(1, string(s.RootCanisterID)).
		PutString(2, string(s.LedgerCanisterID)).
		PutString(3, string(s.SwapCanisterID))
	for _, id := range sortedKeys(s.Neurons) {
		e.PutMessage(4, encodeNeuron(s.Neurons[id]))
	}
	for _, id := range sortedKeys(s.Proposals) {
		e.PutMessage(5, encodeProposalData(s.Proposals[id]))
	}
	if s.Parameters != nil {
		e.PutMessage(6, encodeParameters(s.Parameters))
	}
	if s.LatestRewardEvent != nil {
		e.PutMessage(7, encodeRewardEvent(s.LatestRewardEvent))
	}
	for _, id := range sortedKeys(s.InFlightCommands) {
		c := s.InFlightCommands[id]
		e.PutMessage(8, wire.NewEncoder().
			PutBytes(1, id.Bytes()).
			PutUint64(2, c.TimestampSeconds).
			PutString(3, c.Command).
			Bytes())
	}
	e.PutUint64(9, s.GenesisTimestampSeconds)
	for _, id := range sortedKeys(s.Functions) {
		f := s.Functions[id]
		// a deletion marker has no id of its own
		e.PutMessage(10, wire.NewEncoder().
			PutUint64(1, id).
			PutMessage(2, encodeFunction(f)).
			Bytes())
	}
	e.PutUint64(11, uint64(s.Mode))
	if s.DeployedVersion != nil {
		e.PutMessage(12, encodeVersion(s.DeployedVersion))
	}
	if pv := s.PendingVersion; pv != nil {
		pe := wire.NewEncoder()
		if pv.TargetVersion != nil {
			pe.PutMessage(1, encodeVersion(pv.TargetVersion))
		}
		e.PutMessage(13, pe.
			PutUint64(2, pv.MarkFailedAtSeconds).
			PutUint64(3, pv.CheckingUpgradeLock).
			PutUint64(4, pv.ProposalID).
			Bytes())
	}
	if s.Metadata != nil {
		e.PutMessage(14, encodeMetadata(*s.Metadata))
	}
	e.PutString(15, s.InitializationParameters)
	return e.Bytes()
}

func decodeState(b []byte) (*governance.State, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid governance state: %w", err)
	}
	s := &governance.State{
		RootCanisterID:           types.CanisterID(f.String(1)),
		LedgerCanisterID:         types.CanisterID(f.String(2)),
		SwapCanisterID:           types.CanisterID(f.String(3)),
		Neurons:                  map[governance.NeuronID]*governance.Neuron{},
		Proposals:                map[uint64]*governance.ProposalData{},
		InFlightCommands:         map[governance.NeuronID]*governance.NeuronInFlightCommand{},
		GenesisTimestampSeconds:  f.Uint64(9),
		Functions:                map[uint64]*governance.NervousSystemFunction{},
		Mode:                     governance.Mode(f.Uint64(11)),
		InitializationParameters: f.String(15),
	}
	for _, raw := range f.Messages(4) {
		n, err := decodeNeuron(raw)
		if err != nil {
			return nil, err
		}
		s.Neurons[n.ID] = n
	}
	for _, raw := range f.Messages(5) {
		pd, err := decodeProposalData(raw)
		if err != nil {
			return nil, err
		}
		s.Proposals[pd.ID] = pd
	}
	if f.Has(6) {
		if s.Parameters, err = decodeParameters(f.Bytes(6)); err != nil {
			return nil, err
		}
	}
	if f.Has(7) {
		if s.LatestRewardEvent, err = decodeRewardEvent(f.Bytes(7)); err != nil {
			return nil, err
		}
	}
	for _, raw := range f.Messages(8) {
		cf, err := wire.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid in-flight command: %w", err)
		}
		s.InFlightCommands[governance.NeuronIDFromBytes(cf.Bytes(1))] = &governance.NeuronInFlightCommand{
			TimestampSeconds: cf.Uint64(2),
			Command:          cf.String(3),
		}
	}
	for _, raw := range f.Messages(10) {
		ff, err := wire.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid function entry: %w", err)
		}
		fn, err := decodeFunction(ff.Bytes(2))
		if err != nil {
			return nil, err
		}
		s.Functions[ff.Uint64(1)] = fn
	}
	if f.Has(12) {
		if s.DeployedVersion, err = decodeVersion(f.Bytes(12)); err != nil {
			return nil, err
		}
	}
	if f.Has(13) {
		pf, err := wire.Parse(f.Bytes(13))
		if err != nil {
			return nil, fmt.Errorf("invalid pending version: %w", err)
		}
		pv := &governance.UpgradeInProgress{
			MarkFailedAtSeconds: pf.Uint64(2),
			CheckingUpgradeLock: pf.Uint64(3),
			ProposalID:          pf.Uint64(4),
		}
		if pf.Has(1) {
			if pv.TargetVersion, err = decodeVersion(pf.Bytes(1)); err != nil {
				return nil, err
			}
		}
		s.PendingVersion = pv
	}
	if f.Has(14) {
		md, err := decodeMetadata(f.Bytes(14))
		if err != nil {
			return nil, err
		}
		s.Metadata = &md
	}
	return s, nil
}

func encodeNeuron(n *governance.Neuron) []byte {
	e := wire.NewEncoder().PutBytes(1, n.ID.Bytes())
	for _, p := range n.Permissions {
		e.PutMessage(2, wire.NewEncoder().
			PutString(1, string(p.Principal)).
			PutUint64s(2, permissionsToUint64s(p.PermissionTypes)).
			Bytes())
	}
	e.PutUint64(3, n.CachedNeuronStakeE8s).
		PutUint64(4, n.NeuronFeesE8s).
		PutUint64(5, n.CreatedTimestampSeconds).
		PutUint64(6, n.AgingSinceTimestampSeconds)
	for _, fn := range sortedKeys(n.Followees) {
		e.PutMessage(7, encodeFollowees(fn, n.Followees[fn]))
	}
	e.PutUint64(8, n.MaturityE8sEquivalent).
		PutBool(9, n.DissolveState.Dissolving).
		PutUint64(10, n.DissolveState.DissolveDelaySeconds).
		PutUint64(11, n.DissolveState.WhenDissolvedTimestampSeconds).
		PutUint64(12, n.VotingPowerPercentageMultiplier).
		PutUint64(13, n.SourceNNSNeuronID)
	return e.Bytes()
}

func decodeNeuron(b []byte) (*governance.Neuron, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid neuron: %w", err)
	}
	n := &governance.Neuron{
		ID:                         governance.NeuronIDFromBytes(f.Bytes(1)),
		CachedNeuronStakeE8s:       f.Uint64(3),
		NeuronFeesE8s:              f.Uint64(4),
		CreatedTimestampSeconds:    f.Uint64(5),
		AgingSinceTimestampSeconds: f.Uint64(6),
		MaturityE8sEquivalent:      f.Uint64(8),
		DissolveState: governance.DissolveState{
			Dissolving:                    f.Bool(9),
			DissolveDelaySeconds:          f.Uint64(10),
			WhenDissolvedTimestampSeconds: f.Uint64(11),
		},
		VotingPowerPercentageMultiplier: f.Uint64(12),
		SourceNNSNeuronID:               f.Uint64(13),
	}
	for _, raw := range f.Messages(2) {
		pf, err := wire.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid neuron permission: %w", err)
		}
		n.Permissions = append(n.Permissions, governance.NeuronPermission{
			Principal:       governance.PrincipalID(pf.String(1)),
			PermissionTypes: permissionsFromUint64s(pf.Uint64s(2)),
		})
	}
	if followees := f.Messages(7); len(followees) > 0 {
		n.Followees = make(map[uint64][]governance.NeuronID, len(followees))
		for _, raw := range followees {
			fn, ids, err := decodeFollowees(raw)
			if err != nil {
				return nil, err
			}
			n.Followees[fn] = ids
		}
	}
	return n, nil
}

func encodeFollowees(fn uint64, ids []governance.NeuronID) []byte {
	e := wire.NewEncoder().PutUint64(1, fn)
	for _, id := range ids {
		e.PutMessage(2, id.Bytes())
	}
	return e.Bytes()
}

func decodeFollowees(b []byte) (uint64, []governance.NeuronID, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid followees: %w", err)
	}
	raw := f.Messages(2)
	ids := make([]governance.NeuronID, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, governance.NeuronIDFromBytes(r))
	}
	return f.Uint64(1), ids, nil
}

func encodeProposalData(pd *governance.ProposalData) []byte {
	e := wire.NewEncoder().
		PutUint64(1, pd.Action).
		PutUint64(2, pd.ID).
		PutBytes(3, pd.Proposer.Bytes()).
		PutUint64(4, pd.RejectCostE8s)
	if pd.Proposal != nil {
		e.PutMessage(5, encodeProposal(pd.Proposal))
	}
	e.PutUint64(6, pd.ProposalCreationTimestampSeconds)
	for _, id := range sortedKeys(pd.Ballots) {
		b := pd.Ballots[id]
		e.PutMessage(7, wire.NewEncoder().
			PutBytes(1, id.Bytes()).
			PutUint64(2, uint64(b.Vote)).
			PutUint64(3, b.VotingPower).
			PutUint64(4, b.CastTimestampSeconds).
			Bytes())
	}
	if t := pd.LatestTally; t != nil {
		e.PutMessage(8, wire.NewEncoder().
			PutUint64(1, t.TimestampSeconds).
			PutUint64(2, t.Yes).
			PutUint64(3, t.No).
			PutUint64(4, t.Total).
			Bytes())
	}
	e.PutUint64(9, pd.DecidedTimestampSeconds).
		PutUint64(10, pd.ExecutedTimestampSeconds).
		PutUint64(11, pd.FailedTimestampSeconds)
	if r := pd.FailureReason; r != nil {
		e.PutMessage(12, wire.NewEncoder().
			PutUint64(1, uint64(r.Type)).
			PutString(2, r.Message).
			Bytes())
	}
	e.PutUint64(13, pd.RewardEventRound)
	if w := pd.WaitForQuietState; w != nil {
		e.PutMessage(14, wire.NewEncoder().PutUint64(1, w.CurrentDeadlineTimestampSeconds).Bytes())
	}
	return e.PutString(15, pd.PayloadTextRendering).
		PutBool(16, pd.IsEligibleForRewards).
		PutUint64(17, pd.InitialVotingPeriodSeconds).
		PutUint64(18, pd.WaitForQuietDeadlineIncreaseSeconds).
		Bytes()
}

func decodeProposalData(b []byte) (*governance.ProposalData, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid proposal data: %w", err)
	}
	pd := &governance.ProposalData{
		Action:                              f.Uint64(1),
		ID:                                  f.Uint64(2),
		Proposer:                            governance.NeuronIDFromBytes(f.Bytes(3)),
		RejectCostE8s:                       f.Uint64(4),
		ProposalCreationTimestampSeconds:    f.Uint64(6),
		DecidedTimestampSeconds:             f.Uint64(9),
		ExecutedTimestampSeconds:            f.Uint64(10),
		FailedTimestampSeconds:              f.Uint64(11),
		RewardEventRound:                    f.Uint64(13),
		PayloadTextRendering:                f.String(15),
		IsEligibleForRewards:                f.Bool(16),
		InitialVotingPeriodSeconds:          f.Uint64(17),
		WaitForQuietDeadlineIncreaseSeconds: f.Uint64(18),
	}
	if f.Has(5) {
		if pd.Proposal, err = decodeProposal(f.Bytes(5)); err != nil {
			return nil, err
		}
	}
	if ballots := f.Messages(7); len(ballots) > 0 {
		pd.Ballots = make(map[governance.NeuronID]*governance.Ballot, len(ballots))
		for _, raw := range ballots {
			bf, err := wire.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid ballot: %w", err)
			}
			pd.Ballots[governance.NeuronIDFromBytes(bf.Bytes(1))] = &governance.Ballot{
				Vote:                 governance.Vote(bf.Uint64(2)),
				VotingPower:          bf.Uint64(3),
				CastTimestampSeconds: bf.Uint64(4),
			}
		}
	}
	if f.Has(8) {
		tf, err := wire.Parse(f.Bytes(8))
		if err != nil {
			return nil, fmt.Errorf("invalid tally: %w", err)
		}
		pd.LatestTally = &governance.Tally{
			TimestampSeconds: tf.Uint64(1),
			Yes:              tf.Uint64(2),
			No:               tf.Uint64(3),
			Total:            tf.Uint64(4),
		}
	}
	if f.Has(12) {
		ef, err := wire.Parse(f.Bytes(12))
		if err != nil {
			return nil, fmt.Errorf("invalid failure reason: %w", err)
		}
		pd.FailureReason = &governance.Error{
			Type:    governance.ErrorType(ef.Uint64(1)),
			Message: ef.String(2),
		}
	}
	if f.Has(14) {
		wf, err := wire.Parse(f.Bytes(14))
		if err != nil {
			return nil, fmt.Errorf("invalid wait for quiet state: %w", err)
		}
		pd.WaitForQuietState = &governance.WaitForQuietState{CurrentDeadlineTimestampSeconds: wf.Uint64(1)}
	}
	return pd, nil
}

func encodeProposal(p *governance.Proposal) []byte {
	e := wire.NewEncoder().
		PutString(1, p.Title).
		PutString(2, p.Summary).
		PutString(3, p.URL)
	if p.Action != nil {
		kind, body := encodeAction(p.Action)
		e.PutMessage(4, wire.NewEncoder().
			PutUint64(1, uint64(kind)).
			PutMessage(2, body).
			Bytes())
	}
	return e.Bytes()
}

func decodeProposal(b []byte) (*governance.Proposal, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid proposal: %w", err)
	}
	p := &governance.Proposal{
		Title:   f.String(1),
		Summary: f.String(2),
		URL:     f.String(3),
	}
	if f.Has(4) {
		af, err := wire.Parse(f.Bytes(4))
		if err != nil {
			return nil, fmt.Errorf("invalid action: %w", err)
		}
		if p.Action, err = decodeAction(protowire.Number(af.Uint64(1)), af.Bytes(2)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func encodeAction(a governance.Action) (protowire.Number, []byte) {
	switch a := a.(type) {
	case *governance.Motion:
		return actionMotion, wire.NewEncoder().PutString(1, a.MotionText).Bytes()
	case *governance.ManageNervousSystemParameters:
		var body []byte
		if a.Parameters != nil {
			body = wire.NewEncoder().PutMessage(1, encodeParameters(a.Parameters)).Bytes()
		}
		return actionManageParameters, body
	case *governance.UpgradeSnsControlledCanister:
		return actionUpgradeControlledCanister, wire.NewEncoder().
			PutString(1, string(a.CanisterID)).
			PutBytes(2, a.NewCanisterWasm).
			Bytes()
	case *governance.AddGenericNervousSystemFunction:
		var body []byte
		if a.Function != nil {
			body = wire.NewEncoder().PutMessage(1, encodeFunction(a.Function)).Bytes()
		}
		return actionAddFunction, body
	case *governance.RemoveGenericNervousSystemFunction:
		return actionRemoveFunction, wire.NewEncoder().PutUint64(1, a.ID).Bytes()
	case *governance.UpgradeSnsToNextVersion:
		return actionUpgradeToNextVersion, nil
	case *governance.ManageSnsMetadata:
		return actionManageMetadata, encodeMetadata(governance.SnsMetadata{
			Logo:        a.Logo,
			URL:         a.URL,
			Name:        a.Name,
			Description: a.Description,
		})
	case *governance.ExecuteGenericNervousSystemFunction:
		return actionExecuteFunction, wire.NewEncoder().
			PutUint64(1, a.ID).
			PutBytes(2, a.Payload).
			Bytes()
	default:
		panic(fmt.Sprintf("unsupported proposal action %T", a))
	}
}

func decodeAction(kind protowire.Number, b []byte) (governance.Action, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid action body: %w", err)
	}
	switch kind {
	case actionMotion:
		return &governance.Motion{MotionText: f.String(1)}, nil
	case actionManageParameters:
		a := &governance.ManageNervousSystemParameters{}
		if f.Has(1) {
			if a.Parameters, err = decodeParameters(f.Bytes(1)); err != nil {
				return nil, err
			}
		}
		return a, nil
	case actionUpgradeControlledCanister:
		return &governance.UpgradeSnsControlledCanister{
			CanisterID:      types.CanisterID(f.String(1)),
			NewCanisterWasm: f.Bytes(2),
		}, nil
	case actionAddFunction:
		a := &governance.AddGenericNervousSystemFunction{}
		if f.Has(1) {
			if a.Function, err = decodeFunction(f.Bytes(1)); err != nil {
				return nil, err
			}
		}
		return a, nil
	case actionRemoveFunction:
		return &governance.RemoveGenericNervousSystemFunction{ID: f.Uint64(1)}, nil
	case actionUpgradeToNextVersion:
		return &governance.UpgradeSnsToNextVersion{}, nil
	case actionManageMetadata:
		md, err := decodeMetadata(b)
		if err != nil {
			return nil, err
		}
		return &governance.ManageSnsMetadata{
			Logo:        md.Logo,
			URL:         md.URL,
			Name:        md.Name,
			Description: md.Description,
		}, nil
	case actionExecuteFunction:
		return &governance.ExecuteGenericNervousSystemFunction{
			ID:      f.Uint64(1),
			Payload: f.Bytes(2),
		}, nil
	default:
		return nil, fmt.Errorf("unknown proposal action kind %d", kind)
	}
}

func encodeFunction(fn *governance.NervousSystemFunction) []byte {
	e := wire.NewEncoder().
		PutUint64(1, fn.ID).
		PutString(2, fn.Name).
		PutString(3, fn.Description)
	if g := fn.Generic; g != nil {
		e.PutMessage(4, wire.NewEncoder().
			PutString(1, string(g.TargetCanisterID)).
			PutString(2, g.TargetMethodName).
			PutString(3, string(g.ValidatorCanisterID)).
			PutString(4, g.ValidatorMethodName).
			Bytes())
	}
	return e.Bytes()
}

func decodeFunction(b []byte) (*governance.NervousSystemFunction, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid nervous system function: %w", err)
	}
	fn := &governance.NervousSystemFunction{
		ID:          f.Uint64(1),
		Name:        f.String(2),
		Description: f.String(3),
	}
	if f.Has(4) {
		gf, err := wire.Parse(f.Bytes(4))
		if err != nil {
			return nil, fmt.Errorf("invalid generic function: %w", err)
		}
		fn.Generic = &governance.GenericNervousSystemFunction{
			TargetCanisterID:    types.CanisterID(gf.String(1)),
			TargetMethodName:    gf.String(2),
			ValidatorCanisterID: types.CanisterID(gf.String(3)),
			ValidatorMethodName: gf.String(4),
		}
	}
	return fn, nil
}

func encodeVersion(v *governance.Version) []byte {
	return wire.NewEncoder().
		PutBytes(1, v.RootWasmHash).
		PutBytes(2, v.GovernanceWasmHash).
		PutBytes(3, v.LedgerWasmHash).
		PutBytes(4, v.SwapWasmHash).
		PutBytes(5, v.ArchiveWasmHash).
		PutBytes(6, v.IndexWasmHash).
		Bytes()
}

func decodeVersion(b []byte) (*governance.Version, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid version: %w", err)
	}
	return &governance.Version{
		RootWasmHash:       f.Bytes(1),
		GovernanceWasmHash: f.Bytes(2),
		LedgerWasmHash:     f.Bytes(3),
		SwapWasmHash:       f.Bytes(4),
		ArchiveWasmHash:    f.Bytes(5),
		IndexWasmHash:      f.Bytes(6),
	}, nil
}

func encodeRewardEvent(r *governance.RewardEvent) []byte {
	return wire.NewEncoder().
		PutUint64(1, r.Round).
		PutUint64(2, r.ActualTimestampSeconds).
		PutUint64s(3, r.SettledProposals).
		PutUint64(4, r.DistributedE8sEquivalent).
		Bytes()
}

func decodeRewardEvent(b []byte) (*governance.RewardEvent, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid reward event: %w", err)
	}
	return &governance.RewardEvent{
		Round:                    f.Uint64(1),
		ActualTimestampSeconds:   f.Uint64(2),
		SettledProposals:         f.Uint64s(3),
		DistributedE8sEquivalent: f.Uint64(4),
	}, nil
}

// putOptionalString marks presence with a message so an empty string set
// on purpose survives.
func putOptionalString(e *wire.Encoder, n protowire.Number, s *string) {
	if s != nil {
		e.PutMessage(n, []byte(*s))
	}
}

func optionalString(f wire.Fields, n protowire.Number) *string {
	if !f.Has(n) {
		return nil
	}
	s := f.String(n)
	return &s
}

func encodeMetadata(md governance.SnsMetadata) []byte {
	e := wire.NewEncoder()
	putOptionalString(e, 1, md.Logo)
	putOptionalString(e, 2, md.URL)
	putOptionalString(e, 3, md.Name)
	putOptionalString(e, 4, md.Description)
	return e.Bytes()
}

func decodeMetadata(b []byte) (governance.SnsMetadata, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return governance.SnsMetadata{}, fmt.Errorf("invalid metadata: %w", err)
	}
	return governance.SnsMetadata{
		Logo:        optionalString(f, 1),
		URL:         optionalString(f, 2),
		Name:        optionalString(f, 3),
		Description: optionalString(f, 4),
	}, nil
}

func permissionsToUint64s(ps []governance.PermissionType) []uint64 {
	out := make([]uint64, 0, len(ps))
	for _, p := range ps {
		out = append(out, uint64(p))
	}
	return out
}

func permissionsFromUint64s(vs []uint64) []governance.PermissionType {
	if len(vs) == 0 {
		return nil
	}
	out := make([]governance.PermissionType, 0, len(vs))
	for _, v := range vs {
		out = append(out, governance.PermissionType(v))
	}
	return out
}

// Parameters distinguish an unset field from a zero one, so every scalar
// is wrapped in its own message.
func putOptionalUint64(e *wire.Encoder, n protowire.Number, v *uint64) {
	if v != nil {
		e.PutMessage(n, wire.NewEncoder().PutUint64(1, *v).Bytes())
	}
}

func optionalUint64(f wire.Fields, n protowire.Number) (*uint64, error) {
	if !f.Has(n) {
		return nil, nil
	}
	vf, err := wire.Parse(f.Bytes(n))
	if err != nil {
		return nil, fmt.Errorf("invalid field %d: %w", n, err)
	}
	v := vf.Uint64(1)
	return &v, nil
}

func encodeParameters(p *governance.NervousSystemParameters) []byte {
	e := wire.NewEncoder()
	putOptionalUint64(e, 1, p.RejectCostE8s)
	putOptionalUint64(e, 2, p.NeuronMinimumStakeE8s)
	putOptionalUint64(e, 3, p.TransactionFeeE8s)
	if p.MaxProposalsToKeepPerAction != nil {
		v := uint64(*p.MaxProposalsToKeepPerAction)
		putOptionalUint64(e, 4, &v)
	}
	putOptionalUint64(e, 5, p.InitialVotingPeriodSeconds)
	putOptionalUint64(e, 6, p.WaitForQuietDeadlineIncreaseSeconds)
	if df := p.DefaultFollowees; df != nil {
		de := wire.NewEncoder()
		for _, fn := range sortedKeys(df.Followees) {
			de.PutMessage(1, encodeFollowees(fn, df.Followees[fn]))
		}
		e.PutMessage(7, de.Bytes())
	}
	putOptionalUint64(e, 8, p.MaxNumberOfNeurons)
	putOptionalUint64(e, 9, p.NeuronMinimumDissolveDelayToVoteSeconds)
	putOptionalUint64(e, 10, p.MaxFolloweesPerFunction)
	putOptionalUint64(e, 11, p.MaxDissolveDelaySeconds)
	putOptionalUint64(e, 12, p.MaxNeuronAgeForAgeBonus)
	putOptionalUint64(e, 13, p.MaxNumberOfProposalsWithBallots)
	if l := p.NeuronClaimerPermissions; l != nil {
		e.PutMessage(14, wire.NewEncoder().PutUint64s(1, permissionsToUint64s(l.Permissions)).Bytes())
	}
	if l := p.NeuronGrantablePermissions; l != nil {
		e.PutMessage(15, wire.NewEncoder().PutUint64s(1, permissionsToUint64s(l.Permissions)).Bytes())
	}
	putOptionalUint64(e, 16, p.MaxNumberOfPrincipalsPerNeuron)
	if vr := p.VotingRewardsParameters; vr != nil {
		ve := wire.NewEncoder()
		putOptionalUint64(ve, 1, vr.RoundDurationSeconds)
		putOptionalUint64(ve, 2, vr.RewardRateTransitionDurationSeconds)
		putOptionalUint64(ve, 3, vr.InitialRewardRateBasisPoints)
		putOptionalUint64(ve, 4, vr.FinalRewardRateBasisPoints)
		e.PutMessage(17, ve.Bytes())
	}
	putOptionalUint64(e, 18, p.MaxDissolveDelayBonusPercentage)
	putOptionalUint64(e, 19, p.MaxAgeBonusPercentage)
	return e.Bytes()
}

func decodeParameters(b []byte) (*governance.NervousSystemParameters, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("invalid nervous system parameters: %w", err)
	}
	p := &governance.NervousSystemParameters{}
	scalars := []struct {
		n   protowire.Number
		dst **uint64
	}{
		{1, &p.RejectCostE8s},
		{2, &p.NeuronMinimumStakeE8s},
		{3, &p.TransactionFeeE8s},
		{5, &p.InitialVotingPeriodSeconds},
		{6, &p.WaitForQuietDeadlineIncreaseSeconds},
		{8, &p.MaxNumberOfNeurons},
		{9, &p.NeuronMinimumDissolveDelayToVoteSeconds},
		{10, &p.MaxFolloweesPerFunction},
		{11, &p.MaxDissolveDelaySeconds},
		{12, &p.MaxNeuronAgeForAgeBonus},
		{13, &p.MaxNumberOfProposalsWithBallots},
		{16, &p.MaxNumberOfPrincipalsPerNeuron},
		{18, &p.MaxDissolveDelayBonusPercentage},
		{19, &p.MaxAgeBonusPercentage},
	}
	for _, s := range scalars {
		if *s.dst, err = optionalUint64(f, s.n); err != nil {
			return nil, err
		}
	}
	keep, err := optionalUint64(f, 4)
	if err != nil {
		return nil, err
	}
	if keep != nil {
		v := uint32(*keep)
		p.MaxProposalsToKeepPerAction = &v
	}
	if f.Has(7) {
		df, err := wire.Parse(f.Bytes(7))
		if err != nil {
			return nil, fmt.Errorf("invalid default followees: %w", err)
		}
		p.DefaultFollowees = &governance.DefaultFollowees{Followees: map[uint64][]governance.NeuronID{}}
		for _, raw := range df.Messages(1) {
			fn, ids, err := decodeFollowees(raw)
			if err != nil {
				return nil, err
			}
			p.DefaultFollowees.Followees[fn] = ids
		}
	}
	for n, dst := range map[protowire.Number]**governance.NeuronPermissionList{
		14: &p.NeuronClaimerPermissions,
		15: &p.NeuronGrantablePermissions,
	} {
		if !f.Has(n) {
			continue
		}
		lf, err := wire.Parse(f.Bytes(n))
		if err != nil {
			return nil, fmt.Errorf("invalid permission list: %w", err)
		}
		*dst = &governance.NeuronPermissionList{Permissions: permissionsFromUint64s(lf.Uint64s(1))}
	}
	if f.Has(17) {
		vf, err := wire.Parse(f.Bytes(17))
		if err != nil {
			return nil, fmt.Errorf("invalid voting rewards parameters: %w", err)
		}
		vr := &governance.VotingRewardsParameters{}
		for n, dst := range map[protowire.Number]**uint64{
			1: &vr.RoundDurationSeconds,
			2: &vr.RewardRateTransitionDurationSeconds,
			3: &vr.InitialRewardRateBasisPoints,
			4: &vr.FinalRewardRateBasisPoints,
		} {
			if *dst, err = optionalUint64(vf, n); err != nil {
				return nil, err
			}
		}
		p.VotingRewardsParameters = vr
	}
	return p, nil
}
