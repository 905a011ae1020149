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
	"encoding/binary"
	"math"

	"code.icreplica.io/replica/libs/crypto"
	"code.icreplica.io/replica/libs/num"
)

// DefaultVotingPowerPercentageMultiplier applies to neurons claimed by
// their owner.
const DefaultVotingPowerPercentageMultiplier uint64 = 100

var neuronStakeDomain = []byte("neuron-stake")

// ComputeNeuronID derives the staking subaccount of the neuron controlled
// by controller and created with memo.
func ComputeNeuronID(controller PrincipalID, memo uint64) NeuronID {
	var m [8]byte
	binary.BigEndian.PutUint64(m[:], memo)
	return NeuronID(crypto.Hash(
		[]byte{byte(len(neuronStakeDomain))},
		neuronStakeDomain,
		[]byte(controller),
		m[:],
	))
}

type NeuronState int

const (
	NeuronStateNotDissolving NeuronState = iota + 1
	NeuronStateDissolving
	NeuronStateDissolved
)

func (s NeuronState) String() string {
	switch s {
	case NeuronStateNotDissolving:
		return "not_dissolving"
	case NeuronStateDissolving:
		return "dissolving"
	case NeuronStateDissolved:
		return "dissolved"
	default:
		return "unspecified"
	}
}

// stakeE8s is the stake minus the fees owed by the neuron.
func (n *Neuron) stakeE8s() uint64 {
	if n.NeuronFeesE8s >= n.CachedNeuronStakeE8s {
		return 0
	}
	return n.CachedNeuronStakeE8s - n.NeuronFeesE8s
}

func (n *Neuron) state(now uint64) NeuronState {
	ds := n.DissolveState
	switch {
	case ds.Dissolving && ds.WhenDissolvedTimestampSeconds > now:
		return NeuronStateDissolving
	case !ds.Dissolving && ds.DissolveDelaySeconds > 0:
		return NeuronStateNotDissolving
	default:
		return NeuronStateDissolved
	}
}

func (n *Neuron) dissolveDelaySeconds(now uint64) uint64 {
	ds := n.DissolveState
	if ds.Dissolving {
		if ds.WhenDissolvedTimestampSeconds <= now {
			return 0
		}
		return ds.WhenDissolvedTimestampSeconds - now
	}
	return ds.DissolveDelaySeconds
}

func (n *Neuron) ageSeconds(now uint64) uint64 {
	if n.DissolveState.Dissolving || n.AgingSinceTimestampSeconds > now {
		return 0
	}
	return now - n.AgingSinceTimestampSeconds
}

// votingPower is the stake increased by the dissolve delay and age
// bonuses, then scaled by the neuron's multiplier.
func (n *Neuron) votingPower(now uint64, p *NervousSystemParameters) uint64 {
	stake := n.stakeE8s()
	maxDelay := val(p.MaxDissolveDelaySeconds)
	maxAge := val(p.MaxNeuronAgeForAgeBonus)

	delay := n.dissolveDelaySeconds(now)
	if delay > maxDelay {
		delay = maxDelay
	}
	withDelay := num.NewUint(stake)
	if maxDelay > 0 {
		bonus := num.NewUint(stake).
			MulUint64(delay).
			MulUint64(val(p.MaxDissolveDelayBonusPercentage)).
			DivUint64(100 * maxDelay)
		withDelay.AddSum(bonus)
	}

	age := n.ageSeconds(now)
	if age > maxAge {
		age = maxAge
	}
	withAge := withDelay.Clone()
	if maxAge > 0 {
		bonus := withDelay.Clone().
			MulUint64(age).
			MulUint64(val(p.MaxAgeBonusPercentage)).
			DivUint64(100 * maxAge)
		withAge.AddSum(bonus)
	}

	power := withAge.MulUint64(n.VotingPowerPercentageMultiplier).DivUint64(100)
	if !power.IsUint64() {
		return math.MaxUint64
	}
	return power.Uint64()
}

// updateStake sets the cached stake. A top up of a non dissolving neuron
// keeps its accumulated age weighted by the old and new stake.
func (n *Neuron) updateStake(newStake, now uint64) {
	if newStake > n.CachedNeuronStakeE8s && !n.DissolveState.Dissolving && newStake > 0 {
		age := num.NewUint(n.ageSeconds(now)).
			MulUint64(n.CachedNeuronStakeE8s).
			DivUint64(newStake).
			Uint64()
		n.AgingSinceTimestampSeconds = now - age
	}
	n.CachedNeuronStakeE8s = newStake
}

func (n *Neuron) permissionsOf(p PrincipalID) *NeuronPermission {
	for i := range n.Permissions {
		if n.Permissions[i].Principal == p {
			return &n.Permissions[i]
		}
	}
	return nil
}

func (n *Neuron) isAuthorized(caller PrincipalID, perm PermissionType) bool {
	np := n.permissionsOf(caller)
	if np == nil {
		return false
	}
	for _, t := range np.PermissionTypes {
		if t == perm {
			return true
		}
	}
	return false
}

func (n *Neuron) checkAuthorized(caller PrincipalID, perm PermissionType) error {
	if !n.isAuthorized(caller, perm) {
		return newError(ErrorTypeNotAuthorized,
			"Caller %q is not authorized to perform action %d on neuron %s", caller, perm, n.ID)
	}
	return nil
}

// isAuthorizedWithPermissions reports whether caller holds every
// permission of l.
func (n *Neuron) isAuthorizedWithPermissions(caller PrincipalID, l *NeuronPermissionList) bool {
	for _, perm := range l.Permissions {
		if !n.isAuthorized(caller, perm) {
			return false
		}
	}
	return true
}

func (n *Neuron) addPermissionsForPrincipal(p PrincipalID, perms []PermissionType) {
	np := n.permissionsOf(p)
	if np == nil {
		n.Permissions = append(n.Permissions, NeuronPermission{Principal: p})
		np = &n.Permissions[len(n.Permissions)-1]
	}
	for _, perm := range perms {
		found := false
		for _, t := range np.PermissionTypes {
			if t == perm {
				found = true
				break
			}
		}
		if !found {
			np.PermissionTypes = append(np.PermissionTypes, perm)
		}
	}
}

// removePermissionsForPrincipal returns true when the principal has no
// permission left on the neuron.
func (n *Neuron) removePermissionsForPrincipal(p PrincipalID, perms []PermissionType) (bool, error) {
	idx := -1
	for i := range n.Permissions {
		if n.Permissions[i].Principal == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, newError(ErrorTypeAccessControlList,
			"PrincipalId %q does not have any permissions in neuron %s", p, n.ID)
	}

	np := &n.Permissions[idx]
	for _, perm := range perms {
		found := false
		for _, t := range np.PermissionTypes {
			if t == perm {
				found = true
				break
			}
		}
		if !found {
			return false, newError(ErrorTypeAccessControlList,
				"PrincipalId %q does not have permission %d in neuron %s", p, perm, n.ID)
		}
	}

	kept := np.PermissionTypes[:0]
	for _, t := range np.PermissionTypes {
		remove := false
		for _, perm := range perms {
			if t == perm {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, t)
		}
	}
	np.PermissionTypes = kept
	if len(kept) == 0 {
		n.Permissions = append(n.Permissions[:idx], n.Permissions[idx+1:]...)
		return true, nil
	}
	return false, nil
}

// followeesFor returns the followees used to vote on fn, falling back on
// the catch-all followees.
func (n *Neuron) followeesFor(fn uint64) []NeuronID {
	if f, ok := n.Followees[fn]; ok && len(f) > 0 {
		return f
	}
	return n.Followees[UnspecifiedFunctionID]
}

// wouldFollowBallots returns the vote the neuron casts on fn given the
// ballots of its followees. Yes needs a strict majority of the followees,
// No needs at least half of them.
func (n *Neuron) wouldFollowBallots(fn uint64, ballots map[NeuronID]*Ballot) Vote {
	followees := n.followeesFor(fn)
	if len(followees) == 0 {
		return VoteUnspecified
	}
	var yes, no int
	for _, f := range followees {
		b, ok := ballots[f]
		if !ok {
			continue
		}
		switch b.Vote {
		case VoteYes:
			yes++
		case VoteNo:
			no++
		}
	}
	switch {
	case 2*yes > len(followees):
		return VoteYes
	case 2*no >= len(followees):
		return VoteNo
	default:
		return VoteUnspecified
	}
}

func (n *Neuron) configure(now uint64, op ConfigureOperation, maxDissolveDelay uint64) error {
	ds := n.DissolveState
	switch o := op.(type) {
	case *IncreaseDissolveDelay:
		add := uint64(o.AdditionalDissolveDelaySeconds)
		switch n.state(now) {
		case NeuronStateDissolved:
			n.DissolveState = NotDissolving(minU64(add, maxDissolveDelay))
			n.AgingSinceTimestampSeconds = now
		case NeuronStateDissolving:
			n.DissolveState = DissolvingAt(minU64(ds.WhenDissolvedTimestampSeconds+add, now+maxDissolveDelay))
		default:
			n.DissolveState = NotDissolving(minU64(ds.DissolveDelaySeconds+add, maxDissolveDelay))
		}
		return nil

	case *StartDissolving:
		if n.state(now) != NeuronStateNotDissolving {
			return newError(ErrorTypeRequiresNotDissolving, "Neuron must be non-dissolving to start dissolving")
		}
		n.DissolveState = DissolvingAt(now + ds.DissolveDelaySeconds)
		n.AgingSinceTimestampSeconds = math.MaxUint64
		return nil

	case *StopDissolving:
		if n.state(now) != NeuronStateDissolving {
			return newError(ErrorTypeRequiresDissolving, "Neuron must be dissolving to stop dissolving")
		}
		n.DissolveState = NotDissolving(ds.WhenDissolvedTimestampSeconds - now)
		n.AgingSinceTimestampSeconds = now
		return nil

	case *SetDissolveTimestamp:
		ts := o.DissolveTimestampSeconds
		if ts <= now {
			return newError(ErrorTypeInvalidCommand, "The dissolve timestamp %d must be in the future", ts)
		}
		if ts-now > maxDissolveDelay {
			return newError(ErrorTypeInvalidCommand,
				"The dissolve delay %d would exceed the maximum of %d seconds", ts-now, maxDissolveDelay)
		}
		switch n.state(now) {
		case NeuronStateDissolving:
			if ts < ds.WhenDissolvedTimestampSeconds {
				return newError(ErrorTypeInvalidCommand, "Can't set a dissolve timestamp earlier than the current one")
			}
			n.DissolveState = DissolvingAt(ts)
		case NeuronStateDissolved:
			n.DissolveState = NotDissolving(ts - now)
			n.AgingSinceTimestampSeconds = now
		default:
			if ts-now < ds.DissolveDelaySeconds {
				return newError(ErrorTypeInvalidCommand, "Can't set a dissolve delay smaller than the current one")
			}
			n.DissolveState = NotDissolving(ts - now)
		}
		return nil
	}
	return newError(ErrorTypeInvalidCommand, "Configure must have an operation")
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
