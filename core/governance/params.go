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
	"fmt"
	"reflect"
	"strings"

	"code.icreplica.io/replica/libs/num"

	"github.com/imdario/mergo"
	"github.com/jinzhu/copier"
)

const (
	secondsPerDay uint64 = 24 * 60 * 60
	// a year of 365.25 days
	secondsPerYear uint64 = secondsPerDay*365 + secondsPerDay/4

	maxNumberOfNeuronsCeiling             = 200_000
	maxProposalsToKeepPerActionCeiling    = 700
	maxNumberOfProposalsWithBallotsCeil   = 700
	maxFolloweesPerFunctionCeiling        = 15
	maxNumberOfPrincipalsPerNeuronCeiling = 15
	maxDissolveDelayBonusPercentageCeil   = 900
	maxAgeBonusPercentageCeiling          = 400
	maxRewardRateBasisPoints              = 10_000
)

// DefaultFollowees are the followees of every freshly claimed neuron.
type DefaultFollowees struct {
	Followees map[uint64][]NeuronID
}

type NeuronPermissionList struct {
	Permissions []PermissionType
}

func (l *NeuronPermissionList) contains(p PermissionType) bool {
	for _, x := range l.Permissions {
		if x == p {
			return true
		}
	}
	return false
}

type VotingRewardsParameters struct {
	RoundDurationSeconds                *uint64
	RewardRateTransitionDurationSeconds *uint64
	InitialRewardRateBasisPoints        *uint64
	FinalRewardRateBasisPoints          *uint64
}

// NervousSystemParameters are set at genesis and changed by proposals.
// Every field is optional in a proposal: unset fields keep their current
// value.
type NervousSystemParameters struct {
	RejectCostE8s                           *uint64
	NeuronMinimumStakeE8s                   *uint64
	TransactionFeeE8s                       *uint64
	MaxProposalsToKeepPerAction             *uint32
	InitialVotingPeriodSeconds              *uint64
	WaitForQuietDeadlineIncreaseSeconds     *uint64
	DefaultFollowees                        *DefaultFollowees
	MaxNumberOfNeurons                      *uint64
	NeuronMinimumDissolveDelayToVoteSeconds *uint64
	MaxFolloweesPerFunction                 *uint64
	MaxDissolveDelaySeconds                 *uint64
	MaxNeuronAgeForAgeBonus                 *uint64
	MaxNumberOfProposalsWithBallots         *uint64
	NeuronClaimerPermissions                *NeuronPermissionList
	NeuronGrantablePermissions              *NeuronPermissionList
	MaxNumberOfPrincipalsPerNeuron          *uint64
	VotingRewardsParameters                 *VotingRewardsParameters
	MaxDissolveDelayBonusPercentage         *uint64
	MaxAgeBonusPercentage                   *uint64
}

func ptr[T any](v T) *T {
	return &v
}

func val[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// DefaultParameters returns the parameters of a new nervous system.
func DefaultParameters() *NervousSystemParameters {
	return &NervousSystemParameters{
		RejectCostE8s:                           ptr(uint64(100_000_000)),
		NeuronMinimumStakeE8s:                   ptr(uint64(100_000_000)),
		TransactionFeeE8s:                       ptr(uint64(10_000)),
		MaxProposalsToKeepPerAction:             ptr(uint32(100)),
		InitialVotingPeriodSeconds:              ptr(4 * secondsPerDay),
		WaitForQuietDeadlineIncreaseSeconds:     ptr(secondsPerDay),
		DefaultFollowees:                        &DefaultFollowees{Followees: map[uint64][]NeuronID{}},
		MaxNumberOfNeurons:                      ptr(uint64(maxNumberOfNeuronsCeiling)),
		NeuronMinimumDissolveDelayToVoteSeconds: ptr(secondsPerYear / 2),
		MaxFolloweesPerFunction:                 ptr(uint64(maxFolloweesPerFunctionCeiling)),
		MaxDissolveDelaySeconds:                 ptr(8 * secondsPerYear),
		MaxNeuronAgeForAgeBonus:                 ptr(4 * secondsPerYear),
		MaxNumberOfProposalsWithBallots:         ptr(uint64(maxNumberOfProposalsWithBallotsCeil)),
		NeuronClaimerPermissions: &NeuronPermissionList{Permissions: []PermissionType{
			PermissionConfigureDissolveState,
			PermissionManagePrincipals,
			PermissionSubmitProposal,
			PermissionVote,
		}},
		NeuronGrantablePermissions:      &NeuronPermissionList{},
		MaxNumberOfPrincipalsPerNeuron:  ptr(uint64(5)),
		MaxDissolveDelayBonusPercentage: ptr(uint64(100)),
		MaxAgeBonusPercentage:           ptr(uint64(25)),
	}
}

func (p *NervousSystemParameters) clone() *NervousSystemParameters {
	out := &NervousSystemParameters{}
	if err := copier.CopyWithOption(out, p, copier.Option{DeepCopy: true}); err != nil {
		panic(fmt.Errorf("could not copy nervous system parameters: %w", err))
	}
	return out
}

// inheritFrom returns a copy of p where every unset field takes the value
// from base. Set fields are kept whole, including explicit zeros and nested
// messages.
func (p *NervousSystemParameters) inheritFrom(base *NervousSystemParameters) (*NervousSystemParameters, error) {
	out := p.clone()
	if err := mergo.Merge(out, base.clone(), mergo.WithoutDereference); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *NervousSystemParameters) validate() error {
	switch {
	case p.RejectCostE8s == nil:
		return fmt.Errorf("reject_cost_e8s must be set")
	case p.TransactionFeeE8s == nil:
		return fmt.Errorf("transaction_fee_e8s must be set")
	case p.NeuronMinimumStakeE8s == nil:
		return fmt.Errorf("neuron_minimum_stake_e8s must be set")
	case *p.NeuronMinimumStakeE8s <= *p.TransactionFeeE8s:
		return fmt.Errorf("neuron_minimum_stake_e8s (%d) must be greater than transaction_fee_e8s (%d)",
			*p.NeuronMinimumStakeE8s, *p.TransactionFeeE8s)
	case p.MaxProposalsToKeepPerAction == nil:
		return fmt.Errorf("max_proposals_to_keep_per_action must be set")
	case *p.MaxProposalsToKeepPerAction == 0 || *p.MaxProposalsToKeepPerAction > maxProposalsToKeepPerActionCeiling:
		return fmt.Errorf("max_proposals_to_keep_per_action must be between 1 and %d", maxProposalsToKeepPerActionCeiling)
	case p.InitialVotingPeriodSeconds == nil:
		return fmt.Errorf("initial_voting_period_seconds must be set")
	case *p.InitialVotingPeriodSeconds < secondsPerDay || *p.InitialVotingPeriodSeconds > 30*secondsPerDay:
		return fmt.Errorf("initial_voting_period_seconds must be between %d and %d", secondsPerDay, 30*secondsPerDay)
	case p.WaitForQuietDeadlineIncreaseSeconds == nil:
		return fmt.Errorf("wait_for_quiet_deadline_increase_seconds must be set")
	case *p.WaitForQuietDeadlineIncreaseSeconds > 30*secondsPerDay:
		return fmt.Errorf("wait_for_quiet_deadline_increase_seconds must be at most %d", 30*secondsPerDay)
	case p.DefaultFollowees == nil:
		return fmt.Errorf("default_followees must be set")
	case p.MaxNumberOfNeurons == nil:
		return fmt.Errorf("max_number_of_neurons must be set")
	case *p.MaxNumberOfNeurons == 0 || *p.MaxNumberOfNeurons > maxNumberOfNeuronsCeiling:
		return fmt.Errorf("max_number_of_neurons must be between 1 and %d", maxNumberOfNeuronsCeiling)
	case p.MaxDissolveDelaySeconds == nil:
		return fmt.Errorf("max_dissolve_delay_seconds must be set")
	case p.NeuronMinimumDissolveDelayToVoteSeconds == nil:
		return fmt.Errorf("neuron_minimum_dissolve_delay_to_vote_seconds must be set")
	case *p.NeuronMinimumDissolveDelayToVoteSeconds > *p.MaxDissolveDelaySeconds:
		return fmt.Errorf("neuron_minimum_dissolve_delay_to_vote_seconds must not exceed max_dissolve_delay_seconds")
	case p.MaxFolloweesPerFunction == nil:
		return fmt.Errorf("max_followees_per_function must be set")
	case *p.MaxFolloweesPerFunction > maxFolloweesPerFunctionCeiling:
		return fmt.Errorf("max_followees_per_function must be at most %d", maxFolloweesPerFunctionCeiling)
	case p.MaxNeuronAgeForAgeBonus == nil:
		return fmt.Errorf("max_neuron_age_for_age_bonus must be set")
	case p.MaxNumberOfProposalsWithBallots == nil:
		return fmt.Errorf("max_number_of_proposals_with_ballots must be set")
	case *p.MaxNumberOfProposalsWithBallots == 0 || *p.MaxNumberOfProposalsWithBallots > maxNumberOfProposalsWithBallotsCeil:
		return fmt.Errorf("max_number_of_proposals_with_ballots must be between 1 and %d", maxNumberOfProposalsWithBallotsCeil)
	case p.NeuronClaimerPermissions == nil:
		return fmt.Errorf("neuron_claimer_permissions must be set")
	case p.NeuronGrantablePermissions == nil:
		return fmt.Errorf("neuron_grantable_permissions must be set")
	case p.MaxNumberOfPrincipalsPerNeuron == nil:
		return fmt.Errorf("max_number_of_principals_per_neuron must be set")
	case *p.MaxNumberOfPrincipalsPerNeuron == 0 || *p.MaxNumberOfPrincipalsPerNeuron > maxNumberOfPrincipalsPerNeuronCeiling:
		return fmt.Errorf("max_number_of_principals_per_neuron must be between 1 and %d", maxNumberOfPrincipalsPerNeuronCeiling)
	case p.MaxDissolveDelayBonusPercentage == nil:
		return fmt.Errorf("max_dissolve_delay_bonus_percentage must be set")
	case *p.MaxDissolveDelayBonusPercentage > maxDissolveDelayBonusPercentageCeil:
		return fmt.Errorf("max_dissolve_delay_bonus_percentage must be at most %d", maxDissolveDelayBonusPercentageCeil)
	case p.MaxAgeBonusPercentage == nil:
		return fmt.Errorf("max_age_bonus_percentage must be set")
	case *p.MaxAgeBonusPercentage > maxAgeBonusPercentageCeiling:
		return fmt.Errorf("max_age_bonus_percentage must be at most %d", maxAgeBonusPercentageCeiling)
	}

	for fn, followees := range p.DefaultFollowees.Followees {
		if uint64(len(followees)) > *p.MaxFolloweesPerFunction {
			return fmt.Errorf("too many default followees for function %d", fn)
		}
	}
	if p.VotingRewardsParameters != nil {
		if err := p.VotingRewardsParameters.validate(); err != nil {
			return err
		}
	}
	return nil
}

// checkPermissionsAreGrantable fails unless every permission in l may be
// granted by a neuron to another principal.
func (p *NervousSystemParameters) checkPermissionsAreGrantable(l *NeuronPermissionList) error {
	var illegal []PermissionType
	for _, perm := range l.Permissions {
		if !p.NeuronGrantablePermissions.contains(perm) {
			illegal = append(illegal, perm)
		}
	}
	if len(illegal) > 0 {
		return newError(ErrorTypeAccessControlList,
			"Cannot grant permissions %v, grantable permissions are %v", illegal, p.NeuronGrantablePermissions.Permissions)
	}
	return nil
}

func (v *VotingRewardsParameters) validate() error {
	switch {
	case val(v.RoundDurationSeconds) == 0:
		return fmt.Errorf("round_duration_seconds must be positive")
	case v.RewardRateTransitionDurationSeconds == nil:
		return fmt.Errorf("reward_rate_transition_duration_seconds must be set")
	case v.InitialRewardRateBasisPoints == nil || v.FinalRewardRateBasisPoints == nil:
		return fmt.Errorf("initial and final reward rates must be set")
	case *v.InitialRewardRateBasisPoints > maxRewardRateBasisPoints:
		return fmt.Errorf("initial_reward_rate_basis_points must be at most %d", maxRewardRateBasisPoints)
	case *v.FinalRewardRateBasisPoints > *v.InitialRewardRateBasisPoints:
		return fmt.Errorf("final_reward_rate_basis_points must not exceed initial_reward_rate_basis_points")
	}
	return nil
}

// mostRecentRound is the index of the last reward round that ended.
func (v *VotingRewardsParameters) mostRecentRound(now, genesis uint64) uint64 {
	d := val(v.RoundDurationSeconds)
	if d == 0 || now < genesis {
		return 0
	}
	return (now - genesis) / d
}

// rewardRateBasisPoints is the annual reward rate during a round. It moves
// from the initial to the final rate along a parabola over the transition,
// then stays at the final rate.
func (v *VotingRewardsParameters) rewardRateBasisPoints(round uint64) num.Decimal {
	initial := num.DecimalFromUint64(val(v.InitialRewardRateBasisPoints))
	final := num.DecimalFromUint64(val(v.FinalRewardRateBasisPoints))
	transition := val(v.RewardRateTransitionDurationSeconds)
	elapsed := num.UintZero().AddUint64(round).MulUint64(val(v.RoundDurationSeconds))
	if transition == 0 || elapsed.GTE(num.NewUint(transition)) {
		return final
	}
	remaining := num.DecimalOne().Sub(
		num.DecimalFromUint(elapsed).Div(num.DecimalFromUint64(transition)))
	return final.Add(initial.Sub(final).Mul(remaining).Mul(remaining))
}

// rewardsPurse is the amount minted for rounds first..last, both included.
func (v *VotingRewardsParameters) rewardsPurse(supply, first, last uint64) num.Decimal {
	d := num.DecimalFromUint64(val(v.RoundDurationSeconds))
	sum := num.DecimalZero()
	for r := first; r <= last; r++ {
		sum = sum.Add(v.rewardRateBasisPoints(r).Mul(d))
	}
	denom := num.DecimalFromUint64(maxRewardRateBasisPoints).Mul(num.DecimalFromUint64(secondsPerYear))
	return num.DecimalFromUint64(supply).Mul(sum).Div(denom)
}

// render lists the fields set on p, one per line.
func (p *NervousSystemParameters) render() string {
	var sb strings.Builder
	v := reflect.ValueOf(p).Elem()
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.IsNil() {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %+v\n", t.Field(i).Name, f.Elem().Interface())
	}
	return sb.String()
}
