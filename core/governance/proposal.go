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
	"code.icreplica.io/replica/libs/num"
)

// minimumYesProportionOfTotal is the share of the total voting power, in
// percent, that must vote yes for a proposal to be adopted.
const minimumYesProportionOfTotal = 3

func (p *ProposalData) Status() ProposalDecisionStatus {
	switch {
	case p.DecidedTimestampSeconds == 0:
		return ProposalStatusOpen
	case !p.isAccepted():
		return ProposalStatusRejected
	case p.ExecutedTimestampSeconds > 0:
		return ProposalStatusExecuted
	case p.FailedTimestampSeconds > 0:
		return ProposalStatusFailed
	default:
		return ProposalStatusAdopted
	}
}

func (p *ProposalData) deadline() uint64 {
	if p.WaitForQuietState == nil {
		return p.ProposalCreationTimestampSeconds + p.InitialVotingPeriodSeconds
	}
	return p.WaitForQuietState.CurrentDeadlineTimestampSeconds
}

func (p *ProposalData) acceptsVotes(now uint64) bool {
	return now < p.deadline()
}

func (p *ProposalData) RewardStatus(now uint64) ProposalRewardStatus {
	switch {
	case p.RewardEventRound > 0:
		return RewardStatusSettled
	case !p.IsEligibleForRewards:
		return RewardStatusIneligible
	case p.acceptsVotes(now):
		return RewardStatusAcceptVotes
	default:
		return RewardStatusReadyToSettle
	}
}

// canBePurged holds once nothing can happen to the proposal anymore.
func (p *ProposalData) canBePurged(now uint64) bool {
	switch p.Status() {
	case ProposalStatusRejected, ProposalStatusExecuted, ProposalStatusFailed:
	default:
		return false
	}
	switch p.RewardStatus(now) {
	case RewardStatusSettled, RewardStatusIneligible:
		return true
	}
	return false
}

// recomputeTally sums the ballots. A change of the winning side extends
// the deadline.
func (p *ProposalData) recomputeTally(now uint64) {
	var yes, no, total uint64
	for _, b := range p.Ballots {
		total += b.VotingPower
		switch b.Vote {
		case VoteYes:
			yes += b.VotingPower
		case VoteNo:
			no += b.VotingPower
		}
	}
	tally := &Tally{TimestampSeconds: now, Yes: yes, No: no, Total: total}
	if p.LatestTally != nil && p.WaitForQuietState != nil {
		p.evaluateWaitForQuiet(now, p.LatestTally, tally)
	}
	p.LatestTally = tally
}

// evaluateWaitForQuiet moves the deadline so that the side that just took
// the lead can be answered. The later the flip, the smaller the extension.
func (p *ProposalData) evaluateWaitForQuiet(now uint64, old, current *Tally) {
	deadline := p.WaitForQuietState.CurrentDeadlineTimestampSeconds
	if now > deadline {
		return
	}
	if (old.Yes > old.No) == (current.Yes > current.No) {
		return
	}

	// flips keep the deadline within creation + T + 2W
	elapsed := subSat(now, p.ProposalCreationTimestampSeconds)
	required := subSat(p.WaitForQuietDeadlineIncreaseSeconds+p.InitialVotingPeriodSeconds/2, elapsed/2)
	if next := now + required; next > deadline {
		p.WaitForQuietState.CurrentDeadlineTimestampSeconds = next
	}
}

func (p *ProposalData) canMakeDecision(now uint64) bool {
	t := p.LatestTally
	if t == nil {
		return false
	}
	return t.Yes > t.Total-t.Yes || t.No >= t.Total-t.No || now > p.deadline()
}

func (p *ProposalData) isAccepted() bool {
	t := p.LatestTally
	if t == nil || t.Yes <= t.No {
		return false
	}
	yes := num.NewUint(t.Yes).MulUint64(100)
	min := num.NewUint(t.Total).MulUint64(minimumYesProportionOfTotal)
	return yes.GTE(min)
}

func (p *ProposalData) setExecutionStatus(now uint64, err error) {
	if err == nil {
		p.ExecutedTimestampSeconds = now
		p.FailureReason = nil
		return
	}
	// an executed proposal stays executed
	if p.ExecutedTimestampSeconds == 0 {
		p.FailedTimestampSeconds = now
		p.FailureReason = externalError(err)
	}
}
