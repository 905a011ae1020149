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

package state

import (
	"code.icreplica.io/replica/core/types"
)

type CanisterStatus int32

const (
	CanisterStatusUnspecified CanisterStatus = iota
	CanisterStatusRunning
	CanisterStatusStopping
	CanisterStatusStopped
)

// LongExecutionMode controls how the scheduler treats a canister with an
// execution spanning several rounds.
type LongExecutionMode int32

const (
	LongExecutionModeOpportunistic LongExecutionMode = iota
	LongExecutionModePrioritized
)

type SystemState struct {
	CanisterID    types.CanisterID
	Controllers   []string
	CyclesBalance uint64
	Status        CanisterStatus
	CertifiedData []byte
	Queues        CanisterQueues
}

type SchedulerState struct {
	LastFullExecutionRound types.ExecutionRound
	ComputeAllocation      uint64
	AccumulatedPriority    int64
	// PriorityCredit and LongExecutionMode only matter while an execution
	// is paused and are not kept across a checkpoint.
	PriorityCredit    int64
	LongExecutionMode LongExecutionMode
}

// CanisterState is a canister. Execution is nil for canisters without
// installed code.
type CanisterState struct {
	System    SystemState
	Scheduler SchedulerState
	Execution *ExecutionState
}

func NewCanisterState(id types.CanisterID) *CanisterState {
	return &CanisterState{
		System: SystemState{
			CanisterID: id,
			Status:     CanisterStatusRunning,
		},
	}
}

func (c *CanisterState) ID() types.CanisterID {
	return c.System.CanisterID
}

// ResetLongExecution clears the scheduling fields tied to a paused
// execution.
func (c *CanisterState) ResetLongExecution() {
	c.Scheduler.PriorityCredit = 0
	c.Scheduler.LongExecutionMode = LongExecutionModeOpportunistic
}
