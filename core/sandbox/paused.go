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

package sandbox

import (
	"context"
	"fmt"

	"code.icreplica.io/replica/core/sandbox/ipc"
	"code.icreplica.io/replica/core/state"
	"code.icreplica.io/replica/logging"

	"go.uber.org/atomic"
)

// PausedExecution is an execution that ran out of slice instructions. It
// keeps its sandbox alive until it is resumed to completion or aborted.
type PausedExecution struct {
	controller *Controller
	process    *Process
	pending    pendingExecution
	used       atomic.Bool
}

func (pe *PausedExecution) ExecID() ipc.ExecID {
	return pe.pending.execID
}

// Resume runs the next slice. es must be the state the execution started
// from.
func (pe *PausedExecution) Resume(ctx context.Context, es *state.ExecutionState) (ExecutionResult, error) {
	if !pe.used.CompareAndSwap(false, true) {
		return ExecutionResult{}, ErrPausedUsed
	}
	p, c := pe.process, pe.controller
	defer p.release()

	id := pe.pending.execID
	done := make(chan ipc.CompletionResult, 1)
	p.executions.registerWithID(id, completionCallback(p, done))

	p.history.record(fmt.Sprintf("ResumeExecution(exec_id=%d)", id))
	if err := p.service.ResumeExecution(id); err != nil {
		p.executions.unregister(id)
		return ExecutionResult{}, fmt.Errorf("could not resume execution: %w", err)
	}

	res, err := c.wait(ctx, p, id, done)
	if err != nil {
		return ExecutionResult{}, err
	}
	return c.processCompletion(p, pe.pending, es, res), nil
}

// Abort drops the execution. The memory ids reserved for it are never used.
func (pe *PausedExecution) Abort() {
	if !pe.used.CompareAndSwap(false, true) {
		return
	}
	p := pe.process
	defer p.release()

	id := pe.pending.execID
	p.history.record(fmt.Sprintf("AbortExecution(exec_id=%d)", id))
	if err := p.service.AbortExecution(id); err != nil {
		p.log.Debug("could not abort execution", logging.ExecID(uint64(id)), logging.Error(err))
	}
}
