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
	"errors"
	"sync"

	"code.icreplica.io/replica/core/sandbox/ipc"
	"code.icreplica.io/replica/logging"

	"go.uber.org/atomic"
)

var ErrUnknownExecution = errors.New("completion for unknown execution")

type completionFunc func(id ipc.ExecID, result ipc.CompletionResult)

// executionRegistry maps the executions running in one sandbox to the
// callers waiting for them. Each registration receives one completion.
type executionRegistry struct {
	log    *logging.Logger
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[ipc.ExecID]completionFunc
}

func newExecutionRegistry(log *logging.Logger) *executionRegistry {
	return &executionRegistry{
		log:     log,
		pending: map[ipc.ExecID]completionFunc{},
	}
}

func (r *executionRegistry) register(fn completionFunc) ipc.ExecID {
	id := ipc.ExecID(r.nextID.Inc())
	r.registerWithID(id, fn)
	return id
}

// registerWithID is used to wait again on a paused execution.
func (r *executionRegistry) registerWithID(id ipc.ExecID, fn completionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = fn
}

func (r *executionRegistry) unregister(id ipc.ExecID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

func (r *executionRegistry) complete(id ipc.ExecID, result ipc.CompletionResult) error {
	r.mu.Lock()
	fn, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownExecution
	}
	fn(id, result)
	return nil
}

// ExecutionCompleted implements ipc.ControllerService.
func (r *executionRegistry) ExecutionCompleted(id ipc.ExecID, result ipc.CompletionResult) {
	if err := r.complete(id, result); err != nil {
		r.log.Warn("dropping completion", logging.ExecID(uint64(id)), logging.Error(err))
	}
}
