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
	"fmt"
	"runtime"
	"sync"

	"code.icreplica.io/replica/core/sandbox/ipc"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"
)

// Process is a running sandbox. It is shared by the backend slot of its
// canister, the memories it holds, paused executions and callers waiting
// for a completion. Each of them owns one reference; the process is
// terminated when the last one is released.
type Process struct {
	log        *logging.Logger
	canisterID types.CanisterID
	pid        int
	service    ipc.SandboxService
	executions *executionRegistry
	history    *history

	mu   sync.Mutex
	refs int

	exitOnce sync.Once
	exited   chan struct{}
}

func newProcess(log *logging.Logger, id types.CanisterID, pid int, service ipc.SandboxService, executions *executionRegistry, historySize int) *Process {
	return &Process{
		log:        log,
		canisterID: id,
		pid:        pid,
		service:    service,
		executions: executions,
		history:    newHistory(historySize),
		refs:       1,
		exited:     make(chan struct{}),
	}
}

func (p *Process) PID() int {
	return p.pid
}

func (p *Process) CanisterID() types.CanisterID {
	return p.canisterID
}

// acquire adds a reference. It fails once the process is terminated.
func (p *Process) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == 0 {
		return false
	}
	p.refs++
	return true
}

// release drops a reference and terminates the process with the last one.
func (p *Process) release() {
	p.mu.Lock()
	p.refs--
	if p.refs > 0 {
		p.mu.Unlock()
		return
	}
	if p.refs < 0 {
		p.mu.Unlock()
		panic(fmt.Sprintf("sandbox process for canister %s released too many times", p.canisterID))
	}
	p.mu.Unlock()

	p.history.record("Terminate()")
	if err := p.service.Terminate(); err != nil {
		p.log.Debug("could not terminate sandbox process",
			logging.CanisterID(p.canisterID.String()),
			logging.PID(p.pid),
			logging.Error(err))
	}
}

// alive reports whether the process is still referenced and running.
func (p *Process) alive() bool {
	if p.hasExited() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs > 0
}

func (p *Process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

func (p *Process) weak() processRef {
	return processRef{p: p}
}

// markExited unblocks the callers waiting on executions of a process that
// is gone.
func (p *Process) markExited() {
	p.exitOnce.Do(func() { close(p.exited) })
}

// processRef is a reference that does not keep the process alive.
type processRef struct {
	p *Process
}

// upgrade returns the process with a new reference, which the caller must
// release. It fails for a process that exited.
func (r processRef) upgrade() (*Process, bool) {
	if r.p == nil || r.p.hasExited() || !r.p.acquire() {
		return nil, false
	}
	return r.p, true
}

func (r processRef) alive() bool {
	return r.p != nil && r.p.alive()
}

// history keeps the last operations sent to a sandbox, for crash
// diagnostics only.
type history struct {
	mu      sync.Mutex
	entries []string
	next    int
	full    bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 1
	}
	return &history{entries: make([]string, size)}
}

func (h *history) record(entry string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = entry
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// snapshot returns the entries oldest first.
func (h *history) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]string(nil), h.entries[:h.next]...)
	}
	out := make([]string, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}

// openedMemory is a memory loaded in a sandbox. It keeps the process alive
// until closed.
type openedMemory struct {
	process *Process
	id      ipc.MemoryID
	once    sync.Once
}

// newOpenedMemory must be called while the caller holds a reference on p.
func newOpenedMemory(p *Process, id ipc.MemoryID) *openedMemory {
	p.acquire()
	m := &openedMemory{process: p, id: id}
	runtime.SetFinalizer(m, (*openedMemory).Close)
	return m
}

func (m *openedMemory) MemoryID() uint64 {
	return uint64(m.id)
}

// Close releases the memory in the sandbox. It is safe to call more than
// once.
func (m *openedMemory) Close() {
	m.once.Do(func() {
		runtime.SetFinalizer(m, nil)
		m.process.history.record(fmt.Sprintf("CloseMemory(memory_id=%d)", m.id))
		if err := m.process.service.CloseMemory(m.id); err != nil {
			m.process.log.Debug("could not close sandbox memory", logging.MemoryID(uint64(m.id)), logging.Error(err))
		}
		m.process.release()
	})
}

// openedWasm is a module compiled in a sandbox. It does not keep the
// process alive.
type openedWasm struct {
	process processRef
	id      ipc.WasmID
	once    sync.Once
}

func newOpenedWasm(p *Process, id ipc.WasmID) *openedWasm {
	w := &openedWasm{process: p.weak(), id: id}
	runtime.SetFinalizer(w, (*openedWasm).Close)
	return w
}

// Close unloads the module unless the process is already gone.
func (w *openedWasm) Close() {
	w.once.Do(func() {
		runtime.SetFinalizer(w, nil)
		p, ok := w.process.upgrade()
		if !ok {
			return
		}
		defer p.release()
		p.history.record(fmt.Sprintf("CloseWasm(wasm_id=%d)", w.id))
		if err := p.service.CloseWasm(w.id); err != nil {
			p.log.Debug("could not close sandbox wasm", logging.WasmID(uint64(w.id)), logging.Error(err))
		}
	})
}
