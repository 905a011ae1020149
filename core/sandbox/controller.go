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

// Package sandbox runs canister executions in sandbox processes, one per
// canister, and keeps the modules and memories loaded in them in sync with
// the replicated state.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"code.icreplica.io/replica/core/sandbox/ipc"
	"code.icreplica.io/replica/core/state"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"
	"code.icreplica.io/replica/metrics"

	"go.uber.org/atomic"
)

//go:generate go run github.com/golang/mock/mockgen -destination mocks/launcher_mock.go -package mocks code.icreplica.io/replica/core/sandbox Launcher

var (
	ErrSandboxExited = errors.New("sandbox process exited")
	ErrDirtyMemory   = errors.New("memory has pages that were never synced with a sandbox")
	ErrPausedUsed    = errors.New("paused execution was already resumed or aborted")
)

// Launcher starts one sandbox process per canister. Completions pushed by
// the sandbox are forwarded to controller.
type Launcher interface {
	LaunchSandbox(ctx context.Context, id types.CanisterID, controller ipc.ControllerService) (ipc.SandboxService, int, error)
}

type slotState int

const (
	slotEmpty slotState = iota
	slotActive
	slotEvicted
)

func (s slotState) String() string {
	switch s {
	case slotActive:
		return "active"
	case slotEvicted:
		return "evicted"
	default:
		return "empty"
	}
}

// backendSlot holds the sandbox of a canister. An active slot keeps the
// process alive, an evicted one only remembers it.
type backendSlot struct {
	state    slotState
	process  *Process
	ref      processRef
	lastUsed time.Time
}

// ExecutionInput describes one message to run.
type ExecutionInput struct {
	CanisterID              types.CanisterID
	APIType                 string
	FuncRef                 string
	Payload                 []byte
	MessageInstructionLimit types.NumInstructions
	SliceInstructionLimit   types.NumInstructions
	CurrentMemoryUsage      uint64
}

// StateChanges is what a successful execution changed.
type StateChanges struct {
	ExecutionState     *state.ExecutionState
	SystemStateChanges []byte
}

// ExecutionResult is either a finished execution or a paused one.
type ExecutionResult struct {
	Slice ipc.SliceOutput
	// Output is set when the execution finished.
	Output ipc.WasmOutput
	// StateChanges is set when the execution finished without trapping.
	StateChanges *StateChanges
	// Paused is set when the execution stopped at a slice boundary.
	Paused *PausedExecution
}

func (r ExecutionResult) IsPaused() bool {
	return r.Paused != nil
}

type Controller struct {
	log      *logging.Logger
	cfg      Config
	launcher Launcher
	cache    *CompilationCache
	m        *controllerMetrics
	now      func() time.Time

	idleTimeout  *atomic.Duration
	nextWasmID   atomic.Uint64
	nextMemoryID atomic.Uint64

	mu       sync.Mutex
	backends map[types.CanisterID]*backendSlot
}

func NewController(log *logging.Logger, cfg Config, launcher Launcher, cache *CompilationCache, reg *metrics.Registry) (*Controller, error) {
	log = log.Named(namedLogger)
	log.SetLevel(cfg.Level.Get())

	m, err := newControllerMetrics(reg)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		if cache, err = NewCompilationCache(cfg.CompilationCacheSize); err != nil {
			return nil, err
		}
	}

	return &Controller{
		log:         log,
		cfg:         cfg,
		launcher:    launcher,
		cache:       cache,
		m:           m,
		now:         time.Now,
		idleTimeout: atomic.NewDuration(cfg.IdleTimeout.Get()),
		backends:    map[types.CanisterID]*backendSlot{},
	}, nil
}

// ReloadConf updates the internal configuration of the controller.
func (c *Controller) ReloadConf(cfg Config) {
	c.log.Info("reloading configuration")
	if c.log.GetLevel() != cfg.Level.Get() {
		c.log.Info("updating log level",
			logging.String("old", c.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		c.log.SetLevel(cfg.Level.Get())
	}
	if old := c.idleTimeout.Swap(cfg.IdleTimeout.Get()); old != cfg.IdleTimeout.Get() {
		c.log.Info("updating sandbox idle timeout",
			logging.Duration("old", old),
			logging.Duration("new", cfg.IdleTimeout.Get()),
		)
	}
}

func (c *Controller) newWasmID() ipc.WasmID {
	return ipc.WasmID(c.nextWasmID.Inc())
}

func (c *Controller) newMemoryID() ipc.MemoryID {
	return ipc.MemoryID(c.nextMemoryID.Inc())
}

// CreateExecutionState compiles module in the sandbox of the canister and
// returns the initial execution state along with the compilation cost.
// The compilation result is only set when the module was compiled rather
// than found in the compilation cache.
func (c *Controller) CreateExecutionState(ctx context.Context, module *state.CanisterModule, canisterRoot string, id types.CanisterID) (*state.ExecutionState, types.NumInstructions, *ipc.CompilationResult, error) {
	defer func(start time.Time) {
		c.m.createStateDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	p, err := c.getProcess(ctx, id)
	if err != nil {
		return nil, 0, nil, err
	}
	defer p.release()

	var (
		wb               = state.NewWasmBinary(module)
		hash             = module.ModuleHash()
		wasmID           = c.newWasmID()
		wasmPageMap      = state.EmptyMemory().PageMap
		nextWasmMemoryID = c.newMemoryID()
		reply            *ipc.CreateExecutionStateReply
		serialized       *ipc.SerializedModule
		compilation      *ipc.CompilationResult
	)

	cached, cerr, ok := c.cache.Get(hash)
	switch {
	case !ok:
		c.m.lookup(lookupCacheMiss)
		src, err := module.Bytes()
		if err != nil {
			return nil, 0, nil, fmt.Errorf("could not read wasm module: %w", err)
		}
		p.history.record(fmt.Sprintf("CreateExecutionState(wasm_id=%d, next_wasm_memory_id=%d)", wasmID, nextWasmMemoryID))
		reply, err = p.service.CreateExecutionState(ctx, ipc.CreateExecutionStateRequest{
			WasmID:           wasmID,
			WasmBinary:       src,
			WasmPageMap:      wasmPageMap.Serialize(),
			NextWasmMemoryID: nextWasmMemoryID,
			CanisterID:       id,
		})
		if err != nil {
			if !ipc.IsRemote(err) {
				return nil, 0, nil, fmt.Errorf("could not create execution state: %w", err)
			}
			cerr := compilationError(err)
			c.cache.InsertError(hash, cerr)
			return nil, 0, nil, cerr
		}
		if reply.Module == nil {
			return nil, 0, nil, errors.New("sandbox did not return the compiled module")
		}
		serialized, compilation = reply.Module, reply.Compilation
		c.cache.InsertModule(hash, serialized)
	case cerr != nil:
		c.m.lookup(lookupCompilationCacheHitError)
		return nil, 0, nil, cerr
	default:
		c.m.lookup(lookupCompilationCacheHit)
		p.history.record(fmt.Sprintf("CreateExecutionStateSerialized(wasm_id=%d, next_wasm_memory_id=%d)", wasmID, nextWasmMemoryID))
		reply, err = p.service.CreateExecutionStateSerialized(ctx, ipc.CreateExecutionStateSerializedRequest{
			WasmID:           wasmID,
			Module:           *cached,
			WasmPageMap:      wasmPageMap.Serialize(),
			NextWasmMemoryID: nextWasmMemoryID,
			CanisterID:       id,
		})
		if err != nil {
			if ipc.IsRemote(err) {
				return nil, 0, nil, compilationError(err)
			}
			return nil, 0, nil, fmt.Errorf("could not create execution state: %w", err)
		}
		serialized = cached
	}

	c.cacheOpenedWasm(wb, p, wasmID)

	mods := reply.WasmMemoryModifications
	wasmMemory := state.NewMemory(wasmPageMap, mods.Size)
	wasmMemory.PageMap.DeserializeDelta(mods.PageDelta)
	wasmMemory.Sandbox = state.NewSyncedSandboxMemory(newOpenedMemory(p, nextWasmMemoryID))
	if err := wasmMemory.VerifySize(); err != nil {
		c.log.Error("canister has an invalid initial wasm memory size",
			logging.CanisterID(id.String()),
			logging.String("kind", errInvalidMemorySize),
			logging.Error(err))
		c.m.invalidMemorySize.Inc()
	}

	es := &state.ExecutionState{
		CanisterRoot:      canisterRoot,
		WasmBinary:        wb,
		WasmMemory:        wasmMemory,
		StableMemory:      state.EmptyMemory(),
		ExportedGlobals:   reply.ExportedGlobals,
		ExportedFunctions: state.SortExports(serialized.ExportedFunctions),
		Metadata:          serialized.Metadata,
	}
	return es, serialized.CompilationCost, compilation, nil
}

// Execute runs a message against es in the sandbox of the canister and
// blocks until it finishes or pauses.
func (c *Controller) Execute(ctx context.Context, in ExecutionInput, es *state.ExecutionState) (*ipc.CompilationResult, ExecutionResult, error) {
	defer c.m.observeExecute(in.APIType, time.Now())

	p, err := c.getProcess(ctx, in.CanisterID)
	if err != nil {
		return nil, ExecutionResult{}, err
	}
	defer p.release()

	wasmID, compilation, err := c.openWasm(ctx, p, es.WasmBinary)
	if err != nil {
		return nil, ExecutionResult{}, err
	}

	wasmMemoryID, closeWasmMemory, err := c.openRemoteMemory(p, es.WasmMemory)
	if err != nil {
		return nil, ExecutionResult{}, err
	}
	defer closeWasmMemory()
	stableMemoryID, closeStableMemory, err := c.openRemoteMemory(p, es.StableMemory)
	if err != nil {
		return nil, ExecutionResult{}, err
	}
	defer closeStableMemory()

	nextWasmMemoryID := c.newMemoryID()
	nextStableMemoryID := c.newMemoryID()

	done := make(chan ipc.CompletionResult, 1)
	execID := p.executions.register(completionCallback(p, done))

	p.history.record(fmt.Sprintf(
		"StartExecution(exec_id=%d wasm_id=%d wasm_memory_id=%d stable_memory_id=%d api_type=%s next_wasm_memory_id=%d next_stable_memory_id=%d)",
		execID, wasmID, wasmMemoryID, stableMemoryID, in.APIType, nextWasmMemoryID, nextStableMemoryID))
	err = p.service.StartExecution(ipc.StartExecutionRequest{
		ExecID:         execID,
		WasmID:         wasmID,
		WasmMemoryID:   wasmMemoryID,
		StableMemoryID: stableMemoryID,
		Input: ipc.ExecInput{
			FuncRef:                 in.FuncRef,
			APIType:                 in.APIType,
			Payload:                 in.Payload,
			Globals:                 es.ExportedGlobals,
			MessageInstructionLimit: in.MessageInstructionLimit,
			SliceInstructionLimit:   in.SliceInstructionLimit,
			CanisterID:              in.CanisterID,
			CurrentMemoryUsage:      in.CurrentMemoryUsage,
			NextWasmMemoryID:        nextWasmMemoryID,
			NextStableMemoryID:      nextStableMemoryID,
		},
	})
	if err != nil {
		p.executions.unregister(execID)
		return nil, ExecutionResult{}, fmt.Errorf("could not start execution: %w", err)
	}

	res, err := c.wait(ctx, p, execID, done)
	if err != nil {
		return nil, ExecutionResult{}, err
	}

	pending := pendingExecution{
		execID:                  execID,
		canisterID:              in.CanisterID,
		apiType:                 in.APIType,
		messageInstructionLimit: in.MessageInstructionLimit,
		nextWasmMemoryID:        nextWasmMemoryID,
		nextStableMemoryID:      nextStableMemoryID,
	}
	return compilation, c.processCompletion(p, pending, es, res), nil
}

// pendingExecution is what is needed to handle the completions of an
// execution.
type pendingExecution struct {
	execID                  ipc.ExecID
	canisterID              types.CanisterID
	apiType                 string
	messageInstructionLimit types.NumInstructions
	nextWasmMemoryID        ipc.MemoryID
	nextStableMemoryID      ipc.MemoryID
}

func completionCallback(p *Process, done chan<- ipc.CompletionResult) completionFunc {
	ref := p.weak()
	return func(id ipc.ExecID, res ipc.CompletionResult) {
		if p, ok := ref.upgrade(); ok {
			p.history.record(fmt.Sprintf("Completion(exec_id=%d)", id))
			p.release()
		}
		done <- res
	}
}

func (c *Controller) wait(ctx context.Context, p *Process, id ipc.ExecID, done <-chan ipc.CompletionResult) (ipc.CompletionResult, error) {
	select {
	case res := <-done:
		return res, nil
	case <-p.exited:
		p.executions.unregister(id)
		return ipc.CompletionResult{}, ErrSandboxExited
	case <-ctx.Done():
		p.executions.unregister(id)
		p.history.record(fmt.Sprintf("AbortExecution(exec_id=%d)", id))
		if err := p.service.AbortExecution(id); err != nil {
			c.log.Debug("could not abort execution", logging.ExecID(uint64(id)), logging.Error(err))
		}
		return ipc.CompletionResult{}, ctx.Err()
	}
}

func (c *Controller) processCompletion(p *Process, pe pendingExecution, es *state.ExecutionState, res ipc.CompletionResult) ExecutionResult {
	if res.Paused {
		p.acquire()
		return ExecutionResult{
			Slice: res.Output.Slice,
			Paused: &PausedExecution{
				controller: c,
				process:    p,
				pending:    pe,
			},
		}
	}

	out := res.Output
	// a compromised sandbox could report more instructions than it was given
	if out.Wasm.InstructionsLeft > pe.messageInstructionLimit {
		c.log.Error("canister completed execution with more instructions left than the initial limit",
			logging.CanisterID(pe.canisterID.String()),
			logging.Uint64("instructions-left", uint64(out.Wasm.InstructionsLeft)),
			logging.Uint64("limit", uint64(pe.messageInstructionLimit)))
		c.m.instructionsClamped.Inc()
		out.Wasm.InstructionsLeft = pe.messageInstructionLimit
	}

	return ExecutionResult{
		Slice:        out.Slice,
		Output:       out.Wasm,
		StateChanges: c.updateExecutionState(p, pe, es, out),
	}
}

// updateExecutionState applies the sandbox modifications to a copy of es.
// The memories of the copy are already loaded in the sandbox under the ids
// reserved when the execution started.
func (c *Controller) updateExecutionState(p *Process, pe pendingExecution, es *state.ExecutionState, out ipc.ExecOutput) *StateChanges {
	if out.Wasm.Failed() || out.State == nil {
		return nil
	}
	mods := out.State

	next := es.Clone()
	next.ExportedGlobals = mods.Globals

	next.WasmMemory.PageMap.DeserializeDelta(mods.WasmMemory.PageDelta)
	next.WasmMemory.Size = mods.WasmMemory.Size
	next.WasmMemory.Sandbox = state.NewSyncedSandboxMemory(newOpenedMemory(p, pe.nextWasmMemoryID))

	next.StableMemory.PageMap.DeserializeDelta(mods.StableMemory.PageDelta)
	next.StableMemory.Size = mods.StableMemory.Size
	next.StableMemory.Sandbox = state.NewSyncedSandboxMemory(newOpenedMemory(p, pe.nextStableMemoryID))

	return &StateChanges{
		ExecutionState:     next,
		SystemStateChanges: mods.SystemStateChanges,
	}
}

// openWasm makes sure the module of wb is loaded in p, compiling it only
// when neither cache knows it.
func (c *Controller) openWasm(ctx context.Context, p *Process, wb *state.WasmBinary) (ipc.WasmID, *ipc.CompilationResult, error) {
	switch cached := wb.EmbedderCache.Get().(type) {
	case *openedWasm:
		if owner, ok := cached.process.upgrade(); ok {
			owner.release()
			if owner == p {
				c.m.lookup(lookupEmbedderCacheHitSuccess)
				return cached.id, nil, nil
			}
		}
		c.m.lookup(lookupEmbedderCacheHitSandboxEvicted)
	case *CompilationError:
		c.m.lookup(lookupEmbedderCacheHitCompilationError)
		return 0, nil, cached
	}

	wasmID := c.newWasmID()
	hash := wb.Binary.ModuleHash()
	module, cerr, ok := c.cache.Get(hash)
	switch {
	case !ok:
		c.m.lookup(lookupCacheMiss)
		src, err := wb.Binary.Bytes()
		if err != nil {
			return 0, nil, fmt.Errorf("could not read wasm module: %w", err)
		}
		p.history.record(fmt.Sprintf("OpenWasm(wasm_id=%d)", wasmID))
		reply, err := p.service.OpenWasm(ctx, ipc.OpenWasmRequest{WasmID: wasmID, WasmSrc: src})
		if err != nil {
			if !ipc.IsRemote(err) {
				return 0, nil, fmt.Errorf("could not open wasm in sandbox: %w", err)
			}
			cerr := compilationError(err)
			c.cache.InsertError(hash, cerr)
			c.cacheErroredWasm(wb, cerr)
			return 0, nil, cerr
		}
		c.cacheOpenedWasm(wb, p, wasmID)
		c.cache.InsertModule(hash, &reply.Module)
		return wasmID, &reply.Compilation, nil
	case cerr != nil:
		c.m.lookup(lookupCompilationCacheHitError)
		c.cacheErroredWasm(wb, cerr)
		return 0, nil, cerr
	default:
		c.m.lookup(lookupCompilationCacheHit)
		p.history.record(fmt.Sprintf("OpenWasmSerialized(wasm_id=%d)", wasmID))
		err := p.service.OpenWasmSerialized(ipc.OpenWasmSerializedRequest{
			WasmID: wasmID,
			Module: ipc.MarshalSerializedModule(*module),
		})
		if err != nil {
			return 0, nil, fmt.Errorf("could not open wasm in sandbox: %w", err)
		}
		c.cacheOpenedWasm(wb, p, wasmID)
		return wasmID, nil, nil
	}
}

func (c *Controller) cacheOpenedWasm(wb *state.WasmBinary, p *Process, id ipc.WasmID) {
	if old, ok := wb.EmbedderCache.Swap(newOpenedWasm(p, id)).(*openedWasm); ok {
		old.Close()
	}
}

func (c *Controller) cacheErroredWasm(wb *state.WasmBinary, err *CompilationError) {
	if old, ok := wb.EmbedderCache.Swap(err).(*openedWasm); ok {
		old.Close()
	}
}

func compilationError(err error) *CompilationError {
	var re *ipc.RemoteError
	if errors.As(err, &re) {
		return &CompilationError{Message: re.Message}
	}
	return &CompilationError{Message: err.Error()}
}

// openRemoteMemory returns the id of m in p, loading it first if needed.
// The returned func releases a copy that only serves this execution.
func (c *Controller) openRemoteMemory(p *Process, m *state.Memory) (ipc.MemoryID, func(), error) {
	if remote, ok := m.Sandbox.Synced(); ok {
		if om, ok := remote.(*openedMemory); !ok || om.process == p {
			return ipc.MemoryID(remote.MemoryID()), func() {}, nil
		}
		// the sandbox holding the memory exited, load it in the new one
		om, err := c.loadMemory(p, m)
		if err != nil {
			return 0, nil, err
		}
		return om.id, om.Close, nil
	}

	// every page written by a sandbox is synced when it is received
	if m.PageMap.DirtyPages() != 0 {
		return 0, nil, ErrDirtyMemory
	}
	om, err := c.loadMemory(p, m)
	if err != nil {
		return 0, nil, err
	}
	if synced := m.Sandbox.Sync(om); synced != om {
		om.Close()
		return ipc.MemoryID(synced.MemoryID()), func() {}, nil
	}
	return om.id, func() {}, nil
}

func (c *Controller) loadMemory(p *Process, m *state.Memory) (*openedMemory, error) {
	id := c.newMemoryID()
	p.history.record(fmt.Sprintf("OpenMemory(memory_id=%d)", id))
	err := p.service.OpenMemory(ipc.OpenMemoryRequest{
		MemoryID: id,
		Memory:   ipc.MemorySerialization{PageMap: m.PageMap.Serialize(), NumWasmPages: m.Size},
	})
	if err != nil {
		return nil, fmt.Errorf("could not open memory in sandbox: %w", err)
	}
	return newOpenedMemory(p, id), nil
}

// getProcess returns the sandbox of the canister with a reference the
// caller must release, spawning one if needed.
func (c *Controller) getProcess(ctx context.Context, id types.CanisterID) (*Process, error) {
	now := c.now()

	c.mu.Lock()
	p := c.reuseLocked(id, now)
	c.mu.Unlock()
	if p != nil {
		return p, nil
	}

	start := time.Now()
	executions := newExecutionRegistry(c.log)
	service, pid, err := c.launcher.LaunchSandbox(ctx, id, executions)
	if err != nil {
		return nil, fmt.Errorf("could not launch sandbox for canister %s: %w", id, err)
	}
	c.m.spawnDuration.Observe(time.Since(start).Seconds())
	p = newProcess(c.log, id, pid, service, executions, c.cfg.HistorySize)

	c.mu.Lock()
	if existing := c.reuseLocked(id, now); existing != nil {
		c.mu.Unlock()
		// spawned concurrently by another caller
		p.release()
		return existing, nil
	}
	slot := &backendSlot{state: slotEvicted, ref: p.weak(), lastUsed: now}
	if c.idleTimeout.Load() > 0 {
		p.acquire()
		slot = &backendSlot{state: slotActive, process: p, lastUsed: now}
	}
	c.backends[id] = slot
	c.mu.Unlock()

	c.log.Debug("spawned sandbox process",
		logging.CanisterID(id.String()),
		logging.PID(pid))
	return p, nil
}

// reuseLocked returns the live process of a slot with a new reference and
// marks the slot as used. c.mu must be held.
func (c *Controller) reuseLocked(id types.CanisterID, now time.Time) *Process {
	slot, ok := c.backends[id]
	if !ok {
		return nil
	}

	var p *Process
	switch slot.state {
	case slotActive:
		if !slot.process.acquire() {
			return nil
		}
		p = slot.process
	case slotEvicted:
		if p, ok = slot.ref.upgrade(); !ok {
			return nil
		}
	default:
		return nil
	}

	// the caller holds a reference, so the releases below never terminate p
	if c.idleTimeout.Load() > 0 {
		if slot.state == slotEvicted {
			p.acquire()
		}
		slot.state, slot.process, slot.ref = slotActive, p, processRef{}
	} else {
		if slot.state == slotActive {
			slot.process.release()
		}
		slot.state, slot.process, slot.ref = slotEvicted, nil, p.weak()
	}
	slot.lastUsed = now
	return p
}

// Stop drops the references held by active slots, terminating the sandboxes
// that are not otherwise in use.
func (c *Controller) Stop() {
	var active []*Process
	c.mu.Lock()
	for _, slot := range c.backends {
		if slot.state == slotActive {
			active = append(active, slot.process)
			slot.state, slot.process, slot.ref = slotEvicted, nil, slot.process.weak()
		}
	}
	c.mu.Unlock()
	for _, p := range active {
		p.release()
	}
}
