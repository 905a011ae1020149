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

package sandbox_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"code.icreplica.io/replica/core/pagemap"
	"code.icreplica.io/replica/core/sandbox"
	"code.icreplica.io/replica/core/sandbox/ipc"
	ipcmocks "code.icreplica.io/replica/core/sandbox/ipc/mocks"
	"code.icreplica.io/replica/core/sandbox/mocks"
	"code.icreplica.io/replica/core/state"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"
	"code.icreplica.io/replica/metrics"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var canister = types.CanisterIDFromU64(7)

type testController struct {
	*sandbox.Controller
	ctrl     *gomock.Controller
	launcher *mocks.MockLauncher
	svc      *ipcmocks.MockSandboxService
	reg      *metrics.Registry
	prom     *prometheus.Registry
	logs     *observer.ObservedLogs

	now        time.Time
	terminated atomic.Int64

	mu          sync.Mutex
	completions ipc.ControllerService
	memories    []ipc.MemoryID
	started     []ipc.StartExecutionRequest
}

func getTestController(t *testing.T, idle time.Duration) *testController {
	t.Helper()
	ctrl := gomock.NewController(t)
	core, logs := observer.New(zapcore.DebugLevel)
	prom := prometheus.NewRegistry()
	tc := &testController{
		ctrl:     ctrl,
		launcher: mocks.NewMockLauncher(ctrl),
		svc:      ipcmocks.NewMockSandboxService(ctrl),
		reg:      metrics.NewRegistry("replica", prom),
		prom:     prom,
		logs:     logs,
		now:      time.Unix(1_700_000_000, 0),
	}

	cfg := sandbox.NewDefaultConfig()
	cfg.IdleTimeout.Duration = idle
	c, err := sandbox.NewController(logging.NewLoggerForCore(core), cfg, tc.launcher, nil, tc.reg)
	require.NoError(t, err)
	c.SetClock(func() time.Time { return tc.now })
	tc.Controller = c

	// closes are issued by finalizers at any time
	tc.svc.EXPECT().CloseMemory(gomock.Any()).Return(nil).AnyTimes()
	tc.svc.EXPECT().CloseWasm(gomock.Any()).Return(nil).AnyTimes()
	tc.svc.EXPECT().Terminate().DoAndReturn(func() error {
		tc.terminated.Inc()
		return nil
	}).AnyTimes()
	tc.svc.EXPECT().OpenMemory(gomock.Any()).DoAndReturn(func(req ipc.OpenMemoryRequest) error {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		tc.memories = append(tc.memories, req.MemoryID)
		return nil
	}).AnyTimes()
	return tc
}

func (tc *testController) expectLaunch(pid int) *gomock.Call {
	return tc.launcher.EXPECT().LaunchSandbox(gomock.Any(), canister, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ types.CanisterID, cs ipc.ControllerService) (ipc.SandboxService, int, error) {
			tc.mu.Lock()
			defer tc.mu.Unlock()
			tc.completions = cs
			return tc.svc, pid, nil
		})
}

func (tc *testController) expectCompile() *gomock.Call {
	return tc.svc.EXPECT().OpenWasm(gomock.Any(), gomock.Any()).Return(&ipc.OpenWasmReply{
		Compilation: ipc.CompilationResult{LargestFunctionInstructionCount: 12},
		Module: ipc.SerializedModule{
			Bytes:             []byte("compiled"),
			ExportedFunctions: []string{"canister_update go"},
			CompilationCost:   1000,
		},
	}, nil)
}

// expectStart completes every started execution with res.
func (tc *testController) expectStart(res ipc.CompletionResult) *gomock.Call {
	return tc.svc.EXPECT().StartExecution(gomock.Any()).DoAndReturn(func(req ipc.StartExecutionRequest) error {
		tc.mu.Lock()
		tc.started = append(tc.started, req)
		cs := tc.completions
		tc.mu.Unlock()
		cs.ExecutionCompleted(req.ExecID, res)
		return nil
	})
}

func (tc *testController) lastStarted() ipc.StartExecutionRequest {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.started[len(tc.started)-1]
}

func (tc *testController) openedMemories() []ipc.MemoryID {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]ipc.MemoryID(nil), tc.memories...)
}

func (tc *testController) lookups(result string) float64 {
	cv, err := tc.prom.Gather()
	if err != nil {
		return -1
	}
	for _, mf := range cv {
		if mf.GetName() != "replica_sandboxed_execution_replica_cache_lookups" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "lookup_result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func newExecutionState(src string) *state.ExecutionState {
	return &state.ExecutionState{
		WasmBinary:        state.NewWasmBinary(state.NewCanisterModule([]byte(src))),
		WasmMemory:        state.EmptyMemory(),
		StableMemory:      state.EmptyMemory(),
		ExportedFunctions: []string{"canister_update go"},
	}
}

func input(limit types.NumInstructions) sandbox.ExecutionInput {
	return sandbox.ExecutionInput{
		CanisterID:              canister,
		APIType:                 "update",
		FuncRef:                 "canister_update go",
		Payload:                 []byte("payload"),
		MessageInstructionLimit: limit,
		SliceInstructionLimit:   limit,
	}
}

func finished(left types.NumInstructions) ipc.CompletionResult {
	page := &pagemap.Page{}
	page[0] = 42
	return ipc.CompletionResult{Output: ipc.ExecOutput{
		Slice: ipc.SliceOutput{ExecutedInstructions: 10},
		Wasm:  ipc.WasmOutput{InstructionsLeft: left, Reply: []byte("ok")},
		State: &ipc.StateModifications{
			Globals: []state.Global{{Type: state.GlobalI64, Value: 3}},
			WasmMemory: ipc.MemoryModifications{
				PageDelta: []pagemap.PageUpdate{{Index: 0, Data: page}},
				Size:      1,
			},
		},
	}}
}

func paused() ipc.CompletionResult {
	return ipc.CompletionResult{
		Paused: true,
		Output: ipc.ExecOutput{Slice: ipc.SliceOutput{ExecutedInstructions: 50}},
	}
}

func TestExecute(t *testing.T) {
	t.Run("finished execution returns a new state", testExecuteFinished)
	t.Run("embedder cache hit reuses the opened wasm", testExecuteReusesWasm)
	t.Run("trapped execution has no state changes", testExecuteTrapped)
	t.Run("instructions left are clamped to the limit", testExecuteClampsInstructions)
	t.Run("cancelled execution is aborted", testExecuteCancelled)
	t.Run("sandbox exit fails the execution", testExecuteSandboxExited)
}

func testExecuteFinished(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(finished(900)).Times(1)

	compilation, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)
	require.NotNil(t, compilation)
	assert.Equal(t, types.NumInstructions(12), compilation.LargestFunctionInstructionCount)
	assert.False(t, res.IsPaused())
	assert.Equal(t, types.NumInstructions(900), res.Output.InstructionsLeft)
	assert.Equal(t, []byte("ok"), res.Output.Reply)

	require.NotNil(t, res.StateChanges)
	next := res.StateChanges.ExecutionState
	assert.Equal(t, types.NumWasmPages(1), next.WasmMemory.Size)
	assert.Equal(t, byte(42), next.WasmMemory.PageMap.Get(0)[0])
	assert.Equal(t, []state.Global{{Type: state.GlobalI64, Value: 3}}, next.ExportedGlobals)
	// the input state is left untouched
	assert.Equal(t, types.NumWasmPages(0), es.WasmMemory.Size)

	started := tc.lastStarted()
	remote, ok := next.WasmMemory.Sandbox.Synced()
	require.True(t, ok)
	assert.Equal(t, uint64(started.Input.NextWasmMemoryID), remote.MemoryID())
	remote, ok = next.StableMemory.Sandbox.Synced()
	require.True(t, ok)
	assert.Equal(t, uint64(started.Input.NextStableMemoryID), remote.MemoryID())

	assert.Len(t, tc.openedMemories(), 2)
	assert.Equal(t, "active", tc.SlotState(canister))
	assert.Equal(t, 11, tc.ProcessPID(canister))
	assert.Equal(t, float64(1), tc.lookups("cache_miss"))
}

func testExecuteReusesWasm(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	var opened ipc.WasmID
	tc.expectLaunch(11).Times(1)
	tc.svc.EXPECT().OpenWasm(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ipc.OpenWasmRequest) (*ipc.OpenWasmReply, error) {
			opened = req.WasmID
			return &ipc.OpenWasmReply{Module: ipc.SerializedModule{Bytes: []byte("compiled")}}, nil
		}).Times(1)
	tc.expectStart(finished(900)).Times(2)

	_, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)
	first := tc.lastStarted()
	assert.Equal(t, opened, first.WasmID)

	next := res.StateChanges.ExecutionState
	compilation, _, err := tc.Execute(context.Background(), input(1000), next)
	require.NoError(t, err)
	assert.Nil(t, compilation)

	second := tc.lastStarted()
	assert.Equal(t, opened, second.WasmID)
	// memories produced by the sandbox are not sent again
	assert.Equal(t, first.Input.NextWasmMemoryID, second.WasmMemoryID)
	assert.Equal(t, first.Input.NextStableMemoryID, second.StableMemoryID)
	assert.Len(t, tc.openedMemories(), 2)
	assert.Equal(t, float64(1), tc.lookups("embedder_cache_hit_success"))
}

func testExecuteTrapped(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	trapped := finished(0)
	trapped.Output.Wasm.Trap = "unreachable"

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(trapped).Times(1)

	_, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)
	assert.True(t, res.Output.Failed())
	assert.Nil(t, res.StateChanges)
}

func testExecuteClampsInstructions(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(finished(5000)).Times(1)
	tc.expectStart(finished(10)).Times(1)

	_, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)
	assert.Equal(t, types.NumInstructions(1000), res.Output.InstructionsLeft)

	_, res, err = tc.Execute(context.Background(), input(1000), res.StateChanges.ExecutionState)
	require.NoError(t, err)
	assert.Equal(t, types.NumInstructions(10), res.Output.InstructionsLeft)

	critical, err := tc.reg.ErrorCounter("sandboxed_execution_critical_error")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(critical))
	assert.Equal(t, 1, tc.logs.FilterMessage("canister completed execution with more instructions left than the initial limit").Len())
}

func testExecuteCancelled(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	var execID ipc.ExecID
	tc.svc.EXPECT().StartExecution(gomock.Any()).DoAndReturn(func(req ipc.StartExecutionRequest) error {
		execID = req.ExecID
		return nil
	}).Times(1)
	tc.svc.EXPECT().AbortExecution(gomock.Any()).DoAndReturn(func(id ipc.ExecID) error {
		assert.Equal(t, execID, id)
		return nil
	}).Times(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := tc.Execute(ctx, input(1000), es)
	assert.ErrorIs(t, err, context.Canceled)
}

func testExecuteSandboxExited(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.svc.EXPECT().StartExecution(gomock.Any()).DoAndReturn(func(ipc.StartExecutionRequest) error {
		go tc.SandboxExited(canister)
		return nil
	}).Times(1)

	_, _, err := tc.Execute(context.Background(), input(1000), es)
	assert.ErrorIs(t, err, sandbox.ErrSandboxExited)
}

func TestEvictedBackendIsReused(t *testing.T) {
	tc := getTestController(t, 60*time.Second)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(finished(900)).Times(2)

	_, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)
	assert.Equal(t, "active", tc.SlotState(canister))
	assert.Equal(t, 11, tc.ProcessPID(canister))

	tc.now = tc.now.Add(61 * time.Second)
	tc.Scavenge()
	assert.Equal(t, "evicted", tc.SlotState(canister))
	// the memories of the states still hold the process
	assert.Equal(t, int64(0), tc.terminated.Load())

	_, res, err = tc.Execute(context.Background(), input(1000), res.StateChanges.ExecutionState)
	require.NoError(t, err)
	assert.Equal(t, "active", tc.SlotState(canister))
	assert.Equal(t, 11, tc.ProcessPID(canister))
	assert.Equal(t, float64(1), tc.lookups("embedder_cache_hit_success"))
	assert.NotNil(t, res.StateChanges)
}

func TestScavengeKeepsSandboxAtIdleTimeout(t *testing.T) {
	tc := getTestController(t, 60*time.Second)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(finished(900)).Times(1)

	_, _, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)

	tc.now = tc.now.Add(60 * time.Second)
	tc.Scavenge()
	assert.Equal(t, "active", tc.SlotState(canister))

	tc.now = tc.now.Add(time.Millisecond)
	tc.Scavenge()
	assert.Equal(t, "evicted", tc.SlotState(canister))
}

func TestScavengeForgetsTerminatedProcesses(t *testing.T) {
	tc := getTestController(t, 60*time.Second)
	es := newExecutionState("module a")

	trapped := finished(0)
	trapped.Output.Wasm.Trap = "out of instructions"

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(trapped).Times(1)

	_, _, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)

	// drop the memories loaded for the input state
	for _, m := range []*state.Memory{es.WasmMemory, es.StableMemory} {
		remote, ok := m.Sandbox.Synced()
		require.True(t, ok)
		remote.(interface{ Close() }).Close()
	}
	assert.Equal(t, int64(0), tc.terminated.Load())

	tc.now = tc.now.Add(2 * time.Minute)
	tc.Scavenge()
	assert.Equal(t, "evicted", tc.SlotState(canister))
	assert.Equal(t, int64(1), tc.terminated.Load())

	tc.Scavenge()
	assert.Equal(t, "empty", tc.SlotState(canister))
}

func TestZeroIdleTimeoutEvictsOnRelease(t *testing.T) {
	tc := getTestController(t, 0)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(finished(900)).Times(1)

	_, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)
	assert.Equal(t, "evicted", tc.SlotState(canister))
	assert.NotNil(t, res.StateChanges)
}

func TestPausedExecution(t *testing.T) {
	t.Run("paused then aborted", testPausedThenAborted)
	t.Run("paused then resumed", testPausedThenResumed)
}

func testPausedThenAborted(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(paused()).Times(1)

	_, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)
	require.True(t, res.IsPaused())
	assert.Equal(t, types.NumInstructions(50), res.Slice.ExecutedInstructions)
	assert.Nil(t, res.StateChanges)

	reserved := tc.lastStarted()
	tc.svc.EXPECT().AbortExecution(reserved.ExecID).Return(nil).Times(1)
	res.Paused.Abort()
	res.Paused.Abort()

	_, err = res.Paused.Resume(context.Background(), es)
	assert.ErrorIs(t, err, sandbox.ErrPausedUsed)

	// a late completion is dropped
	tc.completions.ExecutionCompleted(reserved.ExecID, finished(10))
	assert.Equal(t, 1, tc.logs.FilterMessage("dropping completion").Len())

	tc.svc.EXPECT().OpenWasmSerialized(gomock.Any()).Return(nil).Times(1)
	tc.expectStart(finished(900)).Times(1)
	_, _, err = tc.Execute(context.Background(), input(1000), newExecutionState("module a"))
	require.NoError(t, err)

	opened := tc.openedMemories()
	assert.Len(t, opened, 4)
	assert.NotContains(t, opened, reserved.Input.NextWasmMemoryID)
	assert.NotContains(t, opened, reserved.Input.NextStableMemoryID)
}

func testPausedThenResumed(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(paused()).Times(1)

	_, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)
	require.True(t, res.IsPaused())
	execID := res.Paused.ExecID()

	gomock.InOrder(
		tc.svc.EXPECT().ResumeExecution(execID).DoAndReturn(func(id ipc.ExecID) error {
			tc.completions.ExecutionCompleted(id, paused())
			return nil
		}),
		tc.svc.EXPECT().ResumeExecution(execID).DoAndReturn(func(id ipc.ExecID) error {
			tc.completions.ExecutionCompleted(id, finished(5000))
			return nil
		}),
	)

	res, err = res.Paused.Resume(context.Background(), es)
	require.NoError(t, err)
	require.True(t, res.IsPaused())
	assert.Equal(t, execID, res.Paused.ExecID())

	res, err = res.Paused.Resume(context.Background(), es)
	require.NoError(t, err)
	require.False(t, res.IsPaused())
	// the limit of the whole message applies across slices
	assert.Equal(t, types.NumInstructions(1000), res.Output.InstructionsLeft)

	reserved := tc.lastStarted()
	remote, ok := res.StateChanges.ExecutionState.WasmMemory.Sandbox.Synced()
	require.True(t, ok)
	assert.Equal(t, uint64(reserved.Input.NextWasmMemoryID), remote.MemoryID())
}

func TestCompilationCaching(t *testing.T) {
	t.Run("compilation errors are cached", testCompilationErrorCached)
	t.Run("compiled modules are shared between binaries", testCompiledModuleShared)
}

func testCompilationErrorCached(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("broken module")

	tc.expectLaunch(11).Times(1)
	tc.svc.EXPECT().OpenWasm(gomock.Any(), gomock.Any()).
		Return(nil, &ipc.RemoteError{Verb: ipc.VerbOpenWasm, Message: "invalid magic"}).Times(1)

	_, _, err := tc.Execute(context.Background(), input(1000), es)
	var cerr *sandbox.CompilationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "invalid magic", cerr.Message)

	_, _, err = tc.Execute(context.Background(), input(1000), es)
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, float64(1), tc.lookups("embedder_cache_hit_compilation_error"))

	_, _, err = tc.Execute(context.Background(), input(1000), newExecutionState("broken module"))
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, float64(1), tc.lookups("compilation_cache_hit_compilation_error"))
}

func testCompiledModuleShared(t *testing.T) {
	tc := getTestController(t, time.Minute)

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(finished(900)).Times(2)

	var serialized ipc.OpenWasmSerializedRequest
	tc.svc.EXPECT().OpenWasmSerialized(gomock.Any()).DoAndReturn(func(req ipc.OpenWasmSerializedRequest) error {
		serialized = req
		return nil
	}).Times(1)

	_, _, err := tc.Execute(context.Background(), input(1000), newExecutionState("module a"))
	require.NoError(t, err)
	compilation, _, err := tc.Execute(context.Background(), input(1000), newExecutionState("module a"))
	require.NoError(t, err)
	assert.Nil(t, compilation)

	assert.Equal(t, serialized.WasmID, tc.lastStarted().WasmID)
	module, err := ipc.UnmarshalSerializedModule(serialized.Module)
	require.NoError(t, err)
	assert.Equal(t, []byte("compiled"), module.Bytes)
	assert.Equal(t, float64(1), tc.lookups("compilation_cache_hit"))
}

func TestCreateExecutionState(t *testing.T) {
	tc := getTestController(t, time.Minute)
	module := state.NewCanisterModule([]byte("module a"))

	tc.expectLaunch(11).Times(1)
	tc.svc.EXPECT().CreateExecutionState(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ipc.CreateExecutionStateRequest) (*ipc.CreateExecutionStateReply, error) {
			assert.Equal(t, []byte("module a"), req.WasmBinary)
			assert.Equal(t, canister, req.CanisterID)
			return &ipc.CreateExecutionStateReply{
				WasmMemoryModifications: ipc.MemoryModifications{Size: 1},
				ExportedGlobals:         []state.Global{{Type: state.GlobalI32, Value: 1}},
				Module: &ipc.SerializedModule{
					Bytes:             []byte("compiled"),
					ExportedFunctions: []string{"canister_update b", "canister_query a"},
					CompilationCost:   1234,
				},
				Compilation: &ipc.CompilationResult{MaxComplexity: 3},
			}, nil
		}).Times(1)
	tc.svc.EXPECT().CreateExecutionStateSerialized(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req ipc.CreateExecutionStateSerializedRequest) (*ipc.CreateExecutionStateReply, error) {
			assert.Equal(t, []byte("compiled"), req.Module.Bytes)
			return &ipc.CreateExecutionStateReply{
				WasmMemoryModifications: ipc.MemoryModifications{Size: 1},
			}, nil
		}).Times(1)

	es, cost, compilation, err := tc.CreateExecutionState(context.Background(), module, "/canisters/7", canister)
	require.NoError(t, err)
	require.NotNil(t, compilation)
	assert.Equal(t, types.NumInstructions(1234), cost)
	assert.Equal(t, []string{"canister_query a", "canister_update b"}, es.ExportedFunctions)
	assert.True(t, es.Exports("canister_update b"))
	assert.Equal(t, types.NumWasmPages(1), es.WasmMemory.Size)
	assert.Equal(t, types.NumWasmPages(0), es.StableMemory.Size)
	_, synced := es.WasmMemory.Sandbox.Synced()
	assert.True(t, synced)

	es, cost, compilation, err = tc.CreateExecutionState(context.Background(), module, "/canisters/7", canister)
	require.NoError(t, err)
	assert.Nil(t, compilation)
	assert.Equal(t, types.NumInstructions(1234), cost)
	assert.Len(t, es.ExportedFunctions, 2)
	assert.Equal(t, float64(1), tc.lookups("compilation_cache_hit"))
}

func TestSandboxExited(t *testing.T) {
	t.Run("history is replayed for an active sandbox", testSandboxExitedReplaysHistory)
	t.Run("unknown canister panics", testSandboxExitedUnknown)
}

func testSandboxExitedReplaysHistory(t *testing.T) {
	tc := getTestController(t, time.Minute)
	es := newExecutionState("module a")

	tc.expectLaunch(11).Times(1)
	tc.expectCompile().Times(1)
	tc.expectStart(finished(900)).Times(2)

	_, res, err := tc.Execute(context.Background(), input(1000), es)
	require.NoError(t, err)

	tc.SandboxExited(canister)
	assert.Equal(t, "empty", tc.SlotState(canister))

	entries := tc.logs.FilterMessage("sandbox history").All()
	require.NotEmpty(t, entries)
	var replayed []string
	for _, e := range entries {
		replayed = append(replayed, e.ContextMap()["entry"].(string))
	}
	assert.Contains(t, replayed[0], "OpenWasm(wasm_id=")
	found := false
	for _, r := range replayed {
		found = found || strings.HasPrefix(r, "StartExecution(")
	}
	assert.True(t, found)

	// the next execution runs in a new sandbox, loading the module and the
	// memories again
	tc.expectLaunch(12).Times(1)
	tc.svc.EXPECT().OpenWasmSerialized(gomock.Any()).Return(nil).Times(1)
	before := len(tc.openedMemories())
	_, _, err = tc.Execute(context.Background(), input(1000), res.StateChanges.ExecutionState)
	require.NoError(t, err)
	assert.Equal(t, 12, tc.ProcessPID(canister))
	assert.Equal(t, before+2, len(tc.openedMemories()))
	assert.Equal(t, float64(1), tc.lookups("embedder_cache_hit_sandbox_evicted"))
}

func testSandboxExitedUnknown(t *testing.T) {
	tc := getTestController(t, time.Minute)
	assert.PanicsWithValue(t, "sandbox exited for unknown canister "+canister.String(), func() {
		tc.SandboxExited(canister)
	})
}
