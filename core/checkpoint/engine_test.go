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

package checkpoint_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"code.icreplica.io/replica/config/encoding"
	"code.icreplica.io/replica/core/checkpoint"
	"code.icreplica.io/replica/core/pagemap"
	"code.icreplica.io/replica/core/state"
	"code.icreplica.io/replica/core/types"
	vgtest "code.icreplica.io/replica/libs/test"
	"code.icreplica.io/replica/logging"
	"code.icreplica.io/replica/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEngine struct {
	*checkpoint.Engine
	layout *checkpoint.Layout
	prom   *prometheus.Registry
}

func getTestEngine(t *testing.T, root string) *testEngine {
	t.Helper()
	cfg := checkpoint.NewDefaultConfig()
	cfg.NumberOfCheckpointThreads = 4
	cfg.DefragSize = encoding.NewByteSize(2 * pagemap.PageSize)
	cfg.KeepRecent = 2

	layout, err := checkpoint.NewLayout(root)
	require.NoError(t, err)
	prom := prometheus.NewRegistry()
	eng, err := checkpoint.New(logging.NewTestLogger(), cfg, layout, metrics.NewRegistry("replica", prom))
	require.NoError(t, err)
	return &testEngine{Engine: eng, layout: layout, prom: prom}
}

func fill(b byte) *pagemap.Page {
	p := new(pagemap.Page)
	for i := range p {
		p[i] = b
	}
	return p
}

func testState() *state.ReplicatedState {
	st := state.NewReplicatedState("subnet-1")
	st.Metadata.BatchTime = time.Unix(1700000000, 0).UTC()
	st.Metadata.GeneratedCanisterIDs = 2
	st.SubnetQueues.Output = []state.Message{{Source: "subnet", Destination: "aaaaa", Method: "ping", Payload: []byte{1}}}

	withCode := state.NewCanisterState(types.CanisterIDFromU64(1))
	withCode.System.Controllers = []string{"controller"}
	withCode.System.CyclesBalance = 1_000_000
	withCode.System.Queues.Input = []state.Message{{Source: "user", Destination: "c1", Method: "update", Payload: []byte("hello")}}
	withCode.Scheduler.PriorityCredit = 42
	withCode.Scheduler.LongExecutionMode = state.LongExecutionModePrioritized

	heap := pagemap.New()
	heap.Update([]pagemap.PageUpdate{{Index: 0, Data: fill(1)}, {Index: 3, Data: fill(3)}})
	stable := pagemap.New()
	stable.Update([]pagemap.PageUpdate{{Index: 0, Data: fill(9)}})
	withCode.Execution = &state.ExecutionState{
		WasmBinary:        state.NewWasmBinary(state.NewCanisterModule([]byte("\x00asm module"))),
		WasmMemory:        state.NewMemory(heap, 1),
		StableMemory:      state.NewMemory(stable, 1),
		ExportedGlobals:   []state.Global{{Type: state.GlobalI64, Value: 12}},
		ExportedFunctions: state.SortExports([]string{"canister_update update", "canister_query read"}),
		Metadata:          state.WasmMetadata{"icp:public candid:service": {Public: true, Content: []byte("service {}")}},
		LastExecutedRound: 17,
	}

	withoutCode := state.NewCanisterState(types.CanisterIDFromU64(2))
	withoutCode.System.Queues.Output = []state.Message{{Source: "c2", Destination: "user", Payload: []byte("reply"), Response: true}}

	st.PutCanister(withCode)
	st.PutCanister(withoutCode)
	return st
}

func TestMakeCheckpoint(t *testing.T) {
	t.Run("checkpoint then independent reload", testCheckpointThenReload)
	t.Run("published files are read only", testPublishedFilesAreReadOnly)
	t.Run("directories use hex names", testDirectoryNames)
	t.Run("every step is timed", testStepsAreTimed)
	t.Run("failure leaves no checkpoint", testFailureLeavesNoCheckpoint)
	t.Run("existing height is refused", testExistingHeight)
	t.Run("successive checkpoints", testSuccessiveCheckpoints)
	t.Run("sync failure after publishing is not an error", testSyncFailureAfterPublish)
}

func testCheckpointThenReload(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	eng := getTestEngine(t, root)
	st := testState()

	loaded, err := eng.MakeCheckpoint(ctx, st, 42)
	require.NoError(t, err)

	// a fresh engine plays the part of a restarted replica
	reloaded, err := getTestEngine(t, root).LoadCheckpoint(ctx, 42)
	require.NoError(t, err)

	for _, got := range []*state.ReplicatedState{loaded, reloaded} {
		assert.Equal(t, st.CanisterIDs(), got.CanisterIDs())
		assert.Equal(t, st.Metadata, got.Metadata)
		assert.Equal(t, st.SubnetQueues, got.SubnetQueues)

		for _, id := range st.CanisterIDs() {
			want, have := st.Canisters[id], got.Canisters[id]
			assert.Equal(t, want.System, have.System)
			assert.Equal(t, want.Scheduler.LastFullExecutionRound, have.Scheduler.LastFullExecutionRound)
			assert.Equal(t, int64(0), have.Scheduler.PriorityCredit)
			assert.Equal(t, state.LongExecutionModeOpportunistic, have.Scheduler.LongExecutionMode)

			if want.Execution == nil {
				assert.Nil(t, have.Execution)
				continue
			}
			require.NotNil(t, have.Execution)
			we, he := want.Execution, have.Execution
			assert.Equal(t, we.WasmMemory.Size, he.WasmMemory.Size)
			assert.Equal(t, we.StableMemory.Size, he.StableMemory.Size)
			assert.True(t, we.WasmMemory.PageMap.Equal(he.WasmMemory.PageMap))
			assert.True(t, we.StableMemory.PageMap.Equal(he.StableMemory.PageMap))
			assert.Equal(t, we.ExportedGlobals, he.ExportedGlobals)
			assert.Equal(t, we.ExportedFunctions, he.ExportedFunctions)
			assert.Equal(t, we.Metadata, he.Metadata)
			assert.Equal(t, we.LastExecutedRound, he.LastExecutedRound)
			assert.Equal(t, we.WasmBinary.Binary.ModuleHash(), he.WasmBinary.Binary.ModuleHash())

			wantBytes, err := we.WasmBinary.Binary.Bytes()
			require.NoError(t, err)
			haveBytes, err := he.WasmBinary.Binary.Bytes()
			require.NoError(t, err)
			assert.Equal(t, wantBytes, haveBytes)

			_, fileBacked := he.WasmBinary.Binary.FilePath()
			assert.True(t, fileBacked)
		}
	}
}

func testPublishedFilesAreReadOnly(t *testing.T) {
	eng := getTestEngine(t, t.TempDir())
	_, err := eng.MakeCheckpoint(context.Background(), testState(), 7)
	require.NoError(t, err)
	vgtest.AssertReadOnlyTree(t, eng.layout.CheckpointPath(7))
}

func testDirectoryNames(t *testing.T) {
	root := t.TempDir()
	eng := getTestEngine(t, root)
	_, err := eng.MakeCheckpoint(context.Background(), testState(), 42)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(root, "checkpoints", "000000000000002a", "canister_states", "00000000000000010101", "vmemory_0"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "checkpoints", "000000000000002a", "system_metadata.pbuf"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "tip"))
	assert.True(t, os.IsNotExist(err))
}

func testStepsAreTimed(t *testing.T) {
	eng := getTestEngine(t, t.TempDir())
	_, err := eng.MakeCheckpoint(context.Background(), testState(), 1)
	require.NoError(t, err)
	n, err := testutil.GatherAndCount(eng.prom, "replica_checkpoint_steps_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func testFailureLeavesNoCheckpoint(t *testing.T) {
	root := t.TempDir()
	eng := getTestEngine(t, root)

	// a file backed module whose file disappears cannot be copied
	wasmPath := filepath.Join(t.TempDir(), "wasm.bin")
	require.NoError(t, os.WriteFile(wasmPath, []byte("\x00asm"), 0o600))
	module, err := state.NewCanisterModuleFromFile(wasmPath, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(wasmPath))

	st := testState()
	st.Canisters[types.CanisterIDFromU64(1)].Execution.WasmBinary = state.NewWasmBinary(module)

	_, err = eng.MakeCheckpoint(context.Background(), st, 3)
	require.Error(t, err)

	_, err = os.Stat(eng.layout.CheckpointPath(3))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(eng.layout.TipPath())
	assert.True(t, os.IsNotExist(err))

	_, err = eng.LoadCheckpoint(context.Background(), 3)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
}

func testSyncFailureAfterPublish(t *testing.T) {
	ctx := context.Background()
	eng := getTestEngine(t, t.TempDir())
	var synced []string
	eng.SetSyncDir(func(dir string) error {
		synced = append(synced, dir)
		return errors.New("sync failed")
	})

	_, err := eng.MakeCheckpoint(ctx, testState(), 7)
	require.NoError(t, err)
	assert.Len(t, synced, 1)

	_, err = os.Stat(eng.layout.TipPath())
	assert.True(t, os.IsNotExist(err))
	loaded, err := eng.LoadCheckpoint(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, testState().CanisterIDs(), loaded.CanisterIDs())
}

func testExistingHeight(t *testing.T) {
	eng := getTestEngine(t, t.TempDir())
	_, err := eng.MakeCheckpoint(context.Background(), testState(), 5)
	require.NoError(t, err)
	_, err = eng.MakeCheckpoint(context.Background(), testState(), 5)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointExists)
}

func testSuccessiveCheckpoints(t *testing.T) {
	ctx := context.Background()
	eng := getTestEngine(t, t.TempDir())
	c1, c2, c3 := types.CanisterIDFromU64(1), types.CanisterIDFromU64(2), types.CanisterIDFromU64(3)

	st, err := eng.MakeCheckpoint(ctx, testState(), 10)
	require.NoError(t, err)

	st.Canisters[c1].Execution.WasmMemory.PageMap.Update([]pagemap.PageUpdate{{Index: 1, Data: fill(5)}})
	delete(st.Canisters, c2)
	st.PutCanister(state.NewCanisterState(c3))

	st, err = eng.MakeCheckpoint(ctx, st, 20)
	require.NoError(t, err)
	assert.Equal(t, []types.CanisterID{c1, c3}, st.CanisterIDs())
	heap := st.Canisters[c1].Execution.WasmMemory.PageMap
	assert.Equal(t, fill(1), heap.Get(0))
	assert.Equal(t, fill(5), heap.Get(1))
	assert.Equal(t, fill(3), heap.Get(3))

	// the older checkpoint is unchanged
	old, err := eng.LoadCheckpoint(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, fill(0), old.Canisters[c1].Execution.WasmMemory.PageMap.Get(1))
	assert.Contains(t, old.Canisters, c2)

	// retention keeps the two most recent checkpoints
	_, err = eng.MakeCheckpoint(ctx, st, 30)
	require.NoError(t, err)
	heights, err := eng.layout.Checkpoints()
	require.NoError(t, err)
	assert.Equal(t, []types.Height{20, 30}, heights)
}

func TestLoadMissingCheckpoint(t *testing.T) {
	eng := getTestEngine(t, t.TempDir())
	_, err := eng.LoadCheckpoint(context.Background(), 99)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)

	_, _, ok, err := eng.LoadLatest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
