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
	"os/exec"
	"testing"
	"time"

	"code.icreplica.io/replica/core/sandbox"
	"code.icreplica.io/replica/core/sandbox/ipc"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exitRecorder chan types.CanisterID

func (r exitRecorder) SandboxExited(id types.CanisterID) {
	r <- id
}

func TestLauncher(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("no true binary available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := logging.NewTestLogger()
	cfg := sandbox.NewDefaultConfig()
	cfg.SandboxBinary = "true"
	addr := "inproc://launcher-" + uuid.NewString()

	served := make(chan error, 1)
	go func() { served <- sandbox.RunLauncher(ctx, log, cfg, addr) }()

	client, err := ipc.DialLauncher(ctx, log, addr)
	require.NoError(t, err)
	defer client.Close()

	exits := make(exitRecorder, 1)
	client.SetExitHandler(exits)

	reply, err := client.LaunchSandbox(ctx, ipc.LaunchSandboxRequest{
		CanisterID: canister,
		Addr:       "inproc://sandbox-" + uuid.NewString(),
	})
	require.NoError(t, err)
	assert.Greater(t, reply.PID, 0)

	select {
	case id := <-exits:
		assert.Equal(t, canister, id)
	case <-ctx.Done():
		t.Fatal("sandbox exit was not reported")
	}

	require.NoError(t, client.Terminate())
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("launcher did not stop")
	}
}

func TestLauncherExitMessage(t *testing.T) {
	t.Run("exit status is reported", func(t *testing.T) {
		cmd := exec.Command("sh", "-c", "exit 3")
		require.Error(t, cmd.Run())
		assert.Equal(t,
			"Error from launcher process, pid 42 exited with status code: 3",
			sandbox.LauncherExitMessage(42, cmd.ProcessState))
	})

	t.Run("signal is reported", func(t *testing.T) {
		cmd := exec.Command("sh", "-c", "kill -9 $$")
		require.Error(t, cmd.Run())
		assert.Equal(t,
			"Error from launcher process, pid 42 exited due to signal!",
			sandbox.LauncherExitMessage(42, cmd.ProcessState))
	})
}

func TestHistory(t *testing.T) {
	h := sandbox.NewHistory(3)
	assert.Empty(t, h.Snapshot())

	h.Record("OpenWasm(wasm_id=1)")
	h.Record("OpenMemory(memory_id=1)")
	assert.Equal(t, []string{"OpenWasm(wasm_id=1)", "OpenMemory(memory_id=1)"}, h.Snapshot())

	h.Record("OpenMemory(memory_id=2)")
	h.Record("StartExecution(exec_id=1)")
	h.Record("Completion(exec_id=1)")
	assert.Equal(t, []string{
		"OpenMemory(memory_id=2)",
		"StartExecution(exec_id=1)",
		"Completion(exec_id=1)",
	}, h.Snapshot())
}
