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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"code.icreplica.io/replica/core/sandbox/ipc"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// RemoteLauncher asks a launcher process to start sandboxes and connects
// to them.
type RemoteLauncher struct {
	log       *logging.Logger
	client    *ipc.LauncherClient
	socketDir string
	stopping  *atomic.Bool
}

func NewRemoteLauncher(log *logging.Logger, client *ipc.LauncherClient, socketDir string) *RemoteLauncher {
	if socketDir == "" {
		socketDir = os.TempDir()
	}
	return &RemoteLauncher{
		log:       log,
		client:    client,
		socketDir: socketDir,
		stopping:  atomic.NewBool(false),
	}
}

func socketAddr(dir, prefix string) string {
	return "ipc://" + filepath.Join(dir, fmt.Sprintf("%s-%s.ipc", prefix, uuid.NewString()))
}

func (l *RemoteLauncher) LaunchSandbox(ctx context.Context, id types.CanisterID, controller ipc.ControllerService) (ipc.SandboxService, int, error) {
	addr := socketAddr(l.socketDir, "sandbox")
	reply, err := l.client.LaunchSandbox(ctx, ipc.LaunchSandboxRequest{CanisterID: id, Addr: addr})
	if err != nil {
		return nil, 0, fmt.Errorf("launcher could not start sandbox: %w", err)
	}
	svc, err := ipc.DialSandbox(ctx, l.log, addr, controller)
	if err != nil {
		return nil, 0, fmt.Errorf("could not connect to sandbox pid %d: %w", reply.PID, err)
	}
	return svc, reply.PID, nil
}

// SetExitHandler routes the exits of sandbox processes to h.
func (l *RemoteLauncher) SetExitHandler(h ipc.ExitHandler) {
	l.client.SetExitHandler(h)
}

// Close terminates the launcher along with its sandboxes.
func (l *RemoteLauncher) Close() error {
	l.stopping.Store(true)
	err := l.client.Terminate()
	if cerr := l.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// SpawnLauncher starts the launcher process and connects to it. The
// replica cannot run sandboxes without its launcher, so an unexpected exit
// of the launcher panics.
func SpawnLauncher(ctx context.Context, log *logging.Logger, cfg Config) (*RemoteLauncher, error) {
	log = log.Named(namedLogger)

	bin := cfg.LauncherBinary
	if bin == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("could not locate launcher binary: %w", err)
		}
		bin = self
	}
	socketDir := cfg.SocketDir
	if socketDir == "" {
		socketDir = os.TempDir()
	}
	addr := socketAddr(socketDir, "launcher")

	args := append(append([]string{}, cfg.LauncherArgs...), "--socket", addr)
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Debug("starting sandbox launcher",
		logging.String("binaryPath", bin),
		logging.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to execute launcher %s %v: %w", bin, args, err)
	}

	client, err := ipc.DialLauncher(ctx, log, addr)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("could not connect to launcher: %w", err)
	}
	l := NewRemoteLauncher(log, client, socketDir)

	go func() {
		_ = cmd.Wait()
		if l.stopping.Load() {
			return
		}
		panic(launcherExitMessage(cmd.Process.Pid, cmd.ProcessState))
	}()
	return l, nil
}

func launcherExitMessage(pid int, state *os.ProcessState) string {
	if state.ExitCode() == -1 {
		return fmt.Sprintf("Error from launcher process, pid %d exited due to signal!", pid)
	}
	return fmt.Sprintf("Error from launcher process, pid %d exited with status code: %d", pid, state.ExitCode())
}

// ProcessLauncher runs inside the launcher process. It starts one sandbox
// binary per canister and reports the ones that terminate.
type ProcessLauncher struct {
	log  *logging.Logger
	cfg  Config
	stop context.CancelFunc

	mu       sync.Mutex
	exits    ipc.ExitHandler
	running  map[int]*exec.Cmd
	stopping bool
	eg       errgroup.Group
}

func NewProcessLauncher(log *logging.Logger, cfg Config, stop context.CancelFunc) *ProcessLauncher {
	return &ProcessLauncher{
		log:     log.Named("launcher"),
		cfg:     cfg,
		stop:    stop,
		running: map[int]*exec.Cmd{},
	}
}

func (l *ProcessLauncher) setExitHandler(h ipc.ExitHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.exits = h
}

func (l *ProcessLauncher) LaunchSandbox(_ context.Context, req ipc.LaunchSandboxRequest) (*ipc.LaunchSandboxReply, error) {
	args := []string{"--socket", req.Addr, "--canister-id", req.CanisterID.String()}
	cmd := exec.Command(l.cfg.SandboxBinary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopping {
		return nil, errors.New("launcher is terminating")
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to execute sandbox %s %v: %w", l.cfg.SandboxBinary, args, err)
	}
	pid := cmd.Process.Pid
	l.running[pid] = cmd

	l.eg.Go(func() error {
		err := cmd.Wait()
		l.mu.Lock()
		delete(l.running, pid)
		stopping, exits := l.stopping, l.exits
		l.mu.Unlock()

		l.log.Debug("sandbox process exited",
			logging.CanisterID(req.CanisterID.String()),
			logging.PID(pid),
			logging.Error(err))
		if stopping || exits == nil {
			return nil
		}
		exits.SandboxExited(req.CanisterID)
		return nil
	})

	l.log.Debug("started sandbox process",
		logging.CanisterID(req.CanisterID.String()),
		logging.PID(pid))
	return &ipc.LaunchSandboxReply{PID: pid}, nil
}

// Terminate kills the sandboxes still running and stops serving.
func (l *ProcessLauncher) Terminate(context.Context) error {
	l.mu.Lock()
	l.stopping = true
	for pid, cmd := range l.running {
		if err := cmd.Process.Kill(); err != nil {
			l.log.Debug("failed to kill sandbox process", logging.PID(pid), logging.Error(err))
		}
	}
	l.mu.Unlock()
	l.stop()
	return nil
}

// Wait blocks until every sandbox started by l has been reaped.
func (l *ProcessLauncher) Wait() {
	_ = l.eg.Wait()
}

type launcherNotifier struct {
	log *logging.Logger
	srv *ipc.LauncherServer
}

func (n launcherNotifier) SandboxExited(id types.CanisterID) {
	if err := n.srv.SandboxExited(id); err != nil {
		n.log.Error("could not report sandbox exit", logging.CanisterID(id.String()), logging.Error(err))
	}
}

// RunLauncher serves launch requests on addr until ctx is done or the
// replica asks the launcher to terminate.
func RunLauncher(ctx context.Context, log *logging.Logger, cfg Config, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l := NewProcessLauncher(log.Named(namedLogger), cfg, cancel)
	srv, err := ipc.ListenLauncher(l.log, addr, l)
	if err != nil {
		return err
	}
	defer srv.Close()
	l.setExitHandler(launcherNotifier{log: l.log, srv: srv})

	err = srv.Serve(ctx)
	_ = l.Terminate(ctx)
	l.Wait()
	return err
}
