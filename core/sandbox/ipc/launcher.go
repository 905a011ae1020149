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

package ipc

import (
	"context"
	"fmt"
	"sync"

	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/libs/wire"
	"code.icreplica.io/replica/logging"
)

// Verbs of the replica to launcher protocol.
const (
	VerbLaunchSandbox = "LaunchSandbox"
	// VerbSandboxExited is pushed by the launcher when a sandbox process
	// it started terminates.
	VerbSandboxExited = "SandboxExited"
)

// LaunchSandboxRequest asks for a sandbox listening on Addr.
type LaunchSandboxRequest struct {
	CanisterID types.CanisterID
	Addr       string
}

type LaunchSandboxReply struct {
	PID int
}

// ExitHandler is told about sandbox processes that terminated.
type ExitHandler interface {
	SandboxExited(id types.CanisterID)
}

type LauncherHandler interface {
	LaunchSandbox(ctx context.Context, req LaunchSandboxRequest) (*LaunchSandboxReply, error)
	Terminate(ctx context.Context) error
}

func (r LaunchSandboxRequest) marshal() []byte {
	return wire.NewEncoder().
		PutString(1, string(r.CanisterID)).
		PutString(2, r.Addr).
		Bytes()
}

func unmarshalLaunchSandboxRequest(b []byte) (LaunchSandboxRequest, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return LaunchSandboxRequest{}, err
	}
	return LaunchSandboxRequest{CanisterID: types.CanisterID(f.String(1)), Addr: f.String(2)}, nil
}

// LauncherClient talks to the launcher process.
type LauncherClient struct {
	log  *logging.Logger
	conn *Conn

	mu    sync.RWMutex
	exits ExitHandler
}

func DialLauncher(ctx context.Context, log *logging.Logger, addr string) (*LauncherClient, error) {
	c := &LauncherClient{log: log}
	conn, err := Dial(ctx, log, addr, c.notify)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// SetExitHandler installs the receiver of SandboxExited events. Events
// arriving before a handler is installed are logged and dropped.
func (c *LauncherClient) SetExitHandler(h ExitHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exits = h
}

func (c *LauncherClient) notify(verb string, payload []byte) {
	if verb != VerbSandboxExited {
		c.log.Warn("unexpected notification from launcher", logging.String("verb", verb))
		return
	}
	f, err := wire.Parse(payload)
	if err != nil {
		c.log.Error("invalid notification from launcher", logging.Error(err))
		return
	}
	id := types.CanisterID(f.String(1))

	c.mu.RLock()
	h := c.exits
	c.mu.RUnlock()
	if h == nil {
		c.log.Warn("sandbox exited before exit handler was set", logging.CanisterID(id.String()))
		return
	}
	h.SandboxExited(id)
}

func (c *LauncherClient) LaunchSandbox(ctx context.Context, req LaunchSandboxRequest) (*LaunchSandboxReply, error) {
	b, err := c.conn.Call(ctx, VerbLaunchSandbox, req.marshal())
	if err != nil {
		return nil, err
	}
	f, err := wire.Parse(b)
	if err != nil {
		return nil, err
	}
	return &LaunchSandboxReply{PID: int(f.Uint64(1))}, nil
}

// Terminate asks the launcher to kill its sandboxes and exit. The launcher
// stops serving without replying.
func (c *LauncherClient) Terminate() error {
	return c.conn.Send(VerbTerminate, nil)
}

// Done is closed when the connection to the launcher is lost.
func (c *LauncherClient) Done() <-chan struct{} {
	return c.conn.Done()
}

func (c *LauncherClient) Close() error {
	return c.conn.Close()
}

// LauncherServer serves the launcher side of the protocol.
type LauncherServer struct {
	*Server
}

func ListenLauncher(log *logging.Logger, addr string, h LauncherHandler) (*LauncherServer, error) {
	srv, err := Listen(log, addr, func(ctx context.Context, verb string, payload []byte) ([]byte, error) {
		switch verb {
		case VerbLaunchSandbox:
			req, err := unmarshalLaunchSandboxRequest(payload)
			if err != nil {
				return nil, err
			}
			reply, err := h.LaunchSandbox(ctx, req)
			if err != nil {
				return nil, err
			}
			return wire.NewEncoder().PutUint64(1, uint64(reply.PID)).Bytes(), nil
		case VerbTerminate:
			return nil, h.Terminate(ctx)
		default:
			return nil, fmt.Errorf("unknown verb %q", verb)
		}
	})
	if err != nil {
		return nil, err
	}
	return &LauncherServer{Server: srv}, nil
}

// SandboxExited notifies the replica that a sandbox terminated.
func (s *LauncherServer) SandboxExited(id types.CanisterID) error {
	return s.Notify(VerbSandboxExited, wire.NewEncoder().PutString(1, string(id)).Bytes())
}
