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

	"code.icreplica.io/replica/logging"
)

// SandboxClient implements SandboxService over a connection to a sandbox
// process and forwards completions to the controller.
type SandboxClient struct {
	log  *logging.Logger
	conn *Conn
}

// DialSandbox connects to the sandbox listening on addr.
func DialSandbox(ctx context.Context, log *logging.Logger, addr string, controller ControllerService) (*SandboxClient, error) {
	c := &SandboxClient{log: log}
	conn, err := Dial(ctx, log, addr, func(verb string, payload []byte) {
		c.notify(controller, verb, payload)
	})
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *SandboxClient) notify(controller ControllerService, verb string, payload []byte) {
	if verb != VerbCompletion {
		c.log.Warn("unexpected notification from sandbox", logging.String("verb", verb))
		return
	}
	id, result, err := unmarshalCompletion(payload)
	if err != nil {
		c.log.Error("invalid completion from sandbox", logging.Error(err))
		return
	}
	controller.ExecutionCompleted(id, result)
}

// Done is closed when the connection to the sandbox is lost.
func (c *SandboxClient) Done() <-chan struct{} {
	return c.conn.Done()
}

func (c *SandboxClient) Close() error {
	return c.conn.Close()
}

func (c *SandboxClient) OpenWasm(ctx context.Context, req OpenWasmRequest) (*OpenWasmReply, error) {
	b, err := c.conn.Call(ctx, VerbOpenWasm, req.marshal())
	if err != nil {
		return nil, err
	}
	return unmarshalOpenWasmReply(b)
}

func (c *SandboxClient) OpenWasmSerialized(req OpenWasmSerializedRequest) error {
	return c.conn.Send(VerbOpenWasmSerialized, req.marshal())
}

func (c *SandboxClient) CloseWasm(id WasmID) error {
	return c.conn.Send(VerbCloseWasm, marshalID(uint64(id)))
}

func (c *SandboxClient) OpenMemory(req OpenMemoryRequest) error {
	return c.conn.Send(VerbOpenMemory, req.marshal())
}

func (c *SandboxClient) CloseMemory(id MemoryID) error {
	return c.conn.Send(VerbCloseMemory, marshalID(uint64(id)))
}

func (c *SandboxClient) CreateExecutionState(ctx context.Context, req CreateExecutionStateRequest) (*CreateExecutionStateReply, error) {
	b, err := c.conn.Call(ctx, VerbCreateExecutionState, req.marshal())
	if err != nil {
		return nil, err
	}
	return unmarshalCreateExecutionStateReply(b)
}

func (c *SandboxClient) CreateExecutionStateSerialized(ctx context.Context, req CreateExecutionStateSerializedRequest) (*CreateExecutionStateReply, error) {
	b, err := c.conn.Call(ctx, VerbCreateExecutionStateSerialized, req.marshal())
	if err != nil {
		return nil, err
	}
	return unmarshalCreateExecutionStateReply(b)
}

func (c *SandboxClient) StartExecution(req StartExecutionRequest) error {
	return c.conn.Send(VerbStartExecution, req.marshal())
}

func (c *SandboxClient) ResumeExecution(id ExecID) error {
	return c.conn.Send(VerbResumeExecution, marshalID(uint64(id)))
}

func (c *SandboxClient) AbortExecution(id ExecID) error {
	return c.conn.Send(VerbAbortExecution, marshalID(uint64(id)))
}

// Terminate asks the sandbox to exit and closes the connection.
func (c *SandboxClient) Terminate() error {
	err := c.conn.Send(VerbTerminate, nil)
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
