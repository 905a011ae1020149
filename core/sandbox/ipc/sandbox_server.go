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

	"code.icreplica.io/replica/logging"
)

// SandboxHandler is implemented by the process hosting the wasm runtime.
type SandboxHandler interface {
	OpenWasm(ctx context.Context, req OpenWasmRequest) (*OpenWasmReply, error)
	OpenWasmSerialized(ctx context.Context, req OpenWasmSerializedRequest) error
	CloseWasm(ctx context.Context, id WasmID) error
	OpenMemory(ctx context.Context, req OpenMemoryRequest) error
	CloseMemory(ctx context.Context, id MemoryID) error
	CreateExecutionState(ctx context.Context, req CreateExecutionStateRequest) (*CreateExecutionStateReply, error)
	CreateExecutionStateSerialized(ctx context.Context, req CreateExecutionStateSerializedRequest) (*CreateExecutionStateReply, error)
	StartExecution(ctx context.Context, req StartExecutionRequest) error
	ResumeExecution(ctx context.Context, id ExecID) error
	AbortExecution(ctx context.Context, id ExecID) error
	Terminate(ctx context.Context) error
}

// SandboxServer serves the sandbox side of the protocol.
type SandboxServer struct {
	*Server
}

func ListenSandbox(log *logging.Logger, addr string, h SandboxHandler) (*SandboxServer, error) {
	srv, err := Listen(log, addr, sandboxDispatcher(h))
	if err != nil {
		return nil, err
	}
	return &SandboxServer{Server: srv}, nil
}

// Complete reports the outcome of an execution to the controller.
func (s *SandboxServer) Complete(id ExecID, result CompletionResult) error {
	return s.Notify(VerbCompletion, marshalCompletion(id, result))
}

func sandboxDispatcher(h SandboxHandler) RequestHandler {
	return func(ctx context.Context, verb string, payload []byte) ([]byte, error) {
		switch verb {
		case VerbOpenWasm:
			req, err := unmarshalOpenWasmRequest(payload)
			if err != nil {
				return nil, err
			}
			reply, err := h.OpenWasm(ctx, req)
			if err != nil {
				return nil, err
			}
			return reply.marshal(), nil
		case VerbOpenWasmSerialized:
			req, err := unmarshalOpenWasmSerializedRequest(payload)
			if err != nil {
				return nil, err
			}
			return nil, h.OpenWasmSerialized(ctx, req)
		case VerbCloseWasm:
			id, err := unmarshalID(payload)
			if err != nil {
				return nil, err
			}
			return nil, h.CloseWasm(ctx, WasmID(id))
		case VerbOpenMemory:
			req, err := unmarshalOpenMemoryRequest(payload)
			if err != nil {
				return nil, err
			}
			return nil, h.OpenMemory(ctx, req)
		case VerbCloseMemory:
			id, err := unmarshalID(payload)
			if err != nil {
				return nil, err
			}
			return nil, h.CloseMemory(ctx, MemoryID(id))
		case VerbCreateExecutionState:
			req, err := unmarshalCreateExecutionStateRequest(payload)
			if err != nil {
				return nil, err
			}
			reply, err := h.CreateExecutionState(ctx, req)
			if err != nil {
				return nil, err
			}
			return reply.marshal(), nil
		case VerbCreateExecutionStateSerialized:
			req, err := unmarshalCreateExecutionStateSerializedRequest(payload)
			if err != nil {
				return nil, err
			}
			reply, err := h.CreateExecutionStateSerialized(ctx, req)
			if err != nil {
				return nil, err
			}
			return reply.marshal(), nil
		case VerbStartExecution:
			req, err := unmarshalStartExecutionRequest(payload)
			if err != nil {
				return nil, err
			}
			return nil, h.StartExecution(ctx, req)
		case VerbResumeExecution:
			id, err := unmarshalID(payload)
			if err != nil {
				return nil, err
			}
			return nil, h.ResumeExecution(ctx, ExecID(id))
		case VerbAbortExecution:
			id, err := unmarshalID(payload)
			if err != nil {
				return nil, err
			}
			return nil, h.AbortExecution(ctx, ExecID(id))
		case VerbTerminate:
			return nil, h.Terminate(ctx)
		default:
			return nil, fmt.Errorf("unknown verb %q", verb)
		}
	}
}
