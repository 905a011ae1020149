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

// Package ipc carries the replica to sandbox protocol over mangos pair
// sockets. Every frame is a protowire envelope holding a verb and its
// protowire payload.
package ipc

import (
	"context"
	"time"

	"code.icreplica.io/replica/core/pagemap"
	"code.icreplica.io/replica/core/state"
	"code.icreplica.io/replica/core/types"
)

//go:generate go run github.com/golang/mock/mockgen -destination mocks/sandbox_service_mock.go -package mocks code.icreplica.io/replica/core/sandbox/ipc SandboxService

// Verbs understood by a sandbox process.
const (
	VerbOpenWasm                       = "OpenWasm"
	VerbOpenWasmSerialized             = "OpenWasmSerialized"
	VerbCloseWasm                      = "CloseWasm"
	VerbOpenMemory                     = "OpenMemory"
	VerbCloseMemory                    = "CloseMemory"
	VerbCreateExecutionState           = "CreateExecutionState"
	VerbCreateExecutionStateSerialized = "CreateExecutionStateSerialized"
	VerbStartExecution                 = "StartExecution"
	VerbResumeExecution                = "ResumeExecution"
	VerbAbortExecution                 = "AbortExecution"
	VerbTerminate                      = "Terminate"

	// VerbCompletion is pushed by a sandbox when an execution finishes or
	// pauses.
	VerbCompletion = "Completion"
)

type (
	WasmID   uint64
	MemoryID uint64
	ExecID   uint64
)

// MemorySerialization is a memory as sent to a sandbox.
type MemorySerialization struct {
	PageMap      pagemap.Serialization
	NumWasmPages types.NumWasmPages
}

// MemoryModifications are the pages a sandbox changed plus the new size.
type MemoryModifications struct {
	PageDelta []pagemap.PageUpdate
	Size      types.NumWasmPages
}

type CompilationResult struct {
	LargestFunctionInstructionCount types.NumInstructions
	MaxComplexity                   uint64
	CompilationTime                 time.Duration
}

// SerializedModule is a compiled module that any sandbox can load without
// compiling it again.
type SerializedModule struct {
	Bytes             []byte
	ExportedFunctions []string
	Metadata          state.WasmMetadata
	CompilationCost   types.NumInstructions
}

type OpenWasmRequest struct {
	WasmID  WasmID
	WasmSrc []byte
}

type OpenWasmReply struct {
	Compilation CompilationResult
	Module      SerializedModule
}

type OpenWasmSerializedRequest struct {
	WasmID WasmID
	Module []byte
}

type OpenMemoryRequest struct {
	MemoryID MemoryID
	Memory   MemorySerialization
}

type CreateExecutionStateRequest struct {
	WasmID           WasmID
	WasmBinary       []byte
	WasmPageMap      pagemap.Serialization
	NextWasmMemoryID MemoryID
	CanisterID       types.CanisterID
}

type CreateExecutionStateSerializedRequest struct {
	WasmID           WasmID
	Module           SerializedModule
	WasmPageMap      pagemap.Serialization
	NextWasmMemoryID MemoryID
	CanisterID       types.CanisterID
}

type CreateExecutionStateReply struct {
	WasmMemoryModifications MemoryModifications
	ExportedGlobals         []state.Global
	// Module and Compilation are only set for a module compiled from
	// source.
	Module      *SerializedModule
	Compilation *CompilationResult
}

// ExecInput is what a sandbox needs to run one message.
type ExecInput struct {
	FuncRef                 string
	APIType                 string
	Payload                 []byte
	Globals                 []state.Global
	MessageInstructionLimit types.NumInstructions
	SliceInstructionLimit   types.NumInstructions
	CanisterID              types.CanisterID
	CurrentMemoryUsage      uint64
	NextWasmMemoryID        MemoryID
	NextStableMemoryID      MemoryID
}

type StartExecutionRequest struct {
	ExecID         ExecID
	WasmID         WasmID
	WasmMemoryID   MemoryID
	StableMemoryID MemoryID
	Input          ExecInput
}

type SliceOutput struct {
	ExecutedInstructions types.NumInstructions
}

// WasmOutput is the outcome of running a message. Trap is set when the
// execution failed.
type WasmOutput struct {
	InstructionsLeft types.NumInstructions
	Reply            []byte
	Trap             string
}

func (w WasmOutput) Failed() bool {
	return w.Trap != ""
}

type StateModifications struct {
	Globals            []state.Global
	WasmMemory         MemoryModifications
	StableMemory       MemoryModifications
	SystemStateChanges []byte
}

type ExecOutput struct {
	Slice                SliceOutput
	Wasm                 WasmOutput
	State                *StateModifications
	ExecuteTotalDuration time.Duration
	ExecuteRunDuration   time.Duration
}

// CompletionResult reports a finished execution, or a paused one in which
// case only Output.Slice is meaningful.
type CompletionResult struct {
	Paused bool
	Output ExecOutput
}

// SandboxService is the controller's view of a sandbox process. Methods
// without a context write the request and return without waiting for the
// reply; requests are observed by the sandbox in call order.
type SandboxService interface {
	OpenWasm(ctx context.Context, req OpenWasmRequest) (*OpenWasmReply, error)
	OpenWasmSerialized(req OpenWasmSerializedRequest) error
	CloseWasm(id WasmID) error
	OpenMemory(req OpenMemoryRequest) error
	CloseMemory(id MemoryID) error
	CreateExecutionState(ctx context.Context, req CreateExecutionStateRequest) (*CreateExecutionStateReply, error)
	CreateExecutionStateSerialized(ctx context.Context, req CreateExecutionStateSerializedRequest) (*CreateExecutionStateReply, error)
	StartExecution(req StartExecutionRequest) error
	ResumeExecution(id ExecID) error
	AbortExecution(id ExecID) error
	Terminate() error
}

// ControllerService receives what a sandbox pushes back.
type ControllerService interface {
	ExecutionCompleted(id ExecID, result CompletionResult)
}
