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
	"time"

	"code.icreplica.io/replica/core/pagemap"
	"code.icreplica.io/replica/core/state"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/libs/wire"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers are part of the protocol, never renumber them.

func marshalGlobals(e *wire.Encoder, field protowire.Number, globals []state.Global) {
	for _, g := range globals {
		m := wire.NewEncoder().
			PutUint64(1, uint64(g.Type)).
			PutUint64(2, g.Value)
		e.PutMessage(field, m.Bytes())
	}
}

func unmarshalGlobals(raw [][]byte) ([]state.Global, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]state.Global, 0, len(raw))
	for _, b := range raw {
		f, err := wire.Parse(b)
		if err != nil {
			return nil, err
		}
		out = append(out, state.Global{
			Type:  state.GlobalType(f.Uint64(1)),
			Value: f.Uint64(2),
		})
	}
	return out, nil
}

func marshalMetadata(e *wire.Encoder, field protowire.Number, md state.WasmMetadata) {
	for _, name := range md.SectionNames() {
		s := md[name]
		m := wire.NewEncoder().
			PutString(1, name).
			PutBool(2, s.Public).
			PutBytes(3, s.Content)
		e.PutMessage(field, m.Bytes())
	}
}

func unmarshalMetadata(raw [][]byte) (state.WasmMetadata, error) {
	md := state.WasmMetadata{}
	for _, b := range raw {
		f, err := wire.Parse(b)
		if err != nil {
			return nil, err
		}
		md[f.String(1)] = state.CustomSection{
			Public:  f.Bool(2),
			Content: f.Bytes(3),
		}
	}
	return md, nil
}

func marshalModifications(m MemoryModifications) []byte {
	return wire.NewEncoder().
		PutBytes(1, pagemap.MarshalDelta(m.PageDelta)).
		PutUint64(2, uint64(m.Size)).
		Bytes()
}

func unmarshalModifications(b []byte) (MemoryModifications, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return MemoryModifications{}, err
	}
	delta, err := pagemap.UnmarshalDelta(f.Bytes(1))
	if err != nil {
		return MemoryModifications{}, err
	}
	return MemoryModifications{PageDelta: delta, Size: types.NumWasmPages(f.Uint64(2))}, nil
}

func marshalCompilationResult(c CompilationResult) []byte {
	return wire.NewEncoder().
		PutUint64(1, uint64(c.LargestFunctionInstructionCount)).
		PutUint64(2, c.MaxComplexity).
		PutInt64(3, int64(c.CompilationTime)).
		Bytes()
}

func unmarshalCompilationResult(b []byte) (CompilationResult, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return CompilationResult{}, err
	}
	return CompilationResult{
		LargestFunctionInstructionCount: types.NumInstructions(f.Uint64(1)),
		MaxComplexity:                   f.Uint64(2),
		CompilationTime:                 time.Duration(f.Int64(3)),
	}, nil
}

// MarshalSerializedModule is also used by the compilation cache, which
// keeps modules in their wire form.
func MarshalSerializedModule(m SerializedModule) []byte {
	e := wire.NewEncoder().
		PutBytes(1, m.Bytes).
		PutStrings(2, m.ExportedFunctions)
	marshalMetadata(e, 3, m.Metadata)
	return e.PutUint64(4, uint64(m.CompilationCost)).Bytes()
}

func UnmarshalSerializedModule(b []byte) (SerializedModule, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return SerializedModule{}, err
	}
	md, err := unmarshalMetadata(f.Messages(3))
	if err != nil {
		return SerializedModule{}, err
	}
	return SerializedModule{
		Bytes:             f.Bytes(1),
		ExportedFunctions: f.Strings(2),
		Metadata:          md,
		CompilationCost:   types.NumInstructions(f.Uint64(4)),
	}, nil
}

func marshalID(id uint64) []byte {
	return wire.NewEncoder().PutUint64(1, id).Bytes()
}

func unmarshalID(b []byte) (uint64, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return 0, err
	}
	return f.Uint64(1), nil
}

func (r OpenWasmRequest) marshal() []byte {
	return wire.NewEncoder().
		PutUint64(1, uint64(r.WasmID)).
		PutBytes(2, r.WasmSrc).
		Bytes()
}

func unmarshalOpenWasmRequest(b []byte) (OpenWasmRequest, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return OpenWasmRequest{}, err
	}
	return OpenWasmRequest{WasmID: WasmID(f.Uint64(1)), WasmSrc: f.Bytes(2)}, nil
}

func (r OpenWasmReply) marshal() []byte {
	return wire.NewEncoder().
		PutMessage(1, marshalCompilationResult(r.Compilation)).
		PutMessage(2, MarshalSerializedModule(r.Module)).
		Bytes()
}

func unmarshalOpenWasmReply(b []byte) (*OpenWasmReply, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, err
	}
	c, err := unmarshalCompilationResult(f.Bytes(1))
	if err != nil {
		return nil, err
	}
	m, err := UnmarshalSerializedModule(f.Bytes(2))
	if err != nil {
		return nil, err
	}
	return &OpenWasmReply{Compilation: c, Module: m}, nil
}

func (r OpenWasmSerializedRequest) marshal() []byte {
	return wire.NewEncoder().
		PutUint64(1, uint64(r.WasmID)).
		PutBytes(2, r.Module).
		Bytes()
}

func unmarshalOpenWasmSerializedRequest(b []byte) (OpenWasmSerializedRequest, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return OpenWasmSerializedRequest{}, err
	}
	return OpenWasmSerializedRequest{WasmID: WasmID(f.Uint64(1)), Module: f.Bytes(2)}, nil
}

func (r OpenMemoryRequest) marshal() []byte {
	return wire.NewEncoder().
		PutUint64(1, uint64(r.MemoryID)).
		PutMessage(2, pagemap.MarshalSerialization(r.Memory.PageMap)).
		PutUint64(3, uint64(r.Memory.NumWasmPages)).
		Bytes()
}

func unmarshalOpenMemoryRequest(b []byte) (OpenMemoryRequest, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return OpenMemoryRequest{}, err
	}
	s, err := pagemap.UnmarshalSerialization(f.Bytes(2))
	if err != nil {
		return OpenMemoryRequest{}, err
	}
	return OpenMemoryRequest{
		MemoryID: MemoryID(f.Uint64(1)),
		Memory: MemorySerialization{
			PageMap:      s,
			NumWasmPages: types.NumWasmPages(f.Uint64(3)),
		},
	}, nil
}

func (r CreateExecutionStateRequest) marshal() []byte {
	return wire.NewEncoder().
		PutUint64(1, uint64(r.WasmID)).
		PutBytes(2, r.WasmBinary).
		PutMessage(3, pagemap.MarshalSerialization(r.WasmPageMap)).
		PutUint64(4, uint64(r.NextWasmMemoryID)).
		PutString(5, string(r.CanisterID)).
		Bytes()
}

func unmarshalCreateExecutionStateRequest(b []byte) (CreateExecutionStateRequest, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return CreateExecutionStateRequest{}, err
	}
	s, err := pagemap.UnmarshalSerialization(f.Bytes(3))
	if err != nil {
		return CreateExecutionStateRequest{}, err
	}
	return CreateExecutionStateRequest{
		WasmID:           WasmID(f.Uint64(1)),
		WasmBinary:       f.Bytes(2),
		WasmPageMap:      s,
		NextWasmMemoryID: MemoryID(f.Uint64(4)),
		CanisterID:       types.CanisterID(f.String(5)),
	}, nil
}

func (r CreateExecutionStateSerializedRequest) marshal() []byte {
	return wire.NewEncoder().
		PutUint64(1, uint64(r.WasmID)).
		PutMessage(2, MarshalSerializedModule(r.Module)).
		PutMessage(3, pagemap.MarshalSerialization(r.WasmPageMap)).
		PutUint64(4, uint64(r.NextWasmMemoryID)).
		PutString(5, string(r.CanisterID)).
		Bytes()
}

func unmarshalCreateExecutionStateSerializedRequest(b []byte) (CreateExecutionStateSerializedRequest, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return CreateExecutionStateSerializedRequest{}, err
	}
	m, err := UnmarshalSerializedModule(f.Bytes(2))
	if err != nil {
		return CreateExecutionStateSerializedRequest{}, err
	}
	s, err := pagemap.UnmarshalSerialization(f.Bytes(3))
	if err != nil {
		return CreateExecutionStateSerializedRequest{}, err
	}
	return CreateExecutionStateSerializedRequest{
		WasmID:           WasmID(f.Uint64(1)),
		Module:           m,
		WasmPageMap:      s,
		NextWasmMemoryID: MemoryID(f.Uint64(4)),
		CanisterID:       types.CanisterID(f.String(5)),
	}, nil
}

func (r CreateExecutionStateReply) marshal() []byte {
	e := wire.NewEncoder().PutMessage(1, marshalModifications(r.WasmMemoryModifications))
	marshalGlobals(e, 2, r.ExportedGlobals)
	if r.Module != nil {
		e.PutMessage(3, MarshalSerializedModule(*r.Module))
	}
	if r.Compilation != nil {
		e.PutMessage(4, marshalCompilationResult(*r.Compilation))
	}
	return e.Bytes()
}

func unmarshalCreateExecutionStateReply(b []byte) (*CreateExecutionStateReply, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, err
	}
	mods, err := unmarshalModifications(f.Bytes(1))
	if err != nil {
		return nil, err
	}
	globals, err := unmarshalGlobals(f.Messages(2))
	if err != nil {
		return nil, err
	}
	r := &CreateExecutionStateReply{WasmMemoryModifications: mods, ExportedGlobals: globals}
	if f.Has(3) {
		m, err := UnmarshalSerializedModule(f.Bytes(3))
		if err != nil {
			return nil, err
		}
		r.Module = &m
	}
	if f.Has(4) {
		c, err := unmarshalCompilationResult(f.Bytes(4))
		if err != nil {
			return nil, err
		}
		r.Compilation = &c
	}
	return r, nil
}

func (in ExecInput) marshal() []byte {
	e := wire.NewEncoder().
		PutString(1, in.FuncRef).
		PutString(2, in.APIType).
		PutBytes(3, in.Payload)
	marshalGlobals(e, 4, in.Globals)
	return e.
		PutUint64(5, uint64(in.MessageInstructionLimit)).
		PutUint64(6, uint64(in.SliceInstructionLimit)).
		PutString(7, string(in.CanisterID)).
		PutUint64(8, in.CurrentMemoryUsage).
		PutUint64(9, uint64(in.NextWasmMemoryID)).
		PutUint64(10, uint64(in.NextStableMemoryID)).
		Bytes()
}

func unmarshalExecInput(b []byte) (ExecInput, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return ExecInput{}, err
	}
	globals, err := unmarshalGlobals(f.Messages(4))
	if err != nil {
		return ExecInput{}, err
	}
	return ExecInput{
		FuncRef:                 f.String(1),
		APIType:                 f.String(2),
		Payload:                 f.Bytes(3),
		Globals:                 globals,
		MessageInstructionLimit: types.NumInstructions(f.Uint64(5)),
		SliceInstructionLimit:   types.NumInstructions(f.Uint64(6)),
		CanisterID:              types.CanisterID(f.String(7)),
		CurrentMemoryUsage:      f.Uint64(8),
		NextWasmMemoryID:        MemoryID(f.Uint64(9)),
		NextStableMemoryID:      MemoryID(f.Uint64(10)),
	}, nil
}

func (r StartExecutionRequest) marshal() []byte {
	return wire.NewEncoder().
		PutUint64(1, uint64(r.ExecID)).
		PutUint64(2, uint64(r.WasmID)).
		PutUint64(3, uint64(r.WasmMemoryID)).
		PutUint64(4, uint64(r.StableMemoryID)).
		PutMessage(5, r.Input.marshal()).
		Bytes()
}

func unmarshalStartExecutionRequest(b []byte) (StartExecutionRequest, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return StartExecutionRequest{}, err
	}
	in, err := unmarshalExecInput(f.Bytes(5))
	if err != nil {
		return StartExecutionRequest{}, err
	}
	return StartExecutionRequest{
		ExecID:         ExecID(f.Uint64(1)),
		WasmID:         WasmID(f.Uint64(2)),
		WasmMemoryID:   MemoryID(f.Uint64(3)),
		StableMemoryID: MemoryID(f.Uint64(4)),
		Input:          in,
	}, nil
}

func (s StateModifications) marshal() []byte {
	e := wire.NewEncoder()
	marshalGlobals(e, 1, s.Globals)
	return e.
		PutMessage(2, marshalModifications(s.WasmMemory)).
		PutMessage(3, marshalModifications(s.StableMemory)).
		PutBytes(4, s.SystemStateChanges).
		Bytes()
}

func unmarshalStateModifications(b []byte) (*StateModifications, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return nil, err
	}
	globals, err := unmarshalGlobals(f.Messages(1))
	if err != nil {
		return nil, err
	}
	wasm, err := unmarshalModifications(f.Bytes(2))
	if err != nil {
		return nil, err
	}
	stable, err := unmarshalModifications(f.Bytes(3))
	if err != nil {
		return nil, err
	}
	return &StateModifications{
		Globals:            globals,
		WasmMemory:         wasm,
		StableMemory:       stable,
		SystemStateChanges: f.Bytes(4),
	}, nil
}

func (o ExecOutput) marshal() []byte {
	e := wire.NewEncoder().
		PutUint64(1, uint64(o.Slice.ExecutedInstructions)).
		PutUint64(2, uint64(o.Wasm.InstructionsLeft)).
		PutBytes(3, o.Wasm.Reply).
		PutString(4, o.Wasm.Trap)
	if o.State != nil {
		e.PutMessage(5, o.State.marshal())
	}
	return e.
		PutInt64(6, int64(o.ExecuteTotalDuration)).
		PutInt64(7, int64(o.ExecuteRunDuration)).
		Bytes()
}

func unmarshalExecOutput(b []byte) (ExecOutput, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return ExecOutput{}, err
	}
	o := ExecOutput{
		Slice: SliceOutput{ExecutedInstructions: types.NumInstructions(f.Uint64(1))},
		Wasm: WasmOutput{
			InstructionsLeft: types.NumInstructions(f.Uint64(2)),
			Reply:            f.Bytes(3),
			Trap:             f.String(4),
		},
		ExecuteTotalDuration: time.Duration(f.Int64(6)),
		ExecuteRunDuration:   time.Duration(f.Int64(7)),
	}
	if f.Has(5) {
		if o.State, err = unmarshalStateModifications(f.Bytes(5)); err != nil {
			return ExecOutput{}, err
		}
	}
	return o, nil
}

func marshalCompletion(id ExecID, r CompletionResult) []byte {
	return wire.NewEncoder().
		PutUint64(1, uint64(id)).
		PutBool(2, r.Paused).
		PutMessage(3, r.Output.marshal()).
		Bytes()
}

func unmarshalCompletion(b []byte) (ExecID, CompletionResult, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return 0, CompletionResult{}, err
	}
	out, err := unmarshalExecOutput(f.Bytes(3))
	if err != nil {
		return 0, CompletionResult{}, err
	}
	return ExecID(f.Uint64(1)), CompletionResult{Paused: f.Bool(2), Output: out}, nil
}
