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

package checkpoint

import (
	"fmt"
	"time"

	"code.icreplica.io/replica/core/state"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/libs/wire"
)

// canisterStateBits is the content of canister.pbuf: everything about a
// canister except its queues, memories and wasm binary.
type canisterStateBits struct {
	System    state.SystemState
	Scheduler state.SchedulerState
	Execution *executionStateBits
}

type executionStateBits struct {
	ExportedGlobals   []state.Global
	HeapSize          types.NumWasmPages
	ExportedFunctions []string
	LastExecutedRound types.ExecutionRound
	Metadata          state.WasmMetadata
	BinaryHash        state.ModuleHash
	StableMemorySize  types.NumWasmPages
}

func bitsFromCanister(c *state.CanisterState) canisterStateBits {
	bits := canisterStateBits{System: c.System, Scheduler: c.Scheduler}
	if es := c.Execution; es != nil {
		bits.Execution = &executionStateBits{
			ExportedGlobals:   es.ExportedGlobals,
			HeapSize:          es.WasmMemory.Size,
			ExportedFunctions: es.ExportedFunctions,
			LastExecutedRound: es.LastExecutedRound,
			Metadata:          es.Metadata,
			BinaryHash:        es.WasmBinary.Binary.ModuleHash(),
			StableMemorySize:  es.StableMemory.Size,
		}
	}
	return bits
}

func encodeSystemMetadata(m state.SystemMetadata) []byte {
	var nanos int64
	if !m.BatchTime.IsZero() {
		nanos = m.BatchTime.UnixNano()
	}
	return wire.NewEncoder().
		PutString(1, m.OwnSubnetID).
		PutUint64(2, uint64(m.Height)).
		PutInt64(3, nanos).
		PutUint64(4, m.GeneratedCanisterIDs).
		PutUint64(5, uint64(m.StateSyncVersion)).
		Bytes()
}

func decodeSystemMetadata(b []byte) (state.SystemMetadata, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return state.SystemMetadata{}, fmt.Errorf("invalid system metadata: %w", err)
	}
	m := state.SystemMetadata{
		OwnSubnetID:          f.String(1),
		Height:               types.Height(f.Uint64(2)),
		GeneratedCanisterIDs: f.Uint64(4),
		StateSyncVersion:     uint32(f.Uint64(5)),
	}
	if f.Has(3) {
		m.BatchTime = time.Unix(0, f.Int64(3)).UTC()
	}
	return m, nil
}

func encodeMessage(m state.Message) []byte {
	return wire.NewEncoder().
		PutString(1, m.Source).
		PutString(2, m.Destination).
		PutString(3, m.Method).
		PutBytes(4, m.Payload).
		PutBool(5, m.Response).
		Bytes()
}

func decodeMessage(b []byte) (state.Message, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return state.Message{}, err
	}
	return state.Message{
		Source:      f.String(1),
		Destination: f.String(2),
		Method:      f.String(3),
		Payload:     f.Bytes(4),
		Response:    f.Bool(5),
	}, nil
}

func encodeQueues(q state.CanisterQueues) []byte {
	e := wire.NewEncoder()
	for i, msgs := range [][]state.Message{q.Ingress, q.Input, q.Output} {
		for _, m := range msgs {
			e.PutMessage(wireNumber(i+1), encodeMessage(m))
		}
	}
	return e.Bytes()
}

func decodeQueues(b []byte) (state.CanisterQueues, error) {
	var q state.CanisterQueues
	f, err := wire.Parse(b)
	if err != nil {
		return q, fmt.Errorf("invalid queues: %w", err)
	}
	targets := []*[]state.Message{&q.Ingress, &q.Input, &q.Output}
	for i, dst := range targets {
		for _, raw := range f.Messages(wireNumber(i + 1)) {
			m, err := decodeMessage(raw)
			if err != nil {
				return q, fmt.Errorf("invalid queued message: %w", err)
			}
			*dst = append(*dst, m)
		}
	}
	return q, nil
}

func encodeCanisterStateBits(bits canisterStateBits) []byte {
	e := wire.NewEncoder().
		PutStrings(1, bits.System.Controllers).
		PutUint64(2, bits.System.CyclesBalance).
		PutUint64(3, uint64(bits.System.Status)).
		PutBytes(4, bits.System.CertifiedData).
		PutUint64(5, uint64(bits.Scheduler.LastFullExecutionRound)).
		PutUint64(6, bits.Scheduler.ComputeAllocation).
		PutInt64(7, bits.Scheduler.AccumulatedPriority).
		PutInt64(9, bits.Scheduler.PriorityCredit).
		PutUint64(10, uint64(bits.Scheduler.LongExecutionMode))
	if bits.Execution != nil {
		e.PutMessage(8, encodeExecutionStateBits(*bits.Execution))
	}
	return e.Bytes()
}

func decodeCanisterStateBits(id types.CanisterID, b []byte) (canisterStateBits, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return canisterStateBits{}, fmt.Errorf("invalid canister state for %s: %w", id, err)
	}
	bits := canisterStateBits{
		System: state.SystemState{
			CanisterID:    id,
			Controllers:   f.Strings(1),
			CyclesBalance: f.Uint64(2),
			Status:        state.CanisterStatus(f.Uint64(3)),
			CertifiedData: f.Bytes(4),
		},
		Scheduler: state.SchedulerState{
			LastFullExecutionRound: types.ExecutionRound(f.Uint64(5)),
			ComputeAllocation:      f.Uint64(6),
			AccumulatedPriority:    f.Int64(7),
			PriorityCredit:         f.Int64(9),
			LongExecutionMode:      state.LongExecutionMode(f.Uint64(10)),
		},
	}
	if f.Has(8) {
		es, err := decodeExecutionStateBits(f.Bytes(8))
		if err != nil {
			return bits, fmt.Errorf("invalid execution state for %s: %w", id, err)
		}
		bits.Execution = &es
	}
	return bits, nil
}

func encodeExecutionStateBits(es executionStateBits) []byte {
	e := wire.NewEncoder()
	for _, g := range es.ExportedGlobals {
		e.PutMessage(1, wire.NewEncoder().PutUint64(1, uint64(g.Type)).PutUint64(2, g.Value).Bytes())
	}
	e.PutUint64(2, uint64(es.HeapSize)).
		PutStrings(3, es.ExportedFunctions).
		PutUint64(4, uint64(es.LastExecutedRound))
	for _, name := range es.Metadata.SectionNames() {
		s := es.Metadata[name]
		e.PutMessage(5, wire.NewEncoder().PutString(1, name).PutBool(2, s.Public).PutBytes(3, s.Content).Bytes())
	}
	return e.PutBytes(6, es.BinaryHash[:]).
		PutUint64(7, uint64(es.StableMemorySize)).
		Bytes()
}

func decodeExecutionStateBits(b []byte) (executionStateBits, error) {
	var es executionStateBits
	f, err := wire.Parse(b)
	if err != nil {
		return es, err
	}
	for _, raw := range f.Messages(1) {
		g, err := wire.Parse(raw)
		if err != nil {
			return es, err
		}
		es.ExportedGlobals = append(es.ExportedGlobals, state.Global{
			Type:  state.GlobalType(g.Uint64(1)),
			Value: g.Uint64(2),
		})
	}
	es.HeapSize = types.NumWasmPages(f.Uint64(2))
	es.ExportedFunctions = f.Strings(3)
	es.LastExecutedRound = types.ExecutionRound(f.Uint64(4))
	for _, raw := range f.Messages(5) {
		s, err := wire.Parse(raw)
		if err != nil {
			return es, err
		}
		if es.Metadata == nil {
			es.Metadata = state.WasmMetadata{}
		}
		es.Metadata[s.String(1)] = state.CustomSection{Public: s.Bool(2), Content: s.Bytes(3)}
	}
	hash := f.Bytes(6)
	if len(hash) != len(es.BinaryHash) {
		return es, fmt.Errorf("invalid module hash length %d", len(hash))
	}
	copy(es.BinaryHash[:], hash)
	es.StableMemorySize = types.NumWasmPages(f.Uint64(7))
	return es, nil
}
