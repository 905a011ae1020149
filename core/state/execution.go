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

package state

import (
	"fmt"
	"sort"
	"sync"

	"code.icreplica.io/replica/core/pagemap"
	"code.icreplica.io/replica/core/types"
)

type GlobalType int32

const (
	GlobalI32 GlobalType = iota
	GlobalI64
	GlobalF32
	GlobalF64
)

// Global is an exported wasm global. Floats are stored by their bits.
type Global struct {
	Type  GlobalType
	Value uint64
}

// CustomSection is a wasm custom section exposed as canister metadata.
type CustomSection struct {
	Public  bool
	Content []byte
}

type WasmMetadata map[string]CustomSection

// SectionNames returns the section names in order.
func (m WasmMetadata) SectionNames() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RemoteMemory is a copy of a memory held by a sandbox process.
type RemoteMemory interface {
	MemoryID() uint64
}

// SandboxMemory records whether a sandbox process already holds the
// content of a memory. It is shared by clones of the memory.
type SandboxMemory struct {
	mu     sync.Mutex
	remote RemoteMemory
}

// NewSyncedSandboxMemory is used when the sandbox produced the memory.
func NewSyncedSandboxMemory(r RemoteMemory) *SandboxMemory {
	return &SandboxMemory{remote: r}
}

// Synced returns the remote copy, if any.
func (s *SandboxMemory) Synced() (RemoteMemory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote, s.remote != nil
}

// Sync records the remote copy unless one was recorded concurrently, in
// which case the existing one is returned.
func (s *SandboxMemory) Sync(r RemoteMemory) RemoteMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		s.remote = r
	}
	return s.remote
}

// Memory is a wasm heap or stable memory.
type Memory struct {
	PageMap *pagemap.PageMap
	Size    types.NumWasmPages
	Sandbox *SandboxMemory
}

func NewMemory(pm *pagemap.PageMap, size types.NumWasmPages) *Memory {
	return &Memory{PageMap: pm, Size: size, Sandbox: &SandboxMemory{}}
}

// EmptyMemory returns a memory of zero pages.
func EmptyMemory() *Memory {
	return NewMemory(pagemap.New(), 0)
}

// VerifySize checks that the page map fits in the declared number of wasm
// pages.
func (m *Memory) VerifySize() error {
	have := m.PageMap.NumPages() * pagemap.PageSize
	limit := uint64(m.Size) * types.WasmPageSize
	if have > limit {
		return fmt.Errorf("page map holds %d bytes, more than the %d bytes of %d wasm pages", have, limit, m.Size)
	}
	return nil
}

// Clone shares the sandbox copy: the page map content is identical.
func (m *Memory) Clone() *Memory {
	return &Memory{PageMap: m.PageMap.Clone(), Size: m.Size, Sandbox: m.Sandbox}
}

type ExecutionState struct {
	CanisterRoot      string
	WasmBinary        *WasmBinary
	WasmMemory        *Memory
	StableMemory      *Memory
	ExportedGlobals   []Global
	ExportedFunctions []string
	Metadata          WasmMetadata
	LastExecutedRound types.ExecutionRound
}

// Exports reports whether the module exports the named function.
func (e *ExecutionState) Exports(name string) bool {
	i := sort.SearchStrings(e.ExportedFunctions, name)
	return i < len(e.ExportedFunctions) && e.ExportedFunctions[i] == name
}

// Clone returns a copy whose memories can be modified independently. The
// wasm binary and its caches are shared.
func (e *ExecutionState) Clone() *ExecutionState {
	c := *e
	c.WasmMemory = e.WasmMemory.Clone()
	c.StableMemory = e.StableMemory.Clone()
	c.ExportedGlobals = append([]Global(nil), e.ExportedGlobals...)
	c.ExportedFunctions = append([]string(nil), e.ExportedFunctions...)
	return &c
}

// SortExports orders exported function names, which Exports relies on.
func SortExports(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
