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
	"errors"
	"fmt"
	"os"
	"sync"

	"code.icreplica.io/replica/libs/crypto"
)

var ErrModuleHashMismatch = errors.New("wasm module hash mismatch")

// ModuleHash is the SHA3-256 of a wasm module.
type ModuleHash [32]byte

// CanisterModule is a wasm module either held in memory or backed by a
// file. File backed modules are read lazily.
type CanisterModule struct {
	path string
	hash ModuleHash

	mu    sync.Mutex
	bytes []byte
}

func NewCanisterModule(b []byte) *CanisterModule {
	m := &CanisterModule{bytes: b}
	copy(m.hash[:], crypto.Hash(b))
	return m
}

// NewCanisterModuleFromFile references a module on disk. When expected is
// not nil the content is checked against it.
func NewCanisterModuleFromFile(path string, expected *ModuleHash) (*CanisterModule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &CanisterModule{path: path}
	copy(m.hash[:], crypto.Hash(b))
	if expected != nil && *expected != m.hash {
		return nil, fmt.Errorf("%s: %w: expected %x, got %x", path, ErrModuleHashMismatch, expected[:], m.hash[:])
	}
	return m, nil
}

// Bytes returns the module content, reading it from disk if needed.
func (m *CanisterModule) Bytes() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytes != nil {
		return m.bytes, nil
	}
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	m.bytes = b
	return b, nil
}

// FilePath returns the backing file of a file backed module.
func (m *CanisterModule) FilePath() (string, bool) {
	return m.path, m.path != ""
}

func (m *CanisterModule) ModuleHash() ModuleHash {
	return m.hash
}

// EmbedderCache keeps whatever the execution layer associates with a wasm
// binary, typically a handle on the module compiled in a sandbox.
type EmbedderCache struct {
	mu    sync.Mutex
	value any
}

// Get returns the cached value, nil when empty.
func (c *EmbedderCache) Get() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (c *EmbedderCache) Set(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
}

// Swap stores v and returns the previous value.
func (c *EmbedderCache) Swap(v any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.value
	c.value = v
	return old
}

// WasmBinary is a module plus its embedder cache. It is shared by all
// clones of an execution state.
type WasmBinary struct {
	Binary        *CanisterModule
	EmbedderCache EmbedderCache
}

func NewWasmBinary(m *CanisterModule) *WasmBinary {
	return &WasmBinary{Binary: m}
}
