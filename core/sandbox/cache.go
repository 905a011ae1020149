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
	"fmt"

	"code.icreplica.io/replica/core/sandbox/ipc"
	"code.icreplica.io/replica/core/state"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CompilationError is a module the sandbox refused to compile or
// instantiate.
type CompilationError struct {
	Message string
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("wasm compilation failed: %s", e.Message)
}

type compiled struct {
	module *ipc.SerializedModule
	err    *CompilationError
}

// CompilationCache remembers the outcome of compiling a module, keyed by
// the module hash, so that a module is compiled at most once across all
// sandboxes.
type CompilationCache struct {
	cache *lru.Cache[state.ModuleHash, compiled]
}

func NewCompilationCache(size int) (*CompilationCache, error) {
	c, err := lru.New[state.ModuleHash, compiled](size)
	if err != nil {
		return nil, err
	}
	return &CompilationCache{cache: c}, nil
}

func (c *CompilationCache) InsertModule(h state.ModuleHash, m *ipc.SerializedModule) {
	c.cache.Add(h, compiled{module: m})
}

func (c *CompilationCache) InsertError(h state.ModuleHash, err *CompilationError) {
	c.cache.Add(h, compiled{err: err})
}

// Get returns the compiled module or the compilation error recorded for h.
// ok is false when the module was never compiled.
func (c *CompilationCache) Get(h state.ModuleHash) (m *ipc.SerializedModule, err *CompilationError, ok bool) {
	v, ok := c.cache.Get(h)
	if !ok {
		return nil, nil, false
	}
	return v.module, v.err, true
}

func (c *CompilationCache) Len() int {
	return c.cache.Len()
}
