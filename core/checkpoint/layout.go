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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"code.icreplica.io/replica/core/types"
	vgfs "code.icreplica.io/replica/libs/fs"
)

const (
	tipDir            = "tip"
	checkpointsDir    = "checkpoints"
	tmpDir            = "tmp"
	canisterStatesDir = "canister_states"
	scratchpadPrefix  = "scratchpad_"

	systemMetadataFile = "system_metadata.pbuf"
	subnetQueuesFile   = "subnet_queues.pbuf"
	canisterFile       = "canister.pbuf"
	queuesFile         = "queues.pbuf"
	wasmFile           = "wasm.bin"
	vmemoryFile        = "vmemory_0"
	stableMemoryFile   = "stable_memory_blob"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointExists   = errors.New("checkpoint already exists")
)

// Layout is the state directory:
//
//	<root>/checkpoints/<height>/ published read only checkpoints
//	<root>/tip/                  the checkpoint being built
//	<root>/tmp/                  scratchpads
type Layout struct {
	root string
}

func NewLayout(root string) (*Layout, error) {
	l := &Layout{root: root}
	for _, d := range []string{root, l.checkpointsRoot(), l.tmpRoot()} {
		if err := vgfs.EnsureDir(d); err != nil {
			return nil, fmt.Errorf("couldn't create state directory %s: %w", d, err)
		}
	}
	return l, nil
}

func (l *Layout) Root() string {
	return l.root
}

func (l *Layout) checkpointsRoot() string {
	return filepath.Join(l.root, checkpointsDir)
}

func (l *Layout) tmpRoot() string {
	return filepath.Join(l.root, tmpDir)
}

func (l *Layout) TipPath() string {
	return filepath.Join(l.root, tipDir)
}

func (l *Layout) Tip() CheckpointLayout {
	return CheckpointLayout{dir: l.TipPath()}
}

func (l *Layout) CheckpointPath(h types.Height) string {
	return filepath.Join(l.checkpointsRoot(), h.Hex())
}

// Checkpoint returns the layout of a published checkpoint.
func (l *Layout) Checkpoint(h types.Height) (CheckpointLayout, error) {
	dir := l.CheckpointPath(h)
	ok, err := vgfs.PathExists(dir)
	if err != nil {
		return CheckpointLayout{}, err
	}
	if !ok {
		return CheckpointLayout{}, fmt.Errorf("%w: height %d", ErrCheckpointNotFound, h)
	}
	return CheckpointLayout{dir: dir, height: h, readOnly: true}, nil
}

func (l *Layout) ScratchpadPath(h types.Height) string {
	return filepath.Join(l.tmpRoot(), scratchpadPrefix+h.Hex())
}

// Checkpoints lists published heights in ascending order. Entries that are
// not height directories are ignored.
func (l *Layout) Checkpoints() ([]types.Height, error) {
	entries, err := os.ReadDir(l.checkpointsRoot())
	if err != nil {
		return nil, err
	}
	heights := make([]types.Height, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		h, err := types.HeightFromHex(e.Name())
		if err != nil {
			continue
		}
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights, nil
}

// LatestCheckpoint returns false when nothing was published yet.
func (l *Layout) LatestCheckpoint() (types.Height, bool, error) {
	hs, err := l.Checkpoints()
	if err != nil || len(hs) == 0 {
		return 0, false, err
	}
	return hs[len(hs)-1], true, nil
}

func (l *Layout) RemoveCheckpoint(h types.Height) error {
	dir := l.CheckpointPath(h)
	ok, err := vgfs.PathExists(dir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: height %d", ErrCheckpointNotFound, h)
	}
	return removeTree(dir)
}

// ResetTip replaces the tip with a writable copy of the checkpoint at h,
// or with an empty directory when there is no checkpoint yet. The copy is
// built in a scratchpad and renamed so a partial tip is never observed.
func (l *Layout) ResetTip(h types.Height, fromCheckpoint bool) error {
	if err := removeTree(l.TipPath()); err != nil {
		return err
	}
	if !fromCheckpoint {
		return vgfs.EnsureDir(l.TipPath())
	}

	scratch := l.ScratchpadPath(h)
	if err := removeTree(scratch); err != nil {
		return err
	}
	err := vgfs.CopyTree(l.CheckpointPath(h), scratch)
	if err == nil {
		err = vgfs.MakeWritable(scratch)
	}
	if err == nil {
		err = os.Rename(scratch, l.TipPath())
	}
	if err != nil {
		_ = removeTree(scratch)
		return fmt.Errorf("couldn't reset tip from checkpoint %d: %w", h, err)
	}
	return nil
}

// removeTree deletes dir even when it holds read only files. A missing
// dir is not an error.
func removeTree(dir string) error {
	ok, err := vgfs.PathExists(dir)
	if err != nil || !ok {
		return err
	}
	if err := vgfs.MakeWritable(dir); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// CheckpointLayout is a tip or a published checkpoint.
type CheckpointLayout struct {
	dir      string
	height   types.Height
	readOnly bool
}

func (c CheckpointLayout) Raw() string {
	return c.dir
}

func (c CheckpointLayout) Height() types.Height {
	return c.height
}

func (c CheckpointLayout) SystemMetadata() string {
	return filepath.Join(c.dir, systemMetadataFile)
}

func (c CheckpointLayout) SubnetQueues() string {
	return filepath.Join(c.dir, subnetQueuesFile)
}

func (c CheckpointLayout) canisterStates() string {
	return filepath.Join(c.dir, canisterStatesDir)
}

func (c CheckpointLayout) Canister(id types.CanisterID) CanisterLayout {
	return CanisterLayout{dir: filepath.Join(c.canisterStates(), id.Hex())}
}

// CanisterIDs lists the canisters stored in the layout.
func (c CheckpointLayout) CanisterIDs() ([]types.CanisterID, error) {
	entries, err := os.ReadDir(c.canisterStates())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]types.CanisterID, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := types.CanisterIDFromHex(e.Name())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type CanisterLayout struct {
	dir string
}

func (c CanisterLayout) Raw() string              { return c.dir }
func (c CanisterLayout) CanisterPbuf() string     { return filepath.Join(c.dir, canisterFile) }
func (c CanisterLayout) QueuesPbuf() string       { return filepath.Join(c.dir, queuesFile) }
func (c CanisterLayout) WasmBinary() string       { return filepath.Join(c.dir, wasmFile) }
func (c CanisterLayout) VMemory0() string         { return filepath.Join(c.dir, vmemoryFile) }
func (c CanisterLayout) StableMemoryBlob() string { return filepath.Join(c.dir, stableMemoryFile) }
