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

// Package checkpoint writes the replicated state to disk and reads it back.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"code.icreplica.io/replica/core/pagemap"
	"code.icreplica.io/replica/core/state"
	"code.icreplica.io/replica/core/types"
	vgerrors "code.icreplica.io/replica/libs/errors"
	vgfs "code.icreplica.io/replica/libs/fs"
	"code.icreplica.io/replica/logging"
	"code.icreplica.io/replica/metrics"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

type Engine struct {
	log    *logging.Logger
	cfg    Config
	layout *Layout
	m      *engineMetrics

	syncDir func(string) error

	// one checkpoint at a time
	mu sync.Mutex
}

func New(log *logging.Logger, cfg Config, layout *Layout, reg *metrics.Registry) (*Engine, error) {
	log = log.Named(namedLogger)
	log.SetLevel(cfg.Level.Get())

	m, err := newEngineMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("couldn't register checkpoint metrics: %w", err)
	}
	return &Engine{
		log:     log,
		cfg:     cfg,
		layout:  layout,
		m:       m,
		syncDir: vgfs.SyncDir,
	}, nil
}

func (e *Engine) ReloadConf(cfg Config) {
	e.log.Info("reloading configuration")
	if e.log.GetLevel() != cfg.Level.Get() {
		e.log.Info("updating log level",
			logging.String("old", e.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		e.log.SetLevel(cfg.Level.Get())
	}

	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) Layout() *Layout {
	return e.layout
}

// MakeCheckpoint publishes st as the checkpoint at height and returns the
// state loaded back from it. The returned state must replace st: its page
// maps are backed by the published files. If any step before publication
// fails the tip is removed and no checkpoint appears.
func (e *Engine) MakeCheckpoint(ctx context.Context, st *state.ReplicatedState, height types.Height) (*state.ReplicatedState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	begin := time.Now()

	exists, err := vgfs.PathExists(e.layout.CheckpointPath(height))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: height %d", ErrCheckpointExists, height)
	}

	latest, ok, err := e.layout.LatestCheckpoint()
	if err != nil {
		return nil, err
	}
	if err := e.layout.ResetTip(latest, ok); err != nil {
		return nil, err
	}

	if err := e.buildTip(ctx, st, height); err != nil {
		e.log.Error("couldn't build checkpoint, discarding tip",
			logging.Height(uint64(height)),
			logging.Error(err),
		)
		if rerr := removeTree(e.layout.TipPath()); rerr != nil {
			e.log.Error("couldn't remove tip", logging.Error(rerr))
		}
		return nil, err
	}

	start := time.Now()
	loaded, err := e.loadCheckpoint(ctx, height)
	e.m.observe(stepLoad, start)
	if err != nil {
		return nil, fmt.Errorf("couldn't load checkpoint %d after publishing it: %w", height, err)
	}

	e.pruneCheckpoints()
	e.log.Info("checkpoint created",
		logging.Height(uint64(height)),
		logging.Int("canisters", len(loaded.Canisters)),
		logging.Duration("duration", time.Since(begin)),
	)
	return loaded, nil
}

func (e *Engine) buildTip(ctx context.Context, st *state.ReplicatedState, height types.Height) error {
	tip := e.layout.Tip()

	start := time.Now()
	err := e.serializeToTip(ctx, st, tip)
	e.m.observe(stepSerializeToTip, start)
	if err != nil {
		return fmt.Errorf("couldn't serialize state to tip: %w", err)
	}

	start = time.Now()
	e.defragTip(tip, height)
	e.m.observe(stepDefragTip, start)

	start = time.Now()
	err = e.filterTipCanisters(tip, st)
	e.m.observe(stepFilterCanister, start)
	if err != nil {
		return fmt.Errorf("couldn't filter tip canisters: %w", err)
	}

	start = time.Now()
	err = e.tipToCheckpoint(height)
	e.m.observe(stepTipToCheckpoint, start)
	if err != nil {
		return fmt.Errorf("couldn't publish tip: %w", err)
	}
	return nil
}

func (e *Engine) serializeToTip(ctx context.Context, st *state.ReplicatedState, tip CheckpointLayout) error {
	if err := vgfs.EnsureDir(tip.canisterStates()); err != nil {
		return err
	}
	if err := vgfs.WriteFile(tip.SystemMetadata(), encodeSystemMetadata(st.Metadata)); err != nil {
		return err
	}
	if err := vgfs.WriteFile(tip.SubnetQueues(), encodeQueues(st.SubnetQueues)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.cfg.NumberOfCheckpointThreads, 1))
	for _, id := range st.CanisterIDs() {
		c := st.Canisters[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return serializeCanisterToTip(tip.Canister(c.ID()), c)
		})
	}
	return g.Wait()
}

func serializeCanisterToTip(cl CanisterLayout, c *state.CanisterState) error {
	if err := vgfs.EnsureDir(cl.Raw()); err != nil {
		return err
	}
	if err := vgfs.WriteFile(cl.QueuesPbuf(), encodeQueues(c.System.Queues)); err != nil {
		return err
	}

	if es := c.Execution; es != nil {
		if err := serializeWasmToTip(cl, es.WasmBinary); err != nil {
			return fmt.Errorf("couldn't write wasm of %s: %w", c.ID(), err)
		}
		if err := es.WasmMemory.PageMap.PersistDelta(cl.VMemory0()); err != nil {
			return err
		}
		if err := es.StableMemory.PageMap.PersistDelta(cl.StableMemoryBlob()); err != nil {
			return err
		}
	} else {
		// stale files left by the tip reset must not be picked up
		for _, p := range []string{cl.VMemory0(), cl.StableMemoryBlob()} {
			if err := vgfs.Truncate(p); err != nil {
				return err
			}
		}
		if err := os.Remove(cl.WasmBinary()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	return vgfs.WriteFile(cl.CanisterPbuf(), encodeCanisterStateBits(bitsFromCanister(c)))
}

func serializeWasmToTip(cl CanisterLayout, wb *state.WasmBinary) error {
	dst := cl.WasmBinary()
	if src, ok := wb.Binary.FilePath(); ok {
		if src == dst {
			return nil
		}
		exists, err := vgfs.FileExists(dst)
		if err != nil || exists {
			return err
		}
		return vgfs.CopyFile(src, dst)
	}
	b, err := wb.Binary.Bytes()
	if err != nil {
		return err
	}
	return vgfs.WriteFile(dst, b)
}

// defragTip is best effort, failures are only logged.
func (e *Engine) defragTip(tip CheckpointLayout, height types.Height) {
	files, err := pageFiles(tip)
	if err != nil {
		e.log.Warn("couldn't list page files for defragmentation", logging.Error(err))
		return
	}
	res, err := defragment(files, height, e.cfg.DefragSize.Get(), e.cfg.DefragSample)
	if err != nil {
		e.log.Warn("tip defragmentation failed", logging.Error(err))
		return
	}
	if res == nil {
		return
	}
	e.m.defragBytes.Add(float64(res.Size))
	if e.log.IsDebug() {
		e.log.Debug("defragmented tip file",
			logging.String("path", res.Path),
			logging.Uint64("offset", res.Offset),
			logging.String("size", humanize.IBytes(res.Size)),
		)
	}
}

func (e *Engine) filterTipCanisters(tip CheckpointLayout, st *state.ReplicatedState) error {
	ids, err := tip.CanisterIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := st.Canisters[id]; ok {
			continue
		}
		if err := removeTree(tip.Canister(id).Raw()); err != nil {
			return err
		}
	}
	return nil
}

// tipToCheckpoint makes the tip read only then renames it, so published
// checkpoints are never observed writable or partial.
func (e *Engine) tipToCheckpoint(height types.Height) error {
	tip := e.layout.TipPath()
	if err := vgfs.MakeReadOnly(tip); err != nil {
		return err
	}
	if err := os.Rename(tip, e.layout.CheckpointPath(height)); err != nil {
		return err
	}
	// the checkpoint is published, the tip no longer exists
	if err := e.syncDir(e.layout.checkpointsRoot()); err != nil {
		e.log.Warn("couldn't sync the checkpoints directory after publishing",
			logging.Height(uint64(height)),
			logging.Error(err),
		)
	}
	return nil
}

func (e *Engine) pruneCheckpoints() {
	if e.cfg.KeepRecent <= 0 {
		return
	}
	heights, err := e.layout.Checkpoints()
	if err != nil {
		e.log.Warn("couldn't list checkpoints", logging.Error(err))
		return
	}
	for len(heights) > e.cfg.KeepRecent {
		h := heights[0]
		heights = heights[1:]
		if err := e.layout.RemoveCheckpoint(h); err != nil {
			e.log.Warn("couldn't remove old checkpoint", logging.Height(uint64(h)), logging.Error(err))
			continue
		}
		e.log.Debug("removed old checkpoint", logging.Height(uint64(h)))
	}
}

// LoadCheckpoint reads the checkpoint at height. Canisters are loaded in
// parallel. Scheduling fields tied to paused executions are reset.
func (e *Engine) LoadCheckpoint(ctx context.Context, height types.Height) (*state.ReplicatedState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadCheckpoint(ctx, height)
}

// LoadLatest loads the most recent checkpoint. It returns false when none
// was published yet.
func (e *Engine) LoadLatest(ctx context.Context) (*state.ReplicatedState, types.Height, bool, error) {
	h, ok, err := e.layout.LatestCheckpoint()
	if err != nil || !ok {
		return nil, 0, false, err
	}
	st, err := e.LoadCheckpoint(ctx, h)
	if err != nil {
		return nil, 0, false, err
	}
	return st, h, true, nil
}

func (e *Engine) loadCheckpoint(ctx context.Context, height types.Height) (*state.ReplicatedState, error) {
	cp, err := e.layout.Checkpoint(height)
	if err != nil {
		return nil, err
	}

	raw, err := vgfs.ReadFile(cp.SystemMetadata())
	if err != nil {
		return nil, err
	}
	meta, err := decodeSystemMetadata(raw)
	if err != nil {
		return nil, err
	}
	raw, err = vgfs.ReadFile(cp.SubnetQueues())
	if err != nil {
		return nil, err
	}
	subnetQueues, err := decodeQueues(raw)
	if err != nil {
		return nil, err
	}

	st := state.NewReplicatedState(meta.OwnSubnetID)
	st.Metadata = meta
	st.SubnetQueues = subnetQueues

	ids, err := cp.CanisterIDs()
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		errs = vgerrors.NewCumulatedErrors()
		g    errgroup.Group
	)
	g.SetLimit(max(e.cfg.NumberOfCheckpointThreads, 1))
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs.Add(err)
				return nil
			}
			c, err := loadCanister(cp, id)
			if err != nil {
				errs.Add(fmt.Errorf("canister %s: %w", id, err))
				return nil
			}
			mu.Lock()
			st.Canisters[id] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if errs.HasAny() {
		return nil, errs
	}
	return st, nil
}

func loadCanister(cp CheckpointLayout, id types.CanisterID) (*state.CanisterState, error) {
	cl := cp.Canister(id)
	raw, err := vgfs.ReadFile(cl.CanisterPbuf())
	if err != nil {
		return nil, err
	}
	bits, err := decodeCanisterStateBits(id, raw)
	if err != nil {
		return nil, err
	}
	raw, err = vgfs.ReadFile(cl.QueuesPbuf())
	if err != nil {
		return nil, err
	}
	queues, err := decodeQueues(raw)
	if err != nil {
		return nil, err
	}

	c := &state.CanisterState{System: bits.System, Scheduler: bits.Scheduler}
	c.System.Queues = queues
	if bits.Execution != nil {
		es, err := loadExecutionState(cl, cp.Height(), *bits.Execution)
		if err != nil {
			return nil, err
		}
		c.Execution = es
	}
	c.ResetLongExecution()
	return c, nil
}

func loadExecutionState(cl CanisterLayout, height types.Height, bits executionStateBits) (*state.ExecutionState, error) {
	module, err := state.NewCanisterModuleFromFile(cl.WasmBinary(), &bits.BinaryHash)
	if err != nil {
		return nil, err
	}
	wasmPages, err := pagemap.Open(cl.VMemory0(), uint64(height))
	if err != nil {
		return nil, err
	}
	stablePages, err := pagemap.Open(cl.StableMemoryBlob(), uint64(height))
	if err != nil {
		return nil, err
	}
	return &state.ExecutionState{
		CanisterRoot:      cl.Raw(),
		WasmBinary:        state.NewWasmBinary(module),
		WasmMemory:        state.NewMemory(wasmPages, bits.HeapSize),
		StableMemory:      state.NewMemory(stablePages, bits.StableMemorySize),
		ExportedGlobals:   bits.ExportedGlobals,
		ExportedFunctions: bits.ExportedFunctions,
		Metadata:          bits.Metadata,
		LastExecutedRound: bits.LastExecutedRound,
	}, nil
}
