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
// Package node assembles a replica from its configuration: the sandbox
// controller, the checkpoint engine and the hosted governance.
package node

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"code.icreplica.io/replica/config"
	"code.icreplica.io/replica/core/checkpoint"
	"code.icreplica.io/replica/core/governance"
	"code.icreplica.io/replica/core/governance/store"
	"code.icreplica.io/replica/core/sandbox"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"
	"code.icreplica.io/replica/metrics"
	"code.icreplica.io/replica/version"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	RootPath             string
	GovernanceCanisterID uint64
}

// Run blocks until ctx is cancelled.
func Run(ctx context.Context, log *logging.Logger, w *config.Watcher, opts Options) error {
	cfg := w.Get()

	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg := metrics.NewRegistry("replica", prom)

	eg, ctx := errgroup.WithContext(ctx)
	metrics.Start(ctx, log, cfg.Metrics, prom)

	sandboxCfg := cfg.Sandbox
	if opts.RootPath != "" {
		sandboxCfg.LauncherArgs = append(append([]string{}, sandboxCfg.LauncherArgs...), "--home", opts.RootPath)
	}
	launcher, err := sandbox.SpawnLauncher(ctx, log, sandboxCfg)
	if err != nil {
		return err
	}
	defer launcher.Close()

	cache, err := sandbox.NewCompilationCache(cfg.Sandbox.CompilationCacheSize)
	if err != nil {
		return err
	}
	controller, err := sandbox.NewController(log, cfg.Sandbox, launcher, cache, reg)
	if err != nil {
		return err
	}
	defer controller.Stop()
	controller.Start(ctx)

	layout, err := checkpoint.NewLayout(filepath.Join(cfg.StateDir, "checkpoints"))
	if err != nil {
		return err
	}
	checkpoints, err := checkpoint.New(log, cfg.Checkpoint, layout, reg)
	if err != nil {
		return err
	}
	if rs, h, ok, err := checkpoints.LoadLatest(ctx); err != nil {
		return fmt.Errorf("could not load latest checkpoint: %w", err)
	} else if ok {
		log.Info("loaded checkpoint",
			logging.Uint64("height", uint64(h)),
			logging.Int("canisters", len(rs.Canisters)),
		)
	} else {
		log.Info("no checkpoint found, starting from an empty state")
	}

	govStore, err := store.New(log, cfg.GovernanceStore, filepath.Join(cfg.StateDir, "governance"))
	if err != nil {
		return err
	}
	defer govStore.Close()

	env := newStandaloneEnvironment(types.CanisterIDFromU64(opts.GovernanceCanisterID))
	height, govState, err := loadGovernanceState(log, govStore, env)
	if err != nil {
		return err
	}
	env.setCanisters(govState)
	gov, err := governance.NewEngine(log, cfg.Governance, govState, env, standaloneLedger{}, nil, reg)
	if err != nil {
		return err
	}

	w.OnConfigUpdate(func(cfg config.Config) {
		controller.ReloadConf(cfg.Sandbox)
		checkpoints.ReloadConf(cfg.Checkpoint)
		gov.ReloadConf(cfg.Governance)
		govStore.ReloadConf(cfg.GovernanceStore)
	})

	eg.Go(func() error {
		gov.Start(ctx)
		return nil
	})
	eg.Go(func() error {
		return saveGovernance(ctx, log, govStore, gov, height, cfg.GovernanceSaveTime.Get())
	})

	log.Info("replica started",
		logging.String("version", version.Read().String()),
		logging.String("governance", string(env.CanisterID())),
	)
	return eg.Wait()
}

func loadGovernanceState(log *logging.Logger, s *store.Store, env *standaloneEnvironment) (types.Height, *governance.State, error) {
	h, st, err := s.Latest()
	if err == nil {
		log.Info("loaded governance state", logging.Uint64("height", uint64(h)))
		return h, st, nil
	}
	if !errors.Is(err, store.ErrStateNotFound) {
		return 0, nil, err
	}
	log.Info("no governance state found, starting with default parameters")
	return 0, &governance.State{
		RootCanisterID:   types.CanisterIDFromU64(0),
		LedgerCanisterID: types.CanisterIDFromU64(2),
		SwapCanisterID:   types.CanisterIDFromU64(3),
		Parameters:       governance.DefaultParameters(),
		Mode:             governance.ModeNormal,
	}, nil
}

// saveGovernance persists the governance state every interval and once
// more on shutdown.
func saveGovernance(ctx context.Context, log *logging.Logger, s *store.Store, holder store.StateHolder, h types.Height, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h++
			if err := s.SaveFrom(h, holder); err != nil {
				log.Error("could not save governance state on shutdown", logging.Error(err))
			}
			return nil
		case <-ticker.C:
			h++
			if err := s.SaveFrom(h, holder); err != nil {
				log.Error("could not save governance state", logging.Error(err))
			}
		}
	}
}
