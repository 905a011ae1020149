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
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"code.icreplica.io/replica/config/encoding"
	"code.icreplica.io/replica/core/checkpoint"
	"code.icreplica.io/replica/core/governance"
	"code.icreplica.io/replica/core/governance/store"
	"code.icreplica.io/replica/core/sandbox"
	"code.icreplica.io/replica/logging"
	"code.icreplica.io/replica/metrics"

	"github.com/BurntSushi/toml"
)

const configFileName = "config.toml"

// Config ties together all other application configuration types.
type Config struct {
	Logging         logging.Config    `group:"Logging"         namespace:"logging"`
	Metrics         metrics.Config    `group:"Metrics"         namespace:"metrics"`
	Sandbox         sandbox.Config    `group:"Sandbox"         namespace:"sandbox"`
	Checkpoint      checkpoint.Config `group:"Checkpoint"      namespace:"checkpoint"`
	Governance      governance.Config `group:"Governance"      namespace:"governance"`
	GovernanceStore store.Config      `group:"GovernanceStore" namespace:"governance-store"`

	StateDir           string            `description:"Directory holding checkpoints and the governance database" long:"state-dir"`
	GovernanceSaveTime encoding.Duration `description:"Interval between two saves of the governance state"        long:"governance-save-interval"`
}

// NewDefaultConfig returns the default configuration of every package,
// with the state kept under rootPath.
func NewDefaultConfig(rootPath string) Config {
	return Config{
		Logging:            logging.NewDefaultConfig(),
		Metrics:            metrics.NewDefaultConfig(),
		Sandbox:            sandbox.NewDefaultConfig(),
		Checkpoint:         checkpoint.NewDefaultConfig(),
		Governance:         governance.NewDefaultConfig(),
		GovernanceStore:    store.NewDefaultConfig(),
		StateDir:           filepath.Join(rootPath, "state"),
		GovernanceSaveTime: encoding.Duration{Duration: time.Minute},
	}
}

// Path is the configuration file of the node rooted at rootPath.
func Path(rootPath string) string {
	return filepath.Join(rootPath, configFileName)
}

// Read loads the configuration file under rootPath on top of the defaults.
func Read(rootPath string) (*Config, error) {
	cfg := NewDefaultConfig(rootPath)
	if _, err := toml.DecodeFile(Path(rootPath), &cfg); err != nil {
		return nil, fmt.Errorf("couldn't read configuration file: %w", err)
	}
	return &cfg, nil
}

// Save writes cfg as the configuration file under rootPath.
func Save(rootPath string, cfg *Config) error {
	buf := new(bytes.Buffer)
	if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
		return fmt.Errorf("couldn't encode configuration: %w", err)
	}
	if err := os.MkdirAll(rootPath, 0o700); err != nil {
		return fmt.Errorf("couldn't create %s: %w", rootPath, err)
	}
	if err := os.WriteFile(Path(rootPath), buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("couldn't write configuration file: %w", err)
	}
	return nil
}

// EnsureFile writes the default configuration when rootPath has none. It
// reports whether the file was created.
func EnsureFile(rootPath string) (bool, error) {
	_, err := os.Stat(Path(rootPath))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	cfg := NewDefaultConfig(rootPath)
	if err := Save(rootPath, &cfg); err != nil {
		return false, err
	}
	return true, nil
}
