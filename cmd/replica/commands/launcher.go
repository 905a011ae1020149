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
package commands

import (
	"context"

	"code.icreplica.io/replica/config"
	"code.icreplica.io/replica/core/sandbox"
	"code.icreplica.io/replica/logging"

	"github.com/jessevdk/go-flags"
)

// SandboxLauncherCmd is started by the replica itself, never by hand.
type SandboxLauncherCmd struct {
	RootPathFlag

	Socket string `long:"socket" required:"true" description:"Address the launcher listens on"`

	ctx context.Context
}

var sandboxLauncherCmd SandboxLauncherCmd

func SandboxLauncher(ctx context.Context, parser *flags.Parser) error {
	sandboxLauncherCmd = SandboxLauncherCmd{
		RootPathFlag: NewRootPathFlag(),
		ctx:          ctx,
	}
	cmd, err := parser.AddCommand("sandbox-launcher", "Run the sandbox launcher", "Start and watch the sandbox processes of a replica", &sandboxLauncherCmd)
	if err != nil {
		return err
	}
	cmd.Hidden = true
	return nil
}

func (opts *SandboxLauncherCmd) Execute(_ []string) error {
	cfg := config.NewDefaultConfig(opts.RootPath)
	if read, err := config.Read(opts.RootPath); err == nil {
		cfg = *read
	}
	log := logging.NewLoggerFromConfig(cfg.Logging)
	defer log.AtExit()

	return sandbox.RunLauncher(opts.ctx, log, cfg.Sandbox, opts.Socket)
}
