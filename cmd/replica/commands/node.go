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

	"code.icreplica.io/replica/cmd/replica/node"
	"code.icreplica.io/replica/config"
	"code.icreplica.io/replica/logging"

	"github.com/jessevdk/go-flags"
)

type NodeCmd struct {
	RootPathFlag

	GovernanceCanisterID uint64 `long:"governance-canister-id" description:"Canister id of the governance hosted by this replica"`

	ctx context.Context
}

var nodeCmd NodeCmd

func Node(ctx context.Context, parser *flags.Parser) error {
	nodeCmd = NodeCmd{
		RootPathFlag:         NewRootPathFlag(),
		GovernanceCanisterID: 1,
		ctx:                  ctx,
	}
	_, err := parser.AddCommand("node", "Runs a replica", "Runs a replica as defined by its configuration file", &nodeCmd)
	return err
}

func (cmd *NodeCmd) Execute(_ []string) error {
	if _, err := config.EnsureFile(cmd.RootPath); err != nil {
		return err
	}
	cfg, err := config.Read(cmd.RootPath)
	if err != nil {
		return err
	}
	log := logging.NewLoggerFromConfig(cfg.Logging)
	defer log.AtExit()

	w, err := config.NewWatcher(cmd.ctx, log, cmd.RootPath)
	if err != nil {
		return err
	}

	return node.Run(cmd.ctx, log, w, node.Options{
		RootPath:             cmd.RootPath,
		GovernanceCanisterID: cmd.GovernanceCanisterID,
	})
}
