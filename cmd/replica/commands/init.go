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
	"fmt"

	"code.icreplica.io/replica/config"

	"github.com/jessevdk/go-flags"
)

type InitCmd struct {
	RootPathFlag

	Force bool `long:"force" short:"f" description:"Overwrite an existing configuration file"`
}

var initCmd InitCmd

func Init(ctx context.Context, parser *flags.Parser) error {
	initCmd = InitCmd{
		RootPathFlag: NewRootPathFlag(),
	}
	_, err := parser.AddCommand("init", "Create the configuration of a replica", "Write the default configuration file in the home directory", &initCmd)
	return err
}

func (opts *InitCmd) Execute(_ []string) error {
	if opts.Force {
		cfg := config.NewDefaultConfig(opts.RootPath)
		if err := config.Save(opts.RootPath, &cfg); err != nil {
			return err
		}
		fmt.Printf("configuration written to %s\n", config.Path(opts.RootPath))
		return nil
	}
	created, err := config.EnsureFile(opts.RootPath)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("configuration file %s already exists, use --force to overwrite it", config.Path(opts.RootPath))
	}
	fmt.Printf("configuration written to %s\n", config.Path(opts.RootPath))
	return nil
}
