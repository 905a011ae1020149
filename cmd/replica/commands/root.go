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
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Subcommand is the signature of a sub command that can be registered.
type Subcommand func(context.Context, *flags.Parser) error

// Register registers one or more subcommands.
func Register(ctx context.Context, parser *flags.Parser, cmds ...Subcommand) error {
	for _, fn := range cmds {
		if err := fn(ctx, parser); err != nil {
			return err
		}
	}
	return nil
}

// RootPathFlag points at the home directory of the node.
type RootPathFlag struct {
	RootPath string `long:"home" description:"Home directory of the replica, holding the configuration and the state"`
}

func NewRootPathFlag() RootPathFlag {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return RootPathFlag{RootPath: filepath.Join(home, ".replica")}
}

func Main(ctx context.Context) error {
	parser := flags.NewParser(&struct{}{}, flags.Default)

	if err := Register(ctx, parser,
		Init,
		Node,
		SandboxLauncher,
		Version,
	); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		return err
	}

	if _, err := parser.Parse(); err != nil {
		return err
	}
	return nil
}
