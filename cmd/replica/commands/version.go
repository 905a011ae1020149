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

	"code.icreplica.io/replica/version"

	"github.com/jessevdk/go-flags"
)

type VersionCmd struct{}

var versionCmd VersionCmd

func Version(ctx context.Context, parser *flags.Parser) error {
	_, err := parser.AddCommand("version", "Show version info", "Show version info", &versionCmd)
	return err
}

func (cmd *VersionCmd) Execute(_ []string) error {
	fmt.Printf("replica %s\n", version.Read())
	return nil
}
