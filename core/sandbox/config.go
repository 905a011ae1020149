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
	"time"

	"code.icreplica.io/replica/config/encoding"
	"code.icreplica.io/replica/logging"
)

const namedLogger = "sandbox"

type Config struct {
	Level                encoding.LogLevel `choice:"debug" choice:"info" choice:"warning" choice:"error" choice:"panic" choice:"fatal" description:"Logging level (default: info)" long:"log-level"`
	IdleTimeout          encoding.Duration `description:"Time a sandbox process is kept alive without executions, 0 evicts on release"                               long:"idle-timeout"`
	UpdateInterval       encoding.Duration `description:"Interval between two passes of the eviction monitor"                                                       long:"update-interval"`
	HistorySize          int               `description:"Number of operations per sandbox replayed in the logs when it crashes"                                     long:"history-size"`
	CompilationCacheSize int               `description:"Number of compiled modules kept in memory"                                                                 long:"compilation-cache-size"`
	LauncherBinary       string            `description:"Binary running the sandbox launcher, defaults to this executable"                                          long:"launcher-binary"`
	LauncherArgs         []string          `description:"Arguments passed to the launcher binary"                                                                   long:"launcher-args"`
	SandboxBinary        string            `description:"Binary hosting the wasm runtime of one canister"                                                           long:"sandbox-binary"`
	SocketDir            string            `description:"Directory holding the sockets of the launcher and the sandboxes, defaults to the system temporary directory" long:"socket-dir"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:                encoding.LogLevel{Level: logging.InfoLevel},
		IdleTimeout:          encoding.Duration{Duration: 60 * time.Second},
		UpdateInterval:       encoding.Duration{Duration: 10 * time.Second},
		HistorySize:          20,
		CompilationCacheSize: 1000,
		LauncherArgs:         []string{"sandbox-launcher"},
		SandboxBinary:        "canister_sandbox",
	}
}
