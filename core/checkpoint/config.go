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
	"code.icreplica.io/replica/config/encoding"
	"code.icreplica.io/replica/logging"
)

const namedLogger = "checkpoint"

type Config struct {
	Level                     encoding.LogLevel `choice:"debug" choice:"info" choice:"warning" choice:"error" choice:"panic" choice:"fatal" description:"Logging level (default: info)" long:"log-level"`
	NumberOfCheckpointThreads int               `description:"Number of canisters serialized or loaded in parallel"                                                               long:"threads"`
	DefragSize                encoding.ByteSize `description:"Largest window rewritten by a defragmentation pass"                                                                  long:"defrag-size"`
	DefragSample              int               `description:"Number of page files sampled by a defragmentation pass"                                                             long:"defrag-sample"`
	KeepRecent                int               `description:"Number of checkpoints kept on disk, 0 keeps all of them"                                                            long:"keep-recent"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:                     encoding.LogLevel{Level: logging.InfoLevel},
		NumberOfCheckpointThreads: 16,
		DefragSize:                encoding.NewByteSize(500 * 1024 * 1024),
		DefragSample:              100,
		KeepRecent:                2,
	}
}
