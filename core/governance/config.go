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
package governance

import (
	"time"

	"code.icreplica.io/replica/config/encoding"
	"code.icreplica.io/replica/logging"
)

const namedLogger = "governance"

type Config struct {
	Level               encoding.LogLevel `choice:"debug" choice:"info" choice:"warning" choice:"error" choice:"panic" choice:"fatal" description:"Logging level (default: info)" long:"log-level"`
	UpgradeDeadline     encoding.Duration `description:"Time after which an upgrade that did not show up in the running version is marked failed" long:"upgrade-deadline"`
	GCInterval          encoding.Duration `description:"Maximum time between two garbage collections of old proposals"                      long:"gc-interval"`
	GCProposalThreshold int               `description:"Number of new proposals that triggers a garbage collection"                          long:"gc-proposal-threshold"`
	MaxHeapSize         encoding.ByteSize `description:"Heap size governance may grow to, 0 uses the total memory of the host"                long:"max-heap-size"`
	TickInterval        encoding.Duration `description:"Interval between two runs of the periodic tasks"                                      long:"tick-interval"`
}

// NewDefaultConfig creates an instance of the package specific configuration.
func NewDefaultConfig() Config {
	return Config{
		Level:               encoding.LogLevel{Level: logging.InfoLevel},
		UpgradeDeadline:     encoding.Duration{Duration: 5 * time.Minute},
		GCInterval:          encoding.Duration{Duration: 24 * time.Hour},
		GCProposalThreshold: 100,
		MaxHeapSize:         encoding.NewByteSize(4 << 30),
		TickInterval:        encoding.Duration{Duration: time.Second},
	}
}
