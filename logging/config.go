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

package logging

// Config contains the configurable items for this package
type Config struct {
	Environment string     `long:"env" choice:"dev" choice:"prod" description:"Logging preset: dev (console) or prod (json)"`
	Level       string     `long:"level" description:"Overrides the preset level when writing to a file"`
	File        FileConfig `group:"File" namespace:"file"`
}

// FileConfig describes the optional rotating log file.
type FileConfig struct {
	Path       string `long:"path" description:"Write logs to this file in addition to stdout"`
	MaxSizeMB  int    `long:"max-size-mb" description:"Size in megabytes before the file is rotated"`
	MaxBackups int    `long:"max-backups" description:"Number of rotated files to keep"`
	MaxAgeDays int    `long:"max-age-days" description:"Days to keep rotated files"`
	Compress   bool   `long:"compress" description:"Gzip rotated files"`
}

// NewDefaultConfig creates an instance of the package-specific configuration, given a
// pointer to a logger instance to be used for logging within the package.
func NewDefaultConfig() Config {
	return Config{
		Environment: "dev",
		File: FileConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}
