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
package version_test

import (
	"runtime"
	"testing"

	"code.icreplica.io/replica/version"

	"github.com/stretchr/testify/assert"
)

func TestRead(t *testing.T) {
	info := version.Read()
	assert.Equal(t, version.Get(), info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestInfoString(t *testing.T) {
	info := version.Info{Version: "v1.2.3", GoVersion: "go1.22.2"}
	assert.Equal(t, "v1.2.3 (unknown, go1.22.2)", info.String())

	info.Commit = "abc123"
	assert.Equal(t, "v1.2.3 (abc123, go1.22.2)", info.String())

	info.Modified = true
	assert.Equal(t, "v1.2.3 (abc123-modified, go1.22.2)", info.String())
}
