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

package encoding_test

import (
	"testing"
	"time"

	"code.icreplica.io/replica/config/encoding"
	"code.icreplica.io/replica/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	var d encoding.Duration
	require.NoError(t, d.UnmarshalFlag("10s"))
	assert.Equal(t, 10*time.Second, d.Get())

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "10s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("ten seconds")))
}

func TestLogLevel(t *testing.T) {
	var l encoding.LogLevel
	require.NoError(t, l.UnmarshalText([]byte("debug")))
	assert.Equal(t, logging.DebugLevel, l.Get())

	out, err := l.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Debug", string(out))
}

func TestByteSize(t *testing.T) {
	var b encoding.ByteSize
	require.NoError(t, b.UnmarshalText([]byte("1KB")))
	assert.Equal(t, uint64(1024), b.Get())

	assert.Error(t, b.UnmarshalFlag("lots"))

	b = encoding.NewByteSize(1 << 20)
	out, err := b.MarshalText()
	require.NoError(t, err)

	var back encoding.ByteSize
	require.NoError(t, back.UnmarshalText(out))
	assert.Equal(t, uint64(1<<20), back.Get())
}

func TestBool(t *testing.T) {
	var b encoding.Bool
	require.NoError(t, b.UnmarshalFlag("true"))
	assert.True(t, bool(b))
	require.NoError(t, b.UnmarshalFlag("false"))
	assert.False(t, bool(b))
	assert.Error(t, b.UnmarshalFlag("yes"))
}
