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

package pagemap_test

import (
	"os"
	"path/filepath"
	"testing"

	"code.icreplica.io/replica/core/pagemap"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(b byte) *pagemap.Page {
	p := new(pagemap.Page)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestPageMap(t *testing.T) {
	t.Run("unwritten pages read as zeros", testUnwrittenPagesAreZero)
	t.Run("get returns the last update", testGetAfterUpdate)
	t.Run("updates are copied", testUpdatesAreCopied)
	t.Run("clones are independent", testClonesAreIndependent)
	t.Run("from bytes pads the last page", testFromBytes)
	t.Run("read at spans pages", testReadAtSpansPages)
	t.Run("strip round delta keeps page delta", testStripRoundDelta)
}

func testUnwrittenPagesAreZero(t *testing.T) {
	pm := pagemap.New()
	assert.Equal(t, page(0), pm.Get(42))
	assert.Equal(t, uint64(0), pm.NumPages())
}

func testGetAfterUpdate(t *testing.T) {
	pm := pagemap.New()
	pm.Update([]pagemap.PageUpdate{{Index: 3, Data: page(1)}})
	pm.Update([]pagemap.PageUpdate{{Index: 3, Data: page(2)}})
	assert.Equal(t, page(2), pm.Get(3))
	assert.Equal(t, uint64(4), pm.NumPages())
}

func testUpdatesAreCopied(t *testing.T) {
	pm := pagemap.New()
	p := page(7)
	pm.Update([]pagemap.PageUpdate{{Index: 0, Data: p}})
	p[0] = 0
	assert.Equal(t, byte(7), pm.Get(0)[0])
}

func testClonesAreIndependent(t *testing.T) {
	pm := pagemap.New()
	pm.Update([]pagemap.PageUpdate{{Index: 0, Data: page(1)}})
	c := pm.Clone()
	c.Update([]pagemap.PageUpdate{{Index: 0, Data: page(2)}, {Index: 5, Data: page(3)}})

	assert.Equal(t, page(1), pm.Get(0))
	assert.Equal(t, uint64(1), pm.NumPages())
	assert.Equal(t, page(2), c.Get(0))
	assert.False(t, pm.Equal(c))
}

func testFromBytes(t *testing.T) {
	pm := pagemap.FromBytes([]byte{1, 2, 3})
	require.Equal(t, uint64(1), pm.NumPages())
	assert.Equal(t, byte(3), pm.Get(0)[2])
	assert.Equal(t, byte(0), pm.Get(0)[3])
}

func testReadAtSpansPages(t *testing.T) {
	pm := pagemap.New()
	pm.Update([]pagemap.PageUpdate{{Index: 0, Data: page(1)}, {Index: 1, Data: page(2)}})
	buf := make([]byte, 4)
	pm.ReadAt(buf, pagemap.PageSize-2)
	assert.Equal(t, []byte{1, 1, 2, 2}, buf)
}

func testStripRoundDelta(t *testing.T) {
	pm := pagemap.New()
	pm.Update([]pagemap.PageUpdate{{Index: 1, Data: page(1)}})
	pm.StripRoundDelta()
	s := pm.Serialize()
	assert.Len(t, s.PageDelta, 1)
	assert.Empty(t, s.RoundDelta)
}

func TestPersistence(t *testing.T) {
	t.Run("persist and open round trips", testPersistOpenRoundTrip)
	t.Run("opening a missing file gives an empty map", testOpenMissing)
	t.Run("persisting a map without base truncates stale pages", testPersistTruncatesStale)
	t.Run("persisting to a new path copies the base", testPersistCopiesBase)
	t.Run("second persist writes only new pages", testIncrementalPersist)
	t.Run("serialization round trips", testSerializationRoundTrip)
}

func testPersistOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmemory_0")
	pm := pagemap.New()
	pm.Update([]pagemap.PageUpdate{{Index: 0, Data: page(1)}, {Index: 9, Data: page(9)}})
	require.NoError(t, pm.PersistDelta(path))

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(10*pagemap.PageSize), st.Size())

	loaded, err := pagemap.Open(path, 1)
	require.NoError(t, err)
	assert.True(t, pm.Equal(loaded))
	assert.Equal(t, path, loaded.BasePath())
	assert.Equal(t, 0, loaded.DirtyPages())
	for i := pagemap.PageIndex(0); i < 12; i++ {
		assert.Equal(t, pm.Get(i), loaded.Get(i))
	}
}

func testOpenMissing(t *testing.T) {
	pm, err := pagemap.Open(filepath.Join(t.TempDir(), "nope"), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pm.NumPages())
	assert.Equal(t, "", pm.BasePath())
}

func testPersistTruncatesStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stable_memory_blob")
	require.NoError(t, os.WriteFile(path, make([]byte, 5*pagemap.PageSize), 0o600))

	pm := pagemap.New()
	pm.Update([]pagemap.PageUpdate{{Index: 1, Data: page(4)}})
	require.NoError(t, pm.PersistDelta(path))

	loaded, err := pagemap.Open(path, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), loaded.NumPages())
	assert.True(t, pm.Equal(loaded))
}

func testPersistCopiesBase(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "base")
	dst := filepath.Join(dir, "tip")

	orig := pagemap.New()
	orig.Update([]pagemap.PageUpdate{{Index: 0, Data: page(1)}, {Index: 1, Data: page(2)}})
	require.NoError(t, orig.PersistDelta(src))

	pm, err := pagemap.Open(src, 1)
	require.NoError(t, err)
	pm.Update([]pagemap.PageUpdate{{Index: 1, Data: page(5)}})
	require.NoError(t, pm.PersistDelta(dst))

	loaded, err := pagemap.Open(dst, 2)
	require.NoError(t, err)
	assert.Equal(t, page(1), loaded.Get(0))
	assert.Equal(t, page(5), loaded.Get(1))

	// the base file is untouched
	base, err := pagemap.Open(src, 1)
	require.NoError(t, err)
	assert.Equal(t, page(2), base.Get(1))
}

func testIncrementalPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmemory_0")
	pm := pagemap.New()
	pm.Update([]pagemap.PageUpdate{{Index: 0, Data: page(1)}})
	require.NoError(t, pm.PersistDelta(path))

	// clobber page 0 on disk, a second persist must not rewrite it
	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt(page(8)[:], 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	pm.Update([]pagemap.PageUpdate{{Index: 1, Data: page(2)}})
	require.NoError(t, pm.PersistDelta(path))

	loaded, err := pagemap.Open(path, 1)
	require.NoError(t, err)
	assert.Equal(t, page(8), loaded.Get(0))
	assert.Equal(t, page(2), loaded.Get(1))
}

func testSerializationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmemory_0")
	base := pagemap.New()
	base.Update([]pagemap.PageUpdate{{Index: 0, Data: page(1)}})
	require.NoError(t, base.PersistDelta(path))

	pm, err := pagemap.Open(path, 1)
	require.NoError(t, err)
	pm.Update([]pagemap.PageUpdate{{Index: 2, Data: page(3)}})

	decoded, err := pagemap.UnmarshalSerialization(pagemap.MarshalSerialization(pm.Serialize()))
	require.NoError(t, err)
	assert.Equal(t, path, decoded.BasePath)
	require.Len(t, decoded.PageDelta, 1)
	assert.Equal(t, pagemap.PageIndex(2), decoded.PageDelta[0].Index)

	rebuilt, err := pagemap.FromSerialization(decoded)
	require.NoError(t, err)
	assert.True(t, pm.Equal(rebuilt))

	delta, err := pagemap.UnmarshalDelta(pagemap.MarshalDelta(decoded.PageDelta))
	require.NoError(t, err)
	assert.Equal(t, decoded.PageDelta, delta)
}

func TestUnmarshalRejectsShortPage(t *testing.T) {
	bad := pagemap.MarshalDelta([]pagemap.PageUpdate{{Index: 1, Data: page(1)}})
	// chop the tail of the page bytes and fix nothing else
	_, err := pagemap.UnmarshalDelta(bad[:len(bad)-10])
	require.Error(t, err)
}
