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

// Package pagemap implements a sparse page addressed byte array made of an
// immutable base file overlaid with in-memory page deltas.
package pagemap

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	vgfs "code.icreplica.io/replica/libs/fs"
)

// PageSize is the size of a page in bytes.
const PageSize = 4096

var (
	ErrDeltaOutOfOrder = errors.New("page delta is not sorted by index")
	ErrShortFile       = errors.New("short write while persisting page delta")
)

// PageIndex addresses a page.
type PageIndex uint64

// Page is the content of one page.
type Page [PageSize]byte

var zeroPage Page

// PageUpdate pairs a page index with its new content.
type PageUpdate struct {
	Index PageIndex
	Data  *Page
}

// Serialization describes a page map for transmission to a sandbox
// process: the path of its base file plus the pages changed on top of it.
type Serialization struct {
	BasePath   string
	PageDelta  []PageUpdate
	RoundDelta []PageUpdate
}

// PageMap is not safe for concurrent mutation. Clones share the base file
// and page contents, which are never modified in place.
type PageMap struct {
	base *baseFile

	// pages changed since the base was opened
	delta map[PageIndex]*Page
	// pages changed since the last StripRoundDelta
	roundDelta map[PageIndex]*Page
	// pages changed since the last persist to persistedPath
	unpersisted   map[PageIndex]struct{}
	persistedPath string

	numPages uint64
}

// New returns an empty page map.
func New() *PageMap {
	return &PageMap{
		delta:       map[PageIndex]*Page{},
		roundDelta:  map[PageIndex]*Page{},
		unpersisted: map[PageIndex]struct{}{},
	}
}

// FromBytes builds a page map holding data starting at offset zero.
func FromBytes(data []byte) *PageMap {
	pm := New()
	updates := make([]PageUpdate, 0, (len(data)+PageSize-1)/PageSize)
	for i := 0; i*PageSize < len(data); i++ {
		var p Page
		copy(p[:], data[i*PageSize:])
		updates = append(updates, PageUpdate{Index: PageIndex(i), Data: &p})
	}
	pm.Update(updates)
	return pm
}

// Open memory maps the file at path as the base of a new page map. A
// missing file gives an empty page map. The height is only used to label
// errors.
func Open(path string, height uint64) (*PageMap, error) {
	pm := New()
	bf, err := openBaseFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return pm, nil
		}
		return nil, fmt.Errorf("failed to open page map %s at height %d: %w", path, height, err)
	}
	pm.base = bf
	pm.numPages = bf.numPages()
	pm.persistedPath = path
	return pm, nil
}

// FromSerialization rebuilds a page map from the description produced by
// Serialize.
func FromSerialization(s Serialization) (*PageMap, error) {
	pm := New()
	if s.BasePath != "" {
		var err error
		if pm, err = Open(s.BasePath, 0); err != nil {
			return nil, err
		}
	}
	pm.Update(s.PageDelta)
	// round delta pages are a subset of the page delta
	pm.roundDelta = map[PageIndex]*Page{}
	for _, u := range s.RoundDelta {
		pm.roundDelta[u.Index] = u.Data
	}
	return pm, nil
}

// BasePath returns the path of the base file, empty when there is none.
func (pm *PageMap) BasePath() string {
	if pm.base == nil {
		return ""
	}
	return pm.base.path
}

// NumPages is one past the highest page that was ever written or present
// in the base file.
func (pm *PageMap) NumPages() uint64 {
	return pm.numPages
}

// Get returns the content of page i. Pages never written read as zeros.
func (pm *PageMap) Get(i PageIndex) *Page {
	if p, ok := pm.delta[i]; ok {
		return p
	}
	if pm.base != nil {
		if p := pm.base.page(i); p != nil {
			return p
		}
	}
	return &zeroPage
}

// Update records new page contents. The pages are copied.
func (pm *PageMap) Update(updates []PageUpdate) {
	for _, u := range updates {
		p := new(Page)
		*p = *u.Data
		pm.delta[u.Index] = p
		pm.roundDelta[u.Index] = p
		pm.unpersisted[u.Index] = struct{}{}
		if uint64(u.Index)+1 > pm.numPages {
			pm.numPages = uint64(u.Index) + 1
		}
	}
}

// DeserializeDelta applies pages produced by a sandbox process.
func (pm *PageMap) DeserializeDelta(delta []PageUpdate) {
	pm.Update(delta)
}

// Serialize describes the page map for a sandbox process.
func (pm *PageMap) Serialize() Serialization {
	return Serialization{
		BasePath:   pm.BasePath(),
		PageDelta:  sortedUpdates(pm.delta),
		RoundDelta: sortedUpdates(pm.roundDelta),
	}
}

// DirtyPages returns the number of pages held in memory on top of the base.
func (pm *PageMap) DirtyPages() int {
	return len(pm.delta)
}

// StripRoundDelta forgets which pages were changed during the current round.
func (pm *PageMap) StripRoundDelta() {
	pm.roundDelta = map[PageIndex]*Page{}
}

// Clone returns an independent page map sharing immutable data with pm.
func (pm *PageMap) Clone() *PageMap {
	c := &PageMap{
		base:          pm.base,
		delta:         make(map[PageIndex]*Page, len(pm.delta)),
		roundDelta:    make(map[PageIndex]*Page, len(pm.roundDelta)),
		unpersisted:   make(map[PageIndex]struct{}, len(pm.unpersisted)),
		persistedPath: pm.persistedPath,
		numPages:      pm.numPages,
	}
	for k, v := range pm.delta {
		c.delta[k] = v
	}
	for k, v := range pm.roundDelta {
		c.roundDelta[k] = v
	}
	for k := range pm.unpersisted {
		c.unpersisted[k] = struct{}{}
	}
	return c
}

// Equal compares the logical content of two page maps.
func (pm *PageMap) Equal(o *PageMap) bool {
	if pm.numPages != o.numPages {
		return false
	}
	for i := uint64(0); i < pm.numPages; i++ {
		if !bytes.Equal(pm.Get(PageIndex(i))[:], o.Get(PageIndex(i))[:]) {
			return false
		}
	}
	return true
}

// ReadAt copies bytes starting at offset into buf.
func (pm *PageMap) ReadAt(buf []byte, offset uint64) {
	for n := 0; n < len(buf); {
		pos := offset + uint64(n)
		p := pm.Get(PageIndex(pos / PageSize))
		n += copy(buf[n:], p[pos%PageSize:])
	}
}

// PersistDelta writes the pages changed since the last persist into the
// file at path. When path is not where the page map was persisted before,
// the destination is first replaced by a copy of the base file (or
// truncated when there is none) and all pages changed since the base are
// written. Pages
// are written at page aligned offsets and the data is synced before
// returning, so concurrent readers never observe a torn page.
func (pm *PageMap) PersistDelta(path string) error {
	toWrite := make([]PageIndex, 0, len(pm.unpersisted))
	if path == pm.persistedPath {
		for idx := range pm.unpersisted {
			toWrite = append(toWrite, idx)
		}
	} else {
		if err := pm.prepareDestination(path); err != nil {
			return err
		}
		for idx := range pm.delta {
			toWrite = append(toWrite, idx)
		}
	}
	sort.Slice(toWrite, func(i, j int) bool { return toWrite[i] < toWrite[j] })

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s for persisting: %w", path, err)
	}
	for _, idx := range toWrite {
		p := pm.delta[idx]
		n, err := f.WriteAt(p[:], int64(idx)*PageSize)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write page %d to %s: %w", idx, path, err)
		}
		if n != PageSize {
			_ = f.Close()
			return fmt.Errorf("%s: %w", path, ErrShortFile)
		}
	}
	if err := vgfs.DataSync(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	pm.persistedPath = path
	pm.unpersisted = map[PageIndex]struct{}{}
	return nil
}

func (pm *PageMap) prepareDestination(path string) error {
	if pm.base == nil {
		return vgfs.Truncate(path)
	}
	if pm.base.path == path {
		return nil
	}
	return vgfs.CopyFile(pm.base.path, path)
}

func sortedUpdates(pages map[PageIndex]*Page) []PageUpdate {
	out := make([]PageUpdate, 0, len(pages))
	for idx, p := range pages {
		out = append(out, PageUpdate{Index: idx, Data: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
