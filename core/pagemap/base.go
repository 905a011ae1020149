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

package pagemap

import (
	"os"
	"runtime"
)

// baseFile is a read only view of a persisted page file. It is shared by
// every clone of a page map and released once none of them reference it.
type baseFile struct {
	path  string
	data  []byte
	unmap func() error
}

func openBaseFile(path string) (*baseFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	bf := &baseFile{path: path}
	if st.Size() > 0 {
		data, unmap, err := mapFile(f, int(st.Size()))
		if err != nil {
			return nil, err
		}
		bf.data, bf.unmap = data, unmap
		runtime.SetFinalizer(bf, (*baseFile).close)
	}
	return bf, nil
}

func (b *baseFile) numPages() uint64 {
	return (uint64(len(b.data)) + PageSize - 1) / PageSize
}

// page returns nil for pages beyond the end of the file.
func (b *baseFile) page(i PageIndex) *Page {
	off := uint64(i) * PageSize
	if off >= uint64(len(b.data)) {
		return nil
	}
	p := new(Page)
	copy(p[:], b.data[off:])
	return p
}

func (b *baseFile) close() error {
	if b.unmap == nil {
		return nil
	}
	err := b.unmap()
	b.unmap, b.data = nil, nil
	return err
}
