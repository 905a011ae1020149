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
	"fmt"
	"io"
	"os"
	"sort"

	"code.icreplica.io/replica/core/types"
	vgfs "code.icreplica.io/replica/libs/fs"

	"golang.org/x/exp/rand"
)

const defragChunk = 1 << 20

type defragResult struct {
	Path   string
	Offset uint64
	Size   uint64
}

// pageFiles lists the memory files of every canister in the layout.
func pageFiles(cp CheckpointLayout) ([]string, error) {
	ids, err := cp.CanisterIDs()
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		cl := cp.Canister(id)
		for _, p := range []string{cl.VMemory0(), cl.StableMemoryBlob()} {
			ok, err := vgfs.FileExists(p)
			if err != nil {
				return nil, err
			}
			if ok {
				files = append(files, p)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// defragment rewrites a random window of at most maxSize bytes of one page
// file in place. Reflinked files share extents with older checkpoints;
// rewriting a window gives it fresh extents so the sharing metadata does
// not grow without bound. The choice only depends on the height and the
// files present, so every replica rewrites the same window.
func defragment(files []string, height types.Height, maxSize uint64, maxFiles int) (*defragResult, error) {
	if len(files) == 0 || maxSize == 0 || maxFiles <= 0 {
		return nil, nil
	}
	rng := rand.New(rand.NewSource(uint64(height)))

	sample := files
	if len(files) > maxFiles {
		idx := rng.Perm(len(files))[:maxFiles]
		sort.Ints(idx)
		sample = make([]string, 0, maxFiles)
		for _, i := range idx {
			sample = append(sample, files[i])
		}
	}

	sizes := make([]uint64, len(sample))
	var total uint64
	for i, p := range sample {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		sizes[i] = uint64(st.Size())
		total += sizes[i]
	}
	if total == 0 {
		return nil, nil
	}

	pick := rng.Uint64n(total)
	chosen := 0
	for i, s := range sizes {
		if pick < s {
			chosen = i
			break
		}
		pick -= s
	}

	size := sizes[chosen]
	write := size
	if write > maxSize {
		write = maxSize
	}
	offset := rng.Uint64n(size - write + 1)
	if err := rewriteInPlace(sample[chosen], offset, write); err != nil {
		return nil, err
	}
	return &defragResult{Path: sample[chosen], Offset: offset, Size: write}, nil
}

func rewriteInPlace(path string, offset, size uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	buf := make([]byte, min(size, defragChunk))
	for done := uint64(0); done < size; {
		n := min(size-done, uint64(len(buf)))
		pos := int64(offset + done)
		if _, err := f.ReadAt(buf[:n], pos); err != nil && err != io.EOF {
			_ = f.Close()
			return fmt.Errorf("couldn't read %s at %d: %w", path, pos, err)
		}
		if _, err := f.WriteAt(buf[:n], pos); err != nil {
			_ = f.Close()
			return fmt.Errorf("couldn't rewrite %s at %d: %w", path, pos, err)
		}
		done += n
	}
	if err := vgfs.DataSync(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
