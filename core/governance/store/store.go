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
// Package store keeps the governance state in LevelDB, one entry per
// height at which it was saved.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"code.icreplica.io/replica/core/governance"
	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"

	"github.com/dustin/go-humanize"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrStateNotFound = errors.New("governance state not found")

var statePrefix = []byte("state/")

type Store struct {
	log *logging.Logger
	cfg Config
	db  *leveldb.DB
}

func options() *opt.Options {
	return &opt.Options{
		Filter:          filter.NewBloomFilter(10),
		BlockCacher:     opt.NoCacher,
		OpenFilesCacher: opt.NoCacher,
	}
}

// New opens, or creates, the database in dir.
func New(log *logging.Logger, cfg Config, dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, options())
	if err != nil {
		return nil, fmt.Errorf("failed to open level db file: %w", err)
	}
	return newStore(log, cfg, db), nil
}

// NewMemStore keeps everything in memory.
func NewMemStore(log *logging.Logger, cfg Config) (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), options())
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory level db: %w", err)
	}
	return newStore(log, cfg, db), nil
}

func newStore(log *logging.Logger, cfg Config, db *leveldb.DB) *Store {
	log = log.Named(namedLogger)
	log.SetLevel(cfg.Level.Get())
	return &Store{log: log, cfg: cfg, db: db}
}

func (s *Store) ReloadConf(cfg Config) {
	s.log.Info("reloading configuration")
	if s.log.GetLevel() != cfg.Level.Get() {
		s.log.Info("updating log level",
			logging.String("old", s.log.GetLevel().String()),
			logging.String("new", cfg.Level.String()),
		)
		s.log.SetLevel(cfg.Level.Get())
	}
	s.cfg = cfg
}

func heightToKey(h types.Height) []byte {
	key := make([]byte, len(statePrefix)+8)
	copy(key, statePrefix)
	binary.BigEndian.PutUint64(key[len(statePrefix):], uint64(h))
	return key
}

func keyToHeight(key []byte) types.Height {
	return types.Height(binary.BigEndian.Uint64(key[len(statePrefix):]))
}

// StateHolder gives access to a live governance state. The engine is one.
type StateHolder interface {
	WithState(fn func(*governance.State) error) error
}

// Save writes st under h, then drops the oldest entries beyond the
// retention.
func (s *Store) Save(h types.Height, st *governance.State) error {
	return s.write(h, encodeState(st), len(st.Neurons), len(st.Proposals))
}

// SaveFrom encodes the state of holder under its lock and writes it once
// the lock is released.
func (s *Store) SaveFrom(h types.Height, holder StateHolder) error {
	var (
		value              []byte
		neurons, proposals int
	)
	err := holder.WithState(func(st *governance.State) error {
		value = encodeState(st)
		neurons, proposals = len(st.Neurons), len(st.Proposals)
		return nil
	})
	if err != nil {
		return err
	}
	return s.write(h, value, neurons, proposals)
}

func (s *Store) write(h types.Height, value []byte, neurons, proposals int) error {
	batch := new(leveldb.Batch)
	batch.Put(heightToKey(h), value)

	if keep := int(s.cfg.Retention); keep > 0 {
		heights, err := s.Heights()
		if err != nil {
			return err
		}
		heights = insertHeight(heights, h)
		for i := 0; i < len(heights)-keep; i++ {
			batch.Delete(heightToKey(heights[i]))
		}
	}

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to save governance state: %w", err)
	}
	s.log.Debug("governance state saved",
		logging.Uint64("height", uint64(h)),
		logging.String("size", humanize.IBytes(uint64(len(value)))),
		logging.Int("neurons", neurons),
		logging.Int("proposals", proposals),
	)
	return nil
}

// insertHeight adds h to the sorted heights unless already present.
func insertHeight(heights []types.Height, h types.Height) []types.Height {
	i := sort.Search(len(heights), func(i int) bool { return heights[i] >= h })
	if i < len(heights) && heights[i] == h {
		return heights
	}
	heights = append(heights, 0)
	copy(heights[i+1:], heights[i:])
	heights[i] = h
	return heights
}

func (s *Store) Load(h types.Height) (*governance.State, error) {
	value, err := s.db.Get(heightToKey(h), &opt.ReadOptions{})
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get governance state: %w", err)
	}
	return decodeState(value)
}

// Latest returns the state saved at the greatest height.
func (s *Store) Latest() (types.Height, *governance.State, error) {
	iter := s.db.NewIterator(util.BytesPrefix(statePrefix), &opt.ReadOptions{})
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return 0, nil, fmt.Errorf("failed to read governance states: %w", err)
		}
		return 0, nil, ErrStateNotFound
	}
	h := keyToHeight(iter.Key())
	st, err := decodeState(iter.Value())
	if err != nil {
		return 0, nil, err
	}
	return h, st, nil
}

// Heights lists the saved heights, oldest first.
func (s *Store) Heights() ([]types.Height, error) {
	iter := s.db.NewIterator(util.BytesPrefix(statePrefix), &opt.ReadOptions{})
	defer iter.Release()

	var heights []types.Height
	for iter.Next() {
		heights = append(heights, keyToHeight(iter.Key()))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list governance states: %w", err)
	}
	return heights, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
