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

// Package state holds the in-memory model of the replicated state.
package state

import (
	"sort"
	"time"

	"code.icreplica.io/replica/core/types"
)

// SystemMetadata is subnet wide bookkeeping written next to the canisters
// of a checkpoint.
type SystemMetadata struct {
	OwnSubnetID          string
	Height               types.Height
	BatchTime            time.Time
	GeneratedCanisterIDs uint64
	// StateSyncVersion is bumped whenever the on-disk format changes.
	StateSyncVersion uint32
}

type ReplicatedState struct {
	Metadata     SystemMetadata
	SubnetQueues CanisterQueues
	Canisters    map[types.CanisterID]*CanisterState
}

func NewReplicatedState(subnetID string) *ReplicatedState {
	return &ReplicatedState{
		Metadata:  SystemMetadata{OwnSubnetID: subnetID},
		Canisters: map[types.CanisterID]*CanisterState{},
	}
}

// PutCanister adds or replaces a canister.
func (s *ReplicatedState) PutCanister(c *CanisterState) {
	s.Canisters[c.System.CanisterID] = c
}

func (s *ReplicatedState) Canister(id types.CanisterID) (*CanisterState, bool) {
	c, ok := s.Canisters[id]
	return c, ok
}

// CanisterIDs returns the ids of all canisters in ascending byte order.
func (s *ReplicatedState) CanisterIDs() []types.CanisterID {
	ids := make([]types.CanisterID, 0, len(s.Canisters))
	for id := range s.Canisters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
