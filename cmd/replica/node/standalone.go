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
package node

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.icreplica.io/replica/core/governance"
	"code.icreplica.io/replica/core/types"

	"golang.org/x/exp/rand"
)

var (
	ErrCallsNotRouted = errors.New("inter-canister calls are not available on this node")
	ErrNoLedger       = errors.New("no ledger is reachable from this node")
)

// standaloneEnvironment hosts governance on a replica that routes no
// messages to other canisters. Upgrades and generic functions fail with
// ErrCallsNotRouted, everything local works.
type standaloneEnvironment struct {
	id types.CanisterID

	mu        sync.RWMutex
	deployed  *governance.Version
	canisters governance.SnsCanisters
}

func newStandaloneEnvironment(id types.CanisterID) *standaloneEnvironment {
	return &standaloneEnvironment{id: id}
}

func (s *standaloneEnvironment) setCanisters(st *governance.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployed = st.DeployedVersion
	s.canisters = governance.SnsCanisters{
		Root:       st.RootCanisterID,
		Governance: s.id,
		Ledger:     st.LedgerCanisterID,
		Swap:       st.SwapCanisterID,
	}
}

func (s *standaloneEnvironment) Now() time.Time {
	return time.Now()
}

func (s *standaloneEnvironment) RandomUint64() uint64 {
	return rand.Uint64()
}

func (s *standaloneEnvironment) CanisterID() types.CanisterID {
	return s.id
}

func (s *standaloneEnvironment) CallCanister(context.Context, types.CanisterID, string, []byte) ([]byte, error) {
	return nil, ErrCallsNotRouted
}

func (s *standaloneEnvironment) ListSnsCanisters(context.Context) (*governance.SnsCanisters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.canisters
	return &c, nil
}

func (s *standaloneEnvironment) ChangeCanister(context.Context, types.CanisterID, []byte) error {
	return ErrCallsNotRouted
}

func (s *standaloneEnvironment) UpgradeRoot(context.Context, []byte) error {
	return ErrCallsNotRouted
}

// NextVersion reports no newer version, no upgrade path is published locally.
func (s *standaloneEnvironment) NextVersion(context.Context, *governance.Version) (*governance.Version, error) {
	return nil, nil
}

func (s *standaloneEnvironment) GetWasm(context.Context, []byte) ([]byte, error) {
	return nil, ErrCallsNotRouted
}

func (s *standaloneEnvironment) RunningVersion(context.Context) (*governance.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deployed == nil {
		return nil, ErrCallsNotRouted
	}
	return s.deployed, nil
}

// standaloneLedger fails every ledger call. Periodic rewards are skipped
// while no total supply is known.
type standaloneLedger struct{}

func (standaloneLedger) TransferFunds(context.Context, uint64, uint64, []byte, governance.Account, uint64) (uint64, error) {
	return 0, ErrNoLedger
}

func (standaloneLedger) TotalSupply(context.Context) (uint64, error) {
	return 0, ErrNoLedger
}

func (standaloneLedger) AccountBalance(context.Context, governance.Account) (uint64, error) {
	return 0, ErrNoLedger
}
