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
package governance

import (
	"bytes"
	"context"
	"time"

	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/logging"
)

// maxUpgradeStatusChecks bounds the checks of a stuck upgrade.
const maxUpgradeStatusChecks = 1000

type SnsCanisterType int32

const (
	CanisterTypeUnspecified SnsCanisterType = iota
	CanisterTypeRoot
	CanisterTypeGovernance
	CanisterTypeLedger
	CanisterTypeSwap
	CanisterTypeArchive
	CanisterTypeIndex
)

func (t SnsCanisterType) String() string {
	switch t {
	case CanisterTypeRoot:
		return "root"
	case CanisterTypeGovernance:
		return "governance"
	case CanisterTypeLedger:
		return "ledger"
	case CanisterTypeSwap:
		return "swap"
	case CanisterTypeArchive:
		return "archive"
	case CanisterTypeIndex:
		return "index"
	default:
		return "unspecified"
	}
}

// SnsCanisters are the canisters of the nervous system as known by root.
type SnsCanisters struct {
	Root       types.CanisterID
	Governance types.CanisterID
	Ledger     types.CanisterID
	Swap       types.CanisterID
	Index      types.CanisterID
	Archives   []types.CanisterID
	Dapps      []types.CanisterID
}

// UpgradeParams describe the step from the deployed version to the next
// one. Each step changes the code of a single canister type.
type UpgradeParams struct {
	CurrentVersion *Version
	TargetVersion  *Version
	CanisterType   SnsCanisterType
	WasmHash       []byte
	CanisterIDs    []types.CanisterID
}

func (v *Version) hashOf(t SnsCanisterType) []byte {
	if v == nil {
		return nil
	}
	switch t {
	case CanisterTypeRoot:
		return v.RootWasmHash
	case CanisterTypeGovernance:
		return v.GovernanceWasmHash
	case CanisterTypeLedger:
		return v.LedgerWasmHash
	case CanisterTypeSwap:
		return v.SwapWasmHash
	case CanisterTypeArchive:
		return v.ArchiveWasmHash
	case CanisterTypeIndex:
		return v.IndexWasmHash
	}
	return nil
}

func (v *Version) clone() *Version {
	if v == nil {
		return nil
	}
	c := func(b []byte) []byte { return append([]byte(nil), b...) }
	return &Version{
		RootWasmHash:       c(v.RootWasmHash),
		GovernanceWasmHash: c(v.GovernanceWasmHash),
		LedgerWasmHash:     c(v.LedgerWasmHash),
		SwapWasmHash:       c(v.SwapWasmHash),
		ArchiveWasmHash:    c(v.ArchiveWasmHash),
		IndexWasmHash:      c(v.IndexWasmHash),
	}
}

// changedCanisterType finds the single canister type whose code differs
// between two versions.
func changedCanisterType(current, next *Version) (SnsCanisterType, error) {
	found := CanisterTypeUnspecified
	for t := CanisterTypeRoot; t <= CanisterTypeIndex; t++ {
		if bytes.Equal(current.hashOf(t), next.hashOf(t)) {
			continue
		}
		if found != CanisterTypeUnspecified {
			return CanisterTypeUnspecified, invalidProposal(
				"Next version changes more than one canister type: %s and %s", found, t)
		}
		found = t
	}
	if found == CanisterTypeUnspecified {
		return CanisterTypeUnspecified, invalidProposal("Next version is the same as the deployed version")
	}
	return found, nil
}

func (c *SnsCanisters) idsOf(t SnsCanisterType) []types.CanisterID {
	switch t {
	case CanisterTypeRoot:
		return []types.CanisterID{c.Root}
	case CanisterTypeGovernance:
		return []types.CanisterID{c.Governance}
	case CanisterTypeLedger:
		return []types.CanisterID{c.Ledger}
	case CanisterTypeSwap:
		return []types.CanisterID{c.Swap}
	case CanisterTypeIndex:
		return []types.CanisterID{c.Index}
	case CanisterTypeArchive:
		return append([]types.CanisterID(nil), c.Archives...)
	}
	return nil
}

// upgradeParams asks the wasm registry for the version that follows the
// deployed one. The mutex is released during the calls.
func (e *Engine) upgradeParams(ctx context.Context) (*UpgradeParams, error) {
	current := e.state.DeployedVersion.clone()
	if current == nil {
		return nil, invalidProposal("There is no deployed version to upgrade from")
	}

	var (
		next      *Version
		canisters *SnsCanisters
	)
	err := e.withoutLock(func() error {
		var err error
		if next, err = e.env.NextVersion(ctx, current); err != nil {
			return err
		}
		canisters, err = e.env.ListSnsCanisters(ctx)
		return err
	})
	if err != nil {
		return nil, invalidProposal("Could not get the upgrade parameters: %v", err)
	}
	if next == nil {
		return nil, invalidProposal("There is no next version found for the current SNS version")
	}

	t, err := changedCanisterType(current, next)
	if err != nil {
		return nil, err
	}
	ids := canisters.idsOf(t)
	if len(ids) == 0 {
		return nil, invalidProposal("There are no %s canisters to upgrade", t)
	}
	return &UpgradeParams{
		CurrentVersion: current,
		TargetVersion:  next,
		CanisterType:   t,
		WasmHash:       next.hashOf(t),
		CanisterIDs:    ids,
	}, nil
}

// checkNoUpgradeInProgress only lets one upgrade run at a time, with
// proposalID being the one about to run.
func (e *Engine) checkNoUpgradeInProgress(proposalID uint64) error {
	if pv := e.state.PendingVersion; pv != nil && pv.ProposalID != proposalID {
		return newError(ErrorTypeResourceExhausted,
			"Upgrade lock currently acquired by proposal %d, not executing proposal %d", pv.ProposalID, proposalID)
	}
	for id, pd := range e.state.Proposals {
		if id == proposalID || pd.Proposal == nil || !isUpgradeAction(pd.Proposal.Action) {
			continue
		}
		if pd.Status() == ProposalStatusAdopted {
			return newError(ErrorTypeResourceExhausted,
				"Another upgrade is currently in progress (proposal %d). Please, try again later.", id)
		}
	}
	return nil
}

func (e *Engine) performUpgradeSnsControlledCanister(ctx context.Context, id uint64, a *UpgradeSnsControlledCanister) error {
	if err := e.checkNoUpgradeInProgress(id); err != nil {
		return err
	}
	var canisters *SnsCanisters
	err := e.withoutLock(func() error {
		var err error
		canisters, err = e.env.ListSnsCanisters(ctx)
		return err
	})
	if err != nil {
		return externalError(err)
	}

	isDapp := false
	for _, d := range canisters.Dapps {
		if d == a.CanisterID {
			isDapp = true
			break
		}
	}
	if !isDapp {
		return newError(ErrorTypeInvalidCommand,
			"Canister %s is not a dapp canister controlled by the SNS", a.CanisterID)
	}

	wasm := a.NewCanisterWasm
	err = e.withoutLock(func() error {
		return e.env.ChangeCanister(ctx, a.CanisterID, wasm)
	})
	if err != nil {
		return externalError(err)
	}
	return nil
}

// performUpgradeSnsToNextVersion starts the upgrade. The proposal is
// marked executed once the running version shows the target.
func (e *Engine) performUpgradeSnsToNextVersion(ctx context.Context, id uint64) error {
	if err := e.checkNoUpgradeInProgress(id); err != nil {
		return err
	}
	up, err := e.upgradeParams(ctx)
	if err != nil {
		return err
	}

	var wasm []byte
	err = e.withoutLock(func() error {
		var err error
		wasm, err = e.env.GetWasm(ctx, up.WasmHash)
		return err
	})
	if err != nil {
		return newError(ErrorTypeExternal, "Could not get the wasm of %x: %v", up.WasmHash, err)
	}

	err = e.withoutLock(func() error {
		if up.CanisterType == CanisterTypeRoot {
			return e.env.UpgradeRoot(ctx, wasm)
		}
		for _, c := range up.CanisterIDs {
			if err := e.env.ChangeCanister(ctx, c, wasm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return externalError(err)
	}

	e.state.PendingVersion = &UpgradeInProgress{
		TargetVersion:       up.TargetVersion,
		MarkFailedAtSeconds: e.now() + uint64(e.cfg.UpgradeDeadline.Get()/time.Second),
		ProposalID:          id,
	}
	e.log.Info("upgrade to the next version started",
		logging.ProposalID(id),
		logging.String("canister-type", up.CanisterType.String()),
	)
	return nil
}

// checkUpgradeStatus compares the running version with the target of the
// pending upgrade.
func (e *Engine) checkUpgradeStatus(ctx context.Context) {
	pending := e.state.PendingVersion
	if pending == nil {
		return
	}
	if pending.TargetVersion == nil {
		e.log.Error("pending upgrade has no target version, dropping it",
			logging.ProposalID(pending.ProposalID))
		e.state.PendingVersion = nil
		return
	}

	pending.CheckingUpgradeLock++
	if pending.CheckingUpgradeLock > maxUpgradeStatusChecks {
		e.failPendingUpgrade(pending, newError(ErrorTypeExternal,
			"Too many attempts to check upgrade without success. Marking upgrade failed."))
		return
	}
	if pending.CheckingUpgradeLock > 1 {
		return
	}

	var running *Version
	err := e.withoutLock(func() error {
		var err error
		running, err = e.env.RunningVersion(ctx)
		return err
	})
	if e.state.PendingVersion != pending {
		return
	}
	pending.CheckingUpgradeLock = 0
	if err != nil || running == nil {
		e.log.Error("could not get the running version", logging.Error(err))
		return
	}

	target := pending.TargetVersion
	running = running.clone()
	// archives only exist once the ledger spawned one
	if len(running.ArchiveWasmHash) == 0 {
		running.ArchiveWasmHash = append([]byte(nil), target.ArchiveWasmHash...)
	}

	if !running.Equal(target) {
		if e.now() > pending.MarkFailedAtSeconds {
			e.failPendingUpgrade(pending, newError(ErrorTypeExternal,
				"Upgrade marked as failed at %d. Running version does not match the target version.", e.now()))
		}
		return
	}

	e.setProposalExecutionStatus(pending.ProposalID, nil)
	e.state.DeployedVersion = target.clone()
	e.state.PendingVersion = nil
}

func (e *Engine) failPendingUpgrade(pending *UpgradeInProgress, err error) {
	e.m.upgradeFailure.Inc()
	e.setProposalExecutionStatus(pending.ProposalID, err)
	e.state.PendingVersion = nil
}
