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
	"fmt"
	"strings"

	"code.icreplica.io/replica/core/types"
	"code.icreplica.io/replica/libs/crypto"
)

const (
	proposalTitleMaxBytes           = 256
	proposalSummaryMaxBytes         = 15000
	proposalURLMaxBytes             = 2048
	proposalMotionTextMaxBytes      = 10000
	functionNameMaxBytes            = 256
	functionDescriptionMaxBytes     = 10000
	metadataURLMaxBytes             = 512
	metadataNameMinBytes            = 4
	metadataNameMaxBytes            = 255
	metadataDescriptionMinBytes     = 10
	metadataDescriptionMaxBytes     = 2000
	metadataLogoMaxBytes            = 341334
	minCanisterWasmLength           = 8
	executeGenericPayloadRenderSize = 64
)

var (
	wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}
	gzipMagic = []byte{0x1f, 0x8b, 0x08}
)

// Action is what an adopted proposal does.
type Action interface {
	// FunctionID is the id the proposal votes and follows on.
	FunctionID() uint64
	isAction()
}

type Motion struct {
	MotionText string
}

type ManageNervousSystemParameters struct {
	Parameters *NervousSystemParameters
}

type UpgradeSnsControlledCanister struct {
	CanisterID      types.CanisterID
	NewCanisterWasm []byte
}

type AddGenericNervousSystemFunction struct {
	Function *NervousSystemFunction
}

type RemoveGenericNervousSystemFunction struct {
	ID uint64
}

type UpgradeSnsToNextVersion struct{}

type ExecuteGenericNervousSystemFunction struct {
	ID      uint64
	Payload []byte
}

type ManageSnsMetadata struct {
	Logo        *string
	URL         *string
	Name        *string
	Description *string
}

func (*Motion) FunctionID() uint64 { return MotionFunctionID }
func (*ManageNervousSystemParameters) FunctionID() uint64 {
	return ManageNervousSystemParametersFunctionID
}
func (*UpgradeSnsControlledCanister) FunctionID() uint64 {
	return UpgradeSnsControlledCanisterFunctionID
}
func (*AddGenericNervousSystemFunction) FunctionID() uint64 {
	return AddGenericNervousSystemFunctionFunctionID
}
func (*RemoveGenericNervousSystemFunction) FunctionID() uint64 {
	return RemoveGenericNervousSystemFunctionID
}
func (*UpgradeSnsToNextVersion) FunctionID() uint64 { return UpgradeSnsToNextVersionFunctionID }
func (a *ExecuteGenericNervousSystemFunction) FunctionID() uint64 {
	return a.ID
}
func (*ManageSnsMetadata) FunctionID() uint64 { return ManageSnsMetadataFunctionID }

func (*Motion) isAction()                              {}
func (*ManageNervousSystemParameters) isAction()       {}
func (*UpgradeSnsControlledCanister) isAction()        {}
func (*AddGenericNervousSystemFunction) isAction()     {}
func (*RemoveGenericNervousSystemFunction) isAction()  {}
func (*UpgradeSnsToNextVersion) isAction()             {}
func (*ExecuteGenericNervousSystemFunction) isAction() {}
func (*ManageSnsMetadata) isAction()                   {}

// ActionName is used in logs and metrics labels.
func ActionName(a Action) string {
	switch a.(type) {
	case *Motion:
		return "motion"
	case *ManageNervousSystemParameters:
		return "manage_nervous_system_parameters"
	case *UpgradeSnsControlledCanister:
		return "upgrade_sns_controlled_canister"
	case *AddGenericNervousSystemFunction:
		return "add_generic_nervous_system_function"
	case *RemoveGenericNervousSystemFunction:
		return "remove_generic_nervous_system_function"
	case *UpgradeSnsToNextVersion:
		return "upgrade_sns_to_next_version"
	case *ExecuteGenericNervousSystemFunction:
		return "execute_generic_nervous_system_function"
	case *ManageSnsMetadata:
		return "manage_sns_metadata"
	default:
		return "unspecified"
	}
}

// isUpgradeAction reports whether adopting the action changes the code of
// a canister of the nervous system.
func isUpgradeAction(a Action) bool {
	switch a.(type) {
	case *UpgradeSnsControlledCanister, *UpgradeSnsToNextVersion:
		return true
	}
	return false
}

// allowedWhenResourcesAreLow lists the actions accepted even when the heap
// is close to full or too many proposals hold ballots: they are the way
// out of such a situation.
func allowedWhenResourcesAreLow(a Action) bool {
	return isUpgradeAction(a)
}

func invalidProposal(format string, args ...interface{}) *Error {
	return newError(ErrorTypeInvalidProposal, format, args...)
}

// validateProposalFields checks what does not depend on governance state.
func validateProposalFields(p *Proposal) error {
	if p == nil {
		return invalidProposal("Proposal is missing")
	}
	if len(p.Title) == 0 {
		return invalidProposal("Proposal title must not be empty")
	}
	if len(p.Title) > proposalTitleMaxBytes {
		return invalidProposal("Proposal title is longer than %d bytes", proposalTitleMaxBytes)
	}
	if len(p.Summary) > proposalSummaryMaxBytes {
		return invalidProposal("Proposal summary is longer than %d bytes", proposalSummaryMaxBytes)
	}
	if len(p.URL) > proposalURLMaxBytes {
		return invalidProposal("Proposal url is longer than %d bytes", proposalURLMaxBytes)
	}
	if p.URL != "" && !strings.HasPrefix(p.URL, "https://") {
		return invalidProposal("Proposal url must use https")
	}
	if p.Action == nil {
		return invalidProposal("Proposal has no action")
	}
	return nil
}

func renderMotion(a *Motion) (string, error) {
	if len(a.MotionText) > proposalMotionTextMaxBytes {
		return "", invalidProposal("Motion text is longer than %d bytes", proposalMotionTextMaxBytes)
	}
	return fmt.Sprintf("# Motion Proposal:\n## Motion Text:\n\n%s", a.MotionText), nil
}

func renderUpgradeSnsControlledCanister(a *UpgradeSnsControlledCanister) (string, error) {
	var problems []string
	if a.CanisterID == "" {
		problems = append(problems, "Missing canister_id field.")
	}
	wasm := a.NewCanisterWasm
	if len(wasm) < minCanisterWasmLength {
		problems = append(problems, "new_canister_wasm is too short.")
	} else if !bytes.HasPrefix(wasm, wasmMagic) && !bytes.HasPrefix(wasm, gzipMagic) {
		problems = append(problems, "new_canister_wasm must start with the wasm magic number or a gzip header.")
	}
	if len(problems) > 0 {
		return "", invalidProposal("%s", strings.Join(problems, "\n"))
	}
	return fmt.Sprintf(
		"# Proposal to upgrade dapp canister:\n\n## Canister id: %s\n\n## Canister wasm hash: %s",
		a.CanisterID, crypto.HashToHex(wasm),
	), nil
}

func validateGenericFunction(f *NervousSystemFunction) error {
	if f == nil {
		return invalidProposal("NervousSystemFunction is missing")
	}
	if f.ID < firstGenericFunctionID {
		return invalidProposal("NervousSystemFunction's id must be at least %d", firstGenericFunctionID)
	}
	if f.Name == "" || len(f.Name) > functionNameMaxBytes {
		return invalidProposal("NervousSystemFunction's name must be between 1 and %d bytes", functionNameMaxBytes)
	}
	if len(f.Description) > functionDescriptionMaxBytes {
		return invalidProposal("NervousSystemFunction's description is longer than %d bytes", functionDescriptionMaxBytes)
	}
	g := f.Generic
	if g == nil {
		return invalidProposal("NervousSystemFunction must have a generic function")
	}
	if g.TargetCanisterID == "" || g.TargetMethodName == "" {
		return invalidProposal("NervousSystemFunction must have a target canister and method")
	}
	if g.ValidatorCanisterID == "" || g.ValidatorMethodName == "" {
		return invalidProposal("NervousSystemFunction must have a validator canister and method")
	}
	return nil
}

func renderAddGenericFunction(a *AddGenericNervousSystemFunction) (string, error) {
	if err := validateGenericFunction(a.Function); err != nil {
		return "", err
	}
	f := a.Function
	return fmt.Sprintf(
		"# Proposal to add a new, generic nervous system function:\n\n"+
			"## Function:\n\n- id: %d\n- name: %s\n- description: %s\n"+
			"- target canister: %s\n- target method: %s\n"+
			"- validator canister: %s\n- validator method: %s",
		f.ID, f.Name, f.Description,
		f.Generic.TargetCanisterID, f.Generic.TargetMethodName,
		f.Generic.ValidatorCanisterID, f.Generic.ValidatorMethodName,
	), nil
}

func renderManageSnsMetadata(a *ManageSnsMetadata) (string, error) {
	if a.Logo == nil && a.URL == nil && a.Name == nil && a.Description == nil {
		return "", invalidProposal("At least one of the metadata fields must be set")
	}
	var sb strings.Builder
	sb.WriteString("# Proposal to change the SNS metadata:\n")
	if a.Logo != nil {
		if len(*a.Logo) > metadataLogoMaxBytes {
			return "", invalidProposal("Logo is longer than %d bytes", metadataLogoMaxBytes)
		}
		fmt.Fprintf(&sb, "\n## New logo hash: %s", crypto.HashToHex([]byte(*a.Logo)))
	}
	if a.URL != nil {
		if len(*a.URL) > metadataURLMaxBytes {
			return "", invalidProposal("Url is longer than %d bytes", metadataURLMaxBytes)
		}
		fmt.Fprintf(&sb, "\n## New url: %s", *a.URL)
	}
	if a.Name != nil {
		if l := len(*a.Name); l < metadataNameMinBytes || l > metadataNameMaxBytes {
			return "", invalidProposal("Name must be between %d and %d bytes", metadataNameMinBytes, metadataNameMaxBytes)
		}
		fmt.Fprintf(&sb, "\n## New name: %s", *a.Name)
	}
	if a.Description != nil {
		if l := len(*a.Description); l < metadataDescriptionMinBytes || l > metadataDescriptionMaxBytes {
			return "", invalidProposal("Description must be between %d and %d bytes",
				metadataDescriptionMinBytes, metadataDescriptionMaxBytes)
		}
		fmt.Fprintf(&sb, "\n## New description: %s", *a.Description)
	}
	return sb.String(), nil
}

func renderExecuteGeneric(f *NervousSystemFunction, payload []byte, validated string) string {
	shown := payload
	if len(shown) > executeGenericPayloadRenderSize {
		shown = shown[:executeGenericPayloadRenderSize]
	}
	return fmt.Sprintf(
		"# Proposal to execute nervous system function:\n\n"+
			"## Nervous system function:\n\n- id: %d\n- name: %s\n\n"+
			"## Payload (first %d bytes, hex): %x\n\n## Payload rendering:\n\n%s",
		f.ID, f.Name, len(shown), shown, validated,
	)
}

func renderRemoveGenericFunction(f *NervousSystemFunction) string {
	return fmt.Sprintf(
		"# Proposal to remove a generic nervous system function:\n\n## Function:\n\n- id: %d\n- name: %s",
		f.ID, f.Name,
	)
}

func renderUpgradeSnsToNextVersion(up *UpgradeParams) string {
	return fmt.Sprintf(
		"# Proposal to upgrade SNS to next version:\n\n"+
			"## Canister type: %s\n\n## Current wasm hash: %x\n\n## New wasm hash: %x",
		up.CanisterType, up.CurrentVersion.hashOf(up.CanisterType), up.WasmHash,
	)
}
