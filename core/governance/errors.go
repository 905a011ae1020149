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
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrCallerNotSwapCanister = errors.New("caller must be the swap canister")
	ErrModeNotAllowed        = errors.New("entering this mode is not allowed")
	ErrMissingParameters     = errors.New("nervous system parameters are missing")
	ErrMissingCanisterIDs    = errors.New("root, ledger and swap canister ids are required")
)

type ErrorType int32

const (
	ErrorTypeUnspecified ErrorType = iota
	ErrorTypeUnavailable
	ErrorTypeNotAuthorized
	ErrorTypeNotFound
	ErrorTypeInvalidCommand
	ErrorTypeRequiresNotDissolving
	ErrorTypeRequiresDissolving
	ErrorTypeRequiresDissolved
	ErrorTypeAccessControlList
	ErrorTypeResourceExhausted
	ErrorTypePreconditionFailed
	ErrorTypeExternal
	ErrorTypeNeuronLocked
	ErrorTypeInsufficientFunds
	ErrorTypeInvalidPrincipal
	ErrorTypeInvalidProposal
	ErrorTypeInvalidNeuronID
)

var errorTypeNames = map[ErrorType]string{
	ErrorTypeUnspecified:           "Unspecified",
	ErrorTypeUnavailable:           "Unavailable",
	ErrorTypeNotAuthorized:         "NotAuthorized",
	ErrorTypeNotFound:              "NotFound",
	ErrorTypeInvalidCommand:        "InvalidCommand",
	ErrorTypeRequiresNotDissolving: "RequiresNotDissolving",
	ErrorTypeRequiresDissolving:    "RequiresDissolving",
	ErrorTypeRequiresDissolved:     "RequiresDissolved",
	ErrorTypeAccessControlList:     "AccessControlList",
	ErrorTypeResourceExhausted:     "ResourceExhausted",
	ErrorTypePreconditionFailed:    "PreconditionFailed",
	ErrorTypeExternal:              "External",
	ErrorTypeNeuronLocked:          "NeuronLocked",
	ErrorTypeInsufficientFunds:     "InsufficientFunds",
	ErrorTypeInvalidPrincipal:      "InvalidPrincipal",
	ErrorTypeInvalidProposal:       "InvalidProposal",
	ErrorTypeInvalidNeuronID:       "InvalidNeuronId",
}

func (t ErrorType) String() string {
	if s, ok := errorTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ErrorType(%d)", int32(t))
}

// Error is returned by every governance operation that fails for a reason
// the caller can act upon.
type Error struct {
	Type    ErrorType
	Message string
}

func newError(t ErrorType, format string, args ...interface{}) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Type: t, Message: msg}
}

// externalError wraps a failure of the ledger or of another canister.
func externalError(err error) *Error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return newError(ErrorTypeExternal, "%v", err)
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is matches any *Error of the same type, so errors.Is(err,
// &Error{Type: ErrorTypeNeuronLocked}) works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// ErrorTypeOf returns the type of a governance error, or Unspecified when
// err is not one.
func ErrorTypeOf(err error) ErrorType {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Type
	}
	return ErrorTypeUnspecified
}
