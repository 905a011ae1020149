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

package ipc

import (
	"errors"
	"fmt"

	"code.icreplica.io/replica/libs/wire"
)

// Kind tells requests, replies and notifications apart.
type Kind uint64

const (
	KindRequest Kind = iota + 1
	KindReply
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	case KindNotification:
		return "notification"
	default:
		return fmt.Sprintf("kind(%d)", uint64(k))
	}
}

const (
	fieldEnvKind    = 1
	fieldEnvID      = 2
	fieldEnvVerb    = 3
	fieldEnvPayload = 4
	fieldEnvError   = 5
)

var ErrInvalidEnvelope = errors.New("invalid ipc envelope")

// RemoteError is an error returned by the handler on the other end of a
// connection, as opposed to a failure of the transport.
type RemoteError struct {
	Verb    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Verb, e.Message)
}

// IsRemote reports whether err was produced by the peer's handler.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

type envelope struct {
	Kind    Kind
	ID      uint64
	Verb    string
	Payload []byte
	Err     string
}

func (e envelope) marshal() []byte {
	return wire.NewEncoder().
		PutUint64(fieldEnvKind, uint64(e.Kind)).
		PutUint64(fieldEnvID, e.ID).
		PutString(fieldEnvVerb, e.Verb).
		PutBytes(fieldEnvPayload, e.Payload).
		PutString(fieldEnvError, e.Err).
		Bytes()
}

func unmarshalEnvelope(b []byte) (envelope, error) {
	f, err := wire.Parse(b)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	e := envelope{
		Kind:    Kind(f.Uint64(fieldEnvKind)),
		ID:      f.Uint64(fieldEnvID),
		Verb:    f.String(fieldEnvVerb),
		Payload: f.Bytes(fieldEnvPayload),
		Err:     f.String(fieldEnvError),
	}
	if e.Kind < KindRequest || e.Kind > KindNotification || e.Verb == "" {
		return envelope{}, fmt.Errorf("%w: %s %q", ErrInvalidEnvelope, e.Kind, e.Verb)
	}
	return e, nil
}
