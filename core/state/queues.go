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

package state

// Message is a request or response waiting in a queue.
type Message struct {
	Source      string
	Destination string
	Method      string
	Payload     []byte
	// Response is set for replies to an earlier request.
	Response bool
}

// CanisterQueues holds the messages a canister has yet to consume and
// those it produced but which are not yet routed.
type CanisterQueues struct {
	Ingress []Message
	Input   []Message
	Output  []Message
}

func (q CanisterQueues) Len() int {
	return len(q.Ingress) + len(q.Input) + len(q.Output)
}

func (q CanisterQueues) Clone() CanisterQueues {
	return CanisterQueues{
		Ingress: cloneMessages(q.Ingress),
		Input:   cloneMessages(q.Input),
		Output:  cloneMessages(q.Output),
	}
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m
		out[i].Payload = append([]byte(nil), m.Payload...)
	}
	return out
}
