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
	"context"
	"errors"
	"fmt"
	"sync"

	"code.icreplica.io/replica/logging"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pair"
)

// RequestHandler serves one request. Requests are handled one at a time in
// arrival order, so handlers must not block for long.
type RequestHandler func(ctx context.Context, verb string, payload []byte) ([]byte, error)

// Server is the serving side of a pair socket.
type Server struct {
	log     *logging.Logger
	sock    mangos.Socket
	handler RequestHandler

	sendMu sync.Mutex
}

func Listen(log *logging.Logger, addr string, handler RequestHandler) (*Server, error) {
	sock, err := pair.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create new socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	return &Server{
		log:     log,
		sock:    sock,
		handler: handler,
	}, nil
}

// Serve handles requests until the context is cancelled or the server is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.sock.Close()
		case <-stop:
		}
	}()

	for {
		msg, err := s.sock.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to receive message: %w", err)
		}
		env, err := unmarshalEnvelope(msg)
		if err != nil {
			s.log.Error("dropping malformed message", logging.Error(err))
			continue
		}
		if env.Kind != KindRequest {
			s.log.Warn("unexpected message", logging.String("kind", env.Kind.String()), logging.String("verb", env.Verb))
			continue
		}

		out := envelope{Kind: KindReply, ID: env.ID, Verb: env.Verb}
		payload, herr := s.handler(ctx, env.Verb, env.Payload)
		if herr != nil {
			out.Err = herr.Error()
		} else {
			out.Payload = payload
		}
		if err := s.send(out); err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Notify pushes a message the peer does not reply to.
func (s *Server) Notify(verb string, payload []byte) error {
	return s.send(envelope{Kind: KindNotification, Verb: verb, Payload: payload})
}

func (s *Server) Close() error {
	err := s.sock.Close()
	if errors.Is(err, mangos.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) send(env envelope) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sock.Send(env.marshal())
}
