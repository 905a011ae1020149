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
	"time"

	"code.icreplica.io/replica/logging"

	"github.com/cenkalti/backoff/v4"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pair"

	// registers the transports used between the replica and its sandboxes
	_ "go.nanomsg.org/mangos/v3/transport/inproc"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
)

const (
	defaultDialRetries       = 10
	defaultDialRetryInterval = 50 * time.Millisecond
)

var ErrConnClosed = errors.New("ipc connection closed")

// NotificationHandler receives the notifications pushed by the peer. It is
// called from the receive loop, in arrival order.
type NotificationHandler func(verb string, payload []byte)

// Conn is the calling side of a pair socket. Requests are written in call
// order and replies are matched to their request by id.
type Conn struct {
	log      *logging.Logger
	sock     mangos.Socket
	onNotify NotificationHandler

	// serializes writes so that the peer observes requests in call order
	sendMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan envelope
	closed  bool

	done chan struct{}
}

// Dial connects to a listening Server, retrying while the peer is not yet
// listening.
func Dial(ctx context.Context, log *logging.Logger, addr string, onNotify NotificationHandler) (*Conn, error) {
	sock, err := pair.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create new socket: %w", err)
	}

	bo := backoff.NewConstantBackOff(defaultDialRetryInterval)
	dial := func() error {
		if err := sock.Dial(addr); err != nil {
			log.Debug("failed to connect, retrying", logging.String("addr", addr), logging.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(backoff.WithMaxRetries(bo, defaultDialRetries), ctx)); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("failed to connect to %v: %w", addr, err)
	}
	return NewConn(log, sock, onNotify), nil
}

// NewConn takes ownership of an already connected socket.
func NewConn(log *logging.Logger, sock mangos.Socket, onNotify NotificationHandler) *Conn {
	if onNotify == nil {
		onNotify = func(string, []byte) {}
	}
	c := &Conn{
		log:      log,
		sock:     sock,
		onNotify: onNotify,
		pending:  map[uint64]chan envelope{},
		done:     make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

// Call sends a request and waits for its reply.
func (c *Conn) Call(ctx context.Context, verb string, payload []byte) ([]byte, error) {
	id, ch, err := c.register()
	if err != nil {
		return nil, err
	}
	if err := c.send(envelope{Kind: KindRequest, ID: id, Verb: verb, Payload: payload}); err != nil {
		c.unregister(id)
		return nil, err
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return nil, ErrConnClosed
		}
		if env.Err != "" {
			return nil, &RemoteError{Verb: verb, Message: env.Err}
		}
		return env.Payload, nil
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

// Send writes a request without waiting for the reply, which is dropped
// on arrival.
func (c *Conn) Send(verb string, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	return c.send(envelope{Kind: KindRequest, ID: id, Verb: verb, Payload: payload})
}

// Done is closed once the connection stops receiving.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	err := c.sock.Close()
	if errors.Is(err, mangos.ErrClosed) {
		return nil
	}
	return err
}

func (c *Conn) register() (uint64, chan envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, ErrConnClosed
	}
	c.nextID++
	ch := make(chan envelope, 1)
	c.pending[c.nextID] = ch
	return c.nextID, ch, nil
}

func (c *Conn) unregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Conn) send(env envelope) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.sock.Send(env.marshal()); err != nil {
		if errors.Is(err, mangos.ErrClosed) {
			return ErrConnClosed
		}
		return fmt.Errorf("failed to send on socket: %w", err)
	}
	return nil
}

func (c *Conn) recvLoop() {
	defer c.shutdown()
	for {
		msg, err := c.sock.Recv()
		if err != nil {
			if !errors.Is(err, mangos.ErrClosed) {
				c.log.Error("failed to receive message", logging.Error(err))
			}
			return
		}
		env, err := unmarshalEnvelope(msg)
		if err != nil {
			c.log.Error("dropping malformed message", logging.Error(err))
			continue
		}

		switch env.Kind {
		case KindReply:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		case KindNotification:
			c.onNotify(env.Verb, env.Payload)
		default:
			c.log.Warn("unexpected message", logging.String("kind", env.Kind.String()), logging.String("verb", env.Verb))
		}
	}
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = map[uint64]chan envelope{}
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(c.done)
}
