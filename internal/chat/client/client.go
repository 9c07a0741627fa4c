// Package client implements chat protocol peer used by CLI and tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wtask/chatcast/internal/chat/command"
	"github.com/wtask/chatcast/internal/chat/wire"
)

// ErrClosed - returns on use of closed client.
var ErrClosed = errors.New("client.Client: closed")

// aLongTimeAgo - non-zero past time used to unblock pending reads.
var aLongTimeAgo = time.Unix(1, 0)

// Client - connection to chat server.
// Send may be called concurrently with Receive, but Receive and Ping are not
// safe for concurrent use with each other.
type Client struct {
	conn         net.Conn
	identity     wire.Identity
	maxFrameSize int
	now          func() time.Time

	writeMu sync.Mutex
	decoder *wire.Decoder
	buf     []byte
	pending []wire.Message

	closeOnce sync.Once
	closed    chan struct{}
}

// Option - configures Client.
type Option func(c *Client)

// WithIdentity - sender stamped into outgoing messages. Server overwrites it with assigned identity.
func WithIdentity(id wire.Identity) Option {
	return func(c *Client) {
		c.identity = id
	}
}

// WithMaxFrameSize - overwrites frame body limit of the server.
// Received frames may exceed it by wire.OutboundAllowance.
func WithMaxFrameSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.maxFrameSize = size
		}
	}
}

// WithClock - overwrites time source used by Ping.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New - wraps already established connection.
func New(conn net.Conn, options ...Option) *Client {
	c := &Client{
		conn:         conn,
		maxFrameSize: wire.DefaultMaxFrameSize,
		now:          time.Now,
		buf:          make([]byte, 4096),
		closed:       make(chan struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	c.decoder = wire.NewDecoder(wire.OutboundLimit(c.maxFrameSize))
	return c
}

// Dial - connects to chat server listening on TCP address.
func Dial(ctx context.Context, address string, options ...Option) (*Client, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("client.Dial: %w", err)
	}
	return New(conn, options...), nil
}

// LocalAddr - returns local address of connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Send - writes payload as a single frame.
func (c *Client) Send(payload string) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	frame, err := wire.Encode(wire.Message{Sender: c.identity, Payload: payload}, c.maxFrameSize)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("client.Send: %w", err)
	}
	return nil
}

// Receive - blocks until next message is arrived or ctx is done.
func (c *Client) Receive(ctx context.Context) (wire.Message, error) {
	if len(c.pending) > 0 {
		m := c.pending[0]
		c.pending = c.pending[1:]
		return m, nil
	}
	return c.read(ctx)
}

func (c *Client) read(ctx context.Context) (wire.Message, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer func() {
		if !stop() {
			c.conn.SetReadDeadline(time.Time{})
		}
	}()
	for {
		m, ok, err := c.decoder.Next()
		if err != nil {
			return wire.Message{}, err
		}
		if ok {
			return m, nil
		}
		n, err := c.conn.Read(c.buf)
		if n > 0 {
			c.decoder.Write(c.buf[:n])
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return wire.Message{}, ctx.Err()
			}
			return wire.Message{}, err
		}
	}
}

// Pong - result of ping round trip.
type Pong struct {
	Sent       time.Time
	ServerTime time.Time
	Received   time.Time
}

// RoundTrip - returns time elapsed between sending ping and receiving reply.
func (p Pong) RoundTrip() time.Duration {
	return p.Received.Sub(p.Sent)
}

// Ping - measures round trip to the server. Messages arrived before
// the reply are kept and returned by subsequent Receive calls.
func (c *Client) Ping(ctx context.Context) (Pong, error) {
	sent := c.now()
	ts := command.FormatMillis(sent)
	if err := c.Send(command.Ping + " " + ts); err != nil {
		return Pong{}, err
	}
	prefix := command.Ping + " " + ts + " "
	for {
		m, err := c.read(ctx)
		if err != nil {
			return Pong{}, err
		}
		if !strings.HasPrefix(m.Payload, prefix) {
			c.pending = append(c.pending, m)
			continue
		}
		ms, err := strconv.ParseFloat(strings.TrimPrefix(m.Payload, prefix), 64)
		if err != nil {
			return Pong{}, fmt.Errorf("client.Ping: unexpected reply %q: %w", m.Payload, err)
		}
		return Pong{
			Sent:       sent,
			ServerTime: time.UnixMicro(int64(ms * 1000)),
			Received:   c.now(),
		}, nil
	}
}

// Close - asks server to disconnect and closes connection.
func (c *Client) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		// server may be gone already
		c.Send(command.Disconnect)
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
