package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wtask/chatcast/internal/chat/text"
	"github.com/wtask/chatcast/internal/chat/wire"
)

// Conn - network connection kept by session.
// net.Conn satisfies it, as well as the websocket gateway adapter.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// deadliner - optional Conn capability used when timeouts are configured.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// State - session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session - one accepted connection with assigned identity.
type Session struct {
	identity wire.Identity
	key      uuid.UUID
	conn     Conn
	broker   *Broker
	since    time.Time

	state     atomic.Int32
	sendMu    sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(b *Broker, conn Conn, id wire.Identity) *Session {
	return &Session{
		identity: id,
		key:      uuid.New(),
		conn:     conn,
		broker:   b,
		since:    time.Now().UTC(),
		done:     make(chan struct{}),
	}
}

// Identity - returns session identity.
func (s *Session) Identity() wire.Identity {
	return s.identity
}

// Key - returns random session key, it correlates logs and traces of the same connection.
func (s *Session) Key() uuid.UUID {
	return s.key
}

// State - returns current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// RemoteAddr - returns peer address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Since - returns registration time.
func (s *Session) Since() time.Time {
	return s.since
}

// Done - is closed after session reached Closed state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Send - encodes and writes message to the session connection.
func (s *Session) Send(m wire.Message) error {
	frame, err := wire.Encode(m, wire.OutboundLimit(s.broker.maxFrameSize))
	if err != nil {
		return err
	}
	return s.sendFrame(frame)
}

// Disconnect - removes session from registry and closes its connection.
func (s *Session) Disconnect(reason string) {
	s.broker.drop(s, PartActionLeft, errors.New(reason))
}

// sendFrame - writes are serialized, so concurrent senders never interleave frame bytes.
// A write that passed the Active check may still finish after Registry.Remove,
// but nothing is written once drop has set Closed under sendMu.
func (s *Session) sendFrame(frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.State() != StateActive {
		return ErrSessionClosed
	}
	if d, ok := s.conn.(deadliner); ok && s.broker.writeTimeout > 0 {
		d.SetWriteDeadline(time.Now().Add(s.broker.writeTimeout))
	}
	n, err := s.conn.Write(frame)
	s.broker.metrics.bytesSent.Add(float64(n))
	if err != nil {
		return &ConnectionError{Op: "write", Identity: s.identity, Err: err}
	}
	return nil
}

// serve - session goroutine: greets peer, then reads until failure.
func (s *Session) serve(ctx context.Context) {
	s.broker.joined(ctx, s)
	action, cause := s.receive(ctx)
	s.broker.drop(s, action, cause)
}

// receive - reads connection, decodes frames and routes messages.
func (s *Session) receive(ctx context.Context) (PartAction, error) {
	b := s.broker
	decoder := wire.NewDecoder(b.maxFrameSize)
	buf := make([]byte, b.readBufferSize)
	for {
		if d, ok := s.conn.(deadliner); ok && b.readTimeout > 0 {
			d.SetReadDeadline(time.Now().Add(b.readTimeout))
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			b.metrics.bytesReceived.Add(float64(n))
			decoder.Write(buf[:n])
			for {
				m, ok, derr := decoder.Next()
				if derr != nil {
					b.metrics.framingErrors.Inc()
					return PartActionFailed, derr
				}
				if !ok {
					break
				}
				b.metrics.messagesReceived.Inc()
				s.route(ctx, m)
				if s.State() != StateActive {
					return PartActionLeft, nil
				}
			}
		}
		if err == nil {
			continue
		}
		var netErr net.Error
		switch {
		case ctx.Err() != nil:
			return PartActionShutdown, nil
		case s.State() != StateActive:
			// connection was closed by broker
			return PartActionLeft, nil
		case errors.Is(err, io.EOF):
			return PartActionLeft, nil
		case errors.As(err, &netErr) && netErr.Timeout():
			return PartActionTimeout, &ConnectionError{Op: "read", Identity: s.identity, Err: err}
		default:
			return PartActionFailed, &ConnectionError{Op: "read", Identity: s.identity, Err: err}
		}
	}
}

// route - commands go to dispatcher, everything else is broadcast as-is with session identity as sender.
func (s *Session) route(ctx context.Context, m wire.Message) {
	if m.IsCommand() {
		s.broker.handleCommand(ctx, s, m.Payload)
		return
	}
	payload := m.Payload
	if s.broker.cleanPayloads {
		if payload = text.Clean(payload); payload == "" {
			return
		}
	}
	s.broker.chat(ctx, s, wire.Message{Sender: s.identity, Payload: payload})
}
