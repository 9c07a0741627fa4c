// Package chat provides TCP broadcast chat server built on top of broker.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/wtask/chatcast/internal/chat/broker"
	"github.com/wtask/chatcast/internal/chat/wire"
)

// ErrServerClosed - returns by Serve, ListenAndServe and ServeConn after Shutdown call.
var ErrServerClosed = errors.New("chat.Server: closed")

// DefaultShutdownNotice - broadcast to every session just before shutdown.
const DefaultShutdownNotice = "Bye, chat server is stopping now..."

// Server - represents chat server over any net.Listener implementation.
type Server struct {
	id             uuid.UUID
	logger         *slog.Logger
	brokerOptions  []broker.Option
	shutdownNotice string

	broker     *broker.Broker
	identities identityCounter
	closed     atomic.Bool

	mu        sync.Mutex
	listeners []net.Listener
}

// Option - configures Server.
type Option func(s *Server) error

// WithLogger - attaches structured logger, broker logs with the same logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return errors.New("chat.WithLogger: logger is nil")
		}
		s.logger = logger
		return nil
	}
}

// WithBrokerOptions - passes options to underlying broker.
func WithBrokerOptions(options ...broker.Option) Option {
	return func(s *Server) error {
		s.brokerOptions = append(s.brokerOptions, options...)
		return nil
	}
}

// WithShutdownNotice - overwrites text broadcast before shutdown, empty text disables notice.
func WithShutdownNotice(notice string) Option {
	return func(s *Server) error {
		s.shutdownNotice = notice
		return nil
	}
}

// NewServer - creates new chat server which ready to serve several network listeners.
func NewServer(options ...Option) (*Server, error) {
	s := &Server{
		id:             uuid.New(),
		logger:         slog.Default(),
		shutdownNotice: DefaultShutdownNotice,
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("server", s.id)
	b, err := broker.New(append(
		[]broker.Option{broker.WithLogger(s.logger.With("component", "broker"))},
		s.brokerOptions...,
	)...)
	if err != nil {
		return nil, fmt.Errorf("chat.NewServer: can't build broker: %w", err)
	}
	s.broker = b
	return s, nil
}

// ID - returns random server instance id.
func (s *Server) ID() uuid.UUID {
	return s.id
}

// ListenAndServe - listens TCP address and serves it until Shutdown or accept failure.
func (s *Server) ListenAndServe(address string) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return &broker.ConnectionError{Op: "listen", Err: err}
	}
	return s.Serve(listener)
}

// Serve - accepts connections of listener and hands them to broker.
// One accept failure stops the loop and is returned as *broker.ConnectionError.
// Returns nil when loop is stopped by Shutdown. The listener is closed on return.
func (s *Server) Serve(listener net.Listener) error {
	if listener == nil {
		return errors.New("chat.Server: listener is nil")
	}
	if !s.track(listener) {
		listener.Close()
		return ErrServerClosed
	}
	defer s.untrack(listener)

	s.logger.Info("listening", "address", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			s.logger.Error("accept failure", "address", listener.Addr().String(), "error", err)
			return &broker.ConnectionError{Op: "accept", Err: err}
		}
		if _, err := s.ServeConn(conn); err != nil {
			conn.Close()
			if errors.Is(err, ErrServerClosed) {
				return nil
			}
			s.logger.Error("can't keep connection", "remote", conn.RemoteAddr().String(), "error", err)
		}
	}
}

// ServeConn - assigns next identity to already accepted connection and starts its session.
// Caller still owns conn if error is returned.
func (s *Server) ServeConn(conn broker.Conn) (*broker.Session, error) {
	if s.closed.Load() {
		return nil, ErrServerClosed
	}
	session, err := s.broker.KeepConnection(conn, s.identities.next())
	if errors.Is(err, broker.ErrUnderStopCondition) {
		return nil, ErrServerClosed
	}
	return session, err
}

// Shutdown - closes listeners, says goodbye to sessions, closes them and waits
// for session goroutines until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	for _, listener := range s.listeners {
		listener.Close()
	}
	s.listeners = nil
	s.mu.Unlock()

	if s.shutdownNotice != "" {
		s.Broadcast(s.shutdownNotice)
	}
	if err := s.broker.Quit(ctx); err != nil {
		return fmt.Errorf("chat.Server: shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Broadcast - sends operator text as-is to every session on behalf of ServerIdentity.
// Returns number of sessions received the message, empty text is not sent.
func (s *Server) Broadcast(payload string) int {
	if payload == "" {
		return 0
	}
	s.broker.Log("Server: " + payload)
	return s.broker.Broadcast(wire.Message{Sender: ServerIdentity, Payload: payload})
}

// Online - returns identities of connected sessions in order of connection.
func (s *Server) Online() []wire.Identity {
	return s.broker.Online()
}

// Sessions - returns connected sessions in order of connection.
func (s *Server) Sessions() []*broker.Session {
	return s.broker.Sessions()
}

// Subscribe - returns channel of chat events, see broker.Event.
func (s *Server) Subscribe(buffer int) (<-chan broker.Event, func()) {
	return s.broker.Subscribe(buffer)
}

// Addr - returns address of the first served listener or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

func (s *Server) track(listener net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Shutdown closes tracked listeners under the same lock
	if s.closed.Load() {
		return false
	}
	s.listeners = append(s.listeners, listener)
	return true
}

func (s *Server) untrack(listener net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listener.Close()
	for i, l := range s.listeners {
		if l == listener {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}
