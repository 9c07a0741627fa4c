// Package broker keeps chat sessions and routes messages between them.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wtask/chatcast/internal/chat/command"
	"github.com/wtask/chatcast/internal/chat/history"
	"github.com/wtask/chatcast/internal/chat/wire"
	"github.com/wtask/chatcast/pkg/background"
)

const (
	tracerName = "github.com/wtask/chatcast/internal/chat/broker"

	defaultReadBufferSize = 4096
)

// Broker - chat sessions keeper and message router.
type Broker struct {
	logger         *slog.Logger
	dispatcher     *command.Dispatcher
	maxFrameSize   int
	readBufferSize int
	readTimeout    time.Duration
	writeTimeout   time.Duration
	echoSender     bool
	cleanPayloads  bool
	history        *history.Ring[wire.Message]
	registerer     prometheus.Registerer
	tracer         trace.Tracer

	metrics   *metrics
	registry  *Registry
	observers *observers
	scope     *background.Scope
}

// New - builds Broker with needed options.
func New(options ...Option) (*Broker, error) {
	b := &Broker{
		logger:         slog.Default().With("component", "broker"),
		maxFrameSize:   wire.DefaultMaxFrameSize,
		readBufferSize: defaultReadBufferSize,
		echoSender:     true,
		tracer:         otel.Tracer(tracerName),
		registry:       NewRegistry(),
	}
	if err := setup(b, options...); err != nil {
		return nil, err
	}
	if b.registerer == nil {
		b.registerer = prometheus.NewRegistry()
	}
	b.metrics = newMetrics(b.registerer)
	b.observers = newObservers(b.metrics.eventsDropped.Inc)
	if b.dispatcher == nil {
		b.dispatcher = command.New(
			command.WithLogger(b.logger),
			command.WithLogHook(func(line string) {
				b.observers.publish(Event{Kind: EventLog, Text: line})
			}),
		)
	}
	b.scope, _ = background.NewScope(context.Background())
	return b, nil
}

// KeepConnection - registers connection as Active session with given identity
// and starts its receive loop in background.
func (b *Broker) KeepConnection(conn Conn, id wire.Identity) (*Session, error) {
	if b.scope.Context().Err() != nil {
		return nil, ErrUnderStopCondition
	}
	s := newSession(b, conn, id)
	if !b.registry.Add(s) {
		return nil, ErrIdentityTaken
	}
	b.metrics.sessionsTotal.Inc()
	b.metrics.sessionsActive.Inc()
	if !b.scope.Go(s.serve) {
		b.drop(s, PartActionShutdown, nil)
		return nil, ErrUnderStopCondition
	}
	return s, nil
}

// Quit - closes every session and waits until all session goroutines are done
// or ctx is expired. Broker does not accept connections after Quit.
func (b *Broker) Quit(ctx context.Context) error {
	b.scope.Cancel()
	for _, s := range b.registry.Snapshot() {
		b.drop(s, PartActionShutdown, nil)
	}
	err := b.scope.Wait(ctx)
	if err == nil {
		b.observers.closeAll()
	}
	return err
}

// Broadcast - sends message to all Active sessions. Returns number of successful deliveries.
// Delivery is sequential, so messages broadcast from one goroutine keep their order for every recipient.
func (b *Broker) Broadcast(m wire.Message) int {
	delivered, _ := b.broadcast(context.Background(), m, nil)
	return delivered
}

// Online - returns identities of Active sessions in order of connection.
func (b *Broker) Online() []wire.Identity {
	online := []wire.Identity{}
	b.registry.ForEach(func(s *Session) bool {
		online = append(online, s.identity)
		return true
	})
	return online
}

// Sessions - returns Active sessions in order of connection.
func (b *Broker) Sessions() []*Session {
	sessions := []*Session{}
	b.registry.ForEach(func(s *Session) bool {
		sessions = append(sessions, s)
		return true
	})
	return sessions
}

// Subscribe - returns channel of broker events and func to cancel subscription.
// Events are dropped for subscriber whose buffer is full.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	return b.observers.subscribe(buffer)
}

// Log - publishes log line for subscribers and writes it into logger.
func (b *Broker) Log(line string) {
	b.logEvent(line)
}

func (b *Broker) excluded(author *Session) *Session {
	if b.echoSender {
		return nil
	}
	return author
}

// broadcast - encodes m once and delivers frame to Active sessions except exclude.
// Error is returned only when m can not be encoded, nothing is delivered then.
func (b *Broker) broadcast(ctx context.Context, m wire.Message, exclude *Session) (int, error) {
	ctx, span := b.tracer.Start(ctx, "broadcast", trace.WithAttributes(
		attribute.Int64("chat.sender.id", int64(m.Sender.ID)),
	))
	defer span.End()

	frame, err := wire.Encode(m, wire.OutboundLimit(b.maxFrameSize))
	if err != nil {
		span.RecordError(err)
		b.logger.ErrorContext(ctx, "can't encode broadcast", "sender", m.Sender.ID, "error", err)
		b.observers.publish(Event{Kind: EventLog, Text: fmt.Sprintf("Broadcast of %s dropped: %v", m.Sender.Name, err)})
		return 0, err
	}
	b.metrics.broadcasts.Inc()

	delivered, failed := 0, 0
	b.registry.ForEach(func(s *Session) bool {
		if s == exclude {
			return true
		}
		err := s.sendFrame(frame)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSessionClosed):
			// left after traversal snapshot
		default:
			failed++
			b.lost(s, err)
		}
		return true
	})
	b.metrics.deliveries.Add(float64(delivered))
	b.metrics.deliveryFailures.Add(float64(failed))
	span.SetAttributes(
		attribute.Int("chat.broadcast.delivered", delivered),
		attribute.Int("chat.broadcast.failed", failed),
	)
	return delivered, nil
}

// lost - handles send failure: the session is removed and closed immediately.
func (b *Broker) lost(s *Session, err error) {
	connErr := &ConnectionError{}
	if !errors.As(err, &connErr) {
		return
	}
	b.logEvent(fmt.Sprintf("Lost connection with %s", s.identity.Name), "error", err)
	b.drop(s, PartActionFailed, err)
}

// joined - runs in session goroutine just before its receive loop.
func (b *Broker) joined(ctx context.Context, s *Session) {
	b.logEvent(fmt.Sprintf("%s has Connected as %s", s.conn.RemoteAddr(), s.identity.Name),
		"session", s.identity.ID, "key", s.key)
	b.observers.publish(Event{Kind: EventConnected, Identity: s.identity})

	if b.history != nil {
		for _, m := range b.history.Tail(b.history.Len()) {
			if err := s.Send(m); err != nil {
				b.lost(s, err)
				return
			}
		}
	}
	b.broadcast(ctx, wire.Message{Sender: s.identity, Payload: s.identity.Name + " has Connected"}, nil)
}

// chat - propagates chat message of session.
// Author is told when the message can not be broadcast.
func (b *Broker) chat(ctx context.Context, s *Session, m wire.Message) {
	if _, err := b.broadcast(ctx, m, b.excluded(s)); err != nil {
		reply := wire.Message{Sender: s.identity, Payload: fmt.Sprintf("Message Error: %v", err)}
		if err := s.Send(reply); err != nil {
			b.lost(s, err)
		}
		return
	}
	b.observers.publish(Event{Kind: EventMessage, Identity: s.identity, Message: m})
	if b.history != nil {
		b.history.Push(m)
	}
}

// handleCommand - runs dispatcher, command errors are contained within the session.
func (b *Broker) handleCommand(ctx context.Context, s *Session, payload string) {
	err := b.dispatcher.Dispatch(ctx, s, payload)
	status := "ok"
	var cerr *command.CommandError
	switch {
	case err == nil:
	case errors.As(err, &cerr) && err == error(cerr):
		status = "malformed"
		b.logger.InfoContext(ctx, "command rejected", "session", s.identity.ID, "error", err)
	default:
		status = "failed"
		b.lost(s, err)
	}
	b.metrics.commands.WithLabelValues(commandLabel(payload), status).Inc()
}

// drop - removes session from registry, closes its connection and notifies others.
// Safe to call many times and from any goroutine, the first call wins.
func (b *Broker) drop(s *Session, action PartAction, cause error) {
	s.closeOnce.Do(func() {
		registered := b.registry.Remove(s)
		s.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing))
		if err := s.conn.Close(); err != nil && b.logger.Enabled(context.Background(), slog.LevelDebug) {
			b.logger.Debug("close connection", "session", s.identity.ID, "error", err)
		}
		// wait for in-flight write, it is released by closed connection
		s.sendMu.Lock()
		s.state.Store(int32(StateClosed))
		s.sendMu.Unlock()
		close(s.done)

		if !registered {
			return
		}
		b.metrics.sessionsActive.Dec()
		b.metrics.disconnects.WithLabelValues(action.String()).Inc()
		args := []any{"session", s.identity.ID, "key", s.key, "action", action.String()}
		if cause != nil {
			args = append(args, "cause", cause)
		}
		b.logger.Info("session closed", args...)
		b.observers.publish(Event{Kind: EventDisconnected, Identity: s.identity, Action: action})

		if action != PartActionShutdown {
			b.broadcast(context.Background(), wire.Message{Sender: s.identity, Payload: s.identity.Name + " has Disconnected"}, nil)
		}
	})
}

func (b *Broker) logEvent(line string, args ...any) {
	b.logger.Info(line, args...)
	b.observers.publish(Event{Kind: EventLog, Text: line})
}
