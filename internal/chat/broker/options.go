package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/wtask/chatcast/internal/chat/command"
	"github.com/wtask/chatcast/internal/chat/history"
	"github.com/wtask/chatcast/internal/chat/wire"
)

// Option - configures Broker.
type Option func(b *Broker) error

func setup(b *Broker, options ...Option) error {
	if b == nil {
		return nil
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		if err := option(b); err != nil {
			return err
		}
	}
	return nil
}

// WithLogger - attaches structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) error {
		if logger == nil {
			return errors.New("broker.WithLogger: logger is nil")
		}
		b.logger = logger
		return nil
	}
}

// WithDispatcher - overwrites default command dispatcher.
func WithDispatcher(d *command.Dispatcher) Option {
	return func(b *Broker) error {
		if d == nil {
			return errors.New("broker.WithDispatcher: dispatcher is nil")
		}
		b.dispatcher = d
		return nil
	}
}

// WithMaxFrameSize - overwrites limit of frame body length accepted from and sent to sessions.
func WithMaxFrameSize(size int) Option {
	return func(b *Broker) error {
		if size <= 0 {
			return fmt.Errorf("broker.WithMaxFrameSize: invalid size (%d)", size)
		}
		b.maxFrameSize = size
		return nil
	}
}

// WithReadBufferSize - overwrites size of per-session read buffer.
func WithReadBufferSize(size int) Option {
	return func(b *Broker) error {
		if size <= 0 {
			return fmt.Errorf("broker.WithReadBufferSize: invalid size (%d)", size)
		}
		b.readBufferSize = size
		return nil
	}
}

// WithReadTimeout - sets idle period before session is disconnected.
// Zero value (default) disables read deadlines.
func WithReadTimeout(timeout time.Duration) Option {
	return func(b *Broker) error {
		if timeout < 0 {
			return fmt.Errorf("broker.WithReadTimeout: invalid timeout (%v)", timeout)
		}
		b.readTimeout = timeout
		return nil
	}
}

// WithWriteTimeout - sets write deadline for every frame.
// Zero value (default) disables write deadlines.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(b *Broker) error {
		if timeout < 0 {
			return fmt.Errorf("broker.WithWriteTimeout: invalid timeout (%v)", timeout)
		}
		b.writeTimeout = timeout
		return nil
	}
}

// WithSenderEcho - controls whether chat message is delivered back to its author.
// Default is true: every message is sent to all sessions including the sender.
func WithSenderEcho(echo bool) Option {
	return func(b *Broker) error {
		b.echoSender = echo
		return nil
	}
}

// WithPayloadCleaning - folds line breaks and tabs, strips control runes of chat payloads
// and drops payloads which become empty. Default is false: payloads are broadcast as-is.
func WithPayloadCleaning(clean bool) Option {
	return func(b *Broker) error {
		b.cleanPayloads = clean
		return nil
	}
}

// WithHistoryGreets - keeps last n chat messages and pushes them to every newly connected session.
func WithHistoryGreets(n int) Option {
	return func(b *Broker) error {
		if n < 0 {
			return fmt.Errorf("broker.WithHistoryGreets: invalid value (%d)", n)
		}
		if n == 0 {
			b.history = nil
			return nil
		}
		ring, err := history.NewRing[wire.Message](n)
		if err != nil {
			return fmt.Errorf("broker.WithHistoryGreets: %w", err)
		}
		b.history = ring
		return nil
	}
}

// WithMetrics - registers broker metrics in given registerer
// instead of private registry.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(b *Broker) error {
		if registerer == nil {
			return errors.New("broker.WithMetrics: registerer is nil")
		}
		b.registerer = registerer
		return nil
	}
}

// WithTracerProvider - overwrites global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Broker) error {
		if tp == nil {
			return errors.New("broker.WithTracerProvider: provider is nil")
		}
		b.tracer = tp.Tracer(tracerName)
		return nil
	}
}
