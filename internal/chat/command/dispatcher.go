// Package command interprets chat payloads starting with the command sigil.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wtask/chatcast/internal/chat/wire"
)

const (
	// Disconnect - asks server to forget the session and close its connection.
	Disconnect = "!disconnect"
	// Ping - asks server to reply with its receive timestamp.
	Ping = "!ping"

	tracerName = "github.com/wtask/chatcast/internal/chat/command"
)

// Session - is a command context, the session which sent the command.
type Session interface {
	Identity() wire.Identity
	Send(wire.Message) error
	// Disconnect removes session from registry and closes its connection.
	Disconnect(reason string)
}

// Dispatcher - state-free command router.
type Dispatcher struct {
	now    func() time.Time
	logger *slog.Logger
	onLog  func(string)
	tracer trace.Tracer
}

// Option - configures Dispatcher.
type Option func(d *Dispatcher)

// WithClock - overwrites time source used for ping replies.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger - attaches structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithLogHook - attaches func which receives human readable log lines, e.g. "User1 has Disconnected".
func WithLogHook(hook func(string)) Option {
	return func(d *Dispatcher) {
		d.onLog = hook
	}
}

// WithTracerProvider - overwrites global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) {
		if tp != nil {
			d.tracer = tp.Tracer(tracerName)
		}
	}
}

// New - builds dispatcher.
func New(options ...Option) *Dispatcher {
	d := &Dispatcher{
		now:    time.Now,
		logger: slog.Default().With("component", "command"),
		tracer: otel.Tracer(tracerName),
	}
	for _, option := range options {
		if option != nil {
			option(d)
		}
	}
	return d
}

// Name - returns command token of payload (first whitespace-delimited field).
func Name(payload string) string {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Dispatch - executes command from payload in context of session s.
// Returns *CommandError for malformed commands after the error reply was sent;
// any other error means the reply could not be delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, s Session, payload string) (err error) {
	fields := strings.Fields(payload)
	name := ""
	if len(fields) > 0 {
		name = fields[0]
	}
	id := s.Identity()

	ctx, span := d.tracer.Start(ctx, "command "+spanName(name),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("chat.session.id", int64(id.ID)),
			attribute.String("chat.session.name", id.Name),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !strings.HasPrefix(payload, string(wire.CommandSigil)) {
		return &CommandError{Command: name, Payload: payload, Reason: "not a command"}
	}

	switch name {
	case Disconnect:
		d.log(ctx, fmt.Sprintf("%s has Disconnected", id.Name), "session", id.ID)
		s.Disconnect("disconnect command")
		return nil
	case Ping:
		return d.ping(ctx, s, payload, fields[1:])
	default:
		return d.reply(s, fmt.Sprintf("Unknown Command '%s'", payload))
	}
}

func (d *Dispatcher) ping(ctx context.Context, s Session, payload string, args []string) error {
	received := d.now()
	if len(args) != 1 {
		return d.fail(ctx, s, &CommandError{
			Command: Ping,
			Payload: payload,
			Reason:  fmt.Sprintf("expected 1 timestamp argument, got %d", len(args)),
		})
	}
	if err := parseTimestamp(args[0]); err != nil {
		return d.fail(ctx, s, &CommandError{
			Command: Ping,
			Payload: payload,
			Reason:  "invalid timestamp",
			Err:     err,
		})
	}
	return d.reply(s, strings.Join([]string{Ping, args[0], FormatMillis(received)}, " "))
}

func (d *Dispatcher) fail(ctx context.Context, s Session, cerr *CommandError) error {
	d.logger.WarnContext(ctx, "malformed command", "session", s.Identity().ID, "error", cerr)
	if d.onLog != nil {
		d.onLog(fmt.Sprintf("%s sent malformed command: %v", s.Identity().Name, cerr))
	}
	if err := d.reply(s, cerr.reply()); err != nil {
		return errors.Join(cerr, err)
	}
	return cerr
}

var errNotFinite = errors.New("timestamp is not a finite decimal number")

// parseTimestamp - accepts finite decimal numbers only, hex floats, NaN and Inf are rejected.
func parseTimestamp(arg string) error {
	if strings.ContainsAny(arg, "xX") {
		return errNotFinite
	}
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errNotFinite
	}
	return nil
}

func (d *Dispatcher) reply(s Session, payload string) error {
	if err := s.Send(wire.Message{Sender: s.Identity(), Payload: payload}); err != nil {
		return fmt.Errorf("command: reply to %s: %w", s.Identity(), err)
	}
	return nil
}

func (d *Dispatcher) log(ctx context.Context, line string, args ...any) {
	d.logger.InfoContext(ctx, line, args...)
	if d.onLog != nil {
		d.onLog(line)
	}
}

// FormatMillis - formats t as milliseconds since Unix epoch with fractional part.
func FormatMillis(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixMicro())/1000, 'f', 3, 64)
}

func spanName(name string) string {
	switch name {
	case Disconnect, Ping:
		return name
	default:
		return "unknown"
	}
}
