package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wtask/chatcast/internal/chat/broker"
	"github.com/wtask/chatcast/internal/chat/client"
	"github.com/wtask/chatcast/internal/chat/wire"
)

const testTimeout = 3 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(test *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	test.Cleanup(cancel)
	return ctx
}

// startServer - serves loopback listener, returned channel receives Serve result.
func startServer(test *testing.T, options ...Option) (*Server, <-chan error) {
	test.Helper()
	s, err := NewServer(append([]Option{
		WithLogger(quietLogger()),
		WithBrokerOptions(broker.WithMetrics(prometheus.NewRegistry())),
	}, options...)...)
	if err != nil {
		test.Fatal("chat.NewServer: unexpected error", err)
	}
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		test.Fatal("net.Listen: unexpected error", err)
	}
	served := make(chan error, 1)
	go func() {
		served <- s.Serve(listener)
	}()
	test.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, served
}

// listening - waits until server starts listening and returns its address.
func listening(test *testing.T, s *Server) string {
	test.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		if addr := s.Addr(); addr != nil {
			return addr.String()
		}
		if time.Now().After(deadline) {
			test.Fatal("server is not listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(test *testing.T, s *Server) *client.Client {
	test.Helper()
	c, err := client.Dial(testContext(test), listening(test, s))
	if err != nil {
		test.Fatal("client.Dial: unexpected error", err)
	}
	test.Cleanup(func() { c.Close() })
	return c
}

// receiveUntil - skips messages until expected payload is received.
func receiveUntil(test *testing.T, c *client.Client, payload string) wire.Message {
	test.Helper()
	ctx := testContext(test)
	for {
		m, err := c.Receive(ctx)
		if err != nil {
			test.Fatalf("%q is not received: %v", payload, err)
		}
		if m.Payload == payload {
			return m
		}
	}
}

func waitOnline(test *testing.T, s *Server, n int) []wire.Identity {
	test.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		online := s.Online()
		if len(online) == n {
			return online
		}
		if time.Now().After(deadline) {
			test.Fatal("unexpected number of online sessions", len(online), "expected", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_UniqueIdentities(test *testing.T) {
	s, _ := startServer(test)
	addr := listening(test, s)
	ctx := testContext(test)
	const n = 20
	clients := make(chan *client.Client, n)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := client.Dial(ctx, addr)
			if err != nil {
				test.Error("client.Dial: unexpected error", err)
				return
			}
			clients <- c
		}()
	}
	wg.Wait()
	close(clients)
	defer func() {
		for c := range clients {
			c.Close()
		}
	}()

	seen := map[uint64]bool{}
	for _, id := range waitOnline(test, s, n) {
		if seen[id.ID] {
			test.Error("duplicate identity", id)
		}
		seen[id.ID] = true
		if id != wire.NewIdentity(id.ID) {
			test.Error("unexpected identity name", id)
		}
		if id.ID < 1 || id.ID > n {
			test.Error("identity is out of range", id)
		}
	}
}

func TestServer_Chat(test *testing.T) {
	s, _ := startServer(test)
	c1 := dial(test, s)
	receiveUntil(test, c1, "User1 has Connected")
	c2 := dial(test, s)
	receiveUntil(test, c2, "User2 has Connected")
	receiveUntil(test, c1, "User2 has Connected")

	if err := c1.Send("hello"); err != nil {
		test.Fatal("Send: unexpected error", err)
	}
	for _, c := range []*client.Client{c1, c2} {
		m := receiveUntil(test, c, "hello")
		if m.Sender != wire.NewIdentity(1) {
			test.Error("unexpected sender", m.Sender)
		}
	}

	if n := s.Broadcast("maintenance\n"); n != 2 {
		test.Error("Broadcast: unexpected number of deliveries", n)
	}
	for _, c := range []*client.Client{c1, c2} {
		m := receiveUntil(test, c, "maintenance\n")
		if m.Sender != ServerIdentity {
			test.Error("unexpected sender", m.Sender)
		}
	}

	if n := s.Broadcast(""); n != 0 {
		test.Error("Broadcast: empty text is sent", n)
	}

	c1.Close()
	receiveUntil(test, c2, "User1 has Disconnected")
	waitOnline(test, s, 1)
}

func TestServer_Ping(test *testing.T) {
	s, _ := startServer(test)
	c := dial(test, s)
	receiveUntil(test, c, "User1 has Connected")

	pong, err := c.Ping(testContext(test))
	if err != nil {
		test.Fatal("Ping: unexpected error", err)
	}
	if pong.RoundTrip() < 0 {
		test.Error("negative round trip", pong.RoundTrip())
	}
	// server timestamp has microsecond precision
	if pong.ServerTime.Before(pong.Sent.Add(-time.Millisecond)) {
		test.Error("server time is before sent time", pong.ServerTime, pong.Sent)
	}
}

func TestServer_UnknownCommand(test *testing.T) {
	s, _ := startServer(test)
	c1 := dial(test, s)
	receiveUntil(test, c1, "User1 has Connected")
	c2 := dial(test, s)
	receiveUntil(test, c2, "User2 has Connected")

	c1.Send("!dance now")
	receiveUntil(test, c1, "Unknown Command '!dance now'")
	s.Broadcast("mark")
	if m := receiveUntil(test, c2, "mark"); m.Sender != ServerIdentity {
		test.Error("unexpected sender", m.Sender)
	}
	if n := len(s.Online()); n != 2 {
		test.Error("unknown command affected sessions", n)
	}
}

func TestServer_Shutdown(test *testing.T) {
	s, served := startServer(test)
	c := dial(test, s)
	receiveUntil(test, c, "User1 has Connected")

	if err := s.Shutdown(testContext(test)); err != nil {
		test.Fatal("Shutdown: unexpected error", err)
	}
	receiveUntil(test, c, DefaultShutdownNotice)
	if _, err := c.Receive(testContext(test)); err == nil {
		test.Error("connection is not closed after shutdown")
	}

	select {
	case err := <-served:
		if err != nil {
			test.Error("Serve: unexpected error", err)
		}
	case <-time.After(testTimeout):
		test.Fatal("Serve is not stopped")
	}

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	if _, err := s.ServeConn(remote); !errors.Is(err, ErrServerClosed) {
		test.Error("ErrServerClosed expected, got", err)
	}
	if err := s.ListenAndServe("127.0.0.1:0"); !errors.Is(err, ErrServerClosed) {
		test.Error("ErrServerClosed expected, got", err)
	}
	if err := s.Shutdown(testContext(test)); err != nil {
		test.Error("repeated Shutdown: unexpected error", err)
	}
}

// brokenListener - fails on every accept.
type brokenListener struct{}

func (brokenListener) Accept() (net.Conn, error) { return nil, errors.New("too many open files") }
func (brokenListener) Close() error              { return nil }
func (brokenListener) Addr() net.Addr            { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }

func TestServer_AcceptFailure(test *testing.T) {
	s, err := NewServer(WithLogger(quietLogger()))
	if err != nil {
		test.Fatal("chat.NewServer: unexpected error", err)
	}
	defer s.Shutdown(context.Background())
	err = s.Serve(brokenListener{})
	connErr := &broker.ConnectionError{}
	if !errors.As(err, &connErr) || connErr.Op != "accept" {
		test.Error("accept ConnectionError expected, got", err)
	}
}

func TestNewLogger(test *testing.T) {
	cases := []struct {
		format, level string
		fail          bool
	}{
		{"text", "info", false},
		{"json", "debug", false},
		{"", "warn", false},
		{"xml", "info", true},
		{"text", "loud", true},
	}
	for _, c := range cases {
		_, err := NewLogger(io.Discard, c.format, c.level)
		if (err != nil) != c.fail {
			test.Error("NewLogger", c.format, c.level, "unexpected error", err)
		}
	}
}
