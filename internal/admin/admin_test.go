package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wtask/chatcast/internal/chat"
	"github.com/wtask/chatcast/internal/chat/broker"
	"github.com/wtask/chatcast/internal/chat/wire"
)

func newTestAdmin(test *testing.T) (*chat.Server, *httptest.Server) {
	test.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	srv, err := chat.NewServer(
		chat.WithLogger(logger),
		chat.WithBrokerOptions(broker.WithMetrics(registry)),
	)
	if err != nil {
		test.Fatal("chat.NewServer: unexpected error", err)
	}
	ts := httptest.NewServer(NewRouter(srv, WithGatherer(registry), WithLogger(logger)))
	test.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, ts
}

func dialWS(test *testing.T, ts *httptest.Server) *websocket.Conn {
	test.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		test.Fatal("websocket dial error", err)
	}
	test.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(test *testing.T, ws *websocket.Conn) wire.Message {
	test.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, data, err := ws.ReadMessage()
	if err != nil {
		test.Fatal("websocket read error", err)
	}
	if kind != websocket.BinaryMessage {
		test.Error("binary message expected, got", kind)
	}
	m, n, err := wire.Decode(data, 0)
	if err != nil || n != len(data) {
		test.Fatal("message must carry exactly one frame", n, len(data), err)
	}
	return m
}

func TestRouter_Health(test *testing.T) {
	_, ts := newTestAdmin(test)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		test.Fatal("GET /healthz error", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		test.Error("unexpected health response", resp.StatusCode, string(body))
	}
}

func TestRouter_Gateway(test *testing.T) {
	_, ts := newTestAdmin(test)
	ws := dialWS(test, ts)
	if m := readFrame(test, ws); m.Payload != "User1 has Connected" {
		test.Error("unexpected connect notice", m)
	}

	frame, err := wire.Encode(wire.Message{Payload: "over websocket"}, 0)
	if err != nil {
		test.Fatal("wire.Encode: unexpected error", err)
	}
	// frame split across messages is still decoded
	if err := ws.WriteMessage(websocket.BinaryMessage, frame[:3]); err != nil {
		test.Fatal("websocket write error", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, frame[3:]); err != nil {
		test.Fatal("websocket write error", err)
	}
	m := readFrame(test, ws)
	if m.Payload != "over websocket" || m.Sender != wire.NewIdentity(1) {
		test.Error("unexpected echo", m)
	}
}

func TestRouter_Sessions(test *testing.T) {
	srv, ts := newTestAdmin(test)
	ws := dialWS(test, ts)
	readFrame(test, ws)
	if n := len(srv.Online()); n != 1 {
		test.Fatal("unexpected number of sessions", n)
	}

	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		test.Fatal("GET /sessions error", err)
	}
	defer resp.Body.Close()
	sessions := []SessionInfo{}
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		test.Fatal("can't decode sessions", err)
	}
	if len(sessions) != 1 {
		test.Fatal("unexpected sessions", sessions)
	}
	if s := sessions[0]; s.ID != 1 || s.Name != "User1" || s.State != "active" || s.Key == "" {
		test.Error("unexpected session info", s)
	}
}

func TestRouter_Metrics(test *testing.T) {
	_, ts := newTestAdmin(test)
	ws := dialWS(test, ts)
	readFrame(test, ws)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		test.Fatal("GET /metrics error", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "chatcast_sessions_active 1") {
		test.Error("active sessions gauge is not exposed:\n", string(body))
	}
}
