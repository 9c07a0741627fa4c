// Package admin serves operator HTTP endpoints next to the chat listener:
// health check, online sessions, prometheus metrics and WebSocket gateway.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wtask/chatcast/internal/chat/broker"
)

// Chat - part of chat server used by admin endpoints.
type Chat interface {
	Sessions() []*broker.Session
	ServeConn(conn broker.Conn) (*broker.Session, error)
}

type router struct {
	chat     Chat
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// Option - configures admin router.
type Option func(r *router)

// WithGatherer - source of /metrics, prometheus.DefaultGatherer if not set.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(r *router) {
		if g != nil {
			r.gatherer = g
		}
	}
}

// WithLogger - attaches structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCheckOrigin - overwrites origin check of WebSocket upgrade, same-origin only by default.
func WithCheckOrigin(check func(*http.Request) bool) Option {
	return func(r *router) {
		r.upgrader.CheckOrigin = check
	}
}

// NewRouter - builds admin HTTP handler.
func NewRouter(chat Chat, options ...Option) http.Handler {
	rt := &router{
		chat:     chat,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default().With("component", "admin"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, option := range options {
		if option != nil {
			option(rt)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.health)
	r.Get("/sessions", rt.sessions)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", rt.gateway)
	return r
}

func (rt *router) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// SessionInfo - item of /sessions response.
type SessionInfo struct {
	ID     uint64    `json:"id"`
	Name   string    `json:"name"`
	Key    string    `json:"key"`
	Remote string    `json:"remote"`
	Since  time.Time `json:"since"`
	State  string    `json:"state"`
}

func (rt *router) sessions(w http.ResponseWriter, r *http.Request) {
	sessions := rt.chat.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:     s.Identity().ID,
			Name:   s.Identity().Name,
			Key:    s.Key().String(),
			Remote: s.RemoteAddr().String(),
			Since:  s.Since(),
			State:  s.State().String(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		rt.logger.Error("can't encode sessions", "request", middleware.GetReqID(r.Context()), "error", err)
	}
}

// gateway - upgrades request and hands WebSocket to the chat as a regular session.
func (rt *router) gateway(w http.ResponseWriter, r *http.Request) {
	ws, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has replied with HTTP error already
		rt.logger.Warn("websocket upgrade failure", "remote", r.RemoteAddr, "error", err)
		return
	}
	session, err := rt.chat.ServeConn(newWSConn(ws))
	if err != nil {
		rt.logger.Warn("websocket session rejected", "remote", r.RemoteAddr, "error", err)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		ws.Close()
		return
	}
	rt.logger.Info("websocket session", "session", session.Identity().ID, "remote", r.RemoteAddr)
}
