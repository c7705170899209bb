// Package statusfeed pushes engine status snapshots to connected clients.
//
// A companion display (phone app, caregiver dashboard) connects to /ws and
// receives one JSON message per processed frame. GET /status returns the
// current snapshot and GET /alerts the recent entries of the alert journal
// when one is configured.
package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/navassist/internal/engine"
	"github.com/MrWong99/navassist/internal/journal"
	"github.com/MrWong99/navassist/pkg/types"
)

const (
	// clientBuffer is the number of messages queued per client before the
	// client is considered too slow and disconnected.
	clientBuffer = 16

	writeTimeout = 5 * time.Second
)

// Source provides the current engine status.
type Source interface {
	Status() engine.Status
}

// AlertLister returns recent journal entries. *journal.Store satisfies it.
type AlertLister interface {
	Recent(ctx context.Context, minLevel types.RiskLevel, limit int) ([]journal.Entry, error)
}

// message is the envelope sent over the websocket.
type message struct {
	Type   string        `json:"type"`
	Status engine.Status `json:"status"`
}

type client struct {
	send chan []byte
}

// Option configures a [Hub].
type Option func(*Hub)

// WithAlerts enables GET /alerts backed by l.
func WithAlerts(l AlertLister) Option {
	return func(h *Hub) { h.alerts = l }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// Hub fans status snapshots out to websocket clients. It is safe for
// concurrent use.
type Hub struct {
	source Source
	alerts AlertLister
	log    *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

// New returns a Hub reporting source.
func New(source Source, opts ...Option) *Hub {
	h := &Hub{
		source:  source,
		log:     slog.Default(),
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Publish sends st to every connected client. Clients whose buffer is full
// are disconnected. Publish never blocks.
func (h *Hub) Publish(st engine.Status) {
	data, err := json.Marshal(message{Type: "status", Status: st})
	if err != nil {
		h.log.Error("statusfeed: marshal status", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			h.log.Warn("statusfeed: dropping slow client")
		}
	}
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Register adds the feed routes to mux.
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.ServeWS)
	mux.HandleFunc("GET /status", h.ServeStatus)
	mux.HandleFunc("GET /alerts", h.ServeAlerts)
}

// ServeStatus writes the current status as JSON.
func (h *Hub) ServeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Status())
}

// ServeAlerts lists recent journal entries. Query parameters: level (minimum
// level name, default INFO) and limit (default 50).
func (h *Hub) ServeAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		http.Error(w, "alert journal not configured", http.StatusNotFound)
		return
	}
	minLevel := types.RiskInfo
	if s := r.URL.Query().Get("level"); s != "" {
		l, ok := parseLevel(s)
		if !ok {
			http.Error(w, "unknown level "+strconv.Quote(s), http.StatusBadRequest)
			return
		}
		minLevel = l
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be in [1, 1000]", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.alerts.Recent(r.Context(), minLevel, limit)
	if err != nil {
		h.log.Error("statusfeed: list alerts", "err", err)
		http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ServeWS upgrades the connection and streams status messages until the
// client disconnects or falls behind.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("statusfeed: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// The feed is write-only; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx := conn.CloseRead(r.Context())

	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	if h.last != nil {
		c.send <- h.last
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer h.remove(c)

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := write(ctx, conn, data); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.log.Debug("statusfeed: write failed", "err", err)
				}
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func parseLevel(s string) (types.RiskLevel, bool) {
	s = strings.ToUpper(s)
	for l := types.RiskSafe; l <= types.RiskCritical; l++ {
		if l.String() == s {
			return l, true
		}
	}
	return 0, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
