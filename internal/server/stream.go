package server

import (
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"herald/internal/logging"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamMessage struct {
	Type  string         `json:"type"`
	Entry *logging.Entry `json:"entry,omitempty"`
	Error string         `json:"error,omitempty"`
}

// registerStream serves live log entries over a websocket. ?backlog=N replays
// the last N entries first; ?category= filters by log category.
func registerStream(r chi.Router, basePath string, sink *logging.Sink, log *slog.Logger) {
	log = logging.For(log, logging.System)
	r.Get(path.Join(basePath, "stream"), func(w http.ResponseWriter, req *http.Request) {
		if err := requireScope(req.Context(), ScopeRead); err != nil {
			respondStatusError(w, err)
			return
		}
		if sink == nil {
			respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "unavailable", "log stream not configured", nil))
			return
		}
		category := req.URL.Query().Get("category")
		backlog, _ := strconv.Atoi(req.URL.Query().Get("backlog"))

		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		entries, cancel := sink.Subscribe(256)
		defer cancel()

		// drain client frames so close and pong control messages are processed
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		send := func(msg streamMessage) bool {
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("websocket write failed", "error", err)
				}
				return false
			}
			return true
		}
		match := func(e logging.Entry) bool {
			return category == "" || strings.EqualFold(e.Category, category)
		}

		if backlog > 0 {
			for _, e := range sink.Recent(backlog) {
				if !match(e) {
					continue
				}
				e := e
				if !send(streamMessage{Type: "log", Entry: &e}) {
					return
				}
			}
		}
		if !send(streamMessage{Type: "ready"}) {
			return
		}

		ping := time.NewTicker(streamPingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-gone:
				return
			case <-req.Context().Done():
				return
			case e, ok := <-entries:
				if !ok {
					send(streamMessage{Type: "closed"})
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent stopped"),
						time.Now().Add(streamWriteWait))
					return
				}
				if !match(e) {
					continue
				}
				if !send(streamMessage{Type: "log", Entry: &e}) {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			}
		}
	})
}
