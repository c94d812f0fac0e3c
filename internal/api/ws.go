package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devicehub-server/devicehub-server/internal/models"
	"github.com/devicehub-server/devicehub-server/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients authenticate via the token query parameter, so
	// origin checking adds nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// HandleEventStream streams the session's live events over a
// WebSocket. The initial filter comes from query parameters (?target=
// and ?events= as a comma list); the client may replace it at any time
// by sending a JSON filter object on the socket.
func (s *RESTServer) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.liveSessionFromRequest(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sub := sess.Subscribe(filterFromQuery(r))
	defer sess.Unsubscribe(sub)
	defer conn.Close()

	log.Debug().
		Str("accountID", sess.AccountID()).
		Str("subscription", sub.ID.String()).
		Msg("Event stream opened")

	// Reader: filter updates and close detection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var filter session.Filter
			if err := conn.ReadJSON(&filter); err != nil {
				return
			}
			sess.UpdateFilter(sub, filter)
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-sess.Done():
			return
		}
	}
}

// filterFromQuery builds the initial subscription filter from the
// request query string.
func filterFromQuery(r *http.Request) session.Filter {
	f := session.Filter{TargetID: r.URL.Query().Get("target")}
	if raw := r.URL.Query().Get("events"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Types = append(f.Types, models.EventType(part))
			}
		}
	}
	return f
}
