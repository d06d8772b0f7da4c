package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The monitor sits on a private repeater LAN; dashboards are served
	// from anywhere on it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and streams lifecycle notifications. The
// first frame is a full snapshot so a client that reconnects after missing
// notifications is immediately consistent; the live feed follows. A client
// that cannot keep up is dropped by the hub's bounded buffer, not by
// blocking the pipeline.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("API: websocket upgrade: %v", err)
		return
	}

	sub := s.hub.Subscribe(s.wsBuffer)
	defer s.hub.Unsubscribe(sub)
	defer conn.Close()

	snapshot, err := json.Marshal(map[string]any{
		"type":     "snapshot",
		"snapshot": s.engine.Snapshot(),
	})
	if err != nil {
		log.Printf("API: marshal snapshot: %v", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		return
	}

	// Reader goroutine: the client sends nothing we care about, but the read
	// loop surfaces closes and answers control frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case n, ok := <-sub.C:
			if !ok {
				return // hub closed, monitor shutting down
			}
			payload, err := json.Marshal(n)
			if err != nil {
				log.Printf("API: marshal notification: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
