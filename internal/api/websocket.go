package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/egomotion/internal/httputil"
)

const (
	socketBufferSize = 1024
	writeWait        = 2 * time.Second
	pongWait         = 30 * time.Second
	pingPeriod       = pongWait * 9 / 10
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

// streamEstimates pushes every broadcast estimate to the client as a JSON
// text frame. A client that falls behind misses estimates; the stream is
// live, not a log.
func (s *Server) streamEstimates(w http.ResponseWriter, r *http.Request) {
	if s.broadcaster == nil {
		httputil.ServiceUnavailable(w, "live stream not available")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Printf("[api] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, estimates := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	log.Printf("[api] websocket client %s joined from %s", id, r.RemoteAddr)

	// The read side only services control frames and notices the close.
	done := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			log.Printf("[api] websocket client %s left", id)
			return
		case <-r.Context().Done():
			return
		case e, ok := <-estimates:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Printf("[api] websocket client %s write failed: %v", id, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
