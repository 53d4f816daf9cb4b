package rpcserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range []string{"http://127.0.0.1", "http://localhost", "https://127.0.0.1", "https://localhost"} {
			if strings.HasPrefix(origin, allowed) {
				return true
			}
		}
		return false
	},
}

// handleWSStats pushes a GetProxyStats-equivalent snapshot every 5s to
// connected operator dashboards (§4.7 ambient expansion).
func (s *Server) handleWSStats(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.statsSnapshot())
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("ws/stats write failed", zap.Error(err))
				return
			}
		}
	}
}
