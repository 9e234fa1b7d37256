package server

import (
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"agentsim/internal/engine"
	"agentsim/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Session state lives in-process; the stream carries no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerStream exposes the live history feed as a websocket. On connect the
// client receives the current history snapshot, then every new entry as it is
// appended. Subscribing before replaying the snapshot means an entry can show
// up twice at the seam; clients key on call_id and entry type.
func registerStream(r chi.Router, basePath string, e *engine.Engine) {
	r.Get(path.Join(basePath, "session/history/stream"), func(w http.ResponseWriter, req *http.Request) {
		feed, cancel := e.Bus.Subscribe()
		entries, err := e.History()
		if err != nil {
			cancel()
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			cancel()
			return
		}
		go streamWriter(conn, entries, feed, cancel)
		go streamReader(conn)
	})
}

func streamWriter(conn *websocket.Conn, snapshot []session.Entry, feed <-chan session.Entry, cancel func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()
	for _, entry := range snapshot {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(entry); err != nil {
			return
		}
	}
	for {
		select {
		case entry, ok := <-feed:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReader drains the connection so pongs and the client close frame are
// processed.
func streamReader(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
