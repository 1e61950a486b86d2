package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler streams events as JSON text frames. It accepts the same
// filters as SSEHandler. Frames sent by the client are read and discarded;
// a close frame or read error ends the stream.
func WebSocketHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ParseFilter(r.URL.Query())

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !filter.Match(evt) {
					continue
				}
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := wsutil.WriteServerText(conn, data); err != nil {
					slog.Debug("WebSocket write failed", "remote", r.RemoteAddr, "error", err)
					return
				}
			}
		}
	}
}
