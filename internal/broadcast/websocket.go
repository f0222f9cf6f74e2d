package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/banshee-data/trackscan/internal/monitoring"
)

// writeTimeout bounds a single frame write to a live subscriber.
const writeTimeout = 5 * time.Second

var wslog = monitoring.Tagged("ws")

// WebSocketHandler upgrades the request and streams topic to the client,
// starting with a "connected" greeting. Messages from the client are ignored.
func (h *Hub) WebSocketHandler(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			wslog("accept on %s failed: %v", topic, err)
			return
		}
		defer conn.CloseNow()

		id, c := h.Subscribe(topic)
		defer h.Unsubscribe(id)
		wslog("client %s connected to %s", id, topic)

		// CloseRead discards client frames and cancels ctx when the peer goes
		// away.
		ctx := conn.CloseRead(r.Context())

		hello, err := json.Marshal(greeting{
			Type:      "connected",
			Channel:   topic,
			Timestamp: FormatTimestamp(time.Now()),
			Message:   greetingMessages[topic],
		})
		if err != nil {
			wslog("failed to encode greeting: %v", err)
			return
		}
		if err := writeFrame(ctx, conn, hello); err != nil {
			return
		}

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					conn.Close(websocket.StatusGoingAway, "server shutting down")
					return
				}
				if err := writeFrame(ctx, conn, payload); err != nil {
					wslog("client %s on %s dropped: %v", id, topic, err)
					return
				}
			case <-ctx.Done():
				wslog("client %s disconnected from %s", id, topic)
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
