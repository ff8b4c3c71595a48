package handler

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"canvas-backend/internal/collab"
)

// CanvasWS owns the websocket read loop for collaboration connections. All
// room logic lives in the hub; this layer only decodes frames and dispatches.
type CanvasWS struct {
	hub          *collab.Hub
	writeTimeout time.Duration
}

func NewCanvasWS(hub *collab.Hub, writeTimeout time.Duration) *CanvasWS {
	return &CanvasWS{hub: hub, writeTimeout: writeTimeout}
}

// Handle runs until the connection closes. The deferred Leave covers every
// exit: explicit leave messages, read errors, and abrupt disconnects all
// converge on the same cleanup.
func (w *CanvasWS) Handle(c *websocket.Conn) {
	sess := collab.NewSession(c, w.writeTimeout)
	defer func() {
		w.hub.Leave(context.Background(), sess)
		c.Close()
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CanvasWS] read error: %v", err)
			}
			return
		}

		var msg collab.Envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("[CanvasWS] malformed frame: %v", err)
			continue
		}

		switch msg.Type {
		case collab.MessageJoin:
			if msg.CanvasID == "" {
				continue
			}
			if err := w.hub.Join(context.Background(), sess, msg.CanvasID, msg.Token); err != nil {
				// Join already sent the error payload and closed the conn.
				return
			}
		case collab.MessageSync:
			w.hub.Sync(sess, msg.Elements, msg.AppState)
		case collab.MessageAwareness:
			w.hub.Awareness(sess, msg.Cursor, msg.SelectedElementIDs)
		case collab.MessageLeave:
			w.hub.Leave(context.Background(), sess)
		default:
			log.Printf("[CanvasWS] unknown message type %q", msg.Type)
		}
	}
}
