package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
)

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r.Context(), nil
}

// StreamEvents writes every link decision to the websocket as a JSON text
// message until the client goes away or the source closes.
func StreamEvents(src EventSource, w http.ResponseWriter, r *http.Request) {
	c, ctx, err := accept(w, r)
	if err != nil {
		log.WithError(err).Error("Failed to accept client")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "closing")

	// Clients only listen; CloseRead handles their control frames.
	ctx = c.CloseRead(ctx)

	events, unsub := src.Subscribe()
	defer unsub()

	log.WithField("remote", r.RemoteAddr).Debug("Event stream client connected")
	defer log.WithField("remote", r.RemoteAddr).Debug("Event stream client disconnected")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).Error("Failed to encode link event")
				continue
			}
			if err := c.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
	}
}
