package server

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsWriteTimeout bounds each event write so one stuck client cannot pin
// the handler goroutine.
const wsWriteTimeout = 5 * time.Second

// handleEventsWS streams the event bus to a websocket client. The client
// subscribes on connect and is dropped on the first failed write.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.cfg.DevMode,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch, unsubscribe := s.cfg.Events.Subscribe()
	defer unsubscribe()

	s.log.Debug().Msg("Event stream client connected")

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(r.Context(), wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				s.log.Debug().Err(err).Msg("Event stream client dropped")
				return
			}
		}
	}
}
