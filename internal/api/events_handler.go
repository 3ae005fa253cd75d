package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quantledger/backtester/internal/events"
)

const (
	eventsWriteWait = 10 * time.Second
	eventsPingEvery = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleRunEvents upgrades the connection to a websocket and relays every
// published portfolio event whose run_id matches :id. It is a thin filter
// over internal/events' single NATS subject, not a report emitter: it
// streams the same PortfolioEvents the core already produces.
func (s *Server) handleRunEvents(c *gin.Context) {
	runID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("events: websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := make(chan events.Payload, 64)
	sub, err := s.publisher.Subscribe(func(p events.Payload) {
		if p.RunID != runID {
			return
		}
		select {
		case send <- p:
		default:
			log.Warn().Str("run_id", runID).Msg("events: client too slow, dropping event")
		}
	})
	if err != nil {
		conn.WriteJSON(gin.H{"error": "event stream unavailable", "details": err.Error()})
		return
	}
	defer sub.Unsubscribe()

	ticker := time.NewTicker(eventsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case p := <-send:
			body, err := json.Marshal(p)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
