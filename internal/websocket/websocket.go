package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"snakeserver/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	sendBuffer  = 64
	inboxBuffer = 32
)

// ServeWS admits the connection against the capacity limit, upgrades it
// and starts its pumps. Over capacity the upgrade is refused with 403.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Admit(); err != nil {
		s.stats.ConnectionsRejected.Add(1)
		log.Warn().Str("remote", r.RemoteAddr).Int("max", s.registry.Max()).Msg("rejecting connection: server full")
		http.Error(w, "Server Full", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.registry.Leave()
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade")
		return
	}

	client := types.NewClient(conn, sendBuffer, inboxBuffer)
	s.addClient(client)
	s.stats.ConnectionsAccepted.Add(1)
	s.stats.ActiveConnections.Add(1)

	log.Debug().Str("remote", client.RemoteAddr()).Msg("transport connected")

	s.wg.Add(1)
	go s.readPump(client)
	go s.writePump(client)
	go s.processMessages(client)
}

// readPump owns Inbox and closes it when the connection ends.
func (s *Server) readPump(c *types.Client) {
	defer func() {
		close(c.Inbox)
		c.Close(websocket.CloseNormalClosure, "")
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) && !c.Closed() {
				log.Debug().Err(err).Str("remote", c.RemoteAddr()).Msg("read")
			}
			return
		}
		select {
		case c.Inbox <- msg:
		case <-c.Done():
			return
		}
	}
}

func (s *Server) writePump(c *types.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("clientId", c.ID()).Msg("write")
				c.Close(websocket.CloseGoingAway, "write failed")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}

		case <-c.Done():
			return
		}
	}
}
