package websocket

import (
	"github.com/rs/zerolog/log"

	"snakeserver/internal/types"
)

// processMessages handles the frames of one connection in arrival order.
// It runs the teardown once the read pump has closed Inbox, so no frame of
// this connection can be handled after it has been unregistered.
func (s *Server) processMessages(c *types.Client) {
	defer s.wg.Done()

	for msg := range c.Inbox {
		if c.Closed() {
			continue
		}
		s.handler.Dispatch(c, msg)
	}

	s.handler.Disconnect(c)
	s.removeClient(c)
	s.registry.Leave()
	s.stats.ActiveConnections.Add(-1)

	log.Debug().Str("remote", c.RemoteAddr()).Str("clientId", c.ID()).Msg("transport closed")
}
