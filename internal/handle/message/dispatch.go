package message

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"snakeserver/internal/session"
	"snakeserver/internal/types"
	"snakeserver/internal/utils"
)

// Dispatch routes one inbound frame to its method handler.
func (h *Handler) Dispatch(c *types.Client, msg []byte) {
	h.stats.MessagesIn.Add(1)

	incoming, err := utils.ParseIncomingMessage(msg)
	if err != nil {
		log.Debug().Err(err).Str("remote", c.RemoteAddr()).Msg("invalid frame")
		utils.SendError(c, "invalid_json", "Malformed JSON")
		return
	}

	switch incoming.Method {
	case utils.MethodConnect:
		h.HandleConnect(c, incoming)

	case utils.MethodCreate:
		h.HandleCreate(c, incoming)

	case utils.MethodJoin:
		h.HandleJoin(c, incoming)

	case utils.MethodPlay:
		h.HandlePlay(c, incoming)

	case utils.MethodRegister:
		h.HandleRegister(c, incoming)

	default:
		utils.SendError(c, "unknown_method", "Unknown method "+incoming.Method)
	}
}

// Disconnect releases everything c holds once its transport is gone. The
// remaining participants of each session it was in get an update.
//
// Sessions are purged while c still owns its id, so a reconnect under the
// same id is refused until the purge is done and never loses a fresh join.
func (h *Handler) Disconnect(c *types.Client) {
	id := c.ID()
	if id == "" {
		return
	}
	if owner, ok := h.registry.Lookup(id); !ok || owner != c {
		return
	}

	for _, g := range h.store.RemoveClient(id) {
		h.broadcast(utils.MethodUpdate, g)
		h.mirror.UpsertGame(g)
	}
	h.registry.UnregisterClient(c)
	log.Info().Str("clientId", id).Str("remote", c.RemoteAddr()).Msg("client disconnected")
}

// broadcast sends one frame to every participant of g. Recipients without a
// live connection are skipped; a recipient that cannot keep up is dropped.
func (h *Handler) broadcast(method string, g session.GameSession) {
	data, err := json.Marshal(utils.GameMessage(method, g))
	if err != nil {
		log.Error().Err(err).Str("sessionId", g.SessionID).Msg("marshal broadcast")
		return
	}

	for _, id := range g.ClientIDs() {
		rc, ok := h.registry.Lookup(id)
		if !ok {
			h.stats.FramesDropped.Add(1)
			log.Debug().Str("clientId", id).Str("sessionId", g.SessionID).Msg("recipient not connected")
			continue
		}
		if !rc.Enqueue(data) {
			h.stats.FramesDropped.Add(1)
			if !rc.Closed() {
				log.Warn().Str("clientId", id).Str("sessionId", g.SessionID).Msg("outbound queue full, dropping client")
				rc.Close(types.CloseSlowConsumer, "slow_consumer")
			}
			continue
		}
		h.stats.FramesSent.Add(1)
	}
}
