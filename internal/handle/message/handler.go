package message

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"snakeserver/internal/persist"
	"snakeserver/internal/session"
	"snakeserver/internal/stats"
	"snakeserver/internal/types"
	"snakeserver/internal/utils"
)

type ConnectRequest struct {
	ClientID string `json:"clientId"`
}

type CreateRequest struct {
	ClientID string `json:"clientId"`
}

// JoinRequest names the session by sessionId; older clients send gameId.
type JoinRequest struct {
	ClientID  string `json:"clientId"`
	SessionID string `json:"sessionId"`
	GameID    string `json:"gameId"`
}

type PlayRequest struct {
	ClientID   string  `json:"clientId"`
	SessionID  string  `json:"sessionId"`
	GameID     string  `json:"gameId"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	XDirection int     `json:"xdirection"`
	YDirection int     `json:"ydirection"`
}

type RegisterRequest struct {
	Name     string  `json:"name"`
	Password string  `json:"password"`
	UserID   string  `json:"userId"`
	Score    float64 `json:"score"`
}

func sessionID(sessionID, gameID string) string {
	if sessionID != "" {
		return sessionID
	}
	return gameID
}

// Mirror receives the write-behind copies of every mutation.
type Mirror interface {
	InsertGame(g session.GameSession)
	UpsertGame(g session.GameSession)
	InsertUser(u persist.UserRecord)
}

// Handler runs the protocol for every connection. Callers must serialize
// the messages of one connection; different connections may be handled
// concurrently.
type Handler struct {
	registry *session.Registry
	store    *session.Store
	mirror   Mirror
	stats    *stats.Counters
}

func NewHandler(registry *session.Registry, store *session.Store, mirror Mirror, counters *stats.Counters) *Handler {
	return &Handler{
		registry: registry,
		store:    store,
		mirror:   mirror,
		stats:    counters,
	}
}

func (h *Handler) HandleConnect(c *types.Client, incoming *utils.IncomingMessage) {
	var req ConnectRequest
	if err := json.Unmarshal(incoming.Raw, &req); err != nil {
		utils.SendError(c, "invalid_payload", "Invalid connect format")
		return
	}
	if req.ClientID == "" {
		utils.SendError(c, "missing_fields", "clientId missing")
		return
	}

	switch current := c.ID(); {
	case current == req.ClientID:
		return
	case current != "":
		utils.SendError(c, "already_connected", "Connection already bound to "+current)
		return
	}

	err := h.registry.Register(req.ClientID, c)
	switch {
	case errors.Is(err, session.ErrDuplicateClientID):
		log.Warn().Str("clientId", req.ClientID).Str("remote", c.RemoteAddr()).
			Msg("client id already connected, closing new connection")
		c.Close(types.CloseDuplicateClientID, "duplicate_client_id")
		return
	case errors.Is(err, session.ErrServerFull):
		// Only reachable when the transport skipped Admit.
		log.Warn().Str("clientId", req.ClientID).Int("max", h.registry.Max()).Msg("registry full")
		c.Close(types.CloseServerFull, "server_full")
		return
	case err != nil:
		log.Error().Err(err).Str("clientId", req.ClientID).Msg("register client")
		utils.SendError(c, "server_error", "Could not register client")
		return
	}

	c.SetID(req.ClientID)
	log.Info().Str("clientId", req.ClientID).Str("remote", c.RemoteAddr()).Msg("client connected")
}

func (h *Handler) HandleCreate(c *types.Client, incoming *utils.IncomingMessage) {
	var req CreateRequest
	if err := json.Unmarshal(incoming.Raw, &req); err != nil {
		utils.SendError(c, "invalid_payload", "Invalid create format")
		return
	}
	clientID, ok := requireConnected(c, req.ClientID)
	if !ok {
		return
	}

	g := h.store.CreateSession()
	h.stats.SessionsCreated.Add(1)
	utils.SendJSON(c, utils.GameMessage(utils.MethodCreate, g))
	h.mirror.InsertGame(g)

	log.Info().Str("clientId", clientID).Str("sessionId", g.SessionID).Msg("session created")
}

func (h *Handler) HandleJoin(c *types.Client, incoming *utils.IncomingMessage) {
	var req JoinRequest
	if err := json.Unmarshal(incoming.Raw, &req); err != nil {
		utils.SendError(c, "invalid_payload", "Invalid join format")
		return
	}
	clientID, ok := requireConnected(c, req.ClientID)
	if !ok {
		return
	}
	sid := sessionID(req.SessionID, req.GameID)
	if sid == "" {
		utils.SendError(c, "missing_fields", "sessionId missing")
		return
	}

	if _, err := h.store.JoinSession(sid, clientID); err != nil {
		sendStoreError(c, err)
		return
	}
	g, ok := h.store.Snapshot(sid)
	if !ok {
		sendStoreError(c, session.ErrSessionNotFound)
		return
	}

	h.broadcast(utils.MethodJoin, g)
	h.mirror.UpsertGame(g)

	log.Info().Str("clientId", clientID).Str("sessionId", sid).Int("clients", len(g.Clients)).Msg("client joined")
}

func (h *Handler) HandlePlay(c *types.Client, incoming *utils.IncomingMessage) {
	var req PlayRequest
	if err := json.Unmarshal(incoming.Raw, &req); err != nil {
		utils.SendError(c, "invalid_payload", "Invalid play format")
		return
	}
	clientID, ok := requireConnected(c, req.ClientID)
	if !ok {
		return
	}
	sid := sessionID(req.SessionID, req.GameID)
	if sid == "" {
		utils.SendError(c, "missing_fields", "sessionId missing")
		return
	}

	g, err := h.store.UpdatePosition(sid, clientID, req.X, req.Y, req.XDirection, req.YDirection)
	if err != nil {
		sendStoreError(c, err)
		return
	}

	h.broadcast(utils.MethodUpdate, g)
	h.mirror.UpsertGame(g)
}

func (h *Handler) HandleRegister(c *types.Client, incoming *utils.IncomingMessage) {
	var req RegisterRequest
	if err := json.Unmarshal(incoming.Raw, &req); err != nil {
		utils.SendError(c, "invalid_payload", "Invalid register format")
		return
	}
	if req.UserID == "" {
		utils.SendError(c, "missing_fields", "userId is required")
		return
	}

	h.mirror.InsertUser(persist.UserRecord{
		Name:     req.Name,
		Password: req.Password,
		UserID:   req.UserID,
		Score:    req.Score,
	})
	log.Info().Str("userId", req.UserID).Msg("user registration queued")
}

// requireConnected resolves the client id a message acts for. The id in the
// message may be omitted but must match the connection's own id.
func requireConnected(c *types.Client, claimed string) (string, bool) {
	id := c.ID()
	if id == "" {
		utils.SendError(c, "not_connected", "Send connect first")
		return "", false
	}
	if claimed != "" && claimed != id {
		utils.SendError(c, "not_connected", "clientId "+claimed+" is not connected on this socket")
		return "", false
	}
	return id, true
}

func sendStoreError(c *types.Client, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		utils.SendError(c, "session_not_found", "Session not found")
	case errors.Is(err, session.ErrParticipantNotFound):
		utils.SendError(c, "participant_not_found", "Client has not joined this session")
	case errors.Is(err, session.ErrAlreadyJoined):
		utils.SendError(c, "already_joined", "Client already joined this session")
	case errors.Is(err, session.ErrSessionFull):
		utils.SendError(c, "session_full", "Session is full")
	default:
		log.Error().Err(err).Str("clientId", c.ID()).Msg("session store")
		utils.SendError(c, "server_error", "Unexpected error")
	}
}
