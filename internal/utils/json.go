// internal/utils/json.go
package utils

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"snakeserver/internal/session"
	"snakeserver/internal/types"
)

// Inbound methods.
const (
	MethodConnect  = "connect"
	MethodCreate   = "create"
	MethodJoin     = "join"
	MethodPlay     = "play"
	MethodRegister = "register"
)

// Outbound methods.
const (
	MethodUpdate = "update"
	MethodError  = "error"
)

var ErrMissingMethod = errors.New("missing method")

// IncomingMessage is one inbound frame: a flat JSON object discriminated by
// its method. Raw keeps the whole frame for the method's own decoding.
type IncomingMessage struct {
	Method string          `json:"method"`
	Raw    json.RawMessage `json:"-"`
}

type OutgoingMessage struct {
	Method string               `json:"method"`
	Game   *session.GameSession `json:"game,omitempty"`
}

type ErrorMessage struct {
	Method  string `json:"method"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ParseIncomingMessage decodes the method of one inbound frame.
// Input: the raw frame
// Output: the message with Raw set, or ErrMissingMethod / the JSON error.
func ParseIncomingMessage(data []byte) (*IncomingMessage, error) {
	var msg IncomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Method == "" {
		return nil, ErrMissingMethod
	}
	msg.Raw = data
	return &msg, nil
}

// GameMessage builds the frame carrying a session snapshot.
func GameMessage(method string, g session.GameSession) OutgoingMessage {
	return OutgoingMessage{Method: method, Game: &g}
}

// SendJSON queues data for c. It never blocks.
// Input: the client and any JSON-encodable value
// Output: false if encoding failed or the client's queue is closed or full.
func SendJSON(c *types.Client, data any) bool {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("marshal outbound frame")
		return false
	}
	return c.Enqueue(jsonData)
}

// SendError queues an error frame for c.
// Input: the client, the error code and a human readable message
// Output: none; a full queue drops the frame.
func SendError(c *types.Client, errorType, message string) {
	SendJSON(c, ErrorMessage{
		Method:  MethodError,
		Error:   errorType,
		Message: message,
	})
}
