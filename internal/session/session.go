package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrDuplicateClientID   = errors.New("client id already connected")
	ErrServerFull          = errors.New("server full")
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrAlreadyJoined       = errors.New("client already joined session")
	ErrSessionFull         = errors.New("session full")
)

// Grid the participants start on.
const (
	CellSize = 25
	GridCols = 15
	GridRows = 20
)

// Color is an RGBA color. It travels as "rgba(r, g, b, a)", the format the
// browser client paints with.
type Color struct {
	R, G, B uint8
	A       float64
}

func (c Color) String() string {
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", c.R, c.G, c.B, strconv.FormatFloat(c.A, 'f', 2, 64))
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseColor parses the "rgba(r, g, b, a)" form.
func ParseColor(s string) (Color, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(s), "rgba(")
	if ok {
		body, ok = strings.CutSuffix(body, ")")
	}
	if !ok {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	parts := strings.Split(body, ",")
	if len(parts) != 4 {
		return Color{}, fmt.Errorf("invalid color %q: want 4 components", s)
	}

	var rgb [3]uint8
	for i := range rgb {
		v, err := strconv.ParseUint(strings.TrimSpace(parts[i]), 10, 8)
		if err != nil {
			return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
		}
		rgb[i] = uint8(v)
	}
	a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err != nil || a < 0 || a > 1 {
		return Color{}, fmt.Errorf("invalid color %q: alpha out of range", s)
	}
	return Color{R: rgb[0], G: rgb[1], B: rgb[2], A: a}, nil
}

// Participant is one client's state inside one session.
type Participant struct {
	ClientID   string  `json:"clientId"`
	Color      Color   `json:"color"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	XDirection *int    `json:"xdirection,omitempty"`
	YDirection *int    `json:"ydirection,omitempty"`
}

// GameSession is the wire and storage form of a session.
type GameSession struct {
	SessionID string        `json:"sessionId"`
	Clients   []Participant `json:"clients"`
}

// ClientIDs lists participants in join order.
func (g GameSession) ClientIDs() []string {
	ids := make([]string, len(g.Clients))
	for i, p := range g.Clients {
		ids[i] = p.ClientID
	}
	return ids
}

func (g GameSession) find(clientID string) int {
	for i := range g.Clients {
		if g.Clients[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

func (g GameSession) clone() GameSession {
	out := GameSession{SessionID: g.SessionID, Clients: make([]Participant, len(g.Clients))}
	for i, p := range g.Clients {
		out.Clients[i] = p.clone()
	}
	return out
}

func (p Participant) clone() Participant {
	if p.XDirection != nil {
		v := *p.XDirection
		p.XDirection = &v
	}
	if p.YDirection != nil {
		v := *p.YDirection
		p.YDirection = &v
	}
	return p
}

// heading folds any direction component onto -1, 0 or 1.
func heading(v int) *int {
	switch {
	case v > 0:
		v = 1
	case v < 0:
		v = -1
	}
	return &v
}
