package session

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	mu         sync.Mutex
	game       GameSession
	lastActive time.Time
}

// Store holds the active sessions. The map has its own lock and every
// session has another, so one session's participant list only ever has a
// single writer.
type Store struct {
	mu              sync.RWMutex
	games           map[string]*entry
	maxParticipants int

	now  func() time.Time
	intn func(n int) int
}

func NewStore(maxParticipants int) *Store {
	return &Store{
		games:           make(map[string]*entry),
		maxParticipants: maxParticipants,
		now:             time.Now,
		intn:            rand.IntN,
	}
}

func (s *Store) CreateSession() GameSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	for s.games[id] != nil {
		id = uuid.NewString()
	}
	e := &entry{
		game:       GameSession{SessionID: id, Clients: []Participant{}},
		lastActive: s.now(),
	}
	s.games[id] = e
	return e.game.clone()
}

// JoinSession adds clientID to the session at a random grid cell with a
// random color. The heading stays unset until the first movement.
func (s *Store) JoinSession(sessionID, clientID string) (Participant, error) {
	e, ok := s.get(sessionID)
	if !ok {
		return Participant{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if i := e.game.find(clientID); i >= 0 {
		return e.game.Clients[i].clone(), ErrAlreadyJoined
	}
	if s.maxParticipants > 0 && len(e.game.Clients) >= s.maxParticipants {
		return Participant{}, ErrSessionFull
	}

	p := Participant{
		ClientID: clientID,
		Color:    s.randomColor(),
		X:        float64(s.intn(GridCols) * CellSize),
		Y:        float64(s.intn(GridRows) * CellSize),
	}
	e.game.Clients = append(e.game.Clients, p)
	e.lastActive = s.now()
	return p.clone(), nil
}

// UpdatePosition overwrites the position and heading of clientID and
// returns the updated session.
func (s *Store) UpdatePosition(sessionID, clientID string, x, y float64, xdir, ydir int) (GameSession, error) {
	e, ok := s.get(sessionID)
	if !ok {
		return GameSession{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.game.find(clientID)
	if i < 0 {
		return e.game.clone(), ErrParticipantNotFound
	}
	p := &e.game.Clients[i]
	p.X, p.Y = x, y
	p.XDirection, p.YDirection = heading(xdir), heading(ydir)
	e.lastActive = s.now()
	return e.game.clone(), nil
}

// Snapshot returns a copy safe to read without locks.
func (s *Store) Snapshot(sessionID string) (GameSession, bool) {
	e, ok := s.get(sessionID)
	if !ok {
		return GameSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.game.clone(), true
}

// RemoveClient drops clientID from every session it joined and returns the
// updated sessions.
func (s *Store) RemoveClient(clientID string) []GameSession {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.games))
	for _, e := range s.games {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var changed []GameSession
	for _, e := range entries {
		e.mu.Lock()
		if i := e.game.find(clientID); i >= 0 {
			e.game.Clients = append(e.game.Clients[:i], e.game.Clients[i+1:]...)
			e.lastActive = s.now()
			changed = append(changed, e.game.clone())
		}
		e.mu.Unlock()
	}
	return changed
}

// EvictIdle deletes sessions without activity for maxIdle and returns
// their ids. Sessions for which inUse reports true are kept; a nil inUse
// keeps nothing.
func (s *Store) EvictIdle(maxIdle time.Duration, inUse func(GameSession) bool) []string {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, e := range s.games {
		e.mu.Lock()
		idle := e.lastActive.Before(cutoff)
		if idle && inUse != nil && inUse(e.game.clone()) {
			idle = false
		}
		e.mu.Unlock()
		if idle {
			delete(s.games, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.games)
}

func (s *Store) get(sessionID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.games[sessionID]
	return e, ok
}

func (s *Store) randomColor() Color {
	return Color{
		R: uint8(s.intn(256)),
		G: uint8(s.intn(256)),
		B: uint8(s.intn(256)),
		A: float64(s.intn(101)) / 100,
	}
}
