// Package persist mirrors in-memory sessions and user registrations to
// durable storage in the background. Writes are best effort: a failure is
// logged and counted, it never reaches the client and never rolls back the
// in-memory state.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"snakeserver/internal/auth"
	"snakeserver/internal/session"
	"snakeserver/internal/stats"
)

var (
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
	ErrQueueFull              = errors.New("persistence queue full")
)

// UserRecord is a registered player.
type UserRecord struct {
	Name     string  `json:"name"`
	Password string  `json:"password"`
	UserID   string  `json:"userId"`
	Score    float64 `json:"score"`
}

// Sink is the storage the mirror writes to.
type Sink interface {
	InsertGame(ctx context.Context, g session.GameSession) error
	UpsertGame(ctx context.Context, g session.GameSession) error
	InsertUser(ctx context.Context, u UserRecord) error
	Close(ctx context.Context) error
}

type op int

const (
	opInsertGame op = iota
	opUpsertGame
	opInsertUser
)

func (o op) String() string {
	switch o {
	case opInsertGame:
		return "insert_game"
	case opUpsertGame:
		return "upsert_game"
	case opInsertUser:
		return "insert_user"
	}
	return "unknown"
}

type job struct {
	op   op
	game session.GameSession
	user UserRecord
}

// Mirror queues writes on a bounded channel drained by a single worker, so
// writes for one session land in the order they were issued.
type Mirror struct {
	sink    Sink
	jobs    chan job
	timeout time.Duration
	stats   *stats.Counters
	hash    func(string) (string, error)
}

func NewMirror(sink Sink, queueSize int, timeout time.Duration, counters *stats.Counters) *Mirror {
	return &Mirror{
		sink:    sink,
		jobs:    make(chan job, queueSize),
		timeout: timeout,
		stats:   counters,
		hash:    auth.HashPassword,
	}
}

// InsertGame records a newly created session.
func (m *Mirror) InsertGame(g session.GameSession) {
	m.enqueue(job{op: opInsertGame, game: g})
}

// UpsertGame replaces the stored participant list of a session.
func (m *Mirror) UpsertGame(g session.GameSession) {
	m.enqueue(job{op: opUpsertGame, game: g})
}

// InsertUser records a registration. The password is hashed by the worker.
func (m *Mirror) InsertUser(u UserRecord) {
	m.enqueue(job{op: opInsertUser, user: u})
}

func (m *Mirror) enqueue(j job) {
	select {
	case m.jobs <- j:
	default:
		m.stats.PersistDropped.Add(1)
		log.Warn().Err(ErrQueueFull).Str("op", j.op.String()).Str("sessionId", j.game.SessionID).
			Str("userId", j.user.UserID).Msg("dropping persistence write")
	}
}

// Run applies queued writes until ctx is done, then flushes what is already
// queued and closes the sink.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case j := <-m.jobs:
			m.apply(j)
		case <-ctx.Done():
			m.flush()
			closeCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			return m.sink.Close(closeCtx)
		}
	}
}

func (m *Mirror) flush() {
	for {
		select {
		case j := <-m.jobs:
			m.apply(j)
		default:
			return
		}
	}
}

func (m *Mirror) apply(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var err error
	switch j.op {
	case opInsertGame:
		err = m.sink.InsertGame(ctx, j.game)
	case opUpsertGame:
		err = m.sink.UpsertGame(ctx, j.game)
	case opInsertUser:
		u := j.user
		if u.Password != "" {
			u.Password, err = m.hash(u.Password)
		}
		if err == nil {
			err = m.sink.InsertUser(ctx, u)
		}
	}

	if err != nil {
		m.stats.PersistFailures.Add(1)
		log.Error().Err(fmt.Errorf("%w: %v", ErrPersistenceWriteFailed, err)).
			Str("op", j.op.String()).Str("sessionId", j.game.SessionID).Str("userId", j.user.UserID).
			Msg("mirror write")
		return
	}
	m.stats.PersistWrites.Add(1)
	switch j.op {
	case opInsertUser:
		log.Debug().Str("userId", j.user.UserID).Msg("user registered")
	default:
		log.Debug().Str("op", j.op.String()).Str("sessionId", j.game.SessionID).
			Int("clients", len(j.game.Clients)).Msg("game saved")
	}
}

// Discard is a Sink that keeps nothing.
type Discard struct{}

func (Discard) InsertGame(context.Context, session.GameSession) error { return nil }
func (Discard) UpsertGame(context.Context, session.GameSession) error { return nil }
func (Discard) InsertUser(context.Context, UserRecord) error          { return nil }
func (Discard) Close(context.Context) error                           { return nil }
