package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"snakeserver/internal/persist"
	"snakeserver/internal/session"
)

var ErrGameNotFound = errors.New("game not stored")

type dialect struct {
	name       string
	schema     []string
	upsertGame string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS games (
			session_id TEXT PRIMARY KEY,
			clients    TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL,
			password   TEXT NOT NULL,
			score      REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_user_id ON users(user_id)`,
	},
	upsertGame: `INSERT INTO games (session_id, clients, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET clients = excluded.clients, updated_at = excluded.updated_at`,
}

// SQLStore keeps games and users in relational tables. The participant list
// of a game is stored as a JSON document.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ persist.Sink = (*SQLStore)(nil)

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	conn.SetMaxOpenConns(1)

	s, err := newSQLStore(ctx, conn, sqliteDialect)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("opened SQLite store")
	return s, nil
}

func newSQLStore(ctx context.Context, conn *sql.DB, d dialect) (*SQLStore, error) {
	for _, stmt := range d.schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s migrate: %w", d.name, err)
		}
	}
	return &SQLStore{db: conn, dialect: d, now: time.Now}, nil
}

func (s *SQLStore) InsertGame(ctx context.Context, g session.GameSession) error {
	clients, err := encodeClients(g.Clients)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO games (session_id, clients, updated_at) VALUES (?, ?, ?)`,
		g.SessionID, clients, s.now().UnixMilli())
	return err
}

func (s *SQLStore) UpsertGame(ctx context.Context, g session.GameSession) error {
	clients, err := encodeClients(g.Clients)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.upsertGame, g.SessionID, clients, s.now().UnixMilli())
	return err
}

func (s *SQLStore) InsertUser(ctx context.Context, u persist.UserRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, name, password, score, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.UserID, u.Name, u.Password, u.Score, s.now().UnixMilli())
	return err
}

// LoadGame reads a stored game back.
func (s *SQLStore) LoadGame(ctx context.Context, sessionID string) (session.GameSession, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT clients FROM games WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return session.GameSession{}, ErrGameNotFound
	}
	if err != nil {
		return session.GameSession{}, err
	}

	g := session.GameSession{SessionID: sessionID}
	if err := json.Unmarshal([]byte(raw), &g.Clients); err != nil {
		return session.GameSession{}, fmt.Errorf("decode clients of %s: %w", sessionID, err)
	}
	return g, nil
}

// UsersByID lists every stored registration for userID, oldest first.
func (s *SQLStore) UsersByID(ctx context.Context, userID string) ([]persist.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, password, user_id, score FROM users WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []persist.UserRecord
	for rows.Next() {
		var u persist.UserRecord
		if err := rows.Scan(&u.Name, &u.Password, &u.UserID, &u.Score); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close(context.Context) error {
	return s.db.Close()
}

func encodeClients(clients []session.Participant) (string, error) {
	if clients == nil {
		clients = []session.Participant{}
	}
	data, err := json.Marshal(clients)
	if err != nil {
		return "", fmt.Errorf("encode clients: %w", err)
	}
	return string(data), nil
}
