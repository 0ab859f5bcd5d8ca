package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"snakeserver/internal/config"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS games (
			session_id VARCHAR(64) NOT NULL PRIMARY KEY,
			clients    TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id         BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			user_id    VARCHAR(128) NOT NULL,
			name       VARCHAR(255) NOT NULL,
			password   VARCHAR(255) NOT NULL,
			score      DOUBLE NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			INDEX idx_users_user_id (user_id)
		)`,
	},
	upsertGame: `INSERT INTO games (session_id, clients, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE clients = VALUES(clients), updated_at = VALUES(updated_at)`,
}

func OpenMySQL(ctx context.Context, cfg *config.ConfigStruct) (*SQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.MySQLUser,
		cfg.MySQLPassword,
		cfg.MySQLHost,
		cfg.MySQLPort,
		cfg.MySQLDatabase,
	)

	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}

	s, err := newSQLStore(ctx, conn, mysqlDialect)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	log.Info().Str("host", cfg.MySQLHost).Str("database", cfg.MySQLDatabase).Msg("connected to MySQL")
	return s, nil
}
