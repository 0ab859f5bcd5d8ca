package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

type ConfigStruct struct {
	MySQLHost     string
	MySQLPort     int
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	MongoURI string
	MongoDB  string

	SQLitePath  string
	StoreDriver string

	WSHost string
	WSPort int

	MaxUsers           int
	PersistQueue       int
	PersistTimeout     time.Duration
	SessionIdleTimeout time.Duration
	ReapInterval       time.Duration

	LogLevel  string
	LogFormat string
}

const (
	DriverMongo  = "mongo"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
	DriverNone   = "none"
)

// Flags returns the command line flags. Each one falls back to the matching
// environment variable, so a .env file loaded beforehand still applies.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: "", Usage: "WebSocket bind host", Sources: cli.EnvVars("WS_HOST")},
		&cli.IntFlag{Name: "port", Value: 8081, Usage: "WebSocket bind port", Sources: cli.EnvVars("WS_PORT")},
		&cli.IntFlag{Name: "max-users", Value: 4, Usage: "maximum concurrent clients", Sources: cli.EnvVars("MAX_USERS")},

		&cli.StringFlag{Name: "store", Value: DriverMongo, Usage: "persistence driver: mongo, mysql, sqlite or none", Sources: cli.EnvVars("STORE_DRIVER")},
		&cli.StringFlag{Name: "mongo-uri", Value: "mongodb://localhost:27017", Sources: cli.EnvVars("MONGO_URI")},
		&cli.StringFlag{Name: "mongo-db", Value: "snake", Sources: cli.EnvVars("MONGO_DB")},
		&cli.StringFlag{Name: "mysql-host", Value: "localhost", Sources: cli.EnvVars("MYSQL_HOST")},
		&cli.IntFlag{Name: "mysql-port", Value: 3306, Sources: cli.EnvVars("MYSQL_PORT")},
		&cli.StringFlag{Name: "mysql-user", Sources: cli.EnvVars("MYSQL_USER")},
		&cli.StringFlag{Name: "mysql-password", Sources: cli.EnvVars("MYSQL_PASSWORD")},
		&cli.StringFlag{Name: "mysql-database", Value: "snake", Sources: cli.EnvVars("MYSQL_DATABASE")},
		&cli.StringFlag{Name: "sqlite-path", Value: "data/snake.db", Sources: cli.EnvVars("SQLITE_PATH")},

		&cli.IntFlag{Name: "persist-queue", Value: 256, Usage: "pending persistence writes before new ones are dropped", Sources: cli.EnvVars("PERSIST_QUEUE")},
		&cli.DurationFlag{Name: "persist-timeout", Value: 5 * time.Second, Usage: "timeout of a single persistence write", Sources: cli.EnvVars("PERSIST_TIMEOUT")},
		&cli.DurationFlag{Name: "session-idle-timeout", Value: 30 * time.Minute, Usage: "evict sessions idle this long (0 disables)", Sources: cli.EnvVars("SESSION_IDLE_TIMEOUT")},
		&cli.DurationFlag{Name: "reap-interval", Value: time.Minute, Sources: cli.EnvVars("REAP_INTERVAL")},

		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, error", Sources: cli.EnvVars("LOG_LEVEL")},
		&cli.StringFlag{Name: "log-format", Value: "console", Usage: "console or json", Sources: cli.EnvVars("LOG_FORMAT")},
	}
}

// FromCommand builds the configuration from parsed flags.
func FromCommand(cmd *cli.Command) *ConfigStruct {
	return &ConfigStruct{
		MySQLHost:     cmd.String("mysql-host"),
		MySQLPort:     int(cmd.Int("mysql-port")),
		MySQLUser:     cmd.String("mysql-user"),
		MySQLPassword: cmd.String("mysql-password"),
		MySQLDatabase: cmd.String("mysql-database"),

		MongoURI: cmd.String("mongo-uri"),
		MongoDB:  cmd.String("mongo-db"),

		SQLitePath:  cmd.String("sqlite-path"),
		StoreDriver: cmd.String("store"),

		WSHost: cmd.String("host"),
		WSPort: int(cmd.Int("port")),

		MaxUsers:           int(cmd.Int("max-users")),
		PersistQueue:       int(cmd.Int("persist-queue")),
		PersistTimeout:     cmd.Duration("persist-timeout"),
		SessionIdleTimeout: cmd.Duration("session-idle-timeout"),
		ReapInterval:       cmd.Duration("reap-interval"),

		LogLevel:  cmd.String("log-level"),
		LogFormat: cmd.String("log-format"),
	}
}

// Addr is the listen address of the WebSocket server.
func (c *ConfigStruct) Addr() string {
	return fmt.Sprintf("%s:%d", c.WSHost, c.WSPort)
}

func (c *ConfigStruct) Validate() error {
	var errs []error
	if c.MaxUsers < 1 {
		errs = append(errs, fmt.Errorf("max-users must be positive, got %d", c.MaxUsers))
	}
	if c.WSPort < 0 || c.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.WSPort))
	}
	if c.PersistQueue < 1 {
		errs = append(errs, fmt.Errorf("persist-queue must be positive, got %d", c.PersistQueue))
	}
	if c.PersistTimeout <= 0 {
		errs = append(errs, errors.New("persist-timeout must be positive"))
	}
	if c.SessionIdleTimeout > 0 && c.ReapInterval <= 0 {
		errs = append(errs, errors.New("reap-interval must be positive when sessions expire"))
	}
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" || c.MongoDB == "" {
			errs = append(errs, errors.New("mongo store needs mongo-uri and mongo-db"))
		}
	case DriverMySQL:
		if c.MySQLHost == "" || c.MySQLDatabase == "" {
			errs = append(errs, errors.New("mysql store needs mysql-host and mysql-database"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite store needs sqlite-path"))
		}
	case DriverNone:
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	return errors.Join(errs...)
}
