package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"snakeserver/internal/config"
	"snakeserver/internal/db"
	"snakeserver/internal/handle/game"
	"snakeserver/internal/handle/message"
	"snakeserver/internal/logging"
	"snakeserver/internal/persist"
	"snakeserver/internal/session"
	"snakeserver/internal/stats"
	"snakeserver/internal/utils"
	"snakeserver/internal/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cmd := &cli.Command{
		Name:   "snakeserver",
		Usage:  "multiplayer snake session coordinator",
		Flags:  config.Flags(),
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.FromCommand(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return err
	}

	sink, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}

	counters := stats.New()
	registry := session.NewRegistry(cfg.MaxUsers)
	store := session.NewStore(cfg.MaxUsers)
	mirror := persist.NewMirror(sink, cfg.PersistQueue, cfg.PersistTimeout, counters)
	handler := message.NewHandler(registry, store, mirror, counters)
	reaper := game.NewReaper(store, registry, counters, cfg.SessionIdleTimeout, cfg.ReapInterval)
	server := websocket.NewServer(registry, handler, counters)

	printNetwork(cfg)

	g, gctx := errgroup.WithContext(ctx)
	// The mirror outlives the server so the writes of the final
	// disconnects are still flushed.
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	defer stopMirror()
	mirrorDone := make(chan error, 1)
	go func() { mirrorDone <- mirror.Run(mirrorCtx) }()

	g.Go(func() error { return server.Run(gctx, cfg.Addr()) })
	g.Go(func() error { return reaper.Run(gctx) })

	err = g.Wait()
	stopMirror()
	if merr := <-mirrorDone; merr != nil {
		log.Error().Err(merr).Msg("close store")
	}
	return err
}

func openSink(ctx context.Context, cfg *config.ConfigStruct) (persist.Sink, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		return db.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	case config.DriverMySQL:
		return db.OpenMySQL(ctx, cfg)
	case config.DriverSQLite:
		return db.OpenSQLite(ctx, cfg.SQLitePath)
	default:
		log.Warn().Msg("persistence disabled")
		return persist.Discard{}, nil
	}
}

func printNetwork(cfg *config.ConfigStruct) {
	port := strconv.Itoa(cfg.WSPort)
	addrs, err := utils.LocalAddrs()
	if err != nil {
		log.Warn().Err(err).Msg("list network interfaces")
		return
	}
	for _, ip := range addrs {
		log.Info().Str("url", "ws://"+net.JoinHostPort(ip, port)+"/ws").Msg("players can connect at")
	}
}
