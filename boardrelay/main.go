package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/sketchsync/sketch/board"
	"github.com/sketchsync/sketch/relay"
)

const BoardRelayVersion = "0.0.1"

func main() {
	usage := `Board relay.

Rooms are served at ws://<addr>/rooms/<board_id>. Without a config file the relay
listens on :1234, accepts every connection, and keeps rooms in memory.

Usage:
    boardrelay serve [--config=<config>] [--addr=<addr>] [--jwt_secret=<jwt_secret>]
        [--redis_addr=<redis_addr>]
        [--postgres_url=<postgres_url>]

Options:
    -h --help                      Show this screen.
    --version                      Show version.
    --config=<config>              Config file [default: boardrelay.toml].
    --addr=<addr>                  Listen address.
    --jwt_secret=<jwt_secret>      HS256 secret of login tokens. Empty accepts every connection.
    --redis_addr=<redis_addr>      Fan out rooms across relay instances with redis.
    --postgres_url=<postgres_url>  Save rooms to postgres.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], BoardRelayVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	configPath, _ := opts.String("--config")
	config, err := relay.LoadRelayConfig(configPath)
	if err != nil {
		fmt.Printf("Config error (%s).\n", err)
		os.Exit(1)
	}
	if addr, err := opts.String("--addr"); err == nil {
		config.Addr = addr
	}
	if jwtSecret, err := opts.String("--jwt_secret"); err == nil {
		config.JwtSecret = jwtSecret
	}
	if redisAddr, err := opts.String("--redis_addr"); err == nil {
		config.RedisAddr = redisAddr
	}
	if postgresUrl, err := opts.String("--postgres_url"); err == nil {
		config.PostgresUrl = postgresUrl
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	event := board.NewEventWithContext(cancelCtx)
	event.SetOnSignals(syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	ctx := event.Ctx()

	var fanout relay.Fanout
	if config.RedisAddr != "" {
		redisFanout, err := relay.NewRedisFanout(ctx, config.RedisAddr)
		if err != nil {
			fmt.Printf("Redis error (%s).\n", err)
			os.Exit(1)
		}
		defer redisFanout.Close()
		fanout = redisFanout
	}

	var store relay.RoomStore
	if config.PostgresUrl != "" {
		pgStore, err := relay.NewPgRoomStore(ctx, config.PostgresUrl)
		if err != nil {
			fmt.Printf("Postgres error (%s).\n", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		// rooms survive every connection leaving, but not a restart
		store = relay.NewMemoryRoomStore()
	}

	boardRelay := relay.NewRelay(ctx, config.Settings(), store, fanout)
	defer boardRelay.Close()

	server := &http.Server{
		Addr:    config.Addr,
		Handler: boardRelay,
	}

	go func() {
		defer cancel()
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Serve error (%s).\n", err)
		}
	}()

	fmt.Printf("Relay %s on %s\n", BoardRelayVersion, config.Addr)
	glog.Infof("[relay]serving on %s auth=%t redis=%t postgres=%t\n", config.Addr, config.JwtSecret != "", fanout != nil, config.PostgresUrl != "")

	select {
	case <-ctx.Done():
	}

	server.Shutdown(context.Background())
}
