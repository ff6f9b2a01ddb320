package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"sedmaserver/internal/config"
	"sedmaserver/internal/coordinator"
	"sedmaserver/internal/safe"
	"sedmaserver/internal/transport"
)

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		log.Errorf("config: %v", err)
		os.Exit(2)
	}

	log.Infof("sedmaserver starting: addr=%s max_clients=%d max_rooms=%d",
		cfg.Addr(), cfg.MaxClients, cfg.MaxRooms)

	coord := coordinator.New(cfg.MaxClients, cfg.MaxRooms)
	server := transport.NewServer(cfg.Addr(), cfg.MaxClients, coord)
	coord.Attach(server)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	safe.Go("coordinator.Run", func() {
		coord.Run(ctx)
	})

	if err := server.Run(ctx); err != nil {
		log.Errorf("transport: %v", err)
		os.Exit(1)
	}

	log.Info("sedmaserver stopped")
}
