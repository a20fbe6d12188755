// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/config"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/service"
	"github.com/bureau-foundation/homeserver/lib/stateres"
	"github.com/bureau-foundation/homeserver/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("homeserver", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the configuration file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&logLevel, "log-level", "info", "minimum log level: debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if showVersion {
		fmt.Printf("homeserver %s\n", version.Info())
		return nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	store, err := openStore(cfg, clk, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing storage", "error", err)
		}
	}()

	serverName, err := ref.ParseServerName(cfg.ServerName)
	if err != nil {
		return fmt.Errorf("invalid server_name: %w", err)
	}
	resolver, err := stateres.NewResolver(store, cfg.StateCacheSize)
	if err != nil {
		return fmt.Errorf("creating state resolver: %w", err)
	}
	server, err := homeserver.New(homeserver.Config{
		ServerName:     serverName,
		Store:          store,
		Resolver:       resolver,
		Clock:          clk,
		Logger:         logger,
		MaxSyncTimeout: time.Duration(cfg.Sync.MaxTimeout),
	})
	if err != nil {
		return err
	}

	if cfg.SeedTestUsers {
		if err := server.SeedTestUsers(ctx); err != nil {
			return fmt.Errorf("seeding test users: %w", err)
		}
	}

	daemon := &Daemon{
		server:             server,
		clock:              clk,
		startedAt:          clk.Now(),
		defaultSyncTimeout: time.Duration(cfg.Sync.DefaultTimeout),
		logger:             logger,
	}
	socketServer := service.NewSocketServer(cfg.SocketPath, logger, daemon.authenticate)
	daemon.registerActions(socketServer)

	logger.Info("homeserver running",
		"server_name", serverName,
		"environment", cfg.Environment,
		"storage", cfg.Storage.Backend,
		"socket", cfg.SocketPath,
		"version", version.Short(),
	)

	if err := socketServer.Serve(ctx); err != nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}
