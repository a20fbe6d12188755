// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/config"
	"github.com/bureau-foundation/homeserver/lib/storage"
	"github.com/bureau-foundation/homeserver/lib/storage/boltstore"
	"github.com/bureau-foundation/homeserver/lib/storage/memstore"
	"github.com/bureau-foundation/homeserver/lib/storage/sqlstore"
)

// openStore opens the backend cfg.Storage selects.
func openStore(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory storage; all data is lost on exit")
		return memstore.New(memstore.Config{Clock: clk, Logger: logger}), nil
	case config.BackendSQLite:
		store, err := sqlstore.Open(sqlstore.Config{
			Path:     cfg.Storage.Path,
			PoolSize: cfg.Storage.PoolSize,
			Clock:    clk,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening sqlite storage: %w", err)
		}
		return store, nil
	case config.BackendBolt:
		store, err := boltstore.Open(boltstore.Config{
			Path:   cfg.Storage.Path,
			Clock:  clk,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening bolt storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
