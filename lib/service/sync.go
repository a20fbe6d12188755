// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
)

// ActionSync is the socket action serving homeserver.Server.Sync.
const ActionSync = "sync"

// SyncConfig configures the sync long-poll loop.
type SyncConfig struct {
	// Timeout is how long the homeserver holds each poll open when
	// nothing has happened. Default: 30 seconds.
	Timeout time.Duration

	// MaxBackoff is the maximum duration between retry attempts on
	// transient sync errors. The loop uses exponential backoff
	// starting at 1 second. Default: 30 seconds.
	MaxBackoff time.Duration
}

// SyncRequest is the wire form of a sync call.
type SyncRequest struct {
	Since     string `cbor:"since,omitempty"`
	FullState bool   `cbor:"full_state,omitempty"`
	TimeoutMS int64  `cbor:"timeout_ms,omitempty"`
}

// SyncHandler is called for each sync response. The next poll starts
// after the handler returns.
type SyncHandler func(ctx context.Context, response *homeserver.SyncResponse)

// Sync performs one sync call.
func Sync(ctx context.Context, client *ServiceClient, request SyncRequest) (*homeserver.SyncResponse, error) {
	var response homeserver.SyncResponse
	fields := map[string]any{
		"since":      request.Since,
		"full_state": request.FullState,
		"timeout_ms": request.TimeoutMS,
	}
	if err := client.Call(ctx, ActionSync, fields, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// InitialSync performs the first sync with no since token to obtain a
// full snapshot. It returns immediately; the homeserver does not wait
// for new events on an initial sync that has something to report.
func InitialSync(ctx context.Context, client *ServiceClient) (*homeserver.SyncResponse, error) {
	response, err := Sync(ctx, client, SyncRequest{FullState: true})
	if err != nil {
		return nil, fmt.Errorf("initial sync: %w", err)
	}
	return response, nil
}

// RunSyncLoop runs the incremental sync long-poll loop from sinceToken,
// calling handler for each response, until ctx is cancelled.
//
// On transient errors, the loop retries with exponential backoff
// (1 second to config.MaxBackoff). Authentication failures end the
// loop with an error since retrying cannot fix them.
func RunSyncLoop(ctx context.Context, client *ServiceClient, config SyncConfig, sinceToken string, handler SyncHandler, clk clock.Clock, logger *slog.Logger) error {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBackoff := config.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = 30 * time.Second
	}

	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		response, err := Sync(ctx, client, SyncRequest{
			Since:     sinceToken,
			TimeoutMS: timeout.Milliseconds(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if kind := matrixerr.KindOf(err); kind == matrixerr.KindMissingToken || kind == matrixerr.KindUnknownToken {
				return fmt.Errorf("sync: %w", err)
			}
			logger.Error("sync failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-clk.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second
		sinceToken = response.NextBatch

		handler(ctx, response)
	}
}
