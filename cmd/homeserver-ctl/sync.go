// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/homeserver/cmd/homeserver-ctl/cli"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/service"
)

type syncParams struct {
	cli.Connection
	cli.JSONOutput
	Since     string        `flag:"since" desc:"next_batch token of a previous sync"`
	FullState bool          `flag:"full-state" desc:"include the complete state of every joined room"`
	Timeout   time.Duration `flag:"timeout" desc:"how long the daemon waits for something new" default:"30s"`
	Follow    bool          `flag:"follow" desc:"keep syncing and print each response until interrupted"`
}

func (a *App) syncCommand() *cli.Command {
	var params syncParams
	return &cli.Command{
		Name:    "sync",
		Summary: "Fetch what changed since a sync token",
		Description: `Fetch new timeline events, state, invites and ephemeral data for the
caller. Without --since this is an initial sync. With --follow the
command keeps long-polling, retrying transient failures with backoff,
until interrupted or the token stops working.`,
		Usage: "homeserver-ctl sync [flags]",
		Examples: []cli.Example{
			{Description: "Tail every room as JSON lines", Command: "homeserver-ctl sync --follow --json"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("sync", &params) },
		Run: func(ctx context.Context, args []string) error {
			client := params.Client()
			if params.Follow {
				since := params.Since
				if since == "" {
					initial, err := service.Sync(ctx, client, service.SyncRequest{FullState: params.FullState})
					if err != nil {
						return err
					}
					if err := a.printSync(&params.JSONOutput, initial); err != nil {
						return err
					}
					since = initial.NextBatch
				}
				return service.RunSyncLoop(ctx, client, service.SyncConfig{Timeout: params.Timeout}, since,
					func(ctx context.Context, response *homeserver.SyncResponse) {
						if err := a.printSync(&params.JSONOutput, response); err != nil {
							a.logger.Error("writing sync output", "error", err)
						}
					}, a.clock, a.logger)
			}

			ctx, cancel := context.WithTimeout(ctx, params.Timeout+30*time.Second)
			defer cancel()
			response, err := service.Sync(ctx, client, service.SyncRequest{
				Since:     params.Since,
				FullState: params.FullState,
				TimeoutMS: params.Timeout.Milliseconds(),
			})
			if err != nil {
				return err
			}
			return a.printSync(&params.JSONOutput, response)
		},
	}
}

// printSync writes one response: a JSON document with --json, else
// one line per room event followed by the next_batch token.
func (a *App) printSync(output *cli.JSONOutput, response *homeserver.SyncResponse) error {
	if done, err := output.EmitJSON(a.stdout, response); done {
		return err
	}
	for _, roomID := range sortedKeys(response.Rooms.Invite) {
		invite := response.Rooms.Invite[roomID]
		fmt.Fprintf(a.stdout, "%s: invited (%d state events)\n", roomID, len(invite.InviteState.Events))
	}
	for _, roomID := range sortedKeys(response.Rooms.Join) {
		room := response.Rooms.Join[roomID]
		for _, timelineEvent := range room.Timeline.Events {
			fmt.Fprintf(a.stdout, "%s: %s\n", roomID, formatEvent(timelineEvent))
		}
		for _, ephemeral := range room.Ephemeral.Events {
			if users, _ := ephemeral.Content["user_ids"].([]any); len(users) > 0 {
				fmt.Fprintf(a.stdout, "%s: %s %v\n", roomID, ephemeral.Type, users)
			}
		}
	}
	for _, roomID := range sortedKeys(response.Rooms.Leave) {
		fmt.Fprintf(a.stdout, "%s: left\n", roomID)
	}
	fmt.Fprintf(a.stdout, "next_batch: %s\n", response.NextBatch)
	return nil
}
