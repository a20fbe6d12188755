// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/homeserver/cmd/homeserver-ctl/cli"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/service"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

type profileParams struct {
	cli.Connection
	cli.JSONOutput
}

func (a *App) profileCommand() *cli.Command {
	var params profileParams
	return &cli.Command{
		Name:    "profile",
		Summary: "Show or change profiles and presence",
		Usage:   "homeserver-ctl profile [USER] | profile <command> [flags]",
		Subcommands: []*cli.Command{
			a.profileSetCommand("set-name", "Set your display name", service.ActionSetDisplayName, "displayname"),
			a.profileSetCommand("set-avatar", "Set your avatar URL", service.ActionSetAvatarURL, "avatar_url"),
			a.profileSetCommand("presence", "Set your presence (online, unavailable, offline)", service.ActionSetPresence, "presence"),
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("profile", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 0, 1, "homeserver-ctl profile [USER]"); err != nil {
				return err
			}
			fields := map[string]any{}
			if len(args) == 1 {
				fields["user_id"] = args[0]
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var profile storage.Profile
			if err := params.Client().Call(ctx, service.ActionProfile, fields, &profile); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, profile); done {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "display name:\t%s\n", profile.DisplayName)
			fmt.Fprintf(tw, "avatar url:\t%s\n", profile.AvatarURL)
			fmt.Fprintf(tw, "presence:\t%s\n", profile.Presence)
			return tw.Flush()
		},
	}
}

// profileSetCommand builds a command that sends VALUE as field.
func (a *App) profileSetCommand(name, summary, action, field string) *cli.Command {
	var params profileParams
	usage := "homeserver-ctl profile " + name + " VALUE"
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   usage,
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams(name, &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, usage); err != nil {
				return err
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			return params.Client().Call(ctx, action, map[string]any{field: args[0]}, nil)
		},
	}
}

// --- account data ---

type accountDataParams struct {
	cli.Connection
	Content string `flag:"content" desc:"content as a JSON object (set only)"`
}

func (a *App) accountDataCommand() *cli.Command {
	var params accountDataParams
	return &cli.Command{
		Name:    "account-data",
		Summary: "Read or write per-user account data",
		Subcommands: []*cli.Command{
			{
				Name:    "get",
				Summary: "Print one account data blob",
				Usage:   "homeserver-ctl account-data get TYPE",
				Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("get", &params) },
				Run: func(ctx context.Context, args []string) error {
					if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl account-data get TYPE"); err != nil {
						return err
					}
					ctx, cancel := cli.CallContext(ctx)
					defer cancel()
					var content map[string]any
					if err := params.Client().Call(ctx, service.ActionAccountData, map[string]any{"type": args[0]}, &content); err != nil {
						return err
					}
					return cli.WriteJSON(a.stdout, content)
				},
			},
			{
				Name:    "set",
				Summary: "Replace one account data blob",
				Usage:   "homeserver-ctl account-data set TYPE --content JSON",
				Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("set", &params) },
				Run: func(ctx context.Context, args []string) error {
					if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl account-data set TYPE --content JSON"); err != nil {
						return err
					}
					content, err := cli.ParseObject("content", params.Content)
					if err != nil {
						return err
					}
					ctx, cancel := cli.CallContext(ctx)
					defer cancel()
					return params.Client().Call(ctx, service.ActionSetAccountData, map[string]any{
						"type":    args[0],
						"content": content,
					}, nil)
				},
			},
		},
	}
}

// --- directory ---

type directoryResult struct {
	Results []homeserver.DirectoryEntry `cbor:"results" json:"results"`
	Limited bool                        `cbor:"limited" json:"limited"`
}

func (a *App) directoryCommand() *cli.Command {
	var params profileParams
	return &cli.Command{
		Name:    "directory",
		Summary: "Look up a local user by localpart",
		Usage:   "homeserver-ctl directory TERM",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("directory", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl directory TERM"); err != nil {
				return err
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result directoryResult
			if err := params.Client().Call(ctx, service.ActionUserDirectory, map[string]any{"search_term": args[0]}, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result.Results); done {
				return err
			}
			if len(result.Results) == 0 {
				a.logger.Info("no users found", "term", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "USER\tDISPLAY NAME")
			for _, entry := range result.Results {
				fmt.Fprintf(tw, "%s\t%s\n", entry.UserID, entry.DisplayName)
			}
			return tw.Flush()
		},
	}
}
