// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/homeserver/cmd/homeserver-ctl/cli"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/service"
)

func (a *App) roomCommand() *cli.Command {
	return &cli.Command{
		Name:    "room",
		Summary: "Create rooms and manage membership and state",
		Subcommands: []*cli.Command{
			a.roomCreateCommand(),
			a.membershipCommand(service.ActionJoin, "join", "Join a room", false),
			a.membershipCommand(service.ActionInvite, "invite", "Invite a user to a room", true),
			a.membershipCommand(service.ActionLeave, "leave", "Leave a room", false),
			a.membershipCommand(service.ActionKick, "kick", "Remove a user from a room", true),
			a.membershipCommand(service.ActionBan, "ban", "Ban a user from a room", true),
			a.roomStateCommand(),
			a.roomSetStateCommand(),
			a.roomMembersCommand(),
		},
	}
}

type eventIDResult struct {
	EventID ref.EventID `cbor:"event_id" json:"event_id"`
}

// --- create ---

type roomCreateParams struct {
	cli.Connection
	cli.JSONOutput
	Preset       string   `flag:"preset" desc:"private_chat, trusted_private_chat or public_chat" default:"private_chat"`
	Name         string   `flag:"name" desc:"room name"`
	Topic        string   `flag:"topic" desc:"room topic"`
	Invite       []string `flag:"invite" desc:"users to invite once the room exists"`
	Version      string   `flag:"room-version" desc:"room version (default: the server default)"`
	PowerLevels  string   `flag:"power-levels" desc:"JSON object merged over the default power levels"`
	InitialState string   `flag:"initial-state" desc:"JSON object mapping \"type\" or \"type/state_key\" to content"`
}

type roomCreateResult struct {
	RoomID ref.RoomID `cbor:"room_id" json:"room_id"`
}

func (a *App) roomCreateCommand() *cli.Command {
	var params roomCreateParams
	return &cli.Command{
		Name:    "create",
		Summary: "Create a room",
		Usage:   "homeserver-ctl room create [flags]",
		Examples: []cli.Example{
			{
				Description: "Create a public room and invite bob",
				Command:     "homeserver-ctl room create --preset public_chat --name Lobby --invite @bob:example.org",
			},
			{
				Description: "Create a room with custom initial state",
				Command:     `homeserver-ctl room create --initial-state '{"m.room.history_visibility": {"history_visibility": "joined"}}'`,
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("create", &params) },
		Run: func(ctx context.Context, args []string) error {
			fields := map[string]any{"preset": params.Preset}
			if params.Name != "" {
				fields["name"] = params.Name
			}
			if params.Topic != "" {
				fields["topic"] = params.Topic
			}
			if len(params.Invite) > 0 {
				fields["invite"] = params.Invite
			}
			if params.Version != "" {
				fields["room_version"] = params.Version
			}
			if params.PowerLevels != "" {
				override, err := cli.ParseObject("power-levels", params.PowerLevels)
				if err != nil {
					return err
				}
				fields["power_level_content_override"] = override
			}
			if params.InitialState != "" {
				initialState, err := parseInitialState(params.InitialState)
				if err != nil {
					return err
				}
				fields["initial_state"] = initialState
			}

			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result roomCreateResult
			if err := params.Client().Call(ctx, service.ActionCreateRoom, fields, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result); done {
				return err
			}
			fmt.Fprintln(a.stdout, result.RoomID)
			return nil
		},
	}
}

// parseInitialState turns {"type/state_key": content} into the
// initial_state list. A key without a slash has an empty state key.
func parseInitialState(text string) ([]map[string]any, error) {
	object, err := cli.ParseObject("initial-state", text)
	if err != nil {
		return nil, err
	}
	var events []map[string]any
	for _, key := range sortedKeys(object) {
		content, ok := object[key].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("--initial-state: content for %q is not an object", key)
		}
		eventType, stateKey := splitStateKey(key)
		events = append(events, map[string]any{
			"type":      eventType,
			"state_key": stateKey,
			"content":   content,
		})
	}
	return events, nil
}

// --- membership ---

type membershipParams struct {
	cli.Connection
	cli.JSONOutput
	Reason string `flag:"reason" desc:"reason recorded in the membership event"`
}

// membershipCommand builds join, invite, leave, kick and ban. Those
// with a target take ROOM USER; the rest take only ROOM.
func (a *App) membershipCommand(action, name, summary string, needsTarget bool) *cli.Command {
	var params membershipParams
	usage := "homeserver-ctl room " + name + " ROOM"
	if needsTarget {
		usage += " USER"
	}
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   usage + " [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams(name, &params) },
		Run: func(ctx context.Context, args []string) error {
			want := 1
			if needsTarget {
				want = 2
			}
			if err := cli.RequireArgs(args, want, want, usage); err != nil {
				return err
			}
			fields := map[string]any{"room_id": args[0]}
			if needsTarget {
				fields["user_id"] = args[1]
			}
			if params.Reason != "" {
				fields["reason"] = params.Reason
			}

			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result eventIDResult
			if err := params.Client().Call(ctx, action, fields, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result); done {
				return err
			}
			fmt.Fprintln(a.stdout, result.EventID)
			return nil
		},
	}
}

// --- state ---

type roomStateParams struct {
	cli.Connection
	cli.JSONOutput
}

func (a *App) roomStateCommand() *cli.Command {
	var params roomStateParams
	return &cli.Command{
		Name:    "state",
		Summary: "Show a room's current state",
		Description: `With only ROOM, list every current state event. With TYPE (and
optionally STATE_KEY), print the content of that one state event.`,
		Usage: "homeserver-ctl room state ROOM [TYPE [STATE_KEY]] [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("state", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 3, "homeserver-ctl room state ROOM [TYPE [STATE_KEY]]"); err != nil {
				return err
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			client := params.Client()

			if len(args) > 1 {
				fields := map[string]any{"room_id": args[0], "type": args[1]}
				if len(args) == 3 {
					fields["state_key"] = args[2]
				}
				var content map[string]any
				if err := client.Call(ctx, service.ActionStateEvent, fields, &content); err != nil {
					return err
				}
				return cli.WriteJSON(a.stdout, content)
			}

			var result struct {
				Events []event.ClientEvent `cbor:"events"`
			}
			if err := client.Call(ctx, service.ActionState, map[string]any{"room_id": args[0]}, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result.Events); done {
				return err
			}
			for _, stateEvent := range result.Events {
				fmt.Fprintln(a.stdout, formatEvent(stateEvent))
			}
			return nil
		},
	}
}

type roomSetStateParams struct {
	cli.Connection
	cli.JSONOutput
	Content string `flag:"content" desc:"event content as a JSON object"`
}

func (a *App) roomSetStateCommand() *cli.Command {
	var params roomSetStateParams
	return &cli.Command{
		Name:    "set-state",
		Summary: "Send a state event",
		Usage:   "homeserver-ctl room set-state ROOM TYPE [STATE_KEY] --content JSON",
		Examples: []cli.Example{
			{
				Description: "Change the topic",
				Command:     `homeserver-ctl room set-state '!abc:example.org' m.room.topic --content '{"topic": "Release planning"}'`,
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("set-state", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 2, 3, "homeserver-ctl room set-state ROOM TYPE [STATE_KEY]"); err != nil {
				return err
			}
			content, err := cli.ParseObject("content", params.Content)
			if err != nil {
				return err
			}
			fields := map[string]any{"room_id": args[0], "type": args[1], "content": content}
			if len(args) == 3 {
				fields["state_key"] = args[2]
			}

			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result eventIDResult
			if err := params.Client().Call(ctx, service.ActionSendState, fields, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result); done {
				return err
			}
			fmt.Fprintln(a.stdout, result.EventID)
			return nil
		},
	}
}

// --- members ---

type roomMembersParams struct {
	cli.Connection
	cli.JSONOutput
	Membership    string `flag:"membership" desc:"only members with this membership (join, invite, leave, ban)"`
	NotMembership string `flag:"not-membership" desc:"exclude members with this membership"`
}

func (a *App) roomMembersCommand() *cli.Command {
	var params roomMembersParams
	return &cli.Command{
		Name:    "members",
		Summary: "List a room's members",
		Usage:   "homeserver-ctl room members ROOM [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("members", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl room members ROOM"); err != nil {
				return err
			}
			fields := map[string]any{"room_id": args[0]}
			if params.Membership != "" {
				fields["membership"] = params.Membership
			}
			if params.NotMembership != "" {
				fields["not_membership"] = params.NotMembership
			}

			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result struct {
				Chunk []event.ClientEvent `cbor:"chunk"`
			}
			if err := params.Client().Call(ctx, service.ActionMembers, fields, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result.Chunk); done {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "USER\tMEMBERSHIP\tDISPLAY NAME")
			for _, member := range result.Chunk {
				if member.StateKey == nil {
					continue
				}
				displayName, _ := member.Content["displayname"].(string)
				fmt.Fprintf(tw, "%s\t%v\t%s\n", *member.StateKey, member.Content["membership"], displayName)
			}
			return tw.Flush()
		},
	}
}
