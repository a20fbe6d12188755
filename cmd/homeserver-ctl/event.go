// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/homeserver/cmd/homeserver-ctl/cli"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/service"
)

// --- send ---

type sendParams struct {
	cli.Connection
	cli.JSONOutput
	Type    string `flag:"type,t" desc:"event type" default:"m.room.message"`
	MsgType string `flag:"msgtype" desc:"msgtype of a text message" default:"m.text"`
	Content string `flag:"content" desc:"full event content as a JSON object, instead of BODY"`
	TxnID   string `flag:"txn-id" desc:"transaction ID (default: a random UUID); reusing one is rejected"`
}

func (a *App) sendCommand() *cli.Command {
	var params sendParams
	return &cli.Command{
		Name:    "send",
		Summary: "Send a message or other timeline event",
		Description: `Send a timeline event to ROOM. The remaining arguments are joined
into the body of a text message, or --content gives the full content
of any event type.`,
		Usage: "homeserver-ctl send ROOM [BODY...] [flags]",
		Examples: []cli.Example{
			{Description: "Say hello", Command: "homeserver-ctl send '!abc:example.org' hello everyone"},
			{
				Description: "Send a custom event",
				Command:     `homeserver-ctl send '!abc:example.org' --type org.example.ping --content '{"seq": 1}'`,
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("send", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, -1, "homeserver-ctl send ROOM [BODY...]"); err != nil {
				return err
			}
			var content map[string]any
			switch {
			case params.Content != "" && len(args) > 1:
				return fmt.Errorf("give either BODY or --content, not both")
			case params.Content != "":
				parsed, err := cli.ParseObject("content", params.Content)
				if err != nil {
					return err
				}
				content = parsed
			case len(args) > 1:
				content = map[string]any{"msgtype": params.MsgType, "body": strings.Join(args[1:], " ")}
			default:
				return fmt.Errorf("nothing to send: give BODY or --content")
			}

			txnID := params.TxnID
			if txnID == "" {
				txnID = uuid.NewString()
			}

			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result eventIDResult
			err := params.Client().Call(ctx, service.ActionSend, map[string]any{
				"room_id": args[0],
				"type":    params.Type,
				"txn_id":  txnID,
				"content": content,
			}, &result)
			if err != nil {
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

// --- redact ---

type redactParams struct {
	cli.Connection
	cli.JSONOutput
	Reason string `flag:"reason" desc:"reason recorded in the redaction"`
}

func (a *App) redactCommand() *cli.Command {
	var params redactParams
	return &cli.Command{
		Name:    "redact",
		Summary: "Redact an event",
		Usage:   "homeserver-ctl redact ROOM EVENT_ID [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("redact", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 2, 2, "homeserver-ctl redact ROOM EVENT_ID"); err != nil {
				return err
			}
			fields := map[string]any{"room_id": args[0], "event_id": args[1]}
			if params.Reason != "" {
				fields["reason"] = params.Reason
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result eventIDResult
			if err := params.Client().Call(ctx, service.ActionRedact, fields, &result); err != nil {
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

// --- event ---

type eventParams struct {
	cli.Connection
}

func (a *App) eventCommand() *cli.Command {
	var params eventParams
	return &cli.Command{
		Name:    "event",
		Summary: "Print one event as JSON",
		Usage:   "homeserver-ctl event EVENT_ID",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("event", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl event EVENT_ID"); err != nil {
				return err
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result event.ClientEvent
			if err := params.Client().Call(ctx, service.ActionEvent, map[string]any{"event_id": args[0]}, &result); err != nil {
				return err
			}
			return cli.WriteJSON(a.stdout, result)
		},
	}
}

// --- messages ---

type messagesParams struct {
	cli.Connection
	cli.JSONOutput
	From       string   `flag:"from" desc:"pagination token from a previous page or a sync prev_batch"`
	Forward    bool     `flag:"forward,f" desc:"page forward from the start instead of backward from the end"`
	Limit      int      `flag:"limit,n" desc:"maximum events per page" default:"10"`
	Types      []string `flag:"types" desc:"only these event types"`
	NotTypes   []string `flag:"not-types" desc:"exclude these event types"`
	Senders    []string `flag:"senders" desc:"only events from these users"`
	NotSenders []string `flag:"not-senders" desc:"exclude events from these users"`
}

func (a *App) messagesCommand() *cli.Command {
	var params messagesParams
	return &cli.Command{
		Name:    "messages",
		Summary: "Page through a room's timeline",
		Description: `Print one page of ROOM's timeline. Backward pages (the default) list
the newest events first. Pass the printed "next page" token back with
--from to continue.`,
		Usage: "homeserver-ctl messages ROOM [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("messages", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl messages ROOM"); err != nil {
				return err
			}
			direction := homeserver.Backward
			if params.Forward {
				direction = homeserver.Forward
			}
			fields := map[string]any{
				"room_id": args[0],
				"dir":     string(direction),
				"limit":   params.Limit,
			}
			if params.From != "" {
				fields["from"] = params.From
			}
			for key, values := range map[string][]string{
				"types":       params.Types,
				"not_types":   params.NotTypes,
				"senders":     params.Senders,
				"not_senders": params.NotSenders,
			} {
				if len(values) > 0 {
					fields[key] = values
				}
			}

			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var page homeserver.MessagesResponse
			if err := params.Client().Call(ctx, service.ActionMessages, fields, &page); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, page); done {
				return err
			}
			for _, timelineEvent := range page.Chunk {
				fmt.Fprintln(a.stdout, formatEvent(timelineEvent))
			}
			if len(page.Chunk) > 0 {
				fmt.Fprintf(a.stdout, "next page: --from %s\n", page.End)
			}
			return nil
		},
	}
}

// --- typing ---

type typingParams struct {
	cli.Connection
	Stop    bool          `flag:"stop" desc:"clear the typing notification"`
	Timeout time.Duration `flag:"timeout" desc:"how long the notification lasts" default:"30s"`
}

func (a *App) typingCommand() *cli.Command {
	var params typingParams
	return &cli.Command{
		Name:    "typing",
		Summary: "Set or clear a typing notification",
		Usage:   "homeserver-ctl typing ROOM [flags]",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("typing", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl typing ROOM"); err != nil {
				return err
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			return params.Client().Call(ctx, service.ActionTyping, map[string]any{
				"room_id":    args[0],
				"typing":     !params.Stop,
				"timeout_ms": params.Timeout.Milliseconds(),
			}, nil)
		},
	}
}
