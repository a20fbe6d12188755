// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/homeserver/cmd/homeserver-ctl/cli"
	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/version"
)

// App holds the process streams the commands write to.
type App struct {
	stdout io.Writer
	stderr io.Writer
	stdin  *os.File
	clock  clock.Clock
	logger *slog.Logger
}

// Root assembles the command tree.
func (a *App) Root() *cli.Command {
	return &cli.Command{
		Name:    "homeserver-ctl",
		Summary: "Control a homeserver over its Unix socket",
		Description: `homeserver-ctl talks to a running homeserver daemon over its Unix
socket. Commands that act as a user need an access token from
"register" or "login", passed with --token or $HOMESERVER_TOKEN.`,
		Subcommands: []*cli.Command{
			a.statusCommand(),
			a.versionsCommand(),
			a.registerCommand(),
			a.loginCommand(),
			a.logoutCommand(),
			a.whoamiCommand(),
			a.availableCommand(),
			a.roomCommand(),
			a.sendCommand(),
			a.redactCommand(),
			a.eventCommand(),
			a.messagesCommand(),
			a.typingCommand(),
			a.syncCommand(),
			a.profileCommand(),
			a.accountDataCommand(),
			a.directoryCommand(),
			{
				Name:    "version",
				Summary: "Print the client version",
				Run: func(ctx context.Context, args []string) error {
					fmt.Fprintf(a.stdout, "homeserver-ctl %s\n", version.Info())
					return nil
				},
			},
		},
	}
}

// formatEvent renders one event on a single line.
func formatEvent(e event.ClientEvent) string {
	timestamp := time.UnixMilli(e.OriginServerTS).UTC().Format(time.RFC3339)
	var detail string
	switch {
	case e.Type == event.TypeMember && e.StateKey != nil:
		detail = fmt.Sprintf("%v %s", e.Content["membership"], *e.StateKey)
	case e.StateKey != nil:
		detail = fmt.Sprintf("[%s] %s", *e.StateKey, compactContent(e.Content))
	default:
		if body, ok := e.Content["body"].(string); ok {
			detail = body
		} else {
			detail = compactContent(e.Content)
		}
	}
	return fmt.Sprintf("%s  %s  %s  %s  %s", timestamp, e.EventID, e.Sender, e.Type, detail)
}

func compactContent(content map[string]any) string {
	if len(content) == 0 {
		return "{}"
	}
	var builder strings.Builder
	builder.WriteString("{")
	first := true
	for _, key := range sortedKeys(content) {
		if !first {
			builder.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&builder, "%s: %v", key, content[key])
	}
	builder.WriteString("}")
	return builder.String()
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// splitStateKey splits "type/state_key". The state key may itself
// contain slashes; the event type never does.
func splitStateKey(key string) (ref.EventType, string) {
	eventType, stateKey, _ := strings.Cut(key, "/")
	return ref.EventType(eventType), stateKey
}
