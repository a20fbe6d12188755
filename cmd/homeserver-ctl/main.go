// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/homeserver/cmd/homeserver-ctl/cli"
	"github.com/bureau-foundation/homeserver/lib/clock"
)

func main() {
	if err := run(); err != nil {
		// Commands that already printed their outcome return an
		// ExitError; don't add an "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
		stdin:  os.Stdin,
		clock:  clock.Real(),
		logger: cli.NewCommandLogger(os.Stderr),
	}
	return app.Root().Execute(ctx, os.Args[1:], os.Stderr)
}
