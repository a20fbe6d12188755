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
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/secret"
	"github.com/bureau-foundation/homeserver/lib/service"
)

// readPassword reads the password from path ("-" for stdin), or
// prompts on the terminal when path is empty.
func (a *App) readPassword(path string) (*secret.Buffer, error) {
	if path != "" {
		return secret.ReadFromPath(path)
	}
	return secret.Prompt(a.stdin, a.stderr, "Password: ")
}

// --- status ---

type statusParams struct {
	cli.Connection
	cli.JSONOutput
}

type statusResult struct {
	UptimeSeconds float64 `cbor:"uptime_seconds" json:"uptime_seconds"`
	ServerName    string  `cbor:"server_name" json:"server_name"`
	Version       string  `cbor:"version" json:"version"`
}

func (a *App) statusCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "status",
		Summary: "Check that the daemon is up",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("status", &params) },
		Run: func(ctx context.Context, args []string) error {
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result statusResult
			if err := params.Client().Call(ctx, service.ActionStatus, nil, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result); done {
				return err
			}
			uptime := time.Duration(result.UptimeSeconds * float64(time.Second)).Round(time.Second)
			fmt.Fprintf(a.stdout, "%s: up %s (version %s)\n", result.ServerName, uptime, result.Version)
			return nil
		},
	}
}

type versionsResult struct {
	Versions []string `cbor:"versions" json:"versions"`
}

func (a *App) versionsCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "versions",
		Summary: "List the client API versions the daemon supports",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("versions", &params) },
		Run: func(ctx context.Context, args []string) error {
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result versionsResult
			if err := params.Client().Call(ctx, service.ActionVersions, nil, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result); done {
				return err
			}
			for _, version := range result.Versions {
				fmt.Fprintln(a.stdout, version)
			}
			return nil
		},
	}
}

// --- register / login ---

type registerParams struct {
	cli.Connection
	cli.JSONOutput
	PasswordFile string `flag:"password-file" desc:"read the password from this file (- for stdin) instead of prompting"`
	DeviceID     string `flag:"device-id" desc:"device ID for the new session (default: generated)"`
	Guest        bool   `flag:"guest" desc:"register a guest account with a generated name and no password"`
	InhibitLogin bool   `flag:"inhibit-login" desc:"create the account without issuing an access token"`
}

func (a *App) registerCommand() *cli.Command {
	var params registerParams
	return &cli.Command{
		Name:    "register",
		Summary: "Create an account",
		Description: `Create an account and print its access token. With no USERNAME a
random localpart is generated.`,
		Usage: "homeserver-ctl register [USERNAME] [flags]",
		Examples: []cli.Example{
			{Description: "Register alice, reading the password from a file", Command: "homeserver-ctl register alice --password-file ~/.alice-pw"},
			{Description: "Register a guest", Command: "homeserver-ctl register --guest"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("register", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 0, 1, "homeserver-ctl register [USERNAME]"); err != nil {
				return err
			}
			fields := map[string]any{"inhibit_login": params.InhibitLogin}
			if len(args) == 1 {
				fields["username"] = args[0]
			}
			if params.DeviceID != "" {
				fields["device_id"] = params.DeviceID
			}
			if params.Guest {
				fields["kind"] = string(homeserver.AccountKindGuest)
			} else {
				password, err := a.readPassword(params.PasswordFile)
				if err != nil {
					return err
				}
				defer password.Close()
				fields["password"] = password.String()
			}

			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var credentials homeserver.Credentials
			if err := params.Client().Call(ctx, service.ActionRegister, fields, &credentials); err != nil {
				return err
			}
			return a.printCredentials(&params.JSONOutput, "Registered", credentials)
		},
	}
}

type loginParams struct {
	cli.Connection
	cli.JSONOutput
	PasswordFile string `flag:"password-file" desc:"read the password from this file (- for stdin) instead of prompting"`
	DeviceID     string `flag:"device-id" desc:"device ID for the session (default: generated)"`
}

func (a *App) loginCommand() *cli.Command {
	var params loginParams
	return &cli.Command{
		Name:    "login",
		Summary: "Log in with a password and print an access token",
		Usage:   "homeserver-ctl login USER [flags]",
		Examples: []cli.Example{
			{Description: "Log in and export the token", Command: "export HOMESERVER_TOKEN=$(homeserver-ctl login alice --json | jq -r .access_token)"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("login", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl login USER"); err != nil {
				return err
			}
			password, err := a.readPassword(params.PasswordFile)
			if err != nil {
				return err
			}
			defer password.Close()

			fields := map[string]any{
				"type": homeserver.LoginTypePassword,
				"identifier": map[string]any{
					"type": homeserver.IdentifierTypeUser,
					"user": args[0],
				},
				"password": password.String(),
			}
			if params.DeviceID != "" {
				fields["device_id"] = params.DeviceID
			}

			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var credentials homeserver.Credentials
			if err := params.Client().Call(ctx, service.ActionLogin, fields, &credentials); err != nil {
				return err
			}
			return a.printCredentials(&params.JSONOutput, "Logged in as", credentials)
		},
	}
}

func (a *App) printCredentials(output *cli.JSONOutput, verb string, credentials homeserver.Credentials) error {
	if done, err := output.EmitJSON(a.stdout, credentials); done {
		return err
	}
	if credentials.AccessToken == "" {
		fmt.Fprintf(a.stdout, "%s %s (no session)\n", verb, credentials.UserID)
		return nil
	}
	fmt.Fprintf(a.stdout, "%s %s (device %s)\n", verb, credentials.UserID, credentials.DeviceID)
	fmt.Fprintf(a.stdout, "%s=%s\n", cli.TokenEnvVar, credentials.AccessToken)
	return nil
}

// --- logout / whoami / available ---

type logoutParams struct {
	cli.Connection
	All bool `flag:"all" desc:"invalidate every access token of the account"`
}

func (a *App) logoutCommand() *cli.Command {
	var params logoutParams
	return &cli.Command{
		Name:    "logout",
		Summary: "Invalidate the access token",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("logout", &params) },
		Run: func(ctx context.Context, args []string) error {
			action := service.ActionLogout
			if params.All {
				action = service.ActionLogoutAll
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			if err := params.Client().Call(ctx, action, nil, nil); err != nil {
				return err
			}
			a.logger.Info("logged out", "all_devices", params.All)
			return nil
		},
	}
}

type whoamiResult struct {
	UserID   ref.UserID `cbor:"user_id" json:"user_id"`
	DeviceID string     `cbor:"device_id" json:"device_id,omitempty"`
}

func (a *App) whoamiCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "whoami",
		Summary: "Show the account the access token belongs to",
		Flags:   func() *pflag.FlagSet { return cli.FlagsFromParams("whoami", &params) },
		Run: func(ctx context.Context, args []string) error {
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result whoamiResult
			if err := params.Client().Call(ctx, service.ActionWhoami, nil, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result); done {
				return err
			}
			fmt.Fprintf(a.stdout, "%s (device %s)\n", result.UserID, result.DeviceID)
			return nil
		},
	}
}

type availableResult struct {
	Available bool `cbor:"available" json:"available"`
}

func (a *App) availableCommand() *cli.Command {
	var params statusParams
	return &cli.Command{
		Name:    "available",
		Summary: "Check whether a username can be registered",
		Description: `Check whether USERNAME can be registered. Exits 0 when it is free
and 1 when it is taken or invalid.`,
		Usage: "homeserver-ctl available USERNAME",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("available", &params) },
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "homeserver-ctl available USERNAME"); err != nil {
				return err
			}
			ctx, cancel := cli.CallContext(ctx)
			defer cancel()
			var result availableResult
			if err := params.Client().Call(ctx, service.ActionUsernameAvailable, map[string]any{"username": args[0]}, &result); err != nil {
				return err
			}
			if done, err := params.EmitJSON(a.stdout, result); done {
				return err
			}
			if !result.Available {
				fmt.Fprintf(a.stdout, "%s is taken\n", args[0])
				return &cli.ExitError{Code: 1}
			}
			fmt.Fprintf(a.stdout, "%s is available\n", args[0])
			return nil
		},
	}
}
