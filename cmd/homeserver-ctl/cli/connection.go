// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/homeserver/lib/config"
	"github.com/bureau-foundation/homeserver/lib/service"
)

const (
	// SocketEnvVar overrides the default daemon socket path.
	SocketEnvVar = "HOMESERVER_SOCKET"
	// TokenEnvVar supplies the access token when --token is not given.
	TokenEnvVar = "HOMESERVER_TOKEN"
)

// callTimeout bounds every call except sync, whose long-poll sets its
// own deadline.
const callTimeout = 30 * time.Second

// Connection carries the --socket and --token flags. Embed it in a
// command's params struct.
type Connection struct {
	SocketPath string
	Token      string
}

// AddFlags registers --socket and --token with defaults from the
// environment.
func (c *Connection) AddFlags(flagSet *pflag.FlagSet) {
	socketDefault := config.Default().SocketPath
	if fromEnv := os.Getenv(SocketEnvVar); fromEnv != "" {
		socketDefault = fromEnv
	}
	flagSet.StringVar(&c.SocketPath, "socket", socketDefault, "homeserver socket path (env "+SocketEnvVar+")")
	flagSet.StringVar(&c.Token, "token", os.Getenv(TokenEnvVar), "access token (env "+TokenEnvVar+")")
}

// Client returns a client for the configured socket and token.
func (c *Connection) Client() *service.ServiceClient {
	return service.NewServiceClient(c.SocketPath, c.Token)
}

// CallContext derives the deadline used for one ordinary call.
func CallContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, callTimeout)
}
