// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework behind homeserver-ctl.
//
// A [Command] tree is assembled in cmd/homeserver-ctl and run with
// [Command.Execute], which routes subcommands, parses flags and prints
// help with examples. Unknown commands and flags get a suggestion when
// a known name is within a Levenshtein distance of 3.
//
// Flags are declared as tagged fields of a per-command params struct
// and bound by [FlagsFromParams]. Embedding [Connection] adds --socket
// and --token; embedding [JSONOutput] adds --json.
package cli
