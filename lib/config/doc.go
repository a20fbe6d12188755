// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the homeserver
// daemon.
//
// Configuration is loaded from a single file specified by either the
// HOMESERVER_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. Files are YAML, or JSON
// with comments when the name ends in .json or .jsonc.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production never seeds the well-known
// test users, whatever the file says.
//
// Variable expansion is performed on the socket and storage paths
// after loading: ${HOME} and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// This package depends on no other homeserver packages.
package config
