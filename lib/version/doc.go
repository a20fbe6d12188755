// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the homeserver binaries.
//
// Release builds inject the version variables with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/homeserver/lib/version.Version=1.0.0" ./cmd/homeserver
//
// Without an injected commit, [Info] reads the VCS stamp the go
// command embeds in the binary.
package version
