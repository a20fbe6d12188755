// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps passwords and access tokens out of the Go heap
// while the command-line client holds them.
//
// [Buffer] allocates memory with mmap(MAP_ANONYMOUS), locks it against
// swap with mlock, and excludes it from core dumps. Close zeroes and
// unmaps it. [ReadFromPath] and [Prompt] are the two ways a password
// enters the client: from a file (or stdin as "-"), or typed at a
// terminal with echo disabled.
//
// Depends on golang.org/x/sys/unix and golang.org/x/term.
package secret
