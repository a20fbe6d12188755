// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the homeserver's tests.
//
// [SocketDir] makes a short directory for Unix sockets, whose paths
// are limited to 108 bytes. [RequireReceive] and [RequireClosed] bound
// a channel wait with a wall-clock timeout so a broken test fails
// instead of hanging; the code under test still runs on clock.Fake.
// [UniqueID] names transactions in concurrent tests.
package testutil
