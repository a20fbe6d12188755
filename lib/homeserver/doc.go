// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package homeserver implements the room and account operations of the
// homeserver on top of a [storage.Storage].
//
// The central piece is the append path, [Server.AddEvent]. For one
// room at a time it:
//
//  1. reads the room's frontier from storage,
//  2. resolves the current state with a [stateres.Resolver],
//  3. authorizes the proposed event with [roomauth.Authorize],
//  4. selects its auth events and builds the PDU (depth one past the
//     deepest frontier event, origin this server, timestamp from the
//     clock),
//  5. appends it, which wakes the room's long-poll waiters.
//
// A per-room mutex serializes steps 1 to 5 so two concurrent appends
// never build on the same frontier. Appends to different rooms proceed
// in parallel.
//
// Everything clients do is expressed through the append path: room
// creation with presets, membership changes, messages with
// transaction-ID idempotency, state events and redactions. Reads gate
// on the caller's resolved membership. [Server.Sync] is the long-poll
// coordinator: it delivers everything after a sync cursor, or races a
// timer against one waiting query per joined room.
//
// Account operations (registration, login, tokens, profiles, account
// data) are thin layers over storage with Matrix error semantics.
package homeserver
