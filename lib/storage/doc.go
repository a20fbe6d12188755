// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence contract of the homeserver
// and the pieces every backend shares.
//
// The contract is the Storage interface. Backends live in
// subpackages: memstore (in-process reference), sqlstore (SQLite via
// lib/sqlitepool), and boltstore (bbolt). All of them pass the
// storagetest conformance suite, so they are interchangeable.
//
// Shared pieces keep backends behaviorally identical:
//
//   - Window and Filter evaluate a Query over a slice of events,
//     including State-mode deduplication and JSON containment.
//   - StateEvent, FullState, Membership, and MemberCounts are derived
//     lookups built on Query.
//   - Notifier is the per-room wake signal used by Query.Wait.
//   - Ephemera holds per-room ephemeral blobs and the typing set,
//     which are non-persistent in every backend.
//   - RedactedView builds the client view of a redacted event.
package storage
