// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stateres computes a room's resolved state: the mapping from
// (event type, state key) to the one winning state event, derived by
// walking the event graph backward from a frontier.
//
// For every key encountered, the winner is the event with the highest
// depth; events of equal depth are ordered by event ID and the
// lexicographically smaller ID wins. Because that order is total, the
// result does not depend on traversal order and resolving the same
// frontier twice yields identical state.
//
// The [Resolver] caches the resolved state "as of" individual events
// (the state including that event) in an LRU. The walk stops at any
// cached event and merges its state, which is exact: the winner over
// a set of ancestors is the maximum of the cached winners and the
// remaining events under the same total order. In the common case of a
// linear room the frontier is a single cached event and resolution is
// a cache hit.
//
// Resolution fails with an internal error when no m.room.create event
// is reachable from the frontier or a referenced event cannot be
// loaded: both mean the stored graph is corrupt.
package stateres
