// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a state or timeline event type ("m.room.member",
// "m.room.message", or any custom namespaced type).
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing or validation. The type
// exists purely for compile-time safety, preventing accidental use of
// a state key where an event type is expected (or vice versa).
// Constants for the types the server interprets live in lib/event.
type EventType string

// String returns the event type string (e.g., "m.room.topic").
func (t EventType) String() string { return string(t) }
