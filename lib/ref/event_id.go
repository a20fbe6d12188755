// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/base64"
	"fmt"
)

// EventID is a validated event ID (e.g., "$0aRAXUjVuA6xz5TxE_I4Gx0h5bC7xP4X2dPC1v1EJNU").
//
// Event IDs are content-addressed: the server derives them from a
// reference hash of the event, encoded as unpadded URL-safe base64
// after a '$' sigil. There is no ":server" suffix. Parsing only checks
// the sigil and that something follows it, so IDs minted by other
// implementations remain usable as opaque references.
//
// EventID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw event ID string.
func ParseEventID(raw string) (EventID, error) {
	if raw == "" || raw[0] != '$' {
		return EventID{}, fmt.Errorf("event ID %q: %w '$'", raw, ErrNoSigil)
	}
	if len(raw) < 2 {
		return EventID{}, fmt.Errorf("event ID has no content after '$': %q", raw)
	}
	if len(raw) > maxIDLength {
		return EventID{}, fmt.Errorf("event ID %q: %w", truncate(raw), ErrTooLong)
	}
	return EventID{id: raw}, nil
}

// EventIDFromHash encodes a 32-byte reference hash as an event ID.
func EventIDFromHash(hash [32]byte) EventID {
	return EventID{id: "$" + base64.RawURLEncoding.EncodeToString(hash[:])}
}

// MustParseEventID is like ParseEventID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseEventID(raw string) EventID {
	e, err := ParseEventID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventID(%q): %v", raw, err))
	}
	return e
}

// String returns the full event ID string.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value (uninitialized).
func (e EventID) IsZero() bool { return e.id == "" }

// Less orders event IDs lexicographically. State resolution uses it to
// break ties between events of equal depth.
func (e EventID) Less(other EventID) bool { return e.id < other.id }

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (e EventID) MarshalText() ([]byte, error) {
	if e.id == "" {
		return []byte{}, nil
	}
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the event ID format.
// An empty input produces the zero value (unset event ID).
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
