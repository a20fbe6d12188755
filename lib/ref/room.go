// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"crypto/rand"
	"fmt"
)

// roomLocalpartLength is the length of generated opaque room localparts.
const roomLocalpartLength = 18

// RoomID is a validated room ID (e.g., "!GhjDkaQdfXqDeQpZcD:example.org").
//
// Room IDs are assigned by the server that creates the room. The local
// part is opaque: any non-empty run of characters up to the first ':'.
// Everything after that colon is the server name. The complete
// identifier is at most 255 bytes.
//
// RoomID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type RoomID struct {
	id     string
	server ServerName
}

// ParseRoomID validates and wraps a raw room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	_, server, err := splitSigilID(raw, '!', "room ID")
	if err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw, server: server}, nil
}

// NewRoomID builds a room ID from an opaque local part and a server
// name.
func NewRoomID(opaque string, server ServerName) (RoomID, error) {
	if server.IsZero() {
		return RoomID{}, fmt.Errorf("room ID for %q: %w", opaque, ErrInvalidServerName)
	}
	return ParseRoomID("!" + opaque + ":" + server.name)
}

// GenerateRoomID creates a fresh room ID with a random opaque local
// part of ASCII letters.
func GenerateRoomID(server ServerName) (RoomID, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	buffer := make([]byte, roomLocalpartLength)
	if _, err := rand.Read(buffer); err != nil {
		return RoomID{}, fmt.Errorf("generating room ID: %w", err)
	}
	for i, b := range buffer {
		buffer[i] = alphabet[int(b)%len(alphabet)]
	}
	return NewRoomID(string(buffer), server)
}

// MustParseRoomID is like ParseRoomID but panics on error. Use in tests
// and static initialization where the input is known-valid.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value (uninitialized).
func (r RoomID) IsZero() bool { return r.id == "" }

// Server returns the server that created the room.
func (r RoomID) Server() ServerName { return r.server }

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	if r.id == "" {
		return []byte{}, nil
	}
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Validates the room
// ID format. An empty input produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
