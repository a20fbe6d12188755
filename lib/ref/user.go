// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID is a validated user ID (e.g., "@alice:example.org").
//
// A user ID starts with '@', and everything after the first ':' is the
// server name. The localpart is restricted to a-z, 0-9, and -_.=/; the
// complete identifier is at most 255 bytes.
//
// UserID is an immutable value type. The localpart and server are
// split once at construction. The zero value is not valid; use IsZero
// to check.
type UserID struct {
	id        string
	localpart string
	server    ServerName
}

// ParseUserID validates and wraps a raw user ID string. The returned
// error wraps one of ErrNoSigil, ErrMissingColon, ErrEmptyLocalpart,
// ErrInvalidChar, ErrTooLong, or ErrInvalidServerName.
func ParseUserID(raw string) (UserID, error) {
	localpart, server, err := splitSigilID(raw, '@', "user ID")
	if err != nil {
		return UserID{}, err
	}
	if err := validateUserLocalpart(localpart); err != nil {
		return UserID{}, fmt.Errorf("user ID %q: %w", raw, err)
	}
	return UserID{id: raw, localpart: localpart, server: server}, nil
}

// NewUserID builds a user ID from a localpart and a validated server
// name, applying the same rules as ParseUserID.
func NewUserID(localpart string, server ServerName) (UserID, error) {
	if server.IsZero() {
		return UserID{}, fmt.Errorf("user ID for %q: %w", localpart, ErrInvalidServerName)
	}
	return ParseUserID("@" + localpart + ":" + server.name)
}

// MustParseUserID is like ParseUserID but panics on error. Use in tests
// and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string (e.g., "@alice:example.org").
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the localpart (without the '@' prefix or the
// ':server' suffix).
func (u UserID) Localpart() string { return u.localpart }

// Server returns the server name portion of the user ID.
func (u UserID) Server() ServerName { return u.server }

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (u UserID) MarshalText() ([]byte, error) {
	if u.id == "" {
		return []byte{}, nil
	}
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the user ID format.
// An empty input produces the zero value (unset user ID).
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
