// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"errors"
	"fmt"
	"strings"
)

// maxIDLength is the maximum length in bytes of a complete user or
// room ID, counting the sigil, localpart, colon, and server name.
const maxIDLength = 255

// Validation failure kinds. Parse errors wrap exactly one of these, so
// callers can classify a failure with errors.Is.
var (
	// ErrNoSigil means the identifier does not begin with the sigil
	// for its kind ('@' for users, '!' for rooms, '$' for events).
	ErrNoSigil = errors.New("missing leading sigil")

	// ErrMissingColon means there is no ':' separating the localpart
	// from the server name.
	ErrMissingColon = errors.New("missing ':' before server name")

	// ErrInvalidChar means the localpart contains a character outside
	// a-z, 0-9, and the symbols - _ . = /.
	ErrInvalidChar = errors.New("localpart may only contain a-z, 0-9 and -_.=/")

	// ErrTooLong means the identifier exceeds 255 bytes.
	ErrTooLong = errors.New("identifier longer than 255 bytes")

	// ErrInvalidServerName means the server part does not match the
	// server-name grammar.
	ErrInvalidServerName = errors.New("invalid server name")

	// ErrEmptyLocalpart means there is nothing between the sigil and
	// the ':' separator.
	ErrEmptyLocalpart = errors.New("empty localpart")
)

// allowedChars is the set of characters permitted in user localparts:
// a-z, 0-9, and the symbols . _ = - /.
var allowedChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		allowedChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		allowedChars[c] = true
	}
	allowedChars['.'] = true
	allowedChars['_'] = true
	allowedChars['='] = true
	allowedChars['-'] = true
	allowedChars['/'] = true
}

// validateUserLocalpart checks the character set of a user localpart.
// Length is checked against the complete identifier by the caller.
func validateUserLocalpart(localpart string) error {
	if localpart == "" {
		return ErrEmptyLocalpart
	}
	for i := 0; i < len(localpart); i++ {
		if !allowedChars[localpart[i]] {
			return fmt.Errorf("%w (found %q at position %d)", ErrInvalidChar, localpart[i], i)
		}
	}
	return nil
}

// ParseLocalpart validates a bare user localpart, as supplied at
// registration. The server name is needed for the length check
// because the 255-byte limit applies to the complete user ID.
func ParseLocalpart(localpart string, server ServerName) (string, error) {
	if err := validateUserLocalpart(localpart); err != nil {
		return "", fmt.Errorf("localpart %q: %w", localpart, err)
	}
	if 2+len(localpart)+len(server.name) > maxIDLength {
		return "", fmt.Errorf("localpart %q: %w", localpart, ErrTooLong)
	}
	return localpart, nil
}

// splitSigilID splits "<sigil>localpart:server" at the first colon.
// Everything after the first colon is the server name, so a port
// suffix ("host:8448") survives intact. The server name is validated;
// the localpart is left to the caller since its grammar depends on the
// identifier kind.
func splitSigilID(raw string, sigil byte, kind string) (localpart string, server ServerName, err error) {
	if len(raw) > maxIDLength {
		return "", ServerName{}, fmt.Errorf("%s %q: %w", kind, truncate(raw), ErrTooLong)
	}
	if raw == "" || raw[0] != sigil {
		return "", ServerName{}, fmt.Errorf("%s %q: %w %q", kind, raw, ErrNoSigil, sigil)
	}
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return "", ServerName{}, fmt.Errorf("%s %q: %w", kind, raw, ErrMissingColon)
	}
	localpart = raw[1:colon]
	if localpart == "" {
		return "", ServerName{}, fmt.Errorf("%s %q: %w", kind, raw, ErrEmptyLocalpart)
	}
	server, err = ParseServerName(raw[colon+1:])
	if err != nil {
		return "", ServerName{}, fmt.Errorf("%s %q: %w", kind, raw, err)
	}
	return localpart, server, nil
}

// truncate shortens oversized input for error messages.
func truncate(s string) string {
	const keep = 32
	if len(s) <= keep {
		return s
	}
	return s[:keep] + "..."
}
