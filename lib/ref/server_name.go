// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// maxHostnameLength bounds the hostname part of a server name.
const maxHostnameLength = 255

// ServerName is a validated server name (e.g., "example.org",
// "matrix.example.com:8448", "[::1]:6167").
//
// Server names identify homeservers. They appear after the first colon
// in user IDs (@localpart:server) and room IDs (!opaque:server), and
// as the origin of every event this server authors.
//
// The grammar is a hostname (DNS name or IPv4 literal built from
// letters, digits, '-' and '.'), or a bracketed IPv6 literal, followed
// by an optional ":port" of one to five digits.
//
// ServerName is an immutable value type. The zero value is not valid;
// use IsZero to check.
type ServerName struct {
	name string
}

// ParseServerName validates and wraps a raw server name string.
// Returns an error wrapping ErrInvalidServerName when the string does
// not match the server-name grammar.
func ParseServerName(raw string) (ServerName, error) {
	if err := validateServerName(raw); err != nil {
		return ServerName{}, fmt.Errorf("%w %q: %s", ErrInvalidServerName, raw, err)
	}
	return ServerName{name: raw}, nil
}

// MustParseServerName is like ParseServerName but panics on error. Use
// in tests and static initialization where the input is known-valid.
func MustParseServerName(raw string) ServerName {
	s, err := ParseServerName(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseServerName(%q): %v", raw, err))
	}
	return s
}

func validateServerName(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty")
	}

	host, port := raw, ""
	if raw[0] == '[' {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return fmt.Errorf("unterminated IPv6 literal")
		}
		host, port = raw[:end+1], raw[end+1:]
		if port != "" {
			if port[0] != ':' {
				return fmt.Errorf("unexpected %q after IPv6 literal", port)
			}
			port = port[1:]
			if port == "" {
				return fmt.Errorf("empty port")
			}
		}
		if err := validateIPv6Literal(host[1 : len(host)-1]); err != nil {
			return err
		}
	} else {
		if colon := strings.IndexByte(raw, ':'); colon >= 0 {
			host, port = raw[:colon], raw[colon+1:]
			if port == "" {
				return fmt.Errorf("empty port")
			}
		}
		if err := validateHostname(host); err != nil {
			return err
		}
	}

	if port != "" {
		if len(port) > 5 {
			return fmt.Errorf("port %q longer than 5 digits", port)
		}
		for i := 0; i < len(port); i++ {
			if port[i] < '0' || port[i] > '9' {
				return fmt.Errorf("port %q is not numeric", port)
			}
		}
	}
	return nil
}

func validateHostname(host string) error {
	if host == "" {
		return fmt.Errorf("empty hostname")
	}
	if len(host) > maxHostnameLength {
		return fmt.Errorf("hostname longer than %d bytes", maxHostnameLength)
	}
	for i := 0; i < len(host); i++ {
		c := host[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '.':
		default:
			return fmt.Errorf("invalid hostname character %q at position %d", c, i)
		}
	}
	return nil
}

func validateIPv6Literal(address string) error {
	if len(address) < 2 || len(address) > 45 {
		return fmt.Errorf("IPv6 literal has invalid length")
	}
	for i := 0; i < len(address); i++ {
		c := address[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		case c == ':' || c == '.':
		default:
			return fmt.Errorf("invalid IPv6 character %q at position %d", c, i)
		}
	}
	return nil
}

// String returns the server name string (e.g., "example.org:8448").
func (s ServerName) String() string { return s.name }

// IsZero reports whether the ServerName is the zero value (uninitialized).
func (s ServerName) IsZero() bool { return s.name == "" }

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (s ServerName) MarshalText() ([]byte, error) {
	if s.name == "" {
		return []byte{}, nil
	}
	return []byte(s.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the server name.
// An empty input produces the zero value (unset server name).
func (s *ServerName) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*s = ServerName{}
		return nil
	}
	parsed, err := ParseServerName(string(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
