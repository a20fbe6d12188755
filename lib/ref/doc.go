// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identifiers for the
// homeserver: server names, user IDs, room IDs, event IDs, and event
// types.
//
// Every identifier is built through a validating constructor; there is
// no unchecked path. Once constructed, a ref is immutable and its
// components (localpart, server) are pre-split. Parse failures wrap a
// sentinel error (ErrNoSigil, ErrMissingColon, ErrInvalidChar,
// ErrTooLong, ErrInvalidServerName, ErrEmptyLocalpart) so callers can
// classify them with errors.Is.
//
// The canonical serialization form is the full identifier string.
// JSON and CBOR marshaling use it via encoding.TextMarshaler, so
// parse(String()) round-trips for every valid value.
package ref
