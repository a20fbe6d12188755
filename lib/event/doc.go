// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event is the versioned room event (PDU) model.
//
// A PDU is one immutable node in a room's event graph. The [PDU]
// interface is the sum type over room versions: call sites use its
// shared accessors and never switch on the concrete type, so adding a
// room version means adding an implementation, not touching callers.
// [V4] is the only implementation; [RoomVersion4] is the only version
// that can author new events. Events of any other version decode as an
// error rather than being silently reinterpreted.
//
// # Identity
//
// Event IDs are derived, never supplied. [Build] computes two BLAKE3
// keyed hashes over the deterministic CBOR encoding of the event:
//
//   - the content hash covers the whole event except unsigned data,
//     and is stored in the event;
//   - the reference hash covers the redacted event, content hash
//     included, and becomes the event ID.
//
// Because the reference hash is taken over the redacted form,
// redacting an event never changes its ID, while the content hash
// still commits the ID to the full original content.
//
// # Content
//
// Content is held as a normalized map[string]any (see
// codec.NormalizeMap) so that a stored event and its decoded copy hash
// identically. [ParseContent] produces the typed view (CreateContent,
// MemberContent, PowerLevelsContent, ...) for the types the server
// interprets, decoding with mapstructure and rejecting malformed
// content as an InvalidEvent error. [RedactContent] applies the
// per-type allow-lists that define an event's redacted form.
//
// # Persistence
//
// [Encode] and [Decode] store events as a CBOR envelope keyed by room
// version. Decode recomputes the event ID from the decoded fields, so
// a corrupted blob fails loudly instead of yielding an event with the
// wrong identity.
package event
