// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the homeserver's standard CBOR configuration.
//
// The homeserver uses two serialization formats with a clear boundary:
//
//   - JSON for what clients read: the client event shape, CLI output,
//     and JSONC configuration files.
//   - CBOR for everything internal: the persisted event envelope, the
//     deterministic hashing input for event IDs, storage values in the
//     sqlite and bolt backends, and the service socket protocol.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes, which is what lets an
// event ID be a hash of the event's encoding.
//
// For buffer-oriented operations (hashing, storage values):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// # Struct Tag Rules
//
// A `cbor` tag marks a type that is only ever CBOR (storage records,
// the event envelope). A `json` tag marks a type that travels as both
// JSON and CBOR (client events, socket request and response bodies);
// fxamacker/cbor falls back to `json` tags when `cbor` tags are absent.
// Never put both tags on one field.
//
// # Normalized values
//
// Loosely typed values (map[string]any event content) can reach the
// server from JSON (float64 numbers) or CBOR (uint64/int64 numbers).
// Normalize passes a value through one encode/decode cycle so that a
// stored value and its decoded copy are identical, and therefore hash
// identically.
package codec
