// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"

	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// envelope is the persisted form of a PDU: the room version plus the
// version-specific fields.
type envelope struct {
	Version RoomVersion `cbor:"version"`
	V4      *v4Fields   `cbor:"v4,omitempty"`
}

// Encode serializes a PDU for storage.
func Encode(pdu PDU) ([]byte, error) {
	switch typed := pdu.(type) {
	case *V4:
		fields := typed.fields
		return codec.Marshal(envelope{Version: RoomVersion4, V4: &fields})
	default:
		return nil, fmt.Errorf("encoding event: unsupported PDU type %T", pdu)
	}
}

// Decode deserializes a stored PDU and recomputes its event ID.
func Decode(data []byte) (PDU, error) {
	var stored envelope
	if err := codec.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}
	switch stored.Version {
	case RoomVersion4:
		if stored.V4 == nil {
			return nil, fmt.Errorf("decoding event: version 4 envelope has no fields")
		}
		fields := *stored.V4
		if fields.Content == nil {
			fields.Content = map[string]any{}
		}
		if len(fields.Hashes.Blake3) != 32 {
			return nil, fmt.Errorf("decoding event: content hash has %d bytes, want 32", len(fields.Hashes.Blake3))
		}
		return newV4(fields)
	default:
		return nil, fmt.Errorf("decoding event: unsupported room version %q", stored.Version)
	}
}

// DecodeExpecting decodes a stored PDU and verifies that its
// recomputed ID matches the ID it was stored under.
func DecodeExpecting(data []byte, want ref.EventID) (PDU, error) {
	pdu, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if pdu.EventID() != want {
		return nil, fmt.Errorf("event stored as %s decodes to %s", want, pdu.EventID())
	}
	return pdu, nil
}
