// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"
	"maps"
	"slices"

	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// PDU is a persistent data unit: one immutable node in a room's event
// graph. It is the sum type over room versions; V4 is the only
// implementation. Returned maps and slices must not be modified.
type PDU interface {
	Version() RoomVersion
	EventID() ref.EventID
	RoomID() ref.RoomID
	Sender() ref.UserID
	Type() ref.EventType
	Content() map[string]any

	// StateKey is nil for timeline events and non-nil (possibly
	// empty) for state events.
	StateKey() *string
	IsState() bool

	// Redacts is the target of an m.room.redaction event, or the zero
	// EventID.
	Redacts() ref.EventID

	Origin() ref.ServerName
	OriginServerTS() int64
	PrevEvents() []ref.EventID
	AuthEvents() []ref.EventID
	Depth() int64

	// Unsigned is side-channel data outside the event's hashes:
	// transaction IDs echoed to the sender and redaction markers.
	Unsigned() map[string]any

	// WithUnsigned returns a copy of the event carrying the given
	// unsigned data. The event ID is unchanged.
	WithUnsigned(unsigned map[string]any) PDU

	// Redact returns the redacted form of the event: content reduced
	// to its type's allow-list, no redacts target, no unsigned data.
	// The event ID is unchanged.
	Redact() PDU

	// ClientEvent returns the client-facing shape of the event.
	ClientEvent() ClientEvent

	sealed()
}

// Proto is the input to Build: every PDU field except the derived
// event ID and content hash.
type Proto struct {
	RoomID         ref.RoomID
	Sender         ref.UserID
	Type           ref.EventType
	Content        map[string]any
	StateKey       *string
	Redacts        ref.EventID
	Origin         ref.ServerName
	OriginServerTS int64
	PrevEvents     []ref.EventID
	AuthEvents     []ref.EventID
	Depth          int64
	Unsigned       map[string]any
}

// eventHashes carries the content hash of an event.
type eventHashes struct {
	Blake3 []byte `cbor:"blake3,omitempty"`
}

// v4Fields is the stored form of a version 4 event. Field order does
// not matter for hashing: Core Deterministic Encoding sorts map keys.
type v4Fields struct {
	RoomID         ref.RoomID     `cbor:"room_id"`
	Sender         ref.UserID     `cbor:"sender"`
	Type           ref.EventType  `cbor:"type"`
	Content        map[string]any `cbor:"content"`
	StateKey       *string        `cbor:"state_key,omitempty"`
	Redacts        *ref.EventID   `cbor:"redacts,omitempty"`
	Origin         ref.ServerName `cbor:"origin"`
	OriginServerTS int64          `cbor:"origin_server_ts"`
	PrevEvents     []ref.EventID  `cbor:"prev_events"`
	AuthEvents     []ref.EventID  `cbor:"auth_events"`
	Depth          int64          `cbor:"depth"`
	Hashes         eventHashes    `cbor:"hashes"`
	Unsigned       map[string]any `cbor:"unsigned,omitempty"`
}

// redacted returns the fields that survive redaction.
func (f v4Fields) redacted() v4Fields {
	f.Content = RedactContent(f.Type, f.Content)
	f.Redacts = nil
	f.Unsigned = nil
	return f
}

// V4 is a room version 4 event.
type V4 struct {
	fields  v4Fields
	eventID ref.EventID
}

var _ PDU = (*V4)(nil)

// Build authors a new event of the given room version. Content and
// unsigned data are normalized, known content types are validated, and
// the content hash and event ID are computed.
func Build(version RoomVersion, proto Proto) (PDU, error) {
	if !version.Supported() {
		return nil, matrixerr.New(matrixerr.KindInvalidEvent, "room version %q cannot author events", version)
	}
	if proto.RoomID.IsZero() {
		return nil, matrixerr.New(matrixerr.KindInvalidEvent, "event has no room ID")
	}
	if proto.Sender.IsZero() {
		return nil, matrixerr.New(matrixerr.KindInvalidEvent, "event has no sender")
	}
	if proto.Type == "" {
		return nil, matrixerr.New(matrixerr.KindInvalidEvent, "event has no type")
	}
	if proto.Type == TypeRedaction && proto.Redacts.IsZero() {
		return nil, matrixerr.New(matrixerr.KindInvalidEvent, "redaction has no target event")
	}

	content, err := codec.NormalizeMap(proto.Content)
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindBadJSON, err, "event content")
	}
	if _, err := ParseContent(proto.Type, content); err != nil {
		return nil, err
	}

	fields := v4Fields{
		RoomID:         proto.RoomID,
		Sender:         proto.Sender,
		Type:           proto.Type,
		Content:        content,
		StateKey:       cloneString(proto.StateKey),
		Origin:         proto.Origin,
		OriginServerTS: proto.OriginServerTS,
		PrevEvents:     slices.Clone(proto.PrevEvents),
		AuthEvents:     slices.Clone(proto.AuthEvents),
		Depth:          proto.Depth,
	}
	if !proto.Redacts.IsZero() {
		redacts := proto.Redacts
		fields.Redacts = &redacts
	}
	if fields.PrevEvents == nil {
		fields.PrevEvents = []ref.EventID{}
	}
	if fields.AuthEvents == nil {
		fields.AuthEvents = []ref.EventID{}
	}
	if len(proto.Unsigned) > 0 {
		fields.Unsigned, err = codec.NormalizeMap(proto.Unsigned)
		if err != nil {
			return nil, matrixerr.Wrap(matrixerr.KindBadJSON, err, "unsigned data")
		}
	}

	hash, err := contentHash(fields)
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "")
	}
	fields.Hashes = eventHashes{Blake3: hash[:]}

	return newV4(fields)
}

// newV4 derives the event ID for complete fields.
func newV4(fields v4Fields) (*V4, error) {
	reference, err := referenceHash(fields)
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "")
	}
	return &V4{fields: fields, eventID: ref.EventIDFromHash(reference)}, nil
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func (e *V4) sealed() {}

func (e *V4) Version() RoomVersion { return RoomVersion4 }
func (e *V4) EventID() ref.EventID { return e.eventID }
func (e *V4) RoomID() ref.RoomID { return e.fields.RoomID }
func (e *V4) Sender() ref.UserID { return e.fields.Sender }
func (e *V4) Type() ref.EventType { return e.fields.Type }
func (e *V4) Content() map[string]any { return e.fields.Content }
func (e *V4) StateKey() *string { return e.fields.StateKey }
func (e *V4) IsState() bool { return e.fields.StateKey != nil }
func (e *V4) Origin() ref.ServerName { return e.fields.Origin }
func (e *V4) OriginServerTS() int64 { return e.fields.OriginServerTS }
func (e *V4) PrevEvents() []ref.EventID { return e.fields.PrevEvents }
func (e *V4) AuthEvents() []ref.EventID { return e.fields.AuthEvents }
func (e *V4) Depth() int64 { return e.fields.Depth }
func (e *V4) Unsigned() map[string]any { return e.fields.Unsigned }
func (e *V4) ContentHash() []byte { return e.fields.Hashes.Blake3 }
func (e *V4) String() string { return fmt.Sprintf("%s(%s)", e.eventID, e.fields.Type) }

func (e *V4) Redacts() ref.EventID {
	if e.fields.Redacts == nil {
		return ref.EventID{}
	}
	return *e.fields.Redacts
}

func (e *V4) WithUnsigned(unsigned map[string]any) PDU {
	clone := *e
	clone.fields.Unsigned = maps.Clone(unsigned)
	return &clone
}

func (e *V4) Redact() PDU {
	return &V4{fields: e.fields.redacted(), eventID: e.eventID}
}

func (e *V4) ClientEvent() ClientEvent {
	return ClientEvent{
		EventID:        e.eventID,
		Type:           e.fields.Type,
		Content:        e.fields.Content,
		Sender:         e.fields.Sender,
		StateKey:       e.fields.StateKey,
		OriginServerTS: e.fields.OriginServerTS,
		Unsigned:       e.fields.Unsigned,
	}
}

// StateKeyOf returns the event's state key, or "" for timeline events.
func StateKeyOf(pdu PDU) string {
	if key := pdu.StateKey(); key != nil {
		return *key
	}
	return ""
}

// StateKey returns a pointer to key, for Proto.StateKey.
func StateKey(key string) *string { return &key }
