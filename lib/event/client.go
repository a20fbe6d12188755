// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"maps"

	"github.com/bureau-foundation/homeserver/lib/ref"
)

// ClientEvent is the event shape clients see. Graph fields
// (prev_events, auth_events, depth, origin) are never exposed.
type ClientEvent struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Content        map[string]any `json:"content"`
	Sender         ref.UserID     `json:"sender"`
	StateKey       *string        `json:"state_key,omitempty"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Unsigned       map[string]any `json:"unsigned,omitempty"`
}

// UnsignedTransactionID is the unsigned key carrying the client's
// transaction ID. It is only shown to the event's sender.
const UnsignedTransactionID = "transaction_id"

// UnsignedRedactedBecause is the unsigned key carrying the redaction
// event that redacted this one.
const UnsignedRedactedBecause = "redacted_because"

// ForViewer returns the client event as seen by viewer: the
// transaction ID is removed unless viewer sent the event.
func (c ClientEvent) ForViewer(viewer ref.UserID) ClientEvent {
	if _, ok := c.Unsigned[UnsignedTransactionID]; !ok || viewer == c.Sender {
		return c
	}
	unsigned := maps.Clone(c.Unsigned)
	delete(unsigned, UnsignedTransactionID)
	if len(unsigned) == 0 {
		unsigned = nil
	}
	c.Unsigned = unsigned
	return c
}

// StrippedStateEvent is the reduced state shown to an invited user:
// enough to render the invite, no graph or timeline data.
type StrippedStateEvent struct {
	Type     ref.EventType  `json:"type"`
	StateKey string         `json:"state_key"`
	Sender   ref.UserID     `json:"sender"`
	Content  map[string]any `json:"content"`
}

// Stripped returns the stripped form of a state event.
func Stripped(pdu PDU) StrippedStateEvent {
	return StrippedStateEvent{
		Type:     pdu.Type(),
		StateKey: StateKeyOf(pdu),
		Sender:   pdu.Sender(),
		Content:  pdu.Content(),
	}
}
