// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// RedactedView returns the client view of original after redaction:
// the redacted form, same event ID, with unsigned.redacted_because
// holding the redaction event in client form. The stored original is
// not changed.
func RedactedView(original, redaction event.PDU) (event.PDU, error) {
	because, err := toJSONValue(redaction.ClientEvent())
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "rendering redaction "+redaction.EventID().String())
	}
	return original.Redact().WithUnsigned(map[string]any{event.UnsignedRedactedBecause: because}), nil
}

// NextFrontier returns the leaves after appending pdu to a room whose
// leaves were frontier: pdu's predecessors stop being leaves and pdu
// becomes one. The result is sorted.
func NextFrontier(frontier []ref.EventID, pdu event.PDU) []ref.EventID {
	next := make([]ref.EventID, 0, len(frontier)+1)
	for _, leaf := range frontier {
		if !slices.Contains(pdu.PrevEvents(), leaf) {
			next = append(next, leaf)
		}
	}
	next = append(next, pdu.EventID())
	slices.SortFunc(next, func(a, b ref.EventID) int { return strings.Compare(a.String(), b.String()) })
	return next
}

// CheckAppend validates the shape of an event about to be appended
// to an existing room.
func CheckAppend(pdu event.PDU) error {
	if pdu.Type() == event.TypeCreate {
		return matrixerr.New(matrixerr.KindInvalidEvent, "%s can only start a room", event.TypeCreate)
	}
	return nil
}

// CheckCreate validates the event that starts a room.
func CheckCreate(pdu event.PDU) error {
	if pdu.Type() != event.TypeCreate || event.StateKeyOf(pdu) != "" || !pdu.IsState() {
		return matrixerr.New(matrixerr.KindInvalidEvent, "a room must start with an %s event with an empty state key", event.TypeCreate)
	}
	if len(pdu.PrevEvents()) > 0 {
		return matrixerr.New(matrixerr.KindInvalidEvent, "%s must not have predecessors", event.TypeCreate)
	}
	return nil
}

// NewAccessToken returns a fresh random access token.
func NewAccessToken() string {
	return uuid.NewString()
}
