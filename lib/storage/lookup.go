// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// StateEvent returns the current (type, state key) state event of a
// room in its client view, or NotFound.
func StateEvent(ctx context.Context, store Storage, roomID ref.RoomID, eventType ref.EventType, stateKey string) (event.PDU, error) {
	result, err := store.Query(ctx, Query{RoomID: roomID, Mode: State, Types: []ref.EventType{eventType}})
	if err != nil {
		return nil, err
	}
	for _, pdu := range result.Events {
		if event.StateKeyOf(pdu) == stateKey {
			return pdu, nil
		}
	}
	return nil, matrixerr.New(matrixerr.KindNotFound, "no %s state with key %q in %s", eventType, stateKey, roomID)
}

// FullState returns every current state event of a room, in the order
// they were appended.
func FullState(ctx context.Context, store Storage, roomID ref.RoomID) ([]event.PDU, error) {
	result, err := store.Query(ctx, Query{RoomID: roomID, Mode: State})
	if err != nil {
		return nil, err
	}
	return result.Events, nil
}

// Membership returns userID's membership in roomID, or "" if the user
// has never had a member event there.
func Membership(ctx context.Context, store Storage, roomID ref.RoomID, userID ref.UserID) (event.Membership, error) {
	pdu, err := StateEvent(ctx, store, roomID, event.TypeMember, userID.String())
	if err != nil {
		if matrixerr.KindOf(err) == matrixerr.KindNotFound {
			return "", nil
		}
		return "", err
	}
	membership, _ := pdu.Content()["membership"].(string)
	return event.Membership(membership), nil
}

// MemberCounts returns the number of joined and invited members.
func MemberCounts(ctx context.Context, store Storage, roomID ref.RoomID) (joined, invited int, err error) {
	result, err := store.Query(ctx, Query{RoomID: roomID, Mode: State, Types: []ref.EventType{event.TypeMember}})
	if err != nil {
		return 0, 0, err
	}
	for _, pdu := range result.Events {
		switch membership, _ := pdu.Content()["membership"].(string); event.Membership(membership) {
		case event.MembershipJoin:
			joined++
		case event.MembershipInvite:
			invited++
		}
	}
	return joined, invited, nil
}
