// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storagetest

import (
	"context"
	"testing"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/passwd"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

// PasswordParams are cheap argon2id costs for tests. Factories should
// configure their backend with them.
var PasswordParams = passwd.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

var (
	server = ref.MustParseServerName("test.local")
	alice  = ref.MustParseUserID("@alice:test.local")
	bob    = ref.MustParseUserID("@bob:test.local")
	carol  = ref.MustParseUserID("@carol:test.local")
)

// room appends hand-built events to one room of a store, chaining
// each new event onto the previous one. Authorization is not run.
type room struct {
	t      *testing.T
	store  storage.Storage
	id     ref.RoomID
	last   event.PDU
	events []event.PDU
}

func newRoom(t *testing.T, store storage.Storage) *room {
	t.Helper()
	roomID, err := ref.GenerateRoomID(server)
	if err != nil {
		t.Fatalf("GenerateRoomID: %v", err)
	}
	create, err := event.Build(event.RoomVersion4, event.Proto{
		RoomID:         roomID,
		Sender:         alice,
		Type:           event.TypeCreate,
		StateKey:       event.StateKey(""),
		Content:        map[string]any{"creator": alice.String(), "room_version": "4"},
		Origin:         server,
		OriginServerTS: 1,
		Depth:          1,
	})
	if err != nil {
		t.Fatalf("building create event: %v", err)
	}
	eventID, err := store.CreateRoom(context.Background(), create)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if eventID != create.EventID() {
		t.Fatalf("CreateRoom returned %s, want %s", eventID, create.EventID())
	}
	return &room{t: t, store: store, id: roomID, last: create, events: []event.PDU{create}}
}

func (r *room) build(sender ref.UserID, eventType ref.EventType, stateKey *string, content map[string]any, redacts ref.EventID) event.PDU {
	r.t.Helper()
	pdu, err := event.Build(event.RoomVersion4, event.Proto{
		RoomID:         r.id,
		Sender:         sender,
		Type:           eventType,
		StateKey:       stateKey,
		Content:        content,
		Redacts:        redacts,
		Origin:         server,
		OriginServerTS: int64(len(r.events) + 1),
		PrevEvents:     []ref.EventID{r.last.EventID()},
		AuthEvents:     []ref.EventID{r.events[0].EventID()},
		Depth:          r.last.Depth() + 1,
	})
	if err != nil {
		r.t.Fatalf("building %s event: %v", eventType, err)
	}
	return pdu
}

func (r *room) append(pdu event.PDU) event.PDU {
	r.t.Helper()
	eventID, err := r.store.AppendEvent(context.Background(), pdu)
	if err != nil {
		r.t.Fatalf("AppendEvent(%s): %v", pdu.Type(), err)
	}
	if eventID != pdu.EventID() {
		r.t.Fatalf("AppendEvent returned %s, want %s", eventID, pdu.EventID())
	}
	r.last = pdu
	r.events = append(r.events, pdu)
	return pdu
}

func (r *room) message(sender ref.UserID, body string) event.PDU {
	r.t.Helper()
	return r.append(r.build(sender, event.TypeMessage, nil, map[string]any{"msgtype": "m.text", "body": body}, ref.EventID{}))
}

func (r *room) state(sender ref.UserID, eventType ref.EventType, stateKey string, content map[string]any) event.PDU {
	r.t.Helper()
	return r.append(r.build(sender, eventType, event.StateKey(stateKey), content, ref.EventID{}))
}

func (r *room) member(userID ref.UserID, membership event.Membership) event.PDU {
	r.t.Helper()
	return r.state(userID, event.TypeMember, userID.String(), map[string]any{"membership": string(membership)})
}

func (r *room) redact(sender ref.UserID, target event.PDU) event.PDU {
	r.t.Helper()
	return r.append(r.build(sender, event.TypeRedaction, nil, map[string]any{"reason": "spam"}, target.EventID()))
}

func eventIDs(events []event.PDU) []ref.EventID {
	ids := make([]ref.EventID, len(events))
	for i, pdu := range events {
		ids[i] = pdu.EventID()
	}
	return ids
}

func requireEventIDs(t *testing.T, got []event.PDU, want ...event.PDU) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d %v", len(got), eventIDs(got), len(want), eventIDs(want))
	}
	for i := range got {
		if got[i].EventID() != want[i].EventID() {
			t.Fatalf("event %d = %s, want %s (got %v)", i, got[i].EventID(), want[i].EventID(), eventIDs(got))
		}
	}
}
