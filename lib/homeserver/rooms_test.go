// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver_test

import (
	"context"
	"slices"
	"testing"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

func TestCreateRoomEventOrder(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")

	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{
		Name:   "Lobby",
		Topic:  "general chatter",
		Invite: []ref.UserID{bob.id},
		InitialState: []homeserver.InitialStateEvent{
			{Type: "org.example.setting", Content: map[string]any{"enabled": true}},
		},
	})

	page, err := f.server.Messages(context.Background(), alice.id, roomID, homeserver.MessagesRequest{Limit: 50})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	var types []ref.EventType
	for _, e := range page.Chunk {
		types = append(types, e.Type)
	}
	want := []ref.EventType{
		event.TypeCreate,
		event.TypeMember,
		event.TypePowerLevels,
		event.TypeJoinRules,
		event.TypeHistoryVisibility,
		event.TypeGuestAccess,
		"org.example.setting",
		event.TypeName,
		event.TypeTopic,
		event.TypeMember,
	}
	if !slices.Equal(types, want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	if invite := page.Chunk[len(page.Chunk)-1]; *invite.StateKey != bob.id.String() || invite.Content["membership"] != "invite" {
		t.Errorf("last event = %+v, want bob's invite", invite)
	}
}

func TestCreateRoomPresets(t *testing.T) {
	tests := []struct {
		preset        homeserver.Preset
		joinRule      string
		guestAccess   string
		bobCanJoin    bool
		inviteeIsPeer bool
	}{
		{homeserver.PresetPrivateChat, "invite", "can_join", false, false},
		{homeserver.PresetTrustedPrivateChat, "invite", "can_join", false, true},
		{homeserver.PresetPublicChat, "public", "forbidden", true, false},
	}
	for _, test := range tests {
		t.Run(string(test.preset), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			alice := f.register(t, "alice")
			bob := f.register(t, "bob")
			carol := f.register(t, "carol")
			roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Preset: test.preset, Invite: []ref.UserID{carol.id}})

			joinRules, err := f.server.StateEvent(ctx, alice.id, roomID, event.TypeJoinRules, "")
			if err != nil {
				t.Fatalf("StateEvent(join_rules): %v", err)
			}
			if joinRules["join_rule"] != test.joinRule {
				t.Errorf("join_rule = %v, want %s", joinRules["join_rule"], test.joinRule)
			}
			guestAccess, err := f.server.StateEvent(ctx, alice.id, roomID, event.TypeGuestAccess, "")
			if err != nil {
				t.Fatalf("StateEvent(guest_access): %v", err)
			}
			if guestAccess["guest_access"] != test.guestAccess {
				t.Errorf("guest_access = %v, want %s", guestAccess["guest_access"], test.guestAccess)
			}

			_, err = f.server.Join(ctx, bob.id, roomID)
			if test.bobCanJoin && err != nil {
				t.Errorf("uninvited join of %s room failed: %v", test.preset, err)
			}
			if !test.bobCanJoin {
				requireKind(t, err, matrixerr.KindUserNotInvited)
			}

			levels, err := f.server.StateEvent(ctx, alice.id, roomID, event.TypePowerLevels, "")
			if err != nil {
				t.Fatalf("StateEvent(power_levels): %v", err)
			}
			users, _ := levels["users"].(map[string]any)
			_, carolListed := users[carol.id.String()]
			if carolListed != test.inviteeIsPeer {
				t.Errorf("invitee in power levels users = %v, want %v", carolListed, test.inviteeIsPeer)
			}
		})
	}
}

func TestCreateRoomRejects(t *testing.T) {
	tests := []struct {
		name    string
		request homeserver.CreateRoomRequest
	}{
		{"unknown preset", homeserver.CreateRoomRequest{Preset: "secret_chat"}},
		{"unsupported version", homeserver.CreateRoomRequest{RoomVersion: "1"}},
		{"initial member", homeserver.CreateRoomRequest{InitialState: []homeserver.InitialStateEvent{
			{Type: event.TypeMember, StateKey: "@alice:test.local", Content: map[string]any{"membership": "join"}},
		}}},
		{"bad power level override", homeserver.CreateRoomRequest{PowerLevelContentOverride: map[string]any{"ban": "lots"}}},
	}
	f := newFixture(t)
	alice := f.register(t, "alice")
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := f.server.CreateRoom(context.Background(), alice.id, test.request)
			requireKind(t, err, matrixerr.KindBadJSON)
		})
	}
	rooms, err := f.store.Rooms(context.Background())
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("rejected requests created %d rooms", len(rooms))
	}
}

func TestPowerLevelOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{
		Preset:                    homeserver.PresetPublicChat,
		PowerLevelContentOverride: map[string]any{"events_default": 50},
	})
	f.join(t, bob, roomID)

	_, err := f.server.SendMessage(ctx, bob.token, bob.id, roomID, "m.room.message", "t1", map[string]any{"body": "hi"})
	requireKind(t, err, matrixerr.KindInsufficientPowerLevel)
	f.send(t, alice, roomID, "t1", "hello")
}

func TestJoinCarriesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	if err := f.server.SetDisplayName(ctx, alice.id, alice.id, "Alice"); err != nil {
		t.Fatalf("SetDisplayName: %v", err)
	}
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{})

	member, err := f.server.StateEvent(ctx, alice.id, roomID, event.TypeMember, alice.id.String())
	if err != nil {
		t.Fatalf("StateEvent: %v", err)
	}
	if member["displayname"] != "Alice" {
		t.Errorf("member content = %v, want displayname Alice", member)
	}
}

func TestKickAndBan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	carol := f.register(t, "carol")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Preset: homeserver.PresetPublicChat})
	f.join(t, bob, roomID)
	f.join(t, carol, roomID)

	_, err := f.server.Kick(ctx, bob.id, roomID, carol.id, "no")
	requireKind(t, err, matrixerr.KindInsufficientPowerLevel)

	if _, err := f.server.Kick(ctx, alice.id, roomID, carol.id, "spam"); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	// A kicked user may rejoin a public room; a banned one may not.
	f.join(t, carol, roomID)
	if _, err := f.server.Ban(ctx, alice.id, roomID, carol.id, "more spam"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	_, err = f.server.Join(ctx, carol.id, roomID)
	requireKind(t, err, matrixerr.KindUserBanned)

	members, err := f.server.Members(ctx, alice.id, roomID, homeserver.MembersFilter{Membership: event.MembershipBan})
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 1 || *members[0].StateKey != carol.id.String() || members[0].Content["reason"] != "more spam" {
		t.Errorf("banned members = %+v", members)
	}
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Preset: homeserver.PresetPublicChat})
	f.join(t, bob, roomID)

	if _, err := f.server.Leave(ctx, bob.id, roomID); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	_, err := f.server.SendMessage(ctx, bob.token, bob.id, roomID, "m.room.message", "t1", map[string]any{"body": "still here?"})
	requireKind(t, err, matrixerr.KindUserNotInRoom)
}
