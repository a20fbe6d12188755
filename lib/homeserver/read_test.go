// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver_test

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

func TestReadsRequireJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	carol := f.register(t, "carol")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Invite: []ref.UserID{carol.id}})
	eventID := f.send(t, alice, roomID, "t1", "members only")

	reads := map[string]func(ref.UserID) error{
		"State": func(userID ref.UserID) error {
			_, err := f.server.State(ctx, userID, roomID)
			return err
		},
		"StateEvent": func(userID ref.UserID) error {
			_, err := f.server.StateEvent(ctx, userID, roomID, event.TypeCreate, "")
			return err
		},
		"Members": func(userID ref.UserID) error {
			_, err := f.server.Members(ctx, userID, roomID, homeserver.MembersFilter{})
			return err
		},
		"Messages": func(userID ref.UserID) error {
			_, err := f.server.Messages(ctx, userID, roomID, homeserver.MessagesRequest{})
			return err
		},
	}
	for name, read := range reads {
		t.Run(name, func(t *testing.T) {
			if err := read(alice.id); err != nil {
				t.Errorf("joined member: %v", err)
			}
			requireKind(t, read(bob.id), matrixerr.KindForbidden)
			requireKind(t, read(carol.id), matrixerr.KindUnimplemented)
		})
	}

	_, err := f.server.Event(ctx, bob.id, eventID)
	requireKind(t, err, matrixerr.KindForbidden)
}

func TestStateEventNotFound(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{})
	_, err := f.server.StateEvent(context.Background(), alice.id, roomID, event.TypeTopic, "")
	requireKind(t, err, matrixerr.KindNotFound)
}

func TestStateAndMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	carol := f.register(t, "carol")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{
		Preset: homeserver.PresetPublicChat,
		Name:   "Lobby",
		Invite: []ref.UserID{carol.id},
	})
	f.join(t, bob, roomID)
	if _, err := f.server.SendStateEvent(ctx, alice.id, roomID, event.TypeName, "", map[string]any{"name": "Renamed"}); err != nil {
		t.Fatalf("SendStateEvent: %v", err)
	}

	state, err := f.server.State(ctx, alice.id, roomID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	names := 0
	for _, e := range state {
		if e.Type == event.TypeName {
			names++
			if e.Content["name"] != "Renamed" {
				t.Errorf("current name = %v, want Renamed", e.Content["name"])
			}
		}
	}
	if names != 1 {
		t.Errorf("state has %d name events, want 1", names)
	}

	tests := []struct {
		filter homeserver.MembersFilter
		want   []ref.UserID
	}{
		{homeserver.MembersFilter{}, []ref.UserID{alice.id, bob.id, carol.id}},
		{homeserver.MembersFilter{Membership: event.MembershipJoin}, []ref.UserID{alice.id, bob.id}},
		{homeserver.MembersFilter{NotMembership: event.MembershipJoin}, []ref.UserID{carol.id}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%+v", test.filter), func(t *testing.T) {
			members, err := f.server.Members(ctx, bob.id, roomID, test.filter)
			if err != nil {
				t.Fatalf("Members: %v", err)
			}
			var got []ref.UserID
			for _, member := range members {
				got = append(got, ref.MustParseUserID(*member.StateKey))
			}
			slices.SortFunc(got, func(a, b ref.UserID) int {
				return strings.Compare(a.String(), b.String())
			})
			if !slices.Equal(got, test.want) {
				t.Errorf("members = %v, want %v", got, test.want)
			}
		})
	}
}

func TestMessagesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{})
	for i := range 5 {
		f.send(t, alice, roomID, fmt.Sprintf("t%d", i), fmt.Sprintf("m%d", i))
	}
	onlyMessages := []ref.EventType{"m.room.message"}

	// Backwards from the end, two positions at a time.
	var backward []string
	from := ""
	for {
		page, err := f.server.Messages(ctx, alice.id, roomID, homeserver.MessagesRequest{
			From: from, Dir: homeserver.Backward, Limit: 2, Types: onlyMessages,
		})
		if err != nil {
			t.Fatalf("Messages(b, %q): %v", from, err)
		}
		backward = append(backward, bodies(page.Chunk)...)
		if page.End == page.Start {
			break
		}
		from = page.End
	}
	if want := []string{"m4", "m3", "m2", "m1", "m0"}; !slices.Equal(backward, want) {
		t.Errorf("backward = %v, want %v", backward, want)
	}

	// Forwards from the start.
	var forward []string
	from = "0"
	for {
		page, err := f.server.Messages(ctx, alice.id, roomID, homeserver.MessagesRequest{
			From: from, Dir: homeserver.Forward, Limit: 3, Types: onlyMessages,
		})
		if err != nil {
			t.Fatalf("Messages(f, %q): %v", from, err)
		}
		forward = append(forward, bodies(page.Chunk)...)
		if page.End == page.Start {
			break
		}
		from = page.End
	}
	if want := []string{"m0", "m1", "m2", "m3", "m4"}; !slices.Equal(forward, want) {
		t.Errorf("forward = %v, want %v", forward, want)
	}

	_, err := f.server.Messages(ctx, alice.id, roomID, homeserver.MessagesRequest{From: "not-a-token"})
	requireKind(t, err, matrixerr.KindBadJSON)
	_, err = f.server.Messages(ctx, alice.id, roomID, homeserver.MessagesRequest{Dir: "sideways"})
	requireKind(t, err, matrixerr.KindBadJSON)
}

func TestMessagesContainsJSON(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{})
	f.send(t, alice, roomID, "t1", "keep")
	f.send(t, alice, roomID, "t2", "drop")

	page, err := f.server.Messages(context.Background(), alice.id, roomID, homeserver.MessagesRequest{
		Limit:        100,
		ContainsJSON: map[string]any{"content": map[string]any{"body": "keep"}},
	})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if got := bodies(page.Chunk); !slices.Equal(got, []string{"keep"}) {
		t.Errorf("bodies = %v, want [keep]", got)
	}
}
