// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
	"github.com/bureau-foundation/homeserver/lib/testutil"
)

type syncResult struct {
	response homeserver.SyncResponse
	err      error
}

// startSync runs Sync in a goroutine and waits until it has armed its
// timeout, so the test can append or advance the clock deterministically.
func (f *fixture) startSync(t *testing.T, ctx context.Context, server *homeserver.Server, userID ref.UserID, request homeserver.SyncRequest) <-chan syncResult {
	t.Helper()
	results := make(chan syncResult, 1)
	go func() {
		response, err := server.Sync(ctx, userID, request)
		results <- syncResult{response, err}
	}()
	f.clock.WaitForTimers(1)
	return results
}

func (f *fixture) sync(t *testing.T, userID ref.UserID, since string) homeserver.SyncResponse {
	t.Helper()
	response, err := f.server.Sync(context.Background(), userID, homeserver.SyncRequest{Since: since})
	if err != nil {
		t.Fatalf("Sync(%q): %v", since, err)
	}
	return response
}

func receiveSync(t *testing.T, results <-chan syncResult) homeserver.SyncResponse {
	t.Helper()
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for sync")
	if result.err != nil {
		t.Fatalf("Sync: %v", result.err)
	}
	return result.response
}

func TestSyncZeroRoomsTimesOut(t *testing.T) {
	f := newFixture(t)
	bob := f.register(t, "bob")

	results := f.startSync(t, context.Background(), f.server, bob.id, homeserver.SyncRequest{Timeout: 50 * time.Millisecond})
	f.clock.Advance(50 * time.Millisecond)
	response := receiveSync(t, results)

	if len(response.Rooms.Join)+len(response.Rooms.Invite)+len(response.Rooms.Leave) != 0 {
		t.Errorf("rooms = %+v, want empty", response.Rooms)
	}
	if _, ok, err := f.store.Batch(context.Background(), response.NextBatch); err != nil || !ok {
		t.Errorf("next_batch %q was not persisted (ok=%v, err=%v)", response.NextBatch, ok, err)
	}
	// The cursor is usable for the next call.
	f.sync(t, bob.id, response.NextBatch)
}

func TestSyncInitialAndIncremental(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Name: "Lobby"})
	f.send(t, alice, roomID, "t0", "m0")

	initial := f.sync(t, alice.id, "")
	room, ok := initial.Rooms.Join[roomID.String()]
	if !ok {
		t.Fatalf("initial sync has no %s: %+v", roomID, initial.Rooms)
	}
	if room.Timeline.Events[0].Type != event.TypeCreate {
		t.Errorf("first timeline event = %s, want the create event", room.Timeline.Events[0].Type)
	}
	if got := bodies(room.Timeline.Events); !slices.Equal(got, []string{"m0"}) {
		t.Errorf("initial bodies = %v", got)
	}
	if room.Summary.JoinedMemberCount != 1 || room.Summary.InvitedMemberCount != 0 {
		t.Errorf("summary = %+v", room.Summary)
	}
	if room.Timeline.PrevBatch != "0" {
		t.Errorf("prev_batch = %q, want 0", room.Timeline.PrevBatch)
	}

	caughtUp := f.sync(t, alice.id, initial.NextBatch)
	if len(caughtUp.Rooms.Join) != 0 {
		t.Errorf("sync with nothing new returned %+v", caughtUp.Rooms.Join)
	}

	f.send(t, alice, roomID, "t1", "m1")
	incremental := f.sync(t, alice.id, caughtUp.NextBatch)
	room = incremental.Rooms.Join[roomID.String()]
	if len(room.Timeline.Events) != 1 || bodies(room.Timeline.Events)[0] != "m1" {
		t.Errorf("incremental timeline = %+v, want just m1", room.Timeline.Events)
	}

	// prev_batch pages back into what came before.
	page, err := f.server.Messages(context.Background(), alice.id, roomID, homeserver.MessagesRequest{
		From: room.Timeline.PrevBatch, Dir: homeserver.Backward, Limit: 1,
	})
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if got := bodies(page.Chunk); !slices.Equal(got, []string{"m0"}) {
		t.Errorf("page before m1 = %v, want [m0]", got)
	}
}

func TestSyncFullState(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Topic: "things"})
	first := f.sync(t, alice.id, "")

	response, err := f.server.Sync(context.Background(), alice.id, homeserver.SyncRequest{Since: first.NextBatch, FullState: true})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	room := response.Rooms.Join[roomID.String()]
	if len(room.Timeline.Events) != 0 {
		t.Errorf("timeline = %d events, want none", len(room.Timeline.Events))
	}
	if !slices.ContainsFunc(room.State.Events, func(e event.ClientEvent) bool { return e.Type == event.TypeTopic }) {
		t.Errorf("full state has no topic: %+v", room.State.Events)
	}
}

func TestSyncWakesOnAppend(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Preset: homeserver.PresetPublicChat})
	f.join(t, bob, roomID)
	since := f.sync(t, bob.id, "").NextBatch

	results := f.startSync(t, context.Background(), f.server, bob.id, homeserver.SyncRequest{Since: since, Timeout: time.Minute})
	f.send(t, alice, roomID, "t1", "wake up")
	response := receiveSync(t, results)

	room, ok := response.Rooms.Join[roomID.String()]
	if !ok {
		t.Fatalf("woken sync has no %s", roomID)
	}
	if got := bodies(room.Timeline.Events); !slices.Equal(got, []string{"wake up"}) {
		t.Errorf("bodies = %v, want [wake up]", got)
	}

	// The delivered event is not delivered again.
	again := f.sync(t, bob.id, response.NextBatch)
	if len(again.Rooms.Join) != 0 {
		t.Errorf("event redelivered: %+v", again.Rooms.Join)
	}
}

func TestSyncWakeReturnsOneRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	quiet := f.createRoom(t, alice, homeserver.CreateRoomRequest{})
	busy := f.createRoom(t, alice, homeserver.CreateRoomRequest{})
	since := f.sync(t, alice.id, "").NextBatch

	results := f.startSync(t, context.Background(), f.server, alice.id, homeserver.SyncRequest{Since: since, Timeout: time.Minute})
	f.send(t, alice, busy, "t1", "busy")
	response := receiveSync(t, results)

	if _, ok := response.Rooms.Join[quiet.String()]; ok {
		t.Errorf("quiet room included in woken sync")
	}
	if len(response.Rooms.Join) != 1 {
		t.Errorf("joined rooms = %d, want 1", len(response.Rooms.Join))
	}
}

func TestSyncWakesOnTyping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Preset: homeserver.PresetPublicChat})
	f.join(t, bob, roomID)
	since := f.sync(t, alice.id, "").NextBatch

	results := f.startSync(t, ctx, f.server, alice.id, homeserver.SyncRequest{Since: since, Timeout: time.Minute})
	if err := f.server.SetTyping(ctx, bob.id, bob.id, roomID, true, 0); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	response := receiveSync(t, results)

	room := response.Rooms.Join[roomID.String()]
	if len(room.Timeline.Events) != 0 {
		t.Errorf("typing wake delivered timeline events: %+v", room.Timeline.Events)
	}
	index := slices.IndexFunc(room.Ephemeral.Events, func(e homeserver.EphemeralEvent) bool { return e.Type == event.TypeTyping })
	if index < 0 {
		t.Fatalf("no m.typing in %+v", room.Ephemeral.Events)
	}
	users, _ := room.Ephemeral.Events[index].Content["user_ids"].([]any)
	if len(users) != 1 || users[0] != bob.id.String() {
		t.Errorf("typing users = %v, want [bob]", users)
	}
}

func TestSyncTimerWins(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	f.createRoom(t, alice, homeserver.CreateRoomRequest{})
	since := f.sync(t, alice.id, "").NextBatch

	results := f.startSync(t, context.Background(), f.server, alice.id, homeserver.SyncRequest{Since: since, Timeout: 10 * time.Second})
	f.clock.Advance(10 * time.Second)
	response := receiveSync(t, results)
	if len(response.Rooms.Join) != 0 {
		t.Errorf("timed-out sync returned rooms: %+v", response.Rooms.Join)
	}
	if response.NextBatch == since {
		t.Errorf("next_batch was not renewed")
	}
}

func TestSyncTimeoutCapped(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	server, err := homeserver.New(homeserver.Config{
		ServerName:     serverName,
		Store:          f.store,
		Clock:          f.clock,
		MaxSyncTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	results := f.startSync(t, context.Background(), server, alice.id, homeserver.SyncRequest{Timeout: time.Hour})
	f.clock.Advance(time.Second)
	receiveSync(t, results)
}

func TestSyncCanceled(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	f.createRoom(t, alice, homeserver.CreateRoomRequest{})
	since := f.sync(t, alice.id, "").NextBatch

	ctx, cancel := context.WithCancel(context.Background())
	results := f.startSync(t, ctx, f.server, alice.id, homeserver.SyncRequest{Since: since, Timeout: time.Minute})
	cancel()
	result := testutil.RequireReceive(t, results, 5*time.Second, "waiting for canceled sync")
	if !errors.Is(result.err, context.Canceled) {
		t.Errorf("Sync error = %v, want context.Canceled", result.err)
	}
}

func TestSyncInviteDeliveredOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Name: "Secret", Invite: []ref.UserID{bob.id}})

	first := f.sync(t, bob.id, "")
	invited, ok := first.Rooms.Invite[roomID.String()]
	if !ok {
		t.Fatalf("no invite in %+v", first.Rooms)
	}
	var name string
	for _, stripped := range invited.InviteState.Events {
		if stripped.Type == event.TypeName {
			name, _ = stripped.Content["name"].(string)
		}
	}
	if name != "Secret" {
		t.Errorf("invite state name = %q, want Secret", name)
	}
	if _, ok := first.Rooms.Join[roomID.String()]; ok {
		t.Errorf("invited room listed as joined")
	}

	second := f.sync(t, bob.id, first.NextBatch)
	if len(second.Rooms.Invite) != 0 {
		t.Errorf("invite delivered twice: %+v", second.Rooms.Invite)
	}

	// Joining delivers the room's whole timeline.
	f.join(t, bob, roomID)
	third := f.sync(t, bob.id, second.NextBatch)
	if room, ok := third.Rooms.Join[roomID.String()]; !ok || len(room.Timeline.Events) == 0 {
		t.Errorf("joined room after invite = %+v", third.Rooms.Join)
	}
}

func TestSyncLeaveDeliveredOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	roomID := f.createRoom(t, alice, homeserver.CreateRoomRequest{Preset: homeserver.PresetPublicChat})
	f.join(t, bob, roomID)
	since := f.sync(t, bob.id, "").NextBatch

	if _, err := f.server.Kick(context.Background(), alice.id, roomID, bob.id, "bye"); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	f.send(t, alice, roomID, "t1", "after bob left")

	response := f.sync(t, bob.id, since)
	left, ok := response.Rooms.Leave[roomID.String()]
	if !ok {
		t.Fatalf("no leave in %+v", response.Rooms)
	}
	events := left.Timeline.Events
	if len(events) == 0 {
		t.Fatalf("leave timeline is empty")
	}
	last := events[len(events)-1]
	if last.Type != event.TypeMember || last.Content["membership"] != "leave" {
		t.Errorf("last left event = %+v, want bob's leave", last)
	}
	if got := bodies(events); len(got) != 0 {
		t.Errorf("leave timeline includes later messages %v", got)
	}

	again := f.sync(t, bob.id, response.NextBatch)
	if len(again.Rooms.Leave) != 0 {
		t.Errorf("leave delivered twice")
	}
}

func TestInitialSyncAccountSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice")
	if err := f.server.SetAccountData(ctx, alice.id, alice.id, "m.direct", map[string]any{"x": "y"}); err != nil {
		t.Fatalf("SetAccountData: %v", err)
	}
	if err := f.server.SetPresence(ctx, alice.id, alice.id, storage.PresenceOnline); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}

	initial := f.sync(t, alice.id, "")
	if len(initial.AccountData.Events) != 1 || initial.AccountData.Events[0].Type != "m.direct" {
		t.Errorf("account data = %+v", initial.AccountData.Events)
	}
	if len(initial.Presence.Events) != 1 || initial.Presence.Events[0].Content["presence"] != "online" {
		t.Errorf("presence = %+v", initial.Presence.Events)
	}

	incremental := f.sync(t, alice.id, initial.NextBatch)
	if len(incremental.AccountData.Events) != 0 || len(incremental.Presence.Events) != 0 {
		t.Errorf("incremental sync repeated the account snapshot")
	}
}
