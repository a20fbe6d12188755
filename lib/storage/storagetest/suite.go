// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storagetest is the conformance suite for storage.Storage.
// Every backend runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    storagetest.Run(t, func(t *testing.T, c clock.Clock) storage.Storage {
//	        return memstore.New(memstore.Config{Clock: c, PasswordParams: storagetest.PasswordParams})
//	    })
//	}
//
// Backends that pass it are interchangeable without behavior change.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
	"github.com/bureau-foundation/homeserver/lib/testutil"
)

// Factory opens a fresh, empty store that reads time from c. The
// factory is responsible for closing it (t.Cleanup).
type Factory func(t *testing.T, c clock.Clock) storage.Storage

// Run executes the conformance suite against stores from factory.
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		run  func(t *testing.T, store storage.Storage, c *clock.FakeClock)
	}{
		{"Users", testUsers},
		{"Profile", testProfile},
		{"AccountData", testAccountData},
		{"AccessTokens", testAccessTokens},
		{"Transactions", testTransactions},
		{"CreateRoom", testCreateRoom},
		{"AppendErrors", testAppendErrors},
		{"Frontier", testFrontier},
		{"TimelineOrder", testTimelineOrder},
		{"TimelineWindow", testTimelineWindow},
		{"StateMode", testStateMode},
		{"Filters", testFilters},
		{"ContainsJSON", testContainsJSON},
		{"Redaction", testRedaction},
		{"DerivedLookups", testDerivedLookups},
		{"WaitWakesOnAppend", testWaitWakesOnAppend},
		{"WaitReturnsImmediately", testWaitReturnsImmediately},
		{"WaitCancelled", testWaitCancelled},
		{"SubscribeWakes", testSubscribeWakes},
		{"Ephemeral", testEphemeral},
		{"TypingExpiry", testTypingExpiry},
		{"Batches", testBatches},
		{"ConcurrentRooms", testConcurrentRooms},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
			test.run(t, factory(t, fake), fake)
		})
	}
}

func requireKind(t *testing.T, err error, want matrixerr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want %s", want)
	}
	if got := matrixerr.KindOf(err); got != want {
		t.Fatalf("error kind = %s (%v), want %s", got, err, want)
	}
}

func createUser(t *testing.T, store storage.Storage, userID ref.UserID, password string) {
	t.Helper()
	if err := store.CreateUser(context.Background(), userID, []byte(password)); err != nil {
		t.Fatalf("CreateUser(%s): %v", userID, err)
	}
}

func testUsers(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	exists, err := store.UserExists(ctx, alice)
	if err != nil || exists {
		t.Fatalf("UserExists before create = %v, %v", exists, err)
	}
	createUser(t, store, alice, "password")
	exists, err = store.UserExists(ctx, alice)
	if err != nil || !exists {
		t.Fatalf("UserExists after create = %v, %v", exists, err)
	}
	requireKind(t, store.CreateUser(ctx, alice, []byte("other")), matrixerr.KindUsernameTaken)

	for _, test := range []struct {
		user     ref.UserID
		password string
		want     bool
	}{
		{alice, "password", true},
		{alice, "wrong", false},
		{alice, "", false},
		{bob, "password", false},
	} {
		ok, err := store.VerifyPassword(ctx, test.user, []byte(test.password))
		if err != nil {
			t.Fatalf("VerifyPassword(%s, %q): %v", test.user, test.password, err)
		}
		if ok != test.want {
			t.Errorf("VerifyPassword(%s, %q) = %v, want %v", test.user, test.password, ok, test.want)
		}
	}
}

func testProfile(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	_, err := store.Profile(ctx, alice)
	requireKind(t, err, matrixerr.KindUserNotFound)
	requireKind(t, store.SetDisplayName(ctx, alice, "Alice"), matrixerr.KindUserNotFound)

	createUser(t, store, alice, "password")
	profile, err := store.Profile(ctx, alice)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile != (storage.Profile{}) {
		t.Errorf("new profile = %+v, want empty", profile)
	}

	if err := store.SetDisplayName(ctx, alice, "Alice"); err != nil {
		t.Fatalf("SetDisplayName: %v", err)
	}
	if err := store.SetAvatarURL(ctx, alice, "mxc://test.local/abc"); err != nil {
		t.Fatalf("SetAvatarURL: %v", err)
	}
	if err := store.SetPresence(ctx, alice, storage.PresenceOnline); err != nil {
		t.Fatalf("SetPresence: %v", err)
	}
	profile, err = store.Profile(ctx, alice)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	want := storage.Profile{DisplayName: "Alice", AvatarURL: "mxc://test.local/abc", Presence: storage.PresenceOnline}
	if profile != want {
		t.Errorf("Profile = %+v, want %+v", profile, want)
	}

	if err := store.SetProfile(ctx, alice, storage.Profile{DisplayName: "A"}); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	profile, err = store.Profile(ctx, alice)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile != (storage.Profile{DisplayName: "A"}) {
		t.Errorf("SetProfile did not overwrite: %+v", profile)
	}
}

func testAccountData(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	requireKind(t, store.SetAccountData(ctx, alice, "m.direct", map[string]any{}), matrixerr.KindUserNotFound)
	createUser(t, store, alice, "password")

	_, err := store.AccountData(ctx, alice, "m.direct")
	requireKind(t, err, matrixerr.KindNotFound)

	if err := store.SetAccountData(ctx, alice, "m.direct", map[string]any{"room": "!a:test.local"}); err != nil {
		t.Fatalf("SetAccountData: %v", err)
	}
	if err := store.SetAccountData(ctx, alice, "org.example.settings", map[string]any{"theme": "dark"}); err != nil {
		t.Fatalf("SetAccountData: %v", err)
	}
	content, err := store.AccountData(ctx, alice, "m.direct")
	if err != nil {
		t.Fatalf("AccountData: %v", err)
	}
	if content["room"] != "!a:test.local" {
		t.Errorf("AccountData = %v", content)
	}
	all, err := store.AllAccountData(ctx, alice)
	if err != nil {
		t.Fatalf("AllAccountData: %v", err)
	}
	if len(all) != 2 || all["org.example.settings"]["theme"] != "dark" {
		t.Errorf("AllAccountData = %v", all)
	}
}

func testAccessTokens(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	_, err := store.CreateAccessToken(ctx, alice, "DEVICE")
	requireKind(t, err, matrixerr.KindUserNotFound)

	createUser(t, store, alice, "password")
	createUser(t, store, bob, "password")
	first, err := store.CreateAccessToken(ctx, alice, "AAAA0001")
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	second, err := store.CreateAccessToken(ctx, alice, "AAAA0002")
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	third, err := store.CreateAccessToken(ctx, alice, "AAAA0003")
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	bobs, err := store.CreateAccessToken(ctx, bob, "BBBB0001")
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	if first == second || first == "" {
		t.Fatalf("tokens not unique: %q %q", first, second)
	}

	session, ok, err := store.ResolveAccessToken(ctx, first)
	if err != nil || !ok {
		t.Fatalf("ResolveAccessToken = %v, %v", ok, err)
	}
	if session.UserID != alice || session.DeviceID != "AAAA0001" {
		t.Errorf("session = %+v", session)
	}
	if resolves(t, store, "not-a-token") {
		t.Error("unknown token resolved")
	}

	if err := store.DeleteAccessToken(ctx, first); err != nil {
		t.Fatalf("DeleteAccessToken: %v", err)
	}
	if resolves(t, store, first) {
		t.Error("deleted token still resolves")
	}
	if !resolves(t, store, second) {
		t.Error("deleting one token removed another")
	}
	if err := store.DeleteAccessToken(ctx, first); err != nil {
		t.Errorf("deleting an already deleted token: %v", err)
	}

	if err := store.DeleteAllAccessTokens(ctx, second); err != nil {
		t.Fatalf("DeleteAllAccessTokens: %v", err)
	}
	for _, token := range []string{second, third} {
		if resolves(t, store, token) {
			t.Errorf("token %s survived DeleteAllAccessTokens", token)
		}
	}
	if !resolves(t, store, bobs) {
		t.Error("DeleteAllAccessTokens removed another user's token")
	}
	requireKind(t, store.DeleteAllAccessTokens(ctx, second), matrixerr.KindUnknownToken)
}

// resolves reports whether token is bound to a session.
func resolves(t *testing.T, store storage.Storage, token string) bool {
	t.Helper()
	_, ok, err := store.ResolveAccessToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ResolveAccessToken(%q): %v", token, err)
	}
	return ok
}

func testTransactions(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	for _, test := range []struct {
		token, txn string
		want       bool
	}{
		{"token-a", "txn1", true},
		{"token-a", "txn1", false},
		{"token-a", "txn2", true},
		{"token-b", "txn1", true},
		{"token-b", "txn1", false},
	} {
		first, err := store.RecordTransaction(ctx, test.token, test.txn)
		if err != nil {
			t.Fatalf("RecordTransaction: %v", err)
		}
		if first != test.want {
			t.Errorf("RecordTransaction(%s, %s) = %v, want %v", test.token, test.txn, first, test.want)
		}
	}

	if err := store.ForgetTransaction(ctx, "token-a", "txn1"); err != nil {
		t.Fatalf("ForgetTransaction: %v", err)
	}
	if err := store.ForgetTransaction(ctx, "token-a", "never-recorded"); err != nil {
		t.Fatalf("ForgetTransaction(unrecorded): %v", err)
	}
	for _, test := range []struct {
		token, txn string
		want       bool
	}{
		{"token-a", "txn1", true},
		{"token-b", "txn1", false},
	} {
		first, err := store.RecordTransaction(ctx, test.token, test.txn)
		if err != nil {
			t.Fatalf("RecordTransaction after forget: %v", err)
		}
		if first != test.want {
			t.Errorf("after forget, RecordTransaction(%s, %s) = %v, want %v", test.token, test.txn, first, test.want)
		}
	}
}

func testCreateRoom(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	if _, err := store.CreateRoom(ctx, r.events[0]); err == nil {
		t.Fatal("CreateRoom accepted an existing room")
	} else {
		requireKind(t, err, matrixerr.KindInvalidEvent)
	}

	other := newRoom(t, store)
	rooms, err := store.Rooms(ctx)
	if err != nil {
		t.Fatalf("Rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("Rooms = %v, want 2 rooms", rooms)
	}
	found := map[ref.RoomID]bool{}
	for _, roomID := range rooms {
		found[roomID] = true
	}
	if !found[r.id] || !found[other.id] {
		t.Errorf("Rooms = %v, missing %s or %s", rooms, r.id, other.id)
	}

	pdu, err := store.PDU(ctx, r.events[0].EventID())
	if err != nil {
		t.Fatalf("PDU: %v", err)
	}
	if pdu.Type() != event.TypeCreate || pdu.RoomID() != r.id {
		t.Errorf("stored create = %s in %s", pdu.Type(), pdu.RoomID())
	}
	message := r.build(alice, event.TypeMessage, nil, map[string]any{"body": "x"}, ref.EventID{})
	if _, err := store.CreateRoom(ctx, message); err == nil {
		t.Error("CreateRoom accepted a non-create event")
	}
}

func testAppendErrors(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	message := r.build(alice, event.TypeMessage, nil, map[string]any{"body": "hi"}, ref.EventID{})

	missing, err := event.Build(event.RoomVersion4, event.Proto{
		RoomID:  ref.MustParseRoomID("!missing:test.local"),
		Sender:  alice,
		Type:    event.TypeMessage,
		Content: map[string]any{"body": "hi"},
		Depth:   2,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = store.AppendEvent(ctx, missing)
	requireKind(t, err, matrixerr.KindRoomNotFound)

	_, err = store.AppendEvent(ctx, r.events[0])
	requireKind(t, err, matrixerr.KindInvalidEvent)

	r.append(message)
	_, err = store.AppendEvent(ctx, message)
	requireKind(t, err, matrixerr.KindInvalidEvent)

	_, err = store.Event(ctx, ref.EventIDFromHash([32]byte{1}))
	requireKind(t, err, matrixerr.KindNotFound)
	_, err = store.PDU(ctx, ref.EventIDFromHash([32]byte{1}))
	requireKind(t, err, matrixerr.KindNotFound)
	_, err = store.Frontier(ctx, ref.MustParseRoomID("!missing:test.local"))
	requireKind(t, err, matrixerr.KindRoomNotFound)
	_, err = store.Query(ctx, storage.Query{RoomID: ref.MustParseRoomID("!missing:test.local")})
	requireKind(t, err, matrixerr.KindRoomNotFound)
}

func testFrontier(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	frontier, err := store.Frontier(ctx, r.id)
	if err != nil {
		t.Fatalf("Frontier: %v", err)
	}
	if len(frontier) != 1 || frontier[0] != r.events[0].EventID() {
		t.Fatalf("Frontier after create = %v", frontier)
	}

	last := r.message(alice, "one")
	frontier, err = store.Frontier(ctx, r.id)
	if err != nil {
		t.Fatalf("Frontier: %v", err)
	}
	if len(frontier) != 1 || frontier[0] != last.EventID() {
		t.Fatalf("Frontier after append = %v, want [%s]", frontier, last.EventID())
	}

	// A second event on the same parent forks the graph.
	fork, err := event.Build(event.RoomVersion4, event.Proto{
		RoomID:     r.id,
		Sender:     bob,
		Type:       event.TypeMessage,
		Content:    map[string]any{"body": "fork"},
		PrevEvents: []ref.EventID{r.events[0].EventID()},
		AuthEvents: []ref.EventID{r.events[0].EventID()},
		Depth:      2,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := store.AppendEvent(ctx, fork); err != nil {
		t.Fatalf("AppendEvent(fork): %v", err)
	}
	frontier, err = store.Frontier(ctx, r.id)
	if err != nil {
		t.Fatalf("Frontier: %v", err)
	}
	if len(frontier) != 2 {
		t.Fatalf("Frontier after fork = %v, want two leaves", frontier)
	}

	merge, err := event.Build(event.RoomVersion4, event.Proto{
		RoomID:     r.id,
		Sender:     alice,
		Type:       event.TypeMessage,
		Content:    map[string]any{"body": "merge"},
		PrevEvents: frontier,
		AuthEvents: []ref.EventID{r.events[0].EventID()},
		Depth:      3,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := store.AppendEvent(ctx, merge); err != nil {
		t.Fatalf("AppendEvent(merge): %v", err)
	}
	frontier, err = store.Frontier(ctx, r.id)
	if err != nil {
		t.Fatalf("Frontier: %v", err)
	}
	if len(frontier) != 1 || frontier[0] != merge.EventID() {
		t.Fatalf("Frontier after merge = %v, want [%s]", frontier, merge.EventID())
	}
}

func testTimelineOrder(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	for i := range 20 {
		r.message(alice, fmt.Sprintf("message %d", i))
	}
	result, err := store.Query(ctx, storage.Query{RoomID: r.id})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	requireEventIDs(t, result.Events, r.events...)
	if result.End != len(r.events) {
		t.Errorf("End = %d, want %d", result.End, len(r.events))
	}

	view, err := store.Event(ctx, r.events[5].EventID())
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if view.Content()["body"] != "message 4" {
		t.Errorf("Event content = %v", view.Content())
	}
}

func testTimelineWindow(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	for i := range 5 {
		r.message(alice, fmt.Sprintf("m%d", i))
	}
	// Timeline indexes: 0 create, 1..5 messages.
	tests := []struct {
		name     string
		from, to int
		want     []event.PDU
		wantEnd  int
	}{
		{"whole", 0, 0, r.events, 6},
		{"tail", 4, 0, r.events[4:], 6},
		{"middle", 2, 4, r.events[2:4], 4},
		{"past the end", 6, 0, nil, 6},
		{"to clamped", 3, 100, r.events[3:], 6},
		{"from after to", 5, 3, nil, 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := store.Query(ctx, storage.Query{RoomID: r.id, From: test.from, To: test.to})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			requireEventIDs(t, result.Events, test.want...)
			if result.End != test.wantEnd {
				t.Errorf("End = %d, want %d", result.End, test.wantEnd)
			}
		})
	}
}

func testStateMode(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	join := r.member(alice, event.MembershipJoin)
	oldTopic := r.state(alice, event.TypeTopic, "", map[string]any{"topic": "old"})
	r.message(alice, "hello")
	name := r.state(alice, event.TypeName, "", map[string]any{"name": "Room"})
	newTopic := r.state(alice, event.TypeTopic, "", map[string]any{"topic": "new"})

	result, err := store.Query(ctx, storage.Query{RoomID: r.id, Mode: storage.State})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	requireEventIDs(t, result.Events, r.events[0], join, name, newTopic)

	// As of index 4 (before the name and the second topic).
	result, err = store.Query(ctx, storage.Query{RoomID: r.id, Mode: storage.State, To: 4})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	requireEventIDs(t, result.Events, r.events[0], join, oldTopic)

	// From is ignored in state mode.
	result, err = store.Query(ctx, storage.Query{RoomID: r.id, Mode: storage.State, From: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Events) != 4 {
		t.Errorf("state query with From = %v", eventIDs(result.Events))
	}

	// Filters run after deduplication, so bob's filter does not
	// surface a superseded topic.
	r.state(bob, event.TypeTopic, "", map[string]any{"topic": "bob's"})
	result, err = store.Query(ctx, storage.Query{RoomID: r.id, Mode: storage.State, Senders: []ref.UserID{alice}, Types: []ref.EventType{event.TypeTopic}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Events) != 0 {
		t.Errorf("filtered state = %v, want none", eventIDs(result.Events))
	}
}

func testFilters(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	a1 := r.message(alice, "a1")
	b1 := r.message(bob, "b1")
	topic := r.state(carol, event.TypeTopic, "", map[string]any{"topic": "t"})
	a2 := r.message(alice, "a2")

	tests := []struct {
		name  string
		query storage.Query
		want  []event.PDU
	}{
		{"senders", storage.Query{Senders: []ref.UserID{alice}}, []event.PDU{r.events[0], a1, a2}},
		{"not senders", storage.Query{NotSenders: []ref.UserID{alice}}, []event.PDU{b1, topic}},
		{"types", storage.Query{Types: []ref.EventType{event.TypeTopic}}, []event.PDU{topic}},
		{"not types", storage.Query{NotTypes: []ref.EventType{event.TypeMessage, event.TypeCreate}}, []event.PDU{topic}},
		{"combined", storage.Query{Senders: []ref.UserID{alice, bob}, Types: []ref.EventType{event.TypeMessage}, NotSenders: []ref.UserID{bob}}, []event.PDU{a1, a2}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.query.RoomID = r.id
			result, err := store.Query(ctx, test.query)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			requireEventIDs(t, result.Events, test.want...)
		})
	}
}

func testContainsJSON(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	plain := r.message(alice, "plain")
	rich := r.append(r.build(alice, event.TypeMessage, nil, map[string]any{
		"msgtype": "m.text",
		"body":    "rich",
		"tags":    []any{"x", "y"},
		"meta":    map[string]any{"level": 3},
	}, ref.EventID{}))

	tests := []struct {
		name   string
		needle map[string]any
		want   []event.PDU
	}{
		{"body", map[string]any{"content": map[string]any{"body": "plain"}}, []event.PDU{plain}},
		{"nested number", map[string]any{"content": map[string]any{"meta": map[string]any{"level": 3}}}, []event.PDU{rich}},
		{"array subset", map[string]any{"content": map[string]any{"tags": []any{"y"}}}, []event.PDU{rich}},
		{"top level", map[string]any{"sender": alice.String(), "type": "m.room.message"}, []event.PDU{plain, rich}},
		{"no match", map[string]any{"content": map[string]any{"body": "absent"}}, nil},
		{"wrong shape", map[string]any{"content": "plain"}, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := store.Query(ctx, storage.Query{RoomID: r.id, ContainsJSON: test.needle})
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			requireEventIDs(t, result.Events, test.want...)
		})
	}
}

func testRedaction(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	target := r.message(bob, "regrettable")
	redaction := r.redact(alice, target)

	view, err := store.Event(ctx, target.EventID())
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if view.EventID() != target.EventID() {
		t.Errorf("redacted view changed ID: %s != %s", view.EventID(), target.EventID())
	}
	if len(view.Content()) != 0 {
		t.Errorf("redacted content = %v, want empty", view.Content())
	}
	because, ok := view.Unsigned()[event.UnsignedRedactedBecause].(map[string]any)
	if !ok {
		t.Fatalf("unsigned = %v, want %s", view.Unsigned(), event.UnsignedRedactedBecause)
	}
	if because["event_id"] != redaction.EventID().String() {
		t.Errorf("redacted_because.event_id = %v, want %s", because["event_id"], redaction.EventID())
	}

	original, err := store.PDU(ctx, target.EventID())
	if err != nil {
		t.Fatalf("PDU: %v", err)
	}
	if original.Content()["body"] != "regrettable" {
		t.Errorf("stored original was modified: %v", original.Content())
	}

	result, err := store.Query(ctx, storage.Query{RoomID: r.id, From: 1, To: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Events) != 1 || len(result.Events[0].Content()) != 0 {
		t.Errorf("query did not return the redacted view: %v", result.Events)
	}
	// The redacted view no longer matches its old content.
	result, err = store.Query(ctx, storage.Query{RoomID: r.id, ContainsJSON: map[string]any{"content": map[string]any{"body": "regrettable"}}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Events) != 0 {
		t.Errorf("redacted content still matched a filter")
	}

	// Redacting a state event keeps its allow-listed keys.
	member := r.state(bob, event.TypeMember, bob.String(), map[string]any{"membership": "join", "displayname": "Bob"})
	r.redact(alice, member)
	membership, err := storage.Membership(ctx, store, r.id, bob)
	if err != nil {
		t.Fatalf("Membership: %v", err)
	}
	if membership != event.MembershipJoin {
		t.Errorf("membership after redaction = %q, want join", membership)
	}
	view, err = store.Event(ctx, member.EventID())
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if _, ok := view.Content()["displayname"]; ok {
		t.Errorf("displayname survived redaction: %v", view.Content())
	}
}

func testDerivedLookups(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	r.member(alice, event.MembershipJoin)
	r.state(alice, event.TypeMember, bob.String(), map[string]any{"membership": "invite"})
	r.state(alice, event.TypeMember, carol.String(), map[string]any{"membership": "invite"})
	r.member(carol, event.MembershipJoin)
	topic := r.state(alice, event.TypeTopic, "", map[string]any{"topic": "t"})

	got, err := storage.StateEvent(ctx, store, r.id, event.TypeTopic, "")
	if err != nil {
		t.Fatalf("StateEvent: %v", err)
	}
	if got.EventID() != topic.EventID() {
		t.Errorf("StateEvent = %s, want %s", got.EventID(), topic.EventID())
	}
	_, err = storage.StateEvent(ctx, store, r.id, event.TypeName, "")
	requireKind(t, err, matrixerr.KindNotFound)
	_, err = storage.StateEvent(ctx, store, ref.MustParseRoomID("!missing:test.local"), event.TypeName, "")
	requireKind(t, err, matrixerr.KindRoomNotFound)

	full, err := storage.FullState(ctx, store, r.id)
	if err != nil {
		t.Fatalf("FullState: %v", err)
	}
	if len(full) != 5 {
		t.Errorf("FullState has %d events, want 5 (create, 3 members, topic)", len(full))
	}

	for user, want := range map[ref.UserID]event.Membership{alice: event.MembershipJoin, bob: event.MembershipInvite, carol: event.MembershipJoin} {
		got, err := storage.Membership(ctx, store, r.id, user)
		if err != nil {
			t.Fatalf("Membership(%s): %v", user, err)
		}
		if got != want {
			t.Errorf("Membership(%s) = %q, want %q", user, got, want)
		}
	}
	stranger, err := storage.Membership(ctx, store, r.id, ref.MustParseUserID("@dave:test.local"))
	if err != nil {
		t.Fatalf("Membership(stranger): %v", err)
	}
	if stranger != "" {
		t.Errorf("Membership of a stranger = %q, want empty", stranger)
	}

	joined, invited, err := storage.MemberCounts(ctx, store, r.id)
	if err != nil {
		t.Fatalf("MemberCounts: %v", err)
	}
	if joined != 2 || invited != 1 {
		t.Errorf("MemberCounts = %d joined, %d invited; want 2, 1", joined, invited)
	}
}

type queryOutcome struct {
	result storage.QueryResult
	err    error
}

func waitQuery(ctx context.Context, store storage.Storage, query storage.Query) <-chan queryOutcome {
	done := make(chan queryOutcome, 1)
	go func() {
		result, err := store.Query(ctx, query)
		done <- queryOutcome{result, err}
	}()
	return done
}

func testWaitWakesOnAppend(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	r := newRoom(t, store)
	r.message(alice, "before")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := waitQuery(ctx, store, storage.Query{RoomID: r.id, From: len(r.events), Wait: true})
	after := r.message(bob, "after")

	outcome := testutil.RequireReceive(t, done, 5*time.Second, "waiting query never returned")
	if outcome.err != nil {
		t.Fatalf("Query: %v", outcome.err)
	}
	requireEventIDs(t, outcome.result.Events, after)
	if outcome.result.End != len(r.events) {
		t.Errorf("End = %d, want %d", outcome.result.End, len(r.events))
	}
}

func testWaitReturnsImmediately(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	r := newRoom(t, store)
	pending := r.message(alice, "pending")
	done := waitQuery(context.Background(), store, storage.Query{RoomID: r.id, From: 1, Wait: true})
	outcome := testutil.RequireReceive(t, done, 5*time.Second, "query with available data blocked")
	if outcome.err != nil {
		t.Fatalf("Query: %v", outcome.err)
	}
	requireEventIDs(t, outcome.result.Events, pending)
}

func testWaitCancelled(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	r := newRoom(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	done := waitQuery(ctx, store, storage.Query{RoomID: r.id, From: 1, Wait: true})
	cancel()
	outcome := testutil.RequireReceive(t, done, 5*time.Second, "cancelled query never returned")
	if !errors.Is(outcome.err, context.Canceled) {
		t.Fatalf("Query error = %v, want context.Canceled", outcome.err)
	}
	if len(outcome.result.Events) != 0 {
		t.Errorf("cancelled query returned events: %v", eventIDs(outcome.result.Events))
	}
}

// testSubscribeWakes checks that a channel taken before a write is
// closed by it, for every kind of write that can wake a sync.
func testSubscribeWakes(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)

	wake := store.Subscribe(r.id)
	select {
	case <-wake:
		t.Fatal("wake channel closed before any write")
	default:
	}
	r.message(alice, "hello")
	testutil.RequireClosed(t, wake, 5*time.Second, "append did not close the wake channel")

	wake = store.Subscribe(r.id)
	if err := store.SetTyping(ctx, r.id, bob, true, 10*time.Second); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	testutil.RequireClosed(t, wake, 5*time.Second, "typing did not close the wake channel")

	wake = store.Subscribe(r.id)
	if err := store.SetEphemeral(ctx, r.id, "m.receipt", map[string]any{"read": true}); err != nil {
		t.Fatalf("SetEphemeral: %v", err)
	}
	testutil.RequireClosed(t, wake, 5*time.Second, "ephemeral update did not close the wake channel")
}

func testEphemeral(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	missing := ref.MustParseRoomID("!missing:test.local")

	_, err := store.Ephemeral(ctx, r.id, "m.receipt")
	requireKind(t, err, matrixerr.KindNotFound)
	_, err = store.Ephemeral(ctx, missing, "m.receipt")
	requireKind(t, err, matrixerr.KindRoomNotFound)
	requireKind(t, store.SetEphemeral(ctx, missing, "m.receipt", map[string]any{}), matrixerr.KindRoomNotFound)
	if err := store.SetEphemeral(ctx, r.id, event.TypeTyping, map[string]any{"user_ids": []any{}}); err == nil {
		t.Error("SetEphemeral accepted m.typing")
	}

	if err := store.SetEphemeral(ctx, r.id, "m.receipt", map[string]any{"read": "yes"}); err != nil {
		t.Fatalf("SetEphemeral: %v", err)
	}
	content, err := store.Ephemeral(ctx, r.id, "m.receipt")
	if err != nil || content["read"] != "yes" {
		t.Fatalf("Ephemeral = %v, %v", content, err)
	}
	all, err := store.AllEphemeral(ctx, r.id)
	if err != nil {
		t.Fatalf("AllEphemeral: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("AllEphemeral = %v, want m.receipt and m.typing", all)
	}
	if _, ok := all[event.TypeTyping]; !ok {
		t.Error("AllEphemeral is missing m.typing")
	}

	if err := store.SetEphemeral(ctx, r.id, "m.receipt", nil); err != nil {
		t.Fatalf("SetEphemeral(nil): %v", err)
	}
	_, err = store.Ephemeral(ctx, r.id, "m.receipt")
	requireKind(t, err, matrixerr.KindNotFound)
}

func typingUsers(t *testing.T, store storage.Storage, roomID ref.RoomID) []any {
	t.Helper()
	content, err := store.Ephemeral(context.Background(), roomID, event.TypeTyping)
	if err != nil {
		t.Fatalf("Ephemeral(m.typing): %v", err)
	}
	users, _ := content["user_ids"].([]any)
	return users
}

func testTypingExpiry(t *testing.T, store storage.Storage, fake *clock.FakeClock) {
	ctx := context.Background()
	r := newRoom(t, store)
	requireKind(t, store.SetTyping(ctx, ref.MustParseRoomID("!missing:test.local"), alice, true, time.Second), matrixerr.KindRoomNotFound)

	if users := typingUsers(t, store, r.id); len(users) != 0 {
		t.Fatalf("typing before any set = %v", users)
	}
	if err := store.SetTyping(ctx, r.id, bob, true, 10*time.Second); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if err := store.SetTyping(ctx, r.id, alice, true, 30*time.Second); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	users := typingUsers(t, store, r.id)
	if len(users) != 2 || users[0] != alice.String() || users[1] != bob.String() {
		t.Fatalf("typing = %v, want [alice bob]", users)
	}

	fake.Advance(10 * time.Second)
	users = typingUsers(t, store, r.id)
	if len(users) != 1 || users[0] != alice.String() {
		t.Fatalf("typing after bob's expiry = %v, want [alice]", users)
	}

	if err := store.SetTyping(ctx, r.id, alice, false, 0); err != nil {
		t.Fatalf("SetTyping(false): %v", err)
	}
	if users := typingUsers(t, store, r.id); len(users) != 0 {
		t.Fatalf("typing after clear = %v", users)
	}
}

func testBatches(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	if _, ok, err := store.Batch(ctx, "unknown"); err != nil || ok {
		t.Fatalf("Batch(unknown) = %v, %v", ok, err)
	}
	roomID := ref.MustParseRoomID("!a:test.local")
	batch := storage.Batch{
		Rooms:   map[string]int{roomID.String(): 7},
		Invites: map[string]bool{"!b:test.local": true},
	}
	if err := store.SetBatch(ctx, "token-1", batch); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}
	batch.Rooms[roomID.String()] = 100

	got, ok, err := store.Batch(ctx, "token-1")
	if err != nil || !ok {
		t.Fatalf("Batch = %v, %v", ok, err)
	}
	if got.Next(roomID) != 7 {
		t.Errorf("Next = %d, want 7 (stored batch must not alias the caller's)", got.Next(roomID))
	}
	if !got.InviteDelivered(ref.MustParseRoomID("!b:test.local")) {
		t.Error("invite delivery was not persisted")
	}
}

func testConcurrentRooms(t *testing.T, store storage.Storage, _ *clock.FakeClock) {
	ctx := context.Background()
	const perRoom = 25
	rooms := []*room{newRoom(t, store), newRoom(t, store), newRoom(t, store)}

	// Build every chain up front so the goroutines only append.
	chains := make([][]event.PDU, len(rooms))
	for i, r := range rooms {
		for j := range perRoom {
			pdu := r.build(alice, event.TypeMessage, nil, map[string]any{"body": fmt.Sprintf("%d/%d", i, j)}, ref.EventID{})
			r.last = pdu
			r.events = append(r.events, pdu)
			chains[i] = append(chains[i], pdu)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(rooms))
	for i := range rooms {
		wg.Add(1)
		go func(chain []event.PDU) {
			defer wg.Done()
			for _, pdu := range chain {
				if _, err := store.AppendEvent(ctx, pdu); err != nil {
					errs <- err
					return
				}
			}
		}(chains[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendEvent: %v", err)
	}

	for _, r := range rooms {
		result, err := store.Query(ctx, storage.Query{RoomID: r.id})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		requireEventIDs(t, result.Events, r.events...)
	}
}
