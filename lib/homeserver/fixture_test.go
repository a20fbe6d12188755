// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
	"github.com/bureau-foundation/homeserver/lib/storage/memstore"
	"github.com/bureau-foundation/homeserver/lib/storage/storagetest"
)

var serverName = ref.MustParseServerName("test.local")

type fixture struct {
	server *homeserver.Server
	store  storage.Storage
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := memstore.New(memstore.Config{Clock: fakeClock, PasswordParams: storagetest.PasswordParams})
	t.Cleanup(func() { store.Close() })
	server, err := homeserver.New(homeserver.Config{
		ServerName: serverName,
		Store:      store,
		Clock:      fakeClock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{server: server, store: store, clock: fakeClock}
}

// user is a registered account with a live access token.
type user struct {
	id    ref.UserID
	token string
}

func (f *fixture) register(t *testing.T, localpart string) user {
	t.Helper()
	credentials, err := f.server.Register(context.Background(), homeserver.RegisterRequest{
		Username: localpart,
		Password: "secret-" + localpart,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", localpart, err)
	}
	return user{id: credentials.UserID, token: credentials.AccessToken}
}

func (f *fixture) createRoom(t *testing.T, creator user, request homeserver.CreateRoomRequest) ref.RoomID {
	t.Helper()
	roomID, err := f.server.CreateRoom(context.Background(), creator.id, request)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return roomID
}

func (f *fixture) join(t *testing.T, member user, roomID ref.RoomID) {
	t.Helper()
	if _, err := f.server.Join(context.Background(), member.id, roomID); err != nil {
		t.Fatalf("Join(%s): %v", member.id, err)
	}
}

func (f *fixture) send(t *testing.T, sender user, roomID ref.RoomID, txnID, body string) ref.EventID {
	t.Helper()
	pdu, err := f.server.SendMessage(context.Background(), sender.token, sender.id, roomID, "m.room.message", txnID,
		map[string]any{"msgtype": "m.text", "body": body})
	if err != nil {
		t.Fatalf("SendMessage(%s): %v", txnID, err)
	}
	return pdu.EventID()
}

// requireKind fails unless err carries kind.
func requireKind(t *testing.T, err error, kind matrixerr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("got nil error, want %v", kind)
	}
	var matrixErr *matrixerr.Error
	if !errors.As(err, &matrixErr) {
		t.Fatalf("error %v is not a *matrixerr.Error", err)
	}
	if matrixErr.Kind != kind {
		t.Fatalf("error kind = %v (%v), want %v", matrixErr.Kind, err, kind)
	}
}

// bodies returns the body of every event that has one, in order.
func bodies(events []event.ClientEvent) []string {
	var result []string
	for _, e := range events {
		if body, ok := e.Content["body"].(string); ok {
			result = append(result, body)
		}
	}
	return result
}
