// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
	"github.com/bureau-foundation/homeserver/lib/storage/sqlstore"
	"github.com/bureau-foundation/homeserver/lib/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, c clock.Clock) storage.Storage {
		store, err := sqlstore.Open(sqlstore.Config{
			Path:           filepath.Join(t.TempDir(), "homeserver.db"),
			PoolSize:       4,
			Clock:          c,
			PasswordParams: storagetest.PasswordParams,
		})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() {
			if err := store.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
		return store
	})
}

func TestReopenKeepsUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homeserver.db")
	ctx := context.Background()
	alice := ref.MustParseUserID("@alice:test.local")

	store, err := sqlstore.Open(sqlstore.Config{Path: path, PasswordParams: storagetest.PasswordParams})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.CreateUser(ctx, alice, []byte("secret")); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := store.CreateAccessToken(ctx, alice, "DEVICE01")
	if err != nil {
		t.Fatalf("CreateAccessToken: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = sqlstore.Open(sqlstore.Config{Path: path, PasswordParams: storagetest.PasswordParams})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	ok, err := store.VerifyPassword(ctx, alice, []byte("secret"))
	if err != nil || !ok {
		t.Fatalf("VerifyPassword after reopen = %v, %v", ok, err)
	}
	session, found, err := store.ResolveAccessToken(ctx, token)
	if err != nil || !found {
		t.Fatalf("ResolveAccessToken after reopen = %v, %v", found, err)
	}
	if session.UserID != alice || session.DeviceID != "DEVICE01" {
		t.Errorf("session = %+v", session)
	}
}
