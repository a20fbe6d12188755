// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlstore is the durable SQLite implementation of
// storage.Storage, built on lib/sqlitepool.
//
// Rooms, events, users, tokens, transaction IDs, account data, and
// sync cursors live in the database. Events are stored as their CBOR
// envelope (event.Encode) and re-verified on load. Ephemeral data and
// typing state are non-persistent by definition and live in memory.
//
// Writes serialize on SQLite's single write lock; reads run in
// parallel on WAL snapshots. Waiting queries subscribe to the room's
// notifier before they evaluate, and writers notify after commit, so a
// waiter never misses a commit that lands after its read.
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/passwd"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/sqlitepool"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id       TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	avatar_url    TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	presence      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS access_tokens (
	token     TEXT PRIMARY KEY,
	user_id   TEXT NOT NULL REFERENCES users (user_id),
	device_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS access_tokens_by_user ON access_tokens (user_id);

CREATE TABLE IF NOT EXISTS transactions (
	token  TEXT NOT NULL,
	txn_id TEXT NOT NULL,
	PRIMARY KEY (token, txn_id)
);

CREATE TABLE IF NOT EXISTS account_data (
	user_id   TEXT NOT NULL REFERENCES users (user_id),
	data_type TEXT NOT NULL,
	content   BLOB NOT NULL,
	PRIMARY KEY (user_id, data_type)
);

CREATE TABLE IF NOT EXISTS batches (
	token TEXT PRIMARY KEY,
	batch BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	room_id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS events (
	event_id    TEXT PRIMARY KEY,
	room_id     TEXT NOT NULL REFERENCES rooms (room_id),
	idx         INTEGER NOT NULL,
	pdu         BLOB NOT NULL,
	redacted_by TEXT,
	UNIQUE (room_id, idx)
);

CREATE TABLE IF NOT EXISTS leaves (
	room_id  TEXT NOT NULL REFERENCES rooms (room_id),
	event_id TEXT NOT NULL,
	PRIMARY KEY (room_id, event_id)
);
`

// Config holds the parameters for opening a SQLite store.
type Config struct {
	// Path is the database file. Required.
	Path string
	// PoolSize is the connection pool size. See sqlitepool.Config.
	PoolSize int
	// Clock drives typing expiry. Defaults to the real clock.
	Clock clock.Clock
	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
	// PasswordParams are the argon2id costs for new credentials.
	// The zero value selects passwd.DefaultParams.
	PasswordParams passwd.Params
}

// Store is the SQLite backend.
type Store struct {
	pool           *sqlitepool.Pool
	logger         *slog.Logger
	passwordParams passwd.Params
	notifier       *storage.Notifier
	ephemera       *storage.Ephemera
}

var _ storage.Storage = (*Store)(nil)

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PasswordParams == (passwd.Params{}) {
		cfg.PasswordParams = passwd.DefaultParams
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %w", err)
	}
	return &Store{
		pool:           pool,
		logger:         cfg.Logger,
		passwordParams: cfg.PasswordParams,
		notifier:       storage.NewNotifier(),
		ephemera:       storage.NewEphemera(cfg.Clock),
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// columnBytes copies a BLOB column.
func columnBytes(stmt *sqlite.Stmt, column int) []byte {
	data := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, data)
	return data
}

// exists runs a query and reports whether it produced a row.
func exists(conn *sqlite.Conn, query string, args ...any) (bool, error) {
	found := false
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

func requireUser(conn *sqlite.Conn, userID ref.UserID) error {
	found, err := exists(conn, "SELECT 1 FROM users WHERE user_id = ?", userID.String())
	if err != nil {
		return err
	}
	if !found {
		return matrixerr.New(matrixerr.KindUserNotFound, "user %s does not exist", userID)
	}
	return nil
}

func requireRoom(conn *sqlite.Conn, roomID ref.RoomID) error {
	found, err := exists(conn, "SELECT 1 FROM rooms WHERE room_id = ?", roomID.String())
	if err != nil {
		return err
	}
	if !found {
		return matrixerr.New(matrixerr.KindRoomNotFound, "room %s does not exist", roomID)
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, userID ref.UserID, password []byte) error {
	hash, err := passwd.Hash(password, s.passwordParams)
	if err != nil {
		return matrixerr.Wrap(matrixerr.KindInternal, err, "hashing password")
	}
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		found, err := exists(conn, "SELECT 1 FROM users WHERE user_id = ?", userID.String())
		if err != nil {
			return err
		}
		if found {
			return matrixerr.New(matrixerr.KindUsernameTaken, "user %s already exists", userID)
		}
		return sqlitex.Execute(conn, "INSERT INTO users (user_id, password_hash) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{userID.String(), hash},
		})
	})
}

func (s *Store) UserExists(ctx context.Context, userID ref.UserID) (bool, error) {
	var found bool
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		found, err = exists(conn, "SELECT 1 FROM users WHERE user_id = ?", userID.String())
		return err
	})
	return found, err
}

func (s *Store) VerifyPassword(ctx context.Context, userID ref.UserID, password []byte) (bool, error) {
	var hash string
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT password_hash FROM users WHERE user_id = ?", &sqlitex.ExecOptions{
			Args: []any{userID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				hash = stmt.ColumnText(0)
				return nil
			},
		})
	})
	if err != nil || hash == "" {
		return false, err
	}
	ok, err := passwd.Verify(password, hash)
	if err != nil {
		return false, matrixerr.Wrap(matrixerr.KindInternal, err, "verifying password of "+userID.String())
	}
	return ok, nil
}

func (s *Store) Profile(ctx context.Context, userID ref.UserID) (storage.Profile, error) {
	var (
		profile storage.Profile
		found   bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT avatar_url, display_name, presence FROM users WHERE user_id = ?", &sqlitex.ExecOptions{
			Args: []any{userID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				profile = storage.Profile{
					AvatarURL:   stmt.ColumnText(0),
					DisplayName: stmt.ColumnText(1),
					Presence:    storage.Presence(stmt.ColumnText(2)),
				}
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return storage.Profile{}, err
	}
	if !found {
		return storage.Profile{}, matrixerr.New(matrixerr.KindUserNotFound, "user %s does not exist", userID)
	}
	return profile, nil
}

// updateUser runs an UPDATE against one user row and maps "no row" to
// UserNotFound.
func (s *Store) updateUser(ctx context.Context, userID ref.UserID, query string, args ...any) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: append(args, userID.String())}); err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return matrixerr.New(matrixerr.KindUserNotFound, "user %s does not exist", userID)
		}
		return nil
	})
}

func (s *Store) SetProfile(ctx context.Context, userID ref.UserID, profile storage.Profile) error {
	return s.updateUser(ctx, userID, "UPDATE users SET avatar_url = ?, display_name = ?, presence = ? WHERE user_id = ?",
		profile.AvatarURL, profile.DisplayName, string(profile.Presence))
}

func (s *Store) SetAvatarURL(ctx context.Context, userID ref.UserID, avatarURL string) error {
	return s.updateUser(ctx, userID, "UPDATE users SET avatar_url = ? WHERE user_id = ?", avatarURL)
}

func (s *Store) SetDisplayName(ctx context.Context, userID ref.UserID, displayName string) error {
	return s.updateUser(ctx, userID, "UPDATE users SET display_name = ? WHERE user_id = ?", displayName)
}

func (s *Store) SetPresence(ctx context.Context, userID ref.UserID, presence storage.Presence) error {
	return s.updateUser(ctx, userID, "UPDATE users SET presence = ? WHERE user_id = ?", string(presence))
}

func (s *Store) AccountData(ctx context.Context, userID ref.UserID, dataType string) (map[string]any, error) {
	var content map[string]any
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		if err := requireUser(conn, userID); err != nil {
			return err
		}
		return sqlitex.Execute(conn, "SELECT content FROM account_data WHERE user_id = ? AND data_type = ?", &sqlitex.ExecOptions{
			Args: []any{userID.String(), dataType},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				return codec.Unmarshal(columnBytes(stmt, 0), &content)
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, matrixerr.New(matrixerr.KindNotFound, "no %s account data for %s", dataType, userID)
	}
	return content, nil
}

func (s *Store) AllAccountData(ctx context.Context, userID ref.UserID) (map[string]map[string]any, error) {
	all := make(map[string]map[string]any)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		if err := requireUser(conn, userID); err != nil {
			return err
		}
		return sqlitex.Execute(conn, "SELECT data_type, content FROM account_data WHERE user_id = ?", &sqlitex.ExecOptions{
			Args: []any{userID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var content map[string]any
				if err := codec.Unmarshal(columnBytes(stmt, 1), &content); err != nil {
					return err
				}
				all[stmt.ColumnText(0)] = content
				return nil
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

func (s *Store) SetAccountData(ctx context.Context, userID ref.UserID, dataType string, content map[string]any) error {
	if content == nil {
		content = map[string]any{}
	}
	data, err := codec.Marshal(content)
	if err != nil {
		return matrixerr.Wrap(matrixerr.KindBadJSON, err, "account data")
	}
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := requireUser(conn, userID); err != nil {
			return err
		}
		return sqlitex.Execute(conn, `INSERT INTO account_data (user_id, data_type, content) VALUES (?, ?, ?)
			ON CONFLICT (user_id, data_type) DO UPDATE SET content = excluded.content`, &sqlitex.ExecOptions{
			Args: []any{userID.String(), dataType, data},
		})
	})
}

func (s *Store) CreateAccessToken(ctx context.Context, userID ref.UserID, deviceID string) (string, error) {
	token := storage.NewAccessToken()
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := requireUser(conn, userID); err != nil {
			return err
		}
		return sqlitex.Execute(conn, "INSERT INTO access_tokens (token, user_id, device_id) VALUES (?, ?, ?)", &sqlitex.ExecOptions{
			Args: []any{token, userID.String(), deviceID},
		})
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM access_tokens WHERE token = ?", &sqlitex.ExecOptions{Args: []any{token}})
	})
}

func (s *Store) DeleteAllAccessTokens(ctx context.Context, token string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		var owner string
		err := sqlitex.Execute(conn, "SELECT user_id FROM access_tokens WHERE token = ?", &sqlitex.ExecOptions{
			Args: []any{token},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				owner = stmt.ColumnText(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		if owner == "" {
			return matrixerr.New(matrixerr.KindUnknownToken, "unknown access token")
		}
		return sqlitex.Execute(conn, "DELETE FROM access_tokens WHERE user_id = ?", &sqlitex.ExecOptions{Args: []any{owner}})
	})
}

func (s *Store) ResolveAccessToken(ctx context.Context, token string) (storage.Session, bool, error) {
	var (
		session storage.Session
		found   bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT user_id, device_id FROM access_tokens WHERE token = ?", &sqlitex.ExecOptions{
			Args: []any{token},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				userID, err := ref.ParseUserID(stmt.ColumnText(0))
				if err != nil {
					return matrixerr.Wrap(matrixerr.KindInternal, err, "stored token owner")
				}
				session = storage.Session{UserID: userID, DeviceID: stmt.ColumnText(1)}
				found = true
				return nil
			},
		})
	})
	return session, found, err
}

func (s *Store) RecordTransaction(ctx context.Context, token, txnID string) (bool, error) {
	var first bool
	err := s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO transactions (token, txn_id) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{token, txnID},
		})
		first = conn.Changes() == 1
		return err
	})
	return first, err
}

func (s *Store) ForgetTransaction(ctx context.Context, token, txnID string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "DELETE FROM transactions WHERE token = ? AND txn_id = ?", &sqlitex.ExecOptions{
			Args: []any{token, txnID},
		})
	})
}

func (s *Store) Batch(ctx context.Context, token string) (storage.Batch, bool, error) {
	var (
		batch storage.Batch
		found bool
	)
	err := s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT batch FROM batches WHERE token = ?", &sqlitex.ExecOptions{
			Args: []any{token},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				return codec.Unmarshal(columnBytes(stmt, 0), &batch)
			},
		})
	})
	if err != nil || !found {
		return storage.Batch{}, false, err
	}
	return batch.Clone(), true, nil
}

func (s *Store) SetBatch(ctx context.Context, token string, batch storage.Batch) error {
	data, err := codec.Marshal(batch)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding batch: %w", err)
	}
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `INSERT INTO batches (token, batch) VALUES (?, ?)
			ON CONFLICT (token) DO UPDATE SET batch = excluded.batch`, &sqlitex.ExecOptions{
			Args: []any{token, data},
		})
	})
}

func (s *Store) roomExists(ctx context.Context, roomID ref.RoomID) error {
	return s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return requireRoom(conn, roomID)
	})
}

func (s *Store) Ephemeral(ctx context.Context, roomID ref.RoomID, eventType ref.EventType) (map[string]any, error) {
	if err := s.roomExists(ctx, roomID); err != nil {
		return nil, err
	}
	content, ok := s.ephemera.Get(roomID, eventType)
	if !ok {
		return nil, matrixerr.New(matrixerr.KindNotFound, "no %s ephemeral data in %s", eventType, roomID)
	}
	return content, nil
}

func (s *Store) AllEphemeral(ctx context.Context, roomID ref.RoomID) (map[ref.EventType]map[string]any, error) {
	if err := s.roomExists(ctx, roomID); err != nil {
		return nil, err
	}
	return s.ephemera.All(roomID), nil
}

func (s *Store) SetEphemeral(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content map[string]any) error {
	if err := s.roomExists(ctx, roomID); err != nil {
		return err
	}
	if err := s.ephemera.Set(roomID, eventType, content); err != nil {
		return err
	}
	s.notifier.Notify(roomID)
	return nil
}

func (s *Store) SetTyping(ctx context.Context, roomID ref.RoomID, userID ref.UserID, typing bool, timeout time.Duration) error {
	if err := s.roomExists(ctx, roomID); err != nil {
		return err
	}
	s.ephemera.SetTyping(roomID, userID, typing, timeout)
	s.notifier.Notify(roomID)
	return nil
}
