// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package boltstore is the durable embedded key/value implementation
// of storage.Storage, built on bbolt.
//
// Every concern has its own top-level bucket and values are CBOR.
// Each room owns a nested bucket whose "timeline" sub-bucket maps a
// big-endian index to an event ID and whose "leaves" sub-bucket holds
// the frontier. Event envelopes live once, keyed by ID, in the
// "events" bucket.
//
// bbolt allows one writer and many readers, each reader on a
// consistent snapshot. Waiting queries subscribe to the room's
// notifier before they open their read transaction and writers notify
// after commit. Ephemeral data and typing state live in memory.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/passwd"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

var (
	bucketUsers       = []byte("users")
	bucketAccountData = []byte("account_data")
	bucketTokens      = []byte("tokens")
	bucketTxns        = []byte("txns")
	bucketBatches     = []byte("batches")
	bucketRooms       = []byte("rooms")
	bucketEvents      = []byte("events")
	bucketRedactions  = []byte("redactions")

	bucketTimeline = []byte("timeline")
	bucketLeaves   = []byte("leaves")
)

var topLevelBuckets = [][]byte{
	bucketUsers, bucketAccountData, bucketTokens, bucketTxns,
	bucketBatches, bucketRooms, bucketEvents, bucketRedactions,
}

// Config holds the parameters for opening a bolt store.
type Config struct {
	// Path is the database file. Required.
	Path string
	// Timeout bounds how long Open waits for the file lock held by
	// another process. Zero means one second.
	Timeout time.Duration
	// NoSync skips fsync on commit. Only for tests.
	NoSync bool
	// Clock drives typing expiry. Defaults to the real clock.
	Clock clock.Clock
	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
	// PasswordParams are the argon2id costs for new credentials.
	// The zero value selects passwd.DefaultParams.
	PasswordParams passwd.Params
}

// Store is the bbolt backend.
type Store struct {
	db             *bolt.DB
	path           string
	logger         *slog.Logger
	passwordParams passwd.Params
	notifier       *storage.Notifier
	ephemera       *storage.Ephemera
}

var _ storage.Storage = (*Store)(nil)

// userRecord is the value stored in the users bucket.
type userRecord struct {
	PasswordHash string          `cbor:"password_hash"`
	Profile      storage.Profile `cbor:"profile"`
}

// sessionRecord is the value stored in the tokens bucket.
type sessionRecord struct {
	UserID   string `cbor:"user_id"`
	DeviceID string `cbor:"device_id"`
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("boltstore: Path is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PasswordParams == (passwd.Params{}) {
		cfg.PasswordParams = passwd.DefaultParams
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.Timeout, NoSync: cfg.NoSync})
	if err != nil {
		return nil, fmt.Errorf("boltstore: opening %s: %w", cfg.Path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: %w", err)
	}
	cfg.Logger.Info("bolt store opened", "path", cfg.Path)

	return &Store{
		db:             db,
		path:           cfg.Path,
		logger:         cfg.Logger,
		passwordParams: cfg.PasswordParams,
		notifier:       storage.NewNotifier(),
		ephemera:       storage.NewEphemera(cfg.Clock),
	}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("boltstore: closing %s: %w", s.path, err)
	}
	s.logger.Info("bolt store closed", "path", s.path)
	return nil
}

// compositeKey joins parts with a NUL separator. None of the joined
// identifiers can contain NUL.
func compositeKey(parts ...string) []byte {
	var buffer bytes.Buffer
	for i, part := range parts {
		if i > 0 {
			buffer.WriteByte(0)
		}
		buffer.WriteString(part)
	}
	return buffer.Bytes()
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func getRecord(bucket *bolt.Bucket, key []byte, value any) (bool, error) {
	data := bucket.Get(key)
	if data == nil {
		return false, nil
	}
	if err := codec.Unmarshal(data, value); err != nil {
		return false, matrixerr.Wrap(matrixerr.KindInternal, err, fmt.Sprintf("decoding %q", key))
	}
	return true, nil
}

func putRecord(bucket *bolt.Bucket, key []byte, value any) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return bucket.Put(key, data)
}

func loadUser(tx *bolt.Tx, userID ref.UserID) (userRecord, error) {
	var record userRecord
	found, err := getRecord(tx.Bucket(bucketUsers), []byte(userID.String()), &record)
	if err != nil {
		return userRecord{}, err
	}
	if !found {
		return userRecord{}, matrixerr.New(matrixerr.KindUserNotFound, "user %s does not exist", userID)
	}
	return record, nil
}

func (s *Store) CreateUser(ctx context.Context, userID ref.UserID, password []byte) error {
	hash, err := passwd.Hash(password, s.passwordParams)
	if err != nil {
		return matrixerr.Wrap(matrixerr.KindInternal, err, "hashing password")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		key := []byte(userID.String())
		if users.Get(key) != nil {
			return matrixerr.New(matrixerr.KindUsernameTaken, "user %s already exists", userID)
		}
		return putRecord(users, key, userRecord{PasswordHash: hash})
	})
}

func (s *Store) UserExists(ctx context.Context, userID ref.UserID) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketUsers).Get([]byte(userID.String())) != nil
		return nil
	})
	return found, err
}

func (s *Store) VerifyPassword(ctx context.Context, userID ref.UserID, password []byte) (bool, error) {
	var record userRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		found, err = getRecord(tx.Bucket(bucketUsers), []byte(userID.String()), &record)
		return err
	})
	if err != nil || !found {
		return false, err
	}
	ok, err := passwd.Verify(password, record.PasswordHash)
	if err != nil {
		return false, matrixerr.Wrap(matrixerr.KindInternal, err, "verifying password of "+userID.String())
	}
	return ok, nil
}

func (s *Store) Profile(ctx context.Context, userID ref.UserID) (storage.Profile, error) {
	var record userRecord
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		record, err = loadUser(tx, userID)
		return err
	})
	return record.Profile, err
}

func (s *Store) updateProfile(userID ref.UserID, update func(*storage.Profile)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		record, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		update(&record.Profile)
		return putRecord(tx.Bucket(bucketUsers), []byte(userID.String()), record)
	})
}

func (s *Store) SetProfile(ctx context.Context, userID ref.UserID, profile storage.Profile) error {
	return s.updateProfile(userID, func(p *storage.Profile) { *p = profile })
}

func (s *Store) SetAvatarURL(ctx context.Context, userID ref.UserID, avatarURL string) error {
	return s.updateProfile(userID, func(p *storage.Profile) { p.AvatarURL = avatarURL })
}

func (s *Store) SetDisplayName(ctx context.Context, userID ref.UserID, displayName string) error {
	return s.updateProfile(userID, func(p *storage.Profile) { p.DisplayName = displayName })
}

func (s *Store) SetPresence(ctx context.Context, userID ref.UserID, presence storage.Presence) error {
	return s.updateProfile(userID, func(p *storage.Profile) { p.Presence = presence })
}

func (s *Store) AccountData(ctx context.Context, userID ref.UserID, dataType string) (map[string]any, error) {
	var content map[string]any
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		found, err := getRecord(tx.Bucket(bucketAccountData), compositeKey(userID.String(), dataType), &content)
		if err != nil {
			return err
		}
		if !found {
			return matrixerr.New(matrixerr.KindNotFound, "no %s account data for %s", dataType, userID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		content = map[string]any{}
	}
	return content, nil
}

func (s *Store) AllAccountData(ctx context.Context, userID ref.UserID) (map[string]map[string]any, error) {
	all := make(map[string]map[string]any)
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		prefix := compositeKey(userID.String(), "")
		cursor := tx.Bucket(bucketAccountData).Cursor()
		for key, value := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, value = cursor.Next() {
			var content map[string]any
			if err := codec.Unmarshal(value, &content); err != nil {
				return matrixerr.Wrap(matrixerr.KindInternal, err, "decoding account data")
			}
			if content == nil {
				content = map[string]any{}
			}
			all[string(key[len(prefix):])] = content
		}
		return nil
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
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		return putRecord(tx.Bucket(bucketAccountData), compositeKey(userID.String(), dataType), content)
	})
}

func (s *Store) CreateAccessToken(ctx context.Context, userID ref.UserID, deviceID string) (string, error) {
	token := storage.NewAccessToken()
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		return putRecord(tx.Bucket(bucketTokens), []byte(token), sessionRecord{UserID: userID.String(), DeviceID: deviceID})
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(token))
	})
}

func (s *Store) DeleteAllAccessTokens(ctx context.Context, token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tokens := tx.Bucket(bucketTokens)
		var owner sessionRecord
		found, err := getRecord(tokens, []byte(token), &owner)
		if err != nil {
			return err
		}
		if !found {
			return matrixerr.New(matrixerr.KindUnknownToken, "unknown access token")
		}
		var doomed [][]byte
		err = tokens.ForEach(func(key, value []byte) error {
			var session sessionRecord
			if err := codec.Unmarshal(value, &session); err != nil {
				return matrixerr.Wrap(matrixerr.KindInternal, err, "decoding session")
			}
			if session.UserID == owner.UserID {
				doomed = append(doomed, bytes.Clone(key))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range doomed {
			if err := tokens.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ResolveAccessToken(ctx context.Context, token string) (storage.Session, bool, error) {
	var (
		record sessionRecord
		found  bool
	)
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		found, err = getRecord(tx.Bucket(bucketTokens), []byte(token), &record)
		return err
	})
	if err != nil || !found {
		return storage.Session{}, false, err
	}
	userID, err := ref.ParseUserID(record.UserID)
	if err != nil {
		return storage.Session{}, false, matrixerr.Wrap(matrixerr.KindInternal, err, "stored token owner")
	}
	return storage.Session{UserID: userID, DeviceID: record.DeviceID}, true, nil
}

func (s *Store) RecordTransaction(ctx context.Context, token, txnID string) (bool, error) {
	var first bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		txns := tx.Bucket(bucketTxns)
		key := compositeKey(token, txnID)
		if txns.Get(key) != nil {
			return nil
		}
		first = true
		return txns.Put(key, []byte{})
	})
	return first, err
}

func (s *Store) ForgetTransaction(ctx context.Context, token, txnID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxns).Delete(compositeKey(token, txnID))
	})
}

func (s *Store) Batch(ctx context.Context, token string) (storage.Batch, bool, error) {
	var (
		batch storage.Batch
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) (err error) {
		found, err = getRecord(tx.Bucket(bucketBatches), []byte(token), &batch)
		return err
	})
	if err != nil || !found {
		return storage.Batch{}, false, err
	}
	return batch.Clone(), true, nil
}

func (s *Store) SetBatch(ctx context.Context, token string, batch storage.Batch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putRecord(tx.Bucket(bucketBatches), []byte(token), batch)
	})
}

func (s *Store) checkRoom(roomID ref.RoomID) error {
	return s.db.View(func(tx *bolt.Tx) error {
		_, err := roomBucket(tx, roomID)
		return err
	})
}

func (s *Store) Ephemeral(ctx context.Context, roomID ref.RoomID, eventType ref.EventType) (map[string]any, error) {
	if err := s.checkRoom(roomID); err != nil {
		return nil, err
	}
	content, ok := s.ephemera.Get(roomID, eventType)
	if !ok {
		return nil, matrixerr.New(matrixerr.KindNotFound, "no %s ephemeral data in %s", eventType, roomID)
	}
	return content, nil
}

func (s *Store) AllEphemeral(ctx context.Context, roomID ref.RoomID) (map[ref.EventType]map[string]any, error) {
	if err := s.checkRoom(roomID); err != nil {
		return nil, err
	}
	return s.ephemera.All(roomID), nil
}

func (s *Store) SetEphemeral(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content map[string]any) error {
	if err := s.checkRoom(roomID); err != nil {
		return err
	}
	if err := s.ephemera.Set(roomID, eventType, content); err != nil {
		return err
	}
	s.notifier.Notify(roomID)
	return nil
}

func (s *Store) SetTyping(ctx context.Context, roomID ref.RoomID, userID ref.UserID, typing bool, timeout time.Duration) error {
	if err := s.checkRoom(roomID); err != nil {
		return err
	}
	s.ephemera.SetTyping(roomID, userID, typing, timeout)
	s.notifier.Notify(roomID)
	return nil
}
