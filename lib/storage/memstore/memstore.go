// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package memstore is the in-process reference implementation of
// storage.Storage. One reader/writer lock guards the whole store:
// reads proceed in parallel and a write excludes everything else for
// its duration. Nothing survives the process.
package memstore

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/passwd"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

// Config holds the parameters for a memory store. All fields are
// optional.
type Config struct {
	// Clock drives typing expiry. Defaults to the real clock.
	Clock clock.Clock
	// Logger receives debug messages. If nil, a no-op logger is used.
	Logger *slog.Logger
	// PasswordParams are the argon2id costs for new credentials.
	// The zero value selects passwd.DefaultParams.
	PasswordParams passwd.Params
}

// Store is the in-memory backend.
type Store struct {
	logger         *slog.Logger
	passwordParams passwd.Params
	notifier       *storage.Notifier
	ephemera       *storage.Ephemera

	mu         sync.RWMutex
	users      map[ref.UserID]*user
	tokens     map[string]storage.Session
	txns       map[string]struct{}
	batches    map[string]storage.Batch
	rooms      map[ref.RoomID]*room
	events     map[ref.EventID]event.PDU
	redactedBy map[ref.EventID]ref.EventID
	closed     bool
}

type user struct {
	passwordHash string
	profile      storage.Profile
	accountData  map[string]map[string]any
}

type room struct {
	timeline []event.PDU
	frontier []ref.EventID
}

var _ storage.Storage = (*Store)(nil)

// New returns an empty Store.
func New(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PasswordParams == (passwd.Params{}) {
		cfg.PasswordParams = passwd.DefaultParams
	}
	return &Store{
		logger:         cfg.Logger,
		passwordParams: cfg.PasswordParams,
		notifier:       storage.NewNotifier(),
		ephemera:       storage.NewEphemera(cfg.Clock),
		users:          make(map[ref.UserID]*user),
		tokens:         make(map[string]storage.Session),
		txns:           make(map[string]struct{}),
		batches:        make(map[string]storage.Batch),
		rooms:          make(map[ref.RoomID]*room),
		events:         make(map[ref.EventID]event.PDU),
		redactedBy:     make(map[ref.EventID]ref.EventID),
	}
}

func (s *Store) userLocked(userID ref.UserID) (*user, error) {
	account, ok := s.users[userID]
	if !ok {
		return nil, matrixerr.New(matrixerr.KindUserNotFound, "user %s does not exist", userID)
	}
	return account, nil
}

func (s *Store) roomLocked(roomID ref.RoomID) (*room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, matrixerr.New(matrixerr.KindRoomNotFound, "room %s does not exist", roomID)
	}
	return r, nil
}

func (s *Store) CreateUser(ctx context.Context, userID ref.UserID, password []byte) error {
	hash, err := passwd.Hash(password, s.passwordParams)
	if err != nil {
		return matrixerr.Wrap(matrixerr.KindInternal, err, "hashing password")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[userID]; exists {
		return matrixerr.New(matrixerr.KindUsernameTaken, "user %s already exists", userID)
	}
	s.users[userID] = &user{passwordHash: hash, accountData: make(map[string]map[string]any)}
	return nil
}

func (s *Store) UserExists(ctx context.Context, userID ref.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.users[userID]
	return exists, nil
}

func (s *Store) VerifyPassword(ctx context.Context, userID ref.UserID, password []byte) (bool, error) {
	s.mu.RLock()
	account, exists := s.users[userID]
	var hash string
	if exists {
		hash = account.passwordHash
	}
	s.mu.RUnlock()
	if !exists {
		return false, nil
	}
	ok, err := passwd.Verify(password, hash)
	if err != nil {
		return false, matrixerr.Wrap(matrixerr.KindInternal, err, "verifying password of "+userID.String())
	}
	return ok, nil
}

func (s *Store) Profile(ctx context.Context, userID ref.UserID) (storage.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, err := s.userLocked(userID)
	if err != nil {
		return storage.Profile{}, err
	}
	return account.profile, nil
}

func (s *Store) updateProfile(userID ref.UserID, update func(*storage.Profile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, err := s.userLocked(userID)
	if err != nil {
		return err
	}
	update(&account.profile)
	return nil
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
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, err := s.userLocked(userID)
	if err != nil {
		return nil, err
	}
	content, ok := account.accountData[dataType]
	if !ok {
		return nil, matrixerr.New(matrixerr.KindNotFound, "no %s account data for %s", dataType, userID)
	}
	return maps.Clone(content), nil
}

func (s *Store) AllAccountData(ctx context.Context, userID ref.UserID) (map[string]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, err := s.userLocked(userID)
	if err != nil {
		return nil, err
	}
	all := make(map[string]map[string]any, len(account.accountData))
	for dataType, content := range account.accountData {
		all[dataType] = maps.Clone(content)
	}
	return all, nil
}

func (s *Store) SetAccountData(ctx context.Context, userID ref.UserID, dataType string, content map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, err := s.userLocked(userID)
	if err != nil {
		return err
	}
	account.accountData[dataType] = maps.Clone(content)
	return nil
}

func (s *Store) CreateAccessToken(ctx context.Context, userID ref.UserID, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.userLocked(userID); err != nil {
		return "", err
	}
	token := storage.NewAccessToken()
	s.tokens[token] = storage.Session{UserID: userID, DeviceID: deviceID}
	return token, nil
}

func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *Store) DeleteAllAccessTokens(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.tokens[token]
	if !ok {
		return matrixerr.New(matrixerr.KindUnknownToken, "unknown access token")
	}
	maps.DeleteFunc(s.tokens, func(_ string, other storage.Session) bool {
		return other.UserID == session.UserID
	})
	return nil
}

func (s *Store) ResolveAccessToken(ctx context.Context, token string) (storage.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.tokens[token]
	return session, ok, nil
}

func (s *Store) RecordTransaction(ctx context.Context, token, txnID string) (bool, error) {
	key := token + "\x00" + txnID
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.txns[key]; seen {
		return false, nil
	}
	s.txns[key] = struct{}{}
	return true, nil
}

func (s *Store) ForgetTransaction(ctx context.Context, token, txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txns, token+"\x00"+txnID)
	return nil
}

func (s *Store) CreateRoom(ctx context.Context, create event.PDU) (ref.EventID, error) {
	if err := storage.CheckCreate(create); err != nil {
		return ref.EventID{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[create.RoomID()]; exists {
		return ref.EventID{}, matrixerr.New(matrixerr.KindInvalidEvent, "room %s already exists", create.RoomID())
	}
	if _, exists := s.events[create.EventID()]; exists {
		return ref.EventID{}, matrixerr.New(matrixerr.KindInvalidEvent, "event %s already stored", create.EventID())
	}
	s.rooms[create.RoomID()] = &room{
		timeline: []event.PDU{create},
		frontier: []ref.EventID{create.EventID()},
	}
	s.events[create.EventID()] = create
	s.logger.Debug("room created", "room_id", create.RoomID(), "event_id", create.EventID())
	return create.EventID(), nil
}

func (s *Store) AppendEvent(ctx context.Context, pdu event.PDU) (ref.EventID, error) {
	if err := storage.CheckAppend(pdu); err != nil {
		return ref.EventID{}, err
	}
	s.mu.Lock()
	r, err := s.roomLocked(pdu.RoomID())
	if err != nil {
		s.mu.Unlock()
		return ref.EventID{}, err
	}
	if _, exists := s.events[pdu.EventID()]; exists {
		s.mu.Unlock()
		return ref.EventID{}, matrixerr.New(matrixerr.KindInvalidEvent, "event %s already stored", pdu.EventID())
	}
	r.timeline = append(r.timeline, pdu)
	r.frontier = storage.NextFrontier(r.frontier, pdu)
	s.events[pdu.EventID()] = pdu
	if pdu.Type() == event.TypeRedaction {
		target, ok := s.events[pdu.Redacts()]
		if _, already := s.redactedBy[pdu.Redacts()]; ok && !already && target.RoomID() == pdu.RoomID() {
			s.redactedBy[pdu.Redacts()] = pdu.EventID()
		}
	}
	s.mu.Unlock()

	s.notifier.Notify(pdu.RoomID())
	return pdu.EventID(), nil
}

func (s *Store) Frontier(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.roomLocked(roomID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(r.frontier), nil
}

// Subscribe returns roomID's current wake channel.
func (s *Store) Subscribe(roomID ref.RoomID) <-chan struct{} {
	return s.notifier.Subscribe(roomID)
}

func (s *Store) Rooms(ctx context.Context) ([]ref.RoomID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := slices.Collect(maps.Keys(s.rooms))
	slices.SortFunc(rooms, func(a, b ref.RoomID) int { return strings.Compare(a.String(), b.String()) })
	return rooms, nil
}

func (s *Store) Event(ctx context.Context, eventID ref.EventID) (event.PDU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pdu, ok := s.events[eventID]
	if !ok {
		return nil, matrixerr.New(matrixerr.KindNotFound, "event %s not found", eventID)
	}
	return s.viewLocked(pdu)
}

func (s *Store) PDU(ctx context.Context, eventID ref.EventID) (event.PDU, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pdu, ok := s.events[eventID]
	if !ok {
		return nil, matrixerr.New(matrixerr.KindNotFound, "event %s not found", eventID)
	}
	return pdu, nil
}

// viewLocked returns the client view of a stored event.
func (s *Store) viewLocked(pdu event.PDU) (event.PDU, error) {
	redactionID, ok := s.redactedBy[pdu.EventID()]
	if !ok {
		return pdu, nil
	}
	return storage.RedactedView(pdu, s.events[redactionID])
}

func (s *Store) Query(ctx context.Context, query storage.Query) (storage.QueryResult, error) {
	result, wake, err := s.query(query)
	if err != nil || wake == nil {
		return result, err
	}
	select {
	case <-wake:
	case <-ctx.Done():
		return result, ctx.Err()
	}
	query.Wait = false
	result, _, err = s.query(query)
	return result, err
}

// query evaluates once. For an empty waiting query it also returns
// the room's wake channel, subscribed while the read lock is still
// held so no write can slip between evaluation and subscription.
func (s *Store) query(query storage.Query) (storage.QueryResult, <-chan struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.roomLocked(query.RoomID)
	if err != nil {
		return storage.QueryResult{}, nil, err
	}
	from, to := storage.Window(query, len(r.timeline))
	views := make([]event.PDU, 0, to-from)
	for _, pdu := range r.timeline[from:to] {
		view, err := s.viewLocked(pdu)
		if err != nil {
			return storage.QueryResult{}, nil, err
		}
		views = append(views, view)
	}
	events, err := storage.Filter(query, views)
	if err != nil {
		return storage.QueryResult{}, nil, err
	}
	result := storage.QueryResult{Events: events, End: to}
	if query.Wait && len(events) == 0 {
		return result, s.notifier.Subscribe(query.RoomID), nil
	}
	return result, nil, nil
}

func (s *Store) checkRoom(roomID ref.RoomID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.roomLocked(roomID)
	return err
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

func (s *Store) Batch(ctx context.Context, token string) (storage.Batch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[token]
	if !ok {
		return storage.Batch{}, false, nil
	}
	return batch.Clone(), true, nil
}

func (s *Store) SetBatch(ctx context.Context, token string, batch storage.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[token] = batch.Clone()
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.logger.Debug("memory store closed", "rooms", len(s.rooms), "users", len(s.users))
	}
	return nil
}
