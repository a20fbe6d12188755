// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"maps"
	"time"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// Storage is the persistence contract. The homeserver holds a Storage
// and never a concrete backend; every backend passes the conformance
// suite in storagetest.
//
// Implementations must be safe for concurrent use and must not assume
// global exclusivity across rooms: a per-room locked backend is a
// valid implementation.
type Storage interface {
	// CreateUser registers userID with a one-way hash of password.
	// Fails with UsernameTaken if the user exists.
	CreateUser(ctx context.Context, userID ref.UserID, password []byte) error
	UserExists(ctx context.Context, userID ref.UserID) (bool, error)
	// VerifyPassword reports whether password matches the stored
	// credential. An unknown user or a wrong password is (false, nil).
	VerifyPassword(ctx context.Context, userID ref.UserID, password []byte) (bool, error)

	// Profile returns the user's profile, or UserNotFound.
	Profile(ctx context.Context, userID ref.UserID) (Profile, error)
	SetProfile(ctx context.Context, userID ref.UserID, profile Profile) error
	SetAvatarURL(ctx context.Context, userID ref.UserID, avatarURL string) error
	SetDisplayName(ctx context.Context, userID ref.UserID, displayName string) error
	SetPresence(ctx context.Context, userID ref.UserID, presence Presence) error

	// AccountData returns one namespaced blob, or NotFound.
	AccountData(ctx context.Context, userID ref.UserID, dataType string) (map[string]any, error)
	// AllAccountData returns every blob for the user keyed by type.
	AllAccountData(ctx context.Context, userID ref.UserID) (map[string]map[string]any, error)
	SetAccountData(ctx context.Context, userID ref.UserID, dataType string, content map[string]any) error

	// CreateAccessToken mints a token bound to (userID, deviceID).
	CreateAccessToken(ctx context.Context, userID ref.UserID, deviceID string) (string, error)
	// DeleteAccessToken removes one token. Deleting an unknown
	// token is not an error.
	DeleteAccessToken(ctx context.Context, token string) error
	// DeleteAllAccessTokens removes every token of the user that
	// owns token. Fails with UnknownToken if token is not bound.
	DeleteAllAccessTokens(ctx context.Context, token string) error
	// ResolveAccessToken returns the session bound to token and
	// whether one exists.
	ResolveAccessToken(ctx context.Context, token string) (Session, bool, error)

	// RecordTransaction records (token, txnID) and reports whether
	// this was the first time it was seen.
	RecordTransaction(ctx context.Context, token, txnID string) (bool, error)
	// ForgetTransaction removes a recorded (token, txnID) so the ID
	// can be used again. Forgetting an unrecorded pair is a no-op.
	ForgetTransaction(ctx context.Context, token, txnID string) error

	// CreateRoom creates the room named by an m.room.create event
	// and appends the event as its first timeline entry.
	CreateRoom(ctx context.Context, create event.PDU) (ref.EventID, error)
	// AppendEvent appends an authorized event to its room's
	// timeline, replaces the frontier, and wakes the room's waiters.
	AppendEvent(ctx context.Context, pdu event.PDU) (ref.EventID, error)
	// Frontier returns the room's current leaf events.
	Frontier(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error)
	Rooms(ctx context.Context) ([]ref.RoomID, error)
	// Event returns the client view of an event: the redacted form
	// with unsigned.redacted_because when it has been redacted.
	Event(ctx context.Context, eventID ref.EventID) (event.PDU, error)
	// PDU returns the event exactly as appended.
	PDU(ctx context.Context, eventID ref.EventID) (event.PDU, error)
	Query(ctx context.Context, query Query) (QueryResult, error)
	// Subscribe returns a channel closed by the room's next write: an
	// append, an ephemeral update or a typing change. A caller that
	// subscribes before reading never misses a write made after the
	// read.
	Subscribe(roomID ref.RoomID) <-chan struct{}

	// Ephemeral returns one ephemeral blob. m.typing is computed
	// from the live typing set.
	Ephemeral(ctx context.Context, roomID ref.RoomID, eventType ref.EventType) (map[string]any, error)
	// AllEphemeral returns every ephemeral blob, always including
	// m.typing.
	AllEphemeral(ctx context.Context, roomID ref.RoomID) (map[ref.EventType]map[string]any, error)
	// SetEphemeral overwrites (or with nil content, removes) a blob
	// and wakes the room's waiters.
	SetEphemeral(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, content map[string]any) error
	// SetTyping marks userID typing until now+timeout, or clears it.
	SetTyping(ctx context.Context, roomID ref.RoomID, userID ref.UserID, typing bool, timeout time.Duration) error

	Batch(ctx context.Context, token string) (Batch, bool, error)
	SetBatch(ctx context.Context, token string, batch Batch) error

	Close() error
}

// Presence is a user's advertised availability.
type Presence string

const (
	PresenceOnline      Presence = "online"
	PresenceOffline     Presence = "offline"
	PresenceUnavailable Presence = "unavailable"
)

// Valid reports whether p is one of the known presence states.
func (p Presence) Valid() bool {
	switch p {
	case PresenceOnline, PresenceOffline, PresenceUnavailable:
		return true
	}
	return false
}

// Profile is the public per-user record.
type Profile struct {
	AvatarURL   string   `json:"avatar_url,omitempty" cbor:"avatar_url,omitempty"`
	DisplayName string   `json:"displayname,omitempty" cbor:"displayname,omitempty"`
	Presence    Presence `json:"presence,omitempty" cbor:"presence,omitempty"`
}

// Session is what an access token resolves to. The device ID is
// metadata; authentication does not check it.
type Session struct {
	UserID   ref.UserID `cbor:"user_id"`
	DeviceID string     `cbor:"device_id"`
}

// Batch is a sync cursor: per-room next timeline index plus the rooms
// whose invite has already been delivered. Keys are room ID strings.
type Batch struct {
	Rooms   map[string]int  `json:"rooms,omitempty" cbor:"rooms,omitempty"`
	Invites map[string]bool `json:"invites,omitempty" cbor:"invites,omitempty"`
}

// Clone returns a deep copy of b with non-nil maps.
func (b Batch) Clone() Batch {
	clone := Batch{Rooms: maps.Clone(b.Rooms), Invites: maps.Clone(b.Invites)}
	if clone.Rooms == nil {
		clone.Rooms = make(map[string]int)
	}
	if clone.Invites == nil {
		clone.Invites = make(map[string]bool)
	}
	return clone
}

// Next returns the next undelivered timeline index for roomID.
func (b Batch) Next(roomID ref.RoomID) int { return b.Rooms[roomID.String()] }

// InviteDelivered reports whether the invite to roomID was delivered.
func (b Batch) InviteDelivered(roomID ref.RoomID) bool { return b.Invites[roomID.String()] }

// Mode selects how a Query reads the timeline.
type Mode int

const (
	// Timeline returns the events in [From, To).
	Timeline Mode = iota
	// State returns the newest state event per (type, state key)
	// among events [0, To), in insertion order.
	State
)

func (m Mode) String() string {
	if m == State {
		return "state"
	}
	return "timeline"
}

// Query describes an event read over one room's timeline.
type Query struct {
	RoomID ref.RoomID
	Mode   Mode
	// From is the first index of a Timeline query. Ignored in State
	// mode.
	From int
	// To is the exclusive end index. Zero means the current end.
	To int

	Senders    []ref.UserID
	NotSenders []ref.UserID
	Types      []ref.EventType
	NotTypes   []ref.EventType
	// ContainsJSON, when set, requires the client form of the event
	// to contain this JSON object.
	ContainsJSON map[string]any

	// Wait suspends an empty read until the room changes, then
	// evaluates once more.
	Wait bool
}

// QueryResult is the outcome of a Query. End is the exclusive index
// the query was evaluated to; a sync cursor resumes from it.
type QueryResult struct {
	Events []event.PDU
	End    int
}
