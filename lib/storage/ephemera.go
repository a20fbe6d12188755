// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// Ephemera holds the non-persistent per-room data: ephemeral blobs
// overwritten wholesale, and the typing set. Typing entries carry an
// expiry instant and are filtered against the clock on every read;
// nothing sweeps them.
//
// Ephemera does not know which rooms exist. Backends check that
// before calling in, and notify the room's waiters after a change.
type Ephemera struct {
	clock clock.Clock

	mu    sync.Mutex
	rooms map[ref.RoomID]*roomEphemera
}

type roomEphemera struct {
	blobs  map[ref.EventType]map[string]any
	typing map[ref.UserID]time.Time
}

// NewEphemera returns an empty Ephemera reading time from c.
func NewEphemera(c clock.Clock) *Ephemera {
	return &Ephemera{clock: c, rooms: make(map[ref.RoomID]*roomEphemera)}
}

func (e *Ephemera) room(roomID ref.RoomID) *roomEphemera {
	room, ok := e.rooms[roomID]
	if !ok {
		room = &roomEphemera{
			blobs:  make(map[ref.EventType]map[string]any),
			typing: make(map[ref.UserID]time.Time),
		}
		e.rooms[roomID] = room
	}
	return room
}

// Get returns one blob. m.typing is always present.
func (e *Ephemera) Get(roomID ref.RoomID, eventType ref.EventType) (map[string]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if eventType == event.TypeTyping {
		return TypingContent(e.typingLocked(roomID)), true
	}
	content, ok := e.room(roomID).blobs[eventType]
	return maps.Clone(content), ok
}

// All returns every blob of the room plus the computed m.typing.
func (e *Ephemera) All(roomID ref.RoomID) map[ref.EventType]map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := make(map[ref.EventType]map[string]any)
	for eventType, content := range e.room(roomID).blobs {
		all[eventType] = maps.Clone(content)
	}
	all[event.TypeTyping] = TypingContent(e.typingLocked(roomID))
	return all
}

// Set overwrites a blob, or removes it when content is nil. m.typing
// is computed and cannot be set.
func (e *Ephemera) Set(roomID ref.RoomID, eventType ref.EventType, content map[string]any) error {
	if eventType == event.TypeTyping {
		return matrixerr.New(matrixerr.KindInvalidEvent, "%s is computed from the typing set and cannot be set directly", eventType)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	room := e.room(roomID)
	if content == nil {
		delete(room.blobs, eventType)
		return nil
	}
	room.blobs[eventType] = maps.Clone(content)
	return nil
}

// SetTyping marks userID typing until now+timeout, or removes it.
func (e *Ephemera) SetTyping(roomID ref.RoomID, userID ref.UserID, typing bool, timeout time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	room := e.room(roomID)
	if typing {
		room.typing[userID] = e.clock.Now().Add(timeout)
	} else {
		delete(room.typing, userID)
	}
}

// Typing returns the users currently typing in roomID, sorted.
func (e *Ephemera) Typing(roomID ref.RoomID) []ref.UserID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typingLocked(roomID)
}

func (e *Ephemera) typingLocked(roomID ref.RoomID) []ref.UserID {
	now := e.clock.Now()
	var users []ref.UserID
	for userID, expiry := range e.room(roomID).typing {
		if expiry.After(now) {
			users = append(users, userID)
		}
	}
	slices.SortFunc(users, func(a, b ref.UserID) int {
		return strings.Compare(a.String(), b.String())
	})
	return users
}

// TypingContent renders a typing set as m.typing content.
func TypingContent(users []ref.UserID) map[string]any {
	ids := make([]any, 0, len(users))
	for _, userID := range users {
		ids = append(ids, userID.String())
	}
	return map[string]any{"user_ids": ids}
}
