// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"sync"

	"github.com/bureau-foundation/homeserver/lib/ref"
)

// Notifier is a per-room wake signal. A waiter takes the room's
// current channel with Subscribe before re-checking its condition; a
// writer calls Notify after its write is visible, which closes that
// channel and starts a fresh one. A waiter that subscribed before the
// write therefore always wakes, and one that subscribed after it sees
// the write on its re-check.
type Notifier struct {
	mu       sync.Mutex
	channels map[ref.RoomID]chan struct{}
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{channels: make(map[ref.RoomID]chan struct{})}
}

// Subscribe returns a channel closed by the next Notify for roomID.
func (n *Notifier) Subscribe(roomID ref.RoomID) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	channel, ok := n.channels[roomID]
	if !ok {
		channel = make(chan struct{})
		n.channels[roomID] = channel
	}
	return channel
}

// Notify wakes every current subscriber of roomID.
func (n *Notifier) Notify(roomID ref.RoomID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if channel, ok := n.channels[roomID]; ok {
		close(channel)
		delete(n.channels, roomID)
	}
}
