// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stateres

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// EventSource loads stored events by ID, in their original
// (unredacted) form. Every storage backend satisfies it.
type EventSource interface {
	PDU(ctx context.Context, eventID ref.EventID) (event.PDU, error)
}

// DefaultCacheSize is the checkpoint cache capacity used when the
// configured size is not positive.
const DefaultCacheSize = 4096

// Resolver resolves room state from a frontier. It is safe for
// concurrent use.
type Resolver struct {
	source      EventSource
	checkpoints *lru.Cache
}

// NewResolver creates a Resolver reading events from source and
// caching up to cacheSize checkpoint states.
func NewResolver(source EventSource, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{source: source, checkpoints: cache}, nil
}

func (r *Resolver) cached(eventID ref.EventID) (*State, bool) {
	value, ok := r.checkpoints.Get(eventID)
	if !ok {
		return nil, false
	}
	return value.(*State), true
}

// Remember records the state including eventID, so later walks stop
// there. The append path calls it after each successful append with
// the state it computed for the new event.
func (r *Resolver) Remember(eventID ref.EventID, state *State) {
	r.checkpoints.Add(eventID, state)
}

// Resolve computes the state of roomID as of frontier: the winners
// among every state event reachable through prev_events, frontier
// events included.
func (r *Resolver) Resolve(ctx context.Context, roomID ref.RoomID, frontier []ref.EventID) (*State, error) {
	if len(frontier) == 0 {
		return nil, matrixerr.New(matrixerr.KindRoomNotFound, "room %s has no events", roomID)
	}
	if len(frontier) == 1 {
		if state, ok := r.cached(frontier[0]); ok {
			return state, nil
		}
	}

	b := newBuilder()
	visited := make(map[ref.EventID]bool)
	queue := append([]ref.EventID(nil), frontier...)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		eventID := queue[0]
		queue = queue[1:]
		if visited[eventID] {
			continue
		}
		visited[eventID] = true

		if state, ok := r.cached(eventID); ok {
			b.merge(state)
			continue
		}

		pdu, err := r.source.PDU(ctx, eventID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, matrixerr.Wrap(matrixerr.KindInternal, err,
				"room "+roomID.String()+": loading ancestor "+eventID.String())
		}
		if pdu.RoomID() != roomID {
			return nil, matrixerr.New(matrixerr.KindInternal,
				"room %s: ancestor %s belongs to room %s", roomID, eventID, pdu.RoomID())
		}
		b.offer(pdu)
		queue = append(queue, pdu.PrevEvents()...)
	}

	state := b.state()
	if state.Create() == nil {
		return nil, matrixerr.New(matrixerr.KindInternal, "room %s: no create event reachable from frontier", roomID)
	}
	if len(frontier) == 1 {
		r.Remember(frontier[0], state)
	}
	return state, nil
}
