// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"time"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/homeserver"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/service"
)

type eventRequest struct {
	EventID ref.EventID `cbor:"event_id"`
}

func (d *Daemon) handleEvent(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request eventRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if request.EventID.IsZero() {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "missing required field event_id")
	}
	return d.server.Event(ctx, caller.UserID, request.EventID)
}

type stateEventRequest struct {
	RoomID   ref.RoomID    `cbor:"room_id"`
	Type     ref.EventType `cbor:"type"`
	StateKey string        `cbor:"state_key"`
}

func (d *Daemon) handleStateEvent(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request stateEventRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return nil, err
	}
	if request.Type == "" {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "missing required field type")
	}
	return d.server.StateEvent(ctx, caller.UserID, request.RoomID, request.Type, request.StateKey)
}

type roomRequest struct {
	RoomID ref.RoomID `cbor:"room_id"`
}

// eventsResponse wraps an event list so the result is a map on the
// wire, matching every other action.
type eventsResponse struct {
	Events []event.ClientEvent `cbor:"events"`
}

func (d *Daemon) handleState(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request roomRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return nil, err
	}
	events, err := d.server.State(ctx, caller.UserID, request.RoomID)
	if err != nil {
		return nil, err
	}
	return eventsResponse{Events: events}, nil
}

type membersRequest struct {
	RoomID ref.RoomID `cbor:"room_id"`
	homeserver.MembersFilter
}

type membersResponse struct {
	Chunk []event.ClientEvent `cbor:"chunk"`
}

func (d *Daemon) handleMembers(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request membersRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return nil, err
	}
	members, err := d.server.Members(ctx, caller.UserID, request.RoomID, request.MembersFilter)
	if err != nil {
		return nil, err
	}
	return membersResponse{Chunk: members}, nil
}

type messagesRequest struct {
	RoomID ref.RoomID `cbor:"room_id"`
	homeserver.MessagesRequest
}

func (d *Daemon) handleMessages(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request messagesRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return nil, err
	}
	return d.server.Messages(ctx, caller.UserID, request.RoomID, request.MessagesRequest)
}

// syncRequest mirrors service.SyncRequest. TimeoutMS is a pointer so
// an absent field selects the configured default while an explicit
// zero returns immediately.
type syncRequest struct {
	Since     string `cbor:"since"`
	FullState bool   `cbor:"full_state"`
	TimeoutMS *int64 `cbor:"timeout_ms"`
}

func (d *Daemon) handleSync(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request syncRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	timeout := d.defaultSyncTimeout
	if request.TimeoutMS != nil {
		timeout = time.Duration(*request.TimeoutMS) * time.Millisecond
	}
	response, err := d.server.Sync(ctx, caller.UserID, homeserver.SyncRequest{
		Since:     request.Since,
		FullState: request.FullState,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, err
	}
	d.logger.Debug("sync",
		"user_id", caller.UserID,
		"since", request.Since,
		"next_batch", response.NextBatch,
		"joined_rooms", len(response.Rooms.Join),
	)
	return response, nil
}

type userRequest struct {
	UserID ref.UserID `cbor:"user_id,omitempty"`
}

func (d *Daemon) handleProfile(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request userRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return d.server.Profile(ctx, targetOrCaller(request.UserID, caller))
}

type accountDataRequest struct {
	UserID ref.UserID `cbor:"user_id,omitempty"`
	Type   string     `cbor:"type"`
}

func (d *Daemon) handleAccountData(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request accountDataRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return d.server.AccountData(ctx, caller.UserID, targetOrCaller(request.UserID, caller), request.Type)
}

type userDirectoryRequest struct {
	SearchTerm string `cbor:"search_term"`
}

type userDirectoryResponse struct {
	Results []homeserver.DirectoryEntry `cbor:"results"`
	Limited bool                        `cbor:"limited"`
}

func (d *Daemon) handleUserDirectory(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request userDirectoryRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	results, err := d.server.SearchUserDirectory(ctx, request.SearchTerm)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []homeserver.DirectoryEntry{}
	}
	return userDirectoryResponse{Results: results}, nil
}
