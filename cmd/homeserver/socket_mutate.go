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
	"github.com/bureau-foundation/homeserver/lib/storage"
)

// eventResponse answers every action that appends one event.
type eventResponse struct {
	EventID ref.EventID `cbor:"event_id"`
}

func eventResult(pdu event.PDU, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return eventResponse{EventID: pdu.EventID()}, nil
}

type createRoomResponse struct {
	RoomID ref.RoomID `cbor:"room_id"`
}

func (d *Daemon) handleCreateRoom(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request homeserver.CreateRoomRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	roomID, err := d.server.CreateRoom(ctx, caller.UserID, request)
	if err != nil {
		return nil, err
	}
	d.logger.Info("room created", "room_id", roomID, "creator", caller.UserID, "preset", request.Preset)
	return createRoomResponse{RoomID: roomID}, nil
}

// membershipRequest carries the fields of every membership action.
// UserID is the target; Join and Leave ignore it.
type membershipRequest struct {
	RoomID ref.RoomID `cbor:"room_id"`
	UserID ref.UserID `cbor:"user_id,omitempty"`
	Reason string     `cbor:"reason,omitempty"`
}

func decodeMembership(raw []byte, needsTarget bool) (membershipRequest, error) {
	var request membershipRequest
	if err := decode(raw, &request); err != nil {
		return request, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return request, err
	}
	if needsTarget {
		if err := requireUser(request.UserID); err != nil {
			return request, err
		}
	}
	return request, nil
}

type joinResponse struct {
	RoomID  ref.RoomID  `cbor:"room_id"`
	EventID ref.EventID `cbor:"event_id"`
}

func (d *Daemon) handleJoin(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	request, err := decodeMembership(raw, false)
	if err != nil {
		return nil, err
	}
	pdu, err := d.server.Join(ctx, caller.UserID, request.RoomID)
	if err != nil {
		return nil, err
	}
	return joinResponse{RoomID: request.RoomID, EventID: pdu.EventID()}, nil
}

func (d *Daemon) handleInvite(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	request, err := decodeMembership(raw, true)
	if err != nil {
		return nil, err
	}
	return eventResult(d.server.Invite(ctx, caller.UserID, request.RoomID, request.UserID))
}

func (d *Daemon) handleLeave(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	request, err := decodeMembership(raw, false)
	if err != nil {
		return nil, err
	}
	return eventResult(d.server.Leave(ctx, caller.UserID, request.RoomID))
}

func (d *Daemon) handleKick(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	request, err := decodeMembership(raw, true)
	if err != nil {
		return nil, err
	}
	return eventResult(d.server.Kick(ctx, caller.UserID, request.RoomID, request.UserID, request.Reason))
}

func (d *Daemon) handleBan(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	request, err := decodeMembership(raw, true)
	if err != nil {
		return nil, err
	}
	return eventResult(d.server.Ban(ctx, caller.UserID, request.RoomID, request.UserID, request.Reason))
}

type sendRequest struct {
	RoomID  ref.RoomID     `cbor:"room_id"`
	Type    ref.EventType  `cbor:"type"`
	TxnID   string         `cbor:"txn_id"`
	Content map[string]any `cbor:"content"`
}

func (d *Daemon) handleSend(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request sendRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return nil, err
	}
	if request.Type == "" || request.TxnID == "" {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "type and txn_id are required")
	}
	return eventResult(d.server.SendMessage(ctx, caller.AccessToken, caller.UserID, request.RoomID, request.Type, request.TxnID, request.Content))
}

type sendStateRequest struct {
	RoomID   ref.RoomID     `cbor:"room_id"`
	Type     ref.EventType  `cbor:"type"`
	StateKey string         `cbor:"state_key"`
	Content  map[string]any `cbor:"content"`
}

func (d *Daemon) handleSendState(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request sendStateRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return nil, err
	}
	if request.Type == "" {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "missing required field type")
	}
	return eventResult(d.server.SendStateEvent(ctx, caller.UserID, request.RoomID, request.Type, request.StateKey, request.Content))
}

type redactRequest struct {
	RoomID  ref.RoomID  `cbor:"room_id"`
	EventID ref.EventID `cbor:"event_id"`
	Reason  string      `cbor:"reason,omitempty"`
}

func (d *Daemon) handleRedact(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request redactRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return nil, err
	}
	if request.EventID.IsZero() {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "missing required field event_id")
	}
	return eventResult(d.server.Redact(ctx, caller.UserID, request.RoomID, request.EventID, request.Reason))
}

type typingRequest struct {
	RoomID ref.RoomID `cbor:"room_id"`
	// UserID defaults to the caller.
	UserID    ref.UserID `cbor:"user_id,omitempty"`
	Typing    bool       `cbor:"typing"`
	TimeoutMS int64      `cbor:"timeout_ms,omitempty"`
}

func (d *Daemon) handleTyping(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request typingRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := requireRoom(request.RoomID); err != nil {
		return nil, err
	}
	timeout := time.Duration(request.TimeoutMS) * time.Millisecond
	target := targetOrCaller(request.UserID, caller)
	return nil, d.server.SetTyping(ctx, caller.UserID, target, request.RoomID, request.Typing, timeout)
}

type displayNameRequest struct {
	UserID      ref.UserID `cbor:"user_id,omitempty"`
	DisplayName string     `cbor:"displayname"`
}

func (d *Daemon) handleSetDisplayName(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request displayNameRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return nil, d.server.SetDisplayName(ctx, caller.UserID, targetOrCaller(request.UserID, caller), request.DisplayName)
}

type avatarURLRequest struct {
	UserID    ref.UserID `cbor:"user_id,omitempty"`
	AvatarURL string     `cbor:"avatar_url"`
}

func (d *Daemon) handleSetAvatarURL(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request avatarURLRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return nil, d.server.SetAvatarURL(ctx, caller.UserID, targetOrCaller(request.UserID, caller), request.AvatarURL)
}

type presenceRequest struct {
	UserID   ref.UserID       `cbor:"user_id,omitempty"`
	Presence storage.Presence `cbor:"presence"`
}

func (d *Daemon) handleSetPresence(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request presenceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return nil, d.server.SetPresence(ctx, caller.UserID, targetOrCaller(request.UserID, caller), request.Presence)
}

type setAccountDataRequest struct {
	UserID  ref.UserID     `cbor:"user_id,omitempty"`
	Type    string         `cbor:"type"`
	Content map[string]any `cbor:"content"`
}

func (d *Daemon) handleSetAccountData(ctx context.Context, caller service.Caller, raw []byte) (any, error) {
	var request setAccountDataRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if request.Type == "" {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "missing required field type")
	}
	return nil, d.server.SetAccountData(ctx, caller.UserID, targetOrCaller(request.UserID, caller), request.Type, request.Content)
}
