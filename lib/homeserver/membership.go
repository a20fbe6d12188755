// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver

import (
	"context"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// setMembership appends an m.room.member event from sender about
// target.
func (s *Server) setMembership(ctx context.Context, sender, target ref.UserID, roomID ref.RoomID, content event.MemberContent) (event.PDU, error) {
	fields, err := event.ContentMap(&content)
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "member content")
	}
	return s.AddEvent(ctx, roomID, NewEvent{
		Sender:   sender,
		Type:     event.TypeMember,
		StateKey: event.StateKey(target.String()),
		Content:  fields,
	})
}

// Join joins userID to roomID. The member event carries the user's
// display name and avatar from their profile.
func (s *Server) Join(ctx context.Context, userID ref.UserID, roomID ref.RoomID) (event.PDU, error) {
	content := event.MemberContent{Membership: event.MembershipJoin}
	if userID.Server() == s.serverName {
		profile, err := s.store.Profile(ctx, userID)
		switch {
		case err == nil:
			content.DisplayName = profile.DisplayName
			content.AvatarURL = profile.AvatarURL
		case matrixerr.KindOf(err) != matrixerr.KindUserNotFound:
			return nil, err
		}
	}
	return s.setMembership(ctx, userID, userID, roomID, content)
}

// Invite invites target to roomID on behalf of sender.
func (s *Server) Invite(ctx context.Context, sender ref.UserID, roomID ref.RoomID, target ref.UserID) (event.PDU, error) {
	return s.setMembership(ctx, sender, target, roomID, event.MemberContent{Membership: event.MembershipInvite})
}

// Leave makes userID leave roomID.
func (s *Server) Leave(ctx context.Context, userID ref.UserID, roomID ref.RoomID) (event.PDU, error) {
	return s.setMembership(ctx, userID, userID, roomID, event.MemberContent{Membership: event.MembershipLeave})
}

// Kick removes target from roomID on behalf of sender.
func (s *Server) Kick(ctx context.Context, sender ref.UserID, roomID ref.RoomID, target ref.UserID, reason string) (event.PDU, error) {
	return s.setMembership(ctx, sender, target, roomID, event.MemberContent{Membership: event.MembershipLeave, Reason: reason})
}

// Ban bans target from roomID on behalf of sender.
func (s *Server) Ban(ctx context.Context, sender ref.UserID, roomID ref.RoomID, target ref.UserID, reason string) (event.PDU, error) {
	return s.setMembership(ctx, sender, target, roomID, event.MemberContent{Membership: event.MembershipBan, Reason: reason})
}
