// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"

	"github.com/bureau-foundation/homeserver/lib/ref"
)

// Event types the server interprets.
const (
	TypeCreate            ref.EventType = "m.room.create"
	TypeMember            ref.EventType = "m.room.member"
	TypePowerLevels       ref.EventType = "m.room.power_levels"
	TypeJoinRules         ref.EventType = "m.room.join_rules"
	TypeHistoryVisibility ref.EventType = "m.room.history_visibility"
	TypeGuestAccess       ref.EventType = "m.room.guest_access"
	TypeName              ref.EventType = "m.room.name"
	TypeTopic             ref.EventType = "m.room.topic"
	TypeRedaction         ref.EventType = "m.room.redaction"
	TypeMessage           ref.EventType = "m.room.message"

	// TypeTyping is the ephemeral event type computed from the live
	// typing set rather than stored as a blob.
	TypeTyping ref.EventType = "m.typing"
)

// RoomVersion is the room-version tag carried by every event and the
// create event's content. Unknown versions are preserved verbatim but
// cannot author events.
type RoomVersion string

// RoomVersion4 is the only supported graph and authorization ruleset.
const RoomVersion4 RoomVersion = "4"

// DefaultRoomVersion is the version used when a room creation request
// does not name one.
const DefaultRoomVersion = RoomVersion4

// Supported reports whether the server can author and authorize events
// of this version.
func (v RoomVersion) Supported() bool { return v == RoomVersion4 }

// Membership is a user's relationship to a room, derived from the most
// recent resolved m.room.member event for that user.
type Membership string

const (
	MembershipInvite Membership = "invite"
	MembershipJoin   Membership = "join"
	MembershipKnock  Membership = "knock"
	MembershipLeave  Membership = "leave"
	MembershipBan    Membership = "ban"
)

// AllMemberships lists every membership value, in a fixed order.
var AllMemberships = []Membership{
	MembershipInvite, MembershipJoin, MembershipKnock, MembershipLeave, MembershipBan,
}

// ParseMembership validates a membership string.
func ParseMembership(raw string) (Membership, error) {
	switch membership := Membership(raw); membership {
	case MembershipInvite, MembershipJoin, MembershipKnock, MembershipLeave, MembershipBan:
		return membership, nil
	default:
		return "", fmt.Errorf("unknown membership %q", raw)
	}
}

// JoinRule is the room's join policy (m.room.join_rules).
type JoinRule string

const (
	JoinRulePublic  JoinRule = "public"
	JoinRuleInvite  JoinRule = "invite"
	JoinRuleKnock   JoinRule = "knock"
	JoinRulePrivate JoinRule = "private"
)

func (r JoinRule) valid() bool {
	switch r {
	case JoinRulePublic, JoinRuleInvite, JoinRuleKnock, JoinRulePrivate:
		return true
	}
	return false
}

// HistoryVisibility controls who may read a room's history.
type HistoryVisibility string

const (
	HistoryInvited       HistoryVisibility = "invited"
	HistoryJoined        HistoryVisibility = "joined"
	HistoryShared        HistoryVisibility = "shared"
	HistoryWorldReadable HistoryVisibility = "world_readable"
)

func (h HistoryVisibility) valid() bool {
	switch h {
	case HistoryInvited, HistoryJoined, HistoryShared, HistoryWorldReadable:
		return true
	}
	return false
}

// GuestAccess controls whether guest accounts may join.
type GuestAccess string

const (
	GuestAccessCanJoin   GuestAccess = "can_join"
	GuestAccessForbidden GuestAccess = "forbidden"
)

func (g GuestAccess) valid() bool {
	return g == GuestAccessCanJoin || g == GuestAccessForbidden
}
