// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "github.com/bureau-foundation/homeserver/lib/ref"

// Defaults for fields absent from an m.room.power_levels event.
const (
	defaultActionLevel   = 50
	defaultStateLevel    = 50
	defaultEventsLevel   = 0
	defaultUsersLevel    = 0
	implicitCreatorLevel = 100
)

// PowerLevelsContent is the typed m.room.power_levels content.
//
// Pointer-to-int fields distinguish "not set" (nil, omitted) from
// "explicitly 0". Accessors apply the documented default for unset
// fields: ban, invite, kick and redact 50; events_default 0;
// state_default 50; users_default 0.
type PowerLevelsContent struct {
	Users         map[string]int `json:"users,omitempty"`
	UsersDefault  *int           `json:"users_default,omitempty"`
	Events        map[string]int `json:"events,omitempty"`
	EventsDefault *int           `json:"events_default,omitempty"`
	StateDefault  *int           `json:"state_default,omitempty"`
	BanLevel      *int           `json:"ban,omitempty"`
	InviteLevel   *int           `json:"invite,omitempty"`
	KickLevel     *int           `json:"kick,omitempty"`
	RedactLevel   *int           `json:"redact,omitempty"`
	Notifications map[string]int `json:"notifications,omitempty"`
}

// EventType implements Content.
func (*PowerLevelsContent) EventType() ref.EventType { return TypePowerLevels }

// DefaultPowerLevels returns the implicit levels of a room that has no
// power-levels event yet: the creator holds 100, everyone else 0, and
// any state event needs level 0.
func DefaultPowerLevels(creator ref.UserID) *PowerLevelsContent {
	return &PowerLevelsContent{
		Users:        map[string]int{creator.String(): implicitCreatorLevel},
		StateDefault: intPointer(0),
	}
}

// InitialPowerLevels returns the power levels a newly created room
// starts with: the creator at 100 and every other field at its
// documented default.
func InitialPowerLevels(creator ref.UserID) *PowerLevelsContent {
	return &PowerLevelsContent{
		Users: map[string]int{creator.String(): implicitCreatorLevel},
	}
}

func levelOr(value *int, fallback int) int {
	if value != nil {
		return *value
	}
	return fallback
}

func intPointer(value int) *int { return &value }

// Ban returns the level required to ban a user.
func (p *PowerLevelsContent) Ban() int { return levelOr(p.BanLevel, defaultActionLevel) }

// Invite returns the level required to invite a user.
func (p *PowerLevelsContent) Invite() int { return levelOr(p.InviteLevel, defaultActionLevel) }

// Kick returns the level required to remove another user.
func (p *PowerLevelsContent) Kick() int { return levelOr(p.KickLevel, defaultActionLevel) }

// Redact returns the level required to redact another user's event.
func (p *PowerLevelsContent) Redact() int { return levelOr(p.RedactLevel, defaultActionLevel) }

// EventsDefaultLevel returns the level required for message events
// with no per-type override.
func (p *PowerLevelsContent) EventsDefaultLevel() int {
	return levelOr(p.EventsDefault, defaultEventsLevel)
}

// StateDefaultLevel returns the level required for state events with
// no per-type override.
func (p *PowerLevelsContent) StateDefaultLevel() int {
	return levelOr(p.StateDefault, defaultStateLevel)
}

// UsersDefaultLevel returns the level of users without an explicit
// entry.
func (p *PowerLevelsContent) UsersDefaultLevel() int {
	return levelOr(p.UsersDefault, defaultUsersLevel)
}

// UserLevel returns the effective power level of a user: the explicit
// entry in Users if present, else users_default.
func (p *PowerLevelsContent) UserLevel(userID ref.UserID) int {
	if level, ok := p.Users[userID.String()]; ok {
		return level
	}
	return p.UsersDefaultLevel()
}

// EventLevel returns the level required to send an event of the given
// type: the per-type override if present, else state_default for state
// events or events_default for everything else.
func (p *PowerLevelsContent) EventLevel(eventType ref.EventType, isState bool) int {
	if level, ok := p.Events[string(eventType)]; ok {
		return level
	}
	if isState {
		return p.StateDefaultLevel()
	}
	return p.EventsDefaultLevel()
}

// SetUserLevel sets the power level for a user. Initializes the Users
// map if nil.
func (p *PowerLevelsContent) SetUserLevel(userID ref.UserID, level int) {
	if p.Users == nil {
		p.Users = make(map[string]int)
	}
	p.Users[userID.String()] = level
}

// SetEventLevel sets the required power level for sending a given
// event type. Initializes the Events map if nil.
func (p *PowerLevelsContent) SetEventLevel(eventType ref.EventType, level int) {
	if p.Events == nil {
		p.Events = make(map[string]int)
	}
	p.Events[string(eventType)] = level
}
