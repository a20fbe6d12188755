// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver

import (
	"context"

	"github.com/bureau-foundation/homeserver/lib/clock"
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// Preset selects the initial join rules, history visibility and guest
// access of a new room.
type Preset string

const (
	PresetPrivateChat        Preset = "private_chat"
	PresetTrustedPrivateChat Preset = "trusted_private_chat"
	PresetPublicChat         Preset = "public_chat"
)

type presetState struct {
	joinRule          event.JoinRule
	historyVisibility event.HistoryVisibility
	guestAccess       event.GuestAccess
	// invitesAreAdmins gives every initial invitee the creator's level.
	invitesAreAdmins bool
}

var presets = map[Preset]presetState{
	PresetPrivateChat: {
		joinRule:          event.JoinRuleInvite,
		historyVisibility: event.HistoryShared,
		guestAccess:       event.GuestAccessCanJoin,
	},
	PresetTrustedPrivateChat: {
		joinRule:          event.JoinRuleInvite,
		historyVisibility: event.HistoryShared,
		guestAccess:       event.GuestAccessCanJoin,
		invitesAreAdmins:  true,
	},
	PresetPublicChat: {
		joinRule:          event.JoinRulePublic,
		historyVisibility: event.HistoryShared,
		guestAccess:       event.GuestAccessForbidden,
	},
}

// InitialStateEvent is a state event to send while creating a room.
type InitialStateEvent struct {
	Type     ref.EventType  `json:"type"`
	StateKey string         `json:"state_key"`
	Content  map[string]any `json:"content"`
}

// CreateRoomRequest describes a room to create.
type CreateRoomRequest struct {
	// Preset defaults to private_chat.
	Preset Preset `json:"preset,omitempty"`
	Name   string `json:"name,omitempty"`
	Topic  string `json:"topic,omitempty"`
	// Invite lists users invited once the room is set up.
	Invite []ref.UserID `json:"invite,omitempty"`
	// RoomVersion must be empty or a supported version.
	RoomVersion  event.RoomVersion  `json:"room_version,omitempty"`
	InitialState []InitialStateEvent `json:"initial_state,omitempty"`
	// PowerLevelContentOverride is merged over the default power
	// levels, key by key.
	PowerLevelContentOverride map[string]any `json:"power_level_content_override,omitempty"`
}

// CreateRoom creates a room owned by creator and returns its ID. The
// events are, in order: create, the creator's join, power levels, join
// rules, history visibility, guest access, the initial state, name,
// topic, and one invite per invitee.
func (s *Server) CreateRoom(ctx context.Context, creator ref.UserID, request CreateRoomRequest) (ref.RoomID, error) {
	preset := request.Preset
	if preset == "" {
		preset = PresetPrivateChat
	}
	settings, ok := presets[preset]
	if !ok {
		return ref.RoomID{}, matrixerr.New(matrixerr.KindBadJSON, "unknown preset %q", preset)
	}
	version := request.RoomVersion
	if version == "" {
		version = event.DefaultRoomVersion
	}
	if !version.Supported() {
		return ref.RoomID{}, matrixerr.New(matrixerr.KindBadJSON, "unsupported room version %q", version)
	}

	for _, initial := range request.InitialState {
		if initial.Type == event.TypeCreate || initial.Type == event.TypeMember {
			return ref.RoomID{}, matrixerr.New(matrixerr.KindBadJSON, "initial_state cannot contain %s", initial.Type)
		}
	}
	powerLevels, err := initialPowerLevels(creator, request, settings)
	if err != nil {
		return ref.RoomID{}, err
	}

	roomID, err := ref.GenerateRoomID(s.serverName)
	if err != nil {
		return ref.RoomID{}, matrixerr.Wrap(matrixerr.KindInternal, err, "")
	}
	create, err := event.Build(version, event.Proto{
		RoomID:         roomID,
		Sender:         creator,
		Type:           event.TypeCreate,
		StateKey:       event.StateKey(""),
		Content:        map[string]any{"creator": creator.String(), "room_version": string(version)},
		Origin:         s.serverName,
		OriginServerTS: clock.OriginTS(s.clock),
		Depth:          1,
	})
	if err != nil {
		return ref.RoomID{}, err
	}
	if _, err := s.store.CreateRoom(ctx, create); err != nil {
		return ref.RoomID{}, err
	}

	if _, err := s.Join(ctx, creator, roomID); err != nil {
		return ref.RoomID{}, err
	}

	steps := []InitialStateEvent{
		{Type: event.TypePowerLevels, Content: powerLevels},
		{Type: event.TypeJoinRules, Content: map[string]any{"join_rule": string(settings.joinRule)}},
		{Type: event.TypeHistoryVisibility, Content: map[string]any{"history_visibility": string(settings.historyVisibility)}},
		{Type: event.TypeGuestAccess, Content: map[string]any{"guest_access": string(settings.guestAccess)}},
	}
	steps = append(steps, request.InitialState...)
	if request.Name != "" {
		steps = append(steps, InitialStateEvent{Type: event.TypeName, Content: map[string]any{"name": request.Name}})
	}
	if request.Topic != "" {
		steps = append(steps, InitialStateEvent{Type: event.TypeTopic, Content: map[string]any{"topic": request.Topic}})
	}
	for _, step := range steps {
		if _, err := s.SendStateEvent(ctx, creator, roomID, step.Type, step.StateKey, step.Content); err != nil {
			return ref.RoomID{}, err
		}
	}
	for _, invitee := range request.Invite {
		if _, err := s.Invite(ctx, creator, roomID, invitee); err != nil {
			return ref.RoomID{}, err
		}
	}

	s.logger.Info("room created",
		"room_id", roomID,
		"creator", creator,
		"preset", string(preset),
	)
	return roomID, nil
}

// initialPowerLevels returns the power-levels content of a new room:
// the creator at 100, trusted invitees too for the trusted preset, and
// the request's override merged on top.
func initialPowerLevels(creator ref.UserID, request CreateRoomRequest, settings presetState) (map[string]any, error) {
	levels := event.InitialPowerLevels(creator)
	if settings.invitesAreAdmins {
		for _, invitee := range request.Invite {
			levels.SetUserLevel(invitee, levels.UserLevel(creator))
		}
	}
	content, err := event.ContentMap(levels)
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "initial power levels")
	}
	for key, value := range request.PowerLevelContentOverride {
		content[key] = value
	}
	if _, err := event.ParseContent(event.TypePowerLevels, content); err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindBadJSON, err, "power_level_content_override")
	}
	return content, nil
}
