// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver

import (
	"context"
	"math"
	"slices"
	"strconv"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

// DefaultMessagesLimit is the page size of Messages when the request
// does not set one.
const DefaultMessagesLimit = 10

// requireJoined gates room reads on the caller's resolved membership.
// Reads by invited, departed or banned users are not supported.
func (s *Server) requireJoined(ctx context.Context, userID ref.UserID, roomID ref.RoomID) error {
	state, err := s.resolveState(ctx, roomID)
	if err != nil {
		return err
	}
	switch membership := state.Membership(userID); membership {
	case event.MembershipJoin:
		return nil
	case "":
		return matrixerr.New(matrixerr.KindForbidden, "%s is not a member of %s", userID, roomID)
	default:
		return matrixerr.New(matrixerr.KindUnimplemented, "reading %s with membership %q is not supported", roomID, membership)
	}
}

func clientEvents(viewer ref.UserID, events []event.PDU) []event.ClientEvent {
	result := make([]event.ClientEvent, 0, len(events))
	for _, pdu := range events {
		result = append(result, pdu.ClientEvent().ForViewer(viewer))
	}
	return result
}

// Event returns one event in client form. The caller must be joined
// to the event's room.
func (s *Server) Event(ctx context.Context, userID ref.UserID, eventID ref.EventID) (event.ClientEvent, error) {
	pdu, err := s.store.Event(ctx, eventID)
	if err != nil {
		return event.ClientEvent{}, err
	}
	state, err := s.resolveState(ctx, pdu.RoomID())
	if err != nil {
		return event.ClientEvent{}, err
	}
	if state.Membership(userID) != event.MembershipJoin {
		return event.ClientEvent{}, matrixerr.New(matrixerr.KindForbidden, "%s is not in the room of %s", userID, eventID)
	}
	return pdu.ClientEvent().ForViewer(userID), nil
}

// StateEvent returns the content of the (eventType, stateKey) state
// of roomID.
func (s *Server) StateEvent(ctx context.Context, userID ref.UserID, roomID ref.RoomID, eventType ref.EventType, stateKey string) (map[string]any, error) {
	if err := s.requireJoined(ctx, userID, roomID); err != nil {
		return nil, err
	}
	pdu, err := storage.StateEvent(ctx, s.store, roomID, eventType, stateKey)
	if err != nil {
		return nil, err
	}
	return pdu.Content(), nil
}

// State returns every current state event of roomID.
func (s *Server) State(ctx context.Context, userID ref.UserID, roomID ref.RoomID) ([]event.ClientEvent, error) {
	if err := s.requireJoined(ctx, userID, roomID); err != nil {
		return nil, err
	}
	events, err := storage.FullState(ctx, s.store, roomID)
	if err != nil {
		return nil, err
	}
	return clientEvents(userID, events), nil
}

// MembersFilter narrows Members by membership. Empty fields do not
// filter.
type MembersFilter struct {
	Membership    event.Membership `json:"membership,omitempty"`
	NotMembership event.Membership `json:"not_membership,omitempty"`
}

// Members returns the current m.room.member events of roomID that pass
// filter.
func (s *Server) Members(ctx context.Context, userID ref.UserID, roomID ref.RoomID, filter MembersFilter) ([]event.ClientEvent, error) {
	if err := s.requireJoined(ctx, userID, roomID); err != nil {
		return nil, err
	}
	result, err := s.store.Query(ctx, storage.Query{RoomID: roomID, Mode: storage.State, Types: []ref.EventType{event.TypeMember}})
	if err != nil {
		return nil, err
	}
	members := slices.DeleteFunc(result.Events, func(pdu event.PDU) bool {
		membership, _ := pdu.Content()["membership"].(string)
		if filter.Membership != "" && event.Membership(membership) != filter.Membership {
			return true
		}
		return filter.NotMembership != "" && event.Membership(membership) == filter.NotMembership
	})
	return clientEvents(userID, members), nil
}

// Direction is the paging direction of Messages.
type Direction string

const (
	Forward  Direction = "f"
	Backward Direction = "b"
)

// MessagesRequest pages through a room's timeline. From and the
// returned tokens are timeline positions; clients treat them as
// opaque.
type MessagesRequest struct {
	From         string         `json:"from,omitempty"`
	Dir          Direction      `json:"dir,omitempty"`
	Limit        int            `json:"limit,omitempty"`
	Types        []ref.EventType `json:"types,omitempty"`
	NotTypes     []ref.EventType `json:"not_types,omitempty"`
	Senders      []ref.UserID   `json:"senders,omitempty"`
	NotSenders   []ref.UserID   `json:"not_senders,omitempty"`
	ContainsJSON map[string]any `json:"contains_json,omitempty"`
}

// MessagesResponse is one page of timeline events. Chunk is in paging
// order: oldest first going forward, newest first going backward.
type MessagesResponse struct {
	Start string              `json:"start"`
	End   string              `json:"end"`
	Chunk []event.ClientEvent `json:"chunk"`
}

// Messages returns one page of roomID's timeline. Forward paging
// starts at the beginning by default and backward paging at the
// current end. A page covers Limit timeline positions; filtered-out
// events leave the page shorter.
func (s *Server) Messages(ctx context.Context, userID ref.UserID, roomID ref.RoomID, request MessagesRequest) (MessagesResponse, error) {
	if err := s.requireJoined(ctx, userID, roomID); err != nil {
		return MessagesResponse{}, err
	}
	limit := request.Limit
	if limit <= 0 {
		limit = DefaultMessagesLimit
	}
	dir := request.Dir
	if dir == "" {
		dir = Forward
	}
	if dir != Forward && dir != Backward {
		return MessagesResponse{}, matrixerr.New(matrixerr.KindBadJSON, "dir must be %q or %q", Forward, Backward)
	}

	query := storage.Query{
		RoomID:       roomID,
		Mode:         storage.Timeline,
		Senders:      request.Senders,
		NotSenders:   request.NotSenders,
		Types:        request.Types,
		NotTypes:     request.NotTypes,
		ContainsJSON: request.ContainsJSON,
	}

	var start int
	switch {
	case request.From != "":
		position, err := strconv.Atoi(request.From)
		if err != nil || position < 0 {
			return MessagesResponse{}, matrixerr.New(matrixerr.KindBadJSON, "invalid from token %q", request.From)
		}
		start = position
	case dir == Backward:
		end, err := s.store.Query(ctx, storage.Query{RoomID: roomID, From: math.MaxInt})
		if err != nil {
			return MessagesResponse{}, err
		}
		start = end.End
	}

	var end int
	if dir == Forward {
		query.From, query.To = start, start+limit
		result, err := s.store.Query(ctx, query)
		if err != nil {
			return MessagesResponse{}, err
		}
		// Query clamps to the timeline; To may have been past the end.
		end = result.End
		if start > end {
			start = end
		}
		return MessagesResponse{
			Start: strconv.Itoa(start),
			End:   strconv.Itoa(end),
			Chunk: clientEvents(userID, result.Events),
		}, nil
	}

	end = max(start-limit, 0)
	if end == start {
		return MessagesResponse{Start: strconv.Itoa(start), End: strconv.Itoa(end), Chunk: []event.ClientEvent{}}, nil
	}
	query.From, query.To = end, start
	result, err := s.store.Query(ctx, query)
	if err != nil {
		return MessagesResponse{}, err
	}
	slices.Reverse(result.Events)
	return MessagesResponse{
		Start: strconv.Itoa(start),
		End:   strconv.Itoa(end),
		Chunk: clientEvents(userID, result.Events),
	}, nil
}
