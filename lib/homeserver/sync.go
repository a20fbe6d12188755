// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver

import (
	"cmp"
	"context"
	"crypto/rand"
	"encoding/hex"
	"slices"
	"strconv"
	"time"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/storage"
)

// TypePresence is the event type of presence updates in a sync
// response.
const TypePresence = "m.presence"

// SyncRequest asks for everything new since a previous sync.
type SyncRequest struct {
	// Since is the next_batch of the previous response. Empty or
	// unknown starts from the beginning.
	Since string `json:"since,omitempty"`
	// FullState includes the complete current state of every joined
	// room.
	FullState bool `json:"full_state,omitempty"`
	// Timeout bounds the wait when nothing is new. It is capped by
	// the server's maximum; zero returns without waiting.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// SyncResponse is one sync delta.
type SyncResponse struct {
	NextBatch   string            `json:"next_batch"`
	Rooms       SyncRooms         `json:"rooms"`
	Presence    PresenceEvents    `json:"presence"`
	AccountData AccountDataEvents `json:"account_data"`
}

// SyncRooms groups room deltas by the caller's membership. Keys are
// room IDs.
type SyncRooms struct {
	Join   map[string]JoinedRoom  `json:"join"`
	Invite map[string]InvitedRoom `json:"invite"`
	Leave  map[string]LeftRoom    `json:"leave"`
}

// RoomSummary carries the member counts of a joined room.
type RoomSummary struct {
	JoinedMemberCount  int `json:"m.joined_member_count"`
	InvitedMemberCount int `json:"m.invited_member_count"`
}

// StateEvents is a block of state events.
type StateEvents struct {
	Events []event.ClientEvent `json:"events"`
}

// Timeline is the new timeline events of a room. PrevBatch is a
// Messages token for paging backwards from the first event.
type Timeline struct {
	Events    []event.ClientEvent `json:"events"`
	Limited   bool                `json:"limited"`
	PrevBatch string              `json:"prev_batch"`
}

// EphemeralEvent is a non-persistent room event such as m.typing.
type EphemeralEvent struct {
	Type    ref.EventType  `json:"type"`
	Content map[string]any `json:"content"`
}

// EphemeralEvents is a block of ephemeral events.
type EphemeralEvents struct {
	Events []EphemeralEvent `json:"events"`
}

// AccountDataEvent is one account data blob.
type AccountDataEvent struct {
	Type    string         `json:"type"`
	Content map[string]any `json:"content"`
}

// AccountDataEvents is a block of account data.
type AccountDataEvents struct {
	Events []AccountDataEvent `json:"events"`
}

// PresenceEvent reports a user's presence and profile.
type PresenceEvent struct {
	Type    string         `json:"type"`
	Sender  ref.UserID     `json:"sender"`
	Content map[string]any `json:"content"`
}

// PresenceEvents is a block of presence updates.
type PresenceEvents struct {
	Events []PresenceEvent `json:"events"`
}

// JoinedRoom is the delta of a room the caller has joined. Per-room
// account data is not stored, so AccountData is always empty.
type JoinedRoom struct {
	Summary     RoomSummary       `json:"summary"`
	State       StateEvents       `json:"state"`
	Timeline    Timeline          `json:"timeline"`
	Ephemeral   EphemeralEvents   `json:"ephemeral"`
	AccountData AccountDataEvents `json:"account_data"`
}

// InviteState is the stripped state shown with an invite.
type InviteState struct {
	Events []event.StrippedStateEvent `json:"events"`
}

// InvitedRoom is a pending invite.
type InvitedRoom struct {
	InviteState InviteState `json:"invite_state"`
}

// LeftRoom is the final delta of a room the caller left or was
// removed from: the timeline up to and including that membership
// change.
type LeftRoom struct {
	Timeline Timeline `json:"timeline"`
}

func newSyncResponse(nextBatch string) SyncResponse {
	return SyncResponse{
		NextBatch: nextBatch,
		Rooms: SyncRooms{
			Join:   make(map[string]JoinedRoom),
			Invite: make(map[string]InvitedRoom),
			Leave:  make(map[string]LeftRoom),
		},
		Presence:    PresenceEvents{Events: []PresenceEvent{}},
		AccountData: AccountDataEvents{Events: []AccountDataEvent{}},
	}
}

// Sync returns what changed for userID since request.Since. When
// nothing has changed it waits up to the request timeout for the
// first joined room to change and returns only that room. The new
// cursor is persisted on every path, including timeouts.
//
// Every room's wake channel is taken before the first scan, so a
// write (timeline or typing) that lands after the scan always wakes
// the wait.
func (s *Server) Sync(ctx context.Context, userID ref.UserID, request SyncRequest) (SyncResponse, error) {
	batch := storage.Batch{}.Clone()
	initial := true
	if request.Since != "" {
		previous, ok, err := s.store.Batch(ctx, request.Since)
		if err != nil {
			return SyncResponse{}, err
		}
		if ok {
			batch, initial = previous.Clone(), false
		}
	}

	nextBatch, err := newBatchToken()
	if err != nil {
		return SyncResponse{}, matrixerr.Wrap(matrixerr.KindInternal, err, "generating sync token")
	}
	response := newSyncResponse(nextBatch)

	if initial {
		if err := s.addAccountSnapshot(ctx, userID, &response); err != nil {
			return SyncResponse{}, err
		}
	}

	rooms, err := s.store.Rooms(ctx)
	if err != nil {
		return SyncResponse{}, err
	}
	wakes := make(map[ref.RoomID]<-chan struct{}, len(rooms))
	for _, roomID := range rooms {
		wakes[roomID] = s.store.Subscribe(roomID)
	}

	var joined []ref.RoomID
	somethingHappened := false
	for _, roomID := range rooms {
		state, err := s.resolveState(ctx, roomID)
		if err != nil {
			return SyncResponse{}, err
		}
		key := roomID.String()
		switch state.Membership(userID) {
		case event.MembershipJoin:
			joined = append(joined, roomID)
			delete(batch.Invites, key)
			room, end, err := s.joinedRoomDelta(ctx, userID, roomID, batch.Next(roomID), request.FullState)
			if err != nil {
				return SyncResponse{}, err
			}
			batch.Rooms[key] = end
			if len(room.Timeline.Events) > 0 || len(room.State.Events) > 0 {
				somethingHappened = true
			}
			response.Rooms.Join[key] = room

		case event.MembershipInvite:
			if batch.InviteDelivered(roomID) {
				continue
			}
			stateEvents, err := storage.FullState(ctx, s.store, roomID)
			if err != nil {
				return SyncResponse{}, err
			}
			stripped := make([]event.StrippedStateEvent, 0, len(stateEvents))
			for _, pdu := range stateEvents {
				stripped = append(stripped, event.Stripped(pdu))
			}
			response.Rooms.Invite[key] = InvitedRoom{InviteState: InviteState{Events: stripped}}
			batch.Invites[key] = true
			somethingHappened = true

		case event.MembershipLeave, event.MembershipBan:
			if _, tracked := batch.Rooms[key]; !tracked {
				delete(batch.Invites, key)
				continue
			}
			left, err := s.leftRoomDelta(ctx, userID, roomID, batch.Next(roomID))
			if err != nil {
				return SyncResponse{}, err
			}
			delete(batch.Rooms, key)
			delete(batch.Invites, key)
			response.Rooms.Leave[key] = left
			somethingHappened = true
		}
	}

	if err := s.store.SetBatch(ctx, nextBatch, batch); err != nil {
		return SyncResponse{}, err
	}
	if somethingHappened {
		return response, nil
	}

	timeout := min(request.Timeout, s.maxSyncTimeout)
	// Nothing new: the joined entries carry only summaries and
	// ephemeral data, which a waiting sync does not return.
	clear(response.Rooms.Join)
	if timeout <= 0 {
		return response, nil
	}

	if len(joined) == 0 {
		select {
		case <-s.clock.After(timeout):
			return response, nil
		case <-ctx.Done():
			return SyncResponse{}, ctx.Err()
		}
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	woken := make(chan ref.RoomID, len(joined))
	for _, roomID := range joined {
		wake := wakes[roomID]
		go func() {
			select {
			case <-wake:
				woken <- roomID
			case <-waitCtx.Done():
			}
		}()
	}

	select {
	case <-s.clock.After(timeout):
		return response, nil
	case <-ctx.Done():
		return SyncResponse{}, ctx.Err()
	case roomID := <-woken:
		from := batch.Next(roomID)
		result, err := s.store.Query(ctx, storage.Query{RoomID: roomID, From: from})
		if err != nil {
			return SyncResponse{}, err
		}
		room, err := s.wokenRoomDelta(ctx, userID, roomID, from, result)
		if err != nil {
			return SyncResponse{}, err
		}
		key := roomID.String()
		batch.Rooms[key] = result.End
		response.Rooms.Join[key] = room
		if err := s.store.SetBatch(ctx, nextBatch, batch); err != nil {
			return SyncResponse{}, err
		}
		s.logger.Debug("sync woken",
			"user_id", userID,
			"room_id", roomID,
			"events", len(result.Events),
		)
		return response, nil
	}
}

// joinedRoomDelta reads the timeline of roomID from position from and
// returns the room's delta with the position after it.
func (s *Server) joinedRoomDelta(ctx context.Context, userID ref.UserID, roomID ref.RoomID, from int, fullState bool) (JoinedRoom, int, error) {
	result, err := s.store.Query(ctx, storage.Query{RoomID: roomID, From: from})
	if err != nil {
		return JoinedRoom{}, 0, err
	}
	room, err := s.wokenRoomDelta(ctx, userID, roomID, from, result)
	if err != nil {
		return JoinedRoom{}, 0, err
	}
	if fullState {
		stateEvents, err := storage.FullState(ctx, s.store, roomID)
		if err != nil {
			return JoinedRoom{}, 0, err
		}
		room.State.Events = clientEvents(userID, stateEvents)
	}
	return room, result.End, nil
}

// wokenRoomDelta builds a joined room delta around timeline events
// already read from position from.
func (s *Server) wokenRoomDelta(ctx context.Context, userID ref.UserID, roomID ref.RoomID, from int, result storage.QueryResult) (JoinedRoom, error) {
	joinedCount, invitedCount, err := storage.MemberCounts(ctx, s.store, roomID)
	if err != nil {
		return JoinedRoom{}, err
	}
	ephemeral, err := s.ephemeralEvents(ctx, roomID)
	if err != nil {
		return JoinedRoom{}, err
	}
	return JoinedRoom{
		Summary: RoomSummary{JoinedMemberCount: joinedCount, InvitedMemberCount: invitedCount},
		State:   StateEvents{Events: []event.ClientEvent{}},
		Timeline: Timeline{
			Events:    clientEvents(userID, result.Events),
			PrevBatch: strconv.Itoa(from),
		},
		Ephemeral:   ephemeral,
		AccountData: AccountDataEvents{Events: []AccountDataEvent{}},
	}, nil
}

// leftRoomDelta returns the timeline of roomID from position from up
// to and including userID's latest membership event.
func (s *Server) leftRoomDelta(ctx context.Context, userID ref.UserID, roomID ref.RoomID, from int) (LeftRoom, error) {
	result, err := s.store.Query(ctx, storage.Query{RoomID: roomID, From: from})
	if err != nil {
		return LeftRoom{}, err
	}
	events := result.Events
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type() == event.TypeMember && event.StateKeyOf(events[i]) == userID.String() {
			events = events[:i+1]
			break
		}
	}
	return LeftRoom{Timeline: Timeline{
		Events:    clientEvents(userID, events),
		PrevBatch: strconv.Itoa(from),
	}}, nil
}

func (s *Server) ephemeralEvents(ctx context.Context, roomID ref.RoomID) (EphemeralEvents, error) {
	all, err := s.store.AllEphemeral(ctx, roomID)
	if err != nil {
		return EphemeralEvents{}, err
	}
	events := make([]EphemeralEvent, 0, len(all))
	for eventType, content := range all {
		events = append(events, EphemeralEvent{Type: eventType, Content: content})
	}
	slices.SortFunc(events, func(a, b EphemeralEvent) int { return cmp.Compare(a.Type, b.Type) })
	return EphemeralEvents{Events: events}, nil
}

// addAccountSnapshot adds the caller's global account data and own
// presence, which only an initial sync carries.
func (s *Server) addAccountSnapshot(ctx context.Context, userID ref.UserID, response *SyncResponse) error {
	accountData, err := s.store.AllAccountData(ctx, userID)
	if err != nil {
		if matrixerr.KindOf(err) == matrixerr.KindUserNotFound {
			return nil
		}
		return err
	}
	for dataType, content := range accountData {
		response.AccountData.Events = append(response.AccountData.Events, AccountDataEvent{Type: dataType, Content: content})
	}
	slices.SortFunc(response.AccountData.Events, func(a, b AccountDataEvent) int { return cmp.Compare(a.Type, b.Type) })

	profile, err := s.store.Profile(ctx, userID)
	if err != nil {
		return err
	}
	if profile.Presence != "" {
		content := map[string]any{"presence": string(profile.Presence)}
		if profile.DisplayName != "" {
			content["displayname"] = profile.DisplayName
		}
		if profile.AvatarURL != "" {
			content["avatar_url"] = profile.AvatarURL
		}
		response.Presence.Events = append(response.Presence.Events, PresenceEvent{Type: TypePresence, Sender: userID, Content: content})
	}
	return nil
}

func newBatchToken() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
