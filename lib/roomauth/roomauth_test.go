// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomauth

import (
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/stateres"
)

var (
	server  = ref.MustParseServerName("test.local")
	roomID  = ref.MustParseRoomID("!room:test.local")
	creator = ref.MustParseUserID("@creator:test.local")
	sender  = ref.MustParseUserID("@sender:test.local")
	target  = ref.MustParseUserID("@target:test.local")
)

// candidate is an unbuilt event proposal.
type candidate struct {
	eventType ref.EventType
	sender    ref.UserID
	stateKey  *string
	content   map[string]any
	redacts   ref.EventID
}

func (c candidate) Type() ref.EventType     { return c.eventType }
func (c candidate) Sender() ref.UserID      { return c.sender }
func (c candidate) StateKey() *string       { return c.stateKey }
func (c candidate) Content() map[string]any { return c.content }
func (c candidate) Redacts() ref.EventID    { return c.redacts }

func memberCandidate(from, to ref.UserID, membership event.Membership) candidate {
	return candidate{
		eventType: event.TypeMember,
		sender:    from,
		stateKey:  event.StateKey(to.String()),
		content:   map[string]any{"membership": string(membership)},
	}
}

// roomBuilder builds a linear chain of state events for a test room.
// Events are not authorized; the builder only produces state.
type roomBuilder struct {
	t      *testing.T
	events []event.PDU
}

func newRoom(t *testing.T) *roomBuilder {
	b := &roomBuilder{t: t}
	b.add(creator, event.TypeCreate, "", map[string]any{"creator": creator.String(), "room_version": "4"})
	b.member(creator, event.MembershipJoin)
	return b
}

func (b *roomBuilder) add(from ref.UserID, eventType ref.EventType, stateKey string, content map[string]any) event.PDU {
	b.t.Helper()
	var prev []ref.EventID
	if n := len(b.events); n > 0 {
		prev = []ref.EventID{b.events[n-1].EventID()}
	}
	pdu, err := event.Build(event.RoomVersion4, event.Proto{
		RoomID:     roomID,
		Sender:     from,
		Type:       eventType,
		StateKey:   event.StateKey(stateKey),
		Content:    content,
		Origin:     server,
		PrevEvents: prev,
		Depth:      int64(len(b.events) + 1),
	})
	if err != nil {
		b.t.Fatalf("building %s: %v", eventType, err)
	}
	b.events = append(b.events, pdu)
	return pdu
}

func (b *roomBuilder) member(user ref.UserID, membership event.Membership) event.PDU {
	return b.add(user, event.TypeMember, user.String(), map[string]any{"membership": string(membership)})
}

func (b *roomBuilder) powerLevels(users map[string]any, extra map[string]any) event.PDU {
	content := map[string]any{"users": users}
	for key, value := range extra {
		content[key] = value
	}
	return b.add(creator, event.TypePowerLevels, "", content)
}

func (b *roomBuilder) joinRule(rule event.JoinRule) event.PDU {
	return b.add(creator, event.TypeJoinRules, "", map[string]any{"join_rule": string(rule)})
}

func (b *roomBuilder) state() *stateres.State {
	return stateres.NewState(b.events...)
}

func kindOf(err error) string {
	if err == nil {
		return "accept"
	}
	return matrixerr.KindOf(err).String()
}

// expectedMembership restates the transition table independently of
// the implementation.
func expectedMembership(prior, requested event.Membership, self bool, senderPower int) error {
	const threshold = 50
	senderMembership := event.MembershipJoin
	if self {
		senderMembership = prior
	}
	switch requested {
	case event.MembershipJoin:
		if !self {
			return matrixerr.ErrInvalidEvent
		}
		switch prior {
		case event.MembershipJoin, event.MembershipInvite:
			return nil
		case event.MembershipBan:
			return matrixerr.ErrUserBanned
		}
		return matrixerr.ErrUserNotInvited
	case event.MembershipLeave:
		if senderMembership != event.MembershipJoin {
			return matrixerr.ErrUserNotInRoom
		}
		if self {
			return nil
		}
		if senderPower < threshold {
			return matrixerr.ErrInsufficientPowerLevel
		}
		return nil
	case event.MembershipBan, event.MembershipInvite:
		if senderMembership != event.MembershipJoin {
			return matrixerr.ErrUserNotInRoom
		}
		if senderPower < threshold {
			return matrixerr.ErrInsufficientPowerLevel
		}
		return nil
	case event.MembershipKnock:
		return matrixerr.ErrUnimplemented
	}
	panic("unreachable")
}

func TestMembershipMatrix(t *testing.T) {
	priors := append([]event.Membership{""}, event.AllMemberships...)
	for _, prior := range priors {
		for _, requested := range event.AllMemberships {
			for _, self := range []bool{true, false} {
				for _, senderPower := range []int{0, 50, 100} {
					name := fmt.Sprintf("prior=%s/new=%s/self=%v/power=%d", prior, requested, self, senderPower)
					t.Run(name, func(t *testing.T) {
						room := newRoom(t)
						room.powerLevels(map[string]any{
							creator.String(): 100,
							sender.String():  senderPower,
						}, map[string]any{"ban": 50, "kick": 50, "invite": 50})
						room.joinRule(event.JoinRuleInvite)

						subject := sender
						if self {
							if prior != "" {
								room.member(sender, prior)
							}
						} else {
							room.member(sender, event.MembershipJoin)
							subject = target
							if prior != "" {
								room.member(target, prior)
							}
						}

						err := CheckMembership(memberCandidate(sender, subject, requested), room.state())
						want := expectedMembership(prior, requested, self, senderPower)
						if kindOf(err) != kindOf(want) {
							t.Fatalf("got %s (%v), want %s", kindOf(err), err, kindOf(want))
						}
					})
				}
			}
		}
	}
}

func TestJoinPublicRoom(t *testing.T) {
	room := newRoom(t)
	room.joinRule(event.JoinRulePublic)
	if err := CheckMembership(memberCandidate(target, target, event.MembershipJoin), room.state()); err != nil {
		t.Fatalf("joining a public room: %v", err)
	}

	room.member(target, event.MembershipBan)
	err := CheckMembership(memberCandidate(target, target, event.MembershipJoin), room.state())
	if !errors.Is(err, matrixerr.ErrUserBanned) {
		t.Fatalf("banned user joining a public room: %v, want UserBanned", err)
	}
}

func TestMembershipGateScenario(t *testing.T) {
	// No explicit power levels, join rule invite: an uninvited user
	// cannot join; once a joined member invites them, they can.
	room := newRoom(t)
	room.joinRule(event.JoinRuleInvite)

	join := memberCandidate(target, target, event.MembershipJoin)
	if err := CheckMembership(join, room.state()); !errors.Is(err, matrixerr.ErrUserNotInvited) {
		t.Fatalf("uninvited join: %v, want UserNotInvited", err)
	}

	invite := memberCandidate(creator, target, event.MembershipInvite)
	if err := CheckMembership(invite, room.state()); err != nil {
		t.Fatalf("creator invite under implicit levels: %v", err)
	}
	room.member(target, event.MembershipInvite)

	if err := CheckMembership(join, room.state()); err != nil {
		t.Fatalf("invited join: %v", err)
	}
}

func TestCreatorFirstJoin(t *testing.T) {
	room := &roomBuilder{t: t}
	room.add(creator, event.TypeCreate, "", map[string]any{"creator": creator.String(), "room_version": "4"})
	state := room.state()

	if err := CheckMembership(memberCandidate(creator, creator, event.MembershipJoin), state); err != nil {
		t.Fatalf("creator joining a fresh room: %v", err)
	}
	err := CheckMembership(memberCandidate(target, target, event.MembershipJoin), state)
	if !errors.Is(err, matrixerr.ErrUserNotInvited) {
		t.Fatalf("non-creator joining a fresh room: %v, want UserNotInvited", err)
	}
}

func TestImplicitLevelsGateNonCreator(t *testing.T) {
	room := newRoom(t)
	room.joinRule(event.JoinRulePublic)
	room.member(sender, event.MembershipJoin)
	state := room.state()

	// Implicit levels: everyone but the creator is at 0 and the
	// invite threshold is still 50.
	err := CheckMembership(memberCandidate(sender, target, event.MembershipInvite), state)
	if !errors.Is(err, matrixerr.ErrInsufficientPowerLevel) {
		t.Fatalf("non-creator invite: %v, want InsufficientPowerLevel", err)
	}

	// State events need 0 under implicit levels.
	topic := candidate{
		eventType: event.TypeTopic,
		sender:    sender,
		stateKey:  event.StateKey(""),
		content:   map[string]any{"topic": "hello"},
	}
	if err := CheckEvent(topic, state, nil); err != nil {
		t.Fatalf("topic under implicit levels: %v", err)
	}
}

func TestCheckEvent(t *testing.T) {
	room := newRoom(t)
	room.powerLevels(map[string]any{creator.String(): 100, sender.String(): 10},
		map[string]any{"events": map[string]any{"m.room.name": 20}})
	room.joinRule(event.JoinRulePublic)
	room.member(sender, event.MembershipJoin)
	state := room.state()

	message := candidate{eventType: event.TypeMessage, sender: sender, content: map[string]any{"body": "hi"}}
	if err := CheckEvent(message, state, nil); err != nil {
		t.Errorf("message at events_default 0: %v", err)
	}

	topic := candidate{eventType: event.TypeTopic, sender: sender, stateKey: event.StateKey(""), content: map[string]any{}}
	if err := CheckEvent(topic, state, nil); !errors.Is(err, matrixerr.ErrInsufficientPowerLevel) {
		t.Errorf("topic at state_default 50: %v, want InsufficientPowerLevel", err)
	}

	name := candidate{eventType: event.TypeName, sender: sender, stateKey: event.StateKey(""), content: map[string]any{}}
	if err := CheckEvent(name, state, nil); !errors.Is(err, matrixerr.ErrInsufficientPowerLevel) {
		t.Errorf("name override 20 with power 10: %v, want InsufficientPowerLevel", err)
	}

	outsider := candidate{eventType: event.TypeMessage, sender: target, content: map[string]any{}}
	if err := CheckEvent(outsider, state, nil); !errors.Is(err, matrixerr.ErrUserNotInRoom) {
		t.Errorf("outsider message: %v, want UserNotInRoom", err)
	}
}

func TestRedactionLevels(t *testing.T) {
	room := newRoom(t)
	room.powerLevels(map[string]any{creator.String(): 100}, nil)
	room.joinRule(event.JoinRulePublic)
	room.member(sender, event.MembershipJoin)
	state := room.state()

	own := ref.MustParseEventID("$own")
	others := ref.MustParseEventID("$others")
	senders := func(eventID ref.EventID) (ref.UserID, bool) {
		switch eventID {
		case own:
			return sender, true
		case others:
			return creator, true
		}
		return ref.UserID{}, false
	}
	redaction := func(from ref.UserID, target ref.EventID) candidate {
		return candidate{eventType: event.TypeRedaction, sender: from, content: map[string]any{}, redacts: target}
	}

	if err := Authorize(redaction(sender, own), state, senders); err != nil {
		t.Errorf("redacting own event: %v", err)
	}
	if err := Authorize(redaction(sender, others), state, senders); !errors.Is(err, matrixerr.ErrInsufficientPowerLevel) {
		t.Errorf("redacting another's event at power 0: %v, want InsufficientPowerLevel", err)
	}
	if err := Authorize(redaction(creator, own), state, senders); err != nil {
		t.Errorf("creator redacting: %v", err)
	}
	if err := Authorize(redaction(sender, ref.MustParseEventID("$missing")), state, senders); !errors.Is(err, matrixerr.ErrNotFound) {
		t.Errorf("redacting unknown event: %v, want NotFound", err)
	}
}

func TestAuthorizeRejectsSecondCreate(t *testing.T) {
	room := newRoom(t)
	create := candidate{
		eventType: event.TypeCreate,
		sender:    creator,
		stateKey:  event.StateKey(""),
		content:   map[string]any{"creator": creator.String()},
	}
	if err := Authorize(create, room.state(), nil); !errors.Is(err, matrixerr.ErrInvalidEvent) {
		t.Fatalf("second create: %v, want InvalidEvent", err)
	}
}

func TestSelectAuthEvents(t *testing.T) {
	room := newRoom(t)
	create := room.events[0]
	creatorJoin := room.events[1]
	levels := room.powerLevels(map[string]any{creator.String(): 100}, nil)
	rules := room.joinRule(event.JoinRulePublic)
	targetInvite := room.member(target, event.MembershipInvite)
	state := room.state()

	message := candidate{eventType: event.TypeMessage, sender: creator, content: map[string]any{}}
	want := []ref.EventID{create.EventID(), levels.EventID(), creatorJoin.EventID()}
	if got := SelectAuthEvents(message, state); !slices.Equal(got, want) {
		t.Errorf("message auth events = %v, want %v", got, want)
	}

	join := memberCandidate(target, target, event.MembershipJoin)
	want = []ref.EventID{create.EventID(), levels.EventID(), targetInvite.EventID(), rules.EventID()}
	if got := SelectAuthEvents(join, state); !slices.Equal(got, want) {
		t.Errorf("join auth events = %v, want %v", got, want)
	}

	kick := memberCandidate(creator, target, event.MembershipLeave)
	want = []ref.EventID{create.EventID(), levels.EventID(), creatorJoin.EventID(), targetInvite.EventID()}
	if got := SelectAuthEvents(kick, state); !slices.Equal(got, want) {
		t.Errorf("kick auth events = %v, want %v", got, want)
	}

	// A stranger's first join in a room without power levels.
	bare := newRoom(t)
	stranger := memberCandidate(sender, sender, event.MembershipJoin)
	want = []ref.EventID{bare.events[0].EventID()}
	if got := SelectAuthEvents(stranger, bare.state()); !slices.Equal(got, want) {
		t.Errorf("stranger auth events = %v, want %v", got, want)
	}
}
