// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stateres

import (
	"slices"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// Key identifies a state slot.
type Key struct {
	Type     ref.EventType
	StateKey string
}

// State is an immutable resolved state mapping. The zero value is an
// empty state.
type State struct {
	events map[Key]event.PDU
}

// wins reports whether candidate beats incumbent for the same key:
// higher depth wins, equal depth goes to the smaller event ID.
func wins(candidate, incumbent event.PDU) bool {
	if candidate.Depth() != incumbent.Depth() {
		return candidate.Depth() > incumbent.Depth()
	}
	return candidate.EventID().Less(incumbent.EventID())
}

// builder accumulates winners per key.
type builder struct {
	events map[Key]event.PDU
}

func newBuilder() *builder {
	return &builder{events: make(map[Key]event.PDU)}
}

func (b *builder) offer(pdu event.PDU) {
	if !pdu.IsState() {
		return
	}
	key := Key{Type: pdu.Type(), StateKey: event.StateKeyOf(pdu)}
	if incumbent, ok := b.events[key]; !ok || wins(pdu, incumbent) {
		b.events[key] = pdu
	}
}

func (b *builder) merge(state *State) {
	for _, pdu := range state.events {
		b.offer(pdu)
	}
}

func (b *builder) state() *State {
	return &State{events: b.events}
}

// NewState builds a state from a set of events, applying the same
// winner rule as resolution. Timeline events are ignored.
func NewState(events ...event.PDU) *State {
	b := newBuilder()
	for _, pdu := range events {
		b.offer(pdu)
	}
	return b.state()
}

// With returns a new state with pdu offered on top of s. s is not
// modified.
func (s *State) With(pdu event.PDU) *State {
	b := newBuilder()
	b.merge(s)
	b.offer(pdu)
	return b.state()
}

// Get returns the state event for (eventType, stateKey), or nil.
func (s *State) Get(eventType ref.EventType, stateKey string) event.PDU {
	if s == nil {
		return nil
	}
	return s.events[Key{Type: eventType, StateKey: stateKey}]
}

// Len returns the number of state slots.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.events)
}

// Events returns every state event ordered by depth, then event ID.
func (s *State) Events() []event.PDU {
	if s == nil {
		return nil
	}
	result := make([]event.PDU, 0, len(s.events))
	for _, pdu := range s.events {
		result = append(result, pdu)
	}
	slices.SortFunc(result, func(a, b event.PDU) int {
		switch {
		case a.Depth() < b.Depth():
			return -1
		case a.Depth() > b.Depth():
			return 1
		case a.EventID().Less(b.EventID()):
			return -1
		case b.EventID().Less(a.EventID()):
			return 1
		}
		return 0
	})
	return result
}

// Create returns the room's create event, or nil.
func (s *State) Create() event.PDU {
	return s.Get(event.TypeCreate, "")
}

// CreateContent returns the parsed create content, or nil when the
// state has no create event.
func (s *State) CreateContent() (*event.CreateContent, error) {
	create := s.Create()
	if create == nil {
		return nil, nil
	}
	content, err := event.ParseContent(event.TypeCreate, create.Content())
	if err != nil {
		return nil, err
	}
	return content.(*event.CreateContent), nil
}

// PowerLevels returns the parsed power-levels content, or nil when the
// room has no power-levels event.
func (s *State) PowerLevels() (*event.PowerLevelsContent, error) {
	pdu := s.Get(event.TypePowerLevels, "")
	if pdu == nil {
		return nil, nil
	}
	content, err := event.ParseContent(event.TypePowerLevels, pdu.Content())
	if err != nil {
		return nil, err
	}
	return content.(*event.PowerLevelsContent), nil
}

// JoinRule returns the room's join rule. A room without a join-rules
// event is invite-only.
func (s *State) JoinRule() event.JoinRule {
	pdu := s.Get(event.TypeJoinRules, "")
	if pdu == nil {
		return event.JoinRuleInvite
	}
	content, err := event.ParseContent(event.TypeJoinRules, pdu.Content())
	if err != nil {
		return event.JoinRuleInvite
	}
	return content.(*event.JoinRulesContent).JoinRule
}

// Membership returns the user's current membership, or "" when the
// user has no member event.
func (s *State) Membership(userID ref.UserID) event.Membership {
	pdu := s.Get(event.TypeMember, userID.String())
	if pdu == nil {
		return ""
	}
	membership, err := event.ParseMembership(stringField(pdu.Content(), "membership"))
	if err != nil {
		return ""
	}
	return membership
}

// Members returns the user IDs whose current membership is one of
// memberships. The result is sorted.
func (s *State) Members(memberships ...event.Membership) []ref.UserID {
	if s == nil {
		return nil
	}
	var result []ref.UserID
	for key, pdu := range s.events {
		if key.Type != event.TypeMember {
			continue
		}
		membership := event.Membership(stringField(pdu.Content(), "membership"))
		if !slices.Contains(memberships, membership) {
			continue
		}
		userID, err := ref.ParseUserID(key.StateKey)
		if err != nil {
			continue
		}
		result = append(result, userID)
	}
	slices.SortFunc(result, func(a, b ref.UserID) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		}
		return 0
	})
	return result
}

func stringField(content map[string]any, key string) string {
	value, _ := content[key].(string)
	return value
}
