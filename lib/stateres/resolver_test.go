// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stateres

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

var (
	testServer = ref.MustParseServerName("test.local")
	testRoom   = ref.MustParseRoomID("!graph:test.local")
	testAlice  = ref.MustParseUserID("@alice:test.local")
	testBob    = ref.MustParseUserID("@bob:test.local")
)

// mapSource is an in-memory EventSource that counts loads.
type mapSource struct {
	mu     sync.Mutex
	events map[ref.EventID]event.PDU
	loads  int
}

func newMapSource() *mapSource {
	return &mapSource{events: make(map[ref.EventID]event.PDU)}
}

func (s *mapSource) PDU(_ context.Context, eventID ref.EventID) (event.PDU, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	pdu, ok := s.events[eventID]
	if !ok {
		return nil, matrixerr.New(matrixerr.KindNotFound, "event %s", eventID)
	}
	return pdu, nil
}

func (s *mapSource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// add builds an event on top of prev and stores it.
func (s *mapSource) add(t *testing.T, eventType ref.EventType, stateKey *string, content map[string]any, prev ...event.PDU) event.PDU {
	t.Helper()
	var depth int64
	var prevIDs []ref.EventID
	for _, parent := range prev {
		prevIDs = append(prevIDs, parent.EventID())
		depth = max(depth, parent.Depth())
	}
	pdu, err := event.Build(event.RoomVersion4, event.Proto{
		RoomID:     testRoom,
		Sender:     testAlice,
		Type:       eventType,
		StateKey:   stateKey,
		Content:    content,
		Origin:     testServer,
		PrevEvents: prevIDs,
		Depth:      depth + 1,
	})
	if err != nil {
		t.Fatalf("Build %s: %v", eventType, err)
	}
	s.mu.Lock()
	s.events[pdu.EventID()] = pdu
	s.mu.Unlock()
	return pdu
}

func (s *mapSource) create(t *testing.T) event.PDU {
	return s.add(t, event.TypeCreate, event.StateKey(""), map[string]any{"creator": testAlice.String()})
}

func (s *mapSource) topic(t *testing.T, topic string, prev ...event.PDU) event.PDU {
	return s.add(t, event.TypeTopic, event.StateKey(""), map[string]any{"topic": topic}, prev...)
}

func newTestResolver(t *testing.T, source EventSource) *Resolver {
	t.Helper()
	resolver, err := NewResolver(source, 16)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return resolver
}

func topicOf(state *State) string {
	pdu := state.Get(event.TypeTopic, "")
	if pdu == nil {
		return ""
	}
	return pdu.Content()["topic"].(string)
}

func TestResolveLinearChain(t *testing.T) {
	source := newMapSource()
	create := source.create(t)
	join := source.add(t, event.TypeMember, event.StateKey(testAlice.String()), map[string]any{"membership": "join"}, create)
	first := source.topic(t, "first", join)
	message := source.add(t, event.TypeMessage, nil, map[string]any{"body": "hi"}, first)
	second := source.topic(t, "second", message)

	state, err := newTestResolver(t, source).Resolve(context.Background(), testRoom, []ref.EventID{second.EventID()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if topicOf(state) != "second" {
		t.Errorf("topic = %q, want second", topicOf(state))
	}
	if state.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (create, member, topic)", state.Len())
	}
	if state.Membership(testAlice) != event.MembershipJoin {
		t.Errorf("alice membership = %q", state.Membership(testAlice))
	}
	if state.Membership(testBob) != "" {
		t.Errorf("bob membership = %q, want none", state.Membership(testBob))
	}
	if state.Create().EventID() != create.EventID() {
		t.Error("Create() returned the wrong event")
	}

	events := state.Events()
	if len(events) != 3 || events[0].EventID() != create.EventID() || events[2].EventID() != second.EventID() {
		t.Errorf("Events() not ordered by depth: %v", events)
	}
}

func TestResolveForkTieBreak(t *testing.T) {
	source := newMapSource()
	create := source.create(t)
	left := source.topic(t, "left", create)
	right := source.topic(t, "right", create)

	want := "left"
	if right.EventID().Less(left.EventID()) {
		want = "right"
	}

	for _, frontier := range [][]ref.EventID{
		{left.EventID(), right.EventID()},
		{right.EventID(), left.EventID()},
	} {
		// Fresh resolver each time so the cache cannot mask ordering.
		state, err := newTestResolver(t, source).Resolve(context.Background(), testRoom, frontier)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got := topicOf(state); got != want {
			t.Errorf("frontier %v: topic = %q, want %q (smaller event ID)", frontier, got, want)
		}
	}
}

func TestResolveDeeperBranchWins(t *testing.T) {
	source := newMapSource()
	create := source.create(t)
	shallow := source.topic(t, "shallow", create)
	filler := source.add(t, event.TypeMessage, nil, map[string]any{}, create)
	deep := source.topic(t, "deep", filler)

	state, err := newTestResolver(t, source).Resolve(context.Background(), testRoom,
		[]ref.EventID{shallow.EventID(), deep.EventID()})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if topicOf(state) != "deep" {
		t.Errorf("topic = %q, want deep", topicOf(state))
	}
}

func TestResolveIdempotent(t *testing.T) {
	source := newMapSource()
	create := source.create(t)
	a := source.topic(t, "a", create)
	b := source.topic(t, "b", create)
	merge := source.add(t, event.TypeName, event.StateKey(""), map[string]any{"name": "n"}, a, b)

	resolver := newTestResolver(t, source)
	first, err := resolver.Resolve(context.Background(), testRoom, []ref.EventID{merge.EventID()})
	if err != nil {
		t.Fatal(err)
	}
	uncached, err := newTestResolver(t, source).Resolve(context.Background(), testRoom, []ref.EventID{merge.EventID()})
	if err != nil {
		t.Fatal(err)
	}
	second, err := resolver.Resolve(context.Background(), testRoom, []ref.EventID{merge.EventID()})
	if err != nil {
		t.Fatal(err)
	}
	ids := func(state *State) []ref.EventID {
		var result []ref.EventID
		for _, pdu := range state.Events() {
			result = append(result, pdu.EventID())
		}
		return result
	}
	if !slices.Equal(ids(first), ids(second)) || !slices.Equal(ids(first), ids(uncached)) {
		t.Errorf("resolution is not deterministic:\n%v\n%v\n%v", ids(first), ids(second), ids(uncached))
	}
}

func TestResolveUsesCheckpoints(t *testing.T) {
	source := newMapSource()
	create := source.create(t)
	head := source.topic(t, "one", create)
	resolver := newTestResolver(t, source)

	state, err := resolver.Resolve(context.Background(), testRoom, []ref.EventID{head.EventID()})
	if err != nil {
		t.Fatal(err)
	}
	loadsAfterFirst := source.loadCount()

	// A cache hit loads nothing.
	if _, err := resolver.Resolve(context.Background(), testRoom, []ref.EventID{head.EventID()}); err != nil {
		t.Fatal(err)
	}
	if source.loadCount() != loadsAfterFirst {
		t.Errorf("cached resolve loaded %d events", source.loadCount()-loadsAfterFirst)
	}

	// Extending the chain walks only the new event.
	next := source.topic(t, "two", head)
	resolver.Remember(head.EventID(), state)
	state, err = resolver.Resolve(context.Background(), testRoom, []ref.EventID{next.EventID()})
	if err != nil {
		t.Fatal(err)
	}
	if got := source.loadCount() - loadsAfterFirst; got != 1 {
		t.Errorf("extending resolve loaded %d events, want 1", got)
	}
	if topicOf(state) != "two" {
		t.Errorf("topic = %q, want two", topicOf(state))
	}
}

func TestResolveWithoutCreateFails(t *testing.T) {
	source := newMapSource()
	orphan := source.topic(t, "orphan")
	_, err := newTestResolver(t, source).Resolve(context.Background(), testRoom, []ref.EventID{orphan.EventID()})
	if !errors.Is(err, matrixerr.ErrInternal) {
		t.Fatalf("error = %v, want Internal", err)
	}
}

func TestResolveMissingAncestorFails(t *testing.T) {
	source := newMapSource()
	create := source.create(t)
	child := source.topic(t, "child", create)
	delete(source.events, create.EventID())

	_, err := newTestResolver(t, source).Resolve(context.Background(), testRoom, []ref.EventID{child.EventID()})
	if !errors.Is(err, matrixerr.ErrInternal) {
		t.Fatalf("error = %v, want Internal", err)
	}
}

func TestResolveEmptyFrontier(t *testing.T) {
	_, err := newTestResolver(t, newMapSource()).Resolve(context.Background(), testRoom, nil)
	if !errors.Is(err, matrixerr.ErrRoomNotFound) {
		t.Fatalf("error = %v, want RoomNotFound", err)
	}
}

func TestStateMembers(t *testing.T) {
	source := newMapSource()
	create := source.create(t)
	alice := source.add(t, event.TypeMember, event.StateKey(testAlice.String()), map[string]any{"membership": "join"}, create)
	bob := source.add(t, event.TypeMember, event.StateKey(testBob.String()), map[string]any{"membership": "invite"}, alice)
	state := NewState(create, alice, bob)

	if got := state.Members(event.MembershipJoin); !slices.Equal(got, []ref.UserID{testAlice}) {
		t.Errorf("joined = %v", got)
	}
	if got := state.Members(event.MembershipJoin, event.MembershipInvite); !slices.Equal(got, []ref.UserID{testAlice, testBob}) {
		t.Errorf("joined or invited = %v", got)
	}
	if state.JoinRule() != event.JoinRuleInvite {
		t.Errorf("default join rule = %q, want invite", state.JoinRule())
	}

	leave := source.add(t, event.TypeMember, event.StateKey(testBob.String()), map[string]any{"membership": "leave"}, bob)
	after := state.With(leave)
	if after.Membership(testBob) != event.MembershipLeave {
		t.Errorf("after With: bob = %q", after.Membership(testBob))
	}
	if state.Membership(testBob) != event.MembershipInvite {
		t.Error("With modified the original state")
	}
}
