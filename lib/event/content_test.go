// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

func normalized(t *testing.T, content map[string]any) map[string]any {
	t.Helper()
	result, err := codec.NormalizeMap(content)
	if err != nil {
		t.Fatalf("NormalizeMap: %v", err)
	}
	return result
}

func TestParseContentKnownTypes(t *testing.T) {
	create, err := ParseContent(TypeCreate, normalized(t, map[string]any{
		"creator":      "@alice:test.local",
		"room_version": "4",
	}))
	if err != nil {
		t.Fatalf("ParseContent(create): %v", err)
	}
	createContent := create.(*CreateContent)
	if createContent.Creator != testAlice || createContent.Version() != RoomVersion4 {
		t.Errorf("create content = %+v", createContent)
	}

	member, err := ParseContent(TypeMember, normalized(t, map[string]any{
		"membership":  "join",
		"displayname": "Alice",
	}))
	if err != nil {
		t.Fatalf("ParseContent(member): %v", err)
	}
	if got := member.(*MemberContent); got.Membership != MembershipJoin || got.DisplayName != "Alice" {
		t.Errorf("member content = %+v", got)
	}

	// Numbers arrive as float64 from JSON and as integers from CBOR;
	// both decode into power levels.
	for _, level := range []any{float64(75), uint64(75), int64(75)} {
		levels, err := ParseContent(TypePowerLevels, map[string]any{
			"ban":   level,
			"users": map[string]any{"@alice:test.local": level},
		})
		if err != nil {
			t.Fatalf("ParseContent(power_levels, %T): %v", level, err)
		}
		powerLevels := levels.(*PowerLevelsContent)
		if powerLevels.Ban() != 75 || powerLevels.UserLevel(testAlice) != 75 {
			t.Errorf("%T: ban=%d alice=%d", level, powerLevels.Ban(), powerLevels.UserLevel(testAlice))
		}
	}

	custom, err := ParseContent("org.example.custom", map[string]any{"anything": true})
	if err != nil {
		t.Fatalf("ParseContent(custom): %v", err)
	}
	if custom.EventType() != "org.example.custom" {
		t.Errorf("custom EventType() = %q", custom.EventType())
	}
}

func TestParseContentRejectsMalformed(t *testing.T) {
	tests := []struct {
		name      string
		eventType ref.EventType
		content   map[string]any
	}{
		{"create without creator", TypeCreate, map[string]any{}},
		{"create with bad creator", TypeCreate, map[string]any{"creator": "alice"}},
		{"member without membership", TypeMember, map[string]any{}},
		{"member with unknown membership", TypeMember, map[string]any{"membership": "lurking"}},
		{"member with numeric membership", TypeMember, map[string]any{"membership": uint64(3)}},
		{"join rules unknown", TypeJoinRules, map[string]any{"join_rule": "sometimes"}},
		{"history visibility unknown", TypeHistoryVisibility, map[string]any{"history_visibility": "forever"}},
		{"guest access unknown", TypeGuestAccess, map[string]any{"guest_access": "maybe"}},
		{"power levels string level", TypePowerLevels, map[string]any{"ban": "high"}},
		{"power levels fractional level", TypePowerLevels, map[string]any{"ban": 50.5}},
		{"power levels fractional user level", TypePowerLevels, map[string]any{"users": map[string]any{"@alice:test.local": 99.9}}},
		{"power levels fractional event level", TypePowerLevels, map[string]any{"events": map[string]any{"m.room.name": 0.5}}},
		{"power levels infinite level", TypePowerLevels, map[string]any{"kick": math.Inf(1)}},
		{"name not a string", TypeName, map[string]any{"name": map[string]any{}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseContent(test.eventType, test.content)
			if !errors.Is(err, matrixerr.ErrInvalidEvent) {
				t.Fatalf("error = %v, want InvalidEvent", err)
			}
		})
	}
}

func TestParseContentAcceptsWholeFloatLevels(t *testing.T) {
	typed, err := ParseContent(TypePowerLevels, map[string]any{
		"ban":   float64(50),
		"users": map[string]any{"@alice:test.local": float64(100)},
	})
	if err != nil {
		t.Fatalf("ParseContent: %v", err)
	}
	levels := typed.(*PowerLevelsContent)
	if levels.BanLevel == nil || *levels.BanLevel != 50 {
		t.Errorf("ban = %v, want 50", levels.BanLevel)
	}
	if levels.Users["@alice:test.local"] != 100 {
		t.Errorf("users = %v, want alice at 100", levels.Users)
	}
}

func TestContentMapRoundTrip(t *testing.T) {
	levels := InitialPowerLevels(testAlice)
	levels.SetEventLevel(TypeName, 25)
	content, err := ContentMap(levels)
	if err != nil {
		t.Fatalf("ContentMap: %v", err)
	}
	if _, ok := content["ban"]; ok {
		t.Error("unset ban level was encoded")
	}
	parsed, err := ParseContent(TypePowerLevels, content)
	if err != nil {
		t.Fatalf("ParseContent: %v", err)
	}
	if !reflect.DeepEqual(parsed, levels) {
		t.Errorf("round trip:\n got %+v\nwant %+v", parsed, levels)
	}

	member := MustContentMap(&MemberContent{Membership: MembershipInvite})
	if !reflect.DeepEqual(member, map[string]any{"membership": "invite"}) {
		t.Errorf("member map = %#v", member)
	}
}

func TestRedactContent(t *testing.T) {
	tests := []struct {
		eventType ref.EventType
		content   map[string]any
		want      map[string]any
	}{
		{
			TypeCreate,
			map[string]any{"creator": "@a:b", "room_version": "4", "m.federate": false},
			map[string]any{"creator": "@a:b"},
		},
		{
			TypeMember,
			map[string]any{"membership": "join", "displayname": "A", "avatar_url": "mxc://x"},
			map[string]any{"membership": "join"},
		},
		{
			TypeJoinRules,
			map[string]any{"join_rule": "public", "extra": 1},
			map[string]any{"join_rule": "public"},
		},
		{
			TypeHistoryVisibility,
			map[string]any{"history_visibility": "shared", "extra": 1},
			map[string]any{"history_visibility": "shared"},
		},
		{
			TypePowerLevels,
			map[string]any{
				"ban": 1, "events": map[string]any{}, "events_default": 2, "kick": 3,
				"redact": 4, "state_default": 5, "users": map[string]any{}, "users_default": 6,
				"invite": 7, "notifications": map[string]any{"room": 50},
			},
			map[string]any{
				"ban": 1, "events": map[string]any{}, "events_default": 2, "kick": 3,
				"redact": 4, "state_default": 5, "users": map[string]any{}, "users_default": 6,
			},
		},
		{TypeGuestAccess, map[string]any{"guest_access": "can_join"}, map[string]any{}},
		{TypeName, map[string]any{"name": "Lobby"}, map[string]any{}},
		{TypeTopic, map[string]any{"topic": "chat"}, map[string]any{}},
		{TypeRedaction, map[string]any{"reason": "spam"}, map[string]any{}},
		{TypeMessage, map[string]any{"body": "hi"}, map[string]any{}},
	}
	for _, test := range tests {
		t.Run(string(test.eventType), func(t *testing.T) {
			got := RedactContent(test.eventType, test.content)
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("RedactContent = %#v, want %#v", got, test.want)
			}
		})
	}
}

func TestParseMembership(t *testing.T) {
	for _, membership := range AllMemberships {
		parsed, err := ParseMembership(string(membership))
		if err != nil || parsed != membership {
			t.Errorf("ParseMembership(%q) = %q, %v", membership, parsed, err)
		}
	}
	if _, err := ParseMembership("Join"); err == nil {
		t.Error("ParseMembership is case-insensitive")
	}
}
