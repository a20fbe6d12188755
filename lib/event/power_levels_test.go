// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "testing"

func TestExplicitPowerLevelDefaults(t *testing.T) {
	// An explicit but empty power-levels event uses the documented
	// defaults.
	levels := &PowerLevelsContent{}
	checks := []struct {
		name string
		got  int
		want int
	}{
		{"ban", levels.Ban(), 50},
		{"invite", levels.Invite(), 50},
		{"kick", levels.Kick(), 50},
		{"redact", levels.Redact(), 50},
		{"events_default", levels.EventsDefaultLevel(), 0},
		{"state_default", levels.StateDefaultLevel(), 50},
		{"users_default", levels.UsersDefaultLevel(), 0},
		{"user", levels.UserLevel(testAlice), 0},
		{"state event", levels.EventLevel(TypeTopic, true), 50},
		{"message event", levels.EventLevel(TypeMessage, false), 0},
	}
	for _, check := range checks {
		if check.got != check.want {
			t.Errorf("%s = %d, want %d", check.name, check.got, check.want)
		}
	}
}

func TestImplicitPowerLevels(t *testing.T) {
	levels := DefaultPowerLevels(testAlice)
	if got := levels.UserLevel(testAlice); got != 100 {
		t.Errorf("creator level = %d, want 100", got)
	}
	if got := levels.UserLevel(testBob); got != 0 {
		t.Errorf("other user level = %d, want 0", got)
	}
	if got := levels.EventLevel(TypeName, true); got != 0 {
		t.Errorf("state level = %d, want 0", got)
	}
	if got := levels.Ban(); got != 50 {
		t.Errorf("ban = %d, want 50", got)
	}
}

func TestPowerLevelOverrides(t *testing.T) {
	zero := 0
	levels := &PowerLevelsContent{UsersDefault: &zero, StateDefault: &zero}
	levels.SetUserLevel(testBob, 40)
	levels.SetEventLevel(TypeTopic, 60)
	levels.SetEventLevel(TypeMessage, 10)

	if got := levels.UserLevel(testBob); got != 40 {
		t.Errorf("bob = %d, want 40", got)
	}
	if got := levels.EventLevel(TypeTopic, true); got != 60 {
		t.Errorf("topic = %d, want 60", got)
	}
	if got := levels.EventLevel(TypeName, true); got != 0 {
		t.Errorf("name = %d, want explicit state_default 0", got)
	}
	if got := levels.EventLevel(TypeMessage, false); got != 10 {
		t.Errorf("message = %d, want 10", got)
	}
}
