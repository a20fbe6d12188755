// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import "github.com/bureau-foundation/homeserver/lib/ref"

// redactionAllowList names the content keys that survive redaction,
// per event type. Types not listed keep no content at all.
var redactionAllowList = map[ref.EventType][]string{
	TypeCreate:            {"creator"},
	TypeJoinRules:         {"join_rule"},
	TypeHistoryVisibility: {"history_visibility"},
	TypeMember:            {"membership"},
	TypePowerLevels: {
		"ban", "events", "events_default", "kick", "redact",
		"state_default", "users", "users_default",
	},
}

// RedactContent returns the redacted form of an event's content: a new
// map holding only the keys the event type's allow-list keeps. The
// input is not modified. Values are shared, not copied.
func RedactContent(eventType ref.EventType, content map[string]any) map[string]any {
	redacted := make(map[string]any)
	for _, key := range redactionAllowList[eventType] {
		if value, ok := content[key]; ok {
			redacted[key] = value
		}
	}
	return redacted
}
