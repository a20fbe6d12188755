// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"

	"github.com/bureau-foundation/homeserver/lib/codec"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// Content is the closed set of typed event content views. Every
// implementation lives in this package.
type Content interface {
	// EventType returns the event type this content belongs to.
	EventType() ref.EventType
}

// CreateContent is the content of m.room.create.
type CreateContent struct {
	Creator     ref.UserID  `json:"creator"`
	RoomVersion RoomVersion `json:"room_version,omitempty"`
	Federate    *bool       `json:"m.federate,omitempty"`
}

func (*CreateContent) EventType() ref.EventType { return TypeCreate }

// Version returns the room version named by the create event. Absent
// means version "1", which this server does not support.
func (c *CreateContent) Version() RoomVersion {
	if c.RoomVersion == "" {
		return "1"
	}
	return c.RoomVersion
}

// MemberContent is the content of m.room.member.
type MemberContent struct {
	Membership  Membership `json:"membership"`
	DisplayName string     `json:"displayname,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	IsDirect    bool       `json:"is_direct,omitempty"`
}

func (*MemberContent) EventType() ref.EventType { return TypeMember }

// JoinRulesContent is the content of m.room.join_rules.
type JoinRulesContent struct {
	JoinRule JoinRule `json:"join_rule"`
}

func (*JoinRulesContent) EventType() ref.EventType { return TypeJoinRules }

// HistoryVisibilityContent is the content of m.room.history_visibility.
type HistoryVisibilityContent struct {
	HistoryVisibility HistoryVisibility `json:"history_visibility"`
}

func (*HistoryVisibilityContent) EventType() ref.EventType { return TypeHistoryVisibility }

// GuestAccessContent is the content of m.room.guest_access.
type GuestAccessContent struct {
	GuestAccess GuestAccess `json:"guest_access"`
}

func (*GuestAccessContent) EventType() ref.EventType { return TypeGuestAccess }

// NameContent is the content of m.room.name.
type NameContent struct {
	Name string `json:"name"`
}

func (*NameContent) EventType() ref.EventType { return TypeName }

// TopicContent is the content of m.room.topic.
type TopicContent struct {
	Topic string `json:"topic"`
}

func (*TopicContent) EventType() ref.EventType { return TypeTopic }

// RedactionContent is the content of m.room.redaction. The target
// event is the PDU's top-level redacts field, not part of the content.
type RedactionContent struct {
	Reason string `json:"reason,omitempty"`
}

func (*RedactionContent) EventType() ref.EventType { return TypeRedaction }

// CustomContent is the content of any event type the server does not
// interpret. Fields is the raw normalized content.
type CustomContent struct {
	Type   ref.EventType
	Fields map[string]any
}

func (c *CustomContent) EventType() ref.EventType { return c.Type }

// decodeContent decodes a loose content map into a typed struct using
// the struct's json tags. Identifier fields decode through their
// UnmarshalText methods, so an invalid user ID fails here, and integer
// fields reject fractional numbers.
func decodeContent(input map[string]any, output any) error {
	config := &mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			integralNumberHook,
		),
		Metadata:   nil,
		Result:     output,
		TagName:    "json",
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// integralNumberHook refuses to truncate a float into an integer
// field: mapstructure alone would turn a power level of 50.5 into 50.
func integralNumberHook(from, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return data, nil
	}
	var value float64
	switch number := data.(type) {
	case float64:
		value = number
	case float32:
		value = float64(number)
	default:
		return data, nil
	}
	if value != math.Trunc(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("%v is not an integer", value)
	}
	if value < math.MinInt64 || value >= math.MaxInt64 {
		return nil, fmt.Errorf("%v is out of range", value)
	}
	return data, nil
}

// ParseContent returns the typed view of an event's content. Known
// types are decoded and validated; any other type yields a
// *CustomContent wrapping the map. Malformed known content fails with
// a matrixerr InvalidEvent error.
func ParseContent(eventType ref.EventType, content map[string]any) (Content, error) {
	var typed Content
	switch eventType {
	case TypeCreate:
		typed = &CreateContent{}
	case TypeMember:
		typed = &MemberContent{}
	case TypePowerLevels:
		typed = &PowerLevelsContent{}
	case TypeJoinRules:
		typed = &JoinRulesContent{}
	case TypeHistoryVisibility:
		typed = &HistoryVisibilityContent{}
	case TypeGuestAccess:
		typed = &GuestAccessContent{}
	case TypeName:
		typed = &NameContent{}
	case TypeTopic:
		typed = &TopicContent{}
	case TypeRedaction:
		typed = &RedactionContent{}
	default:
		return &CustomContent{Type: eventType, Fields: content}, nil
	}

	if err := decodeContent(content, typed); err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInvalidEvent, err, fmt.Sprintf("%s content", eventType))
	}
	if err := validateContent(typed); err != nil {
		return nil, matrixerr.New(matrixerr.KindInvalidEvent, "%s content: %v", eventType, err)
	}
	return typed, nil
}

func validateContent(content Content) error {
	switch typed := content.(type) {
	case *CreateContent:
		if typed.Creator.IsZero() {
			return fmt.Errorf("missing creator")
		}
	case *MemberContent:
		if _, err := ParseMembership(string(typed.Membership)); err != nil {
			return err
		}
	case *JoinRulesContent:
		if !typed.JoinRule.valid() {
			return fmt.Errorf("unknown join rule %q", typed.JoinRule)
		}
	case *HistoryVisibilityContent:
		if !typed.HistoryVisibility.valid() {
			return fmt.Errorf("unknown history visibility %q", typed.HistoryVisibility)
		}
	case *GuestAccessContent:
		if !typed.GuestAccess.valid() {
			return fmt.Errorf("unknown guest access %q", typed.GuestAccess)
		}
	}
	return nil
}

// ContentMap converts a typed content view back to its normalized map
// form, suitable for Proto.Content.
func ContentMap(content Content) (map[string]any, error) {
	if custom, ok := content.(*CustomContent); ok {
		return codec.NormalizeMap(custom.Fields)
	}
	data, err := codec.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding %s content: %w", content.EventType(), err)
	}
	var result map[string]any
	if err := codec.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding %s content: %w", content.EventType(), err)
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// MustContentMap is like ContentMap but panics on error. The typed
// views in this package always encode, so this is safe for them.
func MustContentMap(content Content) map[string]any {
	result, err := ContentMap(content)
	if err != nil {
		panic(fmt.Sprintf("event.MustContentMap: %v", err))
	}
	return result
}
