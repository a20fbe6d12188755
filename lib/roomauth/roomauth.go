// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package roomauth

import (
	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
	"github.com/bureau-foundation/homeserver/lib/stateres"
)

// Candidate is the part of an event the rules inspect. It is satisfied
// by a fully built event.PDU, and also by an unbuilt proposal so
// callers can authorize before computing hashes.
type Candidate interface {
	Type() ref.EventType
	Sender() ref.UserID
	StateKey() *string
	Content() map[string]any
	Redacts() ref.EventID
}

// RedactionTargetSender looks up the sender of a redaction target.
// The target may be unknown; then ok is false.
type RedactionTargetSender func(eventID ref.EventID) (sender ref.UserID, ok bool)

// EffectivePowerLevels returns the room's power levels, or the implicit
// levels (creator 100, state_default 0) when the room has none.
func EffectivePowerLevels(state *stateres.State) (*event.PowerLevelsContent, error) {
	levels, err := state.PowerLevels()
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "resolved power levels")
	}
	if levels != nil {
		return levels, nil
	}
	create, err := state.CreateContent()
	if err != nil {
		return nil, matrixerr.Wrap(matrixerr.KindInternal, err, "resolved create event")
	}
	if create == nil {
		return nil, matrixerr.New(matrixerr.KindInternal, "resolved state has no create event")
	}
	return event.DefaultPowerLevels(create.Creator), nil
}

// Authorize checks a candidate against the resolved state, dispatching
// to CheckMembership for m.room.member events and CheckEvent for all
// others. targetSender resolves redaction targets and may be nil when
// the candidate is not a redaction.
func Authorize(candidate Candidate, state *stateres.State, targetSender RedactionTargetSender) error {
	if candidate.Type() == event.TypeCreate {
		return matrixerr.New(matrixerr.KindInvalidEvent, "a room has exactly one create event")
	}
	if candidate.Type() == event.TypeMember {
		return CheckMembership(candidate, state)
	}
	return CheckEvent(candidate, state, targetSender)
}

// CheckMembership applies the membership transition rules to an
// m.room.member candidate.
func CheckMembership(candidate Candidate, state *stateres.State) error {
	stateKey := candidate.StateKey()
	if stateKey == nil {
		return matrixerr.New(matrixerr.KindInvalidEvent, "member event has no state key")
	}
	target, err := ref.ParseUserID(*stateKey)
	if err != nil {
		return matrixerr.Wrap(matrixerr.KindInvalidEvent, err, "member event state key")
	}
	content, err := event.ParseContent(event.TypeMember, candidate.Content())
	if err != nil {
		return err
	}
	membership := content.(*event.MemberContent).Membership

	sender := candidate.Sender()
	senderMembership := state.Membership(sender)
	targetMembership := state.Membership(target)

	levels, err := EffectivePowerLevels(state)
	if err != nil {
		return err
	}
	senderLevel := levels.UserLevel(sender)

	switch membership {
	case event.MembershipJoin:
		if target != sender {
			return matrixerr.New(matrixerr.KindInvalidEvent, "%s cannot join on behalf of %s", sender, target)
		}
		switch targetMembership {
		case event.MembershipJoin, event.MembershipInvite:
			return nil
		case event.MembershipBan:
			return matrixerr.New(matrixerr.KindUserBanned, "%s is banned", target)
		}
		if state.JoinRule() == event.JoinRulePublic || creatorFirstJoin(state, target) {
			return nil
		}
		return matrixerr.New(matrixerr.KindUserNotInvited, "%s has not been invited", target)

	case event.MembershipLeave:
		if senderMembership != event.MembershipJoin {
			return matrixerr.New(matrixerr.KindUserNotInRoom, "%s is not in the room", sender)
		}
		if target == sender {
			return nil
		}
		if senderLevel < levels.Kick() {
			return matrixerr.New(matrixerr.KindInsufficientPowerLevel,
				"%s has power %d, kicking needs %d", sender, senderLevel, levels.Kick())
		}
		return nil

	case event.MembershipBan:
		if senderMembership != event.MembershipJoin {
			return matrixerr.New(matrixerr.KindUserNotInRoom, "%s is not in the room", sender)
		}
		if senderLevel < levels.Ban() {
			return matrixerr.New(matrixerr.KindInsufficientPowerLevel,
				"%s has power %d, banning needs %d", sender, senderLevel, levels.Ban())
		}
		return nil

	case event.MembershipInvite:
		if senderMembership != event.MembershipJoin {
			return matrixerr.New(matrixerr.KindUserNotInRoom, "%s is not in the room", sender)
		}
		if senderLevel < levels.Invite() {
			return matrixerr.New(matrixerr.KindInsufficientPowerLevel,
				"%s has power %d, inviting needs %d", sender, senderLevel, levels.Invite())
		}
		return nil

	case event.MembershipKnock:
		return matrixerr.New(matrixerr.KindUnimplemented, "knocking is not supported")
	}
	return matrixerr.New(matrixerr.KindInvalidEvent, "unknown membership %q", membership)
}

// creatorFirstJoin reports whether user is the creator of a room whose
// state is still only its create event.
func creatorFirstJoin(state *stateres.State, user ref.UserID) bool {
	if state.Len() != 1 {
		return false
	}
	create, err := state.CreateContent()
	return err == nil && create != nil && create.Creator == user
}

// CheckEvent applies the rules for non-member events: the sender must
// be joined and hold the event's required level. A redaction of
// another user's event also needs the redact level.
func CheckEvent(candidate Candidate, state *stateres.State, targetSender RedactionTargetSender) error {
	sender := candidate.Sender()
	if state.Membership(sender) != event.MembershipJoin {
		return matrixerr.New(matrixerr.KindUserNotInRoom, "%s is not in the room", sender)
	}

	levels, err := EffectivePowerLevels(state)
	if err != nil {
		return err
	}
	senderLevel := levels.UserLevel(sender)
	isState := candidate.StateKey() != nil
	required := levels.EventLevel(candidate.Type(), isState)
	if senderLevel < required {
		return matrixerr.New(matrixerr.KindInsufficientPowerLevel,
			"%s has power %d, %s needs %d", sender, senderLevel, candidate.Type(), required)
	}

	if candidate.Type() == event.TypeRedaction {
		target := candidate.Redacts()
		if target.IsZero() {
			return matrixerr.New(matrixerr.KindInvalidEvent, "redaction has no target event")
		}
		var original ref.UserID
		var known bool
		if targetSender != nil {
			original, known = targetSender(target)
		}
		if !known {
			return matrixerr.New(matrixerr.KindNotFound, "redaction target %s not found", target)
		}
		if original != sender && senderLevel < levels.Redact() {
			return matrixerr.New(matrixerr.KindInsufficientPowerLevel,
				"%s has power %d, redacting others needs %d", sender, senderLevel, levels.Redact())
		}
	}
	return nil
}

// SelectAuthEvents returns the IDs of the state events that authorize
// candidate: the create event; the power-levels event if present; the
// sender's member event if present; and, for member events, the
// target's member event and, for joins and invites, the join-rules
// event. The result has no duplicates and a fixed order.
func SelectAuthEvents(candidate Candidate, state *stateres.State) []ref.EventID {
	var result []ref.EventID
	seen := make(map[ref.EventID]bool)
	add := func(pdu event.PDU) {
		if pdu == nil || seen[pdu.EventID()] {
			return
		}
		seen[pdu.EventID()] = true
		result = append(result, pdu.EventID())
	}

	add(state.Create())
	add(state.Get(event.TypePowerLevels, ""))
	add(state.Get(event.TypeMember, candidate.Sender().String()))

	if candidate.Type() == event.TypeMember && candidate.StateKey() != nil {
		add(state.Get(event.TypeMember, *candidate.StateKey()))
		membership, _ := candidate.Content()["membership"].(string)
		if membership == string(event.MembershipJoin) || membership == string(event.MembershipInvite) {
			add(state.Get(event.TypeJoinRules, ""))
		}
	}
	return result
}
