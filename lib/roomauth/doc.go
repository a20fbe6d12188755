// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomauth decides whether a candidate event may be appended
// to a room, given the room's resolved state.
//
// Every function here is a pure decision over (candidate, resolved
// state): nothing reads or writes storage, and membership is always
// derived from the resolved state, never from a separate table.
// Rejections are *matrixerr.Error values of the authorization class
// (UserNotInRoom, UserBanned, UserNotInvited, InsufficientPowerLevel,
// InvalidEvent), plus Unimplemented for knocking.
//
// Membership transitions for m.room.member events:
//
//	join    target must be the sender (else InvalidEvent); accepted when
//	        the prior membership is join or invite, rejected with
//	        UserBanned when banned, otherwise accepted only in a public
//	        room (else UserNotInvited)
//	leave   sender must be joined (else UserNotInRoom); leaving oneself
//	        needs no power, removing someone else needs the kick level
//	ban     sender must be joined and hold the ban level
//	invite  sender must be joined and hold the invite level
//	knock   unsupported
//
// Other events need a joined sender whose power level is at least the
// event's required level. Redacting another user's event additionally
// needs the redact level.
//
// When a room has no power-levels event, the implicit levels apply:
// the creator holds 100, everyone else 0, and state events need 0.
package roomauth
