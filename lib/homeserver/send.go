// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package homeserver

import (
	"context"
	"time"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/ref"
)

// SendMessage sends a timeline event. The transaction ID is recorded
// against the caller's access token first: a repeated (token, txnID)
// fails with TxnIDExists and sends nothing. If the event is then
// rejected the record is dropped, so a retry with the same ID can
// still succeed. A sent event carries the transaction ID in its
// unsigned data and clears the sender's typing notification.
func (s *Server) SendMessage(ctx context.Context, accessToken string, sender ref.UserID, roomID ref.RoomID, eventType ref.EventType, txnID string, content map[string]any) (event.PDU, error) {
	if eventType == "" {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "event type is required")
	}
	if txnID == "" {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "transaction ID is required")
	}
	first, err := s.store.RecordTransaction(ctx, accessToken, txnID)
	if err != nil {
		return nil, err
	}
	if !first {
		return nil, matrixerr.New(matrixerr.KindTxnIDExists, "transaction %q was already sent", txnID)
	}

	pdu, err := s.AddEvent(ctx, roomID, NewEvent{
		Sender:   sender,
		Type:     eventType,
		Content:  content,
		Unsigned: map[string]any{event.UnsignedTransactionID: txnID},
	})
	if err != nil {
		if forgetErr := s.store.ForgetTransaction(ctx, accessToken, txnID); forgetErr != nil {
			s.logger.Warn("releasing transaction ID after rejected send failed",
				"room_id", roomID,
				"txn_id", txnID,
				"error", forgetErr,
			)
		}
		return nil, err
	}
	if err := s.store.SetTyping(ctx, roomID, sender, false, 0); err != nil {
		s.logger.Warn("clearing typing after send failed",
			"room_id", roomID,
			"user_id", sender,
			"error", err,
		)
	}
	return pdu, nil
}

// SendStateEvent sets the (eventType, stateKey) state of roomID.
func (s *Server) SendStateEvent(ctx context.Context, sender ref.UserID, roomID ref.RoomID, eventType ref.EventType, stateKey string, content map[string]any) (event.PDU, error) {
	if eventType == "" {
		return nil, matrixerr.New(matrixerr.KindBadJSON, "event type is required")
	}
	return s.AddEvent(ctx, roomID, NewEvent{
		Sender:   sender,
		Type:     eventType,
		StateKey: event.StateKey(stateKey),
		Content:  content,
	})
}

// Redact redacts target in roomID. Redacting someone else's event
// needs the room's redact level.
func (s *Server) Redact(ctx context.Context, sender ref.UserID, roomID ref.RoomID, target ref.EventID, reason string) (event.PDU, error) {
	content := map[string]any{}
	if reason != "" {
		content["reason"] = reason
	}
	return s.AddEvent(ctx, roomID, NewEvent{
		Sender:  sender,
		Type:    event.TypeRedaction,
		Content: content,
		Redacts: target,
	})
}

// SetTyping marks caller as typing in roomID for timeout, or clears
// it. Users may only set their own typing state, and only in rooms
// they have joined. A non-positive timeout selects
// DefaultTypingTimeout.
func (s *Server) SetTyping(ctx context.Context, caller, target ref.UserID, roomID ref.RoomID, typing bool, timeout time.Duration) error {
	if caller != target {
		return matrixerr.New(matrixerr.KindForbidden, "%s cannot set the typing state of %s", caller, target)
	}
	state, err := s.resolveState(ctx, roomID)
	if err != nil {
		return err
	}
	if state.Membership(caller) != event.MembershipJoin {
		return matrixerr.New(matrixerr.KindForbidden, "%s is not in %s", caller, roomID)
	}
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return s.store.SetTyping(ctx, roomID, caller, typing, timeout)
}
