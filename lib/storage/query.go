// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/json"
	"slices"

	"github.com/bureau-foundation/homeserver/lib/event"
	"github.com/bureau-foundation/homeserver/lib/matrixerr"
	"github.com/bureau-foundation/homeserver/lib/stateres"
)

// Window returns the index range [from, to) a query reads from a
// timeline of length total. Out-of-range bounds are clamped.
func Window(query Query, total int) (from, to int) {
	to = total
	if query.To > 0 && query.To < total {
		to = query.To
	}
	if query.Mode == Timeline {
		from = min(max(query.From, 0), to)
	}
	return from, to
}

// Filter applies a query's mode and filters to the events of its
// window, in timeline order. In State mode the newest event per
// (type, state key) is kept first and the filters run after, so a
// filter never surfaces a superseded state event.
func Filter(query Query, events []event.PDU) ([]event.PDU, error) {
	if query.Mode == State {
		events = DedupeState(events)
	}
	matcher, err := newMatcher(query)
	if err != nil {
		return nil, err
	}
	var result []event.PDU
	for _, pdu := range events {
		if matcher.match(pdu) {
			result = append(result, pdu)
		}
	}
	return result, nil
}

// Match reports whether a single event passes the query's sender,
// type, and JSON containment filters. Mode is not considered.
func Match(query Query, pdu event.PDU) (bool, error) {
	matcher, err := newMatcher(query)
	if err != nil {
		return false, err
	}
	return matcher.match(pdu), nil
}

// DedupeState keeps, per (type, state key), only the newest state
// event. Timeline events are dropped. Walks the input in reverse and
// reverses the survivors, so the result stays in insertion order.
func DedupeState(events []event.PDU) []event.PDU {
	seen := make(map[stateres.Key]bool)
	var kept []event.PDU
	for i := len(events) - 1; i >= 0; i-- {
		pdu := events[i]
		if !pdu.IsState() {
			continue
		}
		key := stateres.Key{Type: pdu.Type(), StateKey: event.StateKeyOf(pdu)}
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, pdu)
	}
	slices.Reverse(kept)
	return kept
}

type matcher struct {
	query  Query
	needle any
}

func newMatcher(query Query) (*matcher, error) {
	m := &matcher{query: query}
	if query.ContainsJSON != nil {
		needle, err := toJSONValue(query.ContainsJSON)
		if err != nil {
			return nil, matrixerr.Wrap(matrixerr.KindBadJSON, err, "contains_json filter")
		}
		m.needle = needle
	}
	return m, nil
}

func (m *matcher) match(pdu event.PDU) bool {
	if len(m.query.Senders) > 0 && !slices.Contains(m.query.Senders, pdu.Sender()) {
		return false
	}
	if slices.Contains(m.query.NotSenders, pdu.Sender()) {
		return false
	}
	if len(m.query.Types) > 0 && !slices.Contains(m.query.Types, pdu.Type()) {
		return false
	}
	if slices.Contains(m.query.NotTypes, pdu.Type()) {
		return false
	}
	if m.needle != nil {
		haystack, err := toJSONValue(pdu.ClientEvent())
		if err != nil {
			return false
		}
		if !ContainsJSON(haystack, m.needle) {
			return false
		}
	}
	return true
}

// toJSONValue converts v to its generic JSON form, so numbers compare
// as float64 regardless of how the caller built them.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// ContainsJSON reports whether needle is a JSON subset of haystack.
// Both are generic JSON values (maps, slices, float64, string, bool,
// nil). An object matches when every needle key is present and
// contains the needle's value. An array matches when every needle
// element is contained by some haystack element. Scalars compare by
// equality.
func ContainsJSON(haystack, needle any) bool {
	switch needle := needle.(type) {
	case map[string]any:
		object, ok := haystack.(map[string]any)
		if !ok {
			return false
		}
		for key, want := range needle {
			have, present := object[key]
			if !present || !ContainsJSON(have, want) {
				return false
			}
		}
		return true
	case []any:
		array, ok := haystack.([]any)
		if !ok {
			return false
		}
		for _, want := range needle {
			if !slices.ContainsFunc(array, func(have any) bool { return ContainsJSON(have, want) }) {
				return false
			}
		}
		return true
	default:
		return haystack == needle
	}
}
