// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source of the homeserver.
//
// Components hold a [Clock] instead of calling time.Now or time.After.
// The daemon wires [Real]; tests wire [Fake] and move time by hand:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	server := homeserver.New(homeserver.Config{Clock: c, ...})
//	c.WaitForTimers(1)         // a sync is now parked on its timeout
//	c.Advance(30 * time.Second) // and returns empty
//
// A waiter's channel is buffered, so a waiter that was abandoned (the
// sync woke for a new event instead) never blocks Advance.
package clock
