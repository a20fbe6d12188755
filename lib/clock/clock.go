// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source of the homeserver. Event timestamps, typing
// expiry, sync long-poll timeouts and client retry backoff all read it,
// so tests drive every one of them from a Fake.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OriginTS returns c's current time as an origin_server_ts value:
// milliseconds since the Unix epoch.
func OriginTS(c Clock) int64 {
	return c.Now().UnixMilli()
}
