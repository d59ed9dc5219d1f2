// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import "time"

// Clock supplies the monotonic millisecond timebase every component in this
// module uses for timeouts, Bundle Age accounting, and retry scheduling.
//
// A Clock is always available, unlike wall-clock time: a node without an
// accurate real-time clock still has a monotonically increasing counter, and
// must fall back to the Bundle Age Block instead of the Creation Timestamp's
// DtnTime for expiry. See HasAccurateTime.
type Clock interface {
	// NowMillis returns a monotonically non-decreasing millisecond count.
	// It has no defined epoch; only differences between two calls are
	// meaningful.
	NowMillis() int64

	// HasAccurateTime reports whether this node also has wall-clock time
	// available, in which case bundles it creates get a non-zero
	// CreationTimestamp DtnTime instead of relying solely on the Bundle
	// Age extension block.
	HasAccurateTime() bool
}

// SystemClock is a Clock backed by wall-clock time. Its NowMillis follows
// the system clock and is therefore not monotonic: it jumps whenever the
// system time is adjusted.
type SystemClock struct{}

// NewSystemClock returns a Clock that reports accurate wall-clock time.
func NewSystemClock() SystemClock {
	return SystemClock{}
}

// NowMillis returns time.Now()'s Unix milliseconds.
func (SystemClock) NowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// HasAccurateTime always returns true for SystemClock.
func (SystemClock) HasAccurateTime() bool {
	return true
}

// ClocklessSystemClock is a Clock for nodes without a reliable real-time
// clock (e.g. a microcontroller that lost power), exercising the
// Creation-Timestamp-zero code path while still reporting a millisecond
// counter for timeouts.
type ClocklessSystemClock struct{}

// NewClocklessSystemClock returns a Clock reporting no accurate wall-clock
// time.
func NewClocklessSystemClock() ClocklessSystemClock {
	return ClocklessSystemClock{}
}

// NowMillis returns time.Now()'s Unix milliseconds, like
// SystemClock.NowMillis; it is not monotonic either.
func (ClocklessSystemClock) NowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// HasAccurateTime always returns false for ClocklessSystemClock.
func (ClocklessSystemClock) HasAccurateTime() bool {
	return false
}

// IsTimestampOlderThanTimeout reports whether the elapsed time since
// timestampMillis (as measured against nowMillis) exceeds timeoutMillis.
func IsTimestampOlderThanTimeout(timestampMillis, nowMillis, timeoutMillis int64) bool {
	return nowMillis-timestampMillis > timeoutMillis
}
