// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import "fmt"

// BundleID uniquely identifies a Bundle by its source node's EndpointID and
// its CreationTimestamp, per RFC 9171 section 4.1's bundle-identity rule.
// Fragmentation is rejected outright by this agent (see PrimaryBlock.CheckValid),
// so unlike a fragment-aware identity this one never needs an offset/length.
type BundleID struct {
	SourceNode EndpointID
	Timestamp  CreationTimestamp
}

// String renders the canonical "source_uri-creation_time-sequence_number"
// form used as the map key throughout the store package.
func (id BundleID) String() string {
	return fmt.Sprintf("%s-%d-%d", id.SourceNode, id.Timestamp.DtnTime(), id.Timestamp.SequenceNumber())
}

// Less reports whether id is "older" than other under the store's eviction
// ordering: a zero-time (clock-less) CreationTimestamp ranks newer than any
// dated one, since a device lacking an accurate clock should keep its
// bundles around longer; among two dated or two undated IDs, the lower
// (time, sequence) pair wins.
func (id BundleID) Less(other BundleID) bool {
	idZero, otherZero := id.Timestamp.IsZeroTime(), other.Timestamp.IsZeroTime()
	switch {
	case idZero && !otherZero:
		return false
	case !idZero && otherZero:
		return true
	}

	if id.Timestamp.DtnTime() != other.Timestamp.DtnTime() {
		return id.Timestamp.DtnTime() < other.Timestamp.DtnTime()
	}
	return id.Timestamp.SequenceNumber() < other.Timestamp.SequenceNumber()
}
