// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"time"

	"github.com/dtn7/cboring"
)

// DtnTime is an integer indicating an interval of Unix epoch time that has
// elapsed since the start of the year 2000 on the UTC scale, as specified in
// RFC 9171 section 4.1.7. A DtnTime of zero has a special meaning: it marks
// a bundle created by a node without an accurate clock, see CreationTimestamp.
type DtnTime uint64

const (
	secondsUnixToDtnEpoch = 946684800

	// DtnTimeZero is the special zero value meaning "no accurate clock".
	DtnTimeZero DtnTime = 0
)

// Unix returns the Unix timestamp for this DtnTime.
func (t DtnTime) Unix() int64 {
	return int64(t) + secondsUnixToDtnEpoch
}

// Time returns a UTC time.Time for this DtnTime.
func (t DtnTime) Time() time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}

func (t DtnTime) String() string {
	if t == DtnTimeZero {
		return "no-accurate-clock"
	}
	return t.Time().Format("2006-01-02 15:04:05")
}

// DtnTimeFromTime converts a time.Time into a DtnTime.
func DtnTimeFromTime(t time.Time) DtnTime {
	return DtnTime(t.UTC().Unix() - secondsUnixToDtnEpoch)
}

// DtnTimeNow returns the current wall-clock time as a DtnTime. Callers
// without an accurate clock must use DtnTimeZero instead, see
// Clock.HasAccurateTime.
func DtnTimeNow() DtnTime {
	return DtnTimeFromTime(time.Now())
}

// CreationTimestamp pairs a DtnTime with a sequence number disambiguating
// multiple bundles created by the same source within the same DtnTime second,
// per RFC 9171 section 4.1.7.
//
// A zero DtnTime means the creating node has no accurate clock; such
// bundles are ranked as preferentially newer during eviction rather than
// older, see the store package's eviction ordering.
type CreationTimestamp [2]uint64

// NewCreationTimestamp builds a CreationTimestamp from a DtnTime and a
// sequence number.
func NewCreationTimestamp(t DtnTime, sequence uint64) CreationTimestamp {
	return CreationTimestamp{uint64(t), sequence}
}

// DtnTime returns the timestamp's time part.
func (ct CreationTimestamp) DtnTime() DtnTime {
	return DtnTime(ct[0])
}

// IsZeroTime reports whether the time part indicates the lack of an
// accurate clock.
func (ct CreationTimestamp) IsZeroTime() bool {
	return ct.DtnTime() == DtnTimeZero
}

// SequenceNumber returns the timestamp's sequence number.
func (ct CreationTimestamp) SequenceNumber() uint64 {
	return ct[1]
}

func (ct CreationTimestamp) String() string {
	return fmt.Sprintf("(%v, %d)", ct.DtnTime(), ct.SequenceNumber())
}

// MarshalCbor writes this CreationTimestamp's CBOR representation.
func (ct *CreationTimestamp) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, f := range ct {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalCbor reads a CreationTimestamp's CBOR representation.
func (ct *CreationTimestamp) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("expected array with length 2, got %d", l)
	}

	for i := 0; i < 2; i++ {
		if f, err := cboring.ReadUInt(r); err != nil {
			return err
		} else {
			ct[i] = f
		}
	}
	return nil
}
