// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"

	"github.com/dtn7/dtn7-agent/bpv7"
)

// Version is the IPND beacon format version this agent speaks.
const Version = 7

const (
	flagEID = 1 << iota
	flagServices
	flagPeriod
)

// unicastMarkerKey is the project-specific service-block map entry that
// suppresses bounceback during an asymmetric catch-up reply: key 42, value
// "unicast". It shares the service block with the (cla-identifier -> port)
// entries, so the block is a heterogeneous CBOR map rather than a uniform
// string-to-uint one.
const unicastMarkerKey = 42
const unicastMarkerValue = "unicast"

// Beacon is this node's periodic presence announcement: its EID, the CLAs
// it offers and their ports, and a sequence number neighbors use to detect
// gaps in reception.
//
// Wire layout is a definite-length CBOR array:
//
//	[version, flags, (eid_scheme, eid_specific)?, seq, services?, period?]
//
// Optional items are omitted entirely when their flag bit is clear; this
// encoder always writes them in the order above rather than leaning on the
// ambiguous type-dispatch decoding some implementations tolerate, since the
// flags already disambiguate presence unambiguously.
type Beacon struct {
	EID      bpv7.EndpointID
	HasEID   bool
	Sequence uint32

	// Services maps a CLA identifier to its advertised port.
	Services map[string]uint16
	// UnicastMarker, when set, adds the {42: "unicast"} entry to the wire
	// service block, suppressing a reply to this very beacon.
	UnicastMarker bool
	HasServices   bool

	PeriodMillis uint32
	HasPeriod    bool
}

func (b *Beacon) flags() uint64 {
	var f uint64
	if b.HasEID {
		f |= flagEID
	}
	if b.HasServices {
		f |= flagServices
	}
	if b.HasPeriod {
		f |= flagPeriod
	}
	return f
}

// MarshalCbor writes this Beacon's wire representation.
func (b *Beacon) MarshalCbor(w io.Writer) error {
	n := uint64(2)
	if b.HasEID {
		n++
	}
	n++ // sequence is mandatory
	if b.HasServices {
		n++
	}
	if b.HasPeriod {
		n++
	}

	if err := cboring.WriteArrayLength(n, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(Version, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(b.flags(), w); err != nil {
		return err
	}
	if b.HasEID {
		if err := cboring.Marshal(&b.EID, w); err != nil {
			return fmt.Errorf("discovery: marshalling beacon EID failed: %v", err)
		}
	}
	if err := cboring.WriteUInt(uint64(b.Sequence), w); err != nil {
		return err
	}
	if b.HasServices {
		pairs := uint64(len(b.Services))
		if b.UnicastMarker {
			pairs++
		}
		if err := cboring.WriteMapPairLength(pairs, w); err != nil {
			return err
		}
		for identifier, port := range b.Services {
			if err := cboring.WriteTextString(identifier, w); err != nil {
				return err
			}
			if err := cboring.WriteUInt(uint64(port), w); err != nil {
				return err
			}
		}
		if b.UnicastMarker {
			if err := cboring.WriteUInt(unicastMarkerKey, w); err != nil {
				return err
			}
			if err := cboring.WriteTextString(unicastMarkerValue, w); err != nil {
				return err
			}
		}
	}
	if b.HasPeriod {
		if err := cboring.WriteUInt(uint64(b.PeriodMillis), w); err != nil {
			return err
		}
	}

	return nil
}

// UnmarshalCbor reads a Beacon's wire representation.
func (b *Beacon) UnmarshalCbor(r io.Reader) error {
	l, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}

	if _, err := cboring.ReadUInt(r); err != nil {
		return fmt.Errorf("discovery: reading beacon version failed: %v", err)
	}

	flags, err := cboring.ReadUInt(r)
	if err != nil {
		return fmt.Errorf("discovery: reading beacon flags failed: %v", err)
	}
	remaining := l - 2

	b.HasEID = flags&flagEID != 0
	if b.HasEID {
		if err := cboring.Unmarshal(&b.EID, r); err != nil {
			return fmt.Errorf("discovery: unmarshalling beacon EID failed: %v", err)
		}
		remaining--
	}

	seq, err := cboring.ReadUInt(r)
	if err != nil {
		return fmt.Errorf("discovery: reading beacon sequence failed: %v", err)
	}
	b.Sequence = uint32(seq)
	remaining--

	b.HasServices = flags&flagServices != 0
	b.UnicastMarker = false
	if b.HasServices {
		pairs, err := cboring.ReadMapPairLength(r)
		if err != nil {
			return fmt.Errorf("discovery: reading beacon services failed: %v", err)
		}
		b.Services = make(map[string]uint16, pairs)

		for i := uint64(0); i < pairs; i++ {
			keyMajor, keyArg, err := cboring.ReadMajors(r)
			if err != nil {
				return fmt.Errorf("discovery: reading beacon service key failed: %v", err)
			}

			var keyStr string
			var keyUint uint64
			var keyIsUint bool
			switch keyMajor {
			case cboring.UInt:
				keyUint, keyIsUint = keyArg, true
			case cboring.TextString:
				raw, err := cboring.ReadRawBytes(keyArg, r)
				if err != nil {
					return err
				}
				keyStr = string(raw)
			default:
				return fmt.Errorf("discovery: unexpected service key major type 0x%x", keyMajor)
			}

			valMajor, valArg, err := cboring.ReadMajors(r)
			if err != nil {
				return fmt.Errorf("discovery: reading beacon service value failed: %v", err)
			}

			switch valMajor {
			case cboring.UInt:
				if keyIsUint {
					return fmt.Errorf("discovery: unexpected numeric service entry %d=%d", keyUint, valArg)
				}
				b.Services[keyStr] = uint16(valArg)
			case cboring.TextString:
				raw, err := cboring.ReadRawBytes(valArg, r)
				if err != nil {
					return err
				}
				if keyIsUint && keyUint == unicastMarkerKey && string(raw) == unicastMarkerValue {
					b.UnicastMarker = true
				}
			default:
				return fmt.Errorf("discovery: unexpected service value major type 0x%x", valMajor)
			}
		}
		remaining--
	}

	b.HasPeriod = flags&flagPeriod != 0
	if b.HasPeriod {
		period, err := cboring.ReadUInt(r)
		if err != nil {
			return fmt.Errorf("discovery: reading beacon period failed: %v", err)
		}
		b.PeriodMillis = uint32(period)
		remaining--
	}

	if remaining != 0 {
		return fmt.Errorf("discovery: beacon array length %d did not match its flags", l)
	}

	return nil
}
