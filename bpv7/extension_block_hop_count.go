// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// HopCountBlock tracks how many times a bundle has been forwarded, and the
// limit after which it must be deleted.
//
// A bundle is deleted once Count reaches Limit (Count >= Limit), not only
// once it exceeds it: a bundle allowed at most 32 hops is dropped on its
// 32nd forwarding attempt, matching the reference agent's reception
// procedure rather than the stricter RFC 9171 wording of "exceeds".
type HopCountBlock struct {
	Limit uint8
	Count uint8
}

// NewHopCountBlock creates a HopCountBlock with the given limit and a
// starting count of zero.
func NewHopCountBlock(limit uint8) *HopCountBlock {
	return &HopCountBlock{Limit: limit}
}

// BlockTypeCode returns ExtBlockTypeHopCountBlock.
func (*HopCountBlock) BlockTypeCode() uint64 {
	return ExtBlockTypeHopCountBlock
}

// IsExceeded reports whether Count has reached or passed Limit.
func (hcb HopCountBlock) IsExceeded() bool {
	return hcb.Count >= hcb.Limit
}

// Increment bumps the hop counter and reports whether the limit is now
// reached or exceeded.
func (hcb *HopCountBlock) Increment() bool {
	hcb.Count++
	return hcb.IsExceeded()
}

// CheckValid always succeeds; limit enforcement happens during bundle
// reception, not block validation.
func (*HopCountBlock) CheckValid() error {
	return nil
}

// MarshalCbor writes this block's [limit, count] array.
func (hcb *HopCountBlock) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, f := range []uint8{hcb.Limit, hcb.Count} {
		if err := cboring.WriteUInt(uint64(f), w); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalCbor reads this block's [limit, count] array.
func (hcb *HopCountBlock) UnmarshalCbor(r io.Reader) error {
	l, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("expected array with length 2, got %d", l)
	}

	for _, f := range []*uint8{&hcb.Limit, &hcb.Count} {
		x, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		} else if x > 255 {
			return fmt.Errorf("hop count fields must fit a byte, not %d", x)
		}
		*f = uint8(x)
	}
	return nil
}
