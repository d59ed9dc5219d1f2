// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import "io"

// PreviousNodeBlock carries the EndpointID of the node that forwarded this
// bundle most recently, used by the Forwarding Failed procedure to send a
// bundle back the way it came.
type PreviousNodeBlock EndpointID

// NewPreviousNodeBlock wraps an EndpointID in a PreviousNodeBlock.
func NewPreviousNodeBlock(prev EndpointID) *PreviousNodeBlock {
	pnb := PreviousNodeBlock(prev)
	return &pnb
}

// BlockTypeCode returns ExtBlockTypePreviousNodeBlock.
func (*PreviousNodeBlock) BlockTypeCode() uint64 {
	return ExtBlockTypePreviousNodeBlock
}

// Endpoint returns the wrapped EndpointID.
func (pnb *PreviousNodeBlock) Endpoint() EndpointID {
	return EndpointID(*pnb)
}

// CheckValid delegates to the wrapped EndpointID.
func (pnb *PreviousNodeBlock) CheckValid() error {
	eid := EndpointID(*pnb)
	return eid.CheckValid()
}

// MarshalCbor writes this block's EndpointID.
func (pnb *PreviousNodeBlock) MarshalCbor(w io.Writer) error {
	eid := EndpointID(*pnb)
	return eid.MarshalCbor(w)
}

// UnmarshalCbor reads this block's EndpointID.
func (pnb *PreviousNodeBlock) UnmarshalCbor(r io.Reader) error {
	var eid EndpointID
	if err := eid.UnmarshalCbor(r); err != nil {
		return err
	}
	*pnb = PreviousNodeBlock(eid)
	return nil
}
