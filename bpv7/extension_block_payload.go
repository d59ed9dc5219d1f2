// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import "io"

// PayloadBlock carries a bundle's application data unit.
type PayloadBlock []byte

// NewPayloadBlock wraps data in a PayloadBlock.
func NewPayloadBlock(data []byte) *PayloadBlock {
	pb := PayloadBlock(data)
	return &pb
}

// BlockTypeCode returns ExtBlockTypePayloadBlock.
func (*PayloadBlock) BlockTypeCode() uint64 {
	return ExtBlockTypePayloadBlock
}

// Data returns the payload bytes.
func (pb *PayloadBlock) Data() []byte {
	return *pb
}

// CheckValid always succeeds; any byte sequence is a valid payload.
func (*PayloadBlock) CheckValid() error {
	return nil
}

// MarshalCbor writes the raw payload bytes. The CanonicalBlock wraps this in
// the outer CBOR byte string.
func (pb *PayloadBlock) MarshalCbor(w io.Writer) error {
	_, err := w.Write(*pb)
	return err
}

// UnmarshalCbor reads the remaining raw bytes as the payload. The
// CanonicalBlock has already unwrapped the outer CBOR byte string.
func (pb *PayloadBlock) UnmarshalCbor(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	*pb = data
	return nil
}
