// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"io"

	"github.com/dtn7/cboring"
)

// Block type codes for the extension blocks this agent understands. Sorted
// ascending to avoid accidental double use.
const (
	// ExtBlockTypePayloadBlock is the Payload Block's type code.
	ExtBlockTypePayloadBlock uint64 = 1

	// ExtBlockTypePreviousNodeBlock is the Previous Node Block's type code.
	ExtBlockTypePreviousNodeBlock uint64 = 6

	// ExtBlockTypeBundleAgeBlock is the Bundle Age Block's type code.
	ExtBlockTypeBundleAgeBlock uint64 = 7

	// ExtBlockTypeHopCountBlock is the Hop Count Block's type code.
	ExtBlockTypeHopCountBlock uint64 = 10
)

// ExtensionBlock is the block-type specific payload of a CanonicalBlock.
type ExtensionBlock interface {
	Valid
	cboring.CborMarshaler

	// BlockTypeCode returns this extension block's constant type code.
	BlockTypeCode() uint64
}

// GenericExtensionBlock carries the raw bytes of an extension block whose
// type code this agent does not recognize, so it can still be preserved,
// forwarded, or discarded per its BlockControlFlags.
type GenericExtensionBlock struct {
	typeCode uint64
	Data     []byte
}

// BlockTypeCode returns the original, possibly unrecognized, type code.
func (g *GenericExtensionBlock) BlockTypeCode() uint64 {
	return g.typeCode
}

// CheckValid always succeeds; an unrecognized block's contents cannot be
// validated by this agent.
func (*GenericExtensionBlock) CheckValid() error {
	return nil
}

// MarshalCbor writes back the original bytes unmodified. The CanonicalBlock
// wraps this in the outer CBOR byte string, so no framing happens here.
func (g *GenericExtensionBlock) MarshalCbor(w io.Writer) error {
	_, err := w.Write(g.Data)
	return err
}

// UnmarshalCbor reads the remaining raw bytes of an unrecognized block. The
// CanonicalBlock has already unwrapped the outer CBOR byte string.
func (g *GenericExtensionBlock) UnmarshalCbor(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	g.Data = data
	return nil
}
