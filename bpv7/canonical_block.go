// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dtn7/cboring"
	"github.com/hashicorp/go-multierror"
)

// CanonicalBlock represents a canonical bundle block as defined in RFC 9171
// section 4.2.3: a block number, processing control flags, an optional CRC,
// and the block-type-specific data (an ExtensionBlock).
type CanonicalBlock struct {
	BlockNumber       uint64
	BlockControlFlags BlockControlFlags
	CRCType           CRCType
	CRC               []byte
	Value             ExtensionBlock
}

// NewCanonicalBlock builds a CanonicalBlock from its number, control flags,
// and extension block value. No CRC is attached.
func NewCanonicalBlock(no uint64, bcf BlockControlFlags, value ExtensionBlock) CanonicalBlock {
	return CanonicalBlock{
		BlockNumber:       no,
		BlockControlFlags: bcf,
		CRCType:           CRCNo,
		Value:             value,
	}
}

// TypeCode returns the block type code of this block's ExtensionBlock.
func (cb CanonicalBlock) TypeCode() uint64 {
	return cb.Value.BlockTypeCode()
}

// HasCRC reports whether a CRC is attached to this block.
func (cb CanonicalBlock) HasCRC() bool {
	return cb.GetCRCType() != CRCNo
}

// GetCRCType returns this block's CRCType.
func (cb CanonicalBlock) GetCRCType() CRCType {
	return cb.CRCType
}

// SetCRCType sets this block's CRCType.
func (cb *CanonicalBlock) SetCRCType(crcType CRCType) {
	cb.CRCType = crcType
}

// MarshalCbor writes this CanonicalBlock's CBOR representation.
func (cb *CanonicalBlock) MarshalCbor(w io.Writer) error {
	var blockLen uint64 = 5
	if cb.HasCRC() {
		blockLen = 6
	}

	crcBuff := new(bytes.Buffer)
	if cb.HasCRC() {
		w = io.MultiWriter(w, crcBuff)
	}

	if err := cboring.WriteArrayLength(blockLen, w); err != nil {
		return err
	}

	fields := []uint64{cb.TypeCode(), cb.BlockNumber, uint64(cb.BlockControlFlags), uint64(cb.CRCType)}
	for _, f := range fields {
		if err := cboring.WriteUInt(f, w); err != nil {
			return err
		}
	}

	var valueBuff bytes.Buffer
	if err := writeExtensionBlockData(cb.Value, &valueBuff); err != nil {
		return fmt.Errorf("marshalling block-type-specific data failed: %v", err)
	}
	if err := cboring.WriteByteString(valueBuff.Bytes(), w); err != nil {
		return err
	}

	if cb.HasCRC() {
		crcVal, crcErr := calculateCRCBuff(crcBuff, cb.CRCType)
		if crcErr != nil {
			return crcErr
		}
		if err := cboring.WriteByteString(crcVal, w); err != nil {
			return err
		}
		cb.CRC = crcVal
	}

	return nil
}

// UnmarshalCbor reads this CanonicalBlock's CBOR representation.
func (cb *CanonicalBlock) UnmarshalCbor(r io.Reader) error {
	var blockLen uint64
	if bl, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if bl != 5 && bl != 6 {
		return fmt.Errorf("expected array with length 5 or 6, got %d", bl)
	} else {
		blockLen = bl
	}

	crcBuff := new(bytes.Buffer)
	if blockLen == 6 {
		if err := cboring.WriteArrayLength(blockLen, crcBuff); err != nil {
			return err
		}
		r = io.TeeReader(r, crcBuff)
	}

	blockType, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	if bn, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		cb.BlockNumber = bn
	}

	if bcf, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		cb.BlockControlFlags = BlockControlFlags(bcf)
	}

	if crcT, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		cb.CRCType = CRCType(crcT)
	}

	raw, err := cboring.ReadByteString(r)
	if err != nil {
		return err
	}
	value, err := readExtensionBlockData(blockType, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unmarshalling block type %d failed: %v", blockType, err)
	}
	cb.Value = value

	if blockLen == 6 {
		crcCalc, crcErr := calculateCRCBuff(crcBuff, cb.CRCType)
		if crcErr != nil {
			return crcErr
		}
		crcVal, err := cboring.ReadByteString(r)
		if err != nil {
			return err
		}
		if !bytes.Equal(crcCalc, crcVal) {
			return fmt.Errorf("invalid CRC value: %x instead of expected %x", crcVal, crcCalc)
		}
		cb.CRC = crcVal
	}

	return nil
}

// writeExtensionBlockData writes the inner CBOR encoding for an
// ExtensionBlock's data field. A PayloadBlock's data is its raw application
// data unit; every other extension block nests its own CBOR structure.
func writeExtensionBlockData(eb ExtensionBlock, w io.Writer) error {
	if pb, ok := eb.(*PayloadBlock); ok {
		_, err := w.Write(*pb)
		return err
	}
	return eb.MarshalCbor(w)
}

// readExtensionBlockData reconstructs an ExtensionBlock from the raw bytes of
// a CanonicalBlock's data field. Unrecognized block types are preserved as a
// GenericExtensionBlock so they can still be forwarded or discarded per
// their BlockControlFlags.
func readExtensionBlockData(blockType uint64, r *bytes.Reader) (ExtensionBlock, error) {
	switch blockType {
	case ExtBlockTypePayloadBlock:
		var pb PayloadBlock
		if err := pb.UnmarshalCbor(r); err != nil {
			return nil, err
		}
		return &pb, nil

	case ExtBlockTypePreviousNodeBlock:
		var pnb PreviousNodeBlock
		if err := pnb.UnmarshalCbor(r); err != nil {
			return nil, err
		}
		return &pnb, nil

	case ExtBlockTypeBundleAgeBlock:
		var bab BundleAgeBlock
		if err := bab.UnmarshalCbor(r); err != nil {
			return nil, err
		}
		return &bab, nil

	case ExtBlockTypeHopCountBlock:
		var hcb HopCountBlock
		if err := hcb.UnmarshalCbor(r); err != nil {
			return nil, err
		}
		return &hcb, nil

	default:
		g := &GenericExtensionBlock{typeCode: blockType}
		if err := g.UnmarshalCbor(r); err != nil {
			return nil, err
		}
		return g, nil
	}
}

// CheckValid returns an error for incorrect block data.
func (cb CanonicalBlock) CheckValid() (errs error) {
	if bcfErr := cb.BlockControlFlags.CheckValid(); bcfErr != nil {
		errs = multierror.Append(errs, bcfErr)
	}

	if extErr := cb.Value.CheckValid(); extErr != nil {
		errs = multierror.Append(errs, extErr)
	}

	if cb.Value.BlockTypeCode() == ExtBlockTypePayloadBlock && cb.BlockNumber != 1 {
		errs = multierror.Append(errs, fmt.Errorf(
			"CanonicalBlock: PayloadBlock's block number is %d, must be 1", cb.BlockNumber))
	}

	return
}

func (cb CanonicalBlock) String() string {
	var b strings.Builder

	_, _ = fmt.Fprintf(&b, "block type code: %d, ", cb.TypeCode())
	_, _ = fmt.Fprintf(&b, "block number: %d, ", cb.BlockNumber)
	_, _ = fmt.Fprintf(&b, "block processing control flags: %b, ", cb.BlockControlFlags)
	_, _ = fmt.Fprintf(&b, "crc type: %v, ", cb.CRCType)
	_, _ = fmt.Fprintf(&b, "data: %v", cb.Value)

	if cb.HasCRC() {
		_, _ = fmt.Fprintf(&b, ", crc: %x", cb.CRC)
	}

	return b.String()
}
