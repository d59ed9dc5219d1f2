// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"io"

	"github.com/dtn7/cboring"
)

// BundleAgeBlock tracks a bundle's age in milliseconds since creation, as an
// alternative to the Creation Timestamp's DtnTime for nodes without an
// accurate clock.
type BundleAgeBlock uint64

// NewBundleAgeBlock creates a BundleAgeBlock starting at the given age in
// milliseconds.
func NewBundleAgeBlock(ageMillis uint64) *BundleAgeBlock {
	bab := BundleAgeBlock(ageMillis)
	return &bab
}

// BlockTypeCode returns ExtBlockTypeBundleAgeBlock.
func (*BundleAgeBlock) BlockTypeCode() uint64 {
	return ExtBlockTypeBundleAgeBlock
}

// Age returns the current age in milliseconds.
func (bab *BundleAgeBlock) Age() uint64 {
	return uint64(*bab)
}

// IncrementBy advances the age by offsetMillis and returns the new value.
func (bab *BundleAgeBlock) IncrementBy(offsetMillis uint64) uint64 {
	*bab += BundleAgeBlock(offsetMillis)
	return uint64(*bab)
}

// CheckValid always succeeds; any age value is structurally valid.
func (*BundleAgeBlock) CheckValid() error {
	return nil
}

// MarshalCbor writes this block's age as a CBOR unsigned integer.
func (bab *BundleAgeBlock) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(uint64(*bab), w)
}

// UnmarshalCbor reads this block's age from a CBOR unsigned integer.
func (bab *BundleAgeBlock) UnmarshalCbor(r io.Reader) error {
	age, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}
	*bab = BundleAgeBlock(age)
	return nil
}
