// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

const (
	dtnSchemeName string = "dtn"
	dtnSchemeNo   uint64 = 1
	dtnNoneSsp    string = "none"
)

// DtnEndpoint is the "dtn" URI scheme's EndpointType, e.g. "dtn://node1/" or
// "dtn://node1/incoming".
//
// Unlike the RFC 6260-adjacent dtn:name form used elsewhere, this scheme
// requires the "//" authority separator: "dtn://node/" for a node URI,
// "dtn://node/demux" for a service endpoint, "dtn://none" for the null
// endpoint.
type DtnEndpoint struct {
	URI string
}

// NewDtnEndpoint parses a "dtn" scheme URI.
func NewDtnEndpoint(uri string) (e DtnEndpoint, err error) {
	if !IsCorrectEndpointURI(uri) {
		err = fmt.Errorf("bpv7: %q is not a valid dtn endpoint URI", uri)
		return
	}
	e = DtnEndpoint{URI: uri}
	return
}

// SchemeName is "dtn" for DtnEndpoint.
func (DtnEndpoint) SchemeName() string { return dtnSchemeName }

// SchemeNo is 1 for DtnEndpoint.
func (DtnEndpoint) SchemeNo() uint64 { return dtnSchemeNo }

// NodeURI returns the owning node's URI, e.g. "dtn://foo/" for
// "dtn://foo/bar".
func (e DtnEndpoint) NodeURI() string {
	if e.URI == dtnNodeNoneURI {
		return e.URI
	}
	for i := len("dtn://"); i < len(e.URI); i++ {
		if e.URI[i] == '/' {
			return e.URI[:i+1]
		}
	}
	return e.URI
}

const dtnNodeNoneURI = "dtn://" + dtnNoneSsp

// CheckValid returns an error for a malformed dtn endpoint URI.
func (e DtnEndpoint) CheckValid() error {
	if !IsCorrectEndpointURI(e.URI) {
		return fmt.Errorf("bpv7: %q is not a valid dtn endpoint URI", e.URI)
	}
	return nil
}

func (e DtnEndpoint) String() string {
	return e.URI
}

// MarshalCbor writes the CBOR representation of the dtn scheme-specific
// part: the unsigned integer 0 for dtn:none, or a text string otherwise.
func (e DtnEndpoint) MarshalCbor(w io.Writer) error {
	if e.URI == dtnNodeNoneURI {
		return cboring.WriteUInt(0, w)
	}
	return cboring.WriteTextString(e.URI[len("dtn://"):], w)
}

// UnmarshalCbor reads the CBOR representation of the dtn scheme-specific
// part.
func (e *DtnEndpoint) UnmarshalCbor(r io.Reader) error {
	m, n, err := cboring.ReadMajors(r)
	if err != nil {
		return err
	}

	switch m {
	case cboring.UInt:
		e.URI = dtnNodeNoneURI
	case cboring.TextString:
		raw, err := cboring.ReadRawBytes(n, r)
		if err != nil {
			return err
		}
		e.URI = "dtn://" + string(raw)
	default:
		e.URI = ""
		return fmt.Errorf("bpv7: DtnEndpoint: unexpected major type 0x%X", m)
	}
	return nil
}

// DtnNone returns the null endpoint "dtn://none".
func DtnNone() EndpointID {
	return EndpointID{DtnEndpoint{URI: dtnNodeNoneURI}}
}
