// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dtn7/cboring"
)

const (
	ipnSchemeName string = "ipn"
	ipnSchemeNo   uint64 = 2
)

// IpnEndpoint is the "ipn" URI scheme's EndpointType.
//
// Unlike RFC 6260's two-element node.service tuple, this scheme allows an
// arbitrary number of dot-separated numeric parts: "ipn://23" addresses a
// node, "ipn://23.42" or "ipn://23.42.1" address a service endpoint on that
// node.
type IpnEndpoint struct {
	Parts []uint64
}

// NewIpnEndpoint parses an "ipn" scheme URI.
func NewIpnEndpoint(uri string) (e IpnEndpoint, err error) {
	if !IsCorrectEndpointURI(uri) && !IsCorrectNodeURI(uri) {
		err = fmt.Errorf("bpv7: %q is not a valid ipn endpoint URI", uri)
		return
	}

	rest := strings.TrimPrefix(uri, "ipn://")
	segments := strings.Split(rest, ".")

	parts := make([]uint64, 0, len(segments))
	for _, s := range segments {
		n, convErr := strconv.ParseUint(s, 10, 64)
		if convErr != nil {
			err = fmt.Errorf("bpv7: ipn part %q is not numeric: %w", s, convErr)
			return
		}
		parts = append(parts, n)
	}

	e = IpnEndpoint{Parts: parts}
	return
}

// SchemeName is "ipn" for IpnEndpoint.
func (IpnEndpoint) SchemeName() string { return ipnSchemeName }

// SchemeNo is 2 for IpnEndpoint.
func (IpnEndpoint) SchemeNo() uint64 { return ipnSchemeNo }

// Node returns the node number, the first dot-separated part.
func (e IpnEndpoint) Node() uint64 {
	if len(e.Parts) == 0 {
		return 0
	}
	return e.Parts[0]
}

// NodeURI returns the owning node's bare URI, e.g. "ipn://23" for
// "ipn://23.42".
func (e IpnEndpoint) NodeURI() string {
	return fmt.Sprintf("%s://%d", ipnSchemeName, e.Node())
}

// CheckValid returns an error for a malformed or empty ipn endpoint. The
// null endpoint "ipn://0.0" is the sole exception to the "parts must be
// >= 1" rule.
func (e IpnEndpoint) CheckValid() error {
	if len(e.Parts) == 0 {
		return fmt.Errorf("bpv7: ipn endpoint has no parts")
	}
	if e.isNone() {
		return nil
	}
	for _, p := range e.Parts {
		if p < 1 {
			return fmt.Errorf("bpv7: ipn endpoint parts must be >= 1")
		}
	}
	return nil
}

func (e IpnEndpoint) isNone() bool {
	return len(e.Parts) == 2 && e.Parts[0] == 0 && e.Parts[1] == 0
}

// IpnNone returns the ipn scheme's null endpoint "ipn://0.0", used as the
// anonymous source/report-to EndpointID on nodes whose own node URI uses
// the ipn scheme.
func IpnNone() EndpointID {
	return EndpointID{IpnEndpoint{Parts: []uint64{0, 0}}}
}

func (e IpnEndpoint) String() string {
	parts := make([]string, len(e.Parts))
	for i, p := range e.Parts {
		parts[i] = strconv.FormatUint(p, 10)
	}
	return fmt.Sprintf("%s://%s", ipnSchemeName, strings.Join(parts, "."))
}

// MarshalCbor writes this IpnEndpoint's CBOR representation: an array of its
// numeric parts.
func (e IpnEndpoint) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(uint64(len(e.Parts)), w); err != nil {
		return err
	}
	for _, p := range e.Parts {
		if err := cboring.WriteUInt(p, w); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalCbor reads an IpnEndpoint's CBOR representation.
func (e *IpnEndpoint) UnmarshalCbor(r io.Reader) error {
	n, err := cboring.ReadArrayLength(r)
	if err != nil {
		return err
	}

	e.Parts = make([]uint64, n)
	for i := range e.Parts {
		p, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		e.Parts[i] = p
	}
	return nil
}
