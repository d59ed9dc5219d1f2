// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"reflect"
	"regexp"

	"github.com/dtn7/cboring"
)

// EndpointType is a concrete URI scheme's representation of an EndpointID,
// e.g. DtnEndpoint or IpnEndpoint.
type EndpointType interface {
	// SchemeName is the static URI scheme name, e.g. "dtn" or "ipn".
	SchemeName() string

	// SchemeNo is the static URI scheme type number, e.g. 1 for "dtn".
	SchemeNo() uint64

	// NodeURI returns this endpoint's node-only URI, e.g. "dtn://foo/" for
	// "dtn://foo/bar".
	NodeURI() string

	MarshalCbor(io.Writer) error

	Valid
	fmt.Stringer
}

var (
	schemeTypes = map[uint64]reflect.Type{
		dtnSchemeNo: reflect.TypeOf(DtnEndpoint{}),
		ipnSchemeNo: reflect.TypeOf(IpnEndpoint{}),
	}
	schemeNames = map[string]uint64{
		dtnSchemeName: dtnSchemeNo,
		ipnSchemeName: ipnSchemeNo,
	}
)

var schemeRegexp = regexp.MustCompile(`^([[:alnum:]]+)://`)

// EndpointID represents an Endpoint ID as defined in RFC 9171 section 4.1.5.1.
type EndpointID struct {
	EndpointType EndpointType
}

// NewEndpointID parses a full endpoint URI, e.g. "dtn://seven/incoming" or
// "ipn://23.42".
func NewEndpointID(uri string) (eid EndpointID, err error) {
	matches := schemeRegexp.FindStringSubmatch(uri)
	if matches == nil {
		err = fmt.Errorf("bpv7: %q does not look like a scheme://authority URI", uri)
		return
	}

	switch matches[1] {
	case dtnSchemeName:
		var e DtnEndpoint
		e, err = NewDtnEndpoint(uri)
		eid = EndpointID{e}
	case ipnSchemeName:
		var e IpnEndpoint
		e, err = NewIpnEndpoint(uri)
		eid = EndpointID{e}
	default:
		err = fmt.Errorf("bpv7: no endpoint scheme registered for %q", matches[1])
	}
	return
}

// MustNewEndpointID parses a URI like NewEndpointID, panicking on error. Only
// meant for literals known to be valid at compile time.
func MustNewEndpointID(uri string) EndpointID {
	eid, err := NewEndpointID(uri)
	if err != nil {
		panic(err)
	}
	return eid
}

// NodeURI returns the URI of the node owning this endpoint, e.g. "dtn://foo/"
// for the endpoint "dtn://foo/bar".
func (eid EndpointID) NodeURI() string {
	return eid.EndpointType.NodeURI()
}

// SameNode reports whether both endpoints belong to the same node.
func (eid EndpointID) SameNode(other EndpointID) bool {
	return eid.EndpointType.SchemeName() == other.EndpointType.SchemeName() &&
		eid.NodeURI() == other.NodeURI()
}

// CheckValid returns an error for an invalid endpoint URI.
func (eid EndpointID) CheckValid() error {
	if eid.EndpointType == nil {
		return fmt.Errorf("bpv7: EndpointID has no EndpointType")
	}
	return eid.EndpointType.CheckValid()
}

func (eid EndpointID) String() string {
	if eid.EndpointType == nil {
		return DtnNone().String()
	}
	return eid.EndpointType.String()
}

// MarshalCbor writes this EndpointID's CBOR representation: a 2-element
// array of [scheme number, scheme-specific part].
func (eid *EndpointID) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(eid.EndpointType.SchemeNo(), w); err != nil {
		return err
	}
	return eid.EndpointType.MarshalCbor(w)
}

// UnmarshalCbor reads this EndpointID's CBOR representation.
func (eid *EndpointID) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 2 {
		return fmt.Errorf("bpv7: EndpointID expects an array of 2 elements, not %d", l)
	}

	scheme, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	t, ok := schemeTypes[scheme]
	if !ok {
		return fmt.Errorf("bpv7: no endpoint scheme registered for number %d", scheme)
	}

	tmp := reflect.New(t)
	res := tmp.MethodByName("UnmarshalCbor").Call([]reflect.Value{reflect.ValueOf(r)})
	if errIface := res[0].Interface(); errIface != nil {
		return errIface.(error)
	}

	eid.EndpointType = tmp.Elem().Interface().(EndpointType)
	return nil
}
