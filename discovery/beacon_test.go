// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/dtn7/dtn7-agent/bpv7"
)

func TestBeaconCborRoundTrip(t *testing.T) {
	tests := []Beacon{
		{
			EID:      bpv7.MustNewEndpointID("dtn://foobar/"),
			HasEID:   true,
			Sequence: 5,
		},
		{
			EID:         bpv7.MustNewEndpointID("dtn://foobar/"),
			HasEID:      true,
			Sequence:    23,
			Services:    map[string]uint16{"mtcp": 16162, "udpbcast": 7000},
			HasServices: true,
		},
		{
			EID:           bpv7.MustNewEndpointID("ipn://1337.23"),
			HasEID:        true,
			Sequence:      0,
			Services:      map[string]uint16{"mtcp": 16162},
			UnicastMarker: true,
			HasServices:   true,
		},
		{
			Sequence:     42,
			PeriodMillis: 10000,
			HasPeriod:    true,
		},
	}

	for i, in := range tests {
		buf := new(bytes.Buffer)
		if err := in.MarshalCbor(buf); err != nil {
			t.Fatalf("case %d: marshal failed: %v", i, err)
		}

		var out Beacon
		if err := out.UnmarshalCbor(bytes.NewReader(buf.Bytes())); err != nil {
			t.Fatalf("case %d: unmarshal failed: %v", i, err)
		}

		if !reflect.DeepEqual(in, out) {
			t.Fatalf("case %d: round trip mismatch: %+v became %+v", i, in, out)
		}
	}
}

func TestBeaconUnicastMarkerSharesServiceMap(t *testing.T) {
	b := Beacon{
		Sequence:      1,
		Services:      map[string]uint16{"mtcp": 16162},
		UnicastMarker: true,
		HasServices:   true,
	}

	buf := new(bytes.Buffer)
	if err := b.MarshalCbor(buf); err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out Beacon
	if err := out.UnmarshalCbor(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if !out.UnicastMarker {
		t.Fatal("unicast marker lost on round trip")
	}
	if out.Services["mtcp"] != 16162 {
		t.Fatalf("mtcp service lost: %v", out.Services)
	}
}
