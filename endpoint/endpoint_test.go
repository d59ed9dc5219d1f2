// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package endpoint

import (
	"testing"

	"github.com/dtn7/dtn7-agent/bpv7"
)

type fakeDispatcher struct {
	nodeURI    string
	accurate   bool
	nowMillis  int64
	queued     []bpv7.Bundle
}

func (f *fakeDispatcher) NodeURI() string        { return f.nodeURI }
func (f *fakeDispatcher) NowMillis() int64       { return f.nowMillis }
func (f *fakeDispatcher) HasAccurateTime() bool  { return f.accurate }
func (f *fakeDispatcher) QueueLocalBundle(bndl bpv7.Bundle) string {
	f.queued = append(f.queued, bndl)
	return bndl.ID().String()
}

func TestBuildURI(t *testing.T) {
	cases := []struct {
		nodeURI, id, want string
	}{
		{"dtn://n1/", "incoming", "dtn://n1/incoming"},
		{"ipn://23", "42", "ipn://23.42"},
		{"ipn://23", "", "ipn://23"},
	}

	for _, c := range cases {
		got, err := BuildURI(c.nodeURI, c.id)
		if err != nil {
			t.Fatalf("BuildURI(%q, %q) errored: %v", c.nodeURI, c.id, err)
		}
		if got != c.want {
			t.Fatalf("BuildURI(%q, %q) = %q, want %q", c.nodeURI, c.id, got, c.want)
		}
	}
}

func TestRegistryDuplicateUnicastRejected(t *testing.T) {
	reg := NewRegistry()
	disp := &fakeDispatcher{nodeURI: "dtn://n1/", accurate: true}

	if _, err := reg.Register(disp, "dtn://n1/a", nil); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if _, err := reg.Register(disp, "dtn://n1/a", nil); err == nil {
		t.Fatalf("expected duplicate unicast registration to fail")
	}
}

func TestGroupRegistrationAllowsMultiple(t *testing.T) {
	reg := NewRegistry()
	disp := &fakeDispatcher{nodeURI: "dtn://n1/", accurate: true}

	if _, err := reg.RegisterGroup(disp, "dtn://n1/~news", nil); err != nil {
		t.Fatalf("first group registration failed: %v", err)
	}
	if _, err := reg.RegisterGroup(disp, "dtn://n1/~news", nil); err != nil {
		t.Fatalf("second group registration should be allowed: %v", err)
	}

	if got := len(reg.Receivers("dtn://n1/~news")); got != 2 {
		t.Fatalf("expected 2 receivers, got %d", got)
	}
}

func TestStartTransmissionAnonymous(t *testing.T) {
	reg := NewRegistry()
	disp := &fakeDispatcher{nodeURI: "dtn://n1/", accurate: true}

	l, err := reg.Register(disp, "dtn://n1/a", nil)
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	id, err := l.StartTransmission([]byte("hi"), "dtn://n1/b", 3600000, true)
	if err != nil {
		t.Fatalf("StartTransmission failed: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty bundle id")
	}

	if len(disp.queued) != 1 {
		t.Fatalf("expected exactly one queued bundle, got %d", len(disp.queued))
	}
	if got := disp.queued[0].PrimaryBlock.SourceNode; got != bpv7.DtnNone() {
		t.Fatalf("expected anonymous source dtn://none, got %v", got)
	}
}

func TestStartTransmissionClocklessSequenceIncrements(t *testing.T) {
	reg := NewRegistry()
	disp := &fakeDispatcher{nodeURI: "dtn://n1/", accurate: false}

	l, err := reg.Register(disp, "dtn://n1/a", nil)
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	if _, err := l.StartTransmission([]byte("one"), "dtn://n1/b", 3600000, false); err != nil {
		t.Fatalf("first transmission failed: %v", err)
	}
	if _, err := l.StartTransmission([]byte("two"), "dtn://n1/b", 3600000, false); err != nil {
		t.Fatalf("second transmission failed: %v", err)
	}

	seq0 := disp.queued[0].PrimaryBlock.CreationTimestamp.SequenceNumber()
	seq1 := disp.queued[1].PrimaryBlock.CreationTimestamp.SequenceNumber()
	if seq1 != seq0+1 {
		t.Fatalf("expected monotonically incrementing sequence numbers, got %d then %d", seq0, seq1)
	}
	if !disp.queued[0].PrimaryBlock.CreationTimestamp.IsZeroTime() {
		t.Fatalf("expected clock-less node to produce a zero creation time")
	}
}
