// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpa

import (
	"testing"

	"github.com/dtn7/dtn7-agent/bpv7"
	"github.com/dtn7/dtn7-agent/router"
	"github.com/dtn7/dtn7-agent/store"
)

func newTestBPA(t *testing.T, nodeURI string, clock bpv7.Clock) *BPA {
	t.Helper()

	st := store.New(10, 10)
	rt := router.NewEpidemic(bpv7.MustNewEndpointID(nodeURI), st, router.Config{MinNodesToForward: 0})

	b, err := New(Config{NodeURI: nodeURI, Clock: clock, Store: st, Router: rt})
	if err != nil {
		t.Fatalf("failed to create BPA: %v", err)
	}
	return b
}

func tick(b *BPA, n int) {
	for i := 0; i < n; i++ {
		b.Update()
	}
}

func TestLocalLoopback(t *testing.T) {
	b := newTestBPA(t, "dtn://n1/", bpv7.NewSystemClock())

	a, err := b.RegisterEndpoint("dtn://n1/a", nil)
	if err != nil {
		t.Fatalf("failed to register endpoint a: %v", err)
	}
	bEp, err := b.RegisterEndpoint("dtn://n1/b", nil)
	if err != nil {
		t.Fatalf("failed to register endpoint b: %v", err)
	}

	if _, err := a.StartTransmission([]byte("hi"), "dtn://n1/b", 3600000, false); err != nil {
		t.Fatalf("StartTransmission failed: %v", err)
	}

	tick(b, 3)

	bndl, ok := bEp.Poll()
	if !ok {
		t.Fatalf("expected b to have received a bundle")
	}

	payload, err := bndl.PayloadBlock()
	if err != nil {
		t.Fatalf("delivered bundle has no payload block: %v", err)
	}
	if got := string(payload.Value.(*bpv7.PayloadBlock).Data()); got != "hi" {
		t.Fatalf("expected payload %q, got %q", "hi", got)
	}
	if bndl.PrimaryBlock.SourceNode.String() != "dtn://n1/a" {
		t.Fatalf("expected source dtn://n1/a, got %v", bndl.PrimaryBlock.SourceNode)
	}
}

func TestHopLimitExceeded(t *testing.T) {
	b := newTestBPA(t, "dtn://n1/", bpv7.NewSystemClock())

	src := bpv7.MustNewEndpointID("dtn://n1/")
	dst := bpv7.MustNewEndpointID("dtn://elsewhere/x")
	primary := bpv7.NewPrimaryBlock(bpv7.MustNotFragmented, dst, src, bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 0), 3600000)

	bndl := bpv7.MustNewBundle(primary, []bpv7.CanonicalBlock{
		bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock([]byte("x"))),
	})
	hc := bpv7.NewHopCountBlock(1)
	hc.Count = 1
	bndl.AddExtensionBlock(bpv7.NewCanonicalBlock(0, 0, hc))

	b.bundleReception(bndl, nil)

	if _, ok := b.store.RemoveBundle(bndl.ID()); ok {
		t.Fatalf("expected a hop-limit-exceeded bundle to never enter the store")
	}
}

func TestLifetimeExpiredClockless(t *testing.T) {
	b := newTestBPA(t, "dtn://n1/", bpv7.NewClocklessSystemClock())

	src := bpv7.MustNewEndpointID("dtn://n1/")
	dst := bpv7.MustNewEndpointID("dtn://elsewhere/x")
	primary := bpv7.NewPrimaryBlock(bpv7.MustNotFragmented, dst, src, bpv7.NewCreationTimestamp(bpv7.DtnTimeZero, 0), 1000)

	bndl := bpv7.MustNewBundle(primary, []bpv7.CanonicalBlock{
		bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock([]byte("x"))),
	})
	age := bpv7.NewBundleAgeBlock(5000)
	bndl.AddExtensionBlock(bpv7.NewCanonicalBlock(0, 0, age))

	b.bundleReception(bndl, nil)

	if _, ok := b.store.RemoveBundle(bndl.ID()); ok {
		t.Fatalf("expected a lifetime-expired clock-less bundle to never enter the store")
	}
}

func TestCancelTransmission(t *testing.T) {
	b := newTestBPA(t, "dtn://n1/", bpv7.NewSystemClock())

	src := bpv7.MustNewEndpointID("dtn://n1/")
	dst := bpv7.MustNewEndpointID("dtn://elsewhere/x")
	primary := bpv7.NewPrimaryBlock(bpv7.MustNotFragmented, dst, src, bpv7.NewCreationTimestamp(bpv7.DtnTimeNow(), 0), 3600000)
	bndl := bpv7.MustNewBundle(primary, []bpv7.CanonicalBlock{
		bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock([]byte("x"))),
	})

	bi := &store.BundleInformation{Bundle: bndl, Retention: store.ForwardPending, ReceivedAtMillis: 0}
	if ok, _ := b.store.DelayBundle(bi); !ok {
		t.Fatalf("failed to seed store with a delayed bundle")
	}

	if !b.CancelTransmission(bndl.ID()) {
		t.Fatalf("expected cancellation of a stored bundle to succeed")
	}
	if b.CancelTransmission(bndl.ID()) {
		t.Fatalf("expected a second cancellation of the same id to report failure")
	}
}
