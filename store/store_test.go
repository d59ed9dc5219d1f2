// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"net"
	"testing"

	"github.com/dtn7/dtn7-agent/bpv7"
)

func mustBundle(t *testing.T, source, dest string, ts bpv7.DtnTime, seq uint64) bpv7.Bundle {
	t.Helper()

	src := bpv7.MustNewEndpointID(source)
	dst := bpv7.MustNewEndpointID(dest)
	primary := bpv7.NewPrimaryBlock(bpv7.MustNotFragmented, dst, src, bpv7.NewCreationTimestamp(ts, seq), 3600000)

	payload := bpv7.NewCanonicalBlock(1, 0, bpv7.NewPayloadBlock([]byte("hi")))
	b := bpv7.MustNewBundle(primary, []bpv7.CanonicalBlock{payload})
	return b
}

func TestStoreSeenIdempotent(t *testing.T) {
	s := New(10, 10)
	b := mustBundle(t, "dtn://a/", "dtn://b/x", bpv7.DtnTimeNow(), 1)
	id := b.ID()

	addr := net.ParseIP("10.0.0.1")
	s.StoreSeen(id, addr)
	s.StoreSeen(id, nil)

	got, ok := s.GetSeen(id)
	if !ok || got == nil || !got.Equal(addr) {
		t.Fatalf("expected preserved address %v, got %v (ok=%v)", addr, got, ok)
	}
}

func TestSeenEviction(t *testing.T) {
	s := New(10, 2)

	b1 := mustBundle(t, "dtn://a/", "dtn://b/x", 100, 0)
	b2 := mustBundle(t, "dtn://a/", "dtn://b/x", 200, 0)
	b3 := mustBundle(t, "dtn://a/", "dtn://b/x", 300, 0)

	s.StoreSeen(b1.ID(), nil)
	s.StoreSeen(b2.ID(), nil)
	s.StoreSeen(b3.ID(), nil)

	if s.WasSeen(b1.ID()) {
		t.Fatalf("expected oldest bundle-id to be evicted from the seen-set")
	}
	if !s.WasSeen(b2.ID()) || !s.WasSeen(b3.ID()) {
		t.Fatalf("expected the two newer bundle-ids to remain")
	}
}

func TestUndatedRanksNewerForEviction(t *testing.T) {
	s := New(10, 2)

	dated := mustBundle(t, "dtn://a/", "dtn://b/x", 100, 0)
	undated := mustBundle(t, "dtn://a/", "dtn://b/x", bpv7.DtnTimeZero, 0)
	newer := mustBundle(t, "dtn://a/", "dtn://b/x", 200, 0)

	s.StoreSeen(undated.ID(), nil)
	s.StoreSeen(dated.ID(), nil)
	s.StoreSeen(newer.ID(), nil)

	if s.WasSeen(dated.ID()) {
		t.Fatalf("expected the dated (older-ranked) bundle-id to be evicted, not the clock-less one")
	}
	if !s.WasSeen(undated.ID()) {
		t.Fatalf("expected the clock-less bundle-id to survive eviction")
	}
}

func TestStoreEvictionGCBeforeReceptionOrder(t *testing.T) {
	s := New(2, 10)

	b1 := mustBundle(t, "dtn://a/", "dtn://c/x", 100, 0)
	b2 := mustBundle(t, "dtn://a/", "dtn://c/x", 200, 0)
	b3 := mustBundle(t, "dtn://a/", "dtn://c/x", 300, 0)

	bi1 := &BundleInformation{Bundle: b1, Retention: NoConstraint, ReceivedAtMillis: 1}
	bi2 := &BundleInformation{Bundle: b2, Retention: ForwardPending, ReceivedAtMillis: 2}

	if ok, evicted := s.DelayBundle(bi1); !ok || len(evicted) != 0 {
		t.Fatalf("unexpected state after first delay: ok=%v evicted=%v", ok, evicted)
	}
	if ok, evicted := s.DelayBundle(bi2); !ok || len(evicted) != 0 {
		t.Fatalf("unexpected state after second delay: ok=%v evicted=%v", ok, evicted)
	}

	bi3 := &BundleInformation{Bundle: b3, Retention: ForwardPending, ReceivedAtMillis: 3}
	ok, evicted := s.DelayBundle(bi3)
	if !ok {
		t.Fatalf("expected delay to succeed via GC eviction")
	}
	if len(evicted) != 1 || evicted[0].ID() != bi1.ID() {
		t.Fatalf("expected the no-constraint bundle to be GC'd first, got %+v", evicted)
	}

	if _, stillThere := s.RemoveBundle(bi2.ID()); !stillThere {
		t.Fatalf("expected the forward-pending bundle to survive GC eviction")
	}
}

func TestRemoveBundleFalseyOnMiss(t *testing.T) {
	s := New(10, 10)
	b := mustBundle(t, "dtn://a/", "dtn://b/x", 1, 0)

	if _, ok := s.RemoveBundle(b.ID()); ok {
		t.Fatalf("expected RemoveBundle to report failure for an unknown id")
	}
}
